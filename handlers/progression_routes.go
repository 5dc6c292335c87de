// handlers/progression_routes.go
package handlers

import (
	"strconv"

	"spot-discovery-system/middleware"
	"spot-discovery-system/services"

	"github.com/gofiber/fiber/v2"
)

func SetupProgressionRoutes(app *fiber.App, economy *services.EconomyService, badges *services.BadgeService) {
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/user/progress", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		user, err := economy.EnsureUser(userID)
		if err != nil {
			return respondErr(c, err)
		}

		unlocked, err := badges.GetUserBadges(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to fetch badges",
				"cause": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"id":                  user.ID,
			"xp":                  user.XPPoints,
			"xp_pending":          user.XPPending,
			"level":               user.Level,
			"trust_score":         user.TrustScore,
			"spot_submissions":    user.SpotSubmissions,
			"spot_approved_count": user.SpotApprovedCount,
			"badges":              unlocked,
		})
	})

	securedGroup.Get("/user/progress/ledger", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		limit, _ := strconv.Atoi(c.Query("limit", "20"))
		offset, _ := strconv.Atoi(c.Query("offset", "0"))

		entries, err := economy.GetLedger(userID, limit, offset)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "failed to fetch ledger",
				"cause": err.Error(),
			})
		}

		return c.JSON(fiber.Map{
			"entries": entries,
			"limit":   limit,
			"offset":  offset,
		})
	})

	adminGroup := securedGroup.Group("/admin", middleware.RequireAdmin())

	// Privileged XP correction; the resulting balance is clamped at zero.
	adminGroup.Post("/users/:id/xp", func(c *fiber.Ctx) error {
		actorID := c.Locals("user_id").(string)

		var req struct {
			Delta  int64  `json:"delta"`
			Reason string `json:"reason"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if req.Delta == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "delta must be non-zero"})
		}
		if req.Reason == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "reason is required"})
		}

		result, err := economy.AdjustXP(c.Params("id"), req.Delta, req.Reason, actorID)
		if err != nil {
			return respondErr(c, err)
		}
		return c.JSON(result)
	})
}
