// handlers/redemption_routes.go
package handlers

import (
	"errors"

	"spot-discovery-system/middleware"
	"spot-discovery-system/models"
	"spot-discovery-system/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

func SetupRedemptionRoutes(app *fiber.App, redemption *services.RedemptionService, rewards *services.RewardService) {
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Get("/rewards", rewards.ListActiveRewards)
	securedGroup.Get("/user/redemptions", rewards.GetUserRedemptions)

	// Path variant for clients that scanned nothing and just tap a reward.
	securedGroup.Post("/rewards/:id/redeem", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		r, err := redemption.RedeemReward(userID, c.Params("id"))
		if err != nil {
			return respondErr(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(r)
	})

	securedGroup.Post("/redemptions/redeem", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			Code string `json:"code"`
		}
		if err := c.BodyParser(&req); err != nil || req.Code == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "code is required"})
		}

		r, err := redemption.RedeemReward(userID, req.Code)
		if err != nil {
			return respondErr(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(r)
	})

	// Sponsor-side endpoints. The caller must operate the sponsor account.
	securedGroup.Post("/sponsor/:id/qr", func(c *fiber.Ctx) error {
		if err := requireSponsorOwner(c, redemption, c.Params("id")); err != nil {
			return respondErr(c, err)
		}
		qr, err := redemption.IssueSponsorQR(c.Params("id"))
		if err != nil {
			return respondErr(c, err)
		}
		return c.JSON(qr)
	})

	securedGroup.Post("/sponsor/:id/qr/rotate", func(c *fiber.Ctx) error {
		if err := requireSponsorOwner(c, redemption, c.Params("id")); err != nil {
			return respondErr(c, err)
		}
		version, err := redemption.RotateSponsorSecret(c.Params("id"))
		if err != nil {
			return respondErr(c, err)
		}
		return c.JSON(fiber.Map{"version": version})
	})

	securedGroup.Post("/sponsor/redemptions/validate", func(c *fiber.Ctx) error {
		validatorID := c.Locals("user_id").(string)

		var req struct {
			Code string `json:"code"`
		}
		if err := c.BodyParser(&req); err != nil || req.Code == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "code is required"})
		}

		r, err := redemption.ValidateRedemption(validatorID, req.Code)
		if err != nil {
			return respondErr(c, err)
		}
		return c.JSON(fiber.Map{"message": "Redemption validated", "redemption": r})
	})

	adminGroup := securedGroup.Group("/admin", middleware.RequireAdmin())
	adminGroup.Post("/sponsors", rewards.CreateSponsor)
	adminGroup.Post("/rewards", rewards.CreateReward)
	adminGroup.Put("/rewards/:id", rewards.UpdateReward)
}

// requireSponsorOwner rejects callers that neither operate the sponsor
// account nor hold the admin role.
func requireSponsorOwner(c *fiber.Ctx, redemption *services.RedemptionService, sponsorID string) error {
	if middleware.IsAdmin(c) {
		return nil
	}
	userID := c.Locals("user_id").(string)

	var sponsor models.Sponsor
	if err := redemption.DB.Where("id = ?", sponsorID).First(&sponsor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.ErrNotFound
		}
		return err
	}
	if sponsor.OwnerID != userID {
		return models.ErrPermissionDenied
	}
	return nil
}
