// handlers/report_routes.go
package handlers

import (
	"spot-discovery-system/middleware"
	"spot-discovery-system/models"
	"spot-discovery-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func SetupReportRoutes(app *fiber.App, reports *services.ReportService) {
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	securedGroup.Post("/spots/:id/report", func(c *fiber.Ctx) error {
		reporterID := c.Locals("user_id").(string)
		spotID := c.Params("id")
		if _, err := uuid.Parse(spotID); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid spot ID"})
		}

		var req struct {
			Reason  models.ReportReason `json:"reason"`
			Details string              `json:"details"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if req.Reason == "" {
			req.Reason = models.ReportReasonOther
		}

		report, err := reports.SubmitReport(spotID, reporterID, req.Reason, req.Details)
		if err != nil {
			return respondErr(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(report)
	})

	adminGroup := securedGroup.Group("/admin", middleware.RequireAdmin())

	adminGroup.Get("/reports", func(c *fiber.Ctx) error {
		status := c.Query("status", string(models.ReportOpen))

		var list []models.SpotReport
		if err := reports.DB.Where("status = ?", status).
			Order("created_at ASC").
			Limit(100).
			Find(&list).Error; err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		return c.JSON(list)
	})

	adminGroup.Post("/reports/:id/resolve", func(c *fiber.Ctx) error {
		moderatorID := c.Locals("user_id").(string)

		var req struct {
			Uphold bool `json:"uphold"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		if err := reports.ResolveReport(c.Params("id"), moderatorID, req.Uphold); err != nil {
			return respondErr(c, err)
		}
		return c.JSON(fiber.Map{"message": "Report settled"})
	})
}
