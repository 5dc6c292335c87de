// handlers/spot_routes.go
package handlers

import (
	"errors"
	"log"
	"time"

	"spot-discovery-system/middleware"
	"spot-discovery-system/models"
	"spot-discovery-system/services"
	"spot-discovery-system/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func SetupSpotRoutes(app *fiber.App, verification *services.VerificationService, economy *services.EconomyService) {
	securedGroup := app.Group("/", middleware.UserContextMiddleware())

	// Submit a new spot. The photo is optional multipart; everything else
	// comes as form/JSON fields. The spot is scored synchronously so the
	// client gets the verification outcome in the response.
	securedGroup.Post("/spots", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)

		var req struct {
			Title         string     `json:"title" form:"title"`
			Description   string     `json:"description" form:"description"`
			Category      string     `json:"category" form:"category"`
			Latitude      float64    `json:"latitude" form:"latitude"`
			Longitude     float64    `json:"longitude" form:"longitude"`
			GPSAccuracyM  float64    `json:"gps_accuracy_m" form:"gps_accuracy_m"`
			MockLocation  bool       `json:"mock_location" form:"mock_location"`
			ExifTakenAt   *time.Time `json:"exif_taken_at" form:"exif_taken_at"`
			ExifLatitude  *float64   `json:"exif_latitude" form:"exif_latitude"`
			ExifLongitude *float64   `json:"exif_longitude" form:"exif_longitude"`
		}
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}

		if req.Title == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "title is required"})
		}
		if req.Latitude < -90 || req.Latitude > 90 || req.Longitude < -180 || req.Longitude > 180 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid coordinates"})
		}

		if _, err := economy.EnsureUser(userID); err != nil {
			return respondErr(c, err)
		}

		spot := models.Spot{
			ID:            uuid.NewString(),
			CreatorID:     userID,
			Title:         req.Title,
			Description:   req.Description,
			Category:      models.SpotCategory(req.Category),
			Latitude:      req.Latitude,
			Longitude:     req.Longitude,
			GPSAccuracyM:  req.GPSAccuracyM,
			MockLocation:  req.MockLocation,
			ExifTakenAt:   req.ExifTakenAt,
			ExifLatitude:  req.ExifLatitude,
			ExifLongitude: req.ExifLongitude,
			XPReward:      services.DefaultXPRules[services.ActionSpotApproved].Amount,
		}

		if fileHeader, err := c.FormFile("photo"); err == nil && fileHeader != nil {
			url, hash, err := utils.UploadSpotPhoto(fileHeader)
			if err != nil {
				log.Printf("Photo upload failed for user %s: %v", userID, err)
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to store photo"})
			}
			spot.PhotoURL = url
			spot.PhotoHash = hash
		}

		if err := verification.DB.Create(&spot).Error; err != nil {
			log.Printf("DB Error creating spot: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create spot"})
		}

		result, err := verification.VerifySpot(spot.ID)
		if err != nil {
			// The sweep worker will retry scoring; the submission itself
			// succeeded.
			log.Printf("Verification failed for spot %s: %v", spot.ID, err)
			return c.Status(fiber.StatusCreated).JSON(fiber.Map{
				"spot_id":      spot.ID,
				"verification": fiber.Map{"status": models.VerificationPending, "reasons": []string{services.ReasonVerificationError}},
			})
		}

		return c.Status(fiber.StatusCreated).JSON(fiber.Map{
			"spot_id":      spot.ID,
			"verification": result,
		})
	})

	securedGroup.Get("/spots/:id", func(c *fiber.Ctx) error {
		id := c.Params("id")
		if _, err := uuid.Parse(id); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid spot ID"})
		}

		var spot models.Spot
		if err := verification.DB.Where("id = ?", id).First(&spot).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Spot not found"})
			}
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}

		return c.JSON(spot)
	})

	// Moderation transitions (admin)
	adminGroup := securedGroup.Group("/admin", middleware.RequireAdmin())

	adminGroup.Post("/spots/:id/approve", func(c *fiber.Ctx) error {
		moderatorID := c.Locals("user_id").(string)
		if err := verification.ApproveSpot(c.Params("id"), moderatorID); err != nil {
			return respondErr(c, err)
		}
		return c.JSON(fiber.Map{"message": "Spot approved"})
	})

	adminGroup.Post("/spots/:id/reject", func(c *fiber.Ctx) error {
		moderatorID := c.Locals("user_id").(string)
		var req struct {
			Reason string `json:"reason"`
		}
		if err := c.BodyParser(&req); err != nil || req.Reason == "" {
			req.Reason = "rejected by moderation"
		}
		if err := verification.RejectSpot(c.Params("id"), moderatorID, req.Reason); err != nil {
			return respondErr(c, err)
		}
		return c.JSON(fiber.Map{"message": "Spot rejected"})
	})
}
