// services/reward_service.go
package services

import (
	"errors"
	"log"
	"time"

	"spot-discovery-system/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RewardService manages the sponsor reward catalog. Methods are Fiber
// handlers registered by the redemption routes; the redemption protocol
// itself lives in RedemptionService.
type RewardService struct {
	DB *gorm.DB
}

func NewRewardService(db *gorm.DB) *RewardService {
	return &RewardService{DB: db}
}

// --- Admin Handlers ---

// CreateSponsor registers a sponsor account (Admin only)
func (s *RewardService) CreateSponsor(c *fiber.Ctx) error {
	var req struct {
		Name            string `json:"name"`
		OwnerID         string `json:"owner_id"`
		QRExpiryMinutes int    `json:"qr_expiry_minutes"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Name == "" || req.OwnerID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name and owner_id are required"})
	}
	if req.QRExpiryMinutes <= 0 {
		req.QRExpiryMinutes = 5
	}

	sponsor := &models.Sponsor{
		ID:              uuid.NewString(),
		Name:            req.Name,
		OwnerID:         req.OwnerID,
		QRExpiryMinutes: req.QRExpiryMinutes,
	}
	if err := s.DB.Create(sponsor).Error; err != nil {
		log.Printf("DB Error creating sponsor: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create sponsor"})
	}

	return c.Status(fiber.StatusCreated).JSON(sponsor)
}

// CreateReward creates a new sponsor reward (Admin only)
func (s *RewardService) CreateReward(c *fiber.Ctx) error {
	var req struct {
		SponsorID      string     `json:"sponsor_id"`
		Title          string     `json:"title"`
		Description    string     `json:"description"`
		ImageURL       string     `json:"image_url"`
		XPCost         int64      `json:"xp_cost"`
		ExpiresAt      *time.Time `json:"expires_at"`
		MaxRedemptions int        `json:"max_redemptions"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if req.Title == "" || req.SponsorID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "title and sponsor_id are required"})
	}
	if req.XPCost <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "xp_cost must be positive"})
	}

	var sponsor models.Sponsor
	if err := s.DB.First(&sponsor, "id = ?", req.SponsorID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Sponsor not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	reward := &models.Reward{
		ID:             uuid.NewString(),
		SponsorID:      req.SponsorID,
		Title:          req.Title,
		Description:    req.Description,
		ImageURL:       req.ImageURL,
		XPCost:         req.XPCost,
		Active:         true,
		ExpiresAt:      req.ExpiresAt,
		MaxRedemptions: req.MaxRedemptions,
	}
	if err := s.DB.Create(reward).Error; err != nil {
		log.Printf("DB Error creating reward: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to create reward"})
	}

	return c.Status(fiber.StatusCreated).JSON(reward)
}

// UpdateReward updates an existing reward (Admin only)
func (s *RewardService) UpdateReward(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid reward ID"})
	}

	var existingReward models.Reward
	if err := s.DB.First(&existingReward, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Reward not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}

	var req struct {
		Title          *string    `json:"title"`
		Description    *string    `json:"description"`
		ImageURL       *string    `json:"image_url"`
		XPCost         *int64     `json:"xp_cost"`
		Active         *bool      `json:"active"`
		ExpiresAt      *time.Time `json:"expires_at"`
		MaxRedemptions *int       `json:"max_redemptions"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	// Apply updates if provided
	if req.Title != nil {
		existingReward.Title = *req.Title
	}
	if req.Description != nil {
		existingReward.Description = *req.Description
	}
	if req.ImageURL != nil {
		existingReward.ImageURL = *req.ImageURL
	}
	if req.XPCost != nil {
		if *req.XPCost <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "xp_cost must be positive"})
		}
		existingReward.XPCost = *req.XPCost
	}
	if req.Active != nil {
		existingReward.Active = *req.Active
	}
	if req.ExpiresAt != nil {
		existingReward.ExpiresAt = req.ExpiresAt
	}
	if req.MaxRedemptions != nil {
		existingReward.MaxRedemptions = *req.MaxRedemptions
	}

	if err := s.DB.Save(&existingReward).Error; err != nil {
		log.Printf("DB Error updating reward: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update reward"})
	}

	return c.JSON(existingReward)
}

// --- User Handlers ---

// ListActiveRewards returns the redeemable catalog, cheapest first.
func (s *RewardService) ListActiveRewards(c *fiber.Ctx) error {
	now := time.Now()
	var rewards []models.Reward
	if err := s.DB.
		Where("active = ?", true).
		Where("(expires_at IS NULL OR expires_at >= ?)", now).
		Where("(max_redemptions = 0 OR redemption_count < max_redemptions)").
		Order("xp_cost ASC").
		Find(&rewards).Error; err != nil {
		log.Printf("DB Error fetching rewards: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch rewards"})
	}

	return c.JSON(rewards)
}

// GetUserRedemptions lists the authenticated user's redemptions.
func (s *RewardService) GetUserRedemptions(c *fiber.Ctx) error {
	userID := c.Locals("user_id").(string)

	var redemptions []models.Redemption
	if err := s.DB.Where("user_id = ?", userID).
		Order("redeemed_at DESC").
		Find(&redemptions).Error; err != nil {
		log.Printf("DB Error fetching redemptions: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch redemptions"})
	}

	return c.JSON(redemptions)
}
