// services/badge.go
package services

import (
	"errors"
	"fmt"
	"log"

	"spot-discovery-system/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type BadgeService struct {
	DB       *gorm.DB
	Notifier Notifier
}

func NewBadgeService(db *gorm.DB, notifier Notifier) *BadgeService {
	return &BadgeService{DB: db, Notifier: notifier}
}

// SeedDefinitions inserts the default badge catalog (idempotent by code).
func (s *BadgeService) SeedDefinitions() error {
	for _, def := range models.DefaultBadges {
		var count int64
		if err := s.DB.Model(&models.BadgeDefinition{}).
			Where("code = ?", def.Code).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			continue
		}
		def.ID = uuid.NewString()
		if err := s.DB.Create(&def).Error; err != nil {
			return err
		}
	}
	return nil
}

// CheckAndUnlockBadges scans definitions the user has not unlocked yet and
// awards any whose threshold is now met. One failed unlock must not abort the
// others, so per-badge errors are logged and skipped.
func (s *BadgeService) CheckAndUnlockBadges(userID string, xp int64, level int) error {
	var defs []models.BadgeDefinition
	if err := s.DB.Find(&defs).Error; err != nil {
		return err
	}

	var user models.User
	if err := s.DB.Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
		}
		return err
	}

	for _, def := range defs {
		if !s.meetsThreshold(&def, &user, xp, level) {
			continue
		}

		// Existence check + create; the unique (user, badge) index backstops
		// a concurrent unlock of the same badge.
		var count int64
		if err := s.DB.Model(&models.UserBadge{}).
			Where("user_id = ? AND badge_definition_id = ?", userID, def.ID).
			Count(&count).Error; err != nil {
			log.Printf("⚠️ [BADGE] lookup failed for %s/%s: %v", userID, def.Code, err)
			continue
		}
		if count > 0 {
			continue
		}

		userBadge := models.UserBadge{
			ID:                uuid.NewString(),
			UserID:            userID,
			BadgeDefinitionID: def.ID,
		}
		if err := s.DB.Create(&userBadge).Error; err != nil {
			log.Printf("⚠️ [BADGE] unlock failed for %s/%s: %v", userID, def.Code, err)
			continue
		}

		log.Printf("🎖️ Badge unlocked: %s → %s", def.Name, userID)
		notifyAsync(s.Notifier, userID, "badge_unlocked", "Badge unlocked!",
			fmt.Sprintf("You earned %q", def.Name))
	}
	return nil
}

// GetUserBadges returns the user's unlocked badges joined with definitions.
func (s *BadgeService) GetUserBadges(userID string) ([]models.BadgeDefinition, error) {
	var defs []models.BadgeDefinition
	err := s.DB.
		Joins("INNER JOIN user_badges ub ON ub.badge_definition_id = badge_definitions.id").
		Where("ub.user_id = ?", userID).
		Order("ub.unlocked_at ASC").
		Find(&defs).Error
	return defs, err
}

func (s *BadgeService) meetsThreshold(def *models.BadgeDefinition, user *models.User, xp int64, level int) bool {
	switch def.UnlockType {
	case models.BadgeUnlockXPThreshold:
		return xp >= def.Threshold
	case models.BadgeUnlockLevelThreshold:
		return int64(level) >= def.Threshold
	case models.BadgeUnlockMilestoneCount:
		return s.milestoneValue(def.MilestoneField, user) >= def.Threshold
	}
	return false
}

func (s *BadgeService) milestoneValue(field string, user *models.User) int64 {
	switch field {
	case "spot_approved_count":
		return user.SpotApprovedCount
	case "spot_submissions":
		return user.SpotSubmissions
	}
	return 0
}
