package models

import "time"

// BadgeUnlockType defines how a badge threshold is evaluated.
type BadgeUnlockType string

const (
	BadgeUnlockXPThreshold    BadgeUnlockType = "XP_THRESHOLD"
	BadgeUnlockLevelThreshold BadgeUnlockType = "LEVEL_THRESHOLD"
	BadgeUnlockMilestoneCount BadgeUnlockType = "MILESTONE_COUNT"
)

// BadgeDefinition: static config (seeded at boot)
type BadgeDefinition struct {
	ID          string          `gorm:"primaryKey;type:uuid" json:"id"`
	Code        string          `gorm:"uniqueIndex;not null" json:"code"` // e.g. "FIRST_SPOT", "LEVEL_10"
	Name        string          `gorm:"not null" json:"name"`
	Description string          `json:"description"`
	IconURL     string          `gorm:"type:text" json:"icon_url,omitempty"`
	Rarity      string          `gorm:"type:varchar(16);default:'common'" json:"rarity"` // common, rare, epic, legendary
	UnlockType  BadgeUnlockType `gorm:"type:varchar(24);not null" json:"unlock_type"`
	Threshold   int64           `gorm:"not null" json:"threshold"`
	// MilestoneField selects the user counter compared against Threshold for
	// MILESTONE_COUNT badges (e.g. "spot_approved_count").
	MilestoneField string    `json:"milestone_field,omitempty"`
	CreatedAt      time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// UserBadge: awarded instance, created at most once per (user, badge)
type UserBadge struct {
	ID                string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID            string    `gorm:"index:idx_user_badge,unique;not null" json:"user_id"`
	BadgeDefinitionID string    `gorm:"index:idx_user_badge,unique;not null" json:"badge_definition_id"`
	UnlockedAt        time.Time `json:"unlocked_at" gorm:"autoCreateTime"`
}

// DefaultBadges seeds the badge catalog.
var DefaultBadges = []BadgeDefinition{
	{
		Code:        "FIRST_STEPS",
		Name:        "First Steps",
		Description: "Earned your first XP",
		Rarity:      "common",
		UnlockType:  BadgeUnlockXPThreshold,
		Threshold:   1,
	},
	{
		Code:        "XP_1000",
		Name:        "Pathfinder",
		Description: "Reached 1,000 XP",
		Rarity:      "common",
		UnlockType:  BadgeUnlockXPThreshold,
		Threshold:   1000,
	},
	{
		Code:        "XP_10000",
		Name:        "Trailblazer",
		Description: "Reached 10,000 XP",
		Rarity:      "epic",
		UnlockType:  BadgeUnlockXPThreshold,
		Threshold:   10000,
	},
	{
		Code:        "LEVEL_5",
		Name:        "Getting Serious",
		Description: "Reached level 5",
		Rarity:      "common",
		UnlockType:  BadgeUnlockLevelThreshold,
		Threshold:   5,
	},
	{
		Code:        "LEVEL_20",
		Name:        "Local Legend",
		Description: "Reached level 20",
		Rarity:      "rare",
		UnlockType:  BadgeUnlockLevelThreshold,
		Threshold:   20,
	},
	{
		Code:           "SCOUT_10",
		Name:           "Scout",
		Description:    "10 approved spots",
		Rarity:         "rare",
		UnlockType:     BadgeUnlockMilestoneCount,
		Threshold:      10,
		MilestoneField: "spot_approved_count",
	},
	{
		Code:           "CARTOGRAPHER_50",
		Name:           "Cartographer",
		Description:    "50 approved spots",
		Rarity:         "legendary",
		UnlockType:     BadgeUnlockMilestoneCount,
		Threshold:      50,
		MilestoneField: "spot_approved_count",
	},
}
