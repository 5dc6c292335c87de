package models

import "time"

// Reward is a sponsor-funded perk purchasable with XP.
type Reward struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	SponsorID string `gorm:"index;not null" json:"sponsor_id"`

	Title       string `gorm:"not null" json:"title"`
	Description string `gorm:"type:text" json:"description"`
	ImageURL    string `gorm:"type:text" json:"image_url,omitempty"`

	XPCost int64 `gorm:"not null" json:"xp_cost"`
	Active bool  `gorm:"default:true" json:"active"`

	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	MaxRedemptions  int        `json:"max_redemptions" gorm:"default:0"` // 0 = unlimited
	RedemptionCount int        `json:"redemption_count" gorm:"default:0"`

	Timestamps
}

// Redeemable reports whether the reward can currently be redeemed.
func (r *Reward) Redeemable(now time.Time) bool {
	if !r.Active {
		return false
	}
	if r.ExpiresAt != nil && r.ExpiresAt.Before(now) {
		return false
	}
	if r.MaxRedemptions > 0 && r.RedemptionCount >= r.MaxRedemptions {
		return false
	}
	return true
}

// Redemption is created when a user spends XP on a reward and mutated exactly
// once afterwards, when the sponsor marks it used.
type Redemption struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string `gorm:"index;not null" json:"user_id"`
	RewardID  string `gorm:"index;not null" json:"reward_id"`
	SponsorID string `gorm:"index;not null" json:"sponsor_id"`

	XPUsed int64  `json:"xp_used"`
	Code   string `gorm:"uniqueIndex;not null" json:"code"` // presented to the sponsor for validation

	RedeemedAt  time.Time  `json:"redeemed_at" gorm:"autoCreateTime"`
	Used        bool       `json:"used" gorm:"default:false"` // set exactly once
	UsedAt      *time.Time `json:"used_at,omitempty"`
	ValidatedBy string     `json:"validated_by,omitempty"`
}
