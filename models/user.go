package models

import (
	"time"

	"gorm.io/gorm"
)

// User holds the economy and trust state for one account.
// XP fields are owned exclusively by the economy ledger; trust fields by the
// trust ledger. No other component writes these columns.
type User struct {
	ID       string `gorm:"primaryKey;type:uuid" json:"id"`
	Username string `gorm:"index" json:"username"`

	// Economy (cumulative; only admin corrections may reduce XPPoints)
	XPPoints  int64 `json:"xp_points" gorm:"default:0"`
	Level     int   `json:"level" gorm:"default:1"` // derived from XPPoints, cached
	XPPending int64 `json:"xp_pending" gorm:"default:0"`

	// Trust / reputation
	TrustScore        float64 `json:"trust_score" gorm:"default:1.0"` // [0,1]
	SpotSubmissions   int64   `json:"spot_submissions" gorm:"default:0"`
	SpotApprovedCount int64   `json:"spot_approved_count" gorm:"default:0"`
	SpotRejectedCount int64   `json:"spot_rejected_count" gorm:"default:0"`
	IsShadowBanned    bool    `json:"is_shadow_banned" gorm:"default:false"` // sticky once set

	Timestamps
}

// ApprovalRate returns the historical approval ratio, or -1 when the user has
// no scored submissions yet.
func (u *User) ApprovalRate() float64 {
	if u.SpotSubmissions == 0 {
		return -1
	}
	return float64(u.SpotApprovedCount) / float64(u.SpotSubmissions)
}

// RejectionRate returns the historical rejection ratio (0 with no history).
func (u *User) RejectionRate() float64 {
	if u.SpotSubmissions == 0 {
		return 0
	}
	return float64(u.SpotRejectedCount) / float64(u.SpotSubmissions)
}

// AccountAge is the time elapsed since the account was created.
func (u *User) AccountAge(now time.Time) time.Duration {
	return now.Sub(u.CreatedAt)
}

// Timestamps adds GORM auto-times
type Timestamps struct {
	CreatedAt time.Time      `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt time.Time      `json:"updated_at" gorm:"autoUpdateTime"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}
