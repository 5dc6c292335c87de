package models

import "time"

// XPTransactionType classifies a ledger entry.
type XPTransactionType string

const (
	XPTypeAward      XPTransactionType = "AWARD"
	XPTypeDenial     XPTransactionType = "DENIAL"
	XPTypeAdmin      XPTransactionType = "ADMIN"
	XPTypeAdjustment XPTransactionType = "ADJUSTMENT"
)

// XPMetadata is a bounded, explicitly typed metadata map attached to a
// ledger entry (no open-ended field spreading).
type XPMetadata map[string]string

// XPTransaction is one immutable entry in the append-only XP ledger.
// Entries are never mutated or deleted: replaying a user's entries in
// timestamp order must reproduce the current XPPoints exactly.
// idx_xp_dedupe backs the (user, action, resource, type) idempotency key at
// the database: the partial predicate leaves resource-less entries (admin
// adjustments) out of the constraint.
type XPTransaction struct {
	ID     string `gorm:"primaryKey;type:uuid" json:"id"`
	UserID string `gorm:"index;not null;index:idx_xp_dedupe,unique,priority:1" json:"user_id"`

	Action      string `gorm:"index;not null;index:idx_xp_dedupe,unique,priority:2" json:"action"` // e.g. "spot_approved", "reward_redeemed"
	ResourceID  string `gorm:"index;index:idx_xp_dedupe,unique,priority:3,where:resource_id <> ''" json:"resource_id,omitempty"`
	Amount      int64  `json:"amount"` // signed; negative = denial/debit
	Description string `json:"description"`

	PreviousXP    int64 `json:"previous_xp"`
	NewXP         int64 `json:"new_xp"`
	PreviousLevel int   `json:"previous_level"`
	NewLevel      int   `json:"new_level"`
	LeveledUp     bool  `json:"leveled_up"`

	Type     XPTransactionType `gorm:"type:varchar(16);index;not null;index:idx_xp_dedupe,unique,priority:4" json:"type"`
	Metadata XPMetadata        `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// XPHistory records the last award time per (user, action[, entity]) and is
// the sole input to cooldown and daily-limit checks. It is a separate store
// from the ledger.
type XPHistory struct {
	ID        string    `gorm:"primaryKey;type:uuid" json:"id"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	Action    string    `gorm:"index;not null" json:"action"`
	EntityID  string    `gorm:"index" json:"entity_id,omitempty"`
	AwardedAt time.Time `json:"awarded_at" gorm:"autoCreateTime;index"`
}

// XPRule gates how often an action may be rewarded.
type XPRule struct {
	Action          string
	Amount          int64
	CooldownMinutes int // 0 = no cooldown
	MaxDaily        int // 0 = no daily cap
	PerEntity       bool
}
