package models

import (
	"time"
)

// SpotCategory enumerates the accepted spot categories.
type SpotCategory string

const (
	SpotCategoryCafe       SpotCategory = "CAFE"
	SpotCategoryRestaurant SpotCategory = "RESTAURANT"
	SpotCategoryViewpoint  SpotCategory = "VIEWPOINT"
	SpotCategoryArt        SpotCategory = "ART"
	SpotCategoryNature     SpotCategory = "NATURE"
	SpotCategoryHistoric   SpotCategory = "HISTORIC"
	SpotCategoryHiddenGem  SpotCategory = "HIDDEN_GEM"
	SpotCategoryOther      SpotCategory = "OTHER"
)

// ValidSpotCategory reports whether c is one of the accepted categories.
func ValidSpotCategory(c SpotCategory) bool {
	switch c {
	case SpotCategoryCafe, SpotCategoryRestaurant, SpotCategoryViewpoint,
		SpotCategoryArt, SpotCategoryNature, SpotCategoryHistoric,
		SpotCategoryHiddenGem, SpotCategoryOther:
		return true
	}
	return false
}

// VerificationStatus is the lifecycle state of a spot's verification.
type VerificationStatus string

const (
	VerificationPending      VerificationStatus = "PENDING"
	VerificationAutoApproved VerificationStatus = "AUTO_APPROVED"
	VerificationApproved     VerificationStatus = "APPROVED"
	VerificationRejected     VerificationStatus = "REJECTED"
	VerificationFlagged      VerificationStatus = "FLAGGED"
)

// StringList is stored as a JSON array column.
type StringList []string

// Spot is a user-submitted point of interest.
// Scored exactly once by the verification engine; after that only moderation
// actions and the XP release/deny step may touch it. REJECTED spots and spots
// whose XP has been released are treated as immutable.
type Spot struct {
	ID        string `gorm:"primaryKey;type:uuid" json:"id"`
	CreatorID string `gorm:"index;not null" json:"creator_id"`

	// Location + capture metadata from the submitting device
	Latitude     float64 `gorm:"not null" json:"latitude"`
	Longitude    float64 `gorm:"not null" json:"longitude"`
	GPSAccuracyM float64 `json:"gps_accuracy_m" gorm:"default:0"` // reported horizontal accuracy, meters
	MockLocation bool    `json:"mock_location" gorm:"default:false"`

	// Optional EXIF extracted from the uploaded photo
	ExifTakenAt   *time.Time `json:"exif_taken_at,omitempty"`
	ExifLatitude  *float64   `json:"exif_latitude,omitempty"`
	ExifLongitude *float64   `json:"exif_longitude,omitempty"`

	Title       string       `gorm:"not null" json:"title"`
	Description string       `gorm:"type:text" json:"description"`
	Category    SpotCategory `gorm:"type:varchar(32);not null" json:"category"`

	PhotoHash string `gorm:"index" json:"photo_hash,omitempty"` // SHA-256 of photo bytes, hex
	PhotoURL  string `gorm:"type:text" json:"photo_url,omitempty"`

	// Verification outcome (written once by the scoring engine)
	VerifiedAt          *time.Time         `json:"verified_at,omitempty"`
	VerificationStatus  VerificationStatus `gorm:"type:varchar(16);index;default:'PENDING'" json:"verification_status"`
	VerificationScore   int                `json:"verification_score" gorm:"default:0"`
	VerificationReasons StringList         `gorm:"type:jsonb;serializer:json" json:"verification_reasons"`
	VerificationFlags   StringList         `gorm:"type:jsonb;serializer:json" json:"verification_flags"`

	// XP bookkeeping
	XPReward   int64 `json:"xp_reward" gorm:"default:0"`
	XPReleased bool  `json:"xp_released" gorm:"default:false"`
	XPDenied   bool  `json:"xp_denied" gorm:"default:false"`

	ReportCount int `json:"report_count" gorm:"default:0"`

	Timestamps
}

// Decided reports whether the verification engine has already produced an
// outcome for this spot. Re-scoring a decided spot is a no-op.
func (s *Spot) Decided() bool {
	return s.VerifiedAt != nil
}
