// services/trust.go
package services

import (
	"errors"
	"fmt"
	"log"

	"spot-discovery-system/models"

	"gorm.io/gorm"
)

// Trust tuning constants.
const (
	TrustDeltaApproval  = 0.02
	TrustDeltaRejection = -0.05

	// Shadow ban triggers once a user with at least ShadowBanMinSubmissions
	// scored submissions reaches this rejection rate. The flag is one-way.
	ShadowBanMinSubmissions = 5
	ShadowBanRejectionRate  = 0.7
)

// TrustService maintains the per-user trust score and counters. Updates run
// inside the caller's verification transaction so two concurrent decisions
// cannot both read a pre-update rejection rate.
type TrustService struct {
	DB *gorm.DB
}

func NewTrustService(db *gorm.DB) *TrustService {
	return &TrustService{DB: db}
}

// trustWriteAttempts bounds the optimistic-update loop below.
const trustWriteAttempts = 3

// ApplyVerificationOutcome records one verification decision for the
// submitter: counters, trust delta, shadow-ban transition. newSubmission is
// true on the scoring path only; moderation of an already scored spot must
// not count the submission a second time. The write is guarded on the
// counters that were read, so a concurrent decision for another spot of the
// same creator forces a re-read instead of a lost update.
func (s *TrustService) ApplyVerificationOutcome(tx *gorm.DB, userID string, status models.VerificationStatus, newSubmission bool) error {
	for attempt := 0; attempt < trustWriteAttempts; attempt++ {
		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
			}
			return err
		}

		prev := user

		if newSubmission {
			user.SpotSubmissions++
		}

		switch status {
		case models.VerificationAutoApproved, models.VerificationApproved:
			user.SpotApprovedCount++
			user.TrustScore = clampTrust(user.TrustScore + TrustDeltaApproval)
		case models.VerificationRejected:
			user.SpotRejectedCount++
			user.TrustScore = clampTrust(user.TrustScore + TrustDeltaRejection)
		}

		// One-way transition: nothing ever clears the flag.
		banned := !user.IsShadowBanned &&
			user.SpotSubmissions >= ShadowBanMinSubmissions &&
			user.RejectionRate() >= ShadowBanRejectionRate
		if banned {
			user.IsShadowBanned = true
		}

		res := tx.Model(&models.User{}).
			Where("id = ? AND spot_submissions = ? AND spot_approved_count = ? AND spot_rejected_count = ?",
				userID, prev.SpotSubmissions, prev.SpotApprovedCount, prev.SpotRejectedCount).
			Updates(map[string]interface{}{
				"spot_submissions":    user.SpotSubmissions,
				"spot_approved_count": user.SpotApprovedCount,
				"spot_rejected_count": user.SpotRejectedCount,
				"trust_score":         user.TrustScore,
				"is_shadow_banned":    user.IsShadowBanned,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			if banned {
				log.Printf("🚫 [TRUST] Shadow ban set: user=%s submissions=%d rejected=%d",
					user.ID, user.SpotSubmissions, user.SpotRejectedCount)
			}
			return nil
		}
	}
	return fmt.Errorf("%w: trust update contention for user %s", models.ErrInternal, userID)
}

func clampTrust(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
