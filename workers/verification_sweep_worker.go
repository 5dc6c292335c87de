// workers/verification_sweep_worker.go
package workers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"spot-discovery-system/models"
	"spot-discovery-system/services"

	"gorm.io/gorm"
)

// VerificationSweepWorker periodically re-runs verification for spots that
// were created but never scored (e.g. the process died between the create
// and the scoring call), and releases XP for approved spots whose release
// step never landed. Both steps are idempotent, so sweeping an already
// settled spot is harmless.
type VerificationSweepWorker struct {
	db           *gorm.DB
	verification *services.VerificationService
	economy      *services.EconomyService
	interval     time.Duration
	minAge       time.Duration
}

func NewVerificationSweepWorker(db *gorm.DB, verification *services.VerificationService, economy *services.EconomyService) *VerificationSweepWorker {
	return &VerificationSweepWorker{
		db:           db,
		verification: verification,
		economy:      economy,
		interval:     5 * time.Minute,
		minAge:       2 * time.Minute, // leave freshly created spots to the request path
	}
}

func (w *VerificationSweepWorker) Start(ctx context.Context) {
	log.Println("🔁 Starting Verification Sweep Worker…")
	go w.run(ctx)
}

func (w *VerificationSweepWorker) run(ctx context.Context) {
	// Initial sweep catches anything left over from a previous process.
	if err := w.sweep(ctx); err != nil {
		log.Printf("⚠️ Initial verification sweep failed: %v", err)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := w.sweep(ctx); err != nil {
				log.Printf("❌ Verification sweep failed: %v", err)
			}
		case <-ctx.Done():
			log.Println("⏹️ Verification Sweep Worker stopped")
			return
		}
	}
}

func (w *VerificationSweepWorker) sweep(ctx context.Context) error {
	var spots []models.Spot
	if err := w.db.WithContext(ctx).
		Where("verified_at IS NULL AND created_at < ?", time.Now().Add(-w.minAge)).
		Limit(100).
		Find(&spots).Error; err != nil {
		return err
	}

	if len(spots) == 0 {
		return w.releaseStranded(ctx)
	}
	log.Printf("[SWEEP] 🧹 Scoring %d unverified spot(s)…", len(spots))

	var scored, failed int
	for _, spot := range spots {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.verification.VerifySpot(spot.ID); err != nil {
			failed++
			log.Printf("[SWEEP] ⚠️ Failed to score spot %s: %v", spot.ID, err)
		} else {
			scored++
		}
	}

	log.Printf("[SWEEP] ✅ Scored %d spot(s), %d failure(s)", scored, failed)
	return w.releaseStranded(ctx)
}

// releaseStranded credits XP for approved spots that still carry an
// unreleased reward, e.g. after a crash between the decision commit and the
// release. The xp_released guard inside ReleaseSpotXP keeps this
// exactly-once no matter how often the sweep runs.
func (w *VerificationSweepWorker) releaseStranded(ctx context.Context) error {
	var stranded []models.Spot
	if err := w.db.WithContext(ctx).
		Where("verification_status IN ? AND xp_released = ? AND xp_denied = ? AND xp_reward > 0",
			[]models.VerificationStatus{models.VerificationAutoApproved, models.VerificationApproved},
			false, false).
		Limit(100).
		Find(&stranded).Error; err != nil {
		return err
	}

	for _, spot := range stranded {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := w.economy.ReleaseSpotXP(spot.CreatorID, spot.ID, spot.XPReward,
			fmt.Sprintf("Spot %q approved", spot.Title)); err != nil {
			if !errors.Is(err, models.ErrAlreadyExists) {
				log.Printf("[SWEEP] ⚠️ XP release failed for spot %s: %v", spot.ID, err)
			}
			continue
		}
		log.Printf("[SWEEP] 💰 Released stranded XP for spot %s", spot.ID)
	}
	return nil
}
