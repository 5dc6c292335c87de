// services/report.go
package services

import (
	"errors"
	"fmt"
	"log"
	"time"

	"spot-discovery-system/models"
	"spot-discovery-system/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Report aggregation thresholds.
const (
	ReportVolumeThreshold = 3 // open reports forcing manual review
	BrigadeWindow         = time.Hour
	BrigadeMinReports     = 5
	ReportRescanAge       = 24 * time.Hour
)

const ReasonReportVolume = "report_volume"

// ReportService aggregates user reports and feeds the verification state:
// enough independent reports force a spot back into manual review, while
// coordinated bursts are quarantined instead of trusted.
type ReportService struct {
	DB           *gorm.DB
	Verification *VerificationService
	Notifier     Notifier
}

func NewReportService(db *gorm.DB, verification *VerificationService, notifier Notifier) *ReportService {
	return &ReportService{DB: db, Verification: verification, Notifier: notifier}
}

// SubmitReport files one report. A reporter gets one open report per spot.
func (s *ReportService) SubmitReport(spotID, reporterID string, reason models.ReportReason, details string) (*models.SpotReport, error) {
	var spot models.Spot
	if err := s.DB.Where("id = ?", spotID).First(&spot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: spot %s", models.ErrNotFound, spotID)
		}
		return nil, err
	}
	if spot.CreatorID == reporterID {
		return nil, fmt.Errorf("%w: cannot report your own spot", models.ErrInvalidArgument)
	}

	var report *models.SpotReport
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var open int64
		if err := tx.Model(&models.SpotReport{}).
			Where("spot_id = ? AND reporter_id = ? AND status IN ?",
				spotID, reporterID,
				[]models.ReportStatus{models.ReportOpen, models.ReportSuspectedBrigade}).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return fmt.Errorf("%w: report already open for this spot", models.ErrAlreadyExists)
		}

		r := models.SpotReport{
			ID:         uuid.NewString(),
			SpotID:     spotID,
			ReporterID: reporterID,
			Reason:     reason,
			Details:    details,
		}
		if err := tx.Create(&r).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.Spot{}).
			Where("id = ?", spotID).
			Update("report_count", gorm.Expr("report_count + 1")).Error; err != nil {
			return err
		}

		if err := s.evaluateSpot(tx, &spot); err != nil {
			return err
		}

		report = &r
		return nil
	})
	if err != nil {
		return nil, err
	}

	utils.ReportsTotal.Inc()
	log.Printf("📣 [REPORT] spot=%s by=%s reason=%s", spotID, reporterID, reason)
	return report, nil
}

// evaluateSpot applies the volume threshold and the coordinated-attack
// heuristic after a new report lands. Runs inside the submit transaction.
func (s *ReportService) evaluateSpot(tx *gorm.DB, spot *models.Spot) error {
	// Coordinated burst: many reports in a short window from few distinct
	// accounts. Those reports are quarantined and do not count toward the
	// volume threshold.
	var lastHour int64
	if err := tx.Model(&models.SpotReport{}).
		Where("spot_id = ? AND created_at >= ?", spot.ID, time.Now().Add(-BrigadeWindow)).
		Count(&lastHour).Error; err != nil {
		return err
	}
	if lastHour >= BrigadeMinReports {
		var distinct int64
		if err := tx.Model(&models.SpotReport{}).
			Where("spot_id = ? AND created_at >= ?", spot.ID, time.Now().Add(-BrigadeWindow)).
			Distinct("reporter_id").
			Count(&distinct).Error; err != nil {
			return err
		}
		if distinct*2 <= lastHour {
			log.Printf("🕸️ [REPORT] Suspected brigade on spot %s (%d reports, %d reporters)",
				spot.ID, lastHour, distinct)
			return tx.Model(&models.SpotReport{}).
				Where("spot_id = ? AND status = ? AND created_at >= ?",
					spot.ID, models.ReportOpen, time.Now().Add(-BrigadeWindow)).
				Update("status", models.ReportSuspectedBrigade).Error
		}
	}

	var openCount int64
	if err := tx.Model(&models.SpotReport{}).
		Where("spot_id = ? AND status = ?", spot.ID, models.ReportOpen).
		Count(&openCount).Error; err != nil {
		return err
	}
	if openCount < ReportVolumeThreshold {
		return nil
	}

	// REJECTED spots and spots with released XP are immutable; everything
	// else gets forced into manual review. Struct update so the reasons list
	// goes through its JSON serializer.
	res := tx.Model(&models.Spot{}).
		Where("id = ? AND verification_status NOT IN ? AND xp_released = ?",
			spot.ID,
			[]models.VerificationStatus{models.VerificationRejected, models.VerificationFlagged},
			false).
		Select("verification_status", "verification_reasons").
		Updates(&models.Spot{
			VerificationStatus:  models.VerificationFlagged,
			VerificationReasons: append(append(models.StringList{}, spot.VerificationReasons...), ReasonReportVolume),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		log.Printf("🚩 [REPORT] Spot %s forced into manual review (%d open reports)", spot.ID, openCount)
	}
	return nil
}

// ResolveReport settles a report. RESOLVED upholds it: the spot is rejected
// and pending XP denied. DISMISSED closes it with no spot change.
func (s *ReportService) ResolveReport(reportID, moderatorID string, uphold bool) error {
	var report models.SpotReport
	if err := s.DB.Where("id = ?", reportID).First(&report).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: report %s", models.ErrNotFound, reportID)
		}
		return err
	}

	switch report.Status {
	case models.ReportOpen, models.ReportSuspectedBrigade:
	default:
		return fmt.Errorf("%w: report %s already settled", models.ErrAlreadyExists, reportID)
	}

	status := models.ReportDismissed
	if uphold {
		status = models.ReportResolved
	}

	now := time.Now()
	res := s.DB.Model(&models.SpotReport{}).
		Where("id = ? AND status IN ?", reportID,
			[]models.ReportStatus{models.ReportOpen, models.ReportSuspectedBrigade}).
		Updates(map[string]interface{}{
			"status":      status,
			"resolved_by": moderatorID,
			"resolved_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: report %s already settled", models.ErrAlreadyExists, reportID)
	}

	if uphold {
		if err := s.Verification.RejectSpot(report.SpotID, moderatorID, "report upheld"); err != nil &&
			!errors.Is(err, models.ErrAlreadyExists) {
			return err
		}
	}

	log.Printf("⚖️ [REPORT] Report %s %s by %s", reportID, status, moderatorID)
	return nil
}

// RescanAgingReports escalates spots that accumulated open reports but were
// never reviewed. Invoked on a cadence; safe to re-run.
func (s *ReportService) RescanAgingReports() error {
	cutoff := time.Now().Add(-ReportRescanAge)

	var spotIDs []string
	if err := s.DB.Model(&models.SpotReport{}).
		Where("status = ? AND created_at < ?", models.ReportOpen, cutoff).
		Distinct("spot_id").
		Pluck("spot_id", &spotIDs).Error; err != nil {
		return err
	}

	for _, spotID := range spotIDs {
		res := s.DB.Model(&models.Spot{}).
			Where("id = ? AND verification_status = ? AND xp_released = ?",
				spotID, models.VerificationPending, false).
			Update("verification_status", models.VerificationFlagged)
		if res.Error != nil {
			log.Printf("⚠️ [REPORT] Rescan failed for spot %s: %v", spotID, res.Error)
			continue
		}
		if res.RowsAffected > 0 {
			log.Printf("🚩 [REPORT] Aging reports escalated spot %s to manual review", spotID)
		}
	}
	return nil
}
