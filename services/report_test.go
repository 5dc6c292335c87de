// services/report_test.go
package services

import (
	"testing"
	"time"

	"spot-discovery-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newReportFixture(t *testing.T, db *gorm.DB) (*ReportService, *models.User, *models.Spot) {
	t.Helper()
	verification := newVerificationService(db)
	svc := NewReportService(db, verification, nil)

	creator := createTestUser(t, db, uuid.NewString())
	now := time.Now()
	spot := pendingSpot(t, db, creator.ID, func(s *models.Spot) {
		s.VerifiedAt = &now
	})
	return svc, creator, spot
}

func TestSubmitReportRejectsOwnSpot(t *testing.T) {
	db := openTestDB(t)
	svc, creator, spot := newReportFixture(t, db)

	_, err := svc.SubmitReport(spot.ID, creator.ID, models.ReportReasonFake, "")
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestSubmitReportOneOpenPerReporter(t *testing.T) {
	db := openTestDB(t)
	svc, _, spot := newReportFixture(t, db)
	reporter := createTestUser(t, db, uuid.NewString())

	_, err := svc.SubmitReport(spot.ID, reporter.ID, models.ReportReasonFake, "looks staged")
	require.NoError(t, err)

	_, err = svc.SubmitReport(spot.ID, reporter.ID, models.ReportReasonDuplicate, "still fake")
	require.ErrorIs(t, err, models.ErrAlreadyExists)

	var stored models.Spot
	require.NoError(t, db.First(&stored, "id = ?", spot.ID).Error)
	require.Equal(t, 1, stored.ReportCount)
}

func TestReportVolumeForcesManualReview(t *testing.T) {
	db := openTestDB(t)
	svc, _, spot := newReportFixture(t, db)

	for i := 0; i < ReportVolumeThreshold; i++ {
		reporter := createTestUser(t, db, uuid.NewString())
		_, err := svc.SubmitReport(spot.ID, reporter.ID, models.ReportReasonFake, "")
		require.NoError(t, err)
	}

	var stored models.Spot
	require.NoError(t, db.First(&stored, "id = ?", spot.ID).Error)
	require.Equal(t, models.VerificationFlagged, stored.VerificationStatus)
	require.Contains(t, []string(stored.VerificationReasons), ReasonReportVolume)
	require.Equal(t, ReportVolumeThreshold, stored.ReportCount)
}

func TestReportVolumeSkipsSettledSpots(t *testing.T) {
	db := openTestDB(t)
	svc, _, spot := newReportFixture(t, db)

	require.NoError(t, db.Model(&models.Spot{}).
		Where("id = ?", spot.ID).
		Update("verification_status", models.VerificationRejected).Error)

	for i := 0; i < ReportVolumeThreshold; i++ {
		reporter := createTestUser(t, db, uuid.NewString())
		_, err := svc.SubmitReport(spot.ID, reporter.ID, models.ReportReasonGone, "")
		require.NoError(t, err)
	}

	var stored models.Spot
	require.NoError(t, db.First(&stored, "id = ?", spot.ID).Error)
	require.Equal(t, models.VerificationRejected, stored.VerificationStatus)
}

func TestBrigadeBurstIsQuarantined(t *testing.T) {
	db := openTestDB(t)
	svc, _, spot := newReportFixture(t, db)

	// Four reports from one account in the last hour (filed outside the
	// service to model a scripted burst), then a fifth from a second account.
	burst := createTestUser(t, db, uuid.NewString())
	for i := 0; i < BrigadeMinReports-1; i++ {
		report := &models.SpotReport{
			ID:         uuid.NewString(),
			SpotID:     spot.ID,
			ReporterID: burst.ID,
			Reason:     models.ReportReasonFake,
			Status:     models.ReportOpen,
			CreatedAt:  time.Now().Add(-time.Duration(i+1) * time.Minute),
		}
		require.NoError(t, db.Create(report).Error)
	}

	trigger := createTestUser(t, db, uuid.NewString())
	_, err := svc.SubmitReport(spot.ID, trigger.ID, models.ReportReasonFake, "")
	require.NoError(t, err)

	// Two distinct reporters for five reports: quarantine, no flagging.
	var quarantined int64
	require.NoError(t, db.Model(&models.SpotReport{}).
		Where("spot_id = ? AND status = ?", spot.ID, models.ReportSuspectedBrigade).
		Count(&quarantined).Error)
	require.EqualValues(t, BrigadeMinReports, quarantined)

	var stored models.Spot
	require.NoError(t, db.First(&stored, "id = ?", spot.ID).Error)
	require.NotEqual(t, models.VerificationFlagged, stored.VerificationStatus)
}

func TestResolveReportUpholdRejectsSpot(t *testing.T) {
	db := openTestDB(t)
	svc, creator, spot := newReportFixture(t, db)

	creatorRow := &models.User{}
	require.NoError(t, db.First(creatorRow, "id = ?", creator.ID).Error)
	creatorRow.XPPending = 100
	require.NoError(t, db.Save(creatorRow).Error)

	reporter := createTestUser(t, db, uuid.NewString())
	report, err := svc.SubmitReport(spot.ID, reporter.ID, models.ReportReasonFake, "")
	require.NoError(t, err)

	require.NoError(t, svc.ResolveReport(report.ID, "mod-1", true))

	var storedReport models.SpotReport
	require.NoError(t, db.First(&storedReport, "id = ?", report.ID).Error)
	require.Equal(t, models.ReportResolved, storedReport.Status)
	require.Equal(t, "mod-1", storedReport.ResolvedBy)
	require.NotNil(t, storedReport.ResolvedAt)

	var storedSpot models.Spot
	require.NoError(t, db.First(&storedSpot, "id = ?", spot.ID).Error)
	require.Equal(t, models.VerificationRejected, storedSpot.VerificationStatus)

	// Pending XP was denied, never credited.
	var storedUser models.User
	require.NoError(t, db.First(&storedUser, "id = ?", creator.ID).Error)
	require.EqualValues(t, 0, storedUser.XPPoints)
	require.EqualValues(t, 0, storedUser.XPPending)

	require.ErrorIs(t, svc.ResolveReport(report.ID, "mod-1", true), models.ErrAlreadyExists)
}

func TestResolveReportDismissLeavesSpotUntouched(t *testing.T) {
	db := openTestDB(t)
	svc, _, spot := newReportFixture(t, db)

	reporter := createTestUser(t, db, uuid.NewString())
	report, err := svc.SubmitReport(spot.ID, reporter.ID, models.ReportReasonOther, "")
	require.NoError(t, err)

	require.NoError(t, svc.ResolveReport(report.ID, "mod-1", false))

	var storedReport models.SpotReport
	require.NoError(t, db.First(&storedReport, "id = ?", report.ID).Error)
	require.Equal(t, models.ReportDismissed, storedReport.Status)

	var storedSpot models.Spot
	require.NoError(t, db.First(&storedSpot, "id = ?", spot.ID).Error)
	require.Equal(t, models.VerificationPending, storedSpot.VerificationStatus)
}

func TestRescanAgingReportsEscalates(t *testing.T) {
	db := openTestDB(t)
	svc, _, spot := newReportFixture(t, db)

	reporter := createTestUser(t, db, uuid.NewString())
	report := &models.SpotReport{
		ID:         uuid.NewString(),
		SpotID:     spot.ID,
		ReporterID: reporter.ID,
		Reason:     models.ReportReasonFake,
		Status:     models.ReportOpen,
		CreatedAt:  time.Now().Add(-ReportRescanAge - time.Hour),
	}
	require.NoError(t, db.Create(report).Error)

	require.NoError(t, svc.RescanAgingReports())

	var stored models.Spot
	require.NoError(t, db.First(&stored, "id = ?", spot.ID).Error)
	require.Equal(t, models.VerificationFlagged, stored.VerificationStatus)

	// Safe to re-run.
	require.NoError(t, svc.RescanAgingReports())
}
