// workers/verification_sweep_worker_test.go
package workers

import (
	"context"
	"testing"
	"time"

	"spot-discovery-system/models"
	"spot-discovery-system/services"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func openWorkerTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Spot{},
		&models.XPTransaction{},
		&models.XPHistory{},
	))
	return db
}

func TestSweepScoresUnverifiedSpots(t *testing.T) {
	db := openWorkerTestDB(t)
	econ := services.NewEconomyService(db, nil, nil)
	verification := services.NewVerificationService(db, services.NewTrustService(db), econ, nil)
	worker := NewVerificationSweepWorker(db, verification, econ)

	user := &models.User{ID: uuid.NewString(), Level: 1, TrustScore: 1.0}
	require.NoError(t, db.Create(user).Error)

	now := time.Now()
	lat, lon := 52.52, 13.405
	stale := &models.Spot{
		ID:                 uuid.NewString(),
		CreatorID:          user.ID,
		Latitude:           lat,
		Longitude:          lon,
		GPSAccuracyM:       10,
		Title:              "Canal-side book market",
		Description:        "Stalls of secondhand books along the canal, weekends only.",
		Category:           models.SpotCategoryHiddenGem,
		PhotoHash:          uuid.NewString(),
		ExifTakenAt:        &now,
		ExifLatitude:       &lat,
		ExifLongitude:      &lon,
		VerificationStatus: models.VerificationPending,
		XPReward:           100,
	}
	stale.CreatedAt = time.Now().Add(-10 * time.Minute)
	require.NoError(t, db.Create(stale).Error)

	// A freshly created spot stays with the request path.
	fresh := &models.Spot{
		ID:                 uuid.NewString(),
		CreatorID:          user.ID,
		Latitude:           52.53,
		Longitude:          13.42,
		Title:              "Evening food trucks",
		Description:        "A row of food trucks that shows up after sunset.",
		Category:           models.SpotCategoryOther,
		VerificationStatus: models.VerificationPending,
	}
	require.NoError(t, db.Create(fresh).Error)

	require.NoError(t, worker.sweep(context.Background()))

	var storedStale models.Spot
	require.NoError(t, db.First(&storedStale, "id = ?", stale.ID).Error)
	require.NotNil(t, storedStale.VerifiedAt)

	var storedFresh models.Spot
	require.NoError(t, db.First(&storedFresh, "id = ?", fresh.ID).Error)
	require.Nil(t, storedFresh.VerifiedAt)

	// Re-sweeping is a no-op for decided spots.
	require.NoError(t, worker.sweep(context.Background()))
}

func TestSweepReleasesStrandedXP(t *testing.T) {
	db := openWorkerTestDB(t)
	econ := services.NewEconomyService(db, nil, nil)
	verification := services.NewVerificationService(db, services.NewTrustService(db), econ, nil)
	worker := NewVerificationSweepWorker(db, verification, econ)

	user := &models.User{ID: uuid.NewString(), Level: 1, TrustScore: 1.0, XPPending: 100}
	require.NoError(t, db.Create(user).Error)

	// Approved, but the process died before the XP release landed.
	verifiedAt := time.Now().Add(-10 * time.Minute)
	stranded := &models.Spot{
		ID:                 uuid.NewString(),
		CreatorID:          user.ID,
		Latitude:           52.52,
		Longitude:          13.405,
		Title:              "Old customs house pier",
		Description:        "A quiet pier behind the old customs house, great at dawn.",
		Category:           models.SpotCategoryViewpoint,
		VerifiedAt:         &verifiedAt,
		VerificationStatus: models.VerificationAutoApproved,
		XPReward:           100,
	}
	require.NoError(t, db.Create(stranded).Error)

	require.NoError(t, worker.sweep(context.Background()))

	var storedUser models.User
	require.NoError(t, db.First(&storedUser, "id = ?", user.ID).Error)
	require.EqualValues(t, 100, storedUser.XPPoints)
	require.EqualValues(t, 0, storedUser.XPPending)

	var storedSpot models.Spot
	require.NoError(t, db.First(&storedSpot, "id = ?", stranded.ID).Error)
	require.True(t, storedSpot.XPReleased)

	// Re-running the sweep never double-credits.
	require.NoError(t, worker.sweep(context.Background()))
	require.NoError(t, db.First(&storedUser, "id = ?", user.ID).Error)
	require.EqualValues(t, 100, storedUser.XPPoints)
}
