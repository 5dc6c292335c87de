// services/verification_test.go
package services

import (
	"testing"
	"time"

	"spot-discovery-system/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newVerificationService(db *gorm.DB) *VerificationService {
	econ := NewEconomyService(db, nil, nil)
	trust := NewTrustService(db)
	return NewVerificationService(db, trust, econ, nil)
}

// pendingSpot inserts an unscored submission with strong default signals.
func pendingSpot(t *testing.T, db *gorm.DB, creatorID string, mutate func(*models.Spot)) *models.Spot {
	t.Helper()
	now := time.Now()
	lat, lon := 52.5200, 13.4050
	spot := &models.Spot{
		ID:                 uuid.NewString(),
		CreatorID:          creatorID,
		Latitude:           lat,
		Longitude:          lon,
		GPSAccuracyM:       10,
		Title:              "Hidden rooftop garden",
		Description:        "A quiet rooftop garden above the old bookshop, open till dusk.",
		Category:           models.SpotCategoryHiddenGem,
		PhotoHash:          uuid.NewString(),
		ExifTakenAt:        &now,
		ExifLatitude:       &lat,
		ExifLongitude:      &lon,
		VerificationStatus: models.VerificationPending,
		XPReward:           100,
	}
	if mutate != nil {
		mutate(spot)
	}
	require.NoError(t, db.Create(spot).Error)
	return spot
}

func TestVerifySpotAutoApprovesAndReleasesXP(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())
	spot := pendingSpot(t, db, user.ID, nil)

	result, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.Equal(t, models.VerificationAutoApproved, result.Status)
	require.GreaterOrEqual(t, result.Score, AutoApproveScore)
	require.Empty(t, result.Flags)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.EqualValues(t, 100, stored.XPPoints)
	require.EqualValues(t, 1, stored.SpotSubmissions)
	require.EqualValues(t, 1, stored.SpotApprovedCount)

	var storedSpot models.Spot
	require.NoError(t, db.First(&storedSpot, "id = ?", spot.ID).Error)
	require.True(t, storedSpot.XPReleased)
	require.NotNil(t, storedSpot.VerifiedAt)
}

func TestVerifySpotIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())
	spot := pendingSpot(t, db, user.ID, nil)

	first, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)

	second, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.Equal(t, first.Status, second.Status)
	require.Equal(t, first.Score, second.Score)

	// XP credited once, trust counted once.
	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.EqualValues(t, 100, stored.XPPoints)
	require.EqualValues(t, 1, stored.SpotSubmissions)
}

func TestVerifySpotFlagsDuplicateImage(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())
	other := createTestUser(t, db, uuid.NewString())

	sharedHash := uuid.NewString()
	pendingSpot(t, db, other.ID, func(s *models.Spot) {
		s.PhotoHash = sharedHash
	})

	// Far away and hours apart, so the image hash is the only collision.
	spot := pendingSpot(t, db, user.ID, func(s *models.Spot) {
		s.PhotoHash = sharedHash
		s.Latitude = 48.1374
		s.Longitude = 11.5755
		s.ExifLatitude = &s.Latitude
		s.ExifLongitude = &s.Longitude
	})

	result, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.Equal(t, models.VerificationFlagged, result.Status)
	require.Contains(t, result.Flags, FlagDuplicateImage)

	// Flagged spots hold their XP pending instead of releasing.
	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.EqualValues(t, 0, stored.XPPoints)
	require.EqualValues(t, 100, stored.XPPending)
}

func TestVerifySpotFlagsPotentialDuplicate(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	creator := createTestUser(t, db, uuid.NewString())
	other := createTestUser(t, db, uuid.NewString())

	pendingSpot(t, db, other.ID, func(s *models.Spot) {
		s.Title = "Hidden Rooftop Garden"
	})

	spot := pendingSpot(t, db, creator.ID, func(s *models.Spot) {
		s.Title = "hidden rooftop gardens"
	})

	result, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.Equal(t, models.VerificationFlagged, result.Status)
	require.Contains(t, result.Flags, FlagPotentialDuplicate)
}

func TestVerifySpotFlagsRapidSubmissions(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())

	// Two submissions seconds apart from the same account.
	pendingSpot(t, db, user.ID, func(s *models.Spot) {
		s.Latitude = 52.51
		s.Longitude = 13.41
	})
	spot := pendingSpot(t, db, user.ID, nil)

	result, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.Equal(t, models.VerificationFlagged, result.Status)
	require.Contains(t, result.Flags, FlagSuspiciousMovement)
}

func TestVerifySpotPenalizesMockLocation(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())
	spot := pendingSpot(t, db, user.ID, func(s *models.Spot) {
		s.MockLocation = true
	})

	result, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.NotEqual(t, models.VerificationAutoApproved, result.Status)
	require.Contains(t, result.Reasons, ReasonMockLocation)
	require.LessOrEqual(t, result.DetailedScores["location_accuracy"], 10)
}

func TestVerifySpotRateLimitsDailySubmissions(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())

	// Three earlier submissions today, spread out in time and space so only
	// the volume cap trips.
	for i := 0; i < DailySubmissionCap; i++ {
		offset := time.Duration(i+1) * 2 * time.Hour
		lat := 52.52 + float64(i+1)*0.05
		pendingSpot(t, db, user.ID, func(s *models.Spot) {
			s.Latitude = lat
			s.Longitude = 13.40
			s.Title = "Morning market stall"
			s.CreatedAt = time.Now().Add(-offset)
			s.PhotoHash = uuid.NewString()
		})
	}

	spot := pendingSpot(t, db, user.ID, nil)
	result, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.NotEqual(t, models.VerificationAutoApproved, result.Status)
	require.Contains(t, result.Reasons, ReasonRateLimitExceeded)
	require.LessOrEqual(t, result.DetailedScores["user_trust"], 20)
}

func TestVerifySpotFlagsShadowBannedUser(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())
	user.IsShadowBanned = true
	require.NoError(t, db.Save(user).Error)

	spot := pendingSpot(t, db, user.ID, nil)
	result, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.Equal(t, models.VerificationFlagged, result.Status)
	require.Contains(t, result.Flags, FlagShadowBannedUser)
	require.Equal(t, 0, result.DetailedScores["user_trust"])
}

func TestVerifySpotPenalizesSpamContent(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())
	spot := pendingSpot(t, db, user.ID, func(s *models.Spot) {
		s.Title = "BUY NOW best spot!!!"
		s.Description = "Click here for promo code 123456789, free money inside."
	})

	result, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.Contains(t, result.Reasons, "spam_pattern")
	require.Less(t, result.DetailedScores["content_quality"], 70)
}

func TestVerifySpotUnknownCreatorGetsNeutralTrust(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)

	// The creator row is missing entirely; trust degrades instead of erroring,
	// but the decision transaction fails on the trust update.
	spot := pendingSpot(t, db, uuid.NewString(), nil)
	_, err := svc.VerifySpot(spot.ID)
	require.ErrorIs(t, err, models.ErrNotFound)
}

func TestApproveSpotReleasesPendingXPOnce(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())
	user.XPPending = 100
	require.NoError(t, db.Save(user).Error)

	now := time.Now()
	spot := pendingSpot(t, db, user.ID, func(s *models.Spot) {
		s.VerifiedAt = &now
		s.VerificationStatus = models.VerificationFlagged
	})

	require.NoError(t, svc.ApproveSpot(spot.ID, "mod-1"))

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.EqualValues(t, 100, stored.XPPoints)
	require.EqualValues(t, 0, stored.XPPending)

	// APPROVED is no longer a moderatable state.
	err := svc.ApproveSpot(spot.ID, "mod-1")
	require.ErrorIs(t, err, models.ErrFailedPrecondition)
}

func TestRejectSpotDeniesPendingXP(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())
	user.XPPending = 100
	require.NoError(t, db.Save(user).Error)

	now := time.Now()
	spot := pendingSpot(t, db, user.ID, func(s *models.Spot) {
		s.VerifiedAt = &now
	})

	require.NoError(t, svc.RejectSpot(spot.ID, "mod-1", "fabricated location"))

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.EqualValues(t, 0, stored.XPPoints)
	require.EqualValues(t, 0, stored.XPPending)
	require.EqualValues(t, 1, stored.SpotRejectedCount)

	require.ErrorIs(t, svc.RejectSpot(spot.ID, "mod-1", "again"), models.ErrAlreadyExists)
}

func TestRejectSpotRefusesAfterXPRelease(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())

	now := time.Now()
	spot := pendingSpot(t, db, user.ID, func(s *models.Spot) {
		s.VerifiedAt = &now
		s.VerificationStatus = models.VerificationAutoApproved
		s.XPReleased = true
	})

	require.ErrorIs(t, svc.RejectSpot(spot.ID, "mod-1", "too late"), models.ErrFailedPrecondition)
}

func TestVerifySpotFlagsRepeatedCharacterSpam(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())
	spot := pendingSpot(t, db, user.ID, func(s *models.Spot) {
		s.Description = "Greatttttt place, you have to seeeeee it with your own eyes."
	})

	result, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.Contains(t, result.Reasons, "spam_pattern")
	require.Less(t, result.DetailedScores["content_quality"], 70)
}

func TestHasRepeatedRun(t *testing.T) {
	require.True(t, hasRepeatedRun("aaaaa", 5))
	require.False(t, hasRepeatedRun("aaaa", 5))
	require.True(t, hasRepeatedRun("ab🙂🙂🙂🙂🙂", 5))
	require.False(t, hasRepeatedRun("abcabcabcabc", 5))
}

func TestVerifySpotPersistsMultipleReasons(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())
	spot := pendingSpot(t, db, user.ID, func(s *models.Spot) {
		s.MockLocation = true
	})

	result, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(result.Reasons), 2)

	// The full decision must round-trip through the database, reasons included.
	var stored models.Spot
	require.NoError(t, db.First(&stored, "id = ?", spot.ID).Error)
	require.Equal(t, result.Status, stored.VerificationStatus)
	require.Equal(t, result.Score, stored.VerificationScore)
	require.Equal(t, models.StringList(result.Reasons), stored.VerificationReasons)
	require.NotNil(t, stored.VerifiedAt)
}

func TestRejectSpotBeforeScoringStaysRejected(t *testing.T) {
	db := openTestDB(t)
	svc := newVerificationService(db)
	user := createTestUser(t, db, uuid.NewString())
	spot := pendingSpot(t, db, user.ID, nil) // never scored

	require.NoError(t, svc.RejectSpot(spot.ID, "mod-1", "fabricated location"))

	// Scoring afterwards is a no-op: moderation already decided the spot.
	result, err := svc.VerifySpot(spot.ID)
	require.NoError(t, err)
	require.Equal(t, models.VerificationRejected, result.Status)

	var stored models.Spot
	require.NoError(t, db.First(&stored, "id = ?", spot.ID).Error)
	require.Equal(t, models.VerificationRejected, stored.VerificationStatus)
	require.NotNil(t, stored.VerifiedAt)
	require.False(t, stored.XPReleased)

	var storedUser models.User
	require.NoError(t, db.First(&storedUser, "id = ?", user.ID).Error)
	require.EqualValues(t, 0, storedUser.XPPoints)
	require.EqualValues(t, 1, storedUser.SpotSubmissions)
	require.EqualValues(t, 1, storedUser.SpotRejectedCount)
}
