// services/redemption_test.go
package services

import (
	"strings"
	"testing"
	"time"

	"spot-discovery-system/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newRedemptionFixture(t *testing.T, db *gorm.DB) (*RedemptionService, *models.User, *models.Sponsor, *models.Reward) {
	t.Helper()
	econ := NewEconomyService(db, nil, nil)
	svc := NewRedemptionService(db, econ, nil)

	user := createTestUser(t, db, uuid.NewString())
	user.XPPoints = 1000
	user.Level = LevelForXP(1000)
	require.NoError(t, db.Save(user).Error)

	owner := createTestUser(t, db, uuid.NewString())
	sponsor := &models.Sponsor{
		ID:              uuid.NewString(),
		OwnerID:         owner.ID,
		Name:            "Corner Cafe",
		QRExpiryMinutes: 5,
	}
	require.NoError(t, db.Create(sponsor).Error)

	reward := &models.Reward{
		ID:        uuid.NewString(),
		SponsorID: sponsor.ID,
		Title:     "Free espresso",
		XPCost:    250,
		Active:    true,
	}
	require.NoError(t, db.Create(reward).Error)

	return svc, user, sponsor, reward
}

func TestParseRewardCodeFormats(t *testing.T) {
	id := uuid.NewString()

	got, err := ParseRewardCode("spotquest://reward/" + id)
	require.NoError(t, err)
	require.Equal(t, id, got)

	got, err = ParseRewardCode("SPOTQUEST-REWARD:" + id)
	require.NoError(t, err)
	require.Equal(t, id, got)

	got, err = ParseRewardCode("  " + id + "  ")
	require.NoError(t, err)
	require.Equal(t, id, got)

	_, err = ParseRewardCode("not-a-reward-code")
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestRedeemRewardDebitsAndIssuesCode(t *testing.T) {
	db := openTestDB(t)
	svc, user, sponsor, reward := newRedemptionFixture(t, db)

	redemption, err := svc.RedeemReward(user.ID, "spotquest://reward/"+reward.ID)
	require.NoError(t, err)
	require.Equal(t, sponsor.ID, redemption.SponsorID)
	require.EqualValues(t, 250, redemption.XPUsed)
	require.True(t, strings.HasPrefix(redemption.Code, "RDM:"+redemption.ID+":"))

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.EqualValues(t, 750, stored.XPPoints)
	require.Equal(t, LevelForXP(750), stored.Level)

	var entry models.XPTransaction
	require.NoError(t, db.First(&entry, "user_id = ? AND action = ?", user.ID, ActionRewardRedeemed).Error)
	require.EqualValues(t, -250, entry.Amount)

	var storedReward models.Reward
	require.NoError(t, db.First(&storedReward, "id = ?", reward.ID).Error)
	require.Equal(t, 1, storedReward.RedemptionCount)
}

func TestRedeemRewardRejectsSecondLiveRedemption(t *testing.T) {
	db := openTestDB(t)
	svc, user, _, reward := newRedemptionFixture(t, db)

	_, err := svc.RedeemReward(user.ID, reward.ID)
	require.NoError(t, err)

	_, err = svc.RedeemReward(user.ID, reward.ID)
	require.ErrorIs(t, err, models.ErrAlreadyExists)

	// The failed attempt must not have debited anything.
	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.EqualValues(t, 750, stored.XPPoints)
}

func TestRedeemRewardInsufficientXP(t *testing.T) {
	db := openTestDB(t)
	svc, user, _, reward := newRedemptionFixture(t, db)
	user.XPPoints = 100
	require.NoError(t, db.Save(user).Error)

	_, err := svc.RedeemReward(user.ID, reward.ID)
	require.ErrorIs(t, err, models.ErrFailedPrecondition)

	var count int64
	require.NoError(t, db.Model(&models.Redemption{}).Where("user_id = ?", user.ID).Count(&count).Error)
	require.EqualValues(t, 0, count)

	var stored models.User
	require.NoError(t, db.First(&stored, "id = ?", user.ID).Error)
	require.EqualValues(t, 100, stored.XPPoints)
}

func TestRedeemRewardRespectsExpiryAndCap(t *testing.T) {
	db := openTestDB(t)
	svc, user, _, reward := newRedemptionFixture(t, db)

	past := time.Now().Add(-time.Hour)
	reward.ExpiresAt = &past
	require.NoError(t, db.Save(reward).Error)

	_, err := svc.RedeemReward(user.ID, reward.ID)
	require.ErrorIs(t, err, models.ErrFailedPrecondition)

	reward.ExpiresAt = nil
	reward.MaxRedemptions = 1
	reward.RedemptionCount = 1
	require.NoError(t, db.Save(reward).Error)

	_, err = svc.RedeemReward(user.ID, reward.ID)
	require.ErrorIs(t, err, models.ErrFailedPrecondition)
}

func TestValidateRedemptionExactlyOnce(t *testing.T) {
	db := openTestDB(t)
	svc, user, sponsor, reward := newRedemptionFixture(t, db)

	redemption, err := svc.RedeemReward(user.ID, reward.ID)
	require.NoError(t, err)

	validated, err := svc.ValidateRedemption(sponsor.OwnerID, redemption.Code)
	require.NoError(t, err)
	require.True(t, validated.Used)
	require.NotNil(t, validated.UsedAt)
	require.Equal(t, sponsor.OwnerID, validated.ValidatedBy)

	_, err = svc.ValidateRedemption(sponsor.OwnerID, redemption.Code)
	require.ErrorIs(t, err, models.ErrAlreadyExists)
}

func TestValidateRedemptionRequiresSponsorOwnership(t *testing.T) {
	db := openTestDB(t)
	svc, user, _, reward := newRedemptionFixture(t, db)

	redemption, err := svc.RedeemReward(user.ID, reward.ID)
	require.NoError(t, err)

	stranger := createTestUser(t, db, uuid.NewString())
	_, err = svc.ValidateRedemption(stranger.ID, redemption.Code)
	require.ErrorIs(t, err, models.ErrPermissionDenied)

	// Still validatable by the actual owner.
	var stored models.Redemption
	require.NoError(t, db.First(&stored, "id = ?", redemption.ID).Error)
	require.False(t, stored.Used)
}

func TestValidateRedemptionRejectsGarbageCode(t *testing.T) {
	db := openTestDB(t)
	svc, _, _, _ := newRedemptionFixture(t, db)

	_, err := svc.ValidateRedemption(uuid.NewString(), "RDM:junk")
	require.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestSponsorQRIssueAndVerify(t *testing.T) {
	db := openTestDB(t)
	svc, _, sponsor, _ := newRedemptionFixture(t, db)

	qr, err := svc.IssueSponsorQR(sponsor.ID)
	require.NoError(t, err)
	require.Equal(t, 1, qr.Version)
	require.Equal(t, 5*60, qr.ExpiresIn)

	require.NoError(t, svc.VerifySponsorQR(sponsor.ID, qr.Token))
	require.ErrorIs(t, svc.VerifySponsorQR(sponsor.ID, "not.a.token"), models.ErrInvalidArgument)
}

func TestSponsorQRExpiry(t *testing.T) {
	db := openTestDB(t)
	svc, _, sponsor, _ := newRedemptionFixture(t, db)

	_, err := svc.IssueSponsorQR(sponsor.ID)
	require.NoError(t, err)

	var stored models.Sponsor
	require.NoError(t, db.First(&stored, "id = ?", sponsor.ID).Error)

	// Sign a token with the real secret but a stale issue timestamp.
	issued := time.Now().Add(-10 * time.Minute)
	claims := sponsorQRClaims{
		Version:    stored.QRSecretVersion,
		SponsorID:  stored.ID,
		IssuedAtMs: issued.UnixMilli(),
		Nonce:      uuid.NewString(),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(issued),
			Subject:  stored.ID,
		},
	}
	stale, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(stored.QRSecret))
	require.NoError(t, err)

	require.ErrorIs(t, svc.VerifySponsorQR(sponsor.ID, stale), models.ErrFailedPrecondition)
}

func TestRotateSponsorSecretInvalidatesOldTokens(t *testing.T) {
	db := openTestDB(t)
	svc, _, sponsor, _ := newRedemptionFixture(t, db)

	old, err := svc.IssueSponsorQR(sponsor.ID)
	require.NoError(t, err)

	version, err := svc.RotateSponsorSecret(sponsor.ID)
	require.NoError(t, err)
	require.Equal(t, 2, version)

	// The old token no longer verifies under the rotated secret.
	require.Error(t, svc.VerifySponsorQR(sponsor.ID, old.Token))

	fresh, err := svc.IssueSponsorQR(sponsor.ID)
	require.NoError(t, err)
	require.Equal(t, 2, fresh.Version)
	require.NoError(t, svc.VerifySponsorQR(sponsor.ID, fresh.Token))
}

func TestVerifySponsorQRWithoutIssuedCodes(t *testing.T) {
	db := openTestDB(t)
	svc, _, sponsor, _ := newRedemptionFixture(t, db)

	require.ErrorIs(t, svc.VerifySponsorQR(sponsor.ID, "anything"), models.ErrFailedPrecondition)
}

func TestIssueSponsorQRKeepsSecretStable(t *testing.T) {
	db := openTestDB(t)
	svc, _, sponsor, _ := newRedemptionFixture(t, db)

	first, err := svc.IssueSponsorQR(sponsor.ID)
	require.NoError(t, err)

	// A later issuance signs with the already initialized secret; it must
	// not regenerate it and strand the first token.
	second, err := svc.IssueSponsorQR(sponsor.ID)
	require.NoError(t, err)
	require.Equal(t, 1, first.Version)
	require.Equal(t, 1, second.Version)

	require.NoError(t, svc.VerifySponsorQR(sponsor.ID, first.Token))
	require.NoError(t, svc.VerifySponsorQR(sponsor.ID, second.Token))
}
