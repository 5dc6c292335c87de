// services/redemption.go
package services

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"

	"spot-discovery-system/models"
	"spot-discovery-system/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Scanned reward codes are tried against these shapes, in order: structured
// deep link, legacy delimited code, raw identifier.
var (
	rewardDeepLinkRe = regexp.MustCompile(`^spotquest://reward/([0-9a-fA-F-]{36})$`)
	rewardLegacyRe   = regexp.MustCompile(`^SPOTQUEST-REWARD:([0-9a-fA-F-]{36})$`)
	redemptionCodeRe = regexp.MustCompile(`^RDM:([0-9a-fA-F-]{36}):[0-9a-fA-F-]+$`)
)

// sponsorQRClaims is the signed payload embedded in a sponsor QR token.
type sponsorQRClaims struct {
	Version    int    `json:"ver"`
	SponsorID  string `json:"sponsor_id"`
	IssuedAtMs int64  `json:"iat_ms"`
	Nonce      string `json:"nonce"`
	jwt.RegisteredClaims
}

// SponsorQR is the issuance result handed to the sponsor client. Expiry is
// advisory: validation re-derives it from the embedded timestamp and the
// sponsor's expiry setting at validation time.
type SponsorQR struct {
	Token     string `json:"token"`
	ExpiresIn int    `json:"expires_in"` // seconds
	Version   int    `json:"version"`
}

// RedemptionService implements the signed QR issuance/rotation protocol and
// the atomic redemption flow against the economy ledger.
type RedemptionService struct {
	DB       *gorm.DB
	Economy  *EconomyService
	Notifier Notifier
}

func NewRedemptionService(db *gorm.DB, economy *EconomyService, notifier Notifier) *RedemptionService {
	return &RedemptionService{DB: db, Economy: economy, Notifier: notifier}
}

// IssueSponsorQR builds a fresh signed QR token for the sponsor. The secret
// is generated lazily on the first issuance; the conditional write below
// makes concurrent first issuances agree on a single secret instead of one
// silently invalidating the other's tokens.
func (s *RedemptionService) IssueSponsorQR(sponsorID string) (*SponsorQR, error) {
	var out *SponsorQR
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var sponsor models.Sponsor
		if err := tx.Where("id = ?", sponsorID).First(&sponsor).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: sponsor %s", models.ErrNotFound, sponsorID)
			}
			return err
		}

		if sponsor.QRSecret == "" {
			secret, err := newSecret()
			if err != nil {
				return err
			}
			res := tx.Model(&models.Sponsor{}).
				Where("id = ? AND qr_secret = ''", sponsorID).
				Updates(map[string]interface{}{"qr_secret": secret, "qr_secret_version": 1})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				sponsor.QRSecret = secret
				sponsor.QRSecretVersion = 1
			} else if err := tx.Where("id = ?", sponsorID).First(&sponsor).Error; err != nil {
				// Another issuer initialized the secret first; sign with theirs.
				return err
			}
		}

		nonce := uuid.NewString()
		now := time.Now()
		claims := sponsorQRClaims{
			Version:    sponsor.QRSecretVersion,
			SponsorID:  sponsor.ID,
			IssuedAtMs: now.UnixMilli(),
			Nonce:      nonce,
			RegisteredClaims: jwt.RegisteredClaims{
				IssuedAt: jwt.NewNumericDate(now),
				Subject:  sponsor.ID,
			},
		}

		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(sponsor.QRSecret))
		if err != nil {
			return err
		}

		if err := tx.Model(&models.Sponsor{}).
			Where("id = ?", sponsorID).
			Update("last_nonce", nonce).Error; err != nil {
			return err
		}

		out = &SponsorQR{
			Token:     token,
			ExpiresIn: sponsor.QRExpiryMinutes * 60,
			Version:   sponsor.QRSecretVersion,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RotateSponsorSecret replaces the signing key and bumps the version,
// invalidating every previously issued code for the sponsor.
func (s *RedemptionService) RotateSponsorSecret(sponsorID string) (int, error) {
	var version int
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var sponsor models.Sponsor
		if err := tx.Where("id = ?", sponsorID).First(&sponsor).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: sponsor %s", models.ErrNotFound, sponsorID)
			}
			return err
		}

		secret, err := newSecret()
		if err != nil {
			return err
		}
		sponsor.QRSecret = secret
		sponsor.QRSecretVersion++
		version = sponsor.QRSecretVersion
		return tx.Save(&sponsor).Error
	})
	if err != nil {
		return 0, err
	}
	log.Printf("🔄 [QR] Sponsor %s secret rotated to v%d", sponsorID, version)
	return version, nil
}

// VerifySponsorQR checks a presented sponsor token: signature under the
// current secret, version match, and expiry re-derived from the embedded
// issue timestamp and the sponsor's current expiry window.
func (s *RedemptionService) VerifySponsorQR(sponsorID, token string) error {
	var sponsor models.Sponsor
	if err := s.DB.Where("id = ?", sponsorID).First(&sponsor).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: sponsor %s", models.ErrNotFound, sponsorID)
		}
		return err
	}
	if sponsor.QRSecret == "" {
		return fmt.Errorf("%w: sponsor has no issued codes", models.ErrFailedPrecondition)
	}

	var claims sponsorQRClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(sponsor.QRSecret), nil
	})
	if err != nil || !parsed.Valid {
		return fmt.Errorf("%w: invalid QR signature", models.ErrInvalidArgument)
	}

	if claims.Version != sponsor.QRSecretVersion || claims.SponsorID != sponsor.ID {
		return fmt.Errorf("%w: QR code superseded", models.ErrFailedPrecondition)
	}

	issued := time.UnixMilli(claims.IssuedAtMs)
	if time.Since(issued) > time.Duration(sponsor.QRExpiryMinutes)*time.Minute {
		return fmt.Errorf("%w: QR code expired", models.ErrFailedPrecondition)
	}
	return nil
}

// ParseRewardCode extracts the reward id from a scanned code.
func ParseRewardCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if m := rewardDeepLinkRe.FindStringSubmatch(code); m != nil {
		return strings.ToLower(m[1]), nil
	}
	if m := rewardLegacyRe.FindStringSubmatch(code); m != nil {
		return strings.ToLower(m[1]), nil
	}
	if id, err := uuid.Parse(code); err == nil {
		return id.String(), nil
	}
	return "", fmt.Errorf("%w: unrecognized reward code", models.ErrInvalidArgument)
}

// RedeemReward spends the user's XP on the reward identified by scannedCode.
// The redemption record, XP debit and reward counter increment commit in one
// transaction; a failure anywhere leaves no observable side effect.
func (s *RedemptionService) RedeemReward(userID, scannedCode string) (*models.Redemption, error) {
	rewardID, err := ParseRewardCode(scannedCode)
	if err != nil {
		utils.RedemptionsTotal.WithLabelValues("invalid_code").Inc()
		return nil, err
	}

	var redemption *models.Redemption
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var reward models.Reward
		if err := tx.Where("id = ?", rewardID).First(&reward).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: reward %s", models.ErrNotFound, rewardID)
			}
			return err
		}

		now := time.Now()
		if !reward.Redeemable(now) {
			return fmt.Errorf("%w: reward %s is not redeemable", models.ErrFailedPrecondition, rewardID)
		}

		// A user cannot hold two live redemptions of the same reward.
		var live int64
		if err := tx.Model(&models.Redemption{}).
			Where("user_id = ? AND reward_id = ? AND used = ?", userID, rewardID, false).
			Count(&live).Error; err != nil {
			return err
		}
		if live > 0 {
			return fmt.Errorf("%w: reward %s already redeemed", models.ErrAlreadyExists, rewardID)
		}

		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
			}
			return err
		}

		// The debit is guarded on the balance it was computed from, so a
		// concurrent award or debit forces a re-read and a fresh sufficiency
		// check instead of a lost update.
		prevXP, _, err := casUserBalance(tx, &user, func(prev int64) (int64, error) {
			if prev < reward.XPCost {
				return 0, fmt.Errorf("%w: insufficient XP (%d < %d)", models.ErrFailedPrecondition, prev, reward.XPCost)
			}
			return prev - reward.XPCost, nil
		})
		if err != nil {
			return err
		}
		prevLevel := LevelForXP(prevXP)

		redemptionID := uuid.NewString()
		r := models.Redemption{
			ID:        redemptionID,
			UserID:    userID,
			RewardID:  reward.ID,
			SponsorID: reward.SponsorID,
			XPUsed:    reward.XPCost,
			// The code embeds the redemption id so sponsor-side validation
			// can locate the record from the scan alone.
			Code: fmt.Sprintf("RDM:%s:%s", redemptionID, shortID(userID)),
		}
		if err := tx.Create(&r).Error; err != nil {
			return err
		}

		entry := models.XPTransaction{
			ID:            uuid.NewString(),
			UserID:        userID,
			Action:        ActionRewardRedeemed,
			ResourceID:    r.ID,
			Amount:        -reward.XPCost,
			Description:   fmt.Sprintf("Redeemed %q", reward.Title),
			PreviousXP:    prevXP,
			NewXP:         user.XPPoints,
			PreviousLevel: prevLevel,
			NewLevel:      user.Level,
			Type:          models.XPTypeAdjustment,
			Metadata:      models.XPMetadata{"reward_id": reward.ID, "sponsor_id": reward.SponsorID},
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		// Counter bump re-checks the cap so a concurrent redemption cannot
		// push past MaxRedemptions.
		res := tx.Model(&models.Reward{}).
			Where("id = ? AND active = ? AND (max_redemptions = 0 OR redemption_count < max_redemptions)",
				reward.ID, true).
			Update("redemption_count", gorm.Expr("redemption_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: reward %s reached its redemption cap", models.ErrFailedPrecondition, rewardID)
		}

		redemption = &r
		return nil
	})
	if err != nil {
		utils.RedemptionsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	utils.RedemptionsTotal.WithLabelValues("redeemed").Inc()
	utils.XPAwardsTotal.WithLabelValues(string(models.XPTypeAdjustment)).Inc()
	log.Printf("🎟️ [REDEEM] user=%s reward=%s xp=%d", userID, redemption.RewardID, redemption.XPUsed)
	notifyAsync(s.Notifier, userID, "reward_redeemed", "Reward redeemed!",
		fmt.Sprintf("Show code %s to the sponsor", redemption.Code))
	return redemption, nil
}

// ValidateRedemption marks a presented redemption used, exactly once. The
// caller must own the sponsor that funded the reward.
func (s *RedemptionService) ValidateRedemption(validatorUserID, presentedCode string) (*models.Redemption, error) {
	redemptionID, err := parseRedemptionCode(presentedCode)
	if err != nil {
		return nil, err
	}

	var out *models.Redemption
	err = s.DB.Transaction(func(tx *gorm.DB) error {
		var redemption models.Redemption
		if err := tx.Where("id = ?", redemptionID).First(&redemption).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: redemption not found", models.ErrNotFound)
			}
			return err
		}

		var sponsor models.Sponsor
		if err := tx.Where("id = ?", redemption.SponsorID).First(&sponsor).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: sponsor %s", models.ErrNotFound, redemption.SponsorID)
			}
			return err
		}
		if sponsor.OwnerID != validatorUserID {
			return fmt.Errorf("%w: redemption belongs to another sponsor", models.ErrPermissionDenied)
		}

		if redemption.Used {
			return fmt.Errorf("%w: redemption already validated", models.ErrAlreadyExists)
		}

		// The used flag flips exactly once: the conditional update re-checks
		// under the same transaction that writes it.
		now := time.Now()
		res := tx.Model(&models.Redemption{}).
			Where("id = ? AND used = ?", redemption.ID, false).
			Updates(map[string]interface{}{
				"used":         true,
				"used_at":      now,
				"validated_by": validatorUserID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: redemption already validated", models.ErrAlreadyExists)
		}

		redemption.Used = true
		redemption.UsedAt = &now
		redemption.ValidatedBy = validatorUserID
		out = &redemption
		return nil
	})
	if err != nil {
		utils.RedemptionsTotal.WithLabelValues("validation_rejected").Inc()
		return nil, err
	}

	utils.RedemptionsTotal.WithLabelValues("validated").Inc()
	log.Printf("✅ [REDEEM] Redemption %s validated by %s", out.ID, validatorUserID)
	return out, nil
}

// parseRedemptionCode extracts the redemption id from a presented code,
// accepting the RDM envelope or a raw id.
func parseRedemptionCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if m := redemptionCodeRe.FindStringSubmatch(code); m != nil {
		return strings.ToLower(m[1]), nil
	}
	if id, err := uuid.Parse(code); err == nil {
		return id.String(), nil
	}
	return "", fmt.Errorf("%w: unrecognized redemption code", models.ErrInvalidArgument)
}

func newSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
