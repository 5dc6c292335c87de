// services/verification.go
package services

import (
	"errors"
	"fmt"
	"log"
	"math"
	"regexp"
	"strings"
	"time"

	"spot-discovery-system/models"
	"spot-discovery-system/utils"

	"gorm.io/gorm"
)

// Signal weights, summing to 100.
const (
	WeightLocation  = 30
	WeightPhoto     = 20
	WeightDuplicate = 20
	WeightTrust     = 20
	WeightContent   = 10
)

// Scoring thresholds.
const (
	AutoApproveScore = 80
	ManualReviewMax  = 50 // below this: plain manual review

	MinSubmissionGap   = 60 * time.Second
	TeleportDistanceM  = 10000.0 // 10 km
	TeleportWindow     = 5 * time.Minute
	MaxPlausibleSpeed  = 50.0 // m/s
	MovementHistoryMax = 5

	ExcellentAccuracyM = 20.0
	GoodAccuracyM      = 50.0
	PoorAccuracyM      = 100.0

	ExifTimeWindow    = time.Hour
	ExifGPSToleranceM = 100.0

	DuplicateBoxDelta   = 0.001 // degrees, ≈111 m of latitude
	DuplicateRadiusM    = 50.0
	DuplicateSimilarity = 0.8
	VeryCloseDistanceM  = 25.0
	CloseDistanceM      = 100.0

	NewAccountGracePeriod = 7 * 24 * time.Hour
	HighApprovalRate      = 0.8
	LowApprovalRate       = 0.3
	DailySubmissionCap    = 3

	TitleMinLen       = 5
	TitleMaxLen       = 100
	DescriptionMinLen = 10
	DescriptionMaxLen = 500
)

// Verification signal tags. Entries in flags force manual review regardless
// of the numeric score; entries in reasons only explain it.
const (
	FlagSuspiciousMovement = "suspicious_movement"
	FlagDuplicateImage     = "duplicate_image"
	FlagPotentialDuplicate = "potential_duplicate"
	FlagShadowBannedUser   = "shadow_banned_user"

	ReasonShadowBanCandidate = "shadow_ban_candidate"
	ReasonRateLimitExceeded  = "rate_limit_exceeded"
	ReasonMockLocation       = "mock_location"
	ReasonNoPhoto            = "no_photo"
	ReasonVerificationError  = "verification_error"
)

var spamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{6,}`),             // long digit runs
	regexp.MustCompile(`(?i)https?://|www\.`), // URLs
	regexp.MustCompile(`(?i)\b(buy now|click here|promo code|free money|limited offer)\b`),
}

// hasRepeatedRun reports whether s contains n or more identical consecutive
// runes. RE2 has no backreferences, so this is a plain scan.
func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
		} else {
			prev, run = r, 1
		}
		if run >= n {
			return true
		}
	}
	return false
}

var blockedTerms = []string{"casino", "viagra", "porn", "escort", "onlyfans"}

// VerifyResult is the outcome of scoring one spot.
type VerifyResult struct {
	Status         models.VerificationStatus `json:"status"`
	Score          int                       `json:"score"`
	Reasons        []string                  `json:"reasons"`
	Flags          []string                  `json:"flags"`
	DetailedScores map[string]int            `json:"detailed_scores"`
}

// VerificationService scores new spot submissions for authenticity and fraud.
// Scoring is idempotent per spot: a spot that already carries a decision is
// never re-scored.
type VerificationService struct {
	DB       *gorm.DB
	Trust    *TrustService
	Economy  *EconomyService
	Notifier Notifier
}

func NewVerificationService(db *gorm.DB, trust *TrustService, economy *EconomyService, notifier Notifier) *VerificationService {
	return &VerificationService{DB: db, Trust: trust, Economy: economy, Notifier: notifier}
}

// VerifySpot scores a PENDING spot, persists the decision together with the
// submitter's trust update, and releases XP when the spot auto-approves.
func (s *VerificationService) VerifySpot(spotID string) (*VerifyResult, error) {
	var spot models.Spot
	if err := s.DB.Where("id = ?", spotID).First(&spot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: spot %s", models.ErrNotFound, spotID)
		}
		return nil, err
	}

	if spot.Decided() {
		// Second scoring of the same spot is a no-op.
		return &VerifyResult{
			Status:  spot.VerificationStatus,
			Score:   spot.VerificationScore,
			Reasons: spot.VerificationReasons,
			Flags:   spot.VerificationFlags,
		}, nil
	}

	result := s.score(&spot)

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Re-assert inside the transaction that nobody decided concurrently.
		// Struct update, not a map: the StringList columns only pass through
		// their JSON serializer on the struct path.
		now := time.Now()
		res := tx.Model(&models.Spot{}).
			Where("id = ? AND verified_at IS NULL", spot.ID).
			Select("verified_at", "verification_status", "verification_score",
				"verification_reasons", "verification_flags").
			Updates(&models.Spot{
				VerifiedAt:          &now,
				VerificationStatus:  result.Status,
				VerificationScore:   result.Score,
				VerificationReasons: models.StringList(result.Reasons),
				VerificationFlags:   models.StringList(result.Flags),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: spot %s already verified", models.ErrAlreadyExists, spot.ID)
		}

		if err := s.Trust.ApplyVerificationOutcome(tx, spot.CreatorID, result.Status, true); err != nil {
			return err
		}

		// XP held pending until moderation settles non-approved spots.
		if result.Status != models.VerificationAutoApproved && spot.XPReward > 0 {
			if err := s.Economy.AddPendingXP(tx, spot.CreatorID, spot.XPReward); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	utils.VerificationsTotal.WithLabelValues(string(result.Status)).Inc()
	log.Printf("🔍 [VERIFY] spot=%s status=%s score=%d flags=%v", spot.ID, result.Status, result.Score, result.Flags)

	if result.Status == models.VerificationAutoApproved && spot.XPReward > 0 {
		// Release is exactly-once by the spot's xp_released guard; a replay
		// of this path cannot double-credit.
		if _, err := s.Economy.ReleaseSpotXP(spot.CreatorID, spot.ID, spot.XPReward,
			fmt.Sprintf("Spot %q approved", spot.Title)); err != nil && !errors.Is(err, models.ErrAlreadyExists) {
			log.Printf("⚠️ [VERIFY] XP release failed for spot %s: %v", spot.ID, err)
		}
		notifyAsync(s.Notifier, spot.CreatorID, "spot_approved", "Spot approved!",
			fmt.Sprintf("%q was verified and you earned %d XP", spot.Title, spot.XPReward))
	}

	return result, nil
}

// score combines the five weighted sub-signals into the final decision.
// Individual sub-check failures degrade to a neutral default instead of
// aborting the whole verification.
func (s *VerificationService) score(spot *models.Spot) *VerifyResult {
	var reasons, flags []string
	detailed := make(map[string]int, 5)

	addSignal := func(name string, score int, signalReasons []string, signalFlags []string, err error) int {
		if err != nil {
			log.Printf("⚠️ [VERIFY] %s signal degraded for spot %s: %v", name, spot.ID, err)
			reasons = append(reasons, "signal_degraded:"+name)
			detailed[name] = 50
			return 50
		}
		reasons = append(reasons, signalReasons...)
		flags = append(flags, signalFlags...)
		detailed[name] = score
		return score
	}

	locScore, locReasons, locFlags, locErr := s.scoreLocationAccuracy(spot)
	loc := addSignal("location_accuracy", locScore, locReasons, locFlags, locErr)

	photoScore, photoReasons, photoFlags, photoErr := s.scorePhotoVerification(spot)
	photo := addSignal("photo_verification", photoScore, photoReasons, photoFlags, photoErr)

	dupScore, dupReasons, dupFlags, dupErr := s.scoreDuplicateDetection(spot)
	dup := addSignal("duplicate_detection", dupScore, dupReasons, dupFlags, dupErr)

	trustScore, trustReasons, trustFlags, trustErr := s.scoreUserTrust(spot)
	trust := addSignal("user_trust", trustScore, trustReasons, trustFlags, trustErr)

	contentScore, contentReasons := s.scoreContentQuality(spot)
	content := addSignal("content_quality", contentScore, contentReasons, nil, nil)

	total := loc*WeightLocation + photo*WeightPhoto + dup*WeightDuplicate +
		trust*WeightTrust + content*WeightContent
	final := int(math.Round(float64(total) / 100.0))

	status := models.VerificationPending
	switch {
	case len(flags) > 0:
		status = models.VerificationFlagged
	case final >= AutoApproveScore:
		status = models.VerificationAutoApproved
	case final < ManualReviewMax:
		reasons = append(reasons, "manual_review")
	default:
		reasons = append(reasons, "borderline_review")
	}

	return &VerifyResult{
		Status:         status,
		Score:          final,
		Reasons:        reasons,
		Flags:          flags,
		DetailedScores: detailed,
	}
}

// scoreLocationAccuracy analyzes recent movement plausibility plus the
// reported GPS accuracy.
func (s *VerificationService) scoreLocationAccuracy(spot *models.Spot) (int, []string, []string, error) {
	var recent []models.Spot
	if err := s.DB.
		Where("creator_id = ? AND id <> ? AND created_at >= ?",
			spot.CreatorID, spot.ID, time.Now().Add(-24*time.Hour)).
		Order("created_at DESC").
		Limit(MovementHistoryMax).
		Find(&recent).Error; err != nil {
		return 0, nil, nil, err
	}

	// Walk the submission chain newest-first, starting from the new spot.
	chain := append([]models.Spot{*spot}, recent...)
	for i := 0; i+1 < len(chain); i++ {
		newer, older := chain[i], chain[i+1]
		gap := newer.CreatedAt.Sub(older.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		dist := utils.HaversineM(newer.Latitude, newer.Longitude, older.Latitude, older.Longitude)

		if gap < MinSubmissionGap {
			return 0, nil, []string{FlagSuspiciousMovement}, nil
		}
		if dist > TeleportDistanceM && gap < TeleportWindow {
			return 0, nil, []string{FlagSuspiciousMovement}, nil
		}
		if gap > 0 && dist/gap.Seconds() > MaxPlausibleSpeed {
			return 0, nil, []string{FlagSuspiciousMovement}, nil
		}
	}

	score := 70
	var reasons []string

	switch {
	case spot.GPSAccuracyM > 0 && spot.GPSAccuracyM <= ExcellentAccuracyM:
		score += 20
	case spot.GPSAccuracyM > 0 && spot.GPSAccuracyM <= GoodAccuracyM:
		score += 10
	case spot.GPSAccuracyM > PoorAccuracyM:
		score -= 20
		reasons = append(reasons, "poor_gps_accuracy")
	}

	if spot.MockLocation {
		reasons = append(reasons, ReasonMockLocation)
		if score > 10 {
			score = 10
		}
	}

	return clampScore(score), reasons, nil, nil
}

// scorePhotoVerification checks the photo hash for exact reuse and the EXIF
// metadata for consistency with the claimed capture.
func (s *VerificationService) scorePhotoVerification(spot *models.Spot) (int, []string, []string, error) {
	if spot.PhotoHash == "" {
		// Missing photo is a penalty, not a failure.
		return 0, []string{ReasonNoPhoto}, nil, nil
	}

	var collisions int64
	if err := s.DB.Model(&models.Spot{}).
		Where("photo_hash = ? AND id <> ?", spot.PhotoHash, spot.ID).
		Count(&collisions).Error; err != nil {
		return 0, nil, nil, err
	}
	if collisions > 0 {
		return 0, nil, []string{FlagDuplicateImage}, nil
	}

	score := 60
	var reasons []string

	if spot.ExifTakenAt != nil {
		age := spot.CreatedAt.Sub(*spot.ExifTakenAt)
		if age < 0 {
			age = -age
		}
		if age <= ExifTimeWindow {
			score += 10
		}
	}

	if spot.ExifLatitude != nil && spot.ExifLongitude != nil {
		d := utils.HaversineM(spot.Latitude, spot.Longitude, *spot.ExifLatitude, *spot.ExifLongitude)
		if d <= ExifGPSToleranceM {
			score += 10
		} else {
			score -= 10
			reasons = append(reasons, "exif_location_mismatch")
		}
	}

	return clampScore(score), reasons, nil, nil
}

// scoreDuplicateDetection scans nearby spots for title and location
// collisions.
func (s *VerificationService) scoreDuplicateDetection(spot *models.Spot) (int, []string, []string, error) {
	minLat, maxLat, minLon, maxLon := utils.BoundingBox(spot.Latitude, spot.Longitude, DuplicateBoxDelta)

	var nearby []models.Spot
	if err := s.DB.
		Where("id <> ? AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?",
			spot.ID, minLat, maxLat, minLon, maxLon).
		Find(&nearby).Error; err != nil {
		return 0, nil, nil, err
	}

	score := 80
	var reasons []string
	newSlug := utils.TitleSlug(spot.Title)

	for _, candidate := range nearby {
		dist := utils.HaversineM(spot.Latitude, spot.Longitude, candidate.Latitude, candidate.Longitude)

		if dist <= DuplicateRadiusM {
			if utils.TitleSlug(candidate.Title) == newSlug ||
				utils.TitleSimilarity(spot.Title, candidate.Title) > DuplicateSimilarity {
				// Hard stop, no point scanning further candidates.
				return 0, nil, []string{FlagPotentialDuplicate}, nil
			}
		}

		if dist < VeryCloseDistanceM {
			score -= 30
			reasons = append(reasons, "very_close_existing_spot")
		} else if dist < CloseDistanceM {
			score -= 10
			reasons = append(reasons, "close_existing_spot")
		}
	}

	return clampScore(score), reasons, nil, nil
}

// scoreUserTrust starts from the persisted trust score and adjusts for
// account age, historical approval rate and submission volume.
func (s *VerificationService) scoreUserTrust(spot *models.Spot) (int, []string, []string, error) {
	var user models.User
	if err := s.DB.Where("id = ?", spot.CreatorID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Unknown account: neutral-low default rather than failure.
			return 30, []string{"unknown_account"}, nil, nil
		}
		return 0, nil, nil, err
	}

	if user.IsShadowBanned {
		return 0, nil, []string{FlagShadowBannedUser}, nil
	}

	score := int(math.Round(user.TrustScore * 100))
	var reasons []string

	if user.AccountAge(time.Now()) > NewAccountGracePeriod {
		score += 10
	}

	if rate := user.ApprovalRate(); rate >= 0 {
		if rate > HighApprovalRate {
			score += 15
		} else if rate < LowApprovalRate {
			score -= 20
			reasons = append(reasons, "low_approval_rate")
			if user.SpotSubmissions >= ShadowBanMinSubmissions &&
				user.RejectionRate() >= ShadowBanRejectionRate {
				reasons = append(reasons, ReasonShadowBanCandidate)
			}
		}
	}

	var todayCount int64
	if err := s.DB.Model(&models.Spot{}).
		Where("creator_id = ? AND id <> ? AND created_at >= ?",
			spot.CreatorID, spot.ID, time.Now().Add(-24*time.Hour)).
		Count(&todayCount).Error; err != nil {
		return 0, nil, nil, err
	}
	if todayCount >= DailySubmissionCap {
		reasons = append(reasons, ReasonRateLimitExceeded)
		if score > 20 {
			score = 20
		}
	}

	return clampScore(score), reasons, nil, nil
}

// scoreContentQuality applies length, spam and blocklist heuristics to the
// title and description. Purely local, cannot fail.
func (s *VerificationService) scoreContentQuality(spot *models.Spot) (int, []string) {
	score := 70
	var reasons []string

	titleLen := len([]rune(strings.TrimSpace(spot.Title)))
	if titleLen < TitleMinLen {
		score -= 30
		reasons = append(reasons, "title_too_short")
	} else if titleLen > TitleMaxLen {
		score -= 10
		reasons = append(reasons, "title_too_long")
	}

	combined := spot.Title + " " + spot.Description
	spammy := hasRepeatedRun(combined, 5)
	for _, pattern := range spamPatterns {
		if spammy {
			break
		}
		spammy = pattern.MatchString(combined)
	}
	if spammy {
		score -= 20
		reasons = append(reasons, "spam_pattern")
	}

	descLen := len([]rune(strings.TrimSpace(spot.Description)))
	if descLen < DescriptionMinLen {
		score -= 15
		reasons = append(reasons, "description_too_short")
	} else if descLen > DescriptionMaxLen {
		score -= 5
		reasons = append(reasons, "description_too_long")
	}

	lower := strings.ToLower(combined)
	for _, term := range blockedTerms {
		if strings.Contains(lower, term) {
			score -= 15
			reasons = append(reasons, "blocked_term")
			break
		}
	}

	if !models.ValidSpotCategory(spot.Category) {
		score -= 10
		reasons = append(reasons, "invalid_category")
	}

	return clampScore(score), reasons
}

// ApproveSpot is the moderation transition PENDING/FLAGGED → APPROVED,
// releasing the pending XP exactly once.
func (s *VerificationService) ApproveSpot(spotID, moderatorID string) error {
	var spot models.Spot
	if err := s.DB.Where("id = ?", spotID).First(&spot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: spot %s", models.ErrNotFound, spotID)
		}
		return err
	}

	switch spot.VerificationStatus {
	case models.VerificationPending, models.VerificationFlagged:
	default:
		return fmt.Errorf("%w: spot %s is %s", models.ErrFailedPrecondition, spotID, spot.VerificationStatus)
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// verified_at is stamped here too: a spot moderated before it was ever
		// scored must not be picked up and re-decided by the scoring path.
		res := tx.Model(&models.Spot{}).
			Where("id = ? AND verification_status IN ?", spotID,
				[]models.VerificationStatus{models.VerificationPending, models.VerificationFlagged}).
			Updates(map[string]interface{}{
				"verification_status": models.VerificationApproved,
				"verified_at":         gorm.Expr("COALESCE(verified_at, ?)", time.Now()),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: spot %s already moderated", models.ErrAlreadyExists, spotID)
		}
		// Scoring already counted the submission unless the spot was never
		// scored; moderation only adjusts the approval counters.
		return s.Trust.ApplyVerificationOutcome(tx, spot.CreatorID, models.VerificationApproved, spot.VerifiedAt == nil)
	})
	if err != nil {
		return err
	}

	if spot.XPReward > 0 {
		if _, err := s.Economy.ReleaseSpotXP(spot.CreatorID, spot.ID, spot.XPReward,
			fmt.Sprintf("Spot %q approved by moderation", spot.Title)); err != nil && !errors.Is(err, models.ErrAlreadyExists) {
			return err
		}
	}

	log.Printf("✅ [VERIFY] Spot %s approved by %s", spotID, moderatorID)
	notifyAsync(s.Notifier, spot.CreatorID, "spot_approved", "Spot approved!",
		fmt.Sprintf("%q passed review", spot.Title))
	return nil
}

// RejectSpot is the moderation transition → REJECTED. Pending XP is denied,
// never granted. REJECTED is terminal.
func (s *VerificationService) RejectSpot(spotID, moderatorID, reason string) error {
	var spot models.Spot
	if err := s.DB.Where("id = ?", spotID).First(&spot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: spot %s", models.ErrNotFound, spotID)
		}
		return err
	}

	if spot.VerificationStatus == models.VerificationRejected {
		return fmt.Errorf("%w: spot %s already rejected", models.ErrAlreadyExists, spotID)
	}
	if spot.XPReleased {
		return fmt.Errorf("%w: spot %s has released XP", models.ErrFailedPrecondition, spotID)
	}

	err := s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Spot{}).
			Where("id = ? AND verification_status <> ? AND xp_released = ?",
				spotID, models.VerificationRejected, false).
			Updates(map[string]interface{}{
				"verification_status": models.VerificationRejected,
				"verified_at":         gorm.Expr("COALESCE(verified_at, ?)", time.Now()),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: spot %s already moderated", models.ErrAlreadyExists, spotID)
		}
		return s.Trust.ApplyVerificationOutcome(tx, spot.CreatorID, models.VerificationRejected, spot.VerifiedAt == nil)
	})
	if err != nil {
		return err
	}

	if spot.XPReward > 0 && !spot.XPDenied {
		if err := s.Economy.DenyXP(spot.CreatorID, spot.ID, spot.XPReward, reason); err != nil && !errors.Is(err, models.ErrAlreadyExists) {
			log.Printf("⚠️ [VERIFY] XP denial failed for spot %s: %v", spotID, err)
		}
	}

	log.Printf("⛔ [VERIFY] Spot %s rejected by %s (%s)", spotID, moderatorID, reason)
	notifyAsync(s.Notifier, spot.CreatorID, "spot_rejected", "Spot rejected",
		fmt.Sprintf("%q did not pass review: %s", spot.Title, reason))
	return nil
}

func clampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
