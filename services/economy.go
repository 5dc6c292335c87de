// services/economy.go
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

// LevelXPStep is the XP required per level. The canonical level formula is
// level = xp/LevelXPStep + 1 (integer division), applied on every code path.
const LevelXPStep = 500

// LevelForXP derives the level from a total XP balance.
func LevelForXP(xp int64) int {
	if xp < 0 {
		xp = 0
	}
	return int(xp/LevelXPStep) + 1
}

// XP actions recorded in the ledger.
const (
	ActionSpotApproved   = "spot_approved"
	ActionSpotDenied     = "spot_denied"
	ActionRewardRedeemed = "reward_redeemed"
	ActionAdminAdjust    = "admin_adjustment"
)

// DefaultXPRules gate repeatable awards (tunable via config later).
var DefaultXPRules = map[string]models.XPRule{
	ActionSpotApproved: {
		Action:          ActionSpotApproved,
		Amount:          100,
		CooldownMinutes: 0,
		MaxDaily:        0, // submissions are capped upstream by the daily cap check
		PerEntity:       true,
	},
}

// AwardResult is returned by every balance-changing economy operation.
type AwardResult struct {
	NewTotalXP int64 `json:"new_total_xp"`
	NewLevel   int   `json:"new_level"`
	LeveledUp  bool  `json:"leveled_up"`
	Amount     int64 `json:"amount"`
	Duplicate  bool  `json:"duplicate"` // true when an idempotency key matched a prior award
}

// CooldownCheck is the result of CheckCooldown.
type CooldownCheck struct {
	Allowed          bool  `json:"allowed"`
	RemainingSeconds int64 `json:"remaining_seconds,omitempty"`
}

// DailyLimitCheck is the result of CheckDailyLimit.
type DailyLimitCheck struct {
	Allowed      bool `json:"allowed"`
	CurrentCount int  `json:"current_count"`
}

// EconomyService owns the append-only XP ledger and the users' XP balances.
// Every mutation runs in a single transaction per user: read balance,
// validate, write new balance plus the ledger entry, all or nothing.
type EconomyService struct {
	DB       *gorm.DB
	Badges   *BadgeService
	Notifier Notifier
}

func NewEconomyService(db *gorm.DB, badges *BadgeService, notifier Notifier) *EconomyService {
	return &EconomyService{DB: db, Badges: badges, Notifier: notifier}
}

// balanceWriteAttempts bounds the optimistic balance-update loop.
const balanceWriteAttempts = 3

// casUserBalance writes a new XP balance with an optimistic guard on the
// previously read value. Under read committed two concurrent mutations would
// otherwise both read the same balance and the later commit would swallow
// the earlier one; the guard turns that into a re-read and recompute.
// compute maps the current balance to the next one and may reject.
// Returns the balance before and after; user is left reloaded and updated.
func casUserBalance(tx *gorm.DB, user *models.User, compute func(prev int64) (int64, error)) (int64, int64, error) {
	for attempt := 0; attempt < balanceWriteAttempts; attempt++ {
		prev := user.XPPoints
		next, err := compute(prev)
		if err != nil {
			return 0, 0, err
		}
		res := tx.Model(&models.User{}).
			Where("id = ? AND xp_points = ?", user.ID, prev).
			Updates(map[string]interface{}{
				"xp_points": next,
				"level":     LevelForXP(next),
			})
		if res.Error != nil {
			return 0, 0, res.Error
		}
		if res.RowsAffected == 1 {
			user.XPPoints = next
			user.Level = LevelForXP(next)
			return prev, next, nil
		}
		if err := tx.Where("id = ?", user.ID).First(user).Error; err != nil {
			return 0, 0, err
		}
	}
	return 0, 0, fmt.Errorf("%w: balance contention for user %s", models.ErrInternal, user.ID)
}

// drainPendingXP subtracts amount from the pending counter, clamping at zero,
// in a single atomic statement.
func drainPendingXP(tx *gorm.DB, userID string, amount int64) error {
	return tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("xp_pending",
			gorm.Expr("CASE WHEN xp_pending > ? THEN xp_pending - ? ELSE 0 END", amount, amount)).Error
}

// EnsureUser ensures an economy record exists for the gateway identity
// (idempotent).
func (s *EconomyService) EnsureUser(userID string) (*models.User, error) {
	var user models.User
	err := s.DB.Where("id = ?", userID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		user = models.User{
			ID:         userID,
			Level:      1,
			TrustScore: 1.0,
		}
		if err := s.DB.Create(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// AwardXP credits amount to the user and appends one ledger entry.
// If resourceID is non-empty it acts as an idempotency key: a prior AWARD for
// the same (user, action, resource) makes the call a no-op returning the
// previously recorded amount.
func (s *EconomyService) AwardXP(userID, action, resourceID string, amount int64, description string, metadata models.XPMetadata) (*AwardResult, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: award amount must be positive", models.ErrInvalidArgument)
	}

	var result *AwardResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
			}
			return err
		}

		if resourceID != "" {
			prior, exists, err := s.findPriorAward(tx, userID, action, resourceID)
			if err != nil {
				return err
			}
			if exists {
				result = &AwardResult{
					NewTotalXP: user.XPPoints,
					NewLevel:   user.Level,
					Amount:     prior.Amount,
					Duplicate:  true,
				}
				return nil
			}
		}

		if rule, ok := DefaultXPRules[action]; ok {
			cd, err := checkCooldown(tx, userID, action, resourceID, rule)
			if err != nil {
				return err
			}
			if !cd.Allowed {
				return fmt.Errorf("%w: %s on cooldown for %ds", models.ErrFailedPrecondition, action, cd.RemainingSeconds)
			}
			daily, err := checkDailyLimit(tx, userID, action, rule)
			if err != nil {
				return err
			}
			if !daily.Allowed {
				return fmt.Errorf("%w: daily limit reached for %s", models.ErrFailedPrecondition, action)
			}
		}

		res, err := s.applyAward(tx, &user, action, resourceID, amount, description, models.XPTypeAward, metadata)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterAward(userID, result)
	return result, nil
}

// ReleaseSpotXP credits the XP held pending for an approved spot. The spot's
// xp_released flag is flipped with a conditional update inside the same
// transaction, so a concurrent release of the same spot becomes a no-op.
func (s *EconomyService) ReleaseSpotXP(userID, spotID string, amount int64, description string) (*AwardResult, error) {
	var spot models.Spot
	if err := s.DB.Where("id = ?", spotID).First(&spot).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: spot %s", models.ErrNotFound, spotID)
		}
		return nil, err
	}
	if spot.XPReleased {
		return nil, fmt.Errorf("%w: XP already released for spot %s", models.ErrAlreadyExists, spotID)
	}

	var result *AwardResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		// Re-verify under the transaction; RowsAffected==0 means another
		// writer released first.
		res := tx.Model(&models.Spot{}).
			Where("id = ? AND xp_released = ?", spotID, false).
			Update("xp_released", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: XP already released for spot %s", models.ErrAlreadyExists, spotID)
		}

		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
			}
			return err
		}

		if err := drainPendingXP(tx, userID, amount); err != nil {
			return err
		}

		awardRes, err := s.applyAward(tx, &user, ActionSpotApproved, spotID, amount, description, models.XPTypeAward, models.XPMetadata{"spot_id": spotID})
		if err != nil {
			return err
		}
		result = awardRes
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterAward(userID, result)
	return result, nil
}

// DenyXP records that pending XP was denied. The balance is untouched (the
// XP was never granted); a negative DENIAL entry is appended for the audit
// trail and the pending counter is drained.
func (s *EconomyService) DenyXP(userID, spotID string, amount int64, reason string) error {
	return s.DB.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Spot{}).
			Where("id = ? AND xp_denied = ? AND xp_released = ?", spotID, false, false).
			Update("xp_denied", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: XP already settled for spot %s", models.ErrAlreadyExists, spotID)
		}

		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
			}
			return err
		}

		if err := drainPendingXP(tx, userID, amount); err != nil {
			return err
		}

		entry := models.XPTransaction{
			ID:            uuid.NewString(),
			UserID:        userID,
			Action:        ActionSpotDenied,
			ResourceID:    spotID,
			Amount:        -amount,
			Description:   reason,
			PreviousXP:    user.XPPoints,
			NewXP:         user.XPPoints, // balance unchanged
			PreviousLevel: user.Level,
			NewLevel:      user.Level,
			Type:          models.XPTypeDenial,
			Metadata:      models.XPMetadata{"spot_id": spotID},
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		utils.XPAwardsTotal.WithLabelValues(string(models.XPTypeDenial)).Inc()
		log.Printf("💸 [ECONOMY] XP denied: user=%s spot=%s amount=%d (%s)", userID, spotID, amount, reason)
		return nil
	})
}

// AdjustXP applies a privileged correction. The resulting balance is clamped
// at 0 and the level recomputed; the actor is recorded on the ledger entry.
// Capability enforcement happens at the handler (admin role required).
func (s *EconomyService) AdjustXP(userID string, delta int64, reason, actorID string) (*AwardResult, error) {
	var result *AwardResult
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: user %s", models.ErrNotFound, userID)
			}
			return err
		}

		prevXP, newXP, err := casUserBalance(tx, &user, func(prev int64) (int64, error) {
			next := prev + delta
			if next < 0 {
				next = 0
			}
			return next, nil
		})
		if err != nil {
			return err
		}
		prevLevel := LevelForXP(prevXP)
		newLevel := user.Level

		entry := models.XPTransaction{
			ID:            uuid.NewString(),
			UserID:        userID,
			Action:        ActionAdminAdjust,
			Amount:        newXP - prevXP, // effective delta after clamping
			Description:   reason,
			PreviousXP:    prevXP,
			NewXP:         newXP,
			PreviousLevel: prevLevel,
			NewLevel:      newLevel,
			LeveledUp:     newLevel > prevLevel,
			Type:          models.XPTypeAdmin,
			Metadata:      models.XPMetadata{"actor_id": actorID},
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}

		utils.XPAwardsTotal.WithLabelValues(string(models.XPTypeAdmin)).Inc()
		result = &AwardResult{
			NewTotalXP: newXP,
			NewLevel:   newLevel,
			LeveledUp:  newLevel > prevLevel,
			Amount:     newXP - prevXP,
		}
		log.Printf("🛠️ [ECONOMY] Admin adjust: user=%s delta=%d applied=%d by=%s (%s)",
			userID, delta, newXP-prevXP, actorID, reason)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.afterAward(userID, result)
	return result, nil
}

// AddPendingXP increases the user's pending counter when a spot enters
// manual review with an XP reward attached. Runs in the caller's transaction.
func (s *EconomyService) AddPendingXP(tx *gorm.DB, userID string, amount int64) error {
	return tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("xp_pending", gorm.Expr("xp_pending + ?", amount)).Error
}

// CheckDuplicateAward reports whether an AWARD entry already exists for the
// (user, action, resource) idempotency tuple.
func (s *EconomyService) CheckDuplicateAward(userID, action, resourceID string) (bool, error) {
	_, exists, err := s.findPriorAward(s.DB, userID, action, resourceID)
	return exists, err
}

// CheckCooldown rejects an award when the same action (optionally the same
// entity) was rewarded within the rule's cooldown window. AwardXP consults
// this inside its transaction for any action with a configured rule.
func (s *EconomyService) CheckCooldown(userID, action, entityID string, rule models.XPRule) (*CooldownCheck, error) {
	return checkCooldown(s.DB, userID, action, entityID, rule)
}

func checkCooldown(tx *gorm.DB, userID, action, entityID string, rule models.XPRule) (*CooldownCheck, error) {
	if rule.CooldownMinutes <= 0 {
		return &CooldownCheck{Allowed: true}, nil
	}

	q := tx.Where("user_id = ? AND action = ?", userID, action)
	if rule.PerEntity && entityID != "" {
		q = q.Where("entity_id = ?", entityID)
	}

	var last models.XPHistory
	err := q.Order("awarded_at DESC").First(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &CooldownCheck{Allowed: true}, nil
	}
	if err != nil {
		return nil, err
	}

	until := last.AwardedAt.Add(time.Duration(rule.CooldownMinutes) * time.Minute)
	remaining := time.Until(until)
	if remaining <= 0 {
		return &CooldownCheck{Allowed: true}, nil
	}
	return &CooldownCheck{Allowed: false, RemainingSeconds: int64(remaining.Seconds()) + 1}, nil
}

// CheckDailyLimit rejects once the action has been rewarded rule.MaxDaily
// times since UTC midnight.
func (s *EconomyService) CheckDailyLimit(userID, action string, rule models.XPRule) (*DailyLimitCheck, error) {
	return checkDailyLimit(s.DB, userID, action, rule)
}

func checkDailyLimit(tx *gorm.DB, userID, action string, rule models.XPRule) (*DailyLimitCheck, error) {
	if rule.MaxDaily <= 0 {
		return &DailyLimitCheck{Allowed: true}, nil
	}

	dayStart := time.Now().UTC().Truncate(24 * time.Hour)
	var count int64
	if err := tx.Model(&models.XPHistory{}).
		Where("user_id = ? AND action = ? AND awarded_at >= ?", userID, action, dayStart).
		Count(&count).Error; err != nil {
		return nil, err
	}

	return &DailyLimitCheck{
		Allowed:      count < int64(rule.MaxDaily),
		CurrentCount: int(count),
	}, nil
}

// ReplayLedger recomputes a user's balance from the ordered ledger. Intended
// for audits: the result must equal the stored XPPoints.
func (s *EconomyService) ReplayLedger(userID string) (int64, error) {
	var entries []models.XPTransaction
	if err := s.DB.Where("user_id = ?", userID).
		Order("created_at ASC, new_xp ASC").
		Find(&entries).Error; err != nil {
		return 0, err
	}

	var xp int64
	for _, e := range entries {
		if e.Type == models.XPTypeDenial {
			continue // denied XP never touched the balance
		}
		xp += e.Amount
		if xp < 0 {
			xp = 0
		}
	}
	return xp, nil
}

// GetLedger returns the user's ledger entries, newest first.
func (s *EconomyService) GetLedger(userID string, limit, offset int) ([]models.XPTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var entries []models.XPTransaction
	err := s.DB.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).Offset(offset).
		Find(&entries).Error
	return entries, err
}

// findPriorAward looks up an AWARD entry for the idempotency tuple.
func (s *EconomyService) findPriorAward(tx *gorm.DB, userID, action, resourceID string) (*models.XPTransaction, bool, error) {
	var prior models.XPTransaction
	err := tx.Where("user_id = ? AND action = ? AND resource_id = ? AND type = ?",
		userID, action, resourceID, models.XPTypeAward).
		First(&prior).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &prior, true, nil
}

// applyAward mutates the user's balance inside tx and appends the ledger
// entry plus the cooldown history row.
func (s *EconomyService) applyAward(tx *gorm.DB, user *models.User, action, resourceID string, amount int64, description string, entryType models.XPTransactionType, metadata models.XPMetadata) (*AwardResult, error) {
	prevXP, newXP, err := casUserBalance(tx, user, func(prev int64) (int64, error) {
		return prev + amount, nil
	})
	if err != nil {
		return nil, err
	}
	prevLevel := LevelForXP(prevXP)
	newLevel := user.Level

	entry := models.XPTransaction{
		ID:            uuid.NewString(),
		UserID:        user.ID,
		Action:        action,
		ResourceID:    resourceID,
		Amount:        amount,
		Description:   description,
		PreviousXP:    prevXP,
		NewXP:         newXP,
		PreviousLevel: prevLevel,
		NewLevel:      newLevel,
		LeveledUp:     newLevel > prevLevel,
		Type:          entryType,
		Metadata:      metadata,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}

	history := models.XPHistory{
		ID:       uuid.NewString(),
		UserID:   user.ID,
		Action:   action,
		EntityID: resourceID,
	}
	if err := tx.Create(&history).Error; err != nil {
		return nil, err
	}

	utils.XPAwardsTotal.WithLabelValues(string(entryType)).Inc()
	log.Printf("🎮 [ECONOMY] XP awarded: user=%s +%d → XP=%d, Lvl=%d (action: %s)",
		user.ID, amount, newXP, newLevel, action)

	return &AwardResult{
		NewTotalXP: newXP,
		NewLevel:   newLevel,
		LeveledUp:  newLevel > prevLevel,
		Amount:     amount,
	}, nil
}

// afterAward runs the post-commit side effects: badge evaluation and
// level-up notification. Both are tolerant; failures are logged only.
func (s *EconomyService) afterAward(userID string, result *AwardResult) {
	if result == nil || result.Duplicate {
		return
	}
	if s.Badges != nil {
		if err := s.Badges.CheckAndUnlockBadges(userID, result.NewTotalXP, result.NewLevel); err != nil {
			log.Printf("⚠️ [ECONOMY] badge check failed for %s: %v", userID, err)
		}
	}
	if result.LeveledUp {
		notifyAsync(s.Notifier, userID, "level_up", "Level up!",
			fmt.Sprintf("You reached level %d", result.NewLevel))
	}
}
