package store

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mvalvano/telegrab/internal/telemetry"
	"github.com/mvalvano/telegrab/pkg/models"
)

// QuotaDecision is the outcome of an atomic quota check.
type QuotaDecision struct {
	Allowed   bool
	Unlimited bool
	// Used and Limit describe the daily counter for bounded tiers.
	Used  int
	Limit int
}

// GetUser returns a user record by Telegram id.
func (s *Store) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("telegram_id = ?", userID).First(&user).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrUserNotFound)
	}
	return &user, nil
}

// GetOrCreateUser returns the user record, creating a fresh free-tier
// record when none exists.
func (s *Store) GetOrCreateUser(ctx context.Context, userID int64) (*models.User, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "get_or_create_user", telemetry.UserID(userID))
	defer span.End()

	user := models.User{
		TelegramID:       userID,
		Role:             models.RoleFree,
		LastDownloadDate: today(time.Now()),
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&user).Error
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

// SetAgreedTerms records the user's terms acceptance.
func (s *Store) SetAgreedTerms(ctx context.Context, userID int64, agreed bool) error {
	return s.updateUser(ctx, userID, map[string]any{"agreed_terms": agreed})
}

// SetRole changes the user's tier. A premium role may carry an expiry.
func (s *Store) SetRole(ctx context.Context, userID int64, role models.Role, expiry *time.Time) error {
	if role != models.RolePremium {
		expiry = nil
	}
	return s.updateUser(ctx, userID, map[string]any{
		"role":           role,
		"premium_expiry": expiry,
	})
}

// SetBanned toggles the user's ban flag.
func (s *Store) SetBanned(ctx context.Context, userID int64, banned bool) error {
	return s.updateUser(ctx, userID, map[string]any{"banned": banned})
}

// SaveCredential stores the durable session credential exported by a
// completed login handshake.
func (s *Store) SaveCredential(ctx context.Context, userID int64, credential string) error {
	return s.updateUser(ctx, userID, map[string]any{"credential": credential})
}

// ClearCredential removes the durable session credential (logout).
func (s *Store) ClearCredential(ctx context.Context, userID int64) error {
	return s.updateUser(ctx, userID, map[string]any{"credential": ""})
}

// IncrementQuota adds to the user's daily download counter.
func (s *Store) IncrementQuota(ctx context.Context, userID int64, n int) error {
	ctx, span := telemetry.StartStoreSpan(ctx, "increment_quota", telemetry.UserID(userID))
	defer span.End()

	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("telegram_id = ?", userID).
		UpdateColumn("downloads_today", gorm.Expr("downloads_today + ?", n))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

// CheckQuota atomically evaluates the user's daily quota, resetting the
// counter on a date rollover and downgrading lapsed premium roles in the
// same transaction. It does not consume quota; IncrementQuota records
// consumption after a successful transfer.
func (s *Store) CheckQuota(ctx context.Context, userID int64, freeLimit int) (*QuotaDecision, error) {
	ctx, span := telemetry.StartStoreSpan(ctx, "check_quota", telemetry.UserID(userID))
	defer span.End()

	var decision QuotaDecision

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("telegram_id = ?", userID).First(&user).Error; err != nil {
			return convertNotFoundError(err, models.ErrUserNotFound)
		}

		now := time.Now().UTC()

		if user.PremiumExpired(now) {
			user.Role = models.RoleFree
			user.PremiumExpiry = nil
			if err := tx.Model(&user).
				Select("Role", "PremiumExpiry").
				Updates(&user).Error; err != nil {
				return err
			}
		}

		if user.Role.Unlimited() {
			decision = QuotaDecision{Allowed: true, Unlimited: true}
			return nil
		}

		if user.LastDownloadDate != today(now) {
			user.DownloadsToday = 0
			user.LastDownloadDate = today(now)
			if err := tx.Model(&user).Updates(map[string]any{
				"downloads_today":    0,
				"last_download_date": user.LastDownloadDate,
			}).Error; err != nil {
				return err
			}
		}

		decision = QuotaDecision{
			Allowed: user.DownloadsToday < freeLimit,
			Used:    user.DownloadsToday,
			Limit:   freeLimit,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &decision, nil
}

func (s *Store) updateUser(ctx context.Context, userID int64, fields map[string]any) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("telegram_id = ?", userID).
		Updates(fields)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// Updates with identical values still affect rows in GORM; zero
		// rows means the user does not exist.
		var count int64
		s.db.WithContext(ctx).Model(&models.User{}).Where("telegram_id = ?", userID).Count(&count)
		if count == 0 {
			return models.ErrUserNotFound
		}
	}
	return nil
}

// today returns the UTC date used for daily quota bookkeeping.
func today(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
