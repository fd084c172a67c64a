package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvalvano/telegrab/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(&Config{
		Type:   DatabaseTypeSQLite,
		SQLite: SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetOrCreateUser(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.GetOrCreateUser(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, int64(100), user.TelegramID)
	assert.Equal(t, models.RoleFree, user.Role)
	assert.False(t, user.AgreedTerms)
	assert.False(t, user.HasCredential())

	// Second call returns the existing record.
	require.NoError(t, s.SetAgreedTerms(ctx, 100, true))
	again, err := s.GetOrCreateUser(ctx, 100)
	require.NoError(t, err)
	assert.True(t, again.AgreedTerms)
}

func TestGetUserNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetUser(context.Background(), 404)
	assert.ErrorIs(t, err, models.ErrUserNotFound)
}

func TestCredentialRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreateUser(ctx, 7)
	require.NoError(t, err)

	require.NoError(t, s.SaveCredential(ctx, 7, "exported-session-string"))
	user, err := s.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.True(t, user.HasCredential())
	assert.Equal(t, "exported-session-string", user.Credential)

	require.NoError(t, s.ClearCredential(ctx, 7))
	user, err = s.GetUser(ctx, 7)
	require.NoError(t, err)
	assert.False(t, user.HasCredential())
}

func TestCheckQuotaFreeTier(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreateUser(ctx, 1)
	require.NoError(t, err)

	const limit = 5
	for i := range limit {
		d, err := s.CheckQuota(ctx, 1, limit)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d within quota", i)
		assert.Equal(t, i, d.Used)
		require.NoError(t, s.IncrementQuota(ctx, 1, 1))
	}

	d, err := s.CheckQuota(ctx, 1, limit)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, limit, d.Used)
}

func TestCheckQuotaResetsOnDateRollover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreateUser(ctx, 1)
	require.NoError(t, err)
	require.NoError(t, s.IncrementQuota(ctx, 1, 5))

	// Force yesterday's date into the record.
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	require.NoError(t, s.db.Model(&models.User{}).
		Where("telegram_id = ?", 1).
		Update("last_download_date", yesterday).Error)

	d, err := s.CheckQuota(ctx, 1, 5)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Used, "counter must reset on a new day")
}

func TestCheckQuotaUnlimitedRoles(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, role := range []models.Role{models.RolePremium, models.RoleAdmin, models.RoleOwner} {
		_, err := s.GetOrCreateUser(ctx, 10)
		require.NoError(t, err)
		require.NoError(t, s.SetRole(ctx, 10, role, nil))

		d, err := s.CheckQuota(ctx, 10, 5)
		require.NoError(t, err)
		assert.True(t, d.Allowed, "role %s", role)
		assert.True(t, d.Unlimited, "role %s", role)
	}
}

func TestCheckQuotaDowngradesExpiredPremium(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetOrCreateUser(ctx, 2)
	require.NoError(t, err)

	expired := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.SetRole(ctx, 2, models.RolePremium, &expired))

	d, err := s.CheckQuota(ctx, 2, 5)
	require.NoError(t, err)
	assert.False(t, d.Unlimited, "expired premium must fall back to the daily quota")
	assert.True(t, d.Allowed)

	user, err := s.GetUser(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, models.RoleFree, user.Role)
	assert.Nil(t, user.PremiumExpiry)
}

func TestSettings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.GetSetting(ctx, models.SettingForceSubChannel)
	assert.ErrorIs(t, err, models.ErrSettingNotFound)

	require.NoError(t, s.SetSetting(ctx, models.SettingForceSubChannel, "@mychannel"))
	v, err := s.GetSetting(ctx, models.SettingForceSubChannel)
	require.NoError(t, err)
	assert.Equal(t, "@mychannel", v)

	// Overwrite
	require.NoError(t, s.SetSetting(ctx, models.SettingForceSubChannel, "-1001234"))
	v, err = s.GetSetting(ctx, models.SettingForceSubChannel)
	require.NoError(t, err)
	assert.Equal(t, "-1001234", v)
}
