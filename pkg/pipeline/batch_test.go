package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvalvano/telegrab/pkg/models"
)

func premiumUser(e *testEnv, userID int64) {
	e.store.users[userID] = &models.User{
		TelegramID:  userID,
		Role:        models.RolePremium,
		AgreedTerms: true,
		Credential:  "cred",
	}
}

func TestBatchIsPremiumOnly(t *testing.T) {
	e := newTestEnv(t)

	err := e.p.RunBatch(context.Background(), 1, 1,
		"https://t.me/channel/10", "https://t.me/channel/12")
	assert.ErrorIs(t, err, ErrBatchPremiumOnly)
	assert.Equal(t, 0, e.bot.copies)
}

func TestBatchCapEnforcedBeforeFirstItem(t *testing.T) {
	e := newTestEnv(t)
	premiumUser(e, 1)

	err := e.p.RunBatch(context.Background(), 1, 1,
		"https://t.me/channel/1", "https://t.me/channel/100")
	assert.ErrorIs(t, err, ErrBatchTooLarge)
	assert.Equal(t, 0, e.bot.copies, "no item may run when the cap trips")
	assert.Empty(t, e.bot.uploads)
}

func TestBatchRunsSequentially(t *testing.T) {
	e := newTestEnv(t)
	premiumUser(e, 1)

	err := e.p.RunBatch(context.Background(), 1, 1,
		"https://t.me/channel/10", "https://t.me/channel/12")
	require.NoError(t, err)
	assert.Equal(t, 3, e.bot.copies, "one relay per message in the range")
}

func TestBatchReversedRangeNormalized(t *testing.T) {
	e := newTestEnv(t)
	premiumUser(e, 1)

	err := e.p.RunBatch(context.Background(), 1, 1,
		"https://t.me/channel/12", "https://t.me/channel/10")
	require.NoError(t, err)
	assert.Equal(t, 3, e.bot.copies)
}

func TestBatchRejectsMixedScopes(t *testing.T) {
	e := newTestEnv(t)
	premiumUser(e, 1)

	err := e.p.RunBatch(context.Background(), 1, 1,
		"https://t.me/channel/10", "https://t.me/other/12")
	require.Error(t, err)
	assert.Equal(t, 0, e.bot.copies)
}

func TestBatchStopsOnCancel(t *testing.T) {
	e := newTestEnv(t)
	premiumUser(e, 1)
	e.adm.Cancel(1)

	err := e.p.RunBatch(context.Background(), 1, 1,
		"https://t.me/channel/10", "https://t.me/channel/12")
	assert.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, 0, e.bot.copies)
}
