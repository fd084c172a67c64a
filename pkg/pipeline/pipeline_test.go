package pipeline

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvalvano/telegrab/pkg/admission"
	"github.com/mvalvano/telegrab/pkg/models"
	"github.com/mvalvano/telegrab/pkg/store"
	"github.com/mvalvano/telegrab/pkg/telegram"
)

// --- fakes ---

type fakeStore struct {
	mu         sync.Mutex
	users      map[int64]*models.User
	quota      *store.QuotaDecision
	settings   map[string]string
	increments []int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[int64]*models.User),
		settings: make(map[string]string),
		quota:    &store.QuotaDecision{Allowed: true, Limit: 5},
	}
}

func (s *fakeStore) GetOrCreateUser(_ context.Context, userID int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		u = &models.User{TelegramID: userID, Role: models.RoleFree, AgreedTerms: true}
		s.users[userID] = u
	}
	return u, nil
}

func (s *fakeStore) CheckQuota(context.Context, int64, int) (*store.QuotaDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quota, nil
}

func (s *fakeStore) IncrementQuota(_ context.Context, _ int64, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.increments = append(s.increments, n)
	return nil
}

func (s *fakeStore) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[key]
	if !ok {
		return "", models.ErrSettingNotFound
	}
	return v, nil
}

type fakeBot struct {
	mu           sync.Mutex
	sent         []string
	edits        []string
	deleted      []int
	copies       int
	copyErr      error
	copyGroupErr error
	uploads      []string // "video:<path>", "photo:<path>", "document:<path>"
	uploadErr    error
	memberStatus telegram.MemberStatus
	memberErr    error
	memberChecks []string
	broadcast    bool
	chatErr      error
	nextID       int
}

func newFakeBot() *fakeBot {
	return &fakeBot{memberStatus: telegram.MemberStatusMember, broadcast: true}
}

func (b *fakeBot) SendMessage(_ context.Context, _ int64, text string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, text)
	b.nextID++
	return b.nextID, nil
}

func (b *fakeBot) EditMessage(_ context.Context, _ int64, _ int, text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.edits = append(b.edits, text)
	return nil
}

func (b *fakeBot) DeleteMessage(_ context.Context, _ int64, messageID int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleted = append(b.deleted, messageID)
	return nil
}

func (b *fakeBot) CopyMessage(_ context.Context, _ int64, _ telegram.Scope, _ int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.copyErr == nil {
		b.copies++
	}
	return b.copyErr
}

func (b *fakeBot) CopyMediaGroup(_ context.Context, _ int64, _ telegram.Scope, _ int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.copyGroupErr == nil {
		b.copies++
	}
	return b.copyGroupErr
}

func (b *fakeBot) upload(kind, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.uploadErr != nil {
		return b.uploadErr
	}
	b.uploads = append(b.uploads, kind+":"+path)
	return nil
}

func (b *fakeBot) SendVideo(_ context.Context, _ int64, path string, _ telegram.UploadOptions) error {
	return b.upload("video", path)
}

func (b *fakeBot) SendPhoto(_ context.Context, _ int64, path string, _ telegram.UploadOptions) error {
	return b.upload("photo", path)
}

func (b *fakeBot) SendDocument(_ context.Context, _ int64, path string, _ telegram.UploadOptions) error {
	return b.upload("document", path)
}

func (b *fakeBot) GetChatMember(_ context.Context, chat string, _ int64) (telegram.MemberStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memberChecks = append(b.memberChecks, chat)
	return b.memberStatus, b.memberErr
}

func (b *fakeBot) GetChat(_ context.Context, scope telegram.Scope) (*telegram.Chat, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.chatErr != nil {
		return nil, b.chatErr
	}
	return &telegram.Chat{ID: scope.ChatID, Username: scope.Username, Broadcast: b.broadcast}, nil
}

func (b *fakeBot) sentTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.sent...)
}

type fakeUserClient struct {
	mu       sync.Mutex
	message  *telegram.Message
	group    []*telegram.Message
	fetchErr error
	dlErr    error
	closed   bool
}

func (c *fakeUserClient) GetMessage(_ context.Context, _ telegram.Scope, _ int) (*telegram.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	return c.message, nil
}

func (c *fakeUserClient) GetMediaGroup(_ context.Context, _ telegram.Scope, _ int) ([]*telegram.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.group, nil
}

func (c *fakeUserClient) DownloadFile(_ context.Context, _ telegram.FileRef, dest string, progress telegram.ProgressFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dlErr != nil {
		return c.dlErr
	}
	if progress != nil {
		progress(512, 1024)
		progress(1024, 1024)
	}
	return os.WriteFile(dest, []byte("payload"), 0o600)
}

func (c *fakeUserClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fakeSessions struct {
	client     *fakeUserClient
	acquireErr error
}

func (s *fakeSessions) Acquire(context.Context, int64, string) (telegram.UserClient, error) {
	if s.acquireErr != nil {
		return nil, s.acquireErr
	}
	return s.client, nil
}

// --- helpers ---

func videoMessage(id int) *telegram.Message {
	return &telegram.Message{
		ID:      id,
		Caption: "a video",
		Media: &telegram.Media{
			Kind:     telegram.MediaVideo,
			FileName: "clip.mp4",
			Duration: 12,
			Width:    1280,
			Height:   720,
			File:     telegram.FileRef{ID: "file-1", Size: 1024},
		},
	}
}

type testEnv struct {
	p        *Pipeline
	bot      *fakeBot
	store    *fakeStore
	sessions *fakeSessions
	adm      *admission.Controller
	dir      string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	bot := newFakeBot()
	st := newFakeStore()
	sess := &fakeSessions{client: &fakeUserClient{message: videoMessage(42)}}
	adm := admission.NewController(admission.Config{MaxDownloads: 4, MaxUploads: 2})
	dir := t.TempDir()

	p := New(bot, sess, adm, st, nil, Config{
		DownloadDir:    dir,
		FreeDailyQuota: 5,
		BatchMax:       50,
		BatchDelay:     1, // nanosecond, keeps batch tests fast
	})
	return &testEnv{p: p, bot: bot, store: st, sessions: sess, adm: adm, dir: dir}
}

func (e *testEnv) userWithCredential(userID int64) {
	e.store.users[userID] = &models.User{
		TelegramID:  userID,
		Role:        models.RoleFree,
		AgreedTerms: true,
		Credential:  "cred",
	}
}

func dirEntries(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	return len(entries)
}

// --- tests ---

func TestRelayDeliversPublicPlainLink(t *testing.T) {
	e := newTestEnv(t)

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/channel/42"})
	require.NoError(t, err)

	assert.Equal(t, 1, e.bot.copies)
	assert.Empty(t, e.bot.uploads, "relay must not re-upload")
	assert.Empty(t, e.store.increments, "relay does not consume quota")
	assert.Len(t, e.bot.deleted, 1, "status message removed on success")
}

func TestRelayFallsBackToTransferOnce(t *testing.T) {
	e := newTestEnv(t)
	e.bot.copyErr = errors.New("copy refused")
	e.bot.copyGroupErr = errors.New("copy refused")
	e.userWithCredential(1)

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/channel/42"})
	require.NoError(t, err)

	require.Len(t, e.bot.uploads, 1)
	assert.Contains(t, e.bot.uploads[0], "video:")
	assert.Equal(t, []int{1}, e.store.increments)
	assert.Equal(t, 0, dirEntries(t, e.dir), "temp files must be cleaned up")
}

func TestPublicFallbackWithoutCredentialIsDenied(t *testing.T) {
	e := newTestEnv(t)
	e.bot.copyErr = errors.New("copy refused")
	e.bot.copyGroupErr = errors.New("copy refused")

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/channel/42"})

	var d *Denial
	require.ErrorAs(t, err, &d)
	assert.Equal(t, ReasonNotLoggedIn, d.Reason)
}

func TestPublicGroupSkipsRelay(t *testing.T) {
	e := newTestEnv(t)
	e.bot.broadcast = false
	e.userWithCredential(1)

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/somegroup/42"})
	require.NoError(t, err)

	assert.Equal(t, 0, e.bot.copies, "group content is never copied by the bot")
	require.Len(t, e.bot.uploads, 1)
}

func TestPublicGroupWithoutCredentialIsDenied(t *testing.T) {
	e := newTestEnv(t)
	e.bot.broadcast = false

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/somegroup/42"})

	var d *Denial
	require.ErrorAs(t, err, &d)
	assert.Equal(t, ReasonNotLoggedIn, d.Reason)
	assert.Equal(t, 0, e.bot.copies)
}

func TestChatLookupFailureStillRelays(t *testing.T) {
	e := newTestEnv(t)
	e.bot.broadcast = false
	e.bot.chatErr = errors.New("flood wait")

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/channel/42"})
	require.NoError(t, err)
	assert.Equal(t, 1, e.bot.copies)
}

func TestPrivateLinkRequiresLogin(t *testing.T) {
	e := newTestEnv(t)

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/c/123456789/42"})

	var d *Denial
	require.ErrorAs(t, err, &d)
	assert.Equal(t, ReasonNotLoggedIn, d.Reason)
	assert.Equal(t, 0, e.bot.copies, "private links never relay")
}

func TestPrivateTransferWithCredential(t *testing.T) {
	e := newTestEnv(t)
	e.userWithCredential(1)

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/c/123456789/42"})
	require.NoError(t, err)
	require.Len(t, e.bot.uploads, 1)
	assert.Equal(t, 0, dirEntries(t, e.dir))
}

func TestAlbumDeliversEveryItem(t *testing.T) {
	e := newTestEnv(t)
	e.userWithCredential(1)

	album := videoMessage(42)
	album.MediaGroupID = 777
	e.sessions.client.message = album
	e.sessions.client.group = []*telegram.Message{videoMessage(42), videoMessage(43), videoMessage(44)}

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/c/123456789/42"})
	require.NoError(t, err)
	assert.Len(t, e.bot.uploads, 3)
	assert.Equal(t, []int{3}, e.store.increments)
	assert.Equal(t, 0, dirEntries(t, e.dir))
}

func TestQuotaDenied(t *testing.T) {
	e := newTestEnv(t)
	e.userWithCredential(1)
	e.store.quota = &store.QuotaDecision{Allowed: false, Used: 5, Limit: 5}

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/c/123456789/42"})

	var d *Denial
	require.ErrorAs(t, err, &d)
	assert.Equal(t, ReasonQuotaExceeded, d.Reason)
	assert.Equal(t, 5, d.Used)
}

func TestBannedUserDenied(t *testing.T) {
	e := newTestEnv(t)
	e.store.users[1] = &models.User{TelegramID: 1, Role: models.RoleFree, AgreedTerms: true, Banned: true}

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/channel/42"})

	var d *Denial
	require.ErrorAs(t, err, &d)
	assert.Equal(t, ReasonBanned, d.Reason)
}

func TestTermsGate(t *testing.T) {
	e := newTestEnv(t)
	e.store.users[1] = &models.User{TelegramID: 1, Role: models.RoleFree}

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/channel/42"})

	var d *Denial
	require.ErrorAs(t, err, &d)
	assert.Equal(t, ReasonTermsNotAccepted, d.Reason)
}

func TestSubscriptionGate(t *testing.T) {
	e := newTestEnv(t)
	e.store.settings[models.SettingForceSubChannel] = "mychannel"
	e.bot.memberStatus = telegram.MemberStatusLeft

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/channel/42"})

	var d *Denial
	require.ErrorAs(t, err, &d)
	assert.Equal(t, ReasonNotSubscribed, d.Reason)
	require.Len(t, e.bot.memberChecks, 1)
	assert.Equal(t, "@mychannel", e.bot.memberChecks[0], "bare usernames are normalized")
}

func TestSubscriptionCheckFailsOpen(t *testing.T) {
	e := newTestEnv(t)
	e.store.settings[models.SettingForceSubChannel] = "@mychannel"
	e.bot.memberErr = errors.New("channel unreachable")

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/channel/42"})
	require.NoError(t, err, "a broken gate must not lock users out")
}

func TestCancelFlagObservedAtCheckpoint(t *testing.T) {
	e := newTestEnv(t)
	e.adm.Cancel(1)

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/channel/42"})
	assert.ErrorIs(t, err, ErrCancelled)
	assert.False(t, e.adm.Cancelled(1), "flag cleared when the pipeline exits")
	assert.Equal(t, 0, e.bot.copies)
}

func TestUploadFailureCleansUpTempFiles(t *testing.T) {
	e := newTestEnv(t)
	e.userWithCredential(1)
	e.bot.uploadErr = errors.New("upload refused")

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/c/123456789/42"})
	require.Error(t, err)
	assert.Equal(t, 0, dirEntries(t, e.dir))
	assert.Empty(t, e.store.increments, "failed transfers consume no quota")
}

func TestNoMediaReported(t *testing.T) {
	e := newTestEnv(t)
	e.userWithCredential(1)
	e.sessions.client.message = &telegram.Message{ID: 42, Caption: "text only"}

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/c/123456789/42"})
	assert.ErrorIs(t, err, telegram.ErrNoMedia)
}

func TestUnrecognizedLinkRejected(t *testing.T) {
	e := newTestEnv(t)

	err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://example.com/nope"})
	require.Error(t, err)
	texts := e.bot.sentTexts()
	require.NotEmpty(t, texts)
	assert.Contains(t, texts[0], "link")
}

func TestSlotReleasedAfterRun(t *testing.T) {
	e := newTestEnv(t)

	for range 10 {
		err := e.p.Run(context.Background(), Request{UserID: 1, ChatID: 1, Link: "https://t.me/channel/42"})
		require.NoError(t, err)
	}
	assert.Equal(t, 0, e.adm.ActiveCount())
}
