package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamforge/streamforge/internal/models"
	"github.com/streamforge/streamforge/internal/repository"
	"github.com/streamforge/streamforge/internal/vault"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Account{},
		&models.ProviderStream{},
		&models.EpgSource{},
		&models.EpgChannel{},
		&models.EpgChannelSettings{},
		&models.ChannelMapping{},
		&models.EpgProgram{},
		&models.Setting{},
		&models.Event{},
	))
	return db
}

type failoverFixture struct {
	db      *gorm.DB
	vault   *vault.Vault
	source  *models.EpgSource
	channel *models.EpgChannel

	nextStream int
}

func newFailoverFixture(t *testing.T) *failoverFixture {
	t.Helper()

	db := setupTestDB(t)
	v, err := vault.New(t.TempDir())
	require.NoError(t, err)

	source := &models.EpgSource{Name: "guide", URL: "http://epg.example.com/guide.xml"}
	require.NoError(t, db.Create(source).Error)

	channel := &models.EpgChannel{SourceID: source.ID, StableID: "cnn.us", DisplayName: "CNN"}
	require.NoError(t, db.Create(channel).Error)

	return &failoverFixture{db: db, vault: v, source: source, channel: channel}
}

func (f *failoverFixture) account(t *testing.T, name string) *models.Account {
	t.Helper()

	account := &models.Account{
		Name:           name,
		BaseURL:        "http://" + name + ".example.com",
		Username:       "user",
		PasswordHandle: []byte("placeholder"),
	}
	require.NoError(t, f.db.Create(account).Error)

	handle, err := f.vault.Store(account.ID, "secret-"+name)
	require.NoError(t, err)
	account.PasswordHandle = handle
	require.NoError(t, f.db.Save(account).Error)
	return account
}

func (f *failoverFixture) candidate(t *testing.T, account *models.Account, name string, priority int) *models.ProviderStream {
	t.Helper()

	f.nextStream++
	stream := &models.ProviderStream{
		AccountID: account.ID,
		StreamID:  f.nextStream,
		Name:      name,
	}
	require.NoError(t, f.db.Create(stream).Error)
	require.NoError(t, f.db.Create(&models.ChannelMapping{
		ChannelID:  f.channel.ID,
		StreamID:   &stream.ID,
		Confidence: 0.95,
		Primary:    priority == 0,
		Priority:   priority,
		MatchType:  models.MatchTypeFuzzy,
	}).Error)
	return stream
}

func (f *failoverFixture) config() ControllerConfig {
	return ControllerConfig{
		DB:     f.db,
		Vault:  f.vault,
		Logger: discardLogger(),
	}
}

func TestNewController_NoCandidates(t *testing.T) {
	f := newFailoverFixture(t)

	_, err := NewController(context.Background(), f.channel.ID, f.config())
	assert.ErrorIs(t, err, ErrNoCandidates)
}

func TestNewController_RanksByPriority(t *testing.T) {
	f := newFailoverFixture(t)
	account := f.account(t, "provider")
	f.candidate(t, account, "CNN Backup", 1)
	primary := f.candidate(t, account, "CNN HD", 0)

	c, err := NewController(context.Background(), f.channel.ID, f.config())
	require.NoError(t, err)
	require.Len(t, c.candidates, 2)
	assert.Equal(t, "CNN HD", c.CurrentStreamName())
	assert.Contains(t, c.candidates[0].url, "/live/user/secret-provider/")
	assert.Contains(t, c.candidates[0].url, ".ts")
	assert.Equal(t, primary.ID, c.candidates[0].stream.ID)
}

func TestServe_AllProbesFailExhausts(t *testing.T) {
	f := newFailoverFixture(t)
	account := f.account(t, "provider")
	f.candidate(t, account, "CNN HD", 0)
	f.candidate(t, account, "CNN Backup", 1)

	cfg := f.config()
	cfg.probe = func(context.Context, string) *failure {
		return &failure{kind: FailureConnectionError}
	}

	c, err := NewController(context.Background(), f.channel.ID, cfg)
	require.NoError(t, err)

	var sink nopWriter
	err = c.Serve(context.Background(), &sink)
	assert.ErrorIs(t, err, ErrAllStreamsFailed)

	events, err := repository.NewEventRepository(f.db).GetRecent(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventLevelError, events[0].Level)
	assert.Equal(t, models.EventCategoryStream, events[0].Category)
	assert.Equal(t, "connection_error", events[0].Details["reason"])
	assert.Equal(t, f.channel.ID.String(), events[0].Details["channelId"])
}

func TestServe_AuthFailureSkipsWholeAccount(t *testing.T) {
	f := newFailoverFixture(t)
	badAccount := f.account(t, "bad")
	goodAccount := f.account(t, "good")
	f.candidate(t, badAccount, "CNN HD", 0)
	f.candidate(t, badAccount, "CNN FHD", 1)
	good := f.candidate(t, goodAccount, "CNN SD", 2)

	var mu sync.Mutex
	var probed []string
	cfg := f.config()
	cfg.probe = func(_ context.Context, url string) *failure {
		mu.Lock()
		probed = append(probed, url)
		mu.Unlock()
		if len(probed) == 1 {
			return &failure{kind: FailureHTTP, statusCode: http.StatusUnauthorized}
		}
		return nil
	}
	cfg.openPipe = func(ctx context.Context, url string) (*Pipe, error) {
		return NewPipe(ctx, url, PipeConfig{
			FFmpegPath:   stubRemuxer(t, 10<<20),
			PrefillBytes: 4 * 1024,
			Logger:       discardLogger(),
		})
	}

	c, err := NewController(context.Background(), f.channel.ID, cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	w := &cancelAfterWriter{cancel: cancel, after: 64 * 1024}
	err = c.Serve(ctx, w)
	require.NoError(t, err, "client disconnect ends the stream cleanly")

	// The second candidate shares the failed account and is never probed.
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, probed, 2)
	assert.Equal(t, good.Name, c.CurrentStreamName())

	events, err := repository.NewEventRepository(f.db).GetRecent(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventLevelWarn, events[0].Level)
	assert.Equal(t, "CNN HD", events[0].Details["from"])
	assert.Equal(t, "CNN SD", events[0].Details["to"])
	assert.Equal(t, "http_401", events[0].Details["reason"])
}

func TestServe_UpgradesBackToPrimary(t *testing.T) {
	f := newFailoverFixture(t)
	account := f.account(t, "provider")
	primary := f.candidate(t, account, "CNN HD", 0)
	f.candidate(t, account, "CNN SD", 1)

	var mu sync.Mutex
	var opened []string
	cfg := f.config()
	cfg.probe = func(context.Context, string) *failure { return nil }
	cfg.openPipe = func(ctx context.Context, url string) (*Pipe, error) {
		mu.Lock()
		opened = append(opened, url)
		mu.Unlock()
		return NewPipe(ctx, url, PipeConfig{
			FFmpegPath:   stubRemuxer(t, 10<<20),
			PrefillBytes: 4 * 1024,
			Logger:       discardLogger(),
		})
	}

	c, err := NewController(context.Background(), f.channel.ID, cfg)
	require.NoError(t, err)

	// Serving from the backup with the upgrade cool-down already elapsed.
	c.idx = 1
	c.lastFailover = time.Now().Add(-2 * upgradeRetryInterval)

	ctx, cancel := context.WithCancel(context.Background())
	w := &cancelAfterWriter{cancel: cancel, after: 4 << 20}
	require.NoError(t, c.Serve(ctx, w))

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(opened), 2)
	assert.Equal(t, c.candidates[1].url, opened[0], "stream starts on the backup")
	assert.Equal(t, c.candidates[0].url, opened[1], "primary reopens once its probe succeeds")
	assert.Equal(t, 0, c.idx, "controller stays on the primary after the upgrade")
	assert.Equal(t, primary.Name, c.CurrentStreamName())

	events, err := repository.NewEventRepository(f.db).GetRecent(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, "quality_upgrade", events[0].Details["reason"])
	assert.Equal(t, "CNN SD", events[0].Details["from"])
	assert.Equal(t, "CNN HD", events[0].Details["to"])
}

func TestServe_BackupBudgetPerWindow(t *testing.T) {
	f := newFailoverFixture(t)
	account := f.account(t, "provider")
	for i := 0; i < 5; i++ {
		f.candidate(t, account, "CNN "+string(rune('A'+i)), i)
	}

	var mu sync.Mutex
	attempts := 0
	cfg := f.config()
	cfg.probe = func(context.Context, string) *failure {
		mu.Lock()
		attempts++
		mu.Unlock()
		return &failure{kind: FailureConnectionTimeout}
	}

	c, err := NewController(context.Background(), f.channel.ID, cfg)
	require.NoError(t, err)

	var sink nopWriter
	err = c.Serve(context.Background(), &sink)
	assert.ErrorIs(t, err, ErrAllStreamsFailed)

	// Primary plus at most two backups within one failover window.
	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, attempts, 3)
}

func TestProbeUpstream_Classification(t *testing.T) {
	okServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer okServer.Close()
	assert.Nil(t, probeUpstream(context.Background(), okServer.URL))

	authServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer authServer.Close()
	fail := probeUpstream(context.Background(), authServer.URL)
	require.NotNil(t, fail)
	assert.Equal(t, FailureHTTP, fail.kind)
	assert.True(t, fail.accountLevel())
	assert.Equal(t, "http_403", fail.reason())

	errServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer errServer.Close()
	fail = probeUpstream(context.Background(), errServer.URL)
	require.NotNil(t, fail)
	assert.Equal(t, FailureHTTP, fail.kind)
	assert.False(t, fail.accountLevel())

	slowServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(3 * time.Second)
	}))
	defer slowServer.Close()
	fail = probeUpstream(context.Background(), slowServer.URL)
	require.NotNil(t, fail)
	assert.Equal(t, FailureConnectionTimeout, fail.kind)

	fail = probeUpstream(context.Background(), "http://127.0.0.1:1/nothing")
	require.NotNil(t, fail)
	assert.Equal(t, FailureConnectionError, fail.kind)
}

// nopWriter discards all writes.
type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

// cancelAfterWriter cancels its context once enough bytes have been written,
// simulating a client disconnect.
type cancelAfterWriter struct {
	cancel  context.CancelFunc
	after   int
	written int
}

func (w *cancelAfterWriter) Write(p []byte) (int, error) {
	w.written += len(p)
	if w.written >= w.after {
		w.cancel()
	}
	return len(p), nil
}
