package repository

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/streamforge/streamforge/internal/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&models.Account{},
		&models.ProviderStream{},
		&models.EpgSource{},
		&models.EpgChannel{},
		&models.EpgChannelSettings{},
		&models.ChannelMapping{},
		&models.EpgProgram{},
		&models.Setting{},
		&models.Event{},
	)
	require.NoError(t, err)

	return db
}

func createTestAccount(t *testing.T, db *gorm.DB, name string, enabled bool) *models.Account {
	t.Helper()
	account := &models.Account{
		Name:           name,
		BaseURL:        "http://provider.example.com",
		Username:       "user",
		PasswordHandle: []byte("keychain:test"),
		MaxConnections: 2,
		Enabled:        models.BoolPtr(enabled),
	}
	require.NoError(t, db.Create(account).Error)
	return account
}

func createTestStream(t *testing.T, db *gorm.DB, accountID models.ULID, streamID int, name string) *models.ProviderStream {
	t.Helper()
	stream := &models.ProviderStream{
		AccountID: accountID,
		StreamID:  streamID,
		Name:      name,
		Qualities: models.QualityTiers{"HD"},
	}
	require.NoError(t, db.Create(stream).Error)
	return stream
}

func createTestChannel(t *testing.T, db *gorm.DB, stableID, displayName string) *models.EpgChannel {
	t.Helper()
	source := &models.EpgSource{}
	err := db.Where("name = ?", "test-source").First(source).Error
	if err != nil {
		source = &models.EpgSource{Name: "test-source", URL: "http://epg.example.com/guide.xml"}
		require.NoError(t, db.Create(source).Error)
	}
	channel := &models.EpgChannel{
		SourceID:    source.ID,
		StableID:    stableID,
		DisplayName: displayName,
	}
	require.NoError(t, db.Create(channel).Error)
	return channel
}

func createTestMapping(t *testing.T, db *gorm.DB, channelID models.ULID, streamID *models.ULID, confidence float64, manual, primary bool, priority int) *models.ChannelMapping {
	t.Helper()
	mapping := &models.ChannelMapping{
		ChannelID:  channelID,
		StreamID:   streamID,
		Confidence: confidence,
		Manual:     manual,
		Primary:    primary,
		Priority:   priority,
		MatchType:  models.MatchTypeFuzzy,
	}
	if manual {
		mapping.MatchType = models.MatchTypeManual
	}
	require.NoError(t, db.Create(mapping).Error)
	return mapping
}

func TestMappingRepo_DeleteNonManual(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewMappingRepository(db)

	account := createTestAccount(t, db, "acct", true)
	s1 := createTestStream(t, db, account.ID, 1, "CNN HD")
	s2 := createTestStream(t, db, account.ID, 2, "CNN FHD")
	channel := createTestChannel(t, db, "cnn.us", "CNN")

	createTestMapping(t, db, channel.ID, &s1.ID, 0.9, false, true, 0)
	createTestMapping(t, db, channel.ID, &s2.ID, 0.95, true, false, 1)

	require.NoError(t, repo.DeleteNonManual(ctx))

	remaining, err := repo.GetByChannelID(ctx, channel.ID)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.True(t, remaining[0].Manual)
}

func TestMappingRepo_RenumberCompactsAndPromotes(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewMappingRepository(db)

	account := createTestAccount(t, db, "acct", true)
	s1 := createTestStream(t, db, account.ID, 1, "ESPN")
	s2 := createTestStream(t, db, account.ID, 2, "ESPN HD")
	s3 := createTestStream(t, db, account.ID, 3, "ESPN FHD")
	channel := createTestChannel(t, db, "espn.us", "ESPN")

	// Ranks 1 and 3 survive a deletion at rank 0; no primary remains.
	createTestMapping(t, db, channel.ID, &s1.ID, 0.90, false, false, 1)
	createTestMapping(t, db, channel.ID, &s2.ID, 0.88, false, false, 3)
	high := createTestMapping(t, db, channel.ID, &s3.ID, 0.97, false, false, 2)

	require.NoError(t, repo.Renumber(ctx, channel.ID))

	mappings, err := repo.GetByChannelID(ctx, channel.ID)
	require.NoError(t, err)
	require.Len(t, mappings, 3)

	// Priorities are the permutation 0..n-1, best confidence first.
	for rank, m := range mappings {
		assert.Equal(t, rank, m.Priority)
		assert.Equal(t, rank == 0, m.Primary)
	}
	assert.Equal(t, high.ID, mappings[0].ID)
}

func TestMappingRepo_RenumberKeepsExistingPrimaryFirst(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewMappingRepository(db)

	account := createTestAccount(t, db, "acct", true)
	s1 := createTestStream(t, db, account.ID, 1, "BBC One")
	s2 := createTestStream(t, db, account.ID, 2, "BBC One FHD")
	channel := createTestChannel(t, db, "bbc1.uk", "BBC One")

	pinned := createTestMapping(t, db, channel.ID, &s1.ID, 0.70, true, true, 0)
	createTestMapping(t, db, channel.ID, &s2.ID, 0.99, false, false, 2)

	require.NoError(t, repo.Renumber(ctx, channel.ID))

	mappings, err := repo.GetByChannelID(ctx, channel.ID)
	require.NoError(t, err)
	require.Len(t, mappings, 2)
	assert.Equal(t, pinned.ID, mappings[0].ID, "existing primary keeps rank 0 despite lower confidence")
	assert.True(t, mappings[0].Primary)
	assert.Equal(t, 1, mappings[1].Priority)
	assert.False(t, mappings[1].Primary)
}

func TestMappingRepo_StreamPreloadUsesRowID(t *testing.T) {
	db := setupTestDB(t)

	account := createTestAccount(t, db, "acct", true)
	// Provider int id deliberately unrelated to any ULID.
	stream := createTestStream(t, db, account.ID, 42, "CNN HD")
	channel := createTestChannel(t, db, "cnn.us", "CNN")
	createTestMapping(t, db, channel.ID, &stream.ID, 0.9, false, true, 0)

	var loaded models.ChannelMapping
	require.NoError(t, db.Preload("Stream").Where("channel_id = ?", channel.ID).First(&loaded).Error)

	// The relation joins on the provider_streams row ULID, not on the
	// provider-assigned stream_id column.
	require.NotNil(t, loaded.Stream)
	assert.Equal(t, stream.ID, loaded.Stream.ID)
	assert.Equal(t, 42, loaded.Stream.StreamID)
}

func TestMappingRepo_GetCandidates(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	repo := NewMappingRepository(db)

	active := createTestAccount(t, db, "active", true)
	disabled := createTestAccount(t, db, "disabled", false)
	s1 := createTestStream(t, db, active.ID, 1, "Sky Sports")
	s2 := createTestStream(t, db, disabled.ID, 1, "Sky Sports Backup")
	channel := createTestChannel(t, db, "skysports.uk", "Sky Sports")

	createTestMapping(t, db, channel.ID, &s1.ID, 0.95, false, true, 0)
	createTestMapping(t, db, channel.ID, &s2.ID, 0.90, false, false, 1)
	// Orphaned manual mapping has no stream and is never playable.
	createTestMapping(t, db, channel.ID, nil, 1.0, true, false, 2)

	candidates, err := repo.GetCandidates(ctx, channel.ID)
	require.NoError(t, err)
	require.Len(t, candidates, 1, "disabled accounts and orphans are excluded")
	assert.Equal(t, s1.ID, candidates[0].Stream.ID)
	assert.Equal(t, active.ID, candidates[0].Account.ID)
	assert.True(t, candidates[0].Mapping.Primary)
}

func TestChannelRepo_GetLineup(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	channels := NewChannelRepository(db)

	account := createTestAccount(t, db, "acct", true)
	s1 := createTestStream(t, db, account.ID, 1, "Alpha")
	s2 := createTestStream(t, db, account.ID, 2, "Beta")

	// chOrdered has an explicit display order, chNamed sorts by name after it,
	// chDisabled and chUnmapped never appear.
	chNamed := createTestChannel(t, db, "alpha.tv", "Alpha TV")
	chOrdered := createTestChannel(t, db, "zeta.tv", "Zeta TV")
	chDisabled := createTestChannel(t, db, "gamma.tv", "Gamma TV")
	chUnmapped := createTestChannel(t, db, "delta.tv", "Delta TV")

	createTestMapping(t, db, chNamed.ID, &s1.ID, 0.9, false, true, 0)
	createTestMapping(t, db, chOrdered.ID, &s2.ID, 0.9, false, true, 0)
	createTestMapping(t, db, chDisabled.ID, &s1.ID, 0.9, false, true, 0)

	order := 0
	require.NoError(t, channels.UpsertSettings(ctx, &models.EpgChannelSettings{
		ChannelID: chOrdered.ID, Enabled: models.BoolPtr(true), PlexDisplayOrder: &order,
	}))
	require.NoError(t, channels.UpsertSettings(ctx, &models.EpgChannelSettings{
		ChannelID: chNamed.ID, Enabled: models.BoolPtr(true),
	}))
	require.NoError(t, channels.UpsertSettings(ctx, &models.EpgChannelSettings{
		ChannelID: chDisabled.ID, Enabled: models.BoolPtr(false),
	}))
	require.NoError(t, channels.UpsertSettings(ctx, &models.EpgChannelSettings{
		ChannelID: chUnmapped.ID, Enabled: models.BoolPtr(true),
	}))

	lineup, err := channels.GetLineup(ctx)
	require.NoError(t, err)
	require.Len(t, lineup, 2)
	assert.Equal(t, chOrdered.ID, lineup[0].Channel.ID, "explicit order ranks before name order")
	assert.Equal(t, chNamed.ID, lineup[1].Channel.ID)
	require.Len(t, lineup[0].Mappings, 1)
	require.NotNil(t, lineup[0].Mappings[0].Stream)
}

func TestChannelRepo_EnsureSettings(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	channels := NewChannelRepository(db)

	channel := createTestChannel(t, db, "news.tv", "News TV")

	require.NoError(t, channels.EnsureSettings(ctx, channel.ID, false))
	settings, err := channels.GetSettings(ctx, channel.ID)
	require.NoError(t, err)
	require.NotNil(t, settings)
	assert.False(t, settings.IsEnabled())

	// Force-disable switches off an enabled row.
	settings.Enabled = models.BoolPtr(true)
	require.NoError(t, channels.UpsertSettings(ctx, settings))
	require.NoError(t, channels.EnsureSettings(ctx, channel.ID, false))
	settings, err = channels.GetSettings(ctx, channel.ID)
	require.NoError(t, err)
	assert.False(t, settings.IsEnabled())
}

func TestSettingRepo_TypedAccessors(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	settings := NewSettingRepository(db)

	assert.Equal(t, models.DefaultServerPort, settings.ServerPort(ctx))
	assert.InDelta(t, models.DefaultMatchThreshold, settings.MatchThreshold(ctx), 1e-9)
	assert.Equal(t, "verbose", settings.LogVerbosity(ctx))

	require.NoError(t, settings.Set(ctx, models.SettingServerPort, "8080"))
	assert.Equal(t, 8080, settings.ServerPort(ctx))

	// Privileged ports are rejected.
	require.NoError(t, settings.Set(ctx, models.SettingServerPort, "80"))
	assert.Equal(t, models.DefaultServerPort, settings.ServerPort(ctx))

	require.NoError(t, settings.Set(ctx, models.SettingMatchThreshold, "0.75"))
	assert.InDelta(t, 0.75, settings.MatchThreshold(ctx), 1e-9)

	require.NoError(t, settings.Set(ctx, models.SettingLogVerbosity, "minimal"))
	assert.Equal(t, "minimal", settings.LogVerbosity(ctx))
	require.NoError(t, settings.Set(ctx, models.SettingLogVerbosity, "bogus"))
	assert.Equal(t, "verbose", settings.LogVerbosity(ctx), "unknown verbosity fails open to verbose")
}

func TestSettingRepo_EpgRefreshSchedule(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	settings := NewSettingRepository(db)

	hour, minute, enabled := settings.EpgRefreshSchedule(ctx)
	assert.Equal(t, 4, hour)
	assert.Equal(t, 0, minute)
	assert.True(t, enabled)

	require.NoError(t, settings.Set(ctx, models.SettingEpgRefreshHour, "23"))
	require.NoError(t, settings.Set(ctx, models.SettingEpgRefreshMinute, "30"))
	require.NoError(t, settings.Set(ctx, models.SettingEpgRefreshEnabled, "false"))

	hour, minute, enabled = settings.EpgRefreshSchedule(ctx)
	assert.Equal(t, 23, hour)
	assert.Equal(t, 30, minute)
	assert.False(t, enabled)
}

func TestEventRepo_AppendAndPrune(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	events := NewEventRepository(db)

	old := &models.Event{
		Level:    models.EventLevelInfo,
		Category: models.EventCategorySystem,
		Message:  "old event",
	}
	require.NoError(t, events.Append(ctx, old))
	require.NoError(t, db.Model(old).Update("created_at", time.Now().Add(-48*time.Hour)).Error)

	recent := &models.Event{
		Level:    models.EventLevelWarn,
		Category: models.EventCategoryStream,
		Message:  "recent event",
		Details:  models.EventDetails{"session": "abc"},
	}
	require.NoError(t, events.Append(ctx, recent))

	pruned, err := events.PruneOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	remaining, err := events.GetRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "recent event", remaining[0].Message)
	assert.Equal(t, "abc", remaining[0].Details["session"])
}

func TestEventRepo_MarkRead(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()
	events := NewEventRepository(db)

	e := &models.Event{
		Level:    models.EventLevelError,
		Category: models.EventCategoryProvider,
		Message:  "auth failed",
	}
	require.NoError(t, events.Append(ctx, e))

	unread, err := events.GetUnread(ctx, 10)
	require.NoError(t, err)
	require.Len(t, unread, 1)

	require.NoError(t, events.MarkRead(ctx, []models.ULID{e.ID}))
	unread, err = events.GetUnread(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)
}
