// Package repository provides data access for streamforge catalog entities.
//
// Repositories are thin typed wrappers over a *gorm.DB handle. Multi-row
// invariants (mapping ranks, atomic EPG swaps) are enforced by running the
// involved repositories against a transaction handle: callers open a
// transaction via database.DB.Transaction and construct repositories bound to
// the tx connection.
package repository

import (
	"context"

	"github.com/streamforge/streamforge/internal/models"
)

// AccountRepository manages provider accounts.
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id models.ULID) (*models.Account, error)
	GetAll(ctx context.Context) ([]*models.Account, error)
	GetEnabled(ctx context.Context) ([]*models.Account, error)
	Update(ctx context.Context, account *models.Account) error
	Delete(ctx context.Context, id models.ULID) error
}

// StreamRepository manages provider streams.
type StreamRepository interface {
	GetByAccountID(ctx context.Context, accountID models.ULID) ([]*models.ProviderStream, error)
	GetByID(ctx context.Context, id models.ULID) (*models.ProviderStream, error)
	CreateInBatches(ctx context.Context, streams []*models.ProviderStream, batchSize int) error
	Update(ctx context.Context, stream *models.ProviderStream) error
	DeleteByIDs(ctx context.Context, ids []models.ULID) error
	GetAll(ctx context.Context) ([]*models.ProviderStream, error)
}

// EpgSourceRepository manages XMLTV sources.
type EpgSourceRepository interface {
	Create(ctx context.Context, source *models.EpgSource) error
	GetByID(ctx context.Context, id models.ULID) (*models.EpgSource, error)
	GetAll(ctx context.Context) ([]*models.EpgSource, error)
	GetEnabled(ctx context.Context) ([]*models.EpgSource, error)
	Update(ctx context.Context, source *models.EpgSource) error
	Delete(ctx context.Context, id models.ULID) error
}

// ChannelRepository manages EPG channels, their settings rows, and programmes.
type ChannelRepository interface {
	GetAll(ctx context.Context) ([]*models.EpgChannel, error)
	GetByID(ctx context.Context, id models.ULID) (*models.EpgChannel, error)
	GetBySourceID(ctx context.Context, sourceID models.ULID) ([]*models.EpgChannel, error)
	CreateInBatches(ctx context.Context, channels []*models.EpgChannel, batchSize int) error
	DeleteBySourceID(ctx context.Context, sourceID models.ULID) error

	GetSettings(ctx context.Context, channelID models.ULID) (*models.EpgChannelSettings, error)
	UpsertSettings(ctx context.Context, settings *models.EpgChannelSettings) error
	EnsureSettings(ctx context.Context, channelID models.ULID, enabled bool) error

	CreateProgramsInBatches(ctx context.Context, programs []*models.EpgProgram, batchSize int) error
	GetProgramsInWindow(ctx context.Context, channelID models.ULID, from, to models.Time) ([]*models.EpgProgram, error)

	// GetLineup returns enabled channels that have at least one mapping,
	// ordered by explicit display order (nulls last) then display name.
	GetLineup(ctx context.Context) ([]*LineupChannel, error)
}

// MappingRepository manages channel-to-stream mappings.
type MappingRepository interface {
	GetByChannelID(ctx context.Context, channelID models.ULID) ([]*models.ChannelMapping, error)
	GetByStreamIDs(ctx context.Context, streamIDs []models.ULID) ([]*models.ChannelMapping, error)
	GetManual(ctx context.Context) ([]*models.ChannelMapping, error)
	Create(ctx context.Context, mapping *models.ChannelMapping) error
	Update(ctx context.Context, mapping *models.ChannelMapping) error
	Delete(ctx context.Context, id models.ULID) error
	DeleteNonManual(ctx context.Context) error

	// Renumber rewrites priorities for a channel to the permutation 0..n-1 by
	// confidence descending among non-manual mappings, keeping manual mappings
	// at their existing ranks, and promotes the best survivor to primary when
	// no primary remains.
	Renumber(ctx context.Context, channelID models.ULID) error

	// GetCandidates returns failover candidates for a channel: mappings joined
	// with streams of enabled accounts, ordered by priority ascending then
	// primary first. Orphaned mappings carry a nil Stream.
	GetCandidates(ctx context.Context, channelID models.ULID) ([]*Candidate, error)
}

// SettingRepository provides typed access to the flat settings store.
type SettingRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	ServerPort(ctx context.Context) int
	MatchThreshold(ctx context.Context) float64
	LogVerbosity(ctx context.Context) string
	EpgRefreshSchedule(ctx context.Context) (hour, minute int, enabled bool)
	SetEpgLastScheduledRefresh(ctx context.Context, t models.Time) error
}

// EventRepository manages the append-only audit log.
type EventRepository interface {
	Append(ctx context.Context, event *models.Event) error
	GetRecent(ctx context.Context, limit int) ([]*models.Event, error)
	GetUnread(ctx context.Context, limit int) ([]*models.Event, error)
	MarkRead(ctx context.Context, ids []models.ULID) error
	PruneOlderThan(ctx context.Context, cutoff models.Time) (int64, error)
}

// LineupChannel is a read projection for document synthesis: a channel with
// its settings and ranked mappings (streams preloaded).
type LineupChannel struct {
	Channel  *models.EpgChannel
	Settings *models.EpgChannelSettings
	Mappings []*models.ChannelMapping
}

// Candidate is one failover candidate for a channel. Stream and Account are
// nil for orphaned manual mappings.
type Candidate struct {
	Mapping *models.ChannelMapping
	Stream  *models.ProviderStream
	Account *models.Account
}
