package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/streamforge/streamforge/internal/models"
)

// channelRepo implements ChannelRepository using GORM.
type channelRepo struct {
	db *gorm.DB
}

// NewChannelRepository creates a new ChannelRepository.
func NewChannelRepository(db *gorm.DB) ChannelRepository {
	return &channelRepo{db: db}
}

// GetAll retrieves every EPG channel.
func (r *channelRepo) GetAll(ctx context.Context) ([]*models.EpgChannel, error) {
	var channels []*models.EpgChannel
	if err := r.db.WithContext(ctx).Order("display_name ASC").Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting channels: %w", err)
	}
	return channels, nil
}

// GetByID retrieves a channel by ID. Returns nil when not found.
func (r *channelRepo) GetByID(ctx context.Context, id models.ULID) (*models.EpgChannel, error) {
	var channel models.EpgChannel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&channel).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel by ID: %w", err)
	}
	return &channel, nil
}

// GetBySourceID retrieves all channels for an EPG source.
func (r *channelRepo) GetBySourceID(ctx context.Context, sourceID models.ULID) ([]*models.EpgChannel, error) {
	var channels []*models.EpgChannel
	if err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Order("stable_id ASC").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting channels by source: %w", err)
	}
	return channels, nil
}

// CreateInBatches inserts channels in batches.
func (r *channelRepo) CreateInBatches(ctx context.Context, channels []*models.EpgChannel, batchSize int) error {
	if len(channels) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	if err := r.db.WithContext(ctx).CreateInBatches(channels, batchSize).Error; err != nil {
		return fmt.Errorf("creating channels in batches: %w", err)
	}
	return nil
}

// DeleteBySourceID deletes all channels of a source. Settings, programmes, and
// mappings cascade.
func (r *channelRepo) DeleteBySourceID(ctx context.Context, sourceID models.ULID) error {
	if err := r.db.WithContext(ctx).
		Where("source_id = ?", sourceID).
		Delete(&models.EpgChannel{}).Error; err != nil {
		return fmt.Errorf("deleting channels by source: %w", err)
	}
	return nil
}

// GetSettings retrieves the settings row for a channel. Returns nil when absent.
func (r *channelRepo) GetSettings(ctx context.Context, channelID models.ULID) (*models.EpgChannelSettings, error) {
	var settings models.EpgChannelSettings
	if err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&settings).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting channel settings: %w", err)
	}
	return &settings, nil
}

// UpsertSettings creates or replaces the settings row for a channel.
func (r *channelRepo) UpsertSettings(ctx context.Context, settings *models.EpgChannelSettings) error {
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "plex_display_order", "updated_at"}),
	}).Create(settings).Error; err != nil {
		return fmt.Errorf("upserting channel settings: %w", err)
	}
	return nil
}

// EnsureSettings guarantees a settings row exists for the channel, creating a
// disabled-by-default row when absent. When forceDisabled is requested via
// enabled=false, an existing row is also switched off.
func (r *channelRepo) EnsureSettings(ctx context.Context, channelID models.ULID, enabled bool) error {
	existing, err := r.GetSettings(ctx, channelID)
	if err != nil {
		return err
	}
	if existing == nil {
		settings := &models.EpgChannelSettings{
			ChannelID: channelID,
			Enabled:   models.BoolPtr(enabled),
		}
		if err := r.db.WithContext(ctx).Create(settings).Error; err != nil {
			return fmt.Errorf("creating channel settings: %w", err)
		}
		return nil
	}
	if !enabled && existing.IsEnabled() {
		existing.Enabled = models.BoolPtr(false)
		if err := r.db.WithContext(ctx).Save(existing).Error; err != nil {
			return fmt.Errorf("disabling channel settings: %w", err)
		}
	}
	return nil
}

// CreateProgramsInBatches inserts programmes in batches.
func (r *channelRepo) CreateProgramsInBatches(ctx context.Context, programs []*models.EpgProgram, batchSize int) error {
	if len(programs) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	if err := r.db.WithContext(ctx).CreateInBatches(programs, batchSize).Error; err != nil {
		return fmt.Errorf("creating programmes in batches: %w", err)
	}
	return nil
}

// GetProgramsInWindow retrieves programmes for a channel with start in [from, to).
func (r *channelRepo) GetProgramsInWindow(ctx context.Context, channelID models.ULID, from, to models.Time) ([]*models.EpgProgram, error) {
	var programs []*models.EpgProgram
	if err := r.db.WithContext(ctx).
		Where("channel_id = ? AND start >= ? AND start < ?", channelID, from.UTC(), to.UTC()).
		Order("start ASC").
		Find(&programs).Error; err != nil {
		return nil, fmt.Errorf("getting programmes in window: %w", err)
	}
	return programs, nil
}

// GetLineup returns enabled channels with at least one mapping, ordered by
// explicit display order (nulls last) then display name, with settings and
// ranked mappings attached.
func (r *channelRepo) GetLineup(ctx context.Context) ([]*LineupChannel, error) {
	var channels []*models.EpgChannel
	if err := r.db.WithContext(ctx).
		Joins("JOIN epg_channel_settings s ON s.channel_id = epg_channels.id").
		Where("s.enabled = ?", true).
		Where("EXISTS (SELECT 1 FROM channel_mappings m WHERE m.channel_id = epg_channels.id)").
		Order("s.plex_display_order IS NULL, s.plex_display_order ASC, epg_channels.display_name ASC").
		Preload("Settings").
		Preload("Mappings", func(db *gorm.DB) *gorm.DB {
			return db.Order("priority ASC")
		}).
		Preload("Mappings.Stream").
		Find(&channels).Error; err != nil {
		return nil, fmt.Errorf("getting lineup: %w", err)
	}

	lineup := make([]*LineupChannel, 0, len(channels))
	for _, ch := range channels {
		lc := &LineupChannel{Channel: ch, Settings: ch.Settings}
		for i := range ch.Mappings {
			lc.Mappings = append(lc.Mappings, &ch.Mappings[i])
		}
		// Preload ordering is applied per-parent; keep a deterministic rank
		// order regardless.
		sort.SliceStable(lc.Mappings, func(i, j int) bool {
			return lc.Mappings[i].Priority < lc.Mappings[j].Priority
		})
		lineup = append(lineup, lc)
	}
	return lineup, nil
}

var _ ChannelRepository = (*channelRepo)(nil)
