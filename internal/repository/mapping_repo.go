package repository

import (
	"context"
	"fmt"
	"sort"

	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/models"
)

// mappingRepo implements MappingRepository using GORM.
type mappingRepo struct {
	db *gorm.DB
}

// NewMappingRepository creates a new MappingRepository.
func NewMappingRepository(db *gorm.DB) MappingRepository {
	return &mappingRepo{db: db}
}

// GetByChannelID retrieves all mappings for a channel ordered by priority.
func (r *mappingRepo) GetByChannelID(ctx context.Context, channelID models.ULID) ([]*models.ChannelMapping, error) {
	var mappings []*models.ChannelMapping
	if err := r.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("priority ASC").
		Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("getting mappings by channel: %w", err)
	}
	return mappings, nil
}

// GetByStreamIDs retrieves all mappings attached to any of the given streams.
func (r *mappingRepo) GetByStreamIDs(ctx context.Context, streamIDs []models.ULID) ([]*models.ChannelMapping, error) {
	if len(streamIDs) == 0 {
		return nil, nil
	}
	var mappings []*models.ChannelMapping
	if err := r.db.WithContext(ctx).
		Where("stream_id IN ?", streamIDs).
		Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("getting mappings by streams: %w", err)
	}
	return mappings, nil
}

// GetManual retrieves every manual mapping.
func (r *mappingRepo) GetManual(ctx context.Context) ([]*models.ChannelMapping, error) {
	var mappings []*models.ChannelMapping
	if err := r.db.WithContext(ctx).
		Where("manual = ?", true).
		Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("getting manual mappings: %w", err)
	}
	return mappings, nil
}

// Create creates a new mapping.
func (r *mappingRepo) Create(ctx context.Context, mapping *models.ChannelMapping) error {
	if err := r.db.WithContext(ctx).Create(mapping).Error; err != nil {
		return fmt.Errorf("creating mapping: %w", err)
	}
	return nil
}

// Update updates an existing mapping.
func (r *mappingRepo) Update(ctx context.Context, mapping *models.ChannelMapping) error {
	if err := r.db.WithContext(ctx).Save(mapping).Error; err != nil {
		return fmt.Errorf("updating mapping: %w", err)
	}
	return nil
}

// Delete deletes a mapping by ID.
func (r *mappingRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.ChannelMapping{}).Error; err != nil {
		return fmt.Errorf("deleting mapping: %w", err)
	}
	return nil
}

// DeleteNonManual deletes every automatic mapping. Manual mappings survive.
func (r *mappingRepo) DeleteNonManual(ctx context.Context) error {
	if err := r.db.WithContext(ctx).
		Where("manual = ?", false).
		Delete(&models.ChannelMapping{}).Error; err != nil {
		return fmt.Errorf("deleting non-manual mappings: %w", err)
	}
	return nil
}

// Renumber compacts a channel's mapping priorities into the permutation
// 0..n-1. An existing primary keeps rank 0; otherwise manual pins rank ahead
// of automatic mappings and ties break by confidence descending, and the new
// rank-0 mapping is promoted to primary.
func (r *mappingRepo) Renumber(ctx context.Context, channelID models.ULID) error {
	mappings, err := r.GetByChannelID(ctx, channelID)
	if err != nil {
		return err
	}
	if len(mappings) == 0 {
		return nil
	}

	sort.SliceStable(mappings, func(i, j int) bool {
		a, b := mappings[i], mappings[j]
		if a.Primary != b.Primary {
			return a.Primary
		}
		if a.Manual != b.Manual {
			return a.Manual
		}
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		return a.Priority < b.Priority
	})

	for rank, m := range mappings {
		primary := rank == 0
		if m.Priority != rank || m.Primary != primary {
			m.Priority = rank
			m.Primary = primary
			if err := r.db.WithContext(ctx).Model(m).
				Updates(map[string]any{"priority": rank, "is_primary": primary}).Error; err != nil {
				return fmt.Errorf("renumbering mapping: %w", err)
			}
		}
	}
	return nil
}

// GetCandidates returns playable failover candidates for a channel: mappings
// joined with streams of enabled accounts, ordered by priority ascending then
// primary first. Orphaned mappings have no stream and are excluded.
func (r *mappingRepo) GetCandidates(ctx context.Context, channelID models.ULID) ([]*Candidate, error) {
	var mappings []*models.ChannelMapping
	if err := r.db.WithContext(ctx).
		Joins("JOIN provider_streams ps ON ps.id = channel_mappings.stream_id").
		Joins("JOIN accounts a ON a.id = ps.account_id").
		Where("channel_mappings.channel_id = ?", channelID).
		Where("a.enabled = ? OR a.enabled IS NULL", true).
		Order("channel_mappings.priority ASC, channel_mappings.is_primary DESC").
		Preload("Stream").
		Preload("Stream.Account").
		Find(&mappings).Error; err != nil {
		return nil, fmt.Errorf("getting candidates: %w", err)
	}

	candidates := make([]*Candidate, 0, len(mappings))
	for _, m := range mappings {
		if m.Stream == nil {
			continue
		}
		candidates = append(candidates, &Candidate{
			Mapping: m,
			Stream:  m.Stream,
			Account: m.Stream.Account,
		})
	}
	return candidates, nil
}

var _ MappingRepository = (*mappingRepo)(nil)
