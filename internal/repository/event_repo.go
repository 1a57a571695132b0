package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/models"
)

// eventRepo implements EventRepository using GORM.
type eventRepo struct {
	db *gorm.DB
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepo{db: db}
}

// Append records an event.
func (r *eventRepo) Append(ctx context.Context, event *models.Event) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// GetRecent retrieves the newest events, newest first.
func (r *eventRepo) GetRecent(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*models.Event
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("getting recent events: %w", err)
	}
	return events, nil
}

// GetUnread retrieves unread events, newest first.
func (r *eventRepo) GetUnread(ctx context.Context, limit int) ([]*models.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []*models.Event
	if err := r.db.WithContext(ctx).
		Where("read = ?", false).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&events).Error; err != nil {
		return nil, fmt.Errorf("getting unread events: %w", err)
	}
	return events, nil
}

// MarkRead marks the given events as read.
func (r *eventRepo) MarkRead(ctx context.Context, ids []models.ULID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).
		Model(&models.Event{}).
		Where("id IN ?", ids).
		Update("read", true).Error; err != nil {
		return fmt.Errorf("marking events read: %w", err)
	}
	return nil
}

// PruneOlderThan deletes events created before the cutoff and returns the
// number removed.
func (r *eventRepo) PruneOlderThan(ctx context.Context, cutoff models.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff.UTC()).
		Delete(&models.Event{})
	if result.Error != nil {
		return 0, fmt.Errorf("pruning events: %w", result.Error)
	}
	return result.RowsAffected, nil
}

var _ EventRepository = (*eventRepo)(nil)
