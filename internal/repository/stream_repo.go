package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/models"
)

// streamRepo implements StreamRepository using GORM.
type streamRepo struct {
	db *gorm.DB
}

// NewStreamRepository creates a new StreamRepository.
func NewStreamRepository(db *gorm.DB) StreamRepository {
	return &streamRepo{db: db}
}

// GetByAccountID retrieves all streams for an account.
func (r *streamRepo) GetByAccountID(ctx context.Context, accountID models.ULID) ([]*models.ProviderStream, error) {
	var streams []*models.ProviderStream
	if err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("stream_id ASC").
		Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting streams by account: %w", err)
	}
	return streams, nil
}

// GetByID retrieves a stream by row ID. Returns nil when not found.
func (r *streamRepo) GetByID(ctx context.Context, id models.ULID) (*models.ProviderStream, error) {
	var stream models.ProviderStream
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&stream).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting stream by ID: %w", err)
	}
	return &stream, nil
}

// CreateInBatches inserts streams in batches to bound memory and lock time.
func (r *streamRepo) CreateInBatches(ctx context.Context, streams []*models.ProviderStream, batchSize int) error {
	if len(streams) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	if err := r.db.WithContext(ctx).CreateInBatches(streams, batchSize).Error; err != nil {
		return fmt.Errorf("creating streams in batches: %w", err)
	}
	return nil
}

// Update updates an existing stream.
func (r *streamRepo) Update(ctx context.Context, stream *models.ProviderStream) error {
	if err := r.db.WithContext(ctx).Save(stream).Error; err != nil {
		return fmt.Errorf("updating stream: %w", err)
	}
	return nil
}

// DeleteByIDs deletes streams by row IDs. Non-manual mappings cascade; manual
// mappings must be orphaned (stream_id set NULL) by the caller beforehand.
func (r *streamRepo) DeleteByIDs(ctx context.Context, ids []models.ULID) error {
	if len(ids) == 0 {
		return nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.ProviderStream{}).Error; err != nil {
		return fmt.Errorf("deleting streams: %w", err)
	}
	return nil
}

// GetAll retrieves every provider stream.
func (r *streamRepo) GetAll(ctx context.Context) ([]*models.ProviderStream, error) {
	var streams []*models.ProviderStream
	if err := r.db.WithContext(ctx).Find(&streams).Error; err != nil {
		return nil, fmt.Errorf("getting all streams: %w", err)
	}
	return streams, nil
}

var _ StreamRepository = (*streamRepo)(nil)
