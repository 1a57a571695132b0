package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/models"
)

// accountRepo implements AccountRepository using GORM.
type accountRepo struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository.
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepo{db: db}
}

// Create creates a new account.
func (r *accountRepo) Create(ctx context.Context, account *models.Account) error {
	if err := r.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("creating account: %w", err)
	}
	return nil
}

// GetByID retrieves an account by ID. Returns nil when not found.
func (r *accountRepo) GetByID(ctx context.Context, id models.ULID) (*models.Account, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting account by ID: %w", err)
	}
	return &account, nil
}

// GetAll retrieves all accounts ordered by name.
func (r *accountRepo) GetAll(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	if err := r.db.WithContext(ctx).Order("name ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("getting accounts: %w", err)
	}
	return accounts, nil
}

// GetEnabled retrieves all enabled accounts ordered by name.
func (r *accountRepo) GetEnabled(ctx context.Context) ([]*models.Account, error) {
	var accounts []*models.Account
	if err := r.db.WithContext(ctx).
		Where("enabled = ? OR enabled IS NULL", true).
		Order("name ASC").
		Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("getting enabled accounts: %w", err)
	}
	return accounts, nil
}

// Update updates an existing account.
func (r *accountRepo) Update(ctx context.Context, account *models.Account) error {
	if err := r.db.WithContext(ctx).Save(account).Error; err != nil {
		return fmt.Errorf("updating account: %w", err)
	}
	return nil
}

// Delete deletes an account by ID. Provider streams and their mappings cascade.
func (r *accountRepo) Delete(ctx context.Context, id models.ULID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Account{}).Error; err != nil {
		return fmt.Errorf("deleting account: %w", err)
	}
	return nil
}

var _ AccountRepository = (*accountRepo)(nil)
