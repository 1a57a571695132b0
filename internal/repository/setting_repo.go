package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/streamforge/streamforge/internal/models"
)

// settingRepo implements SettingRepository using GORM. Typed accessors fall
// back to defaults on missing keys, unparsable values, and read errors so a
// flaky settings table never takes the gateway down.
type settingRepo struct {
	db *gorm.DB
}

// NewSettingRepository creates a new SettingRepository.
func NewSettingRepository(db *gorm.DB) SettingRepository {
	return &settingRepo{db: db}
}

// Get retrieves a raw setting value. Returns "" when the key is absent.
func (r *settingRepo) Get(ctx context.Context, key string) (string, error) {
	var setting models.Setting
	if err := r.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("getting setting %q: %w", key, err)
	}
	return setting.Value, nil
}

// Set creates or replaces a setting value.
func (r *settingRepo) Set(ctx context.Context, key, value string) error {
	setting := models.Setting{Key: key, Value: value, UpdatedAt: models.Now()}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&setting).Error; err != nil {
		return fmt.Errorf("setting %q: %w", key, err)
	}
	return nil
}

// ServerPort returns the configured listener port. Out-of-range and
// privileged ports fall back to the default.
func (r *settingRepo) ServerPort(ctx context.Context) int {
	raw, err := r.Get(ctx, models.SettingServerPort)
	if err != nil || raw == "" {
		return models.DefaultServerPort
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port < 1024 || port > 65535 {
		return models.DefaultServerPort
	}
	return port
}

// MatchThreshold returns the fuzzy-match acceptance threshold, clamped to
// the default when absent or outside [0, 1].
func (r *settingRepo) MatchThreshold(ctx context.Context) float64 {
	raw, err := r.Get(ctx, models.SettingMatchThreshold)
	if err != nil || raw == "" {
		return models.DefaultMatchThreshold
	}
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil || threshold < 0 || threshold > 1 {
		return models.DefaultMatchThreshold
	}
	return threshold
}

// LogVerbosity returns "verbose" or "minimal". Fails open to verbose: a
// broken settings read must not silence diagnostics.
func (r *settingRepo) LogVerbosity(ctx context.Context) string {
	raw, err := r.Get(ctx, models.SettingLogVerbosity)
	if err != nil {
		return models.DefaultLogVerbosity
	}
	if raw != "verbose" && raw != "minimal" {
		return models.DefaultLogVerbosity
	}
	return raw
}

// EpgRefreshSchedule returns the daily refresh time and whether the job is
// enabled. The job defaults to enabled at 04:00.
func (r *settingRepo) EpgRefreshSchedule(ctx context.Context) (hour, minute int, enabled bool) {
	hour = models.DefaultEpgRefreshHour
	minute = models.DefaultEpgRefreshMinute
	enabled = true

	if raw, err := r.Get(ctx, models.SettingEpgRefreshHour); err == nil && raw != "" {
		if h, err := strconv.Atoi(raw); err == nil && h >= 0 && h <= 23 {
			hour = h
		}
	}
	if raw, err := r.Get(ctx, models.SettingEpgRefreshMinute); err == nil && raw != "" {
		if m, err := strconv.Atoi(raw); err == nil && m >= 0 && m <= 59 {
			minute = m
		}
	}
	if raw, err := r.Get(ctx, models.SettingEpgRefreshEnabled); err == nil && raw != "" {
		if b, err := strconv.ParseBool(raw); err == nil {
			enabled = b
		}
	}
	return hour, minute, enabled
}

// SetEpgLastScheduledRefresh stamps the time of the last scheduled run.
func (r *settingRepo) SetEpgLastScheduledRefresh(ctx context.Context, t models.Time) error {
	return r.Set(ctx, models.SettingEpgLastScheduledRefresh, t.UTC().Format(time.RFC3339))
}

var _ SettingRepository = (*settingRepo)(nil)
