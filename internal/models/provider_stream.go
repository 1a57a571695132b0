package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// QualityTiers is the set of quality tiers detected in a stream name,
// persisted as a JSON array string such as ["FHD","HD"].
type QualityTiers []string

// Value implements driver.Valuer for database storage.
func (q QualityTiers) Value() (driver.Value, error) {
	if q == nil {
		q = QualityTiers{}
	}
	data, err := json.Marshal([]string(q))
	if err != nil {
		return nil, fmt.Errorf("marshaling quality tiers: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database retrieval.
func (q *QualityTiers) Scan(value any) error {
	if value == nil {
		*q = QualityTiers{}
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for QualityTiers: %T", value)
	}

	if len(data) == 0 {
		*q = QualityTiers{}
		return nil
	}

	var tiers []string
	if err := json.Unmarshal(data, &tiers); err != nil {
		return fmt.Errorf("scanning quality tiers: %w", err)
	}
	*q = QualityTiers(tiers)
	return nil
}

// GormDataType returns the GORM data type for QualityTiers.
func (QualityTiers) GormDataType() string {
	return "text"
}

// Contains reports whether the set contains the given tier.
func (q QualityTiers) Contains(tier string) bool {
	for _, t := range q {
		if t == tier {
			return true
		}
	}
	return false
}

// Equal reports whether two tier sets hold the same tiers in the same order.
func (q QualityTiers) Equal(other QualityTiers) bool {
	if len(q) != len(other) {
		return false
	}
	for i := range q {
		if q[i] != other[i] {
			return false
		}
	}
	return true
}

// ProviderStream is one live stream offered by one provider account.
// Rows are created, mutated, and destroyed only by provider scans.
type ProviderStream struct {
	BaseModel

	// AccountID is the owning account.
	AccountID ULID `gorm:"not null;index;uniqueIndex:idx_account_stream,priority:1" json:"account_id"`

	// StreamID is the provider-assigned stream id, unique within the account.
	StreamID int `gorm:"not null;uniqueIndex:idx_account_stream,priority:2" json:"stream_id"`

	// Name is the provider's display name for the stream.
	Name string `gorm:"not null;size:512" json:"name"`

	// Icon is the stream icon URL.
	Icon string `gorm:"size:2048" json:"icon,omitempty"`

	// CategoryID and CategoryName describe the provider category.
	CategoryID   string `gorm:"size:64" json:"category_id,omitempty"`
	CategoryName string `gorm:"size:255" json:"category_name,omitempty"`

	// Qualities is the detected quality tier set.
	Qualities QualityTiers `gorm:"type:text" json:"qualities"`

	// EpgChannelID is the provider-supplied EPG hint (tvg-id), if any.
	EpgChannelID string `gorm:"size:255;index" json:"epg_channel_id,omitempty"`

	// HasArchive and ArchiveDays describe provider catch-up support.
	HasArchive  bool `gorm:"default:false" json:"has_archive"`
	ArchiveDays int  `gorm:"default:0" json:"archive_days"`

	// Account is the relationship to the owning account.
	Account *Account `gorm:"foreignKey:AccountID" json:"-"`
}

// TableName returns the table name for ProviderStream.
func (ProviderStream) TableName() string {
	return "provider_streams"
}

// Validate performs basic validation on the stream.
func (s *ProviderStream) Validate() error {
	if s.AccountID.IsZero() {
		return ErrAccountIDRequired
	}
	if s.Name == "" {
		return ErrNameRequired
	}
	return nil
}

// MetadataEquals reports whether the scan-relevant metadata of two streams is
// identical. Used by the delta reconciler to detect Changed streams.
func (s *ProviderStream) MetadataEquals(other *ProviderStream) bool {
	return s.Name == other.Name &&
		s.Icon == other.Icon &&
		s.Qualities.Equal(other.Qualities)
}

// BeforeCreate is a GORM hook that validates the stream and generates a ULID.
func (s *ProviderStream) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}
