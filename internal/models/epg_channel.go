package models

import (
	"strings"

	"gorm.io/gorm"
)

// EpgSource is one XMLTV document the gateway ingests channels and programmes
// from. Channels of a source are replaced wholesale on refresh.
type EpgSource struct {
	BaseModel

	// Name is a user-friendly name for the source.
	Name string `gorm:"uniqueIndex;not null;size:255" json:"name"`

	// URL is the XMLTV document URL. Gzip, bzip2, and xz compression are
	// detected automatically.
	URL string `gorm:"not null;size:2048" json:"url"`

	// Enabled indicates whether this source participates in scheduled refreshes.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// LastRefreshAt is the time of the last successful refresh.
	LastRefreshAt *Time `json:"last_refresh_at,omitempty"`

	// LastError contains the error message from the last failed refresh.
	LastError string `gorm:"size:4096" json:"last_error,omitempty"`

	// Channels is the relationship to channels from this source.
	Channels []EpgChannel `gorm:"foreignKey:SourceID;constraint:OnDelete:CASCADE" json:"channels,omitempty"`
}

// TableName returns the table name for EpgSource.
func (EpgSource) TableName() string {
	return "epg_sources"
}

// IsEnabled returns whether the source is active.
func (s *EpgSource) IsEnabled() bool {
	return BoolVal(s.Enabled)
}

// Validate performs basic validation on the source.
func (s *EpgSource) Validate() error {
	s.Name = strings.TrimSpace(s.Name)
	s.URL = strings.TrimSpace(s.URL)
	if s.Name == "" {
		return ErrNameRequired
	}
	if s.URL == "" {
		return ErrURLRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the source and generates a ULID.
func (s *EpgSource) BeforeCreate(tx *gorm.DB) error {
	if err := s.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return s.Validate()
}

// EpgChannel is one logical channel in the XMLTV lineup, the unit of what the
// user sees in Plex. Provider streams attach to it through ChannelMappings.
type EpgChannel struct {
	BaseModel

	// SourceID is the owning EPG source.
	SourceID ULID `gorm:"not null;index;uniqueIndex:idx_source_stable,priority:1" json:"source_id"`

	// StableID is the XMLTV channel id (tvg-id), stable across refreshes.
	StableID string `gorm:"not null;size:255;uniqueIndex:idx_source_stable,priority:2" json:"stable_id"`

	// DisplayName is the channel display name.
	DisplayName string `gorm:"not null;size:512" json:"display_name"`

	// Icon is the channel icon URL.
	Icon string `gorm:"size:2048" json:"icon,omitempty"`

	// Synthetic marks channels with no real programme data; the EPG document
	// fabricates placeholder blocks for them.
	Synthetic bool `gorm:"default:false" json:"synthetic"`

	// Source is the relationship to the owning EPG source.
	Source *EpgSource `gorm:"foreignKey:SourceID" json:"-"`

	// Settings is the per-channel user settings row.
	Settings *EpgChannelSettings `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE" json:"settings,omitempty"`

	// Mappings is the relationship to provider stream mappings.
	Mappings []ChannelMapping `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE" json:"mappings,omitempty"`

	// Programs is the relationship to programme entries.
	Programs []EpgProgram `gorm:"foreignKey:ChannelID;constraint:OnDelete:CASCADE" json:"programs,omitempty"`
}

// TableName returns the table name for EpgChannel.
func (EpgChannel) TableName() string {
	return "epg_channels"
}

// Validate performs basic validation on the channel.
func (c *EpgChannel) Validate() error {
	if c.SourceID.IsZero() {
		return ErrSourceIDRequired
	}
	if c.StableID == "" {
		return ErrChannelIDRequired
	}
	if c.DisplayName == "" {
		return ErrNameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the channel and generates a ULID.
func (c *EpgChannel) BeforeCreate(tx *gorm.DB) error {
	if err := c.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return c.Validate()
}

// EpgChannelSettings holds per-channel user settings. A row exists for every
// EpgChannel; channels without mappings default to disabled.
type EpgChannelSettings struct {
	BaseModel

	// ChannelID is the owning EpgChannel.
	ChannelID ULID `gorm:"not null;uniqueIndex" json:"channel_id"`

	// Enabled controls whether the channel appears in generated documents.
	Enabled *bool `gorm:"default:false" json:"enabled"`

	// PlexDisplayOrder is the explicit lineup position (0-based), nil when the
	// channel has no explicit position.
	PlexDisplayOrder *int `json:"plex_display_order,omitempty"`
}

// TableName returns the table name for EpgChannelSettings.
func (EpgChannelSettings) TableName() string {
	return "epg_channel_settings"
}

// IsEnabled returns whether the channel is enabled, defaulting to false.
func (s *EpgChannelSettings) IsEnabled() bool {
	return s.Enabled != nil && *s.Enabled
}
