package models

import (
	"time"

	"gorm.io/gorm"
)

// EpgProgram is one programme entry in the guide. Programmes of a source are
// replaced atomically on refresh; all timestamps are stored in UTC.
type EpgProgram struct {
	BaseModel

	// ChannelID is the owning EPG channel.
	ChannelID ULID `gorm:"not null;index:idx_program_channel_start,priority:1" json:"channel_id"`

	// Title is the programme title.
	Title string `gorm:"not null;size:1024" json:"title"`

	// Description is the programme description.
	Description string `gorm:"type:text" json:"description,omitempty"`

	// Category is the programme genre/category.
	Category string `gorm:"size:255" json:"category,omitempty"`

	// EpisodeNum is the onscreen episode tag, e.g. "S01E02".
	EpisodeNum string `gorm:"size:64" json:"episode_num,omitempty"`

	// Start and End bound the programme in UTC.
	Start time.Time `gorm:"not null;index:idx_program_channel_start,priority:2" json:"start"`
	End   time.Time `gorm:"not null" json:"end"`
}

// TableName returns the table name for EpgProgram.
func (EpgProgram) TableName() string {
	return "epg_programs"
}

// Validate performs basic validation on the programme.
func (p *EpgProgram) Validate() error {
	if p.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	if p.Title == "" {
		return ErrTitleRequired
	}
	if !p.End.After(p.Start) {
		return ErrInvalidTimeRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the programme, normalizes the
// times to UTC, and generates a ULID.
func (p *EpgProgram) BeforeCreate(tx *gorm.DB) error {
	if err := p.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	p.Start = p.Start.UTC()
	p.End = p.End.UTC()
	return p.Validate()
}
