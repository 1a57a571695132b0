package models

import "gorm.io/gorm"

// MatchType records how a mapping between an EPG channel and a provider stream
// was established.
type MatchType string

const (
	// MatchTypeExactEpgID means the provider's EPG hint matched the channel's stable id.
	MatchTypeExactEpgID MatchType = "exact_epg_id"
	// MatchTypeExactName means the normalized names were identical.
	MatchTypeExactName MatchType = "exact_name"
	// MatchTypeFuzzy means the pairing cleared the fuzzy-score threshold.
	MatchTypeFuzzy MatchType = "fuzzy"
	// MatchTypeManual means a human created or confirmed the mapping.
	MatchTypeManual MatchType = "manual"
)

// ChannelMapping is an edge from one EpgChannel to one ProviderStream, ranked
// for failover.
//
// Invariants maintained by the repository layer inside transactions:
//   - at most one mapping per channel has Primary=true, and that one has Priority 0;
//   - priorities per channel form the permutation 0..n-1;
//   - Manual mappings are never deleted or renumbered by automatic processes.
type ChannelMapping struct {
	BaseModel

	// ChannelID is the EPG channel this mapping belongs to.
	ChannelID ULID `gorm:"not null;index;uniqueIndex:idx_channel_stream,priority:1" json:"channel_id"`

	// StreamID is the mapped provider stream row. Nil marks a manual orphan
	// whose stream vanished from the provider catalog.
	StreamID *ULID `gorm:"uniqueIndex:idx_channel_stream,priority:2" json:"stream_id,omitempty"`

	// Confidence is the match score in [0, 1].
	Confidence float64 `gorm:"not null;default:0" json:"confidence"`

	// Manual marks user-created mappings, immune to automatic modification.
	Manual bool `gorm:"default:false" json:"manual"`

	// Primary marks the current stream of choice for the channel.
	Primary bool `gorm:"column:is_primary;default:false" json:"primary"`

	// Priority is the failover rank; 0 is best.
	Priority int `gorm:"not null;default:0" json:"priority"`

	// MatchType records how the mapping was established.
	MatchType MatchType `gorm:"not null;default:'fuzzy';size:20" json:"match_type"`

	// Channel and Stream are the relationship fields. Stream needs explicit
	// references: ProviderStream has its own StreamID field (the provider's
	// int id), which GORM would otherwise pick as a has-one key.
	Channel *EpgChannel     `gorm:"foreignKey:ChannelID" json:"-"`
	Stream  *ProviderStream `gorm:"foreignKey:StreamID;references:ID" json:"-"`
}

// TableName returns the table name for ChannelMapping.
func (ChannelMapping) TableName() string {
	return "channel_mappings"
}

// IsOrphaned reports whether the mapping's provider stream has vanished.
// Only manual mappings survive orphaning.
func (m *ChannelMapping) IsOrphaned() bool {
	return m.StreamID == nil
}

// Validate performs basic validation on the mapping.
func (m *ChannelMapping) Validate() error {
	if m.ChannelID.IsZero() {
		return ErrChannelIDRequired
	}
	if m.StreamID == nil && !m.Manual {
		return ErrStreamIDRequired
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return ErrConfidenceRange
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the mapping and generates a ULID.
func (m *ChannelMapping) BeforeCreate(tx *gorm.DB) error {
	if err := m.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return m.Validate()
}
