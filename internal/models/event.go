package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"gorm.io/gorm"
)

// EventLevel is the severity of an event log entry.
type EventLevel string

const (
	EventLevelInfo  EventLevel = "info"
	EventLevelWarn  EventLevel = "warn"
	EventLevelError EventLevel = "error"
)

// EventCategory groups event log entries by subsystem.
type EventCategory string

const (
	EventCategoryConnection EventCategory = "connection"
	EventCategoryStream     EventCategory = "stream"
	EventCategoryMatch      EventCategory = "match"
	EventCategoryEpg        EventCategory = "epg"
	EventCategorySystem     EventCategory = "system"
	EventCategoryProvider   EventCategory = "provider"
)

// EventDetails is an optional free-form JSON payload attached to an event.
type EventDetails map[string]any

// Value implements driver.Valuer for database storage.
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return nil, nil
	}
	data, err := json.Marshal(map[string]any(d))
	if err != nil {
		return nil, fmt.Errorf("marshaling event details: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database retrieval.
func (d *EventDetails) Scan(value any) error {
	if value == nil {
		*d = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for EventDetails: %T", value)
	}

	if len(data) == 0 {
		*d = nil
		return nil
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("scanning event details: %w", err)
	}
	*d = EventDetails(m)
	return nil
}

// GormDataType returns the GORM data type for EventDetails.
func (EventDetails) GormDataType() string {
	return "text"
}

// Event is one append-only audit log record.
type Event struct {
	BaseModel

	// Level is the severity.
	Level EventLevel `gorm:"not null;size:10;index" json:"level"`

	// Category is the subsystem the event belongs to.
	Category EventCategory `gorm:"not null;size:20;index" json:"category"`

	// Message is the human-readable event text.
	Message string `gorm:"not null;size:2048" json:"message"`

	// Details is an optional structured payload.
	Details EventDetails `gorm:"type:text" json:"details,omitempty"`

	// Read marks events the user has acknowledged in the UI.
	Read bool `gorm:"default:false;index" json:"read"`
}

// TableName returns the table name for Event.
func (Event) TableName() string {
	return "events"
}

// Validate performs basic validation on the event.
func (e *Event) Validate() error {
	switch e.Level {
	case EventLevelInfo, EventLevelWarn, EventLevelError:
	default:
		return ErrInvalidEventLevel
	}
	switch e.Category {
	case EventCategoryConnection, EventCategoryStream, EventCategoryMatch,
		EventCategoryEpg, EventCategorySystem, EventCategoryProvider:
	default:
		return ErrInvalidEventCategory
	}
	if e.Message == "" {
		return ErrTitleRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the event and generates a ULID.
func (e *Event) BeforeCreate(tx *gorm.DB) error {
	if err := e.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return e.Validate()
}
