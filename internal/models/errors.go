package models

import "errors"

// Common validation errors for models.
var (
	// ErrNameRequired indicates a required name field is empty.
	ErrNameRequired = errors.New("name is required")

	// ErrURLRequired indicates a required URL field is empty.
	ErrURLRequired = errors.New("url is required")

	// ErrInvalidURL indicates a malformed URL.
	ErrInvalidURL = errors.New("invalid URL format: must be http or https")

	// ErrUsernameRequired indicates missing provider credentials.
	ErrUsernameRequired = errors.New("username is required")

	// ErrAccountIDRequired indicates a required account ID field is empty.
	ErrAccountIDRequired = errors.New("account_id is required")

	// ErrSourceIDRequired indicates a required EPG source ID field is empty.
	ErrSourceIDRequired = errors.New("source_id is required")

	// ErrChannelIDRequired indicates a required channel ID field is empty.
	ErrChannelIDRequired = errors.New("channel_id is required")

	// ErrStreamIDRequired indicates a required provider stream ID field is empty.
	ErrStreamIDRequired = errors.New("stream_id is required")

	// ErrTitleRequired indicates a required title field is empty.
	ErrTitleRequired = errors.New("title is required")

	// ErrInvalidTimeRange indicates end time is not after start time.
	ErrInvalidTimeRange = errors.New("end time must be after start time")

	// ErrConfidenceRange indicates a match confidence outside [0, 1].
	ErrConfidenceRange = errors.New("confidence must be in [0, 1]")

	// ErrInvalidEventLevel indicates an unknown event log level.
	ErrInvalidEventLevel = errors.New("invalid event level: must be 'info', 'warn' or 'error'")

	// ErrInvalidEventCategory indicates an unknown event log category.
	ErrInvalidEventCategory = errors.New("invalid event category")
)
