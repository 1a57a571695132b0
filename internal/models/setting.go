package models

// Well-known setting keys. All values are stored as strings.
const (
	// SettingServerPort is the HTTP listener port (u16, default 5004, min 1024).
	SettingServerPort = "server_port"
	// SettingMatchThreshold is the fuzzy-match acceptance threshold in [0, 1].
	SettingMatchThreshold = "match_threshold"
	// SettingLogVerbosity is "verbose" or "minimal".
	SettingLogVerbosity = "log_verbosity"
	// SettingEpgRefreshHour is the scheduled refresh hour (0-23).
	SettingEpgRefreshHour = "epg_refresh_hour"
	// SettingEpgRefreshMinute is the scheduled refresh minute (0-59).
	SettingEpgRefreshMinute = "epg_refresh_minute"
	// SettingEpgRefreshEnabled toggles the daily refresh job.
	SettingEpgRefreshEnabled = "epg_refresh_enabled"
	// SettingEpgLastScheduledRefresh is the ISO-8601 time of the last scheduled run.
	SettingEpgLastScheduledRefresh = "epg_last_scheduled_refresh"
)

// Default setting values applied when a key is absent.
const (
	DefaultServerPort       = 5004
	DefaultMatchThreshold   = 0.85
	DefaultLogVerbosity     = "verbose"
	DefaultEpgRefreshHour   = 4
	DefaultEpgRefreshMinute = 0
)

// Setting is one row of the flat key-value settings store.
type Setting struct {
	// Key is the setting name.
	Key string `gorm:"primarykey;size:255" json:"key"`

	// Value is the string-encoded setting value.
	Value string `gorm:"not null" json:"value"`

	// UpdatedAt tracks the last modification.
	UpdatedAt Time `json:"updated_at"`
}

// TableName returns the table name for Setting.
func (Setting) TableName() string {
	return "settings"
}
