package models

import (
	"net/url"
	"strings"

	"gorm.io/gorm"
)

// AccountStatus represents the last observed liveness of a provider account.
type AccountStatus string

const (
	// AccountStatusUnknown indicates the account has never been probed.
	AccountStatusUnknown AccountStatus = "unknown"
	// AccountStatusOnline indicates the last probe authenticated successfully.
	AccountStatusOnline AccountStatus = "online"
	// AccountStatusOffline indicates the last probe could not reach the provider.
	AccountStatusOffline AccountStatus = "offline"
	// AccountStatusAuthFailed indicates the provider rejected the credentials.
	AccountStatusAuthFailed AccountStatus = "auth_failed"
)

// Account represents one IPTV provider subscription (Xtream-Codes server plus
// credentials). The password itself never lands in this table: PasswordHandle
// is either the keychain sentinel or an AES-GCM blob (see internal/vault).
type Account struct {
	BaseModel

	// Name is a user-friendly display name, unique across accounts.
	Name string `gorm:"uniqueIndex;not null;size:255" json:"name"`

	// BaseURL is the Xtream server base URL (http or https).
	BaseURL string `gorm:"not null;size:2048" json:"base_url"`

	// Username for provider authentication.
	Username string `gorm:"not null;size:255" json:"username"`

	// PasswordHandle is the opaque vault handle for the stored password.
	// Never serialized to API responses or logs.
	PasswordHandle []byte `gorm:"not null" json:"-" masq:"secret"`

	// MaxConnections is the provider-advertised concurrent connection cap.
	MaxConnections int `gorm:"default:0" json:"max_connections"`

	// ObservedMaxConnections is the cap reported by the last successful
	// authentication, which often differs from the advertised one.
	ObservedMaxConnections *int `json:"observed_max_connections,omitempty"`

	// LastCheckAt is the time of the last liveness probe.
	LastCheckAt *Time `json:"last_check_at,omitempty"`

	// Status is the last observed liveness status.
	Status AccountStatus `gorm:"not null;default:'unknown';size:20" json:"status"`

	// Enabled indicates whether this account participates in scans and streaming.
	Enabled *bool `gorm:"default:true" json:"enabled"`

	// Streams is the relationship to provider streams from this account.
	Streams []ProviderStream `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"streams,omitempty"`
}

// TableName returns the table name for Account.
func (Account) TableName() string {
	return "accounts"
}

// EffectiveMaxConnections returns the observed cap when present, else the
// advertised one, else zero.
func (a *Account) EffectiveMaxConnections() int {
	if a.ObservedMaxConnections != nil && *a.ObservedMaxConnections > 0 {
		return *a.ObservedMaxConnections
	}
	return a.MaxConnections
}

// IsEnabled returns whether the account is active.
func (a *Account) IsEnabled() bool {
	return BoolVal(a.Enabled)
}

// Sanitize trims whitespace and trailing slashes from user-provided fields.
func (a *Account) Sanitize() {
	a.Name = strings.TrimSpace(a.Name)
	a.BaseURL = strings.TrimRight(strings.TrimSpace(a.BaseURL), "/")
	a.Username = strings.TrimSpace(a.Username)
}

// Validate performs basic validation on the account.
func (a *Account) Validate() error {
	a.Sanitize()

	if a.Name == "" {
		return ErrNameRequired
	}
	if a.BaseURL == "" {
		return ErrURLRequired
	}
	u, err := url.Parse(a.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	if a.Username == "" {
		return ErrUsernameRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates the account and generates a ULID.
func (a *Account) BeforeCreate(tx *gorm.DB) error {
	if err := a.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	return a.Validate()
}

// BeforeUpdate is a GORM hook that validates the account before update.
func (a *Account) BeforeUpdate(tx *gorm.DB) error {
	return a.Validate()
}
