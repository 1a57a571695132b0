package xtream

import (
	"encoding/json"
	"strconv"
	"time"
)

// AuthInfo contains the combined server and user information returned by the
// panel on an actionless player_api.php call.
type AuthInfo struct {
	UserInfo   UserInfo   `json:"user_info"`
	ServerInfo ServerInfo `json:"server_info"`
}

// UserInfo contains provider account information.
type UserInfo struct {
	Username          string  `json:"username"`
	Message           string  `json:"message"`
	Auth              FlexInt `json:"auth"`
	Status            string  `json:"status"`
	ExpDate           FlexInt `json:"exp_date"`
	IsTrial           FlexInt `json:"is_trial"`
	ActiveConnections FlexInt `json:"active_cons"`
	CreatedAt         FlexInt `json:"created_at"`
	MaxConnections    FlexInt `json:"max_connections"`
}

// IsAuthenticated returns true if the panel accepted the credentials.
func (u *UserInfo) IsAuthenticated() bool {
	return u.Auth.Int() == 1 && u.Status == "Active"
}

// ExpirationTime returns the account expiration time, zero when unset.
func (u *UserInfo) ExpirationTime() time.Time {
	if u.ExpDate.Int() == 0 {
		return time.Time{}
	}
	return time.Unix(u.ExpDate.Int(), 0)
}

// IsExpired returns true if the account has expired.
func (u *UserInfo) IsExpired() bool {
	exp := u.ExpirationTime()
	if exp.IsZero() {
		return false
	}
	return time.Now().After(exp)
}

// ServerInfo contains panel server information.
type ServerInfo struct {
	URL            string  `json:"url"`
	Port           FlexInt `json:"port"`
	HTTPSPort      FlexInt `json:"https_port"`
	ServerProtocol string  `json:"server_protocol"`
	Timezone       string  `json:"timezone"`
	TimestampNow   FlexInt `json:"timestamp_now"`
}

// Category represents a live stream category.
type Category struct {
	CategoryID   FlexString `json:"category_id"`
	CategoryName string     `json:"category_name"`
	ParentID     FlexInt    `json:"parent_id"`
}

// Stream represents a live stream as listed by get_live_streams.
type Stream struct {
	Num           FlexInt    `json:"num"`
	Name          string     `json:"name"`
	StreamType    string     `json:"stream_type"`
	StreamID      FlexInt    `json:"stream_id"`
	StreamIcon    string     `json:"stream_icon"`
	EPGChannelID  string     `json:"epg_channel_id"`
	Added         FlexInt    `json:"added"`
	IsAdult       FlexInt    `json:"is_adult"`
	CategoryID    FlexString `json:"category_id"`
	CustomSID     string     `json:"custom_sid"`
	TVArchive     FlexInt    `json:"tv_archive"`
	TVArchiveDays FlexInt    `json:"tv_archive_duration"`
	DirectSource  string     `json:"direct_source"`
}

// AddedTime returns the time the stream was added to the panel.
func (s *Stream) AddedTime() time.Time {
	if s.Added.Int() == 0 {
		return time.Time{}
	}
	return time.Unix(s.Added.Int(), 0)
}

// FlexInt handles JSON numbers that panels serve interchangeably as strings
// or integers.
type FlexInt int64

// Int returns the integer value.
func (f FlexInt) Int() int64 {
	return int64(f)
}

// UnmarshalJSON handles both string and number JSON values. Unparsable
// values decode to zero rather than failing the whole payload.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexInt(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = FlexInt(n)
		return nil
	}

	*f = 0
	return nil
}

// FlexString handles JSON values that panels serve interchangeably as
// strings or numbers.
type FlexString string

// String returns the string value.
func (f FlexString) String() string {
	return string(f)
}

// UnmarshalJSON handles both string and number JSON values.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexString(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexString(n.String())
		return nil
	}

	*f = ""
	return nil
}
