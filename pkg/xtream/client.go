// Package xtream is a minimal Xtream Codes API client covering the live TV
// surface the gateway needs: authentication, live categories, live streams,
// and stream URL construction. VOD and series endpoints are deliberately
// absent.
package xtream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultTimeout bounds every provider API call. Xtream panels are slow
	// but a catalog fetch that takes longer than this is effectively down.
	DefaultTimeout = 10 * time.Second

	pathPlayerAPI = "/player_api.php"
	pathLive      = "/live"

	actionGetLiveCategories = "get_live_categories"
	actionGetLiveStreams    = "get_live_streams"

	paramUsername   = "username"
	paramPassword   = "password"
	paramAction     = "action"
	paramCategoryID = "category_id"

	defaultExtension     = "ts"
	maxErrorBodyReadSize = 1024
)

// Client is an Xtream Codes live TV API client for one provider account.
type Client struct {
	// BaseURL is the server base URL, e.g. "http://example.com:8080".
	BaseURL string

	// Username and Password authenticate against the provider panel.
	Username string
	Password string

	// HTTPClient is the HTTP client used for requests. If nil, a default
	// client with DefaultTimeout is used.
	HTTPClient *http.Client

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string
}

// ClientOption is a function that configures a Client.
type ClientOption func(*Client)

// NewClient creates a new Xtream Codes live TV client.
func NewClient(baseURL, username, password string, opts ...ClientOption) *Client {
	c := &Client{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		Username: username,
		Password: password,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithHTTPClient sets a custom HTTP client, allowing injection of clients
// wrapped with retry logic or recording transports.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.HTTPClient = client
	}
}

// WithUserAgent sets a custom User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) {
		c.UserAgent = ua
	}
}

// WithTimeout replaces the HTTP client with one using the given timeout.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.HTTPClient = &http.Client{
			Timeout: timeout,
		}
	}
}

// apiURL builds the player_api.php URL with the given action and parameters.
func (c *Client) apiURL(action string, params map[string]string) string {
	var u strings.Builder
	u.WriteString(fmt.Sprintf("%s%s?%s=%s&%s=%s",
		c.BaseURL,
		pathPlayerAPI,
		paramUsername, url.QueryEscape(c.Username),
		paramPassword, url.QueryEscape(c.Password)))

	if action != "" {
		u.WriteString("&" + paramAction + "=" + url.QueryEscape(action))
	}

	for k, v := range params {
		u.WriteString("&" + url.QueryEscape(k) + "=" + url.QueryEscape(v))
	}

	return u.String()
}

// doRequest performs an HTTP GET and decodes the JSON response, classifying
// failures along the way.
func (c *Client) doRequest(ctx context.Context, op, requestURL string, target any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return &Error{Kind: ErrKindInvalidResponse, Op: op, Err: err}
	}

	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return classify(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &Error{Kind: ErrKindAuth, StatusCode: resp.StatusCode, Op: op}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyReadSize))
		return &Error{
			Kind:       ErrKindHTTP,
			StatusCode: resp.StatusCode,
			Op:         op,
			Err:        fmt.Errorf("%s", strings.TrimSpace(string(body))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return &Error{Kind: ErrKindInvalidResponse, Op: op, Err: err}
	}

	return nil
}

// Authenticate verifies credentials and retrieves account and server
// information. Panels answer HTTP 200 with auth=0 for bad credentials, so
// both transport-level and payload-level rejections map to ErrKindAuth.
func (c *Client) Authenticate(ctx context.Context) (*AuthInfo, error) {
	var info AuthInfo
	if err := c.doRequest(ctx, "authenticate", c.apiURL("", nil), &info); err != nil {
		return nil, err
	}
	if !info.UserInfo.IsAuthenticated() {
		return nil, &Error{Kind: ErrKindAuth, Op: "authenticate"}
	}
	return &info, nil
}

// GetLiveCategories retrieves all live stream categories.
func (c *Client) GetLiveCategories(ctx context.Context) ([]Category, error) {
	var categories []Category
	if err := c.doRequest(ctx, actionGetLiveCategories, c.apiURL(actionGetLiveCategories, nil), &categories); err != nil {
		return nil, err
	}
	return categories, nil
}

// StreamsOptions contains options for listing live streams.
type StreamsOptions struct {
	// CategoryID filters streams by category. Empty means all categories.
	CategoryID string
}

// GetLiveStreams retrieves live streams, optionally filtered by category.
func (c *Client) GetLiveStreams(ctx context.Context, opts *StreamsOptions) ([]Stream, error) {
	params := make(map[string]string)
	if opts != nil && opts.CategoryID != "" {
		params[paramCategoryID] = opts.CategoryID
	}

	var streams []Stream
	if err := c.doRequest(ctx, actionGetLiveStreams, c.apiURL(actionGetLiveStreams, params), &streams); err != nil {
		return nil, err
	}
	return streams, nil
}

// LiveStreamURL returns the playable URL for a live stream. Common
// extensions are "ts" and "m3u8"; empty defaults to "ts".
func (c *Client) LiveStreamURL(streamID int, extension string) string {
	if extension == "" {
		extension = defaultExtension
	}
	return fmt.Sprintf("%s%s/%s/%s/%d.%s",
		c.BaseURL, pathLive, url.PathEscape(c.Username), url.PathEscape(c.Password), streamID, extension)
}
