package xtream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthenticate_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/player_api.php", r.URL.Path)
		assert.Equal(t, "alice", r.URL.Query().Get("username"))
		assert.Equal(t, "secret", r.URL.Query().Get("password"))
		assert.Empty(t, r.URL.Query().Get("action"))
		w.Write([]byte(`{
			"user_info": {"username": "alice", "auth": 1, "status": "Active", "max_connections": "3", "active_cons": "1"},
			"server_info": {"url": "example.com", "port": "8080", "server_protocol": "http"}
		}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "alice", "secret")
	info, err := client.Authenticate(context.Background())
	require.NoError(t, err)
	assert.True(t, info.UserInfo.IsAuthenticated())
	assert.Equal(t, int64(3), info.UserInfo.MaxConnections.Int())
	assert.Equal(t, int64(8080), info.ServerInfo.Port.Int())
}

func TestAuthenticate_RejectedPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Panels answer 200 with auth=0 for bad credentials.
		w.Write([]byte(`{"user_info": {"auth": 0, "status": "Disabled"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "alice", "wrong")
	_, err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, IsAuthError(err))
}

func TestAuthenticate_HTTPStatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind ErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, ErrKindAuth},
		{"forbidden", http.StatusForbidden, ErrKindAuth},
		{"server error", http.StatusInternalServerError, ErrKindHTTP},
		{"not found", http.StatusNotFound, ErrKindHTTP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			client := NewClient(server.URL, "alice", "secret")
			_, err := client.Authenticate(context.Background())
			require.Error(t, err)

			var xe *Error
			require.ErrorAs(t, err, &xe)
			assert.Equal(t, tt.wantKind, xe.Kind)
			assert.Equal(t, tt.status, xe.StatusCode)
		})
	}
}

func TestAuthenticate_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html>not json</html>`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "alice", "secret")
	_, err := client.Authenticate(context.Background())
	require.Error(t, err)

	var xe *Error
	require.ErrorAs(t, err, &xe)
	assert.Equal(t, ErrKindInvalidResponse, xe.Kind)
}

func TestAuthenticate_Timeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, "alice", "secret", WithTimeout(20*time.Millisecond))
	_, err := client.Authenticate(context.Background())
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
}

func TestGetLiveStreams(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "get_live_streams", r.URL.Query().Get("action"))
		assert.Equal(t, "7", r.URL.Query().Get("category_id"))
		// Panels mix string and numeric encodings freely.
		w.Write([]byte(`[
			{"num": 1, "name": "CNN FHD", "stream_id": "101", "epg_channel_id": "cnn.us", "category_id": 7, "tv_archive": "1", "tv_archive_duration": 7},
			{"num": 2, "name": "ESPN", "stream_id": 102, "epg_channel_id": "", "category_id": "7"}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "alice", "secret")
	streams, err := client.GetLiveStreams(context.Background(), &StreamsOptions{CategoryID: "7"})
	require.NoError(t, err)
	require.Len(t, streams, 2)

	assert.Equal(t, "CNN FHD", streams[0].Name)
	assert.Equal(t, int64(101), streams[0].StreamID.Int())
	assert.Equal(t, "cnn.us", streams[0].EPGChannelID)
	assert.Equal(t, "7", streams[0].CategoryID.String())
	assert.Equal(t, int64(1), streams[0].TVArchive.Int())
	assert.Equal(t, int64(7), streams[0].TVArchiveDays.Int())

	assert.Equal(t, int64(102), streams[1].StreamID.Int())
}

func TestGetLiveCategories(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "get_live_categories", r.URL.Query().Get("action"))
		w.Write([]byte(`[{"category_id": "7", "category_name": "News", "parent_id": 0}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "alice", "secret")
	categories, err := client.GetLiveCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, "News", categories[0].CategoryName)
	assert.Equal(t, "7", categories[0].CategoryID.String())
}

func TestLiveStreamURL(t *testing.T) {
	client := NewClient("http://example.com:8080/", "alice", "secret")
	assert.Equal(t, "http://example.com:8080/live/alice/secret/101.ts", client.LiveStreamURL(101, ""))
	assert.Equal(t, "http://example.com:8080/live/alice/secret/101.m3u8", client.LiveStreamURL(101, "m3u8"))

	// Credentials with reserved characters are path-escaped.
	client = NewClient("http://example.com:8080", "user name", "p@ss/word#1")
	assert.Equal(t, "http://example.com:8080/live/user%20name/p@ss%2Fword%231/101.ts", client.LiveStreamURL(101, ""))
}

func TestFlexInt_UnparsableDecodesToZero(t *testing.T) {
	var f FlexInt
	require.NoError(t, f.UnmarshalJSON([]byte(`"not-a-number"`)))
	assert.Equal(t, int64(0), f.Int())
	require.NoError(t, f.UnmarshalJSON([]byte(`""`)))
	assert.Equal(t, int64(0), f.Int())
}

func TestUserInfo_Expiration(t *testing.T) {
	past := UserInfo{ExpDate: FlexInt(time.Now().Add(-time.Hour).Unix())}
	assert.True(t, past.IsExpired())

	future := UserInfo{ExpDate: FlexInt(time.Now().Add(time.Hour).Unix())}
	assert.False(t, future.IsExpired())

	unset := UserInfo{}
	assert.False(t, unset.IsExpired())
}
