// Package relay drives live stream delivery: session admission, the ffmpeg
// remux pipe, stall detection, and mid-stream failover between provider
// streams.
package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/streamforge/streamforge/internal/models"
)

// SessionInfo describes one active tuner session.
type SessionInfo struct {
	ID         string      `json:"id"`
	ChannelID  models.ULID `json:"channel_id"`
	StreamName string      `json:"stream_name"`
	StartedAt  time.Time   `json:"started_at"`
}

// SessionManager admits tuner sessions under a concurrency cap. There is no
// queue: refusals are immediate.
type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]*SessionInfo
	max      atomic.Int64
}

// NewSessionManager creates a session manager with the given cap.
func NewSessionManager(maxConcurrent int) *SessionManager {
	m := &SessionManager{sessions: make(map[string]*SessionInfo)}
	m.max.Store(int64(maxConcurrent))
	return m
}

// CanStart reports whether a new session would currently be admitted.
func (m *SessionManager) CanStart() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.sessions)) < m.max.Load()
}

// Start admits a session and returns its new id, or ok=false at capacity.
func (m *SessionManager) Start(channelID models.ULID, streamName string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if int64(len(m.sessions)) >= m.max.Load() {
		return "", false
	}

	id := uuid.NewString()
	m.sessions[id] = &SessionInfo{
		ID:         id,
		ChannelID:  channelID,
		StreamName: streamName,
		StartedAt:  time.Now(),
	}
	return id, true
}

// SetStreamName updates the stream name shown for a session, used after a
// session is admitted before its upstream is resolved. Unknown ids are
// ignored.
func (m *SessionManager) SetStreamName(id, streamName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[id]; ok {
		s.StreamName = streamName
	}
}

// End removes a session. Unknown ids are ignored.
func (m *SessionManager) End(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// SetMax updates the concurrency cap. Existing sessions are never evicted;
// the new cap applies to future admissions only.
func (m *SessionManager) SetMax(n int) {
	m.max.Store(int64(n))
}

// Max returns the current concurrency cap.
func (m *SessionManager) Max() int {
	return int(m.max.Load())
}

// Count returns the number of active sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Active returns a snapshot of active sessions.
func (m *SessionManager) Active() []*SessionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*SessionInfo, 0, len(m.sessions))
	for _, s := range m.sessions {
		copied := *s
		out = append(out, &copied)
	}
	return out
}
