package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamforge/streamforge/internal/models"
)

func TestSessionManager_AdmitAndCap(t *testing.T) {
	m := NewSessionManager(2)
	ch := models.NewULID()

	assert.True(t, m.CanStart())
	id1, ok := m.Start(ch, "CNN HD")
	require.True(t, ok)
	require.NotEmpty(t, id1)

	id2, ok := m.Start(ch, "ESPN HD")
	require.True(t, ok)
	assert.NotEqual(t, id1, id2)

	// At capacity: refusal is immediate, no queueing.
	assert.False(t, m.CanStart())
	_, ok = m.Start(ch, "BBC One")
	assert.False(t, ok)
	assert.Equal(t, 2, m.Count())

	m.End(id1)
	assert.True(t, m.CanStart())
	_, ok = m.Start(ch, "BBC One")
	assert.True(t, ok)
}

func TestSessionManager_EndUnknownIsNoop(t *testing.T) {
	m := NewSessionManager(1)
	m.End("no-such-session")
	assert.Equal(t, 0, m.Count())
}

func TestSessionManager_SetMax(t *testing.T) {
	m := NewSessionManager(1)
	ch := models.NewULID()

	_, ok := m.Start(ch, "a")
	require.True(t, ok)
	assert.False(t, m.CanStart())

	m.SetMax(3)
	assert.Equal(t, 3, m.Max())
	assert.True(t, m.CanStart())

	// Lowering below the active count evicts nobody.
	_, ok = m.Start(ch, "b")
	require.True(t, ok)
	m.SetMax(1)
	assert.Equal(t, 2, m.Count())
	assert.False(t, m.CanStart())
}

func TestSessionManager_ActiveSnapshot(t *testing.T) {
	m := NewSessionManager(5)
	ch := models.NewULID()

	id, ok := m.Start(ch, "CNN HD")
	require.True(t, ok)

	active := m.Active()
	require.Len(t, active, 1)
	assert.Equal(t, id, active[0].ID)
	assert.Equal(t, ch, active[0].ChannelID)
	assert.Equal(t, "CNN HD", active[0].StreamName)
	assert.False(t, active[0].StartedAt.IsZero())

	// Mutating the snapshot does not touch the manager's state.
	active[0].StreamName = "mutated"
	assert.Equal(t, "CNN HD", m.Active()[0].StreamName)
}
