package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource is a controllable healthSource.
type fakeSource struct {
	mu        sync.Mutex
	lastData  time.Time
	prefilled bool
	done      chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{lastData: time.Now(), prefilled: true, done: make(chan struct{})}
}

func (f *fakeSource) LastData() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastData
}

func (f *fakeSource) touch() {
	f.mu.Lock()
	f.lastData = time.Now()
	f.mu.Unlock()
}

func (f *fakeSource) Prefilled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prefilled
}

func (f *fakeSource) setPrefilled(v bool) {
	f.mu.Lock()
	f.prefilled = v
	f.mu.Unlock()
}

func (f *fakeSource) Done() <-chan struct{} { return f.done }

func fastConfig() MonitorConfig {
	return MonitorConfig{
		StallDetect:     40 * time.Millisecond,
		FailoverTrigger: 120 * time.Millisecond,
		Poll:            10 * time.Millisecond,
	}
}

func TestMonitor_StallProgression(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	var got []HealthStatus
	deadline := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case status, ok := <-m.Watch():
			if !ok {
				t.Fatal("watch channel closed early")
			}
			got = append(got, status)
		case <-deadline:
			t.Fatalf("timed out, transitions so far: %v", got)
		}
	}

	assert.Equal(t, Stalled, got[0].State)
	assert.GreaterOrEqual(t, got[0].StallDuration, 40*time.Millisecond)
	assert.Equal(t, FailoverNeeded, got[1].State)
	assert.GreaterOrEqual(t, got[1].StallDuration, 120*time.Millisecond)
}

func TestMonitor_RecoveryEmitsHealthy(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Wait for the stall transition, then feed data again.
	select {
	case status := <-m.Watch():
		require.Equal(t, Stalled, status.State)
	case <-time.After(2 * time.Second):
		t.Fatal("no stall transition")
	}

	src.touch()
	select {
	case status := <-m.Watch():
		assert.Equal(t, Healthy, status.State)
	case <-time.After(2 * time.Second):
		t.Fatal("no recovery transition")
	}
}

func TestMonitor_PrefillingIsHealthy(t *testing.T) {
	src := newFakeSource()
	src.setPrefilled(false)
	m := NewMonitor(src, fastConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Even with stale lastData, a prefilling pipe never stalls.
	src.mu.Lock()
	src.lastData = time.Now().Add(-time.Minute)
	src.mu.Unlock()

	select {
	case status := <-m.Watch():
		t.Fatalf("unexpected transition while prefilling: %v", status)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestMonitor_EndedClosesWatch(t *testing.T) {
	src := newFakeSource()
	m := NewMonitor(src, fastConfig())

	go m.Run(context.Background())
	close(src.done)

	var last HealthStatus
	for status := range m.Watch() {
		last = status
	}
	assert.Equal(t, Ended, last.State)
}

func TestHealthState_String(t *testing.T) {
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "stalled", Stalled.String())
	assert.Equal(t, "failover_needed", FailoverNeeded.String())
	assert.Equal(t, "ended", Ended.String())
}
