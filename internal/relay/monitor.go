package relay

import (
	"context"
	"fmt"
	"time"
)

// HealthState classifies pipe liveness.
type HealthState int

const (
	// Healthy means data arrived recently, or prefill is still in progress.
	Healthy HealthState = iota
	// Stalled means no data for at least the stall threshold.
	Stalled
	// FailoverNeeded means the stall has crossed the failover threshold.
	FailoverNeeded
	// Ended means the pipe finished.
	Ended
)

// String returns a human-readable state name.
func (s HealthState) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Stalled:
		return "stalled"
	case FailoverNeeded:
		return "failover_needed"
	case Ended:
		return "ended"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// HealthStatus is one monitor observation.
type HealthStatus struct {
	State HealthState

	// StallDuration is how long the pipe has been without data, meaningful
	// for Stalled and FailoverNeeded.
	StallDuration time.Duration
}

// MonitorConfig holds stall detection thresholds.
type MonitorConfig struct {
	StallDetect     time.Duration
	FailoverTrigger time.Duration
	Poll            time.Duration
}

// DefaultMonitorConfig returns the default thresholds.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		StallDetect:     3 * time.Second,
		FailoverTrigger: 5 * time.Second,
		Poll:            time.Second,
	}
}

// healthSource is the part of a Pipe the monitor observes.
type healthSource interface {
	LastData() time.Time
	Prefilled() bool
	Done() <-chan struct{}
}

// Monitor polls a pipe and emits state transitions on a watch channel. It
// only informs; failover decisions belong to the controller.
type Monitor struct {
	source healthSource
	cfg    MonitorConfig
	ch     chan HealthStatus
}

// NewMonitor creates a monitor for the given pipe.
func NewMonitor(source healthSource, cfg MonitorConfig) *Monitor {
	if cfg.StallDetect <= 0 {
		cfg.StallDetect = 3 * time.Second
	}
	if cfg.FailoverTrigger <= 0 {
		cfg.FailoverTrigger = 5 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = time.Second
	}
	return &Monitor{
		source: source,
		cfg:    cfg,
		ch:     make(chan HealthStatus, 4),
	}
}

// Watch returns the transition channel. The channel is closed after Ended is
// delivered or the monitor's context ends.
func (m *Monitor) Watch() <-chan HealthStatus {
	return m.ch
}

// Run polls until the pipe ends or ctx is cancelled, sending only on state
// transitions.
func (m *Monitor) Run(ctx context.Context) {
	defer close(m.ch)

	ticker := time.NewTicker(m.cfg.Poll)
	defer ticker.Stop()

	last := Healthy
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.source.Done():
			m.emit(HealthStatus{State: Ended})
			return
		case <-ticker.C:
			status := m.observe()
			if status.State != last {
				last = status.State
				m.emit(status)
			}
		}
	}
}

func (m *Monitor) observe() HealthStatus {
	// A pipe still prefilling is not stalled, it is starting up; connect
	// failures before prefill are the controller's concern.
	if !m.source.Prefilled() {
		return HealthStatus{State: Healthy}
	}

	gap := time.Since(m.source.LastData())
	switch {
	case gap < m.cfg.StallDetect:
		return HealthStatus{State: Healthy}
	case gap < m.cfg.FailoverTrigger:
		return HealthStatus{State: Stalled, StallDuration: gap}
	default:
		return HealthStatus{State: FailoverNeeded, StallDuration: gap}
	}
}

// emit delivers without blocking; the buffer absorbs a slow consumer and a
// missed intermediate transition is acceptable.
func (m *Monitor) emit(status HealthStatus) {
	select {
	case m.ch <- status:
	default:
	}
}
