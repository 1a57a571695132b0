package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/models"
	"github.com/streamforge/streamforge/internal/repository"
	"github.com/streamforge/streamforge/internal/vault"
	"github.com/streamforge/streamforge/pkg/xtream"
)

// Failover timing budget.
const (
	// connectTimeout bounds each candidate's upstream probe.
	connectTimeout = time.Second

	// failoverBudget bounds one whole failover window.
	failoverBudget = 2 * time.Second

	// maxBackupsPerWindow caps candidates tried within one failover window.
	maxBackupsPerWindow = 2

	// upgradeRetryInterval is how long to stay on a backup before probing
	// the primary again.
	upgradeRetryInterval = 60 * time.Second
)

// ErrNoCandidates means the channel has no playable mappings.
var ErrNoCandidates = errors.New("no playable streams for channel")

// ErrAllStreamsFailed means every candidate was exhausted.
var ErrAllStreamsFailed = errors.New("all streams failed")

// FailureKind classifies why a candidate could not be served.
type FailureKind string

const (
	FailureConnectionTimeout FailureKind = "connection_timeout"
	FailureConnectionError   FailureKind = "connection_error"
	FailureHTTP              FailureKind = "http"
	FailureStream            FailureKind = "stream_error"
)

// failure carries a classified candidate failure.
type failure struct {
	kind       FailureKind
	statusCode int
	err        error
}

func (f *failure) Error() string {
	if f.kind == FailureHTTP {
		return fmt.Sprintf("upstream returned HTTP %d", f.statusCode)
	}
	if f.err != nil {
		return fmt.Sprintf("%s: %v", f.kind, f.err)
	}
	return string(f.kind)
}

// accountLevel reports whether the failure condemns the whole account, not
// just this stream. Xtream servers answer 401/403 for exhausted or expired
// accounts regardless of which stream is asked for.
func (f *failure) accountLevel() bool {
	return f.kind == FailureHTTP && (f.statusCode == http.StatusUnauthorized || f.statusCode == http.StatusForbidden)
}

func (f *failure) reason() string {
	if f.kind == FailureHTTP {
		return fmt.Sprintf("http_%d", f.statusCode)
	}
	return string(f.kind)
}

// candidate is one ranked failover option with its resolved upstream URL.
type candidate struct {
	mapping   *models.ChannelMapping
	stream    *models.ProviderStream
	accountID models.ULID
	url       string
}

// ControllerConfig wires a failover controller.
type ControllerConfig struct {
	DB     *gorm.DB
	Vault  *vault.Vault
	Logger *slog.Logger

	// FFmpegPath is handed to each remux pipe.
	FFmpegPath string

	// SessionID tags pipe logs and events.
	SessionID string

	Monitor MonitorConfig

	// PrefillBytes overrides the pipe default when positive.
	PrefillBytes int64

	// probe overrides upstream probing in tests.
	probe func(ctx context.Context, url string) *failure

	// openPipe overrides pipe construction in tests.
	openPipe func(ctx context.Context, url string) (*Pipe, error)
}

// Controller serves one channel to one client, swapping upstream streams
// inside the response body when the current one fails. The client sees a
// single continuous MPEG-TS byte stream.
type Controller struct {
	cfg        ControllerConfig
	channelID  models.ULID
	logger     *slog.Logger
	candidates []candidate

	idx             int
	primaryIdx      int
	lastFailover    time.Time
	windowAttempts  int
	skippedAccounts map[models.ULID]bool
}

// NewController builds a controller for the channel, resolving the ranked
// candidate list with credentials. Returns ErrNoCandidates when nothing is
// playable.
func NewController(ctx context.Context, channelID models.ULID, cfg ControllerConfig) (*Controller, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rows, err := repository.NewMappingRepository(cfg.DB).GetCandidates(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("loading failover candidates: %w", err)
	}

	c := &Controller{
		cfg:             cfg,
		channelID:       channelID,
		logger:          cfg.Logger.With(slog.String("channel_id", channelID.String()), slog.String("session", cfg.SessionID)),
		skippedAccounts: make(map[models.ULID]bool),
	}

	for _, row := range rows {
		if row.Stream == nil || row.Account == nil {
			continue
		}
		password, err := cfg.Vault.Retrieve(row.Account.PasswordHandle)
		if err != nil {
			c.logger.Warn("skipping candidate, credential retrieval failed",
				slog.String("account", row.Account.Name),
				slog.Any("error", err),
			)
			continue
		}
		client := xtream.NewClient(row.Account.BaseURL, row.Account.Username, password)
		c.candidates = append(c.candidates, candidate{
			mapping:   row.Mapping,
			stream:    row.Stream,
			accountID: row.Account.ID,
			url:       client.LiveStreamURL(row.Stream.StreamID, "ts"),
		})
	}

	if len(c.candidates) == 0 {
		return nil, ErrNoCandidates
	}
	return c, nil
}

// CurrentStreamName returns the provider name of the current candidate.
func (c *Controller) CurrentStreamName() string {
	return c.candidates[c.idx].stream.Name
}

// Serve streams the channel into w until the client disconnects (ctx
// cancelled) or every candidate fails. Mid-stream swaps splice the next
// candidate into the same byte stream.
func (c *Controller) Serve(ctx context.Context, w io.Writer) error {
	flusher, _ := w.(http.Flusher)

	for {
		cand := &c.candidates[c.idx]
		pipe, fail := c.open(ctx, cand)
		if fail != nil {
			c.logger.Warn("candidate failed to open",
				slog.String("stream", cand.stream.Name),
				slog.String("reason", fail.reason()),
			)
			if !c.advance(ctx, fail) {
				return c.exhausted(ctx, fail)
			}
			continue
		}

		swap, fail := c.run(ctx, pipe, w, flusher)
		pipe.Close()
		if !swap {
			return nil
		}
		if fail == nil {
			// Upgrade: tryUpgrade already rewound the index to primary.
			continue
		}
		if !c.advance(ctx, fail) {
			return c.exhausted(ctx, fail)
		}
	}
}

// open probes the candidate and spawns a pipe for it.
func (c *Controller) open(ctx context.Context, cand *candidate) (*Pipe, *failure) {
	probe := c.cfg.probe
	if probe == nil {
		probe = probeUpstream
	}
	if fail := probe(ctx, cand.url); fail != nil {
		return nil, fail
	}

	openPipe := c.cfg.openPipe
	if openPipe == nil {
		openPipe = func(ctx context.Context, url string) (*Pipe, error) {
			return NewPipe(ctx, url, PipeConfig{
				FFmpegPath:   c.cfg.FFmpegPath,
				PrefillBytes: c.cfg.PrefillBytes,
				SessionID:    c.cfg.SessionID,
				Logger:       c.logger,
			})
		}
	}
	pipe, err := openPipe(ctx, cand.url)
	if err != nil {
		return nil, &failure{kind: FailureConnectionError, err: err}
	}
	return pipe, nil
}

// run copies pipe output to the client until the pipe ends, health demands a
// failover, or the upgrade timer fires a successful return to primary.
// Returns swap=true when the controller should move to another candidate.
func (c *Controller) run(ctx context.Context, pipe *Pipe, w io.Writer, flusher http.Flusher) (swap bool, fail *failure) {
	monitorCtx, cancelMonitor := context.WithCancel(ctx)
	defer cancelMonitor()

	monitor := NewMonitor(pipe, c.cfg.Monitor)
	go monitor.Run(monitorCtx)

	// Gate output on prefill.
	select {
	case <-ctx.Done():
		return false, nil
	case <-pipe.PrefillDone():
	case <-pipe.Done():
		if err := pipe.Err(); err != nil {
			return true, &failure{kind: FailureStream, err: err}
		}
		return true, &failure{kind: FailureStream, err: errors.New("stream ended before prefill")}
	}

	upgrade := c.upgradeTimer()
	defer upgrade.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, nil

		case chunk, ok := <-pipe.Chunks():
			if !ok {
				if err := pipe.Err(); err != nil {
					return true, &failure{kind: FailureStream, err: err}
				}
				return true, &failure{kind: FailureStream, err: errors.New("stream ended")}
			}
			if _, err := w.Write(chunk); err != nil {
				// Client went away.
				return false, nil
			}
			if flusher != nil {
				flusher.Flush()
			}

		case status, ok := <-monitor.Watch():
			if !ok {
				continue
			}
			switch status.State {
			case FailoverNeeded:
				return true, &failure{kind: FailureStream, err: fmt.Errorf("stalled for %s", status.StallDuration.Round(time.Second))}
			case Ended:
				// The chunk channel drains first; keep copying.
			}

		case <-upgrade.C:
			if c.tryUpgrade(ctx) {
				return true, nil
			}
			upgrade.Reset(upgradeRetryInterval)
		}
	}
}

// advance moves to the next usable candidate, honoring the per-window budget
// and account-level skips. Upgrades never come through here; tryUpgrade
// repositions the index itself.
func (c *Controller) advance(ctx context.Context, fail *failure) bool {
	from := c.candidates[c.idx].stream.Name

	if fail != nil && fail.accountLevel() {
		c.skippedAccounts[c.candidates[c.idx].accountID] = true
	}

	now := time.Now()
	if now.Sub(c.lastFailover) > failoverBudget {
		// New failover window.
		c.lastFailover = now
		c.windowAttempts = 0
	}

	for c.windowAttempts < maxBackupsPerWindow {
		if c.idx+1 >= len(c.candidates) {
			return false
		}
		c.idx++
		c.windowAttempts++
		next := &c.candidates[c.idx]
		if c.skippedAccounts[next.accountID] {
			continue
		}
		c.logSwap(ctx, from, next.stream.Name, fail)
		return true
	}
	return false
}

// tryUpgrade attempts a return to the primary candidate after serving from a
// backup. Success rewinds the index; the caller then opens the primary.
func (c *Controller) tryUpgrade(ctx context.Context) bool {
	if c.idx == c.primaryIdx {
		return false
	}
	primary := &c.candidates[c.primaryIdx]
	if c.skippedAccounts[primary.accountID] {
		return false
	}

	probe := c.cfg.probe
	if probe == nil {
		probe = probeUpstream
	}
	if fail := probe(ctx, primary.url); fail != nil {
		c.logger.Debug("primary still unavailable",
			slog.String("stream", primary.stream.Name),
			slog.String("reason", fail.reason()),
		)
		return false
	}

	from := c.candidates[c.idx].stream.Name
	c.idx = c.primaryIdx
	c.lastFailover = time.Time{}
	c.windowAttempts = 0
	c.logSwap(ctx, from, primary.stream.Name, nil)
	return true
}

// upgradeTimer returns a timer that fires when an upgrade attempt is due, or
// effectively never when already on primary.
func (c *Controller) upgradeTimer() *time.Timer {
	if c.idx == c.primaryIdx {
		// Never fires; Stop via defer.
		t := time.NewTimer(time.Hour)
		t.Stop()
		return t
	}
	wait := upgradeRetryInterval - time.Since(c.lastFailover)
	if wait < 0 {
		wait = 0
	}
	return time.NewTimer(wait)
}

// logSwap records a successful failover transition.
func (c *Controller) logSwap(ctx context.Context, from, to string, fail *failure) {
	reason := "quality_upgrade"
	if fail != nil {
		reason = fail.reason()
	}
	c.logger.Warn("stream failover",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("reason", reason),
	)
	c.appendEvent(ctx, models.EventLevelWarn,
		fmt.Sprintf("channel %s failed over from %q to %q", c.channelID, from, to),
		models.EventDetails{
			"channelId": c.channelID.String(),
			"from":      from,
			"to":        to,
			"reason":    reason,
			"ts":        time.Now().UTC().Format(time.RFC3339),
		})
}

// exhausted records terminal failure and returns ErrAllStreamsFailed.
func (c *Controller) exhausted(ctx context.Context, fail *failure) error {
	reason := "unknown"
	if fail != nil {
		reason = fail.reason()
	}
	c.logger.Error("all streams failed",
		slog.String("reason", reason),
	)
	c.appendEvent(ctx, models.EventLevelError,
		fmt.Sprintf("channel %s: all streams failed", c.channelID),
		models.EventDetails{
			"channelId": c.channelID.String(),
			"from":      c.candidates[c.idx].stream.Name,
			"reason":    reason,
			"ts":        time.Now().UTC().Format(time.RFC3339),
		})
	return ErrAllStreamsFailed
}

func (c *Controller) appendEvent(ctx context.Context, level models.EventLevel, message string, details models.EventDetails) {
	event := &models.Event{
		Level:    level,
		Category: models.EventCategoryStream,
		Message:  message,
		Details:  details,
	}
	if err := repository.NewEventRepository(c.cfg.DB).Append(ctx, event); err != nil {
		c.logger.Warn("appending stream event failed", slog.Any("error", err))
	}
}

// probeUpstream opens the candidate URL with the connect timeout and
// classifies any failure. The body is closed immediately; the probe only
// establishes that the provider will answer this stream.
func probeUpstream(ctx context.Context, url string) *failure {
	probeCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return &failure{kind: FailureConnectionError, err: err}
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return &failure{kind: FailureConnectionTimeout, err: err}
		}
		return &failure{kind: FailureConnectionError, err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &failure{kind: FailureHTTP, statusCode: resp.StatusCode}
	}
	return nil
}
