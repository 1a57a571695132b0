package relay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// tsPacketSize is the MPEG-TS packet size.
	tsPacketSize = 188

	// packetsPerRead sizes each stdout read at roughly 188 KiB.
	packetsPerRead = 1024

	// DefaultPrefillBytes is the amount buffered before the pipe starts
	// yielding output, absorbing provider-side startup jitter.
	DefaultPrefillBytes = 2 << 20

	// chunkQueueDepth bounds in-flight chunks between the reader and the
	// consumer; a slow client backpressures the child through the full queue.
	chunkQueueDepth = 64
)

// remuxArgs builds the ffmpeg argument list for a copy-only remux of the
// upstream URL to MPEG-TS on stdout. +initial_discontinuity makes players
// resynchronize cleanly when a failover splices a new stream into the body.
func remuxArgs(upstreamURL string) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "2",
		"-i", upstreamURL,
		"-c", "copy",
		"-f", "mpegts",
		"-fflags", "+genpts",
		"-mpegts_flags", "+initial_discontinuity",
		"-",
	}
}

// Pipe wraps one ffmpeg child remuxing an upstream stream to MPEG-TS. Output
// is withheld until the prefill threshold is reached; Close kills the child
// and stops both workers.
type Pipe struct {
	cmd       *exec.Cmd
	logger    *slog.Logger
	sessionID string

	prefillBytes int64

	chunks      chan []byte
	prefillDone chan struct{}
	done        chan struct{}

	bytesRead    atomic.Int64
	lastDataNano atomic.Int64

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

// PipeConfig configures a remux pipe.
type PipeConfig struct {
	// FFmpegPath is the remuxer binary; "ffmpeg" resolves via PATH.
	FFmpegPath string

	// PrefillBytes overrides DefaultPrefillBytes when positive.
	PrefillBytes int64

	// SessionID prefixes stderr log lines.
	SessionID string

	Logger *slog.Logger
}

// NewPipe spawns the remuxer child for the upstream URL and starts the
// reader and stderr workers.
func NewPipe(ctx context.Context, upstreamURL string, cfg PipeConfig) (*Pipe, error) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.PrefillBytes <= 0 {
		cfg.PrefillBytes = DefaultPrefillBytes
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cmd := exec.CommandContext(ctx, cfg.FFmpegPath, remuxArgs(upstreamURL)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting remuxer: %w", err)
	}

	p := &Pipe{
		cmd:          cmd,
		logger:       cfg.Logger,
		sessionID:    cfg.SessionID,
		prefillBytes: cfg.PrefillBytes,
		chunks:       make(chan []byte, chunkQueueDepth),
		prefillDone:  make(chan struct{}),
		done:         make(chan struct{}),
	}
	p.lastDataNano.Store(time.Now().UnixNano())

	go p.readLoop(stdout)
	go p.stderrLoop(stderr)
	return p, nil
}

// readLoop pulls stdout into the chunk queue and tracks prefill and liveness.
func (p *Pipe) readLoop(stdout io.Reader) {
	defer func() {
		close(p.chunks)
		close(p.done)
		_ = p.cmd.Wait()
	}()

	var prefilled bool
	buf := make([]byte, tsPacketSize*packetsPerRead)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])

			total := p.bytesRead.Add(int64(n))
			p.lastDataNano.Store(time.Now().UnixNano())

			if !prefilled && total >= p.prefillBytes {
				prefilled = true
				close(p.prefillDone)
			}
			p.chunks <- chunk
		}
		if err != nil {
			if err != io.EOF {
				p.setErr(fmt.Errorf("reading remuxer output: %w", err))
			}
			return
		}
	}
}

// stderrLoop logs child diagnostics line by line, suppressing immediate
// repeats of the same message.
func (p *Pipe) stderrLoop(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	var last string
	var suppressed int
	for scanner.Scan() {
		line := scanner.Text()
		if line == last {
			suppressed++
			continue
		}
		if suppressed > 0 {
			p.logger.Debug("remuxer stderr repeated",
				slog.String("session", p.sessionID),
				slog.Int("count", suppressed),
			)
			suppressed = 0
		}
		last = line
		p.logger.Warn("remuxer stderr",
			slog.String("session", p.sessionID),
			slog.String("line", line),
		)
	}
}

// Chunks returns the output stream. Callers gate on PrefillDone before
// consuming; the channel is closed on EOF or fatal error.
func (p *Pipe) Chunks() <-chan []byte {
	return p.chunks
}

// PrefillDone is closed once the prefill threshold has been buffered.
func (p *Pipe) PrefillDone() <-chan struct{} {
	return p.prefillDone
}

// Done is closed when the child's output has ended for any reason.
func (p *Pipe) Done() <-chan struct{} {
	return p.done
}

// Err returns the fatal read error, if any, after Done is closed.
func (p *Pipe) Err() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}

func (p *Pipe) setErr(err error) {
	p.errMu.Lock()
	if p.err == nil {
		p.err = err
	}
	p.errMu.Unlock()
}

// BytesRead returns the total bytes read from the child so far.
func (p *Pipe) BytesRead() int64 {
	return p.bytesRead.Load()
}

// LastData returns the time data was last received from the child.
func (p *Pipe) LastData() time.Time {
	return time.Unix(0, p.lastDataNano.Load())
}

// Prefilled reports whether the prefill threshold has been reached.
func (p *Pipe) Prefilled() bool {
	select {
	case <-p.prefillDone:
		return true
	default:
		return false
	}
}

// Close kills the child and drains the chunk queue so the reader can exit.
func (p *Pipe) Close() {
	p.closeOnce.Do(func() {
		if p.cmd.Process != nil {
			_ = p.cmd.Process.Kill()
		}
		go func() {
			for range p.chunks {
			}
		}()
	})
}
