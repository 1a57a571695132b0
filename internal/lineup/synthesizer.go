// Package lineup synthesizes the documents Plex consumes: the M3U playlist,
// the XMLTV guide, and the HDHomeRun JSON trio. All three derive from the
// same query: enabled channels with at least one mapping, ordered by explicit
// display position then name.
package lineup

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/models"
	"github.com/streamforge/streamforge/internal/repository"
	"github.com/streamforge/streamforge/pkg/m3u"
	"github.com/streamforge/streamforge/pkg/xmltv"
)

const (
	// epgCacheTTL bounds staleness of the cached XMLTV document.
	epgCacheTTL = 5 * time.Minute

	// Guide window bounds relative to synthesis time.
	epgLookback = time.Hour
	epgHorizon  = 7 * 24 * time.Hour

	// placeholderBlock is the duration of fabricated programme blocks for
	// channels without real guide data.
	placeholderBlock = 2 * time.Hour
)

// Synthesizer builds lineup documents from the catalog.
type Synthesizer struct {
	db        *gorm.DB
	logger    *slog.Logger
	generator string
	baseURL   string

	mu       sync.Mutex
	epgDoc   []byte
	epgETag  string
	epgBuilt time.Time
}

// NewSynthesizer creates a Synthesizer. baseURL is the address the HTTP
// server actually binds, e.g. "http://127.0.0.1:5004"; it is baked into
// generated stream and lineup URLs.
func NewSynthesizer(db *gorm.DB, baseURL, generator string, logger *slog.Logger) *Synthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synthesizer{db: db, logger: logger, generator: generator, baseURL: strings.TrimRight(baseURL, "/")}
}

// numbered pairs a lineup channel with its assigned 1-indexed number.
type numbered struct {
	*repository.LineupChannel
	number int
}

// assignNumbers gives every channel a 1-indexed number: explicit positions
// map to position+1; unnumbered channels fill upward from max(assigned)+1 in
// lineup order.
func assignNumbers(lineup []*repository.LineupChannel) []numbered {
	maxAssigned := 0
	for _, lc := range lineup {
		if lc.Settings != nil && lc.Settings.PlexDisplayOrder != nil {
			if n := *lc.Settings.PlexDisplayOrder + 1; n > maxAssigned {
				maxAssigned = n
			}
		}
	}

	out := make([]numbered, 0, len(lineup))
	next := maxAssigned + 1
	for _, lc := range lineup {
		n := numbered{LineupChannel: lc}
		if lc.Settings != nil && lc.Settings.PlexDisplayOrder != nil {
			n.number = *lc.Settings.PlexDisplayOrder + 1
		} else {
			n.number = next
			next++
		}
		out = append(out, n)
	}
	return out
}

// logoFor resolves the channel logo: channel icon first, then the icon of the
// best-ranked mapped stream, else empty.
func logoFor(lc *repository.LineupChannel) string {
	if lc.Channel.Icon != "" {
		return lc.Channel.Icon
	}
	for _, m := range lc.Mappings {
		if m.Primary && m.Stream != nil && m.Stream.Icon != "" {
			return m.Stream.Icon
		}
	}
	for _, m := range lc.Mappings {
		if m.Stream != nil && m.Stream.Icon != "" {
			return m.Stream.Icon
		}
	}
	return ""
}

func (s *Synthesizer) streamURL(channelID models.ULID) string {
	return fmt.Sprintf("%s/stream/%s", s.baseURL, channelID)
}

// M3U renders the playlist document.
func (s *Synthesizer) M3U(ctx context.Context) ([]byte, error) {
	lineup, err := repository.NewChannelRepository(s.db).GetLineup(ctx)
	if err != nil {
		return nil, fmt.Errorf("building M3U: %w", err)
	}

	var buf bytes.Buffer
	w := m3u.NewWriter(&buf)
	if err := w.WriteHeader(); err != nil {
		return nil, err
	}
	for _, ch := range assignNumbers(lineup) {
		entry := &m3u.Entry{
			TvgID:         ch.Channel.StableID,
			TvgName:       ch.Channel.DisplayName,
			TvgLogo:       logoFor(ch.LineupChannel),
			ChannelNumber: ch.number,
			Title:         ch.Channel.DisplayName,
			URL:           s.streamURL(ch.Channel.ID),
		}
		if err := w.WriteEntry(entry); err != nil {
			return nil, fmt.Errorf("writing M3U entry: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// EPG returns the XMLTV document and its ETag, rebuilding when the cache has
// expired or was invalidated.
func (s *Synthesizer) EPG(ctx context.Context) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.epgDoc != nil && time.Since(s.epgBuilt) < epgCacheTTL {
		return s.epgDoc, s.epgETag, nil
	}

	doc, err := s.buildEPG(ctx)
	if err != nil {
		return nil, "", err
	}

	h := fnv.New64a()
	_, _ = h.Write(doc)
	s.epgDoc = doc
	s.epgETag = fmt.Sprintf("%q", fmt.Sprintf("%016x", h.Sum64()))
	s.epgBuilt = time.Now()
	return s.epgDoc, s.epgETag, nil
}

// Invalidate drops the cached EPG document. Called after any write that
// changes lineup contents: settings edits, mapping changes, EPG refreshes.
func (s *Synthesizer) Invalidate() {
	s.mu.Lock()
	s.epgDoc = nil
	s.epgETag = ""
	s.mu.Unlock()
}

func (s *Synthesizer) buildEPG(ctx context.Context) ([]byte, error) {
	channelRepo := repository.NewChannelRepository(s.db)
	lineup, err := channelRepo.GetLineup(ctx)
	if err != nil {
		return nil, fmt.Errorf("building EPG: %w", err)
	}

	now := time.Now().UTC()
	from := now.Add(-epgLookback)
	to := now.Add(epgHorizon)

	var buf bytes.Buffer
	w := xmltv.NewWriter(&buf, s.generator)
	if err := w.WriteHeader(); err != nil {
		return nil, err
	}

	for _, lc := range lineup {
		if err := w.WriteChannel(&xmltv.Channel{
			ID:          lc.Channel.StableID,
			DisplayName: lc.Channel.DisplayName,
			Icon:        logoFor(lc),
		}); err != nil {
			return nil, fmt.Errorf("writing EPG channel: %w", err)
		}
	}

	for _, lc := range lineup {
		if lc.Channel.Synthetic {
			if err := s.writePlaceholders(w, lc.Channel, now); err != nil {
				return nil, err
			}
			continue
		}

		programs, err := channelRepo.GetProgramsInWindow(ctx, lc.Channel.ID, from, to)
		if err != nil {
			return nil, err
		}
		if len(programs) == 0 {
			if err := s.writePlaceholders(w, lc.Channel, now); err != nil {
				return nil, err
			}
			continue
		}
		for _, p := range programs {
			if err := w.WriteProgramme(&xmltv.Programme{
				Channel:     lc.Channel.StableID,
				Title:       p.Title,
				Description: p.Description,
				Category:    p.Category,
				EpisodeNum:  p.EpisodeNum,
				Start:       p.Start,
				Stop:        p.End,
			}); err != nil {
				return nil, fmt.Errorf("writing EPG programme: %w", err)
			}
		}
	}

	if err := w.WriteFooter(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writePlaceholders emits hour-aligned two-hour blocks covering the guide
// horizon for channels without real programme data.
func (s *Synthesizer) writePlaceholders(w *xmltv.Writer, ch *models.EpgChannel, now time.Time) error {
	title := ch.DisplayName + " - Live Programming"
	start := now.Truncate(time.Hour)
	end := now.Add(epgHorizon)

	for t := start; t.Before(end); t = t.Add(placeholderBlock) {
		if err := w.WriteProgramme(&xmltv.Programme{
			Channel: ch.StableID,
			Title:   title,
			Start:   t,
			Stop:    t.Add(placeholderBlock),
		}); err != nil {
			return fmt.Errorf("writing placeholder programme: %w", err)
		}
	}
	return nil
}
