// Package epg ingests XMLTV guide documents into the catalog. A refresh
// replaces a source's channels and programmes wholesale inside one
// transaction while carrying user state (settings, manual mappings) across
// the swap, re-keyed by the stable XMLTV channel id.
package epg

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/models"
	"github.com/streamforge/streamforge/internal/repository"
	"github.com/streamforge/streamforge/pkg/httpclient"
	"github.com/streamforge/streamforge/pkg/xmltv"
)

// programBatchSize bounds memory and statement size on programme inserts.
const programBatchSize = 500

// RefreshResult summarizes one source refresh.
type RefreshResult struct {
	Channels         int `json:"channels"`
	Programmes       int `json:"programmes"`
	Synthetic        int `json:"synthetic"`
	SettingsRestored int `json:"settings_restored"`
	ManualRestored   int `json:"manual_restored"`
}

// Refresher fetches and ingests XMLTV sources.
type Refresher struct {
	db     *gorm.DB
	client *httpclient.Client
	logger *slog.Logger

	// Invalidate, when set, is called after any successful refresh so
	// cached lineup documents get rebuilt.
	Invalidate func()
}

// NewRefresher creates a Refresher.
func NewRefresher(db *gorm.DB, client *httpclient.Client, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = httpclient.NewWithDefaults()
	}
	return &Refresher{db: db, client: client, logger: logger}
}

// guide is one fully parsed XMLTV document.
type guide struct {
	channels   []*xmltv.Channel
	programmes map[string][]*xmltv.Programme
}

// RefreshAll refreshes every enabled source. Per-source failures are
// recorded on the source row and do not stop the sweep.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	sources, err := repository.NewEpgSourceRepository(r.db).GetEnabled(ctx)
	if err != nil {
		return fmt.Errorf("loading EPG sources: %w", err)
	}

	var firstErr error
	for _, source := range sources {
		if _, err := r.RefreshSource(ctx, source); err != nil {
			r.logger.Error("EPG source refresh failed",
				slog.String("source", source.Name),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// RefreshSource fetches, parses, and atomically swaps one source's guide
// data. On any error the transaction rolls back and the previous refresh's
// data survives untouched.
func (r *Refresher) RefreshSource(ctx context.Context, source *models.EpgSource) (*RefreshResult, error) {
	start := time.Now()
	sourceRepo := repository.NewEpgSourceRepository(r.db)

	g, err := r.fetch(ctx, source.URL)
	if err != nil {
		source.LastError = err.Error()
		if uerr := sourceRepo.Update(ctx, source); uerr != nil {
			r.logger.Warn("recording refresh error failed", slog.String("error", uerr.Error()))
		}
		return nil, fmt.Errorf("fetching guide %q: %w", source.Name, err)
	}

	result := &RefreshResult{}
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.swap(ctx, tx, source, g, result)
	})
	if err != nil {
		source.LastError = err.Error()
		if uerr := sourceRepo.Update(ctx, source); uerr != nil {
			r.logger.Warn("recording refresh error failed", slog.String("error", uerr.Error()))
		}
		return nil, fmt.Errorf("swapping guide %q: %w", source.Name, err)
	}

	if r.Invalidate != nil {
		r.Invalidate()
	}
	r.logger.Info("EPG source refreshed",
		slog.String("source", source.Name),
		slog.Int("channels", result.Channels),
		slog.Int("programmes", result.Programmes),
		slog.Int("synthetic", result.Synthetic),
		slog.Duration("duration", time.Since(start)),
	)
	return result, nil
}

// fetch downloads and parses the XMLTV document, deduplicating channel ids
// first-wins.
func (r *Refresher) fetch(ctx context.Context, url string) (*guide, error) {
	resp, err := r.client.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	g := &guide{programmes: make(map[string][]*xmltv.Programme)}
	seen := make(map[string]bool)

	parser := &xmltv.Parser{
		OnChannel: func(ch *xmltv.Channel) error {
			if ch.ID == "" || seen[ch.ID] {
				return nil
			}
			seen[ch.ID] = true
			if ch.DisplayName == "" {
				ch.DisplayName = ch.ID
			}
			g.channels = append(g.channels, ch)
			return nil
		},
		OnProgramme: func(prog *xmltv.Programme) error {
			if prog.Channel == "" || prog.Title == "" || prog.Start.IsZero() || prog.Stop.IsZero() {
				return nil
			}
			if !prog.Start.Before(prog.Stop) {
				return nil
			}
			g.programmes[prog.Channel] = append(g.programmes[prog.Channel], prog)
			return nil
		},
		OnError: func(err error) {
			r.logger.Debug("skipping malformed guide element", slog.String("error", err.Error()))
		},
	}
	if err := parser.ParseCompressed(resp.Body); err != nil {
		return nil, err
	}
	if len(g.channels) == 0 {
		return nil, fmt.Errorf("guide contains no channels")
	}
	return g, nil
}

// snapshot is the user state carried across a swap for one stable id.
type snapshot struct {
	settings *models.EpgChannelSettings
	manual   []*models.ChannelMapping
}

// swap deletes and reinserts the source's channels inside the given
// transaction, restoring settings rows and manual mappings by stable id.
func (r *Refresher) swap(ctx context.Context, tx *gorm.DB, source *models.EpgSource, g *guide, result *RefreshResult) error {
	channelRepo := repository.NewChannelRepository(tx)
	mappingRepo := repository.NewMappingRepository(tx)
	sourceRepo := repository.NewEpgSourceRepository(tx)
	eventRepo := repository.NewEventRepository(tx)

	// Snapshot user state keyed by stable id before the cascade wipes it.
	oldChannels, err := channelRepo.GetBySourceID(ctx, source.ID)
	if err != nil {
		return err
	}
	snapshots := make(map[string]*snapshot, len(oldChannels))
	for _, ch := range oldChannels {
		snap := &snapshot{}
		if snap.settings, err = channelRepo.GetSettings(ctx, ch.ID); err != nil {
			return err
		}
		mappings, err := mappingRepo.GetByChannelID(ctx, ch.ID)
		if err != nil {
			return err
		}
		for _, m := range mappings {
			if m.Manual {
				snap.manual = append(snap.manual, m)
			}
		}
		snapshots[ch.StableID] = snap
	}

	if err := channelRepo.DeleteBySourceID(ctx, source.ID); err != nil {
		return err
	}

	// Insert the fresh channel list. Channels with no programme entries are
	// synthetic and get placeholder blocks at document synthesis time.
	newChannels := make([]*models.EpgChannel, 0, len(g.channels))
	for _, ch := range g.channels {
		synthetic := len(g.programmes[ch.ID]) == 0
		if synthetic {
			result.Synthetic++
		}
		newChannels = append(newChannels, &models.EpgChannel{
			SourceID:    source.ID,
			StableID:    ch.ID,
			DisplayName: ch.DisplayName,
			Icon:        ch.Icon,
			Synthetic:   synthetic,
		})
	}
	if err := channelRepo.CreateInBatches(ctx, newChannels, programBatchSize); err != nil {
		return err
	}
	result.Channels = len(newChannels)

	idByStable := make(map[string]models.ULID, len(newChannels))
	for _, ch := range newChannels {
		idByStable[ch.StableID] = ch.ID
	}

	var programs []*models.EpgProgram
	for stableID, progs := range g.programmes {
		channelID, ok := idByStable[stableID]
		if !ok {
			continue
		}
		for _, p := range progs {
			programs = append(programs, &models.EpgProgram{
				ChannelID:   channelID,
				Title:       p.Title,
				Description: p.Description,
				Category:    p.Category,
				EpisodeNum:  p.EpisodeNum,
				Start:       p.Start,
				End:         p.Stop,
			})
		}
	}
	if err := channelRepo.CreateProgramsInBatches(ctx, programs, programBatchSize); err != nil {
		return err
	}
	result.Programmes = len(programs)

	// Restore user state onto the new channel rows.
	for stableID, snap := range snapshots {
		channelID, ok := idByStable[stableID]
		if !ok {
			// Channel vanished from the guide; its settings and manual pins
			// go with it.
			continue
		}
		if snap.settings != nil {
			if err := channelRepo.UpsertSettings(ctx, &models.EpgChannelSettings{
				ChannelID:        channelID,
				Enabled:          snap.settings.Enabled,
				PlexDisplayOrder: snap.settings.PlexDisplayOrder,
			}); err != nil {
				return err
			}
			result.SettingsRestored++
		}
		for _, m := range snap.manual {
			restored := &models.ChannelMapping{
				ChannelID:  channelID,
				StreamID:   m.StreamID,
				Confidence: m.Confidence,
				Manual:     true,
				Primary:    m.Primary,
				Priority:   m.Priority,
				MatchType:  models.MatchTypeManual,
			}
			if err := mappingRepo.Create(ctx, restored); err != nil {
				return err
			}
			result.ManualRestored++
		}
	}

	now := models.Now()
	source.LastRefreshAt = &now
	source.LastError = ""
	if err := sourceRepo.Update(ctx, source); err != nil {
		return err
	}

	return eventRepo.Append(ctx, &models.Event{
		Level:    models.EventLevelInfo,
		Category: models.EventCategoryEpg,
		Message:  fmt.Sprintf("EPG source %q refreshed", source.Name),
		Details: models.EventDetails{
			"source_id":  source.ID.String(),
			"channels":   result.Channels,
			"programmes": result.Programmes,
			"synthetic":  result.Synthetic,
		},
	})
}
