package match

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/models"
	"github.com/streamforge/streamforge/internal/repository"
)

// Stats summarizes one full matching run.
type Stats struct {
	// Channels and Streams are the catalog sizes at run time.
	Channels int `json:"channels"`
	Streams  int `json:"streams"`

	// Matched counts channels with at least one mapping after the run,
	// Unmatched the rest, MultipleMatches those with more than one.
	Matched         int `json:"matched"`
	Unmatched       int `json:"unmatched"`
	MultipleMatches int `json:"multiple_matches"`

	// Duration is the wall-clock time of the run.
	Duration time.Duration `json:"duration"`
}

// Matcher computes ranked channel-to-stream mappings and persists them with
// a transactional replace that preserves manual pins.
type Matcher struct {
	db     *gorm.DB
	logger *slog.Logger
	cfg    ScoreConfig
}

// NewMatcher creates a Matcher over the given database handle.
func NewMatcher(db *gorm.DB, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{db: db, logger: logger, cfg: DefaultScoreConfig()}
}

// scored is one provisional channel-stream pairing.
type scored struct {
	stream    *models.ProviderStream
	score     float64
	matchType models.MatchType
}

// Run matches every EPG channel against every provider stream and replaces
// all automatic mappings in one transaction. Manual mappings survive
// untouched and keep their rank ahead of new automatic ones.
func (m *Matcher) Run(ctx context.Context) (*Stats, error) {
	start := time.Now()

	settingRepo := repository.NewSettingRepository(m.db)
	threshold := settingRepo.MatchThreshold(ctx)

	channels, err := repository.NewChannelRepository(m.db).GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading channels: %w", err)
	}
	streams, err := repository.NewStreamRepository(m.db).GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading streams: %w", err)
	}

	m.logger.Info("matching started",
		slog.Int("channels", len(channels)),
		slog.Int("streams", len(streams)),
		slog.Float64("threshold", threshold),
	)

	candidates := m.computeCandidates(channels, streams, threshold)

	stats := &Stats{Channels: len(channels), Streams: len(streams)}
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return m.persist(ctx, tx, channels, candidates, stats)
	})
	if err != nil {
		return nil, fmt.Errorf("persisting mappings: %w", err)
	}

	stats.Duration = time.Since(start)
	m.logger.Info("matching finished",
		slog.Int("matched", stats.Matched),
		slog.Int("unmatched", stats.Unmatched),
		slog.Int("multiple", stats.MultipleMatches),
		slog.Duration("duration", stats.Duration),
	)
	return stats, nil
}

// computeCandidates scores every channel against every stream and retains
// pairs at or above the threshold, sorted by score descending.
func (m *Matcher) computeCandidates(channels []*models.EpgChannel, streams []*models.ProviderStream, threshold float64) map[models.ULID][]scored {
	// Normalizing is regex-heavy; do it once per name, not once per pair.
	streamNorms := make([]string, len(streams))
	for i, s := range streams {
		streamNorms[i] = Normalize(s.Name)
	}

	result := make(map[models.ULID][]scored, len(channels))
	for _, ch := range channels {
		chNorm := Normalize(ch.DisplayName)

		var list []scored
		for i, s := range streams {
			score := JaroWinkler(chNorm, streamNorms[i])

			epgHit := s.EpgChannelID != "" && equalFoldTrimmed(s.EpgChannelID, ch.StableID)
			nameHit := chNorm != "" && chNorm == streamNorms[i]
			if epgHit {
				score += m.cfg.EpgIDBoost
			}
			if nameHit {
				score += m.cfg.ExactNameBoost
			}
			if score > 1.0 {
				score = 1.0
			}
			if score < threshold {
				continue
			}

			matchType := models.MatchTypeFuzzy
			switch {
			case epgHit:
				matchType = models.MatchTypeExactEpgID
			case nameHit:
				matchType = models.MatchTypeExactName
			}
			list = append(list, scored{stream: s, score: score, matchType: matchType})
		}

		sort.SliceStable(list, func(i, j int) bool {
			return list[i].score > list[j].score
		})
		if len(list) > 0 {
			result[ch.ID] = list
		}
	}
	return result
}

// persist replaces all automatic mappings inside the given transaction:
// delete non-manual, insert the new ranking behind surviving manual pins,
// and ensure a settings row per channel (forced disabled when unmapped).
func (m *Matcher) persist(ctx context.Context, tx *gorm.DB, channels []*models.EpgChannel, candidates map[models.ULID][]scored, stats *Stats) error {
	mappingRepo := repository.NewMappingRepository(tx)
	channelRepo := repository.NewChannelRepository(tx)

	if err := mappingRepo.DeleteNonManual(ctx); err != nil {
		return err
	}

	manual, err := mappingRepo.GetManual(ctx)
	if err != nil {
		return err
	}
	manualByChannel := make(map[models.ULID][]*models.ChannelMapping)
	for _, mm := range manual {
		manualByChannel[mm.ChannelID] = append(manualByChannel[mm.ChannelID], mm)
	}

	for _, ch := range channels {
		pins := manualByChannel[ch.ID]
		sort.SliceStable(pins, func(i, j int) bool {
			return pins[i].Priority < pins[j].Priority
		})
		pinned := make(map[models.ULID]bool, len(pins))
		for _, p := range pins {
			if p.StreamID != nil {
				pinned[*p.StreamID] = true
			}
		}

		// Manual pins keep the leading ranks; their stored order is already
		// primary-first.
		rank := 0
		for _, p := range pins {
			primary := rank == 0
			if p.Priority != rank || p.Primary != primary {
				p.Priority = rank
				p.Primary = primary
				if err := mappingRepo.Update(ctx, p); err != nil {
					return err
				}
			}
			rank++
		}

		for _, cand := range candidates[ch.ID] {
			if pinned[cand.stream.ID] {
				continue
			}
			streamID := cand.stream.ID
			mapping := &models.ChannelMapping{
				ChannelID:  ch.ID,
				StreamID:   &streamID,
				Confidence: cand.score,
				Manual:     false,
				Primary:    rank == 0,
				Priority:   rank,
				MatchType:  cand.matchType,
			}
			if err := mappingRepo.Create(ctx, mapping); err != nil {
				return err
			}
			rank++
		}

		hasMappings := rank > 0
		if err := channelRepo.EnsureSettings(ctx, ch.ID, hasMappings); err != nil {
			return err
		}

		switch {
		case rank == 0:
			stats.Unmatched++
		case rank == 1:
			stats.Matched++
		default:
			stats.Matched++
			stats.MultipleMatches++
		}
	}
	return nil
}

// equalFoldTrimmed compares two ids case-insensitively after trimming.
func equalFoldTrimmed(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	return a != "" && b != "" && strings.EqualFold(a, b)
}
