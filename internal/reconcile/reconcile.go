// Package reconcile applies the outcome of a provider scan to the catalog:
// diff the fresh stream list against the stored one, rewrite stream rows,
// auto-match additions, and repair mappings for removals and metadata
// changes, all without ever touching a manual pin.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/match"
	"github.com/streamforge/streamforge/internal/models"
	"github.com/streamforge/streamforge/internal/repository"
)

// RematchResult summarizes one reconciliation run for an account.
type RematchResult struct {
	StreamsNew     int `json:"streams_new"`
	StreamsChanged int `json:"streams_changed"`
	StreamsRemoved int `json:"streams_removed"`

	NewMatches       int `json:"new_matches"`
	MappingsRemoved  int `json:"mappings_removed"`
	MappingsUpdated  int `json:"mappings_updated"`
	ManualPreserved  int `json:"manual_preserved"`
	AffectedChannels int `json:"affected_channels"`
}

// Reconciler merges fresh provider scans into the catalog.
type Reconciler struct {
	db     *gorm.DB
	logger *slog.Logger
	cfg    match.ScoreConfig
}

// NewReconciler creates a Reconciler over the given database handle.
func NewReconciler(db *gorm.DB, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{db: db, logger: logger, cfg: match.DefaultScoreConfig()}
}

// Reconcile diffs the fresh stream list for one account against the stored
// catalog and applies the delta in a single transaction. The fresh streams
// must carry the account id and classified qualities but no row ids.
func (r *Reconciler) Reconcile(ctx context.Context, accountID models.ULID, current []*models.ProviderStream) (*RematchResult, error) {
	result := &RematchResult{}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return r.reconcileTx(ctx, tx, accountID, current, result)
	})
	if err != nil {
		return nil, fmt.Errorf("reconciling account %s: %w", accountID, err)
	}

	r.logger.Info("provider delta reconciled",
		slog.String("account_id", accountID.String()),
		slog.Int("new", result.StreamsNew),
		slog.Int("changed", result.StreamsChanged),
		slog.Int("removed", result.StreamsRemoved),
		slog.Int("new_matches", result.NewMatches),
		slog.Int("mappings_removed", result.MappingsRemoved),
		slog.Int("manual_preserved", result.ManualPreserved),
	)
	return result, nil
}

func (r *Reconciler) reconcileTx(ctx context.Context, tx *gorm.DB, accountID models.ULID, current []*models.ProviderStream, result *RematchResult) error {
	streamRepo := repository.NewStreamRepository(tx)
	mappingRepo := repository.NewMappingRepository(tx)
	channelRepo := repository.NewChannelRepository(tx)
	settingRepo := repository.NewSettingRepository(tx)
	eventRepo := repository.NewEventRepository(tx)

	stored, err := streamRepo.GetByAccountID(ctx, accountID)
	if err != nil {
		return err
	}

	storedByKey := make(map[int]*models.ProviderStream, len(stored))
	for _, s := range stored {
		storedByKey[s.StreamID] = s
	}
	currentKeys := make(map[int]bool, len(current))

	var added []*models.ProviderStream
	var changed []*models.ProviderStream
	for _, fresh := range current {
		currentKeys[fresh.StreamID] = true
		existing, ok := storedByKey[fresh.StreamID]
		if !ok {
			fresh.AccountID = accountID
			added = append(added, fresh)
			continue
		}
		if !existing.MetadataEquals(fresh) {
			existing.Name = fresh.Name
			existing.Icon = fresh.Icon
			existing.CategoryID = fresh.CategoryID
			existing.CategoryName = fresh.CategoryName
			existing.Qualities = fresh.Qualities
			existing.EpgChannelID = fresh.EpgChannelID
			existing.HasArchive = fresh.HasArchive
			existing.ArchiveDays = fresh.ArchiveDays
			changed = append(changed, existing)
		}
	}

	var removed []*models.ProviderStream
	for _, s := range stored {
		if !currentKeys[s.StreamID] {
			removed = append(removed, s)
		}
	}

	result.StreamsNew = len(added)
	result.StreamsChanged = len(changed)
	result.StreamsRemoved = len(removed)

	affected := make(map[models.ULID]bool)

	// Removals first: orphan manual pins, drop automatic mappings, then the
	// stream rows themselves.
	if len(removed) > 0 {
		removedIDs := make([]models.ULID, len(removed))
		for i, s := range removed {
			removedIDs[i] = s.ID
		}
		doomed, err := mappingRepo.GetByStreamIDs(ctx, removedIDs)
		if err != nil {
			return err
		}
		for _, m := range doomed {
			affected[m.ChannelID] = true
			if m.Manual {
				m.StreamID = nil
				if err := mappingRepo.Update(ctx, m); err != nil {
					return err
				}
				result.ManualPreserved++
				if err := eventRepo.Append(ctx, &models.Event{
					Level:    models.EventLevelWarn,
					Category: models.EventCategoryStream,
					Message:  "manual mapping orphaned: provider stream removed",
					Details: models.EventDetails{
						"channel_id": m.ChannelID.String(),
						"mapping_id": m.ID.String(),
						"account_id": accountID.String(),
					},
				}); err != nil {
					return err
				}
				continue
			}
			if err := mappingRepo.Delete(ctx, m.ID); err != nil {
				return err
			}
			result.MappingsRemoved++
		}
		if err := streamRepo.DeleteByIDs(ctx, removedIDs); err != nil {
			return err
		}
	}

	if err := streamRepo.CreateInBatches(ctx, added, 500); err != nil {
		return err
	}
	for _, s := range changed {
		if err := streamRepo.Update(ctx, s); err != nil {
			return err
		}
	}

	channels, err := channelRepo.GetAll(ctx)
	if err != nil {
		return err
	}
	channelsByID := make(map[models.ULID]*models.EpgChannel, len(channels))
	for _, ch := range channels {
		channelsByID[ch.ID] = ch
	}
	threshold := settingRepo.MatchThreshold(ctx)

	// Match additions against the full channel list.
	for _, ch := range channels {
		for _, s := range added {
			score := match.Score(r.cfg, ch.DisplayName, s.Name, ch.StableID, s.EpgChannelID)
			if score < threshold {
				continue
			}

			existing, err := mappingRepo.GetByChannelID(ctx, ch.ID)
			if err != nil {
				return err
			}
			duplicate := false
			hasPrimary := false
			maxPriority := -1
			for _, m := range existing {
				if m.StreamID != nil && *m.StreamID == s.ID {
					duplicate = true
				}
				if m.Primary {
					hasPrimary = true
				}
				if m.Priority > maxPriority {
					maxPriority = m.Priority
				}
			}
			if duplicate {
				continue
			}

			streamID := s.ID
			mapping := &models.ChannelMapping{
				ChannelID:  ch.ID,
				StreamID:   &streamID,
				Confidence: score,
				Primary:    !hasPrimary && len(existing) == 0,
				Priority:   maxPriority + 1,
				MatchType:  matchTypeFor(ch, s),
			}
			if err := mappingRepo.Create(ctx, mapping); err != nil {
				return err
			}
			result.NewMatches++
			affected[ch.ID] = true
			if err := channelRepo.EnsureSettings(ctx, ch.ID, true); err != nil {
				return err
			}
		}
	}

	// Recompute confidence for automatic mappings on changed streams.
	if len(changed) > 0 {
		changedIDs := make([]models.ULID, len(changed))
		changedByID := make(map[models.ULID]*models.ProviderStream, len(changed))
		for i, s := range changed {
			changedIDs[i] = s.ID
			changedByID[s.ID] = s
		}
		mappings, err := mappingRepo.GetByStreamIDs(ctx, changedIDs)
		if err != nil {
			return err
		}
		for _, m := range mappings {
			if m.Manual || m.StreamID == nil {
				continue
			}
			ch := channelsByID[m.ChannelID]
			s := changedByID[*m.StreamID]
			if ch == nil || s == nil {
				continue
			}
			score := match.Score(r.cfg, ch.DisplayName, s.Name, ch.StableID, s.EpgChannelID)
			if score != m.Confidence {
				m.Confidence = score
				if err := mappingRepo.Update(ctx, m); err != nil {
					return err
				}
				result.MappingsUpdated++
				affected[ch.ID] = true
			}
			if score < threshold {
				if err := eventRepo.Append(ctx, &models.Event{
					Level:    models.EventLevelWarn,
					Category: models.EventCategoryMatch,
					Message:  "mapping confidence fell below threshold after stream rename",
					Details: models.EventDetails{
						"channel_id": m.ChannelID.String(),
						"stream_id":  s.ID.String(),
						"confidence": score,
						"threshold":  threshold,
						"ts":         time.Now().UTC().Format(time.RFC3339),
					},
				}); err != nil {
					return err
				}
			}
		}
	}

	// Compact ranks on every touched channel so priorities stay 0..n-1 and a
	// primary survivor exists where possible.
	for channelID := range affected {
		if err := mappingRepo.Renumber(ctx, channelID); err != nil {
			return err
		}
		remaining, err := mappingRepo.GetByChannelID(ctx, channelID)
		if err != nil {
			return err
		}
		if len(remaining) == 0 {
			if err := channelRepo.EnsureSettings(ctx, channelID, false); err != nil {
				return err
			}
		}
	}
	result.AffectedChannels = len(affected)

	return nil
}

// matchTypeFor derives the match type for a channel-stream pairing.
func matchTypeFor(ch *models.EpgChannel, s *models.ProviderStream) models.MatchType {
	hint := strings.TrimSpace(s.EpgChannelID)
	if hint != "" && strings.EqualFold(hint, strings.TrimSpace(ch.StableID)) {
		return models.MatchTypeExactEpgID
	}
	if n := match.Normalize(ch.DisplayName); n != "" && n == match.Normalize(s.Name) {
		return models.MatchTypeExactName
	}
	return models.MatchTypeFuzzy
}
