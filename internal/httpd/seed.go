package httpd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/models"
)

// Seed document types. Entities reference each other by name and stable id so
// fixtures stay readable; the handler resolves them to ULIDs on insert.

type seedAccount struct {
	Name           string `json:"name"`
	BaseURL        string `json:"base_url"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	MaxConnections int    `json:"max_connections,omitempty"`
}

type seedStream struct {
	Account      string   `json:"account"`
	StreamID     int      `json:"stream_id"`
	Name         string   `json:"name"`
	Icon         string   `json:"icon,omitempty"`
	Qualities    []string `json:"qualities,omitempty"`
	EpgChannelID string   `json:"epg_channel_id,omitempty"`
}

type seedProgram struct {
	Title string    `json:"title"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

type seedMapping struct {
	Account  string `json:"account"`
	StreamID int    `json:"stream_id"`
	Primary  bool   `json:"primary"`
	Priority int    `json:"priority"`
}

type seedChannel struct {
	StableID     string        `json:"stable_id"`
	DisplayName  string        `json:"display_name"`
	Icon         string        `json:"icon,omitempty"`
	Enabled      bool          `json:"enabled"`
	DisplayOrder *int          `json:"display_order,omitempty"`
	Programs     []seedProgram `json:"programs,omitempty"`
	Mappings     []seedMapping `json:"mappings,omitempty"`
}

type seedSource struct {
	Name     string        `json:"name"`
	URL      string        `json:"url"`
	Channels []seedChannel `json:"channels,omitempty"`
}

type seedDocument struct {
	Accounts []seedAccount `json:"accounts,omitempty"`
	Streams  []seedStream  `json:"streams,omitempty"`
	Sources  []seedSource  `json:"sources,omitempty"`
}

// handleSeed inserts the posted fixture document in one transaction. Only
// mounted when test mode is on.
func (s *Server) handleSeed(w http.ResponseWriter, r *http.Request) {
	var doc seedDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		http.Error(w, fmt.Sprintf("decoding seed document: %v", err), http.StatusBadRequest)
		return
	}

	err := s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		return s.applySeed(tx, &doc)
	})
	if err != nil {
		s.logger.Error("seeding failed", slog.Any("error", err))
		http.Error(w, fmt.Sprintf("seeding: %v", err), http.StatusBadRequest)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "seeded"})
}

func (s *Server) applySeed(tx *gorm.DB, doc *seedDocument) error {
	accountIDs := make(map[string]models.ULID, len(doc.Accounts))
	for _, sa := range doc.Accounts {
		account := &models.Account{
			Name:           sa.Name,
			BaseURL:        sa.BaseURL,
			Username:       sa.Username,
			PasswordHandle: []byte("pending"),
			MaxConnections: sa.MaxConnections,
			Enabled:        models.BoolPtr(true),
		}
		if err := tx.Create(account).Error; err != nil {
			return fmt.Errorf("creating account %q: %w", sa.Name, err)
		}
		handle, err := s.vault.Store(account.ID, sa.Password)
		if err != nil {
			return fmt.Errorf("storing credentials for %q: %w", sa.Name, err)
		}
		account.PasswordHandle = handle
		if err := tx.Save(account).Error; err != nil {
			return fmt.Errorf("saving account %q: %w", sa.Name, err)
		}
		accountIDs[sa.Name] = account.ID
	}

	// streamIDs resolves (account name, provider stream id) to the row ULID.
	type streamKey struct {
		account  string
		streamID int
	}
	streamIDs := make(map[streamKey]models.ULID, len(doc.Streams))
	for _, ss := range doc.Streams {
		accountID, ok := accountIDs[ss.Account]
		if !ok {
			return fmt.Errorf("stream %q references unknown account %q", ss.Name, ss.Account)
		}
		stream := &models.ProviderStream{
			AccountID:    accountID,
			StreamID:     ss.StreamID,
			Name:         ss.Name,
			Icon:         ss.Icon,
			Qualities:    models.QualityTiers(ss.Qualities),
			EpgChannelID: ss.EpgChannelID,
		}
		if err := tx.Create(stream).Error; err != nil {
			return fmt.Errorf("creating stream %q: %w", ss.Name, err)
		}
		streamIDs[streamKey{ss.Account, ss.StreamID}] = stream.ID
	}

	for _, src := range doc.Sources {
		source := &models.EpgSource{Name: src.Name, URL: src.URL}
		if err := tx.Create(source).Error; err != nil {
			return fmt.Errorf("creating source %q: %w", src.Name, err)
		}

		for _, sc := range src.Channels {
			channel := &models.EpgChannel{
				SourceID:    source.ID,
				StableID:    sc.StableID,
				DisplayName: sc.DisplayName,
				Icon:        sc.Icon,
				Synthetic:   len(sc.Programs) == 0,
			}
			if err := tx.Create(channel).Error; err != nil {
				return fmt.Errorf("creating channel %q: %w", sc.StableID, err)
			}

			settings := &models.EpgChannelSettings{
				ChannelID:        channel.ID,
				Enabled:          models.BoolPtr(sc.Enabled),
				PlexDisplayOrder: sc.DisplayOrder,
			}
			if err := tx.Create(settings).Error; err != nil {
				return fmt.Errorf("creating settings for %q: %w", sc.StableID, err)
			}

			for _, sp := range sc.Programs {
				program := &models.EpgProgram{
					ChannelID: channel.ID,
					Title:     sp.Title,
					Start:     sp.Start,
					End:       sp.End,
				}
				if err := tx.Create(program).Error; err != nil {
					return fmt.Errorf("creating programme %q: %w", sp.Title, err)
				}
			}

			for _, sm := range sc.Mappings {
				rowID, ok := streamIDs[streamKey{sm.Account, sm.StreamID}]
				if !ok {
					return fmt.Errorf("mapping on %q references unknown stream %d of account %q", sc.StableID, sm.StreamID, sm.Account)
				}
				id := rowID
				mapping := &models.ChannelMapping{
					ChannelID:  channel.ID,
					StreamID:   &id,
					Confidence: 1,
					Primary:    sm.Primary,
					Priority:   sm.Priority,
					MatchType:  models.MatchTypeManual,
					Manual:     true,
				}
				if err := tx.Create(mapping).Error; err != nil {
					return fmt.Errorf("creating mapping for %q: %w", sc.StableID, err)
				}
			}
		}
	}

	s.synthesizer.Invalidate()
	return nil
}

// handleUnseed clears the catalog wholesale. Settings survive.
func (s *Server) handleUnseed(w http.ResponseWriter, r *http.Request) {
	tables := []any{
		&models.Event{},
		&models.EpgProgram{},
		&models.ChannelMapping{},
		&models.EpgChannelSettings{},
		&models.EpgChannel{},
		&models.EpgSource{},
		&models.ProviderStream{},
		&models.Account{},
	}

	err := s.db.WithContext(r.Context()).Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			if err := tx.Where("1 = 1").Delete(table).Error; err != nil {
				return fmt.Errorf("clearing %T: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		s.logger.Error("unseeding failed", slog.Any("error", err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	s.synthesizer.Invalidate()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}
