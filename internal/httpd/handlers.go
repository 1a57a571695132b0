package httpd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/streamforge/streamforge/internal/models"
	"github.com/streamforge/streamforge/internal/relay"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handlePlaylist(w http.ResponseWriter, r *http.Request) {
	doc, err := s.synthesizer.M3U(r.Context())
	if err != nil {
		s.serverError(w, "building playlist", err)
		return
	}
	w.Header().Set("Content-Type", "audio/x-mpegurl")
	_, _ = w.Write(doc)
}

func (s *Server) handleEPG(w http.ResponseWriter, r *http.Request) {
	doc, etag, err := s.synthesizer.EPG(r.Context())
	if err != nil {
		s.serverError(w, "building EPG", err)
		return
	}

	w.Header().Set("ETag", etag)
	if match := r.Header.Get("If-None-Match"); match != "" && match == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write(doc)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	info, err := s.synthesizer.Discover(r.Context())
	if err != nil {
		s.serverError(w, "building discover document", err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleLineup(w http.ResponseWriter, r *http.Request) {
	entries, err := s.synthesizer.Lineup(r.Context())
	if err != nil {
		s.serverError(w, "building lineup document", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleLineupStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.synthesizer.Status())
}

// handleStream admits a tuner session and relays the channel as MPEG-TS.
// The response body is chunked; failovers splice inside it invisibly.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	channelID, err := models.ParseULID(chi.URLParam(r, "channelID"))
	if err != nil {
		http.Error(w, "invalid channel id", http.StatusNotFound)
		return
	}

	sessionID, ok := s.sessions.Start(channelID, "")
	if !ok {
		http.Error(w, "all tuners in use", http.StatusServiceUnavailable)
		return
	}
	defer s.sessions.End(sessionID)

	controller, err := relay.NewController(r.Context(), channelID, relay.ControllerConfig{
		DB:         s.db,
		Vault:      s.vault,
		Logger:     s.logger,
		FFmpegPath: s.config.FFmpegPath,
		SessionID:  sessionID,
	})
	if err != nil {
		if errors.Is(err, relay.ErrNoCandidates) {
			http.Error(w, "no streams for channel", http.StatusNotFound)
			return
		}
		s.serverError(w, "preparing stream", err)
		return
	}
	s.sessions.SetStreamName(sessionID, controller.CurrentStreamName())

	s.logger.Info("stream session started",
		slog.String("session", sessionID),
		slog.String("channel_id", channelID.String()),
		slog.String("stream", controller.CurrentStreamName()),
	)

	w.Header().Set("Content-Type", "video/mp2t")
	w.WriteHeader(http.StatusOK)

	if err := controller.Serve(r.Context(), w); err != nil {
		// Headers are long gone; just record how the stream ended.
		s.logger.Warn("stream session ended with error",
			slog.String("session", sessionID),
			slog.Any("error", err),
		)
		return
	}
	s.logger.Info("stream session ended", slog.String("session", sessionID))
}

func (s *Server) serverError(w http.ResponseWriter, msg string, err error) {
	s.logger.Error(msg, slog.Any("error", err))
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
