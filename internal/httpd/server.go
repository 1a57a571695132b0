// Package httpd exposes the gateway's HTTP surface: the lineup documents
// Plex discovers a tuner through, and the per-channel MPEG-TS stream
// endpoint. The listener binds to loopback only; the gateway is not meant to
// be reachable off-host.
package httpd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/lineup"
	"github.com/streamforge/streamforge/internal/relay"
	"github.com/streamforge/streamforge/internal/vault"
)

// testModeEnv enables the seeding endpoints when set to a non-empty value.
const testModeEnv = "STREAMFORGE_TEST_MODE"

// BindHost is the address the listener binds. Loopback only; advertised URLs
// in the lineup documents must be derived from it rather than hardcoded.
const BindHost = "127.0.0.1"

// BaseURL returns the externally advertised origin for the given port.
func BaseURL(port int) string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(BindHost, strconv.Itoa(port)))
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	// Port to bind on 127.0.0.1. Read from settings at startup.
	Port int

	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// FFmpegPath is handed to the relay pipes.
	FFmpegPath string
}

// DefaultServerConfig returns a ServerConfig with sensible defaults. There
// is deliberately no write timeout: stream responses stay open for hours.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:            5004,
		ReadTimeout:     30 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		FFmpegPath:      "ffmpeg",
	}
}

// Server is the gateway HTTP server.
type Server struct {
	config      ServerConfig
	router      *chi.Mux
	httpServer  *http.Server
	logger      *slog.Logger
	db          *gorm.DB
	vault       *vault.Vault
	synthesizer *lineup.Synthesizer
	sessions    *relay.SessionManager
}

// NewServer creates the server and mounts all routes.
func NewServer(
	config ServerConfig,
	db *gorm.DB,
	v *vault.Vault,
	synthesizer *lineup.Synthesizer,
	sessions *relay.SessionManager,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		config:      config,
		logger:      logger,
		db:          db,
		vault:       v,
		synthesizer: synthesizer,
		sessions:    sessions,
	}

	router := chi.NewRouter()
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.RequestID)
	router.Use(requestLogger(logger))
	router.Use(recovery(logger))

	router.Get("/health", s.handleHealth)
	router.Get("/playlist.m3u", s.handlePlaylist)
	router.Get("/epg.xml", s.handleEPG)
	router.Get("/discover.json", s.handleDiscover)
	router.Get("/lineup.json", s.handleLineup)
	router.Get("/lineup_status.json", s.handleLineupStatus)
	router.Get("/stream/{channelID}", s.handleStream)

	if os.Getenv(testModeEnv) != "" {
		logger.Warn("test mode enabled, seeding endpoints are live")
		router.Post("/test/seed", s.handleSeed)
		router.Delete("/test/seed", s.handleUnseed)
	}

	s.router = router
	return s
}

// Router returns the chi router, used directly by tests.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	addr := net.JoinHostPort(BindHost, strconv.Itoa(s.config.Port))

	s.httpServer = &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: s.config.ReadTimeout,
		IdleTimeout: s.config.IdleTimeout,
		// WriteTimeout stays zero: stream responses are long-lived.
	}

	s.logger.Info("starting HTTP server", slog.String("address", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}

// Shutdown drains connections and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.logger.Info("shutting down HTTP server")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}
