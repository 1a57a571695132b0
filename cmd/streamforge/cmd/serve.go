package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streamforge/streamforge/internal/database"
	"github.com/streamforge/streamforge/internal/epg"
	"github.com/streamforge/streamforge/internal/httpd"
	"github.com/streamforge/streamforge/internal/lineup"
	"github.com/streamforge/streamforge/internal/observability"
	"github.com/streamforge/streamforge/internal/relay"
	"github.com/streamforge/streamforge/internal/repository"
	"github.com/streamforge/streamforge/internal/scheduler"
	"github.com/streamforge/streamforge/internal/vault"
	"github.com/streamforge/streamforge/internal/version"
	"github.com/streamforge/streamforge/pkg/httpclient"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streamforge gateway",
	Long: `Start the gateway daemon.

The daemon serves the HDHomeRun discovery documents, the M3U playlist, the
XMLTV guide, and per-channel MPEG-TS streams on 127.0.0.1, and runs the daily
scheduled EPG refresh.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)
	logger := slog.Default()

	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		return err
	}

	v, err := vault.New(cfg.Storage.DataDir)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Runtime knobs come from the settings table, not the config file.
	settings := repository.NewSettingRepository(db.DB)
	port := settings.ServerPort(ctx)

	synth := lineup.NewSynthesizer(db.DB, httpd.BaseURL(port), version.ApplicationName, logger)

	// The session cap mirrors the advertised TunerCount: the tightest single
	// account is the binding upstream constraint.
	tuners := tunerCount(ctx, db)
	sessions := relay.NewSessionManager(tuners)

	epgHTTP := httpclient.New(httpclient.Config{
		Timeout: cfg.Provider.Timeout,
		Logger:  observability.WithComponent(logger, "epg-fetch"),
	})
	refresher := epg.NewRefresher(db.DB, epgHTTP, logger)
	refresher.Invalidate = synth.Invalidate

	sched := scheduler.New(settings, refresher.RefreshAll, logger)
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	serverCfg := httpd.DefaultServerConfig()
	serverCfg.Port = port
	serverCfg.ReadTimeout = cfg.Server.ReadTimeout
	serverCfg.ShutdownTimeout = cfg.Server.ShutdownTimeout
	if cfg.Stream.FFmpegPath != "" {
		serverCfg.FFmpegPath = cfg.Stream.FFmpegPath
	}
	server := httpd.NewServer(serverCfg, db.DB, v, synth, sessions, logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	logger.Info("streamforge started",
		slog.Int("port", port),
		slog.Int("tuners", tuners),
		slog.String("version", version.Version),
	)

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-serveErr:
		return err
	}

	if err := server.Shutdown(context.Background()); err != nil {
		logger.Error("shutdown failed", slog.Any("error", err))
		return err
	}
	return nil
}

// tunerCount derives the session cap from enabled accounts: the maximum
// effective connection cap, defaulting to 2 when no account advertises one.
func tunerCount(ctx context.Context, db *database.DB) int {
	accounts, err := repository.NewAccountRepository(db.DB).GetEnabled(ctx)
	if err != nil {
		return 2
	}
	max := 0
	for _, a := range accounts {
		if n := a.EffectiveMaxConnections(); n > max {
			max = n
		}
	}
	if max <= 0 {
		return 2
	}
	return max
}
