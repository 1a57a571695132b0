package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/streamforge/streamforge/internal/database"
	"github.com/streamforge/streamforge/internal/scan"
	"github.com/streamforge/streamforge/internal/vault"
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan all enabled provider accounts once",
	Long: `Authenticate against every enabled provider account, pull its live
stream catalog, and reconcile it into the local database, rematching changed
streams against guide channels.

The serve daemon does not scan on its own; run this after adding accounts or
when the provider lineup changes.`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
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

	results, err := scan.NewScanner(db.DB, v, logger).ScanAll(context.Background())
	for _, result := range results {
		fmt.Printf("%s: %d streams (%d new, %d changed, %d removed, %d matched)\n",
			result.Account.Name,
			result.Streams,
			result.Rematch.StreamsNew,
			result.Rematch.StreamsChanged,
			result.Rematch.StreamsRemoved,
			result.Rematch.NewMatches,
		)
	}
	if err != nil {
		return fmt.Errorf("scanning providers: %w", err)
	}
	return nil
}
