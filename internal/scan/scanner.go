// Package scan orchestrates provider scans: authenticate against the panel,
// record account liveness and the observed connection cap, pull the live
// stream list, classify quality tiers, and hand the fresh list to the delta
// reconciler.
package scan

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/streamforge/streamforge/internal/models"
	"github.com/streamforge/streamforge/internal/quality"
	"github.com/streamforge/streamforge/internal/reconcile"
	"github.com/streamforge/streamforge/internal/repository"
	"github.com/streamforge/streamforge/internal/vault"
	"github.com/streamforge/streamforge/pkg/xtream"
)

// providerClient is the part of the Xtream client the scanner uses.
type providerClient interface {
	Authenticate(ctx context.Context) (*xtream.AuthInfo, error)
	GetLiveCategories(ctx context.Context) ([]xtream.Category, error)
	GetLiveStreams(ctx context.Context, opts *xtream.StreamsOptions) ([]xtream.Stream, error)
}

// clientFactory builds a provider client for an account and its password.
type clientFactory func(account *models.Account, password string) providerClient

// Result summarizes one account scan.
type Result struct {
	Account *models.Account          `json:"-"`
	Streams int                      `json:"streams"`
	Rematch *reconcile.RematchResult `json:"rematch"`
}

// Scanner runs provider scans for enabled accounts.
type Scanner struct {
	db     *gorm.DB
	vault  *vault.Vault
	logger *slog.Logger

	newClient clientFactory
}

// NewScanner creates a Scanner.
func NewScanner(db *gorm.DB, v *vault.Vault, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		db:     db,
		vault:  v,
		logger: logger,
		newClient: func(account *models.Account, password string) providerClient {
			return xtream.NewClient(account.BaseURL, account.Username, password)
		},
	}
}

// ScanAll scans every enabled account. Per-account failures are recorded on
// the account row and do not stop the sweep.
func (s *Scanner) ScanAll(ctx context.Context) ([]*Result, error) {
	accounts, err := repository.NewAccountRepository(s.db).GetEnabled(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading accounts: %w", err)
	}

	var results []*Result
	var firstErr error
	for _, account := range accounts {
		result, err := s.ScanAccount(ctx, account)
		if err != nil {
			s.logger.Error("account scan failed",
				slog.String("account", account.Name),
				slog.Any("error", err),
			)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		results = append(results, result)
	}
	return results, firstErr
}

// ScanAccount scans one account and reconciles its stream list.
func (s *Scanner) ScanAccount(ctx context.Context, account *models.Account) (*Result, error) {
	start := time.Now()
	accountRepo := repository.NewAccountRepository(s.db)

	password, err := s.vault.Retrieve(account.PasswordHandle)
	if err != nil {
		return nil, fmt.Errorf("retrieving credentials for %q: %w", account.Name, err)
	}
	client := s.newClient(account, password)

	auth, err := client.Authenticate(ctx)
	now := models.Now()
	account.LastCheckAt = &now
	if err != nil {
		if xtream.IsAuthError(err) {
			account.Status = models.AccountStatusAuthFailed
		} else {
			account.Status = models.AccountStatusOffline
		}
		if uerr := accountRepo.Update(ctx, account); uerr != nil {
			s.logger.Warn("recording account status failed", slog.Any("error", uerr))
		}
		s.appendEvent(ctx, models.EventLevelWarn,
			fmt.Sprintf("provider %q unreachable: %v", account.Name, err),
			models.EventDetails{"account_id": account.ID.String()})
		return nil, fmt.Errorf("authenticating %q: %w", account.Name, err)
	}

	account.Status = models.AccountStatusOnline
	if observed := int(auth.UserInfo.MaxConnections.Int()); observed > 0 {
		account.ObservedMaxConnections = &observed
	}
	if err := accountRepo.Update(ctx, account); err != nil {
		return nil, fmt.Errorf("recording account status: %w", err)
	}

	categories, err := client.GetLiveCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing categories for %q: %w", account.Name, err)
	}
	categoryNames := make(map[string]string, len(categories))
	for _, c := range categories {
		categoryNames[c.CategoryID.String()] = c.CategoryName
	}

	streams, err := client.GetLiveStreams(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("listing streams for %q: %w", account.Name, err)
	}

	fresh := make([]*models.ProviderStream, 0, len(streams))
	for _, st := range streams {
		if st.Name == "" || st.StreamID.Int() == 0 {
			continue
		}
		fresh = append(fresh, &models.ProviderStream{
			AccountID:    account.ID,
			StreamID:     int(st.StreamID.Int()),
			Name:         st.Name,
			Icon:         st.StreamIcon,
			CategoryID:   st.CategoryID.String(),
			CategoryName: categoryNames[st.CategoryID.String()],
			Qualities:    quality.Classify(st.Name),
			EpgChannelID: st.EPGChannelID,
			HasArchive:   st.TVArchive.Int() > 0,
			ArchiveDays:  int(st.TVArchiveDays.Int()),
		})
	}

	rematch, err := reconcile.NewReconciler(s.db, s.logger).Reconcile(ctx, account.ID, fresh)
	if err != nil {
		return nil, err
	}

	s.logger.Info("account scanned",
		slog.String("account", account.Name),
		slog.Int("streams", len(fresh)),
		slog.Int("new", rematch.StreamsNew),
		slog.Int("removed", rematch.StreamsRemoved),
		slog.Duration("duration", time.Since(start)),
	)
	s.appendEvent(ctx, models.EventLevelInfo,
		fmt.Sprintf("provider %q scanned: %d streams", account.Name, len(fresh)),
		models.EventDetails{
			"account_id": account.ID.String(),
			"streams":    len(fresh),
			"new":        rematch.StreamsNew,
			"changed":    rematch.StreamsChanged,
			"removed":    rematch.StreamsRemoved,
		})

	return &Result{Account: account, Streams: len(fresh), Rematch: rematch}, nil
}

func (s *Scanner) appendEvent(ctx context.Context, level models.EventLevel, message string, details models.EventDetails) {
	event := &models.Event{
		Level:    level,
		Category: models.EventCategoryProvider,
		Message:  message,
		Details:  details,
	}
	if err := repository.NewEventRepository(s.db).Append(ctx, event); err != nil {
		s.logger.Warn("appending provider event failed", slog.Any("error", err))
	}
}
