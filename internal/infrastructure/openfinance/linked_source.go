package openfinance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"networth/internal/domain/account"
)

const (
	defaultCurrency    = "USD"
	defaultName        = "Unnamed Account"
	defaultType        = "depository"
	defaultInstitution = "Unknown Institution"
)

// LinkedSource adapts the provider API to the account source contract.
type LinkedSource struct {
	client ClientInterface
	logger *zap.Logger
	now    func() time.Time
}

var (
	_ account.Fetcher   = (*LinkedSource)(nil)
	_ account.Refresher = (*LinkedSource)(nil)
)

// NewLinkedSource creates the linked-account adapter
func NewLinkedSource(client ClientInterface, logger *zap.Logger) *LinkedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LinkedSource{client: client, logger: logger, now: time.Now}
}

// Fetch loads and normalizes the user's linked accounts
func (s *LinkedSource) Fetch(ctx context.Context, userID string) account.FetchResult {
	if err := account.ValidateUserID(userID); err != nil {
		return account.Failed(account.SourceLinked, err)
	}

	resp, err := s.client.GetAccounts(ctx, userID)
	if err != nil {
		return account.Failed(account.SourceLinked, fmt.Errorf("failed to fetch accounts: %w", err))
	}

	fetchedAt := s.now()
	accounts := make([]account.Account, 0, len(resp.Accounts))
	for _, raw := range resp.Accounts {
		if strings.TrimSpace(raw.AccountID) == "" {
			s.logger.Warn("Skipping provider account without account_id",
				zap.String("user_id", userID),
				zap.String("name", raw.Name))
			continue
		}
		accounts = append(accounts, s.normalize(raw, fetchedAt))
	}

	return account.Succeeded(account.SourceLinked, accounts)
}

// RefreshAccountBalances triggers a provider-side balance refresh
func (s *LinkedSource) RefreshAccountBalances(ctx context.Context, userID string) error {
	return s.client.RefreshBalances(ctx, userID)
}

// SyncTransactions triggers a provider-side transaction sync
func (s *LinkedSource) SyncTransactions(ctx context.Context, userID string) error {
	resp, err := s.client.SyncTransactions(ctx, userID)
	if err != nil {
		return err
	}
	s.logger.Debug("Provider transaction sync completed",
		zap.String("user_id", userID),
		zap.Int("added", resp.Added),
		zap.Int("modified", resp.Modified),
		zap.Int("removed", resp.Removed))
	return nil
}

func (s *LinkedSource) normalize(raw Account, fetchedAt time.Time) account.Account {
	current := decimal.Zero
	if raw.Balances.Current.Valid {
		current = raw.Balances.Current.Decimal
	}

	return account.Account{
		ID:       raw.AccountID,
		Name:     valueOr(raw.Name, defaultName),
		Type:     valueOr(raw.Type, defaultType),
		Currency: valueOr(strings.ToUpper(raw.Balances.ISOCurrencyCode), defaultCurrency),
		Balance: account.Balance{
			Current:   current,
			Available: raw.Balances.Available,
		},
		Source:      account.SourceLinked,
		Institution: account.StringPtr(valueOr(raw.InstitutionName, defaultInstitution)),
		LastUpdated: fetchedAt,
	}
}

func valueOr(v, fallback string) string {
	if v = strings.TrimSpace(v); v == "" {
		return fallback
	}
	return v
}
