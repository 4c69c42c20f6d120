package manualaccounts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"networth/internal/domain/account"
)

const (
	defaultTimeout = 10 * time.Second
	// ServiceKeyHeader carries the shared key expected by the manual-account API
	ServiceKeyHeader = "X-Service-Key"
)

// Record is the wire form served by GET /accounts/manual/{userId}
type Record struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Balance     decimal.Decimal `json:"balance"`
	Currency    string          `json:"currency"`
	Institution *string         `json:"institution,omitempty"`
}

// Source fetches manual accounts from the manual-account API.
type Source struct {
	httpClient *http.Client
	baseURL    string
	serviceKey string
	logger     *zap.Logger
	now        func() time.Time
}

var _ account.Fetcher = (*Source)(nil)

// NewSource creates the manual-account adapter. baseURL is the API root,
// e.g. http://localhost:8080/api.
func NewSource(baseURL, serviceKey string, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		logger:     logger,
		now:        time.Now,
	}
}

// Fetch loads the user's manual accounts
func (s *Source) Fetch(ctx context.Context, userID string) account.FetchResult {
	if err := account.ValidateUserID(userID); err != nil {
		return account.Failed(account.SourceManual, err)
	}

	records, err := s.fetchRecords(ctx, userID)
	if err != nil {
		return account.Failed(account.SourceManual, err)
	}

	fetchedAt := s.now()
	accounts := make([]account.Account, 0, len(records))
	for _, rec := range records {
		if rec.ID == "" {
			s.logger.Warn("Skipping manual account without id",
				zap.String("user_id", userID),
				zap.String("name", rec.Name))
			continue
		}
		accounts = append(accounts, toAccount(rec, fetchedAt))
	}

	return account.Succeeded(account.SourceManual, accounts)
}

func (s *Source) fetchRecords(ctx context.Context, userID string) ([]Record, error) {
	endpoint := s.baseURL + "/accounts/manual/" + url.PathEscape(userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.serviceKey != "" {
		req.Header.Set(ServiceKeyHeader, s.serviceKey)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("manual accounts request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var records []Record
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("failed to decode manual accounts: %w", err)
	}

	return records, nil
}

func toAccount(rec Record, fetchedAt time.Time) account.Account {
	currency := strings.ToUpper(strings.TrimSpace(rec.Currency))
	if currency == "" {
		currency = account.DefaultManualCurrency
	}

	var institution *string
	if rec.Institution != nil {
		institution = account.StringPtr(strings.TrimSpace(*rec.Institution))
	}

	return account.Account{
		ID:       rec.ID,
		Name:     rec.Name,
		Type:     rec.Type,
		Currency: currency,
		Balance: account.Balance{
			Current:   rec.Balance,
			Available: decimal.NewNullDecimal(rec.Balance),
		},
		Source:      account.SourceManual,
		Institution: institution,
		LastUpdated: fetchedAt,
	}
}

// RecordFromManual converts a stored manual account to its wire form
func RecordFromManual(m *account.ManualAccount) Record {
	return Record{
		ID:          m.ID,
		Name:        m.Name,
		Type:        m.Type,
		Balance:     m.Balance,
		Currency:    m.Currency,
		Institution: m.Institution,
	}
}
