package openfinance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"networth/internal/shared/retry"
)

const (
	defaultTimeout      = 30 * time.Second
	accountsPath        = "/accounts"
	balanceRefreshPath  = "/accounts/balance/refresh"
	transactionSyncPath = "/transactions/sync"
)

// ErrUnauthorized is returned when the provider rejects the API key
var ErrUnauthorized = errors.New("provider rejected credentials")

// Client handles communication with the account-linking provider API
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	retry      retry.Config
	logger     *zap.Logger
}

// Ensure Client implements ClientInterface
var _ ClientInterface = (*Client)(nil)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the default instrumented HTTP client
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry overrides the retry policy used for read calls
func WithRetry(cfg retry.Config) ClientOption {
	return func(c *Client) { c.retry = cfg }
}

// NewClient creates a new provider API client
func NewClient(baseURL, apiKey string, logger *zap.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		httpClient: &http.Client{
			Timeout:   defaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		retry:   retry.DefaultConfig(),
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AccountResponse represents the API response for account data
type AccountResponse struct {
	Accounts []Account `json:"accounts"`
}

// Account represents an account record from the provider API
type Account struct {
	AccountID       string   `json:"account_id"`
	Name            string   `json:"name"`
	OfficialName    *string  `json:"official_name"`
	Type            string   `json:"type"`
	Subtype         *string  `json:"subtype"`
	Mask            *string  `json:"mask"`
	InstitutionName string   `json:"institution_name"`
	Balances        Balances `json:"balances"`
}

// Balances holds the provider's balance block. Amounts may be sent as
// numbers or strings.
type Balances struct {
	Current         decimal.NullDecimal `json:"current"`
	Available       decimal.NullDecimal `json:"available"`
	ISOCurrencyCode string              `json:"iso_currency_code"`
}

// SyncResponse reports the outcome of a transaction sync
type SyncResponse struct {
	Added    int `json:"added"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

// ErrorResponse represents an error response from the API
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type userRequest struct {
	UserID string `json:"user_id"`
}

// StatusError carries a non-2xx provider response
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}

// Temporary reports whether the request may succeed when retried
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// GetAccounts fetches all linked accounts of a user
func (c *Client) GetAccounts(ctx context.Context, userID string) (*AccountResponse, error) {
	endpoint := c.baseURL + accountsPath + "?" + url.Values{"user_id": {userID}}.Encode()

	var accountResp AccountResponse
	err := retry.WithBackoff(ctx, c.retry, c.logger, "openfinance.get_accounts", func() error {
		accountResp = AccountResponse{}
		err := c.do(ctx, http.MethodGet, endpoint, nil, &accountResp)
		var statusErr *StatusError
		if errors.Is(err, ErrUnauthorized) || (errors.As(err, &statusErr) && !statusErr.Temporary()) {
			return retry.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	return &accountResp, nil
}

// RefreshBalances asks the provider to re-pull balances from the institutions
func (c *Client) RefreshBalances(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodPost, c.baseURL+balanceRefreshPath, userRequest{UserID: userID}, nil)
}

// SyncTransactions asks the provider to re-pull transactions from the institutions
func (c *Client) SyncTransactions(ctx context.Context, userID string) (*SyncResponse, error) {
	var syncResp SyncResponse
	if err := c.do(ctx, http.MethodPost, c.baseURL+transactionSyncPath, userRequest{UserID: userID}, &syncResp); err != nil {
		return nil, err
	}
	return &syncResp, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiKey))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w (status %d)", ErrUnauthorized, resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err != nil || (errResp.Error == "" && errResp.Message == "") {
			return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(respBody))}
		}
		return &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(errResp.Error + " - " + errResp.Message)}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}
