package openfinance

import (
	"context"
)

// ClientInterface defines the methods required from the provider API client
type ClientInterface interface {
	GetAccounts(ctx context.Context, userID string) (*AccountResponse, error)
	RefreshBalances(ctx context.Context, userID string) error
	SyncTransactions(ctx context.Context, userID string) (*SyncResponse, error)
}
