package account

import (
	"context"
	"fmt"
)

// Fetcher loads the accounts of one source for a user.
// Implementations never panic past their boundary; failures are carried in
// FetchResult.Err so the caller decides how to degrade.
type Fetcher interface {
	Fetch(ctx context.Context, userID string) FetchResult
}

// Refresher asks the linked-account provider to re-pull data from upstream.
type Refresher interface {
	RefreshAccountBalances(ctx context.Context, userID string) error
	SyncTransactions(ctx context.Context, userID string) error
}

// FetchResult is the outcome of a single source fetch.
type FetchResult struct {
	Source   Source
	Accounts []Account
	Err      error
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool {
	return r.Err == nil
}

// AccountsOrEmpty collapses a failed fetch into an empty sequence.
func (r FetchResult) AccountsOrEmpty() []Account {
	if r.Err != nil {
		return nil
	}
	return r.Accounts
}

// Succeeded builds a successful result.
func Succeeded(source Source, accounts []Account) FetchResult {
	return FetchResult{Source: source, Accounts: accounts}
}

// Failed builds a failed result wrapping err in a FetchError.
func Failed(source Source, err error) FetchResult {
	return FetchResult{Source: source, Err: &FetchError{Source: source, Err: err}}
}

// FetchError describes a failed source fetch.
type FetchError struct {
	Source Source
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s accounts: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() []error {
	return []error{ErrSourceFailed, e.Err}
}
