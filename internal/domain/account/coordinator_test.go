package account

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// MockFetcher is a mock implementation of Fetcher interface
type MockFetcher struct {
	FetchFunc func(ctx context.Context, userID string) FetchResult
}

func (m *MockFetcher) Fetch(ctx context.Context, userID string) FetchResult {
	if m.FetchFunc != nil {
		return m.FetchFunc(ctx, userID)
	}
	return FetchResult{}
}

// MockRefresher is a mock implementation of Refresher interface
type MockRefresher struct {
	RefreshAccountBalancesFunc func(ctx context.Context, userID string) error
	SyncTransactionsFunc       func(ctx context.Context, userID string) error
}

func (m *MockRefresher) RefreshAccountBalances(ctx context.Context, userID string) error {
	if m.RefreshAccountBalancesFunc != nil {
		return m.RefreshAccountBalancesFunc(ctx, userID)
	}
	return nil
}

func (m *MockRefresher) SyncTransactions(ctx context.Context, userID string) error {
	if m.SyncTransactionsFunc != nil {
		return m.SyncTransactionsFunc(ctx, userID)
	}
	return nil
}

func staticFetcher(source Source, accounts ...Account) *MockFetcher {
	return &MockFetcher{FetchFunc: func(ctx context.Context, userID string) FetchResult {
		return Succeeded(source, accounts)
	}}
}

func failingFetcher(source Source, err error) *MockFetcher {
	return &MockFetcher{FetchFunc: func(ctx context.Context, userID string) FetchResult {
		return Failed(source, err)
	}}
}

func linkedAccount(id string, current int64) Account {
	return Account{
		ID:          id,
		Name:        "Linked " + id,
		Type:        "savings",
		Currency:    "USD",
		Balance:     Balance{Current: decimal.NewFromInt(current)},
		Source:      SourceLinked,
		Institution: StringPtr("Example Bank"),
	}
}

func newTestCoordinator(t *testing.T, manual, linked Fetcher, provider Refresher) *Coordinator {
	t.Helper()
	return NewCoordinator(manual, linked, provider, zaptest.NewLogger(t))
}

func TestCoordinator_GetAllAccounts(t *testing.T) {
	ctx := context.Background()
	manual := staticFetcher(SourceManual, acct("m1", SourceManual, 5000))
	linked := staticFetcher(SourceLinked, linkedAccount("p1", 10000))

	c := newTestCoordinator(t, manual, linked, nil)

	accounts, err := c.GetAllAccounts(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "p1"}, ids(accounts))

	snap, ok := c.Cached("user-1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.False(t, snap.Partial())
}

func TestCoordinator_GetAllAccounts_InvalidUser(t *testing.T) {
	c := newTestCoordinator(t, staticFetcher(SourceManual), staticFetcher(SourceLinked), nil)

	_, err := c.GetAllAccounts(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidUserID)
	assert.Empty(t, c.CachedUsers())
}

func TestCoordinator_PartialSourceFailure(t *testing.T) {
	ctx := context.Background()
	manual := staticFetcher(SourceManual, acct("m1", SourceManual, 1), acct("m2", SourceManual, 2))
	linked := failingFetcher(SourceLinked, errors.New("provider unavailable"))

	c := newTestCoordinator(t, manual, linked, nil)

	snap, err := c.Aggregate(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids(snap.Accounts))
	assert.True(t, snap.Partial())
	assert.Contains(t, snap.SourceErrors[SourceLinked], "provider unavailable")
	assert.NotContains(t, snap.SourceErrors, SourceManual)
}

func TestCoordinator_AllSourcesFail(t *testing.T) {
	c := newTestCoordinator(t,
		failingFetcher(SourceManual, errors.New("boom")),
		failingFetcher(SourceLinked, errors.New("boom")),
		nil,
	)

	accounts, err := c.GetAllAccounts(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestCoordinator_PanickingSourceIsContained(t *testing.T) {
	linked := &MockFetcher{FetchFunc: func(ctx context.Context, userID string) FetchResult {
		panic("adapter bug")
	}}
	c := newTestCoordinator(t, staticFetcher(SourceManual, acct("m1", SourceManual, 1)), linked, nil)

	snap, err := c.Aggregate(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(snap.Accounts))
	assert.Contains(t, snap.SourceErrors[SourceLinked], "adapter bug")
}

func TestCoordinator_FetchesConcurrently(t *testing.T) {
	manualStarted := make(chan struct{})
	linkedStarted := make(chan struct{})

	waitFor := func(ch chan struct{}) bool {
		select {
		case <-ch:
			return true
		case <-time.After(2 * time.Second):
			return false
		}
	}

	manual := &MockFetcher{FetchFunc: func(ctx context.Context, userID string) FetchResult {
		close(manualStarted)
		if !waitFor(linkedStarted) {
			return Failed(SourceManual, errors.New("linked fetch never started"))
		}
		return Succeeded(SourceManual, []Account{acct("m1", SourceManual, 1)})
	}}
	linked := &MockFetcher{FetchFunc: func(ctx context.Context, userID string) FetchResult {
		close(linkedStarted)
		if !waitFor(manualStarted) {
			return Failed(SourceLinked, errors.New("manual fetch never started"))
		}
		return Succeeded(SourceLinked, []Account{linkedAccount("p1", 1)})
	}}

	c := newTestCoordinator(t, manual, linked, nil)

	snap, err := c.Aggregate(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, snap.Partial(), "source errors: %v", snap.SourceErrors)
	assert.Equal(t, []string{"m1", "p1"}, ids(snap.Accounts))
}

func TestCoordinator_StaleAggregationDiscarded(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	linked := &MockFetcher{FetchFunc: func(ctx context.Context, userID string) FetchResult {
		if calls.Add(1) == 1 {
			close(started)
			<-release
			return Succeeded(SourceLinked, []Account{linkedAccount("p1", 1)})
		}
		return Succeeded(SourceLinked, []Account{linkedAccount("p1", 2)})
	}}

	c := newTestCoordinator(t, staticFetcher(SourceManual), linked, nil)

	done := make(chan *Snapshot, 1)
	go func() {
		snap, _ := c.Aggregate(ctx, "user-1")
		done <- snap
	}()
	<-started

	newer, err := c.Aggregate(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), newer.Seq)

	close(release)
	older := <-done

	assert.Equal(t, uint64(2), older.Seq, "slow aggregation must return the newer snapshot")
	assert.True(t, older.Accounts[0].Balance.Current.Equal(decimal.NewFromInt(2)))

	cached, ok := c.Cached("user-1")
	require.True(t, ok)
	assert.True(t, cached.Accounts[0].Balance.Current.Equal(decimal.NewFromInt(2)))
}

func TestCoordinator_ApplyAccountUpdate(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, staticFetcher(SourceManual), staticFetcher(SourceLinked, linkedAccount("p1", 100), linkedAccount("p2", 200)), nil)

	_, err := c.Aggregate(ctx, "user-1")
	require.NoError(t, err)

	updatedAt := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	applied := c.ApplyAccountUpdate(AccountUpdate{
		AccountID: "p1",
		Balance: Balance{
			Current:   decimal.NewFromInt(150),
			Available: decimal.NewNullDecimal(decimal.NewFromInt(140)),
		},
		UpdatedAt: updatedAt,
	})
	require.True(t, applied)

	snap, _ := c.Cached("user-1")
	p1, ok := snap.Account("p1")
	require.True(t, ok)
	assert.True(t, p1.Balance.Current.Equal(decimal.NewFromInt(150)))
	assert.True(t, p1.Balance.Available.Decimal.Equal(decimal.NewFromInt(140)))
	assert.Equal(t, updatedAt, p1.LastUpdated)
	assert.Equal(t, "Linked p1", p1.Name)
	assert.Equal(t, "savings", p1.Type)
	assert.Equal(t, "Example Bank", p1.InstitutionName())

	p2, _ := snap.Account("p2")
	assert.True(t, p2.Balance.Current.Equal(decimal.NewFromInt(200)))
}

func TestCoordinator_ApplyAccountUpdate_UnknownAccount(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, staticFetcher(SourceManual), staticFetcher(SourceLinked, linkedAccount("p1", 100)), nil)

	before, err := c.Aggregate(ctx, "user-1")
	require.NoError(t, err)

	applied := c.ApplyAccountUpdate(AccountUpdate{AccountID: "ghost", Balance: Balance{Current: decimal.NewFromInt(1)}})
	assert.False(t, applied)

	after, _ := c.Cached("user-1")
	assert.Same(t, before, after)
}

func TestCoordinator_PushNotClobberedByOlderPull(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})

	linked := &MockFetcher{FetchFunc: func(ctx context.Context, userID string) FetchResult {
		if calls.Add(1) == 2 {
			close(started)
			<-release
		}
		return Succeeded(SourceLinked, []Account{linkedAccount("p1", 100)})
	}}

	c := newTestCoordinator(t, staticFetcher(SourceManual), linked, nil)

	_, err := c.Aggregate(ctx, "user-1")
	require.NoError(t, err)

	done := make(chan *Snapshot, 1)
	go func() {
		snap, _ := c.Aggregate(ctx, "user-1")
		done <- snap
	}()
	<-started

	require.True(t, c.ApplyAccountUpdate(AccountUpdate{
		AccountID: "p1",
		Balance:   Balance{Current: decimal.NewFromInt(500)},
	}))

	close(release)
	snap := <-done

	p1, _ := snap.Account("p1")
	assert.True(t, p1.Balance.Current.Equal(decimal.NewFromInt(500)), "pull issued before the push overwrote it: %s", p1.Balance.Current)

	// A pull issued after the push is authoritative again
	snap, err = c.Aggregate(ctx, "user-1")
	require.NoError(t, err)
	p1, _ = snap.Account("p1")
	assert.True(t, p1.Balance.Current.Equal(decimal.NewFromInt(100)))
}

func TestCoordinator_RemovedAccountDropsLiveUpdates(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	linked := &MockFetcher{FetchFunc: func(ctx context.Context, userID string) FetchResult {
		if calls.Add(1) == 1 {
			return Succeeded(SourceLinked, []Account{linkedAccount("p1", 1), linkedAccount("p2", 2)})
		}
		return Succeeded(SourceLinked, []Account{linkedAccount("p2", 2)})
	}}

	c := newTestCoordinator(t, staticFetcher(SourceManual), linked, nil)

	_, err := c.Aggregate(ctx, "user-1")
	require.NoError(t, err)
	_, err = c.Aggregate(ctx, "user-1")
	require.NoError(t, err)

	assert.False(t, c.ApplyAccountUpdate(AccountUpdate{AccountID: "p1"}))
	assert.True(t, c.ApplyAccountUpdate(AccountUpdate{AccountID: "p2", Balance: Balance{Current: decimal.NewFromInt(3)}}))
}

func TestCoordinator_ApplyTransactionUpdate(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, staticFetcher(SourceManual), staticFetcher(SourceLinked, linkedAccount("p1", 100)), nil)

	_, err := c.Aggregate(ctx, "user-1")
	require.NoError(t, err)

	require.True(t, c.ApplyTransactionUpdate(TransactionUpdate{
		AccountID:   "p1",
		Transaction: Transaction{ID: "t1", Amount: decimal.NewFromInt(-20), Name: "Coffee"},
	}))
	require.True(t, c.ApplyTransactionUpdate(TransactionUpdate{
		AccountID:   "p1",
		Transaction: Transaction{ID: "t2", Amount: decimal.NewFromInt(-5), Name: "Bus"},
	}))
	require.True(t, c.ApplyTransactionUpdate(TransactionUpdate{
		AccountID:   "p1",
		Transaction: Transaction{ID: "t1", Amount: decimal.NewFromInt(-21), Name: "Coffee", Pending: false},
	}))
	assert.False(t, c.ApplyTransactionUpdate(TransactionUpdate{AccountID: "ghost", Transaction: Transaction{ID: "t3"}}))

	recent, err := c.RecentTransactions("user-1", "p1")
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "t1", recent[0].ID)
	assert.True(t, recent[0].Amount.Equal(decimal.NewFromInt(-21)))
	assert.Equal(t, "t2", recent[1].ID)

	snap, _ := c.Cached("user-1")
	p1, _ := snap.Account("p1")
	assert.True(t, p1.Balance.Current.Equal(decimal.NewFromInt(100)), "transaction update must not touch the balance")

	_, err = c.RecentTransactions("user-1", "ghost")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCoordinator_RecentTransactionsBounded(t *testing.T) {
	c := newTestCoordinator(t, staticFetcher(SourceManual), staticFetcher(SourceLinked, linkedAccount("p1", 1)), nil)
	_, err := c.Aggregate(context.Background(), "user-1")
	require.NoError(t, err)

	for i := range maxRecentTransactions + 10 {
		c.ApplyTransactionUpdate(TransactionUpdate{
			AccountID:   "p1",
			Transaction: Transaction{ID: decimal.NewFromInt(int64(i)).String()},
		})
	}

	recent, err := c.RecentTransactions("user-1", "p1")
	require.NoError(t, err)
	assert.Len(t, recent, maxRecentTransactions)
	assert.Equal(t, decimal.NewFromInt(int64(maxRecentTransactions+9)).String(), recent[0].ID)
}

func TestCoordinator_RefreshAllData(t *testing.T) {
	ctx := context.Background()
	providerErr := errors.New("upstream 503")

	tests := []struct {
		name     string
		provider Refresher
		wantErr  bool
		wantSync bool
	}{
		{
			name:     "Success",
			provider: &MockRefresher{},
		},
		{
			name: "Balance refresh fails",
			provider: &MockRefresher{
				RefreshAccountBalancesFunc: func(ctx context.Context, userID string) error { return providerErr },
			},
			wantErr: true,
		},
		{
			name: "Transaction sync fails",
			provider: &MockRefresher{
				SyncTransactionsFunc: func(ctx context.Context, userID string) error { return providerErr },
			},
			wantErr: true,
		},
		{
			name:    "No provider",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(t, staticFetcher(SourceManual), staticFetcher(SourceLinked), tt.provider)

			err := c.RefreshAllData(ctx, "user-1")
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrRefreshFailed)
			if tt.provider != nil {
				assert.ErrorIs(t, err, providerErr)
			}
		})
	}

	c := newTestCoordinator(t, staticFetcher(SourceManual), staticFetcher(SourceLinked), &MockRefresher{})
	assert.ErrorIs(t, c.RefreshAllData(ctx, ""), ErrInvalidUserID)
}

func TestCoordinator_GetAccountSummary(t *testing.T) {
	manual := staticFetcher(SourceManual, Account{ID: "m1", Type: "savings", Source: SourceManual, Balance: Balance{Current: decimal.NewFromInt(5000)}})
	linked := staticFetcher(SourceLinked, Account{ID: "p1", Type: "savings", Source: SourceLinked, Institution: StringPtr("Example Bank"), Balance: Balance{Current: decimal.NewFromInt(10000)}})

	c := newTestCoordinator(t, manual, linked, nil)

	summary, err := c.GetAccountSummary(context.Background(), "user-1")
	require.NoError(t, err)
	assert.True(t, summary.TotalBalance.Equal(decimal.NewFromInt(15000)))
	assert.True(t, summary.TotalDebt.IsZero())
	assert.True(t, summary.NetWorth.Equal(decimal.NewFromInt(15000)))
	assert.Equal(t, 2, summary.AccountsByType["savings"].Count)
	require.Len(t, summary.Institutions, 2)
	assert.Equal(t, ManualEntryInstitution, summary.Institutions[0].Name)
	assert.Equal(t, "Example Bank", summary.Institutions[1].Name)
}

func TestCoordinator_CachedUsers(t *testing.T) {
	ctx := context.Background()
	c := newTestCoordinator(t, staticFetcher(SourceManual), staticFetcher(SourceLinked), nil)

	_, ok := c.Cached("user-b")
	assert.False(t, ok)

	_, _ = c.Aggregate(ctx, "user-b")
	_, _ = c.Aggregate(ctx, "user-a")

	assert.Equal(t, []string{"user-a", "user-b"}, c.CachedUsers())
}

func TestCoordinator_FetchTimeout(t *testing.T) {
	slow := &MockFetcher{FetchFunc: func(ctx context.Context, userID string) FetchResult {
		<-ctx.Done()
		return Failed(SourceLinked, ctx.Err())
	}}

	c := NewCoordinator(staticFetcher(SourceManual, acct("m1", SourceManual, 1)), slow, nil,
		zaptest.NewLogger(t), WithFetchTimeout(20*time.Millisecond))

	snap, err := c.Aggregate(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids(snap.Accounts))
	assert.Contains(t, snap.SourceErrors[SourceLinked], context.DeadlineExceeded.Error())
}
