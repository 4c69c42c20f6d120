package account

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	accountTracer           = otel.Tracer("networth/account")
	accountMeter            = otel.Meter("networth/account")
	aggregateDuration, _    = accountMeter.Float64Histogram("account.aggregate.duration", metric.WithDescription("Account aggregation duration in seconds"), metric.WithUnit("s"))
	sourceFailures, _       = accountMeter.Int64Counter("account.source.failures", metric.WithDescription("Source fetches collapsed to an empty sequence"))
	staleRefreshDropped, _  = accountMeter.Int64Counter("account.aggregate.stale_dropped", metric.WithDescription("Aggregations discarded because a newer snapshot was already committed"))
	liveUpdatesProcessed, _ = accountMeter.Int64Counter("account.live.updates", metric.WithDescription("Live deltas by kind and outcome"))
)

// Snapshot is the last committed aggregated view of one user's accounts.
// Snapshots are immutable once committed; callers must not modify them.
type Snapshot struct {
	UserID       string                   `json:"userId"`
	Accounts     []Account                `json:"accounts"`
	Transactions map[string][]Transaction `json:"transactions"`
	SourceErrors map[Source]string        `json:"sourceErrors,omitempty"`
	Seq          uint64                   `json:"seq"`
	RefreshedAt  time.Time                `json:"refreshedAt"`
}

// Account looks up an account by ID.
func (s *Snapshot) Account(id string) (Account, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.Accounts[i], true
	}
	return Account{}, false
}

// Partial reports whether any source failed while building the snapshot.
func (s *Snapshot) Partial() bool {
	return len(s.SourceErrors) > 0
}

func (s *Snapshot) indexOf(id string) int {
	return slices.IndexFunc(s.Accounts, func(a Account) bool { return a.ID == id })
}

// pushMark remembers a live balance so that a pull issued before the push
// cannot overwrite it when it commits later.
type pushMark struct {
	update    AccountUpdate
	issuedSeq uint64
}

// userCache holds one user's snapshot. Writers hold mu; readers only load
// the snapshot pointer.
type userCache struct {
	issued   atomic.Uint64
	mu       sync.Mutex
	snapshot atomic.Pointer[Snapshot]
	marks    map[string]pushMark
}

// Coordinator fans out to the account sources, merges their results and
// caches the outcome per user. One Coordinator is built per process and
// shared by every caller.
type Coordinator struct {
	manual       Fetcher
	linked       Fetcher
	provider     Refresher
	logger       *zap.Logger
	fetchTimeout time.Duration
	now          func() time.Time

	users  *xsync.Map[string, *userCache]
	owners *xsync.Map[string, string] // account ID -> user ID
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithFetchTimeout bounds each aggregation's source fetches.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.fetchTimeout = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator over the manual and linked sources.
// provider may be nil, in which case RefreshAllData always fails.
func NewCoordinator(manual, linked Fetcher, provider Refresher, logger *zap.Logger, opts ...Option) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Coordinator{
		manual:   manual,
		linked:   linked,
		provider: provider,
		logger:   logger,
		now:      time.Now,
		users:    xsync.NewMap[string, *userCache](),
		owners:   xsync.NewMap[string, string](),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetAllAccounts fetches both sources concurrently and returns the merged
// accounts. A failing source contributes no accounts; the only error is an
// invalid user ID.
func (c *Coordinator) GetAllAccounts(ctx context.Context, userID string) ([]Account, error) {
	snap, err := c.Aggregate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return slices.Clone(snap.Accounts), nil
}

// GetAccountSummary aggregates the user's accounts and summarizes them.
func (c *Coordinator) GetAccountSummary(ctx context.Context, userID string) (Summary, error) {
	accounts, err := c.GetAllAccounts(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(accounts), nil
}

// Aggregate runs one refresh of both sources and commits it to the cache.
// If a newer refresh has already been committed, the newer snapshot is
// returned and this one is discarded.
func (c *Coordinator) Aggregate(ctx context.Context, userID string) (*Snapshot, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, err
	}

	ctx, span := accountTracer.Start(ctx, "account.aggregate",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	start := time.Now()
	uc := c.cacheFor(userID)
	seq := uc.issued.Add(1)

	manual, linked := c.fetchAll(ctx, userID)

	sourceErrors := make(map[Source]string)
	for _, res := range []FetchResult{manual, linked} {
		if res.OK() {
			continue
		}
		sourceErrors[res.Source] = res.Err.Error()
		sourceFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("source", string(res.Source))))
		span.AddEvent("source.failed", trace.WithAttributes(
			attribute.String("source", string(res.Source)),
			attribute.String("error", res.Err.Error()),
		))
		c.logger.Warn("Account source failed, continuing without it",
			zap.String("user_id", userID),
			zap.String("source", string(res.Source)),
			zap.Error(res.Err))
	}
	if len(sourceErrors) == 2 {
		span.SetStatus(codes.Error, "all account sources failed")
	}

	merged := MergeAll(manual.AccountsOrEmpty(), linked.AccountsOrEmpty())
	snap := c.commit(ctx, userID, uc, seq, merged, sourceErrors)

	span.SetAttributes(
		attribute.Int("accounts.count", len(snap.Accounts)),
		attribute.Int64("refresh.seq", int64(seq)),
	)
	aggregateDuration.Record(ctx, time.Since(start).Seconds())

	return snap, nil
}

// RefreshAllData asks the provider to re-pull balances and transactions.
// Unlike routine fetches, failures are returned to the caller.
func (c *Coordinator) RefreshAllData(ctx context.Context, userID string) error {
	if err := ValidateUserID(userID); err != nil {
		return err
	}
	if c.provider == nil {
		return fmt.Errorf("%w: %w", ErrRefreshFailed, ErrProviderMissing)
	}

	ctx, span := accountTracer.Start(ctx, "account.refresh_all",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if err := c.provider.RefreshAccountBalances(ctx, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: refresh balances: %w", ErrRefreshFailed, err)
	}
	if err := c.provider.SyncTransactions(ctx, userID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: sync transactions: %w", ErrRefreshFailed, err)
	}

	c.logger.Info("Provider data refreshed", zap.String("user_id", userID))
	return nil
}

// Cached returns the last committed snapshot for userID without fetching.
func (c *Coordinator) Cached(userID string) (*Snapshot, bool) {
	uc, ok := c.users.Load(userID)
	if !ok {
		return nil, false
	}
	snap := uc.snapshot.Load()
	return snap, snap != nil
}

// CachedUsers lists the users that have a committed snapshot.
func (c *Coordinator) CachedUsers() []string {
	var users []string
	c.users.Range(func(userID string, uc *userCache) bool {
		if uc.snapshot.Load() != nil {
			users = append(users, userID)
		}
		return true
	})
	slices.Sort(users)
	return users
}

// ApplyAccountUpdate patches the balance of a cached account.
// Updates for accounts that are not cached are dropped.
func (c *Coordinator) ApplyAccountUpdate(update AccountUpdate) bool {
	applied := c.patch(update.AccountID, func(uc *userCache, snap *Snapshot, idx int) *Snapshot {
		accounts := slices.Clone(snap.Accounts)
		accounts[idx] = update.applyTo(accounts[idx])
		uc.marks[update.AccountID] = pushMark{update: update, issuedSeq: uc.issued.Load()}

		next := *snap
		next.Accounts = accounts
		return &next
	})
	c.recordLive("account_update", update.AccountID, applied)
	return applied
}

// ApplyTransactionUpdate records a live transaction against a cached account.
// Account fields are not touched; unknown accounts are dropped.
func (c *Coordinator) ApplyTransactionUpdate(update TransactionUpdate) bool {
	applied := c.patch(update.AccountID, func(_ *userCache, snap *Snapshot, _ int) *Snapshot {
		transactions := make(map[string][]Transaction, len(snap.Transactions)+1)
		for id, list := range snap.Transactions {
			transactions[id] = list
		}
		transactions[update.AccountID] = prependTransaction(snap.Transactions[update.AccountID], update.Transaction)

		next := *snap
		next.Transactions = transactions
		return &next
	})
	c.recordLive("transaction_update", update.AccountID, applied)
	return applied
}

// RecentTransactions returns the live transactions seen for an account.
func (c *Coordinator) RecentTransactions(userID, accountID string) ([]Transaction, error) {
	snap, ok := c.Cached(userID)
	if !ok {
		return nil, ErrAccountNotFound
	}
	if _, ok := snap.Account(accountID); !ok {
		return nil, ErrAccountNotFound
	}
	return slices.Clone(snap.Transactions[accountID]), nil
}

func (c *Coordinator) cacheFor(userID string) *userCache {
	uc, _ := c.users.LoadOrStore(userID, &userCache{marks: make(map[string]pushMark)})
	return uc
}

// fetchAll runs both fetches concurrently and waits for both.
func (c *Coordinator) fetchAll(ctx context.Context, userID string) (manual, linked FetchResult) {
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.fetchTimeout)
		defer cancel()
	}

	var g errgroup.Group
	g.Go(func() error {
		manual = c.fetch(ctx, c.manual, SourceManual, userID)
		return nil
	})
	g.Go(func() error {
		linked = c.fetch(ctx, c.linked, SourceLinked, userID)
		return nil
	})
	_ = g.Wait()

	return manual, linked
}

func (c *Coordinator) fetch(ctx context.Context, f Fetcher, source Source, userID string) (res FetchResult) {
	if f == nil {
		return Failed(source, fmt.Errorf("source not configured"))
	}
	defer func() {
		if rec := recover(); rec != nil {
			res = Failed(source, fmt.Errorf("panic: %v", rec))
		}
	}()
	res = f.Fetch(ctx, userID)
	res.Source = source
	return res
}

// commit stores merged as the user's snapshot unless a newer one exists.
func (c *Coordinator) commit(ctx context.Context, userID string, uc *userCache, seq uint64, merged []Account, sourceErrors map[Source]string) *Snapshot {
	uc.mu.Lock()
	defer uc.mu.Unlock()

	current := uc.snapshot.Load()
	if current != nil && seq < current.Seq {
		staleRefreshDropped.Add(ctx, 1)
		c.logger.Debug("Discarding stale aggregation",
			zap.String("user_id", userID),
			zap.Uint64("seq", seq),
			zap.Uint64("committed_seq", current.Seq))
		return current
	}

	// Pushes applied after this pull was issued win over the pulled balance
	for i, acc := range merged {
		if mark, ok := uc.marks[acc.ID]; ok && mark.issuedSeq >= seq {
			merged[i] = mark.update.applyTo(acc)
		}
	}
	for id, mark := range uc.marks {
		if mark.issuedSeq < seq {
			delete(uc.marks, id)
		}
	}

	present := make(map[string]struct{}, len(merged))
	for _, acc := range merged {
		present[acc.ID] = struct{}{}
	}

	transactions := make(map[string][]Transaction)
	if current != nil {
		for id, list := range current.Transactions {
			if _, ok := present[id]; ok {
				transactions[id] = list
			}
		}
		for _, acc := range current.Accounts {
			if _, ok := present[acc.ID]; !ok {
				c.owners.Compute(acc.ID, func(owner string, loaded bool) (string, xsync.ComputeOp) {
					if loaded && owner == userID {
						return owner, xsync.DeleteOp
					}
					return owner, xsync.CancelOp
				})
			}
		}
	}
	for id := range present {
		c.owners.Store(id, userID)
	}

	if len(sourceErrors) == 0 {
		sourceErrors = nil
	}
	snap := &Snapshot{
		UserID:       userID,
		Accounts:     merged,
		Transactions: transactions,
		SourceErrors: sourceErrors,
		Seq:          seq,
		RefreshedAt:  c.now(),
	}
	uc.snapshot.Store(snap)

	return snap
}

// patch applies fn to the snapshot holding accountID under the writer lock.
func (c *Coordinator) patch(accountID string, fn func(uc *userCache, snap *Snapshot, idx int) *Snapshot) bool {
	userID, ok := c.owners.Load(accountID)
	if !ok {
		return false
	}
	uc, ok := c.users.Load(userID)
	if !ok {
		return false
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	snap := uc.snapshot.Load()
	if snap == nil {
		return false
	}
	idx := snap.indexOf(accountID)
	if idx < 0 {
		return false
	}

	uc.snapshot.Store(fn(uc, snap, idx))
	return true
}

func (c *Coordinator) recordLive(kind, accountID string, applied bool) {
	outcome := "applied"
	if !applied {
		outcome = "dropped"
		c.logger.Debug("Dropping live update for unknown account",
			zap.String("kind", kind),
			zap.String("account_id", accountID))
	}
	liveUpdatesProcessed.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
