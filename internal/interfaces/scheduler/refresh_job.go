package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"networth/internal/domain/account"
)

// AccountRefresher is the part of the coordinator a refresh job drives.
type AccountRefresher interface {
	RefreshAllData(ctx context.Context, userID string) error
	Aggregate(ctx context.Context, userID string) (*account.Snapshot, error)
}

// CachedRefresher can also list the users worth refreshing.
type CachedRefresher interface {
	AccountRefresher
	CachedUsers() []string
}

// RefreshJob asks the provider to re-pull a user's data and then rebuilds
// the user's cached snapshot.
type RefreshJob struct {
	userID    string
	refresher AccountRefresher
	logger    *zap.Logger
}

// NewRefreshJob creates a refresh job for a user
func NewRefreshJob(userID string, refresher AccountRefresher, logger *zap.Logger) *RefreshJob {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RefreshJob{userID: userID, refresher: refresher, logger: logger}
}

// Execute runs the provider refresh, then aggregation. Aggregation runs even
// when the provider refresh fails, since manual accounts may still have
// changed; the refresh error is returned afterwards. A missing provider is
// not an error.
func (j *RefreshJob) Execute(ctx context.Context) error {
	refreshErr := j.refresher.RefreshAllData(ctx, j.userID)
	if refreshErr != nil {
		if errors.Is(refreshErr, account.ErrProviderMissing) {
			refreshErr = nil
		} else {
			j.logger.Warn("Provider refresh failed, aggregating cached provider data",
				zap.String("user_id", j.userID), zap.Error(refreshErr))
		}
	}

	snap, err := j.refresher.Aggregate(ctx, j.userID)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}

	j.logger.Debug("Accounts refreshed",
		zap.String("user_id", j.userID),
		zap.Int("accounts", len(snap.Accounts)),
		zap.Bool("partial", snap.Partial()))

	return refreshErr
}

// UserID returns the user ID associated with this job
func (j *RefreshJob) UserID() string {
	return j.userID
}

// Description returns a human-readable description of the job
func (j *RefreshJob) Description() string {
	return "Account refresh"
}

// RefreshJobProvider returns one RefreshJob per user with a cached snapshot.
func RefreshJobProvider(refresher CachedRefresher, logger *zap.Logger) JobProvider {
	return func(ctx context.Context) ([]Job, error) {
		users := refresher.CachedUsers()
		jobs := make([]Job, 0, len(users))
		for _, userID := range users {
			jobs = append(jobs, NewRefreshJob(userID, refresher, logger))
		}
		return jobs, nil
	}
}
