package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"networth/internal/domain/account"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Print the merged accounts of each user",
	RunE: func(cmd *cobra.Command, args []string) error {
		userIDs, err := parseUserIDs(userIDsFlag)
		if err != nil {
			return err
		}
		ctx, cancel, coord, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer logger.Sync()

		out := make(map[string]any, len(userIDs))
		for _, userID := range userIDs {
			snap, err := coord.Aggregate(ctx, userID)
			if err != nil {
				return fmt.Errorf("user %s: %w", userID, err)
			}
			if snap.Partial() {
				logger.Warn("Partial result", zap.String("user_id", userID), zap.Any("source_errors", snap.SourceErrors))
			}
			out[userID] = snap.Accounts
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Print the net worth summary of each user",
	RunE: func(cmd *cobra.Command, args []string) error {
		userIDs, err := parseUserIDs(userIDsFlag)
		if err != nil {
			return err
		}
		ctx, cancel, coord, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer logger.Sync()

		out := make(map[string]account.Summary, len(userIDs))
		for _, userID := range userIDs {
			summary, err := coord.GetAccountSummary(ctx, userID)
			if err != nil {
				return fmt.Errorf("user %s: %w", userID, err)
			}
			out[userID] = summary
		}
		return printJSON(cmd.OutOrStdout(), out)
	},
}

// refreshResult is the per-user outcome printed by refresh.
type refreshResult struct {
	Accounts int    `json:"accounts"`
	Partial  bool   `json:"partial"`
	Error    string `json:"error,omitempty"`
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Ask the provider to re-pull data, then re-aggregate each user",
	RunE: func(cmd *cobra.Command, args []string) error {
		userIDs, err := parseUserIDs(userIDsFlag)
		if err != nil {
			return err
		}
		if workersFlag < 1 {
			return fmt.Errorf("--workers must be at least 1")
		}
		ctx, cancel, coord, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cancel()
		defer logger.Sync()

		var (
			mu      sync.Mutex
			results = make(map[string]refreshResult, len(userIDs))
			failed  int
		)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workersFlag)
		for _, userID := range userIDs {
			g.Go(func() error {
				res := refreshUser(gctx, coord, userID)
				mu.Lock()
				results[userID] = res
				if res.Error != "" {
					failed++
				}
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		logger.Info("Refresh complete", zap.Int("users", len(userIDs)), zap.Int("failed", failed))
		if err := printJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d refreshes failed", failed, len(userIDs))
		}
		return nil
	},
}

func refreshUser(ctx context.Context, coord *account.Coordinator, userID string) refreshResult {
	var res refreshResult

	refreshErr := coord.RefreshAllData(ctx, userID)
	if errors.Is(refreshErr, account.ErrProviderMissing) {
		refreshErr = nil
	}

	snap, err := coord.Aggregate(ctx, userID)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Accounts = len(snap.Accounts)
	res.Partial = snap.Partial()
	if refreshErr != nil {
		res.Error = refreshErr.Error()
	}
	return res
}
