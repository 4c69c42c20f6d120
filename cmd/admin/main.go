package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"networth/internal/domain/account"
	"networth/internal/infrastructure/manualaccounts"
	ofclient "networth/internal/infrastructure/openfinance"
	"networth/internal/shared/config"
	"networth/internal/shared/logging"
)

var (
	userIDsFlag string
	timeoutFlag time.Duration
	workersFlag int
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "admin",
	Short: "Networth Admin CLI - management commands for the networth API",
	Long: `Management commands that run the account aggregation pipeline outside the API server.

Examples:
  # Print the merged accounts of a user
  admin accounts --user-id=user-1

  # Print the net worth summary of several users
  admin summary --user-id=user-1,user-2

  # Ask the provider to re-pull data, then re-aggregate
  admin refresh --user-id=user-1,user-2 --workers=4 --timeout=5m`,
	SilenceUsage: true,
}

func init() {
	// Amounts print as JSON numbers, matching the API
	decimal.MarshalJSONWithoutQuotes = true

	rootCmd.PersistentFlags().StringVar(&userIDsFlag, "user-id", "", "User ID(s) to process (comma-separated for multiple)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 5*time.Minute, "Timeout for the operation (e.g., 30s, 5m)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Log at debug level")
	refreshCmd.Flags().IntVar(&workersFlag, "workers", 4, "Number of concurrent refreshes")

	rootCmd.AddCommand(accountsCmd, summaryCmd, refreshCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// parseUserIDs splits a comma-separated list, dropping blanks and duplicates.
func parseUserIDs(raw string) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	for part := range strings.SplitSeq(raw, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("--user-id is required")
	}
	return ids, nil
}

// newCoordinator builds the same aggregation pipeline the API server uses.
func newCoordinator(cfg *config.Config, logger *zap.Logger) *account.Coordinator {
	manualSource := manualaccounts.NewSource(cfg.ManualURL(), cfg.Manual.APIKey, logger.Named("manual"))

	var (
		linked   account.Fetcher
		provider account.Refresher
	)
	if cfg.OpenFinance.BaseURL != "" {
		client := ofclient.NewClient(cfg.OpenFinance.BaseURL, cfg.OpenFinance.APIKey, logger.Named("openfinance"))
		linkedSource := ofclient.NewLinkedSource(client, logger.Named("linked"))
		linked = linkedSource
		provider = linkedSource
	}

	return account.NewCoordinator(manualSource, linked, provider, logger.Named("aggregator"),
		account.WithFetchTimeout(cfg.Aggregation.FetchTimeout),
	)
}

// setup loads configuration and returns the pipeline with a bounded context.
func setup(cmd *cobra.Command) (context.Context, context.CancelFunc, *account.Coordinator, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if verboseFlag {
		level = "debug"
	}
	// Logs go to stderr so stdout stays machine-readable
	logger, err := logging.New(level, "console")
	if err != nil {
		return nil, nil, nil, nil, err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeoutFlag)
	return ctx, cancel, newCoordinator(cfg, logger), logger, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
