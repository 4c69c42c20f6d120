package main

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"networth/internal/domain/account"
	"networth/internal/infrastructure/livesync"
	"networth/internal/infrastructure/manualaccounts"
	ofclient "networth/internal/infrastructure/openfinance"
	"networth/internal/infrastructure/postgres"
	"networth/internal/infrastructure/postgres/listener"
	httphandlers "networth/internal/interfaces/http"
	"networth/internal/shared/auth"
	"networth/internal/shared/config"
)

// Dependencies holds all initialized application components.
type Dependencies struct {
	DB *postgres.DB

	// Handlers
	AccountHandler       *httphandlers.AccountHandler
	ManualAccountHandler *httphandlers.ManualAccountHandler
	HealthHandler        *httphandlers.HealthHandler

	// Auth
	JWT *auth.JWT

	// Aggregation and background sync
	Coordinator *account.Coordinator
	Listener    *listener.ManualAccountListener
	LiveSync    *livesync.Channel

	liveSyncExhausted atomic.Bool
}

// NewDependencies initializes all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	// Connect to database
	db, err := postgres.New(ctx, cfg.Database.ConnectionString(), postgres.DefaultPoolConfig())
	if err != nil {
		return nil, err
	}
	logger.Info("Connected to database", zap.String("host", cfg.Database.Host), zap.String("db", cfg.Database.DBName))

	if err := db.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	// Manual accounts live in this database. A remote manual-account API, when
	// configured, is read over HTTP instead.
	manualRepo := postgres.NewManualAccountRepository(db)
	manualService := account.NewManualService(manualRepo)
	var manualSource account.Fetcher = manualService
	if cfg.Manual.URL != "" {
		manualSource = manualaccounts.NewSource(cfg.Manual.URL, cfg.Manual.APIKey, logger.Named("manual"))
	}

	// Linked accounts are optional; without a provider the source reports a failure
	var (
		linked   account.Fetcher
		provider account.Refresher
	)
	if cfg.OpenFinance.BaseURL != "" {
		client := ofclient.NewClient(cfg.OpenFinance.BaseURL, cfg.OpenFinance.APIKey, logger.Named("openfinance"))
		linkedSource := ofclient.NewLinkedSource(client, logger.Named("linked"))
		linked = linkedSource
		provider = linkedSource
	} else {
		logger.Warn("OPENFINANCE_BASE_URL not set, linked accounts disabled")
	}

	coordinator := account.NewCoordinator(manualSource, linked, provider, logger.Named("aggregator"),
		account.WithFetchTimeout(cfg.Aggregation.FetchTimeout),
	)

	deps := &Dependencies{
		DB:          db,
		JWT:         auth.NewJWT(cfg.JWT.Secret),
		Coordinator: coordinator,
		Listener:    listener.NewManualAccountListener(cfg.Database.ConnectionString(), coordinator, logger.Named("listener")),
	}

	if cfg.LiveSync.Enabled() {
		deps.LiveSync = newLiveSync(cfg.LiveSync, coordinator, logger.Named("livesync"))
	}

	deps.AccountHandler = httphandlers.NewAccountHandler(coordinator, logger)
	deps.ManualAccountHandler = httphandlers.NewManualAccountHandler(manualService, cfg.Manual.APIKey, logger)
	deps.HealthHandler = httphandlers.NewHealthHandler(db, deps.liveSyncState)

	return deps, nil
}

// newLiveSync builds the push channel and routes its deltas into the coordinator.
func newLiveSync(cfg config.LiveSyncConfig, coordinator *account.Coordinator, logger *zap.Logger) *livesync.Channel {
	ch := livesync.New(&livesync.WebSocketDialer{URL: cfg.URL}, logger,
		livesync.WithBackoff(cfg.BaseDelay, cfg.MaxAttempts),
	)

	livesync.Subscribe(ch, func(m livesync.AccountUpdateMessage) {
		coordinator.ApplyAccountUpdate(m.AccountUpdate)
	})
	livesync.Subscribe(ch, func(m livesync.TransactionUpdateMessage) {
		coordinator.ApplyTransactionUpdate(m.TransactionUpdate)
	})

	return ch
}

// ConnectLiveSync opens the push channel. A failed first dial keeps retrying
// in the background, so it is only logged. Until ctx ends, a session that
// gives up reconnecting is logged at error level and reported by /health.
func (d *Dependencies) ConnectLiveSync(ctx context.Context, token string, logger *zap.Logger) {
	if d.LiveSync == nil {
		logger.Info("Live sync is disabled")
		return
	}
	err := d.LiveSync.Connect(ctx, token)
	if errors.Is(err, livesync.ErrEmptyToken) || errors.Is(err, livesync.ErrAlreadyConnected) {
		logger.Error("Live sync not started", zap.Error(err))
		return
	}
	if err != nil {
		logger.Warn("Live sync initial connect failed", zap.Error(err))
	}

	exhausted := d.LiveSync.Exhausted()
	go func() {
		select {
		case <-exhausted:
			d.liveSyncExhausted.Store(true)
			logger.Error("Live sync stopped reconnecting, live updates are off until restart",
				zap.Error(livesync.ErrReconnectExhausted))
		case <-ctx.Done():
		}
	}()
}

func (d *Dependencies) liveSyncState() string {
	if d.LiveSync == nil {
		return "disabled"
	}
	if d.liveSyncExhausted.Load() {
		return "exhausted"
	}
	return d.LiveSync.State().String()
}

// Close releases all resources held by dependencies.
func (d *Dependencies) Close() {
	if d.DB != nil {
		d.DB.Close()
	}
}
