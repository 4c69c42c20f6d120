package main

import (
	"net/http"

	"go.uber.org/zap"

	"networth/internal/shared/config"
	"networth/internal/shared/middleware"
)

// SetupRoutes configures all HTTP routes and returns the final handler with middleware.
func SetupRoutes(deps *Dependencies, cfg *config.Config, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", deps.HealthHandler.HandleHealth)

	// Protected routes
	authMiddleware := middleware.Auth(deps.JWT)
	protect := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}

	// The manual feed (guarded by X-Service-Key, or by the owner's JWT when no
	// key is configured) and the per-account transactions route overlap as mux
	// patterns, so one route serves both.
	var manualFeed http.Handler = http.HandlerFunc(deps.ManualAccountHandler.HandleListForUser)
	if cfg.Manual.APIKey == "" {
		manualFeed = protect(deps.ManualAccountHandler.HandleListForUser)
	}
	mux.Handle("GET /api/accounts/{first}/{second}", accountSubroutes(
		manualFeed,
		protect(deps.AccountHandler.HandleAccountTransactions),
	))

	mux.Handle("/api/accounts", protect(deps.AccountHandler.HandleListAccounts))
	mux.Handle("/api/accounts/summary", protect(deps.AccountHandler.HandleSummary))
	mux.Handle("/api/accounts/cached", protect(deps.AccountHandler.HandleCached))
	mux.Handle("/api/accounts/refresh", protect(deps.AccountHandler.HandleRefresh))
	mux.Handle("/api/manual-accounts", protect(deps.ManualAccountHandler.HandleManualAccounts))
	mux.Handle("/api/manual-accounts/{id}", protect(deps.ManualAccountHandler.HandleManualAccountByID))

	// Apply global middleware (outermost first: telemetry, logging, CORS, tracing)
	handler := middleware.Telemetry(
		middleware.Logging(logger)(
			middleware.CORS(cfg.Server.AllowedHosts)(
				middleware.Tracing(mux),
			),
		),
	)

	// Apply security middleware when TLS is enabled
	if cfg.TLS.Enabled {
		handler = middleware.HSTS(middleware.SecureCookies(handler))
		logger.Info("TLS security middleware enabled (HSTS + SecureCookies)")
	}

	return handler
}

// accountSubroutes dispatches /api/accounts/manual/{userId} and
// /api/accounts/{id}/transactions.
func accountSubroutes(manualFeed, transactions http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		first, second := r.PathValue("first"), r.PathValue("second")
		switch {
		case first == "manual":
			r.SetPathValue("userId", second)
			manualFeed.ServeHTTP(w, r)
		case second == "transactions":
			r.SetPathValue("id", first)
			transactions.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}
