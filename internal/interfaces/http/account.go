package http

import (
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"networth/internal/domain/account"
	"networth/internal/shared/middleware"
)

// AccountHandler serves the aggregated account view.
type AccountHandler struct {
	coordinator *account.Coordinator
	logger      *zap.Logger
}

// NewAccountHandler creates a new account handler
func NewAccountHandler(coordinator *account.Coordinator, logger *zap.Logger) *AccountHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountHandler{coordinator: coordinator, logger: logger}
}

// CachedAccountsResponse is the last committed view of a user's accounts.
type CachedAccountsResponse struct {
	Accounts     []account.Account         `json:"accounts"`
	SourceErrors map[account.Source]string `json:"sourceErrors,omitempty"`
	Partial      bool                      `json:"partial"`
	RefreshedAt  time.Time                 `json:"refreshedAt"`
}

// TransactionsResponse lists the live transactions seen for an account.
type TransactionsResponse struct {
	AccountID    string                `json:"accountId"`
	Transactions []account.Transaction `json:"transactions"`
}

// HandleListAccounts returns the merged accounts for the authenticated user
func (h *AccountHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accounts, err := h.coordinator.GetAllAccounts(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, userID, "list accounts", err)
		return
	}

	writeJSON(w, http.StatusOK, nonNil(accounts))
}

// HandleSummary returns net worth and rollups for the authenticated user
func (h *AccountHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	summary, err := h.coordinator.GetAccountSummary(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, userID, "summarize accounts", err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// HandleCached returns the last committed snapshot without fetching. A user
// with no snapshot yet is aggregated once.
func (h *AccountHandler) HandleCached(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	snap, ok := h.coordinator.Cached(userID)
	if !ok {
		var err error
		snap, err = h.coordinator.Aggregate(r.Context(), userID)
		if err != nil {
			h.writeDomainError(w, userID, "aggregate accounts", err)
			return
		}
	}

	writeJSON(w, http.StatusOK, CachedAccountsResponse{
		Accounts:     nonNil(snap.Accounts),
		SourceErrors: snap.SourceErrors,
		Partial:      snap.Partial(),
		RefreshedAt:  snap.RefreshedAt,
	})
}

// HandleRefresh asks the provider to re-pull upstream data, then returns the
// freshly merged accounts. Provider failures are reported with 502.
func (h *AccountHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.coordinator.RefreshAllData(r.Context(), userID); err != nil {
		h.writeDomainError(w, userID, "refresh accounts", err)
		return
	}

	accounts, err := h.coordinator.GetAllAccounts(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, userID, "list accounts", err)
		return
	}

	writeJSON(w, http.StatusOK, nonNil(accounts))
}

// HandleAccountTransactions returns the live transactions of one account
func (h *AccountHandler) HandleAccountTransactions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	accountID := r.PathValue("id")
	if accountID == "" {
		http.Error(w, "Account ID is required", http.StatusBadRequest)
		return
	}

	if _, cached := h.coordinator.Cached(userID); !cached {
		if _, err := h.coordinator.Aggregate(r.Context(), userID); err != nil {
			h.writeDomainError(w, userID, "aggregate accounts", err)
			return
		}
	}

	transactions, err := h.coordinator.RecentTransactions(userID, accountID)
	if err != nil {
		h.writeDomainError(w, userID, "list transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, TransactionsResponse{
		AccountID:    accountID,
		Transactions: nonNil(transactions),
	})
}

// writeDomainError maps account errors to HTTP statuses.
func (h *AccountHandler) writeDomainError(w http.ResponseWriter, userID, op string, err error) {
	switch {
	case errors.Is(err, account.ErrInvalidUserID):
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	case errors.Is(err, account.ErrAccountNotFound):
		http.Error(w, "Account not found", http.StatusNotFound)
	case errors.Is(err, account.ErrRefreshFailed):
		h.logger.Warn("Account refresh failed", zap.String("user_id", userID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "Failed to refresh account data. Please try again later."})
	default:
		h.logger.Error("Account request failed", zap.String("op", op), zap.String("user_id", userID), zap.Error(err))
		http.Error(w, "Failed to "+op, http.StatusInternalServerError)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
