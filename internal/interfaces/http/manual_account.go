package http

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"networth/internal/domain/account"
	"networth/internal/infrastructure/manualaccounts"
	"networth/internal/shared/middleware"
)

// ManualAccountHandler serves the manual-account store: the service-to-service
// listing read by the aggregation adapter and the user-facing CRUD routes.
type ManualAccountHandler struct {
	service    *account.ManualService
	serviceKey string
	logger     *zap.Logger
}

// NewManualAccountHandler creates a manual account handler. When serviceKey
// is non-empty the listing route requires it in the X-Service-Key header;
// otherwise it requires an authenticated caller reading their own accounts.
func NewManualAccountHandler(service *account.ManualService, serviceKey string, logger *zap.Logger) *ManualAccountHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ManualAccountHandler{service: service, serviceKey: serviceKey, logger: logger}
}

// HandleListForUser returns GET /api/accounts/manual/{userId}
func (h *ManualAccountHandler) HandleListForUser(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	userID := r.PathValue("userId")

	if h.serviceKey != "" {
		got := r.Header.Get(manualaccounts.ServiceKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.serviceKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	} else {
		// Without a service key only the owner may read the feed
		caller, ok := middleware.UserIDFromContext(r.Context())
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		if caller != userID {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	manual, err := h.service.List(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, "list manual accounts", err)
		return
	}

	records := make([]manualaccounts.Record, 0, len(manual))
	for _, m := range manual {
		records = append(records, manualaccounts.RecordFromManual(m))
	}

	writeJSON(w, http.StatusOK, records)
}

// HandleManualAccounts routes collection requests for the authenticated user
func (h *ManualAccountHandler) HandleManualAccounts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleCreate(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleManualAccountByID routes requests for a specific manual account
func (h *ManualAccountHandler) HandleManualAccountByID(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPut:
		h.handleUpdate(w, r)
	case http.MethodDelete:
		h.handleDelete(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ManualAccountHandler) handleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	manual, err := h.service.List(r.Context(), userID)
	if err != nil {
		h.writeDomainError(w, "list manual accounts", err)
		return
	}

	writeJSON(w, http.StatusOK, nonNil(manual))
}

func (h *ManualAccountHandler) handleCreate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var params account.ManualParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	created, err := h.service.Create(r.Context(), account.CreateManualParams{UserID: userID, ManualParams: params})
	if err != nil {
		h.writeDomainError(w, "create manual account", err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *ManualAccountHandler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	var params account.ManualParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	updated, err := h.service.Update(r.Context(), r.PathValue("id"), userID, params)
	if err != nil {
		h.writeDomainError(w, "update manual account", err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

func (h *ManualAccountHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	if err := h.service.Delete(r.Context(), r.PathValue("id"), userID); err != nil {
		h.writeDomainError(w, "delete manual account", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *ManualAccountHandler) writeDomainError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, account.ErrInvalidUserID):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, account.ErrInvalidInput), errors.Is(err, account.ErrInvalidCurrency):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	case errors.Is(err, account.ErrAccountNotFound):
		http.Error(w, "Account not found", http.StatusNotFound)
	default:
		h.logger.Error("Manual account request failed", zap.String("op", op), zap.Error(err))
		http.Error(w, "Failed to "+op, http.StatusInternalServerError)
	}
}
