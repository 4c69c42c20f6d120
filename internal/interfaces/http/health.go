package http

import (
	"context"
	"net/http"
	"time"
)

const healthTimeout = 2 * time.Second

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database,omitempty"`
	LiveSync string `json:"liveSync,omitempty"`
}

// HealthHandler reports process and dependency health.
type HealthHandler struct {
	db       HealthChecker
	liveSync func() string
}

// NewHealthHandler creates a health handler. Both arguments may be nil.
func NewHealthHandler(db HealthChecker, liveSync func() string) *HealthHandler {
	return &HealthHandler{db: db, liveSync: liveSync}
}

// HandleHealth returns 200 when the database answers and 503 otherwise.
// The live sync state is informational only.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	status := http.StatusOK

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		resp.Database = "ok"
		if err := h.db.Health(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = "unreachable"
			status = http.StatusServiceUnavailable
		}
	}
	if h.liveSync != nil {
		resp.LiveSync = h.liveSync()
	}

	writeJSON(w, status, resp)
}
