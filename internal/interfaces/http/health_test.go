package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

func TestHandleHealth(t *testing.T) {
	tests := []struct {
		name           string
		db             HealthChecker
		liveSync       func() string
		expectedStatus int
		expected       HealthResponse
	}{
		{
			name:           "No Dependencies",
			expectedStatus: http.StatusOK,
			expected:       HealthResponse{Status: "ok"},
		},
		{
			name:           "Database Up",
			db:             healthFunc(func(ctx context.Context) error { return nil }),
			liveSync:       func() string { return "connected" },
			expectedStatus: http.StatusOK,
			expected:       HealthResponse{Status: "ok", Database: "ok", LiveSync: "connected"},
		},
		{
			name:           "Database Down",
			db:             healthFunc(func(ctx context.Context) error { return errors.New("dial tcp: refused") }),
			expectedStatus: http.StatusServiceUnavailable,
			expected:       HealthResponse{Status: "degraded", Database: "unreachable"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(tt.db, tt.liveSync)

			rr := httptest.NewRecorder()
			handler.HandleHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, tt.expectedStatus, rr.Code)
			var got HealthResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			assert.Equal(t, tt.expected, got)
		})
	}
}
