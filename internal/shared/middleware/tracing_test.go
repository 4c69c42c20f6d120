package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestTracing_PropagatesSpanContext(t *testing.T) {
	var sawCtx context.Context
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawCtx = r.Context()
		w.WriteHeader(http.StatusAccepted)
	})

	handler := Telemetry(Tracing(next))

	req := httptest.NewRequest(http.MethodGet, "/api/accounts", nil)
	rr := httptest.NewRecorder()

	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.NotNil(t, trace.SpanFromContext(sawCtx))
}

func TestTracing_DefaultStatus(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	rr := httptest.NewRecorder()
	Tracing(next).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", rr.Body.String())
}
