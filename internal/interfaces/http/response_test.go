package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"networth/internal/domain/account"
	"networth/internal/infrastructure/manualaccounts"
)

func TestAmountsAreJSONNumbers(t *testing.T) {
	t.Run("Summary", func(t *testing.T) {
		manual := fetcherOf(account.SourceManual, testAccount("m1", account.SourceManual, "savings", 5000))
		linked := fetcherOf(account.SourceLinked, testAccount("p1", account.SourceLinked, "savings", 10000))
		handler, _ := newTestHandler(t, manual, linked, nil)

		rr := httptest.NewRecorder()
		handler.HandleSummary(rr, authedRequest(http.MethodGet, "/api/accounts/summary", "user-1"))
		require.Equal(t, http.StatusOK, rr.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, float64(15000), body["totalBalance"])
		assert.Equal(t, float64(0), body["totalDebt"])
		assert.Equal(t, float64(15000), body["netWorth"])
	})

	t.Run("Accounts", func(t *testing.T) {
		manual := fetcherOf(account.SourceManual, testAccount("m1", account.SourceManual, "savings", 5000))
		handler, _ := newTestHandler(t, manual, fetcherOf(account.SourceLinked), nil)

		rr := httptest.NewRecorder()
		handler.HandleListAccounts(rr, authedRequest(http.MethodGet, "/api/accounts", "user-1"))
		require.Equal(t, http.StatusOK, rr.Code)

		var body []map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Len(t, body, 1)
		balance, ok := body[0]["balance"].(map[string]any)
		require.True(t, ok, "balance = %v", body[0]["balance"])
		assert.Equal(t, float64(5000), balance["current"])
	})

	t.Run("Manual Feed", func(t *testing.T) {
		repo := &MockManualRepo{
			ListByUserIDFunc: func(ctx context.Context, userID string) ([]*account.ManualAccount, error) {
				return []*account.ManualAccount{storedManual("m1", userID)}, nil
			},
		}
		handler := NewManualAccountHandler(account.NewManualService(repo), "key", zaptest.NewLogger(t))

		req := httptest.NewRequest(http.MethodGet, "/api/accounts/manual/user-1", nil)
		req.SetPathValue("userId", "user-1")
		req.Header.Set(manualaccounts.ServiceKeyHeader, "key")
		rr := httptest.NewRecorder()
		handler.HandleListForUser(rr, req)
		require.Equal(t, http.StatusOK, rr.Code)

		var body []map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		require.Len(t, body, 1)
		assert.Equal(t, float64(250000), body[0]["balance"])
	})
}
