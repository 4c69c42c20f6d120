package http

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
)

// Amounts are written as JSON numbers, not quoted strings.
func init() {
	decimal.MarshalJSONWithoutQuotes = true
}

// ErrorResponse is the JSON body of failed requests that carry a message
// for the user.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
