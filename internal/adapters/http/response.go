package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/contracts"
)

// errorBody is the failure envelope. request_id matches the X-Request-Id header and the log line.
type errorBody struct {
	Status    string `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type successBody struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type pageBody struct {
	Items      any                  `json:"items"`
	Pagination contracts.Pagination `json:"pagination"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, successBody{Status: "success", Data: data})
}

// writePage wraps one page of a ledger or order listing with its window and total.
func writePage(w http.ResponseWriter, items any, page pageParams, total int) {
	writeSuccess(w, http.StatusOK, pageBody{
		Items:      items,
		Pagination: contracts.Pagination{Limit: page.Limit, Offset: page.Offset, Total: total},
	})
}

func writeHealth(w http.ResponseWriter, state string) {
	writeJSON(w, http.StatusOK, successBody{Status: "success", Message: state})
}

// retryableStatus marks failures a client may repeat unchanged with the same Idempotency-Key.
func retryableStatus(statusCode int, code string) bool {
	switch statusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return code == "CONFLICT"
}

func writeError(ctx context.Context, w http.ResponseWriter, statusCode int, code, message string) {
	retryable := retryableStatus(statusCode, code)
	if retryable && statusCode != http.StatusConflict {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, statusCode, errorBody{
		Status:    "error",
		Code:      code,
		Message:   message,
		RequestID: requestIDFromContext(ctx),
		Retryable: retryable,
	})
}
