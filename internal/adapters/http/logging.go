package http

import (
	"context"
	"log/slog"

	"github.com/go-chi/chi/v5"
)

func httpLogger() *slog.Logger {
	return slog.Default().With("module", "http", "layer", "adapter")
}

// requestFields describes who called which route. Order, tab, payment and user ids in
// the path are included so a failure can be joined with the reconciliation logs.
func requestFields(ctx context.Context) []any {
	fields := []any{"request_id", requestIDFromContext(ctx)}
	if claims, ok := claimsFromContext(ctx); ok {
		fields = append(fields, "actor_id", claims.SubjectID, "actor_role", claims.Role)
	}
	rctx := chi.RouteContext(ctx)
	if rctx == nil {
		return fields
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		fields = append(fields, "route", pattern)
	}
	for i, key := range rctx.URLParams.Keys {
		switch key {
		case "id", "reference", "user_id":
			fields = append(fields, "path_"+key, rctx.URLParams.Values[i])
		}
	}
	return fields
}

func logHTTPOperationError(ctx context.Context, operation string, statusCode int, code, message string, err error) {
	fields := append([]any{
		"operation", operation,
		"outcome", "failure",
		"status_code", statusCode,
		"error_code", code,
		"message", message,
	}, requestFields(ctx)...)
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	switch {
	case statusCode >= 500:
		httpLogger().ErrorContext(ctx, "http operation failed", fields...)
	case retryableStatus(statusCode, code):
		httpLogger().InfoContext(ctx, "http operation deferred", fields...)
	default:
		httpLogger().WarnContext(ctx, "http operation failed", fields...)
	}
}
