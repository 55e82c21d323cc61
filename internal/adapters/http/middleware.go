package http

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/security"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/application"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

type ctxKey string

const (
	ctxKeyRequestID ctxKey = "request_id"
	ctxKeyClaims    ctxKey = "auth_claims"
)

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				httpLogger().ErrorContext(r.Context(), "panic recovered",
					"operation", "http_panic_recovery",
					"outcome", "failure",
					"request_id", requestIDFromContext(r.Context()),
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
				)
				writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func (r *statusRecorder) Write(payload []byte) (int, error) {
	if r.statusCode == 0 {
		r.statusCode = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(payload)
	r.bytes += n
	return n, err
}

// Hijack lets the websocket upgrade pass through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(recorder, r)

		statusCode := recorder.statusCode
		if statusCode == 0 {
			statusCode = http.StatusOK
		}
		outcome := "success"
		if statusCode >= 400 {
			outcome = "failure"
		}

		fields := []any{
			"operation", "http_request",
			"outcome", outcome,
			"method", r.Method,
			"path", r.URL.Path,
			"status_code", statusCode,
			"bytes", recorder.bytes,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", requestIDFromContext(r.Context()),
		}
		switch {
		case statusCode >= 500:
			httpLogger().ErrorContext(r.Context(), "http request completed", fields...)
		case statusCode >= 400:
			httpLogger().WarnContext(r.Context(), "http request completed", fields...)
		default:
			httpLogger().InfoContext(r.Context(), "http request completed", fields...)
		}
	})
}

func (h *Handler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			writeMissingBearerError(r.Context(), w, "auth_middleware")
			return
		}
		claims, err := h.verifyToken(raw)
		if err != nil {
			logHTTPOperationError(r.Context(), "auth_middleware", http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", err)
			writeError(r.Context(), w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims)))
	})
}

// optionalAuthMiddleware admits guests. A presented token must still be valid. Browsers
// cannot set headers on websocket upgrades, so access_token is accepted as a query parameter.
func (h *Handler) optionalAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
		if err != nil {
			raw = strings.TrimSpace(r.URL.Query().Get("access_token"))
		}
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		claims, err := h.verifyToken(raw)
		if err != nil {
			logHTTPOperationError(r.Context(), "optional_auth_middleware", http.StatusUnauthorized, "UNAUTHORIZED", "invalid token", err)
			writeError(r.Context(), w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyClaims, claims)))
	})
}

func (h *Handler) verifyToken(raw string) (security.Claims, error) {
	if h.tokens == nil {
		return security.Claims{}, errors.New("token verification is not configured")
	}
	claims, err := h.tokens.Verify(raw)
	if err != nil {
		return security.Claims{}, err
	}
	switch claims.Role {
	case application.RoleAdmin, application.RoleStaff, application.RoleCustomer:
		return claims, nil
	default:
		return security.Claims{}, errors.New("token role is not accepted: " + claims.Role)
	}
}

func requestIDFromContext(ctx context.Context) string {
	v := ctx.Value(ctxKeyRequestID)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func claimsFromContext(ctx context.Context) (security.Claims, bool) {
	claims, ok := ctx.Value(ctxKeyClaims).(security.Claims)
	return claims, ok
}

// actorFromRequest returns the authenticated caller. Without claims the actor is anonymous and
// the service rejects it.
func actorFromRequest(r *http.Request) application.Actor {
	actor := application.Actor{
		RequestID:      requestIDFromContext(r.Context()),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}
	if claims, ok := claimsFromContext(r.Context()); ok {
		actor.SubjectID = claims.SubjectID
		actor.Role = claims.Role
	}
	return actor
}

// actorOrGuest falls back to a guest identity keyed by the checkout email.
func actorOrGuest(r *http.Request, email string) application.Actor {
	actor := actorFromRequest(r)
	if actor.SubjectID != "" || strings.TrimSpace(email) == "" {
		return actor
	}
	actor.SubjectID = domain.Customer{GuestEmail: email}.OwnerID()
	actor.Role = application.RoleGuest
	return actor
}

func bearerTokenFromHeader(header string) (string, error) {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return "", errors.New("missing bearer token")
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}

func mapDomainError(err error) (int, string, string) {
	switch {
	case errors.Is(err, domain.ErrIdempotencyRequired):
		return http.StatusBadRequest, "IDEMPOTENCY_KEY_REQUIRED", "Idempotency-Key header is required"
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest, "VALIDATION_ERROR", err.Error()
	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, "UNAUTHORIZED", "invalid or missing credentials"
	case errors.Is(err, domain.ErrInvalidSignature):
		return http.StatusUnauthorized, "INVALID_SIGNATURE", "signature verification failed"
	case errors.Is(err, domain.ErrNotOwnedByUser):
		return http.StatusForbidden, "NOT_OWNED_BY_USER", err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN", "operation not permitted"
	case errors.Is(err, domain.ErrUnknownReference):
		return http.StatusNotFound, "UNKNOWN_REFERENCE", err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", "resource not found"
	case errors.Is(err, domain.ErrTableAlreadyOpen):
		return http.StatusConflict, "TABLE_ALREADY_OPEN", err.Error()
	case errors.Is(err, domain.ErrIdempotencyConflict):
		return http.StatusConflict, "IDEMPOTENCY_CONFLICT", "idempotency key reused with a different request"
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict, "INVALID_TRANSITION", err.Error()
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, "INVALID_STATE", err.Error()
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		return http.StatusConflict, "ALREADY_REDEEMED", err.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, "CONFLICT", err.Error()
	case errors.Is(err, domain.ErrExpired):
		return http.StatusGone, "EXPIRED", err.Error()
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_BALANCE", err.Error()
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_STOCK", err.Error()
	case errors.Is(err, domain.ErrUpstreamTransient):
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "payment provider temporarily unavailable"
	case errors.Is(err, domain.ErrUpstreamRejected):
		return http.StatusBadGateway, "UPSTREAM_REJECTED", "payment provider rejected the request"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	}
}
