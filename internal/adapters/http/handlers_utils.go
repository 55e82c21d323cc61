package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	maxBodyBytes = 1 << 20
	maxPageSize  = 100
)

// decodeBody reads exactly one JSON object. Errors name the offending field so a client can
// fix a cart or settlement request without reading server logs.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var (
			syntaxErr *json.SyntaxError
			typeErr   *json.UnmarshalTypeError
		)
		switch {
		case errors.Is(err, io.EOF):
			return errors.New("request body is empty")
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("malformed JSON: body ended early")
		case errors.As(err, &syntaxErr):
			return fmt.Errorf("malformed JSON at byte %d", syntaxErr.Offset)
		case errors.As(err, &typeErr):
			return fmt.Errorf("field %q must be %s", typeErr.Field, typeErr.Type)
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			return fmt.Errorf("unknown field %s", strings.TrimPrefix(err.Error(), "json: unknown field "))
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("request body must contain a single JSON value")
	}
	return nil
}

type pageParams struct {
	Limit  int
	Offset int
}

// pageFromQuery reads limit and offset. Bad or out-of-range values fall back to the default
// window rather than failing a listing.
func pageFromQuery(q url.Values, defaultLimit int) pageParams {
	page := pageParams{Limit: defaultLimit}
	if n, err := strconv.Atoi(strings.TrimSpace(q.Get("limit"))); err == nil && n > 0 {
		page.Limit = min(n, maxPageSize)
	}
	if n, err := strconv.Atoi(strings.TrimSpace(q.Get("offset"))); err == nil && n > 0 {
		page.Offset = n
	}
	return page
}

// clientIP keys the rate limiter. The first X-Forwarded-For hop wins over X-Real-IP.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func writeMappedError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	status, code, msg := mapDomainError(err)
	logHTTPOperationError(ctx, operation, status, code, msg, err)
	writeError(ctx, w, status, code, msg)
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, operation string, err error) {
	const code = "VALIDATION_ERROR"
	logHTTPOperationError(ctx, operation, http.StatusBadRequest, code, err.Error(), err)
	writeError(ctx, w, http.StatusBadRequest, code, err.Error())
}

func writeMissingBearerError(ctx context.Context, w http.ResponseWriter, operation string) {
	const (
		code = "UNAUTHORIZED"
		msg  = "missing bearer token"
	)
	logHTTPOperationError(ctx, operation, http.StatusUnauthorized, code, msg, nil)
	w.Header().Set("WWW-Authenticate", `Bearer realm="orders"`)
	writeError(ctx, w, http.StatusUnauthorized, code, msg)
}
