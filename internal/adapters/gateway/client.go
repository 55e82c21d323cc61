package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

// CallRecorder observes each outbound attempt.
type CallRecorder interface {
	GatewayCall(operation, outcome string)
}

type Config struct {
	BaseURL     string
	SecretKey   string
	Timeout     time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	// RatePerSecond caps outbound calls; zero disables the limiter.
	RatePerSecond float64
	Burst         int
}

// Client talks to a Paystack-compatible transaction API. Amounts cross the wire in minor units.
type Client struct {
	baseURL     string
	secretKey   string
	http        *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseBackoff time.Duration
	recorder    CallRecorder
	logger      *slog.Logger
}

func NewClient(cfg Config, recorder CallRecorder, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, fmt.Errorf("gateway secret key is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("gateway base url %q is invalid", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	return &Client{
		baseURL:     base.String(),
		secretKey:   cfg.SecretKey,
		http:        &http.Client{Timeout: cfg.Timeout},
		limiter:     limiter,
		maxAttempts: cfg.MaxAttempts,
		baseBackoff: cfg.BaseBackoff,
		recorder:    recorder,
		logger:      logger,
	}, nil
}

func (c *Client) CreateSession(ctx context.Context, req ports.SessionRequest) (ports.SessionHandle, error) {
	if strings.TrimSpace(req.Customer.Email) == "" {
		return ports.SessionHandle{}, fmt.Errorf("%w: customer email is required", domain.ErrInvalidInput)
	}
	body := map[string]any{
		"email":     req.Customer.Email,
		"amount":    domain.ToMinorUnits(req.Amount),
		"reference": req.Reference,
	}
	if req.Currency != "" {
		body["currency"] = req.Currency
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}
	if len(req.Metadata) > 0 {
		body["metadata"] = req.Metadata
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return ports.SessionHandle{}, fmt.Errorf("encode session request: %w", err)
	}

	res, err := c.do(ctx, "create_session", http.MethodPost, "/transaction/initialize", raw)
	if err != nil {
		return ports.SessionHandle{}, err
	}
	data := res.Get("data")
	handle := ports.SessionHandle{
		Reference:        data.Get("reference").String(),
		AuthorizationURL: data.Get("authorization_url").String(),
		AccessCode:       data.Get("access_code").String(),
	}
	if handle.Reference == "" {
		handle.Reference = req.Reference
	}
	if handle.AuthorizationURL == "" {
		return ports.SessionHandle{}, fmt.Errorf("%w: session response missing authorization url", domain.ErrUpstreamRejected)
	}
	return handle, nil
}

func (c *Client) Verify(ctx context.Context, reference string) (ports.Verification, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return ports.Verification{}, fmt.Errorf("%w: reference is required", domain.ErrInvalidInput)
	}
	res, err := c.do(ctx, "verify", http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil)
	if err != nil {
		return ports.Verification{}, err
	}
	data := res.Get("data")
	out := ports.Verification{
		Reference:            data.Get("reference").String(),
		Status:               data.Get("status").String(),
		TransactionReference: transactionID(data),
		AmountPaid:           domain.FromMinorUnits(data.Get("amount").Int()),
		PaidOn:               parseTime(data.Get("paid_at").String()),
		Method:               data.Get("channel").String(),
		RawPayload:           json.RawMessage(data.Raw),
	}
	if out.Reference == "" {
		out.Reference = reference
	}
	return out, nil
}

// do sends one logical request, retrying transient failures with exponential backoff.
func (c *Client) do(ctx context.Context, operation, method, path string, body []byte) (gjson.Result, error) {
	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return gjson.Result{}, fmt.Errorf("%w: %v", domain.ErrUpstreamTransient, err)
			}
		}
		res, err := c.once(ctx, method, path, body)
		if err == nil {
			c.record(operation, "success")
			return res, nil
		}
		lastErr = err
		if !errors.Is(err, domain.ErrUpstreamTransient) {
			c.record(operation, "rejected")
			return gjson.Result{}, err
		}
		c.record(operation, "transient")
		c.logger.WarnContext(ctx, "gateway call failed",
			"module", "gateway.client",
			"layer", "adapter",
			"operation", operation,
			"outcome", "retry",
			"attempt", attempt,
			"error", err,
		)
		if attempt == c.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return gjson.Result{}, fmt.Errorf("%w: %v", domain.ErrUpstreamTransient, ctx.Err())
		case <-time.After(c.baseBackoff << (attempt - 1)):
		}
	}
	return gjson.Result{}, lastErr
}

func (c *Client) once(ctx context.Context, method, path string, body []byte) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: %v", domain.ErrUpstreamTransient, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: read body: %v", domain.ErrUpstreamTransient, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return gjson.Result{}, fmt.Errorf("%w: gateway status %d", domain.ErrUpstreamTransient, resp.StatusCode)
	case resp.StatusCode >= 400:
		return gjson.Result{}, fmt.Errorf("%w: gateway status %d: %s", domain.ErrUpstreamRejected, resp.StatusCode, gjson.GetBytes(raw, "message").String())
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, fmt.Errorf("%w: gateway returned malformed json", domain.ErrUpstreamTransient)
	}
	res := gjson.ParseBytes(raw)
	if ok := res.Get("status"); ok.Exists() && !ok.Bool() {
		return gjson.Result{}, fmt.Errorf("%w: %s", domain.ErrUpstreamRejected, res.Get("message").String())
	}
	return res, nil
}

func (c *Client) record(operation, outcome string) {
	if c.recorder != nil {
		c.recorder.GatewayCall(operation, outcome)
	}
}

func transactionID(data gjson.Result) string {
	id := data.Get("id")
	if !id.Exists() {
		return ""
	}
	if id.Type == gjson.Number {
		return strconv.FormatInt(id.Int(), 10)
	}
	return id.String()
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
