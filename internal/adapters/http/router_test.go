package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/gateway"
	apihttp "github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/http"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/memory"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/security"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/application"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

const webhookSecret = "sk_test_webhook_secret"

type fakeGateway struct{}

func (fakeGateway) CreateSession(_ context.Context, req ports.SessionRequest) (ports.SessionHandle, error) {
	return ports.SessionHandle{Reference: req.Reference, AuthorizationURL: "https://checkout.example.test/" + req.Reference}, nil
}

func (fakeGateway) Verify(_ context.Context, reference string) (ports.Verification, error) {
	return ports.Verification{Reference: reference, Status: "ongoing"}, nil
}

type apiEnvelope struct {
	Status  string          `json:"status"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	router   http.Handler
	tokens   *security.TokenService
	verifier *gateway.WebhookVerifier
}

func newTestServer(t *testing.T, opts apihttp.RouterOptions) *testServer {
	t.Helper()
	repos := memory.NewRepositories()
	verifier, err := gateway.NewWebhookVerifier(webhookSecret)
	require.NoError(t, err)
	tokens, err := security.NewTokenService("0123456789abcdef0123456789abcdef", "wawa-test", "wawa-api")
	require.NoError(t, err)

	svc := application.NewService(application.Dependencies{
		Orders:      repos.Orders,
		Tabs:        repos.Tabs,
		Payments:    repos.Payments,
		Points:      repos.Points,
		RewardRules: repos.RewardRules,
		Rewards:     repos.Rewards,
		Settings:    repos.Settings,
		Audit:       repos.Audit,
		Idempotency: repos.Idempotency,
		Outbox:      repos.Outbox,
		Inventory:   memory.NewInventory(map[string]int{"jollof": 20, "chapman": 20}),
		Gateway:     fakeGateway{},
		Webhooks:    verifier,
		Locker:      memory.NewLocker(),
		Random:      func() float64 { return 1 },
	})
	handler := apihttp.NewHandler(svc, tokens, nil, nil)
	return &testServer{router: apihttp.NewRouter(handler, opts), tokens: tokens, verifier: verifier}
}

func (s *testServer) token(t *testing.T, subject, role string) string {
	t.Helper()
	raw, err := s.tokens.Issue(subject, role, time.Hour)
	require.NoError(t, err)
	return raw
}

func (s *testServer) do(t *testing.T, method, path, token string, body any, headers map[string]string) (*httptest.ResponseRecorder, apiEnvelope) {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var env apiEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	return rec, env
}

func orderBody() map[string]any {
	return map[string]any{
		"user_id":    "user-1",
		"order_type": "dine_in",
		"items": []map[string]any{
			{"menu_item_id": "jollof", "name": "Jollof", "unit_price": "2000", "quantity": 2},
			{"menu_item_id": "chapman", "name": "Chapman", "unit_price": "1000", "quantity": 1},
		},
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{})

	rec, env := s.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", env.Status)
	assert.Equal(t, "ok", env.Message)
}

func TestProtectedRouteRequiresBearer(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{})

	rec, env := s.do(t, http.MethodGet, "/v1/orders", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "error", env.Status)
	assert.Equal(t, "UNAUTHORIZED", env.Code)
}

func TestSystemRoleTokenIsRejected(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{})

	rec, env := s.do(t, http.MethodGet, "/v1/tabs", s.token(t, "svc", application.RoleSystem), nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", env.Code)
}

func TestCreateOrderHonorsIdempotencyKeyHeader(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{})
	token := s.token(t, "user-1", application.RoleCustomer)
	headers := map[string]string{"Idempotency-Key": "checkout-http-1"}

	rec, env := s.do(t, http.MethodPost, "/v1/orders", token, orderBody(), headers)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var first application.CreateOrderResult
	require.NoError(t, json.Unmarshal(env.Data, &first))
	assert.False(t, first.Replayed)
	assert.Equal(t, "5625", first.Order.Totals.Total.String())

	rec, env = s.do(t, http.MethodPost, "/v1/orders", token, orderBody(), headers)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var second application.CreateOrderResult
	require.NoError(t, json.Unmarshal(env.Data, &second))
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
}

func TestCreateOrderWithoutIdempotencyKey(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{})

	rec, env := s.do(t, http.MethodPost, "/v1/orders", s.token(t, "user-1", application.RoleCustomer), orderBody(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "IDEMPOTENCY_KEY_REQUIRED", env.Code)
}

func TestCreateOrderRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{})
	body := orderBody()
	body["discount"] = "100"

	rec, env := s.do(t, http.MethodPost, "/v1/orders", s.token(t, "user-1", application.RoleCustomer), body,
		map[string]string{"Idempotency-Key": "k"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "VALIDATION_ERROR", env.Code)
}

func TestGuestCheckoutWithoutToken(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{})
	body := orderBody()
	delete(body, "user_id")
	body["guest_name"] = "Ada"
	body["guest_email"] = "Ada@Example.com"
	body["guest_phone"] = "+2348000000000"

	rec, env := s.do(t, http.MethodPost, "/v1/orders", "", body, map[string]string{"Idempotency-Key": "guest-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res application.CreateOrderResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "guest:ada@example.com", res.Order.Customer.OwnerID())
}

func TestWebhookReconcilesOnceAndAlwaysAcknowledges(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{})
	customer := s.token(t, "user-1", application.RoleCustomer)

	rec, env := s.do(t, http.MethodPost, "/v1/orders", customer, orderBody(), map[string]string{"Idempotency-Key": "pay-1"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created application.CreateOrderResult
	require.NoError(t, json.Unmarshal(env.Data, &created))

	rec, env = s.do(t, http.MethodPost, "/v1/payments/sessions", customer, map[string]any{
		"order_id": created.Order.ID,
		"email":    "user-1@example.com",
	}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var session application.PaymentSession
	require.NoError(t, json.Unmarshal(env.Data, &session))
	require.NotEmpty(t, session.Payment.Reference)

	raw, err := json.Marshal(map[string]any{
		"event": "charge.success",
		"data": map[string]any{
			"reference": session.Payment.Reference,
			"status":    "success",
			"amount":    562500,
			"id":        987654,
			"channel":   "card",
		},
	})
	require.NoError(t, err)
	signed := map[string]string{gateway.SignatureHeader: s.verifier.Sign(raw)}

	rec, env = s.do(t, http.MethodPost, "/v1/webhooks/gateway", "", raw, signed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"outcome":"applied"}`, string(env.Data))

	rec, env = s.do(t, http.MethodPost, "/v1/webhooks/gateway", "", raw, signed)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"received":true,"outcome":"duplicate"}`, string(env.Data))

	rec, _ = s.do(t, http.MethodPost, "/v1/webhooks/gateway", "", raw, map[string]string{gateway.SignatureHeader: "00ff"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env = s.do(t, http.MethodGet, "/v1/orders/"+created.Order.ID, customer, nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var order struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &order))
	assert.Equal(t, "confirmed", order.Status)
}

func TestAuditIsAdminOnly(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{})

	rec, env := s.do(t, http.MethodGet, "/v1/audit", s.token(t, "staff-1", application.RoleStaff), nil, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", env.Code)

	rec, _ = s.do(t, http.MethodGet, "/v1/audit", s.token(t, "admin-1", application.RoleAdmin), nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSettingsUpdateAndRead(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{})
	admin := s.token(t, "admin-1", application.RoleAdmin)

	rec, _ := s.do(t, http.MethodPut, "/v1/settings/order_fees", admin, map[string]any{
		"value": map[string]any{"service_fee_rate": "0.1", "tax_rate": "0", "delivery_fee": "0", "currency": "NGN"},
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec, env := s.do(t, http.MethodGet, "/v1/settings/order_fees", s.token(t, "staff-1", application.RoleStaff), nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Value struct {
			ServiceFeeRate string `json:"service_fee_rate"`
		} `json:"value"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, "0.1", out.Value.ServiceFeeRate)
}

func TestOpenTabTwiceConflicts(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{})
	staff := s.token(t, "staff-1", application.RoleStaff)

	rec, _ := s.do(t, http.MethodPost, "/v1/tabs", staff, map[string]any{"table_number": "t4"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec, env := s.do(t, http.MethodPost, "/v1/tabs", staff, map[string]any{"table_number": "T4"}, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "TABLE_ALREADY_OPEN", env.Code)
}

func TestRateLimitPerClient(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, apihttp.RouterOptions{RequestsPerSecond: 0.001, Burst: 1})
	staff := s.token(t, "staff-1", application.RoleStaff)

	rec, _ := s.do(t, http.MethodGet, "/v1/tabs", staff, nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := s.do(t, http.MethodGet, "/v1/tabs", staff, nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", env.Code)

	rec, _ = s.do(t, http.MethodGet, "/healthz", "", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
