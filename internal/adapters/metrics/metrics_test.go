package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

func TestRecorderCountsDomainEvents(t *testing.T) {
	r := NewRecorder()
	r.OrderTransition(domain.OrderStatusPending, domain.OrderStatusConfirmed)
	r.OrderTransition(domain.OrderStatusPending, domain.OrderStatusConfirmed)
	r.ReconcileOutcome("webhook", "applied")
	r.PointsAppend(domain.PointsEarned)
	r.GatewayCall("verify", "transient")

	assert.Equal(t, 2.0, counterValue(t, r, "wawa_orders_transitions_total", map[string]string{"from": "pending", "to": "confirmed"}))
	assert.Equal(t, 1.0, counterValue(t, r, "wawa_payments_reconcile_total", map[string]string{"source": "webhook", "outcome": "applied"}))
	assert.Equal(t, 1.0, counterValue(t, r, "wawa_points_ledger_appends_total", map[string]string{"type": "earned"}))
	assert.Equal(t, 1.0, counterValue(t, r, "wawa_gateway_calls_total", map[string]string{"operation": "verify", "outcome": "transient"}))
}

func counterValue(t *testing.T, r *Recorder, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := r.Gatherer().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
	next:
		for _, metric := range family.GetMetric() {
			for _, pair := range metric.GetLabel() {
				if labels[pair.GetName()] != pair.GetValue() {
					continue next
				}
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	r := NewRecorder()
	router := chi.NewRouter()
	router.Use(r.Middleware)
	router.Get("/v1/orders/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	router.Handle("/metrics", r.Handler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orders/ord-42", nil))
	require.Equal(t, http.StatusTeapot, rec.Code)

	scrape := httptest.NewRecorder()
	router.ServeHTTP(scrape, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := scrape.Body.String()
	assert.True(t, strings.Contains(body, `route="/v1/orders/{id}"`), body)
	assert.True(t, strings.Contains(body, `status="418"`), body)
	assert.False(t, strings.Contains(body, "ord-42"))
}
