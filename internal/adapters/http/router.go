package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/security"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/application"
)

// TokenVerifier validates bearer tokens issued to staff and customers.
type TokenVerifier interface {
	Verify(raw string) (security.Claims, error)
}

// Subscriptions upgrades a request into a live order status stream.
type Subscriptions interface {
	ServeWS(w http.ResponseWriter, r *http.Request, channels []string)
}

// MetricsExporter instruments requests and serves the scrape endpoint.
type MetricsExporter interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// Handler is the HTTP adapter entrypoint for order, tab, payment and loyalty use-cases.
type Handler struct {
	service *application.Service
	tokens  TokenVerifier
	subs    Subscriptions
	ready   func(ctx context.Context) error
}

// NewHandler constructs an HTTP handler bound to the application service.
func NewHandler(service *application.Service, tokens TokenVerifier, subs Subscriptions, ready func(ctx context.Context) error) *Handler {
	return &Handler{service: service, tokens: tokens, subs: subs, ready: ready}
}

type RouterOptions struct {
	Metrics           MetricsExporter
	RequestsPerSecond float64
	Burst             int
}

// NewRouter registers the /v1 surface and the operational endpoints.
func NewRouter(handler *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	limiter := newClientLimiter(opts.RequestsPerSecond, opts.Burst)
	r.Route("/v1", func(r chi.Router) {
		r.Use(limiter.middleware)

		// Gateway deliveries carry their own signature.
		r.Post("/webhooks/gateway", handler.gatewayWebhook)

		r.Group(func(r chi.Router) {
			r.Use(handler.optionalAuthMiddleware)
			r.Post("/orders", handler.createOrder)
			r.Post("/payments/sessions", handler.requestPaymentSession)
			r.Post("/payments/{reference}/verify", handler.verifyPayment)
			r.Get("/ws", handler.subscribe)
		})

		r.Group(func(r chi.Router) {
			r.Use(handler.authMiddleware)

			r.Get("/orders", handler.listOrders)
			r.Get("/orders/{id}", handler.getOrder)
			r.Post("/orders/{id}/transitions", handler.transitionOrder)
			r.Post("/orders/batch-transitions", handler.batchTransition)

			r.Post("/tabs", handler.openTab)
			r.Get("/tabs", handler.listOpenTabs)
			r.Get("/tabs/{id}", handler.getTab)
			r.Post("/tabs/{id}/orders", handler.attachOrder)
			r.Post("/tabs/{id}/recompute", handler.recomputeTab)
			r.Post("/tabs/{id}/settle", handler.settleTab)
			r.Post("/tabs/{id}/manual-settle", handler.manualSettleTab)

			r.Get("/payments/{reference}", handler.getPayment)
			r.Post("/payments/manual", handler.confirmManualPayment)
			r.Post("/payments/{reference}/refunds", handler.refundPayment)

			r.Get("/points/{user_id}/balance", handler.pointsBalance)
			r.Get("/points/{user_id}/transactions", handler.pointsHistory)
			r.Get("/points/{user_id}/consistency", handler.pointsConsistency)
			r.Post("/points/adjustments", handler.adjustPoints)

			r.Get("/rewards/rules", handler.listRewardRules)
			r.Post("/rewards/rules", handler.createRewardRule)
			r.Put("/rewards/rules/{id}", handler.updateRewardRule)
			r.Post("/rewards/validate", handler.validateRewardCode)
			r.Get("/rewards/users/{user_id}", handler.listUserRewards)

			r.Get("/settings/{key}", handler.getSettings)
			r.Put("/settings/{key}", handler.updateSettings)

			r.Get("/audit", handler.listAudit)
		})
	})

	return r
}
