package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

// InventoryAdjuster owns stock levels. Deduct returns domain.ErrInsufficientStock when the
// item cannot cover quantity.
type InventoryAdjuster interface {
	Deduct(ctx context.Context, menuItemID string, quantity int) error
	Restock(ctx context.Context, menuItemID string, quantity int) error
}

// Notifier pushes best-effort updates to subscribers. Callers log failures and carry on.
type Notifier interface {
	NotifyOrderStatus(ctx context.Context, orderID string, status domain.OrderStatus, estimatedMinutes int, note string) error
	NotifyOrderCreated(ctx context.Context, order domain.Order) error
	NotifyOrderCancelled(ctx context.Context, orderID, reason string) error
	NotifyBatch(ctx context.Context, orderIDs []string, action string) error
}

type CustomerInfo struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type SessionRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Reference   string
	Customer    CustomerInfo
	CallbackURL string
	Metadata    map[string]string
}

type SessionHandle struct {
	Reference        string `json:"reference"`
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code,omitempty"`
}

type Verification struct {
	Reference            string
	Status               string
	TransactionReference string
	AmountPaid           decimal.Decimal
	PaidOn               *time.Time
	Method               string
	RawPayload           json.RawMessage
}

// PaymentGateway wraps the external gateway. Transient failures wrap
// domain.ErrUpstreamTransient, application rejections wrap domain.ErrUpstreamRejected.
type PaymentGateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (SessionHandle, error)
	Verify(ctx context.Context, reference string) (Verification, error)
}

// WebhookVerifier checks the gateway signature over the raw request body and normalizes it.
type WebhookVerifier interface {
	ParseWebhook(raw []byte, signature string) (WebhookPayload, error)
}

type WebhookPayload struct {
	Event                string
	Reference            string
	Status               string
	AmountPaid           decimal.Decimal
	TransactionReference string
	Method               string
	PaidOn               *time.Time
	Raw                  json.RawMessage
}

// Locker provides a short per-key mutual exclusion. The returned release func is safe to
// call once.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// SettingsCache fronts the settings repository.
type SettingsCache interface {
	Get(ctx context.Context, key domain.SettingsKey) (domain.Settings, bool)
	Set(ctx context.Context, value domain.Settings)
	Invalidate(ctx context.Context, key domain.SettingsKey)
}

// Metrics records domain counters.
type Metrics interface {
	OrderTransition(from, to domain.OrderStatus)
	ReconcileOutcome(source, outcome string)
	PointsAppend(txType domain.PointsTxType)
}
