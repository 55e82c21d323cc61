package application_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/adapters/memory"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/application"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

type statusNotice struct {
	OrderID string
	Status  domain.OrderStatus
}

type recordingNotifier struct {
	mu        sync.Mutex
	statuses  []statusNotice
	created   []string
	cancelled []string
	batches   [][]string
}

func (n *recordingNotifier) NotifyOrderStatus(_ context.Context, orderID string, status domain.OrderStatus, _ int, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, statusNotice{OrderID: orderID, Status: status})
	return nil
}

func (n *recordingNotifier) NotifyOrderCreated(_ context.Context, order domain.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, order.ID)
	return nil
}

func (n *recordingNotifier) NotifyOrderCancelled(_ context.Context, orderID, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, orderID)
	return nil
}

func (n *recordingNotifier) NotifyBatch(_ context.Context, orderIDs []string, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batches = append(n.batches, append([]string(nil), orderIDs...))
	return nil
}

func (n *recordingNotifier) statusCount(orderID string, status domain.OrderStatus) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, s := range n.statuses {
		if s.OrderID == orderID && s.Status == status {
			count++
		}
	}
	return count
}

type stubGateway struct {
	mu           sync.Mutex
	sessions     []ports.SessionRequest
	verification map[string]ports.Verification
	sessionErr   error
}

func (g *stubGateway) CreateSession(_ context.Context, req ports.SessionRequest) (ports.SessionHandle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.sessionErr != nil {
		return ports.SessionHandle{}, g.sessionErr
	}
	g.sessions = append(g.sessions, req)
	return ports.SessionHandle{
		Reference:        req.Reference,
		AuthorizationURL: "https://checkout.example.test/" + req.Reference,
	}, nil
}

func (g *stubGateway) Verify(_ context.Context, reference string) (ports.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	v, ok := g.verification[reference]
	if !ok {
		return ports.Verification{Reference: reference, Status: "ongoing"}, nil
	}
	return v, nil
}

func (g *stubGateway) setVerification(v ports.Verification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verification[v.Reference] = v
}

// signedWebhooks accepts the literal signature "valid" and decodes a flat JSON body.
type signedWebhooks struct{}

func (signedWebhooks) ParseWebhook(raw []byte, signature string) (ports.WebhookPayload, error) {
	if signature != "valid" {
		return ports.WebhookPayload{}, domain.ErrInvalidSignature
	}
	var body struct {
		Event     string `json:"event"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    string `json:"amount"`
		TxRef     string `json:"transaction_reference"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ports.WebhookPayload{}, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	amount := decimal.Zero
	if body.Amount != "" {
		amount = decimal.RequireFromString(body.Amount)
	}
	return ports.WebhookPayload{
		Event:                body.Event,
		Reference:            body.Reference,
		Status:               body.Status,
		AmountPaid:           amount,
		TransactionReference: body.TxRef,
		Raw:                  raw,
	}, nil
}

type fixture struct {
	svc       *application.Service
	repos     *memory.Repositories
	inventory *memory.Inventory
	notifier  *recordingNotifier
	gateway   *stubGateway

	mu   sync.Mutex
	now  time.Time
	draw float64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repos:     memory.NewRepositories(),
		inventory: memory.NewInventory(map[string]int{"jollof": 50, "suya": 50, "chapman": 50}),
		notifier:  &recordingNotifier{},
		gateway:   &stubGateway{verification: map[string]ports.Verification{}},
		now:       time.Now().UTC().Truncate(time.Second),
	}
	f.svc = application.NewService(application.Dependencies{
		Config: application.Config{
			MaxConflictRetries: 50,
			PaymentCallbackURL: "https://shop.example.test/checkout/callback",
		},
		Orders:      f.repos.Orders,
		Tabs:        f.repos.Tabs,
		Payments:    f.repos.Payments,
		Points:      f.repos.Points,
		RewardRules: f.repos.RewardRules,
		Rewards:     f.repos.Rewards,
		Settings:    f.repos.Settings,
		Audit:       f.repos.Audit,
		Idempotency: f.repos.Idempotency,
		Outbox:      f.repos.Outbox,
		Inventory:   f.inventory,
		Notifier:    f.notifier,
		Gateway:     f.gateway,
		Webhooks:    signedWebhooks{},
		Locker:      memory.NewLocker(),
		Random:      f.random,
		Clock:       f.clock,
	})
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) random() float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.draw
}

// setDraw fixes the value the service sees for probability draws.
func (f *fixture) setDraw(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.draw = v
}

func (f *fixture) advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

var (
	admin    = application.Actor{SubjectID: "admin-1", Role: application.RoleAdmin}
	staff    = application.Actor{SubjectID: "staff-1", Role: application.RoleStaff}
	customer = application.Actor{SubjectID: "user-1", Role: application.RoleCustomer}
)

func money(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func line(menuItemID, unitPrice string, qty int) domain.LineItem {
	return domain.LineItem{MenuItemID: menuItemID, Name: menuItemID, UnitPrice: money(unitPrice), Quantity: qty}
}

// placeOrder creates a registered-user order for user-1 with a subtotal of 5000.
func (f *fixture) placeOrder(t *testing.T, key string, mutate ...func(*application.CreateOrderInput)) domain.Order {
	t.Helper()
	in := application.CreateOrderInput{
		IdempotencyKey: key,
		Customer:       domain.Customer{UserID: "user-1"},
		Type:           domain.OrderTypeDineIn,
		Items:          []domain.LineItem{line("jollof", "2000", 2), line("chapman", "1000", 1)},
	}
	for _, m := range mutate {
		m(&in)
	}
	res, err := f.svc.CreateOrder(context.Background(), customer, in)
	require.NoError(t, err)
	return res.Order
}

func (f *fixture) setSettings(t *testing.T, key domain.SettingsKey, value any) {
	t.Helper()
	raw, err := json.Marshal(value)
	require.NoError(t, err)
	_, err = f.svc.UpdateSettings(context.Background(), admin, key, raw)
	require.NoError(t, err)
}

func (f *fixture) zeroFees(t *testing.T) {
	t.Helper()
	f.setSettings(t, domain.SettingsOrderFees, map[string]any{
		"service_fee_rate": "0",
		"tax_rate":         "0",
		"delivery_fee":     "0",
		"currency":         "NGN",
	})
}

func (f *fixture) webhook(t *testing.T, reference, status, amount string) (application.ReconcileResult, error) {
	t.Helper()
	raw, err := json.Marshal(map[string]string{
		"event":                 "charge." + status,
		"reference":             reference,
		"status":                status,
		"amount":                amount,
		"transaction_reference": "trx-" + reference,
	})
	require.NoError(t, err)
	return f.svc.HandleWebhook(context.Background(), raw, "valid")
}
