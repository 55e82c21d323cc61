package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

// Repositories is the in-process store used by tests and the "memory" storage driver.
type Repositories struct {
	Orders      *OrderRepository
	Tabs        *TabRepository
	Payments    *PaymentRepository
	Points      *PointsRepository
	RewardRules *RewardRuleRepository
	Rewards     *RewardRepository
	Settings    *SettingsRepository
	Audit       *AuditLogRepository
	Idempotency *IdempotencyRepository
	Outbox      *OutboxRepository
}

func NewRepositories() *Repositories {
	return &Repositories{
		Orders: &OrderRepository{
			records: make(map[string]domain.Order),
			byKey:   make(map[string]string),
		},
		Tabs: &TabRepository{
			records: make(map[string]domain.Tab),
		},
		Payments: &PaymentRepository{
			records: make(map[string]domain.Payment),
		},
		Points: &PointsRepository{
			entries: make(map[string][]domain.PointsTransaction),
		},
		RewardRules: &RewardRuleRepository{
			records: make(map[string]domain.RewardRule),
		},
		Rewards: &RewardRepository{
			records: make(map[string]domain.Reward),
		},
		Settings: &SettingsRepository{
			records: make(map[domain.SettingsKey]domain.SettingsRecord),
		},
		Audit: &AuditLogRepository{
			records: make([]domain.AuditEntry, 0, 128),
		},
		Idempotency: &IdempotencyRepository{
			records: make(map[string]ports.IdempotencyRecord),
		},
		Outbox: &OutboxRepository{
			records: make(map[string]ports.OutboxRecord),
		},
	}
}

type OrderRepository struct {
	mu      sync.RWMutex
	records map[string]domain.Order
	byKey   map[string]string
	order   []string
}

func (r *OrderRepository) Create(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[order.ID]; exists {
		return domain.ErrConflict
	}
	if _, exists := r.byKey[order.IdempotencyKey]; exists {
		return domain.ErrConflict
	}
	if order.Version == 0 {
		order.Version = 1
	}
	r.records[order.ID] = cloneOrder(order)
	r.byKey[order.IdempotencyKey] = order.ID
	r.order = append(r.order, order.ID)
	return nil
}

func (r *OrderRepository) Get(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	order, ok := r.records[orderID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return cloneOrder(order), nil
}

func (r *OrderRepository) GetByIdempotencyKey(_ context.Context, key string) (domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byKey[key]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return cloneOrder(r.records[id]), nil
}

func (r *OrderRepository) Update(_ context.Context, order domain.Order) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	if current.Version != order.Version {
		return domain.Order{}, domain.ErrConflict
	}
	order.Version++
	r.records[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (r *OrderRepository) ListByIDs(_ context.Context, orderIDs []string) ([]domain.Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		if order, ok := r.records[id]; ok {
			out = append(out, cloneOrder(order))
		}
	}
	return out, nil
}

func (r *OrderRepository) ListByOwner(_ context.Context, ownerID string, limit, offset int) ([]domain.Order, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]domain.Order, 0)
	for _, id := range r.order {
		order := r.records[id]
		if order.Customer.OwnerID() == ownerID {
			items = append(items, order)
		}
	}
	slices.SortStableFunc(items, func(a, b domain.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	total := len(items)
	page := paginate(items, limit, offset)
	out := make([]domain.Order, 0, len(page))
	for _, order := range page {
		out = append(out, cloneOrder(order))
	}
	return out, total, nil
}

func (r *OrderRepository) CountCompletedByOwner(_ context.Context, ownerID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, order := range r.records {
		if order.Status == domain.OrderStatusCompleted && order.Customer.OwnerID() == ownerID {
			count++
		}
	}
	return count, nil
}

type TabRepository struct {
	mu      sync.RWMutex
	records map[string]domain.Tab
	order   []string
}

func (r *TabRepository) Create(_ context.Context, tab domain.Tab) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[tab.ID]; exists {
		return domain.ErrConflict
	}
	for _, existing := range r.records {
		if existing.Status != domain.TabStatusClosed && strings.EqualFold(existing.TableNumber, tab.TableNumber) {
			return domain.ErrConflict
		}
	}
	if tab.Version == 0 {
		tab.Version = 1
	}
	r.records[tab.ID] = cloneTab(tab)
	r.order = append(r.order, tab.ID)
	return nil
}

func (r *TabRepository) Get(_ context.Context, tabID string) (domain.Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tab, ok := r.records[tabID]
	if !ok {
		return domain.Tab{}, domain.ErrNotFound
	}
	return cloneTab(tab), nil
}

func (r *TabRepository) GetOpenByTable(_ context.Context, tableNumber string) (domain.Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		tab := r.records[id]
		if tab.Status != domain.TabStatusClosed && strings.EqualFold(tab.TableNumber, tableNumber) {
			return cloneTab(tab), nil
		}
	}
	return domain.Tab{}, domain.ErrNotFound
}

func (r *TabRepository) Update(_ context.Context, tab domain.Tab) (domain.Tab, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[tab.ID]
	if !ok {
		return domain.Tab{}, domain.ErrNotFound
	}
	if current.Version != tab.Version {
		return domain.Tab{}, domain.ErrConflict
	}
	tab.Version++
	r.records[tab.ID] = cloneTab(tab)
	return cloneTab(tab), nil
}

func (r *TabRepository) ListOpen(_ context.Context) ([]domain.Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Tab, 0)
	for _, id := range r.order {
		tab := r.records[id]
		if tab.Status != domain.TabStatusClosed {
			out = append(out, cloneTab(tab))
		}
	}
	return out, nil
}

// PaymentRepository is keyed by reference. At most one payment per order or tab may be
// stored as paid; a second one fails with domain.ErrConflict.
type PaymentRepository struct {
	mu      sync.RWMutex
	records map[string]domain.Payment
	order   []string
}

func (r *PaymentRepository) Create(_ context.Context, payment domain.Payment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[payment.Reference]; exists {
		return domain.ErrConflict
	}
	if payment.Version == 0 {
		payment.Version = 1
	}
	r.records[payment.Reference] = clonePayment(payment)
	r.order = append(r.order, payment.Reference)
	return nil
}

func (r *PaymentRepository) GetByReference(_ context.Context, reference string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	payment, ok := r.records[reference]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	return clonePayment(payment), nil
}

func (r *PaymentRepository) GetPaidForTarget(_ context.Context, orderID, tabID string) (domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ref := range r.order {
		p := r.records[ref]
		if settledStatus(p.Status) && p.OrderID == orderID && p.TabID == tabID {
			return clonePayment(p), nil
		}
	}
	return domain.Payment{}, domain.ErrNotFound
}

func (r *PaymentRepository) Update(_ context.Context, payment domain.Payment) (domain.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[payment.Reference]
	if !ok {
		return domain.Payment{}, domain.ErrNotFound
	}
	if current.Version != payment.Version {
		return domain.Payment{}, domain.ErrConflict
	}
	if settledStatus(payment.Status) {
		for ref, other := range r.records {
			if ref != payment.Reference && settledStatus(other.Status) &&
				other.OrderID == payment.OrderID && other.TabID == payment.TabID {
				return domain.Payment{}, domain.ErrConflict
			}
		}
	}
	payment.Version++
	r.records[payment.Reference] = clonePayment(payment)
	return clonePayment(payment), nil
}

func (r *PaymentRepository) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Payment, 0)
	for _, ref := range r.order {
		p := r.records[ref]
		if (p.Status == domain.PaymentStatusPending || p.Status == domain.PaymentStatusProcessing) && p.CreatedAt.Before(before) {
			out = append(out, clonePayment(p))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func settledStatus(status domain.PaymentStatus) bool {
	return status == domain.PaymentStatusPaid ||
		status == domain.PaymentStatusPartiallyRefunded ||
		status == domain.PaymentStatusRefunded
}

func paginate[T any](items []T, limit, offset int) []T {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func cloneOrder(o domain.Order) domain.Order {
	items := make([]domain.LineItem, len(o.Items))
	for i, item := range o.Items {
		item.Customizations = slices.Clone(item.Customizations)
		items[i] = item
	}
	o.Items = items
	o.History = slices.Clone(o.History)
	o.AppliedRewardIDs = slices.Clone(o.AppliedRewardIDs)
	o.Points.ItemIDs = slices.Clone(o.Points.ItemIDs)
	return o
}

func cloneTab(t domain.Tab) domain.Tab {
	t.OrderIDs = slices.Clone(t.OrderIDs)
	if t.OrderIDs == nil {
		t.OrderIDs = []string{}
	}
	return t
}

func clonePayment(p domain.Payment) domain.Payment {
	p.RawPayload = slices.Clone(p.RawPayload)
	return p
}
