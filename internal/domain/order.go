package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeDineIn   OrderType = "dine_in"
	OrderTypePickup   OrderType = "pickup"
	OrderTypeDelivery OrderType = "delivery"
)

func (t OrderType) Valid() bool {
	switch t {
	case OrderTypeDineIn, OrderTypePickup, OrderTypeDelivery:
		return true
	default:
		return false
	}
}

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCompleted      OrderStatus = "completed"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// orderTransitions lists forward edges. Cancellation is handled separately.
var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusConfirmed},
	OrderStatusConfirmed:      {OrderStatusPreparing},
	OrderStatusPreparing:      {OrderStatusReady},
	OrderStatusReady:          {OrderStatusOutForDelivery, OrderStatusCompleted},
	OrderStatusOutForDelivery: {OrderStatusDelivered},
	OrderStatusDelivered:      {OrderStatusCompleted},
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCompleted, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

// CanTransitionOrder reports whether from -> to is an edge of the order graph.
func CanTransitionOrder(from, to OrderStatus, orderType OrderType) bool {
	if from.Terminal() {
		return false
	}
	if to == OrderStatusCancelled {
		return true
	}
	if to == OrderStatusOutForDelivery && orderType != OrderTypeDelivery {
		return false
	}
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// OrderPath returns the forward statuses walked from `from` to reach `to`,
// excluding `from`. It returns nil when `to` is unreachable without cancelling.
func OrderPath(from, to OrderStatus, orderType OrderType) []OrderStatus {
	if from == to {
		return []OrderStatus{}
	}
	type node struct {
		status OrderStatus
		path   []OrderStatus
	}
	queue := []node{{status: from}}
	seen := map[OrderStatus]bool{from: true}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range orderTransitions[cur.status] {
			if seen[next] || !CanTransitionOrder(cur.status, next, orderType) {
				continue
			}
			path := append(append([]OrderStatus{}, cur.path...), next)
			if next == to {
				return path
			}
			seen[next] = true
			queue = append(queue, node{status: next, path: path})
		}
	}
	return nil
}

type Customer struct {
	UserID     string `json:"user_id,omitempty"`
	GuestName  string `json:"guest_name,omitempty"`
	GuestEmail string `json:"guest_email,omitempty"`
	GuestPhone string `json:"guest_phone,omitempty"`
}

func (c Customer) IsGuest() bool { return strings.TrimSpace(c.UserID) == "" }

// OwnerID is the registered user id, or the guest email for guest checkouts.
func (c Customer) OwnerID() string {
	if !c.IsGuest() {
		return c.UserID
	}
	return "guest:" + strings.ToLower(strings.TrimSpace(c.GuestEmail))
}

func (c Customer) Validate() error {
	if !c.IsGuest() {
		return nil
	}
	if strings.TrimSpace(c.GuestName) == "" || strings.TrimSpace(c.GuestEmail) == "" || strings.TrimSpace(c.GuestPhone) == "" {
		return fmt.Errorf("%w: guest checkout requires name, email and phone", ErrInvalidInput)
	}
	return nil
}

type Customization struct {
	Name   string          `json:"name"`
	Option string          `json:"option"`
	Price  decimal.Decimal `json:"price"`
}

type LineItem struct {
	ID             string          `json:"id"`
	MenuItemID     string          `json:"menu_item_id"`
	Name           string          `json:"name"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Quantity       int             `json:"quantity"`
	Customizations []Customization `json:"customizations,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
}

// ComputeSubtotal prices one line: (unit price + customization deltas) * quantity.
func (l LineItem) ComputeSubtotal() decimal.Decimal {
	unit := l.UnitPrice
	for _, c := range l.Customizations {
		unit = unit.Add(c.Price)
	}
	return RoundMoney(unit.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

func (l LineItem) Validate() error {
	if strings.TrimSpace(l.MenuItemID) == "" {
		return fmt.Errorf("%w: line item menu_item_id is required", ErrInvalidInput)
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("%w: line item quantity must be positive", ErrInvalidInput)
	}
	if l.UnitPrice.IsNegative() {
		return fmt.Errorf("%w: line item unit price must not be negative", ErrInvalidInput)
	}
	return nil
}

type Totals struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	ServiceFee  decimal.Decimal `json:"service_fee"`
	Tax         decimal.Decimal `json:"tax"`
	DeliveryFee decimal.Decimal `json:"delivery_fee"`
	Discount    decimal.Decimal `json:"discount"`
	PointsValue decimal.Decimal `json:"points_value"`
	Tip         decimal.Decimal `json:"tip"`
	Total       decimal.Decimal `json:"total"`
}

// PayableBeforePoints is what the customer owes before points are applied and before tip.
func (t Totals) PayableBeforePoints() decimal.Decimal {
	return t.Subtotal.Add(t.ServiceFee).Add(t.Tax).Add(t.DeliveryFee).Sub(t.Discount)
}

// ComputeTotal is subtotal + serviceFee + tax + deliveryFee - discount - pointsValue + tip.
func (t Totals) ComputeTotal() decimal.Decimal {
	return t.PayableBeforePoints().Sub(t.PointsValue).Add(t.Tip)
}

func (t Totals) Add(o Totals) Totals {
	return Totals{
		Subtotal:    t.Subtotal.Add(o.Subtotal),
		ServiceFee:  t.ServiceFee.Add(o.ServiceFee),
		Tax:         t.Tax.Add(o.Tax),
		DeliveryFee: t.DeliveryFee.Add(o.DeliveryFee),
		Discount:    t.Discount.Add(o.Discount),
		PointsValue: t.PointsValue.Add(o.PointsValue),
		Tip:         t.Tip.Add(o.Tip),
		Total:       t.Total.Add(o.Total),
	}
}

// PriceInput carries the adjustable parts of an order's monetary breakdown.
type PriceInput struct {
	Items       []LineItem
	Type        OrderType
	Fees        OrderFeeSettings
	Discount    decimal.Decimal
	PointsValue decimal.Decimal
	Tip         decimal.Decimal
}

// PriceOrder computes the monetary breakdown. Each component is rounded before summing so
// the total equation holds exactly.
func PriceOrder(in PriceInput) (Totals, []LineItem, error) {
	if len(in.Items) == 0 {
		return Totals{}, nil, fmt.Errorf("%w: order requires at least one line item", ErrInvalidInput)
	}
	if in.Discount.IsNegative() || in.PointsValue.IsNegative() || in.Tip.IsNegative() {
		return Totals{}, nil, fmt.Errorf("%w: discount, points value and tip must not be negative", ErrInvalidInput)
	}
	items := make([]LineItem, 0, len(in.Items))
	subtotal := decimal.Zero
	for _, item := range in.Items {
		if err := item.Validate(); err != nil {
			return Totals{}, nil, err
		}
		item.Subtotal = item.ComputeSubtotal()
		subtotal = subtotal.Add(item.Subtotal)
		items = append(items, item)
	}

	t := Totals{
		Subtotal:    RoundMoney(subtotal),
		ServiceFee:  RoundMoney(subtotal.Mul(in.Fees.ServiceFeeRate)),
		Tax:         RoundMoney(subtotal.Mul(in.Fees.TaxRate)),
		DeliveryFee: decimal.Zero,
		Discount:    RoundMoney(decimal.Min(in.Discount, subtotal)),
		Tip:         RoundMoney(in.Tip),
	}
	if in.Type == OrderTypeDelivery {
		t.DeliveryFee = RoundMoney(in.Fees.DeliveryFee)
	}
	t.PointsValue = RoundMoney(in.PointsValue)
	if t.PointsValue.GreaterThan(t.PayableBeforePoints()) {
		return Totals{}, nil, fmt.Errorf("%w: points value exceeds payable amount", ErrInvalidInput)
	}
	t.Total = t.ComputeTotal()
	if t.Total.IsNegative() {
		return Totals{}, nil, fmt.Errorf("%w: order total must not be negative", ErrInvalidInput)
	}
	return t, items, nil
}

type PointsUsage struct {
	Points  int64           `json:"points"`
	Value   decimal.Decimal `json:"value"`
	ItemIDs []string        `json:"item_ids,omitempty"`
}

type PaymentLink struct {
	PaymentID string        `json:"payment_id,omitempty"`
	Reference string        `json:"reference,omitempty"`
	Status    PaymentStatus `json:"status"`
	PaidAt    *time.Time    `json:"paid_at,omitempty"`
}

type InventoryMark struct {
	Deducted    bool       `json:"deducted"`
	DeductedBy  string     `json:"deducted_by,omitempty"`
	DeductedAt  *time.Time `json:"deducted_at,omitempty"`
	Restocked   bool       `json:"restocked"`
	RestockedAt *time.Time `json:"restocked_at,omitempty"`
}

// LoyaltyMark records which ledger effects an order has claimed. Each flag is set in the same
// conditional write as the triggering change so the ledger call happens at most once.
type LoyaltyMark struct {
	Awarded       bool  `json:"awarded"`
	AwardedPoints int64 `json:"awarded_points,omitempty"`
	SpendRefunded bool  `json:"spend_refunded"`
	// EarnReversed is set once the awarded points were clawed back by a cancellation.
	EarnReversed bool `json:"earn_reversed,omitempty"`
}

type StatusChange struct {
	Status  OrderStatus `json:"status"`
	At      time.Time   `json:"at"`
	ActorID string      `json:"actor_id,omitempty"`
	Note    string      `json:"note,omitempty"`
}

type Order struct {
	ID                   string         `json:"id"`
	IdempotencyKey       string         `json:"idempotency_key"`
	Customer             Customer       `json:"customer"`
	Type                 OrderType      `json:"type"`
	Status               OrderStatus    `json:"status"`
	TabID                string         `json:"tab_id,omitempty"`
	Items                []LineItem     `json:"items"`
	Totals               Totals         `json:"totals"`
	Payment              PaymentLink    `json:"payment"`
	Points               PointsUsage    `json:"points"`
	AppliedRewardIDs     []string       `json:"applied_reward_ids,omitempty"`
	Inventory            InventoryMark  `json:"inventory"`
	Loyalty              LoyaltyMark    `json:"loyalty"`
	History              []StatusChange `json:"history"`
	EstimatedWaitMinutes int            `json:"estimated_wait_minutes"`
	ActualWaitMinutes    int            `json:"actual_wait_minutes,omitempty"`
	Version              int64          `json:"version"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// ApplyTransition moves the order along the graph and records the history entry.
func (o *Order) ApplyTransition(to OrderStatus, actorID, note string, at time.Time) error {
	if !to.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, to)
	}
	if !CanTransitionOrder(o.Status, to, o.Type) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, to)
	}
	o.Status = to
	o.History = append(o.History, StatusChange{Status: to, At: at, ActorID: actorID, Note: note})
	if to == OrderStatusReady || to == OrderStatusDelivered {
		o.ActualWaitMinutes = int(at.Sub(o.CreatedAt).Minutes())
	}
	o.UpdatedAt = at
	return nil
}

// AppendNote records a history entry without a status change.
func (o *Order) AppendNote(actorID, note string, at time.Time) {
	o.History = append(o.History, StatusChange{Status: o.Status, At: at, ActorID: actorID, Note: note})
	o.UpdatedAt = at
}

// MarkInventoryDeducted returns false when the flag was already set.
func (o *Order) MarkInventoryDeducted(actorID string, at time.Time) bool {
	if o.Inventory.Deducted {
		return false
	}
	o.Inventory.Deducted = true
	o.Inventory.DeductedBy = actorID
	o.Inventory.DeductedAt = &at
	return true
}

// MarkRestocked returns false when the order was never deducted or was already restocked.
func (o *Order) MarkRestocked(at time.Time) bool {
	if !o.Inventory.Deducted || o.Inventory.Restocked {
		return false
	}
	o.Inventory.Restocked = true
	o.Inventory.RestockedAt = &at
	return true
}

func (o Order) PaymentCleared() bool {
	return o.Payment.Status == PaymentStatusPaid || o.Totals.Total.IsZero()
}
