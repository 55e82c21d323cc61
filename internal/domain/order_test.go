package domain

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestCanTransitionOrder(t *testing.T) {
	t.Parallel()

	cases := []struct {
		from, to  OrderStatus
		orderType OrderType
		want      bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, OrderTypeDineIn, true},
		{OrderStatusPending, OrderStatusPreparing, OrderTypeDineIn, false},
		{OrderStatusReady, OrderStatusCompleted, OrderTypePickup, true},
		{OrderStatusReady, OrderStatusOutForDelivery, OrderTypePickup, false},
		{OrderStatusReady, OrderStatusOutForDelivery, OrderTypeDelivery, true},
		{OrderStatusDelivered, OrderStatusCompleted, OrderTypeDelivery, true},
		{OrderStatusPreparing, OrderStatusCancelled, OrderTypeDineIn, true},
		{OrderStatusCompleted, OrderStatusCancelled, OrderTypeDineIn, false},
		{OrderStatusCancelled, OrderStatusPending, OrderTypeDineIn, false},
	}
	for _, tc := range cases {
		if got := CanTransitionOrder(tc.from, tc.to, tc.orderType); got != tc.want {
			t.Fatalf("%s -> %s (%s): got %v want %v", tc.from, tc.to, tc.orderType, got, tc.want)
		}
	}
}

func TestOrderPath(t *testing.T) {
	t.Parallel()

	got := OrderPath(OrderStatusPending, OrderStatusCompleted, OrderTypeDineIn)
	want := []OrderStatus{OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady, OrderStatusCompleted}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("dine-in path: got %v want %v", got, want)
	}
	delivery := OrderPath(OrderStatusPreparing, OrderStatusDelivered, OrderTypeDelivery)
	if !reflect.DeepEqual(delivery, []OrderStatus{OrderStatusReady, OrderStatusOutForDelivery, OrderStatusDelivered}) {
		t.Fatalf("delivery path: got %v", delivery)
	}
	if path := OrderPath(OrderStatusReady, OrderStatusDelivered, OrderTypePickup); path != nil {
		t.Fatalf("expected unreachable delivered for pickup, got %v", path)
	}
	if path := OrderPath(OrderStatusReady, OrderStatusReady, OrderTypePickup); len(path) != 0 {
		t.Fatalf("expected empty path to self, got %v", path)
	}
}

func TestApplyTransitionRecordsHistoryAndWait(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	order := Order{Status: OrderStatusPreparing, Type: OrderTypePickup, CreatedAt: created}
	if err := order.ApplyTransition(OrderStatusReady, "staff-1", "plated", created.Add(18*time.Minute)); err != nil {
		t.Fatalf("ready: %v", err)
	}
	if order.ActualWaitMinutes != 18 {
		t.Fatalf("expected 18 minute wait, got %d", order.ActualWaitMinutes)
	}
	if len(order.History) != 1 || order.History[0].Note != "plated" {
		t.Fatalf("unexpected history: %+v", order.History)
	}
	if err := order.ApplyTransition(OrderStatusPending, "staff-1", "", created); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if err := order.ApplyTransition("eaten", "staff-1", "", created); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown status, got %v", err)
	}
}

func TestInventoryMarksAreOneShot(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	var order Order
	if order.MarkRestocked(now) {
		t.Fatalf("restock without deduction must be refused")
	}
	if !order.MarkInventoryDeducted("staff-1", now) || order.MarkInventoryDeducted("staff-1", now) {
		t.Fatalf("deduction flag must be claimed exactly once")
	}
	if !order.MarkRestocked(now) || order.MarkRestocked(now) {
		t.Fatalf("restock flag must be claimed exactly once")
	}
}

func TestPriceOrder(t *testing.T) {
	t.Parallel()

	fees := OrderFeeSettings{
		ServiceFeeRate: decimal.RequireFromString("0.05"),
		TaxRate:        decimal.RequireFromString("0.075"),
		DeliveryFee:    decimal.NewFromInt(1000),
		Currency:       "NGN",
	}
	items := []LineItem{
		{MenuItemID: "jollof", UnitPrice: decimal.RequireFromString("1999.99"), Quantity: 2, Customizations: []Customization{{Name: "extra", Option: "plantain", Price: decimal.NewFromInt(300)}}},
		{MenuItemID: "chapman", UnitPrice: decimal.NewFromInt(1000), Quantity: 1},
	}
	totals, priced, err := PriceOrder(PriceInput{
		Items:       items,
		Type:        OrderTypeDelivery,
		Fees:        fees,
		Discount:    decimal.NewFromInt(500),
		PointsValue: decimal.NewFromInt(100),
		Tip:         decimal.RequireFromString("250.005"),
	})
	if err != nil {
		t.Fatalf("price order: %v", err)
	}
	if !priced[0].Subtotal.Equal(decimal.RequireFromString("4599.98")) {
		t.Fatalf("unexpected line subtotal %s", priced[0].Subtotal)
	}
	if !totals.Subtotal.Equal(decimal.RequireFromString("5599.98")) {
		t.Fatalf("unexpected subtotal %s", totals.Subtotal)
	}
	if !totals.ServiceFee.Equal(decimal.RequireFromString("280")) || !totals.Tax.Equal(decimal.RequireFromString("420")) {
		t.Fatalf("unexpected fees %s / %s", totals.ServiceFee, totals.Tax)
	}
	if !totals.Total.Equal(totals.ComputeTotal()) {
		t.Fatalf("total %s does not satisfy the breakdown equation", totals.Total)
	}
	if !totals.Total.Equal(decimal.RequireFromString("6949.99")) {
		t.Fatalf("unexpected total %s", totals.Total)
	}

	dineIn, _, err := PriceOrder(PriceInput{Items: items, Type: OrderTypeDineIn, Fees: fees})
	if err != nil {
		t.Fatalf("price dine-in: %v", err)
	}
	if !dineIn.DeliveryFee.IsZero() {
		t.Fatalf("dine-in must not carry a delivery fee")
	}
}

func TestPriceOrderRejectsBadInput(t *testing.T) {
	t.Parallel()

	item := LineItem{MenuItemID: "suya", UnitPrice: decimal.NewFromInt(1000), Quantity: 1}
	cases := map[string]PriceInput{
		"no items":         {Type: OrderTypePickup},
		"zero quantity":    {Items: []LineItem{{MenuItemID: "suya", UnitPrice: decimal.NewFromInt(1)}}},
		"negative tip":     {Items: []LineItem{item}, Tip: decimal.NewFromInt(-1)},
		"points over owed": {Items: []LineItem{item}, PointsValue: decimal.NewFromInt(1001)},
	}
	for name, in := range cases {
		if _, _, err := PriceOrder(in); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
}

func TestCustomerOwnership(t *testing.T) {
	t.Parallel()

	guest := Customer{GuestName: "Ada", GuestEmail: " Ada@Example.com ", GuestPhone: "0800"}
	if !guest.IsGuest() || guest.OwnerID() != "guest:ada@example.com" {
		t.Fatalf("unexpected guest owner %q", guest.OwnerID())
	}
	if err := (Customer{GuestName: "Ada"}).Validate(); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected incomplete guest to fail, got %v", err)
	}
	if (Customer{UserID: "user-1"}).OwnerID() != "user-1" {
		t.Fatalf("registered owner must be the user id")
	}
}
