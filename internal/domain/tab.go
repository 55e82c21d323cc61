package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TabStatus string

const (
	TabStatusOpen     TabStatus = "open"
	TabStatusSettling TabStatus = "settling"
	TabStatusClosed   TabStatus = "closed"
)

type Tab struct {
	ID               string        `json:"id"`
	Number           string        `json:"number"`
	TableNumber      string        `json:"table_number"`
	Status           TabStatus     `json:"status"`
	OwnerID          string        `json:"owner_id,omitempty"`
	OpenedBy         string        `json:"opened_by"`
	OrderIDs         []string      `json:"order_ids"`
	Totals           Totals        `json:"totals"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PaymentReference string        `json:"payment_reference,omitempty"`
	OpenedAt         time.Time     `json:"opened_at"`
	ClosedAt         *time.Time    `json:"closed_at,omitempty"`
	Version          int64         `json:"version"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

func NewTabNumber(tableNumber string, at time.Time) string {
	return fmt.Sprintf("TAB-%s-%s", strings.ToUpper(strings.TrimSpace(tableNumber)), at.UTC().Format("20060102150405"))
}

func (t Tab) HasOrder(orderID string) bool {
	for _, id := range t.OrderIDs {
		if id == orderID {
			return true
		}
	}
	return false
}

// RecomputeTotals sums every non-cancelled member. Orders not listed on the tab are ignored.
func (t *Tab) RecomputeTotals(members []Order) {
	sum := Totals{
		Subtotal:    decimal.Zero,
		ServiceFee:  decimal.Zero,
		Tax:         decimal.Zero,
		DeliveryFee: decimal.Zero,
		Discount:    decimal.Zero,
		PointsValue: decimal.Zero,
		Tip:         decimal.Zero,
		Total:       decimal.Zero,
	}
	for _, o := range members {
		if o.Status == OrderStatusCancelled || !t.HasOrder(o.ID) {
			continue
		}
		sum = sum.Add(o.Totals)
	}
	t.Totals = sum
}

func (t *Tab) BeginSettlement(reference string, at time.Time) error {
	if t.Status == TabStatusClosed {
		return fmt.Errorf("%w: tab is closed", ErrInvalidState)
	}
	t.Status = TabStatusSettling
	t.PaymentReference = reference
	t.PaymentStatus = PaymentStatusPending
	t.UpdatedAt = at
	return nil
}

// ReopenAfterFailedPayment returns a settling tab to open so another attempt can be made.
func (t *Tab) ReopenAfterFailedPayment(status PaymentStatus, at time.Time) {
	if t.Status != TabStatusSettling {
		return
	}
	t.Status = TabStatusOpen
	t.PaymentStatus = status
	t.UpdatedAt = at
}

// Close requires a paid tab unless override is set by an audited admin action.
func (t *Tab) Close(at time.Time, override bool) error {
	if t.Status == TabStatusClosed {
		return fmt.Errorf("%w: tab already closed", ErrInvalidState)
	}
	if t.PaymentStatus != PaymentStatusPaid && !override {
		return fmt.Errorf("%w: tab payment status is %s", ErrInvalidState, t.PaymentStatus)
	}
	t.Status = TabStatusClosed
	t.ClosedAt = &at
	t.UpdatedAt = at
	return nil
}
