package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentStatus string

const (
	PaymentStatusPending           PaymentStatus = "pending"
	PaymentStatusProcessing        PaymentStatus = "processing"
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusFailed            PaymentStatus = "failed"
	PaymentStatusCancelled         PaymentStatus = "cancelled"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// paymentTransitions holds the only accepted forward moves. A gateway may report success
// after an earlier failure or abandonment on the same reference, so failed and cancelled
// can still become paid. Nothing moves a paid payment except a refund.
var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:           {PaymentStatusProcessing, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusProcessing:        {PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusFailed:            {PaymentStatusPaid},
	PaymentStatusCancelled:         {PaymentStatusPaid},
	PaymentStatusPaid:              {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
	PaymentStatusPartiallyRefunded: {PaymentStatusPartiallyRefunded, PaymentStatusRefunded},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	for _, next := range paymentTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

type PaymentMethod string

const (
	PaymentMethodCard         PaymentMethod = "card"
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodUSSD         PaymentMethod = "ussd"
	PaymentMethodCash         PaymentMethod = "cash"
	PaymentMethodPOS          PaymentMethod = "pos"
	PaymentMethodGateway      PaymentMethod = "gateway"
)

type Payment struct {
	ID                   string          `json:"id"`
	OrderID              string          `json:"order_id,omitempty"`
	TabID                string          `json:"tab_id,omitempty"`
	Amount               decimal.Decimal `json:"amount"`
	Currency             string          `json:"currency"`
	Method               PaymentMethod   `json:"method"`
	Status               PaymentStatus   `json:"status"`
	Reference            string          `json:"reference"`
	TransactionReference string          `json:"transaction_reference,omitempty"`
	RawPayload           json.RawMessage `json:"raw_payload,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	RefundAmount         decimal.Decimal `json:"refund_amount"`
	RefundReason         string          `json:"refund_reason,omitempty"`
	RefundedAt           *time.Time      `json:"refunded_at,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Target is the entity a payment settles.
func (p Payment) Target() (kind, id string) {
	if p.TabID != "" {
		return "tab", p.TabID
	}
	return "order", p.OrderID
}

// MoveTo applies a forward transition. Moving to the current status is rejected so callers
// can tell a duplicate signal apart from an applied one.
func (p *Payment) MoveTo(to PaymentStatus, at time.Time) error {
	if !CanTransitionPayment(p.Status, to) {
		return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, p.Status, to)
	}
	p.Status = to
	p.UpdatedAt = at
	if to == PaymentStatusPaid {
		p.PaidAt = &at
		p.FailureReason = ""
	}
	return nil
}

// ApplyRefund adds amount to the refunded total and moves the status accordingly.
func (p *Payment) ApplyRefund(amount decimal.Decimal, reason string, at time.Time) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: refund amount must be positive", ErrInvalidInput)
	}
	if strings.TrimSpace(reason) == "" {
		return fmt.Errorf("%w: refund reason is required", ErrInvalidInput)
	}
	if p.Status != PaymentStatusPaid && p.Status != PaymentStatusPartiallyRefunded {
		return fmt.Errorf("%w: payment %s cannot be refunded", ErrInvalidState, p.Status)
	}
	refunded := RoundMoney(p.RefundAmount.Add(amount))
	if refunded.GreaterThan(p.Amount) {
		return fmt.Errorf("%w: refund exceeds captured amount", ErrInvalidInput)
	}
	next := PaymentStatusPartiallyRefunded
	if refunded.Equal(p.Amount) {
		next = PaymentStatusRefunded
	}
	if err := p.MoveTo(next, at); err != nil {
		return err
	}
	p.RefundAmount = refunded
	p.RefundReason = reason
	p.RefundedAt = &at
	return nil
}

// NormalizeGatewayStatus maps gateway vocabulary onto payment statuses.
func NormalizeGatewayStatus(raw string) (PaymentStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "successful", "paid", "completed":
		return PaymentStatusPaid, true
	case "failed", "failure", "reversed":
		return PaymentStatusFailed, true
	case "abandoned", "cancelled", "canceled":
		return PaymentStatusCancelled, true
	case "pending", "ongoing", "queued":
		return PaymentStatusPending, true
	case "processing":
		return PaymentStatusProcessing, true
	default:
		return "", false
	}
}
