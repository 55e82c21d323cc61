package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestPaymentTransitionsAreForwardOnly(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	p := Payment{Status: PaymentStatusPending, Amount: decimal.NewFromInt(5000)}
	if err := p.MoveTo(PaymentStatusFailed, now); err != nil {
		t.Fatalf("pending -> failed: %v", err)
	}
	// A late success on a failed reference is still accepted.
	if err := p.MoveTo(PaymentStatusPaid, now); err != nil {
		t.Fatalf("failed -> paid: %v", err)
	}
	if p.PaidAt == nil {
		t.Fatalf("paid payment must carry PaidAt")
	}
	for _, to := range []PaymentStatus{PaymentStatusPaid, PaymentStatusFailed, PaymentStatusPending, PaymentStatusCancelled} {
		if err := p.MoveTo(to, now); !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("paid -> %s: expected invalid transition, got %v", to, err)
		}
	}
}

func TestApplyRefund(t *testing.T) {
	t.Parallel()

	now := time.Now().UTC()
	p := Payment{Status: PaymentStatusPaid, Amount: decimal.NewFromInt(5000)}
	if err := p.ApplyRefund(decimal.NewFromInt(2000), "cold food", now); err != nil {
		t.Fatalf("partial refund: %v", err)
	}
	if p.Status != PaymentStatusPartiallyRefunded {
		t.Fatalf("expected partially refunded, got %s", p.Status)
	}
	if err := p.ApplyRefund(decimal.NewFromInt(3001), "more", now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected over-refund rejection, got %v", err)
	}
	if err := p.ApplyRefund(decimal.NewFromInt(3000), "rest", now); err != nil {
		t.Fatalf("final refund: %v", err)
	}
	if p.Status != PaymentStatusRefunded || !p.RefundAmount.Equal(decimal.NewFromInt(5000)) {
		t.Fatalf("unexpected refund state %s %s", p.Status, p.RefundAmount)
	}
	if err := p.ApplyRefund(decimal.NewFromInt(1), "again", now); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected refunded payment to reject refunds, got %v", err)
	}

	pending := Payment{Status: PaymentStatusPending, Amount: decimal.NewFromInt(10)}
	if err := pending.ApplyRefund(decimal.NewFromInt(1), "x", now); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected pending refund rejection, got %v", err)
	}
	if err := pending.ApplyRefund(decimal.NewFromInt(1), " ", now); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected missing reason rejection, got %v", err)
	}
}

func TestNormalizeGatewayStatus(t *testing.T) {
	t.Parallel()

	cases := map[string]PaymentStatus{
		"success":    PaymentStatusPaid,
		" Success ":  PaymentStatusPaid,
		"failed":     PaymentStatusFailed,
		"reversed":   PaymentStatusFailed,
		"abandoned":  PaymentStatusCancelled,
		"ongoing":    PaymentStatusPending,
		"processing": PaymentStatusProcessing,
	}
	for raw, want := range cases {
		got, ok := NormalizeGatewayStatus(raw)
		if !ok || got != want {
			t.Fatalf("%q: got %s,%v want %s", raw, got, ok, want)
		}
	}
	if _, ok := NormalizeGatewayStatus("mystery"); ok {
		t.Fatalf("unknown gateway status must not normalize")
	}
}

func TestPaymentTarget(t *testing.T) {
	t.Parallel()

	if kind, id := (Payment{TabID: "tab-1", OrderID: "ignored"}).Target(); kind != "tab" || id != "tab-1" {
		t.Fatalf("unexpected tab target %s/%s", kind, id)
	}
	if kind, id := (Payment{OrderID: "order-1"}).Target(); kind != "order" || id != "order-1" {
		t.Fatalf("unexpected order target %s/%s", kind, id)
	}
}

func TestMinorUnits(t *testing.T) {
	t.Parallel()

	if got := ToMinorUnits(decimal.RequireFromString("5625.505")); got != 562551 {
		t.Fatalf("unexpected minor units %d", got)
	}
	if got := FromMinorUnits(562550); !got.Equal(decimal.RequireFromString("5625.5")) {
		t.Fatalf("unexpected major units %s", got)
	}
}
