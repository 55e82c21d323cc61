package domain

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDefaultSettingsAreValid(t *testing.T) {
	t.Parallel()

	for _, key := range []SettingsKey{SettingsOrderFees, SettingsPoints, SettingsWaitTimes} {
		value, err := DefaultSettings(key)
		if err != nil {
			t.Fatalf("%s: %v", key, err)
		}
		if value.Key() != key {
			t.Fatalf("%s: default reports key %s", key, value.Key())
		}
		if err := value.Validate(); err != nil {
			t.Fatalf("%s default invalid: %v", key, err)
		}
	}
	if _, err := DefaultSettings("menu"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected unknown key to fail, got %v", err)
	}
}

func TestDecodeSettingsPicksVariantByKey(t *testing.T) {
	t.Parallel()

	value, err := DecodeSettings(SettingsPoints, []byte(`{"earn_rate":"0.02","redemption_value":"5","insufficient_policy":"ignore","inactivity_expiry_days":90}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	points, ok := value.(PointsSettings)
	if !ok {
		t.Fatalf("expected PointsSettings, got %T", value)
	}
	if points.InsufficientPolicy != PointsPolicyIgnore || points.InactivityExpiryDays != 90 {
		t.Fatalf("unexpected points settings %+v", points)
	}
	if got := points.EarnedFor(decimal.RequireFromString("5625.99")); got != 112 {
		t.Fatalf("expected floor(112.5198) = 112, got %d", got)
	}
	if got := points.ValueOf(3); !got.Equal(decimal.NewFromInt(15)) {
		t.Fatalf("unexpected points value %s", got)
	}

	if _, err := DecodeSettings(SettingsOrderFees, []byte(`{"tax_rate":`)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected malformed json to fail, got %v", err)
	}
}

func TestSettingsValidation(t *testing.T) {
	t.Parallel()

	bad := []Settings{
		OrderFeeSettings{ServiceFeeRate: decimal.NewFromInt(-1), Currency: "NGN"},
		OrderFeeSettings{Currency: "NAIRA"},
		PointsSettings{RedemptionValue: decimal.Zero, InsufficientPolicy: PointsPolicyReject},
		PointsSettings{RedemptionValue: decimal.NewFromInt(1), InsufficientPolicy: "maybe"},
		WaitTimeSettings{PerItemMinutes: -1},
	}
	for _, value := range bad {
		if err := value.Validate(); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("%T %+v: expected invalid input, got %v", value, value, err)
		}
	}
}

func TestWaitEstimate(t *testing.T) {
	t.Parallel()

	cfg := WaitTimeSettings{DineInMinutes: 15, PickupMinutes: 20, DeliveryMinutes: 45, PerItemMinutes: 2}
	items := []LineItem{{Quantity: 2}, {Quantity: 1}}
	if got := cfg.Estimate(OrderTypeDineIn, items); got != 21 {
		t.Fatalf("dine-in estimate %d", got)
	}
	if got := cfg.Estimate(OrderTypeDelivery, items); got != 51 {
		t.Fatalf("delivery estimate %d", got)
	}
}
