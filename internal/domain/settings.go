package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type SettingsKey string

const (
	SettingsOrderFees SettingsKey = "order_fees"
	SettingsPoints    SettingsKey = "points"
	SettingsWaitTimes SettingsKey = "wait_times"
)

// Settings is a closed union; each variant owns one settings key.
type Settings interface {
	Key() SettingsKey
	Validate() error
	isSettings()
}

type OrderFeeSettings struct {
	ServiceFeeRate decimal.Decimal `json:"service_fee_rate"`
	TaxRate        decimal.Decimal `json:"tax_rate"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	Currency       string          `json:"currency"`
}

func (OrderFeeSettings) Key() SettingsKey { return SettingsOrderFees }
func (OrderFeeSettings) isSettings()      {}

func (s OrderFeeSettings) Validate() error {
	one := decimal.NewFromInt(1)
	if s.ServiceFeeRate.IsNegative() || s.ServiceFeeRate.GreaterThan(one) {
		return fmt.Errorf("%w: service_fee_rate must be within [0, 1]", ErrInvalidInput)
	}
	if s.TaxRate.IsNegative() || s.TaxRate.GreaterThan(one) {
		return fmt.Errorf("%w: tax_rate must be within [0, 1]", ErrInvalidInput)
	}
	if s.DeliveryFee.IsNegative() {
		return fmt.Errorf("%w: delivery_fee must not be negative", ErrInvalidInput)
	}
	if len(strings.TrimSpace(s.Currency)) != 3 {
		return fmt.Errorf("%w: currency must be a 3 letter code", ErrInvalidInput)
	}
	return nil
}

// PointsPolicy decides what checkout does when requested points exceed the balance.
type PointsPolicy string

const (
	PointsPolicyReject PointsPolicy = "reject"
	PointsPolicyIgnore PointsPolicy = "ignore"
)

type PointsSettings struct {
	// EarnRate is points earned per currency unit of order total.
	EarnRate decimal.Decimal `json:"earn_rate"`
	// RedemptionValue is the currency value of one point.
	RedemptionValue      decimal.Decimal `json:"redemption_value"`
	InsufficientPolicy   PointsPolicy    `json:"insufficient_policy"`
	InactivityExpiryDays int             `json:"inactivity_expiry_days"`
}

func (PointsSettings) Key() SettingsKey { return SettingsPoints }
func (PointsSettings) isSettings()      {}

func (s PointsSettings) Validate() error {
	if s.EarnRate.IsNegative() {
		return fmt.Errorf("%w: earn_rate must not be negative", ErrInvalidInput)
	}
	if !s.RedemptionValue.IsPositive() {
		return fmt.Errorf("%w: redemption_value must be positive", ErrInvalidInput)
	}
	if s.InsufficientPolicy != PointsPolicyReject && s.InsufficientPolicy != PointsPolicyIgnore {
		return fmt.Errorf("%w: insufficient_policy must be reject or ignore", ErrInvalidInput)
	}
	if s.InactivityExpiryDays < 0 {
		return fmt.Errorf("%w: inactivity_expiry_days must not be negative", ErrInvalidInput)
	}
	return nil
}

// EarnedFor floors total * EarnRate to whole points.
func (s PointsSettings) EarnedFor(total decimal.Decimal) int64 {
	return total.Mul(s.EarnRate).Floor().IntPart()
}

func (s PointsSettings) ValueOf(points int64) decimal.Decimal {
	return RoundMoney(decimal.NewFromInt(points).Mul(s.RedemptionValue))
}

type WaitTimeSettings struct {
	DineInMinutes   int `json:"dine_in_minutes"`
	PickupMinutes   int `json:"pickup_minutes"`
	DeliveryMinutes int `json:"delivery_minutes"`
	PerItemMinutes  int `json:"per_item_minutes"`
}

func (WaitTimeSettings) Key() SettingsKey { return SettingsWaitTimes }
func (WaitTimeSettings) isSettings()      {}

func (s WaitTimeSettings) Validate() error {
	if s.DineInMinutes < 0 || s.PickupMinutes < 0 || s.DeliveryMinutes < 0 || s.PerItemMinutes < 0 {
		return fmt.Errorf("%w: wait times must not be negative", ErrInvalidInput)
	}
	return nil
}

func (s WaitTimeSettings) Estimate(orderType OrderType, items []LineItem) int {
	base := s.DineInMinutes
	switch orderType {
	case OrderTypePickup:
		base = s.PickupMinutes
	case OrderTypeDelivery:
		base = s.DeliveryMinutes
	}
	qty := 0
	for _, item := range items {
		qty += item.Quantity
	}
	return base + qty*s.PerItemMinutes
}

func DefaultSettings(key SettingsKey) (Settings, error) {
	switch key {
	case SettingsOrderFees:
		return OrderFeeSettings{
			ServiceFeeRate: decimal.RequireFromString("0.05"),
			TaxRate:        decimal.RequireFromString("0.075"),
			DeliveryFee:    decimal.NewFromInt(1000),
			Currency:       DefaultCurrency,
		}, nil
	case SettingsPoints:
		return PointsSettings{
			EarnRate:           decimal.RequireFromString("0.01"),
			RedemptionValue:    decimal.NewFromInt(1),
			InsufficientPolicy: PointsPolicyReject,
		}, nil
	case SettingsWaitTimes:
		return WaitTimeSettings{DineInMinutes: 15, PickupMinutes: 20, DeliveryMinutes: 45, PerItemMinutes: 2}, nil
	default:
		return nil, fmt.Errorf("%w: unknown settings key %q", ErrInvalidInput, key)
	}
}

// DecodeSettings parses raw JSON into the variant owned by key.
func DecodeSettings(key SettingsKey, raw []byte) (Settings, error) {
	var (
		out Settings
		err error
	)
	switch key {
	case SettingsOrderFees:
		var v OrderFeeSettings
		err = json.Unmarshal(raw, &v)
		out = v
	case SettingsPoints:
		var v PointsSettings
		err = json.Unmarshal(raw, &v)
		out = v
	case SettingsWaitTimes:
		var v WaitTimeSettings
		err = json.Unmarshal(raw, &v)
		out = v
	default:
		return nil, fmt.Errorf("%w: unknown settings key %q", ErrInvalidInput, key)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s settings: %v", ErrInvalidInput, key, err)
	}
	return out, nil
}

type SettingsRecord struct {
	Key       SettingsKey `json:"key"`
	Value     Settings    `json:"value"`
	UpdatedBy string      `json:"updated_by,omitempty"`
	UpdatedAt time.Time   `json:"updated_at"`
}

type AuditEntry struct {
	ID         string         `json:"id"`
	ActorID    string         `json:"actor_id"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	ResourceID string         `json:"resource_id"`
	Details    map[string]any `json:"details,omitempty"`
	At         time.Time      `json:"at"`
}
