package domain

import (
	"crypto/rand"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type RewardType string

const (
	RewardTypePercentageDiscount RewardType = "percentage_discount"
	RewardTypeFixedDiscount      RewardType = "fixed_discount"
	RewardTypeFreeItem           RewardType = "free_item"
	RewardTypePoints             RewardType = "points"
)

type TriggerType string

const (
	TriggerEveryOrder     TriggerType = "every_order"
	TriggerFirstOrder     TriggerType = "first_order"
	TriggerSpendThreshold TriggerType = "spend_threshold"
	TriggerOrderType      TriggerType = "order_type"
)

type ValidityWindow struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

func (w ValidityWindow) Contains(t time.Time) bool {
	return !t.Before(w.From) && t.Before(w.To)
}

type RewardRule struct {
	ID                    string           `json:"id"`
	Name                  string           `json:"name"`
	Active                bool             `json:"active"`
	SpendThreshold        decimal.Decimal  `json:"spend_threshold"`
	Type                  RewardType       `json:"type"`
	Value                 decimal.Decimal  `json:"value"`
	FreeMenuItemID        string           `json:"free_menu_item_id,omitempty"`
	Trigger               TriggerType      `json:"trigger"`
	TriggerOrderType      OrderType        `json:"trigger_order_type,omitempty"`
	Probability           float64          `json:"probability"`
	MaxRedemptionsPerUser int              `json:"max_redemptions_per_user"`
	ValidityDays          int              `json:"validity_days"`
	Windows               []ValidityWindow `json:"windows,omitempty"`
	// Deprecated single campaign range, folded into Windows by NormalizedWindows.
	LegacyStart *time.Time `json:"start_date,omitempty"`
	LegacyEnd   *time.Time `json:"end_date,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NormalizedWindows returns Windows, or the legacy start/end pair when no windows are set.
// A rule with neither is always in window.
func (r RewardRule) NormalizedWindows() []ValidityWindow {
	if len(r.Windows) > 0 {
		return r.Windows
	}
	if r.LegacyStart == nil && r.LegacyEnd == nil {
		return nil
	}
	w := ValidityWindow{From: time.Time{}, To: time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)}
	if r.LegacyStart != nil {
		w.From = *r.LegacyStart
	}
	if r.LegacyEnd != nil {
		w.To = *r.LegacyEnd
	}
	return []ValidityWindow{w}
}

func (r RewardRule) InWindow(now time.Time) bool {
	windows := r.NormalizedWindows()
	if len(windows) == 0 {
		return true
	}
	for _, w := range windows {
		if w.Contains(now) {
			return true
		}
	}
	return false
}

// Matches reports whether the rule's trigger accepts the order. firstOrder tells whether
// this is the user's first completed order.
func (r RewardRule) Matches(o Order, firstOrder bool) bool {
	switch r.Trigger {
	case TriggerEveryOrder:
	case TriggerFirstOrder:
		if !firstOrder {
			return false
		}
	case TriggerSpendThreshold:
	case TriggerOrderType:
		if o.Type != r.TriggerOrderType {
			return false
		}
	default:
		return false
	}
	return !o.Totals.Subtotal.LessThan(r.SpendThreshold)
}

func (r RewardRule) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rule name is required", ErrInvalidInput)
	}
	switch r.Type {
	case RewardTypePercentageDiscount:
		if !r.Value.IsPositive() || r.Value.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("%w: percentage must be in (0, 100]", ErrInvalidInput)
		}
	case RewardTypeFixedDiscount, RewardTypePoints:
		if !r.Value.IsPositive() {
			return fmt.Errorf("%w: reward value must be positive", ErrInvalidInput)
		}
	case RewardTypeFreeItem:
		if strings.TrimSpace(r.FreeMenuItemID) == "" {
			return fmt.Errorf("%w: free item rule requires free_menu_item_id", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown reward type %q", ErrInvalidInput, r.Type)
	}
	switch r.Trigger {
	case TriggerEveryOrder, TriggerFirstOrder, TriggerSpendThreshold:
	case TriggerOrderType:
		if !r.TriggerOrderType.Valid() {
			return fmt.Errorf("%w: order_type trigger requires a valid trigger_order_type", ErrInvalidInput)
		}
	default:
		return fmt.Errorf("%w: unknown trigger %q", ErrInvalidInput, r.Trigger)
	}
	if r.Probability < 0 || r.Probability > 1 {
		return fmt.Errorf("%w: probability must be within [0, 1]", ErrInvalidInput)
	}
	if r.SpendThreshold.IsNegative() || r.MaxRedemptionsPerUser < 0 || r.ValidityDays <= 0 {
		return fmt.Errorf("%w: threshold, cap and validity days are out of range", ErrInvalidInput)
	}
	for _, w := range r.Windows {
		if !w.To.After(w.From) {
			return fmt.Errorf("%w: validity window must end after it starts", ErrInvalidInput)
		}
	}
	return nil
}

type RewardStatus string

const (
	RewardStatusPending  RewardStatus = "pending"
	RewardStatusActive   RewardStatus = "active"
	RewardStatusRedeemed RewardStatus = "redeemed"
	RewardStatusExpired  RewardStatus = "expired"
)

type Reward struct {
	ID                string          `json:"id"`
	RuleID            string          `json:"rule_id"`
	UserID            string          `json:"user_id"`
	OrderID           string          `json:"order_id"`
	Type              RewardType      `json:"type"`
	Value             decimal.Decimal `json:"value"`
	FreeMenuItemID    string          `json:"free_menu_item_id,omitempty"`
	Status            RewardStatus    `json:"status"`
	Code              string          `json:"code"`
	IssuedAt          time.Time       `json:"issued_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
	RedeemedInOrderID string          `json:"redeemed_in_order_id,omitempty"`
	RedeemedAt        *time.Time      `json:"redeemed_at,omitempty"`
	Version           int64           `json:"version"`
}

// Activate moves pending to active. Active is left unchanged.
func (r *Reward) Activate(now time.Time) error {
	switch r.Status {
	case RewardStatusRedeemed:
		return ErrAlreadyRedeemed
	case RewardStatusExpired:
		return ErrExpired
	}
	if !now.Before(r.ExpiresAt) {
		return ErrExpired
	}
	r.Status = RewardStatusActive
	return nil
}

func (r *Reward) Redeem(orderID string, now time.Time) error {
	if r.Status != RewardStatusActive {
		return fmt.Errorf("%w: reward is %s", ErrInvalidState, r.Status)
	}
	if !now.Before(r.ExpiresAt) {
		return ErrExpired
	}
	r.Status = RewardStatusRedeemed
	r.RedeemedInOrderID = orderID
	r.RedeemedAt = &now
	return nil
}

// Reinstate reverses a redemption into a cancelled order.
func (r *Reward) Reinstate(orderID string) error {
	if r.Status != RewardStatusRedeemed || r.RedeemedInOrderID != orderID {
		return fmt.Errorf("%w: reward not redeemed into order %s", ErrInvalidState, orderID)
	}
	r.Status = RewardStatusActive
	r.RedeemedInOrderID = ""
	r.RedeemedAt = nil
	return nil
}

// Expire returns false when the reward is not yet due or already final.
func (r *Reward) Expire(now time.Time) bool {
	if r.Status != RewardStatusPending && r.Status != RewardStatusActive {
		return false
	}
	if now.Before(r.ExpiresAt) {
		return false
	}
	r.Status = RewardStatusExpired
	return true
}

// DiscountFor returns the currency discount the reward grants on subtotal.
func (r Reward) DiscountFor(subtotal decimal.Decimal, items []LineItem) decimal.Decimal {
	switch r.Type {
	case RewardTypePercentageDiscount:
		return RoundMoney(subtotal.Mul(r.Value).Div(decimal.NewFromInt(100)))
	case RewardTypeFixedDiscount:
		return RoundMoney(decimal.Min(r.Value, subtotal))
	case RewardTypeFreeItem:
		for _, item := range items {
			if item.MenuItemID == r.FreeMenuItemID && item.Quantity > 0 {
				return RoundMoney(item.Subtotal.Div(decimal.NewFromInt(int64(item.Quantity))))
			}
		}
	}
	return decimal.Zero
}

const rewardCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewRewardCode returns a random human-typeable code such as RWD-7KQ2M9XA.
func NewRewardCode() (string, error) {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reward code: %w", err)
	}
	out := make([]byte, len(buf))
	for i, b := range buf {
		out[i] = rewardCodeAlphabet[int(b)%len(rewardCodeAlphabet)]
	}
	return "RWD-" + string(out), nil
}
