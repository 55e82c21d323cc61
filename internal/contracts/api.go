package contracts

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type Pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

type CustomizationRequest struct {
	Name   string          `json:"name"`
	Option string          `json:"option"`
	Price  decimal.Decimal `json:"price"`
}

type LineItemRequest struct {
	MenuItemID     string                 `json:"menu_item_id"`
	Name           string                 `json:"name"`
	UnitPrice      decimal.Decimal        `json:"unit_price"`
	Quantity       int                    `json:"quantity"`
	Customizations []CustomizationRequest `json:"customizations,omitempty"`
}

type CreateOrderRequest struct {
	IdempotencyKey string            `json:"idempotency_key"`
	UserID         string            `json:"user_id,omitempty"`
	GuestName      string            `json:"guest_name,omitempty"`
	GuestEmail     string            `json:"guest_email,omitempty"`
	GuestPhone     string            `json:"guest_phone,omitempty"`
	OrderType      string            `json:"order_type"`
	TabID          string            `json:"tab_id,omitempty"`
	Items          []LineItemRequest `json:"items"`
	Tip            decimal.Decimal   `json:"tip"`
	PointsToUse    int64             `json:"points_to_use,omitempty"`
	PointsItemIDs  []string          `json:"points_item_ids,omitempty"`
	RewardCodes    []string          `json:"reward_codes,omitempty"`
}

type TransitionOrderRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

type BatchTransitionRequest struct {
	OrderIDs []string `json:"order_ids"`
	Status   string   `json:"status"`
	Note     string   `json:"note,omitempty"`
}

type OpenTabRequest struct {
	TableNumber string `json:"table_number"`
	OwnerID     string `json:"owner_id,omitempty"`
}

type AttachOrderRequest struct {
	OrderID string `json:"order_id"`
}

type SettleTabRequest struct {
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type ManualSettleRequest struct {
	Reason string `json:"reason"`
}

type PaymentSessionRequest struct {
	OrderID     string `json:"order_id,omitempty"`
	TabID       string `json:"tab_id,omitempty"`
	Email       string `json:"email"`
	Name        string `json:"name,omitempty"`
	Phone       string `json:"phone,omitempty"`
	CallbackURL string `json:"callback_url,omitempty"`
}

type ManualPaymentRequest struct {
	OrderID string `json:"order_id,omitempty"`
	TabID   string `json:"tab_id,omitempty"`
	Method  string `json:"method"`
	Note    string `json:"note,omitempty"`
}

type RefundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

type PointsAdjustmentRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type ValidityWindowRequest struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type RewardRuleRequest struct {
	Name                  string                  `json:"name"`
	Active                bool                    `json:"active"`
	SpendThreshold        decimal.Decimal         `json:"spend_threshold"`
	Type                  string                  `json:"type"`
	Value                 decimal.Decimal         `json:"value"`
	FreeMenuItemID        string                  `json:"free_menu_item_id,omitempty"`
	Trigger               string                  `json:"trigger"`
	TriggerOrderType      string                  `json:"trigger_order_type,omitempty"`
	Probability           float64                 `json:"probability"`
	MaxRedemptionsPerUser int                     `json:"max_redemptions_per_user"`
	ValidityDays          int                     `json:"validity_days"`
	Windows               []ValidityWindowRequest `json:"windows,omitempty"`
	StartDate             *time.Time              `json:"start_date,omitempty"`
	EndDate               *time.Time              `json:"end_date,omitempty"`
}

type ValidateRewardCodeRequest struct {
	UserID string `json:"user_id"`
	Code   string `json:"code"`
}

type UpdateSettingsRequest struct {
	Value json.RawMessage `json:"value"`
}
