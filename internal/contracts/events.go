package contracts

import (
	"encoding/json"
	"time"
)

type EventEnvelope struct {
	EventID          string          `json:"event_id"`
	EventType        string          `json:"event_type"`
	EventClass       string          `json:"event_class,omitempty"`
	OccurredAt       time.Time       `json:"occurred_at"`
	PartitionKeyPath string          `json:"partition_key_path"`
	PartitionKey     string          `json:"partition_key"`
	SourceService    string          `json:"source_service"`
	TraceID          string          `json:"trace_id"`
	SchemaVersion    string          `json:"schema_version"`
	Data             json.RawMessage `json:"data"`
}

type OrderCreatedPayload struct {
	OrderID   string `json:"order_id"`
	OwnerID   string `json:"owner_id"`
	OrderType string `json:"order_type"`
	TabID     string `json:"tab_id,omitempty"`
	Total     string `json:"total"`
	CreatedAt string `json:"created_at"`
}

type OrderStatusChangedPayload struct {
	OrderID   string `json:"order_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	ActorID   string `json:"actor_id,omitempty"`
	Note      string `json:"note,omitempty"`
	ChangedAt string `json:"changed_at"`
}

type PaymentPayload struct {
	PaymentID            string `json:"payment_id"`
	Reference            string `json:"reference"`
	OrderID              string `json:"order_id,omitempty"`
	TabID                string `json:"tab_id,omitempty"`
	Amount               string `json:"amount"`
	Status               string `json:"status"`
	TransactionReference string `json:"transaction_reference,omitempty"`
	Reason               string `json:"reason,omitempty"`
	At                   string `json:"at"`
}

type TabPayload struct {
	TabID       string `json:"tab_id"`
	Number      string `json:"number"`
	TableNumber string `json:"table_number"`
	Status      string `json:"status"`
	Total       string `json:"total"`
	At          string `json:"at"`
}

type PointsPayload struct {
	UserID       string `json:"user_id"`
	Type         string `json:"type"`
	Amount       int64  `json:"amount"`
	BalanceAfter int64  `json:"balance_after"`
	OrderID      string `json:"order_id,omitempty"`
	At           string `json:"at"`
}

type RewardIssuedPayload struct {
	RewardID  string `json:"reward_id"`
	RuleID    string `json:"rule_id"`
	UserID    string `json:"user_id"`
	OrderID   string `json:"order_id"`
	Type      string `json:"type"`
	ExpiresAt string `json:"expires_at"`
}
