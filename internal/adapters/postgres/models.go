package postgres

import (
	"time"

	"github.com/shopspring/decimal"
)

// Aggregates are stored as a JSONB document with the queried fields projected into columns.

type orderModel struct {
	ID             string          `gorm:"column:id;primaryKey"`
	IdempotencyKey string          `gorm:"column:idempotency_key"`
	OwnerID        string          `gorm:"column:owner_id"`
	OrderType      string          `gorm:"column:order_type"`
	Status         string          `gorm:"column:status"`
	TabID          *string         `gorm:"column:tab_id"`
	Total          decimal.Decimal `gorm:"column:total;type:numeric(14,2)"`
	PaymentStatus  string          `gorm:"column:payment_status"`
	Document       string          `gorm:"column:document;type:jsonb"`
	Version        int64           `gorm:"column:version"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (orderModel) TableName() string { return "orders" }

type tabModel struct {
	ID          string    `gorm:"column:id;primaryKey"`
	TabNumber   string    `gorm:"column:tab_number"`
	TableNumber string    `gorm:"column:table_number"`
	Status      string    `gorm:"column:status"`
	OwnerID     *string   `gorm:"column:owner_id"`
	Document    string    `gorm:"column:document;type:jsonb"`
	Version     int64     `gorm:"column:version"`
	OpenedAt    time.Time `gorm:"column:opened_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (tabModel) TableName() string { return "tabs" }

type paymentModel struct {
	ID        string          `gorm:"column:id;primaryKey"`
	Reference string          `gorm:"column:reference"`
	OrderID   *string         `gorm:"column:order_id"`
	TabID     *string         `gorm:"column:tab_id"`
	Status    string          `gorm:"column:status"`
	Method    string          `gorm:"column:method"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(14,2)"`
	Document  string          `gorm:"column:document;type:jsonb"`
	Version   int64           `gorm:"column:version"`
	CreatedAt time.Time       `gorm:"column:created_at"`
	UpdatedAt time.Time       `gorm:"column:updated_at"`
}

func (paymentModel) TableName() string { return "payments" }

type pointsTransactionModel struct {
	ID           string    `gorm:"column:id;primaryKey"`
	UserID       string    `gorm:"column:user_id"`
	Sequence     int64     `gorm:"column:sequence"`
	TxType       string    `gorm:"column:tx_type"`
	Amount       int64     `gorm:"column:amount"`
	OrderID      *string   `gorm:"column:order_id"`
	RewardID     *string   `gorm:"column:reward_id"`
	Description  string    `gorm:"column:description"`
	BalanceAfter int64     `gorm:"column:balance_after"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

func (pointsTransactionModel) TableName() string { return "points_transactions" }

type rewardRuleModel struct {
	ID        string    `gorm:"column:id;primaryKey"`
	Active    bool      `gorm:"column:active"`
	Document  string    `gorm:"column:document;type:jsonb"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (rewardRuleModel) TableName() string { return "reward_rules" }

type rewardModel struct {
	ID                string    `gorm:"column:id;primaryKey"`
	Code              string    `gorm:"column:code"`
	RuleID            string    `gorm:"column:rule_id"`
	UserID            string    `gorm:"column:user_id"`
	Status            string    `gorm:"column:status"`
	RedeemedInOrderID *string   `gorm:"column:redeemed_in_order_id"`
	ExpiresAt         time.Time `gorm:"column:expires_at"`
	Document          string    `gorm:"column:document;type:jsonb"`
	Version           int64     `gorm:"column:version"`
}

func (rewardModel) TableName() string { return "rewards" }

type settingsModel struct {
	Key       string    `gorm:"column:settings_key;primaryKey"`
	Value     string    `gorm:"column:value;type:jsonb"`
	UpdatedBy *string   `gorm:"column:updated_by"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

func (settingsModel) TableName() string { return "settings" }

type auditModel struct {
	ID         string    `gorm:"column:id;primaryKey"`
	ActorID    string    `gorm:"column:actor_id"`
	Action     string    `gorm:"column:action"`
	Resource   string    `gorm:"column:resource"`
	ResourceID string    `gorm:"column:resource_id"`
	Details    *string   `gorm:"column:details;type:jsonb"`
	At         time.Time `gorm:"column:at"`
}

func (auditModel) TableName() string { return "audit_log" }

type idempotencyModel struct {
	IdempotencyKey string    `gorm:"column:idempotency_key;primaryKey"`
	RequestHash    string    `gorm:"column:request_hash"`
	Status         string    `gorm:"column:status"`
	ResponseCode   int       `gorm:"column:response_code"`
	ResponseBody   *string   `gorm:"column:response_body;type:jsonb"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	UpdatedAt      time.Time `gorm:"column:updated_at"`
}

func (idempotencyModel) TableName() string { return "idempotency_keys" }

type outboxModel struct {
	OutboxID       string     `gorm:"column:outbox_id;primaryKey"`
	EventType      string     `gorm:"column:event_type"`
	PartitionKey   string     `gorm:"column:partition_key"`
	Payload        string     `gorm:"column:payload;type:jsonb"`
	CreatedAt      time.Time  `gorm:"column:created_at"`
	PublishedAt    *time.Time `gorm:"column:published_at"`
	RetryCount     int        `gorm:"column:retry_count"`
	LastError      *string    `gorm:"column:last_error"`
	LastErrorAt    *time.Time `gorm:"column:last_error_at"`
	ClaimToken     *string    `gorm:"column:claim_token"`
	ClaimUntil     *time.Time `gorm:"column:claim_until"`
	DeadLetteredAt *time.Time `gorm:"column:dead_lettered_at"`
}

func (outboxModel) TableName() string { return "outbox" }
