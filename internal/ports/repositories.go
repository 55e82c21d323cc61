package ports

import (
	"context"
	"time"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

// OrderRepository persists orders. Update is conditional on order.Version and bumps it;
// a stale version yields domain.ErrConflict.
type OrderRepository interface {
	Create(ctx context.Context, order domain.Order) error
	Get(ctx context.Context, orderID string) (domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	ListByIDs(ctx context.Context, orderIDs []string) ([]domain.Order, error)
	ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Order, int, error)
	CountCompletedByOwner(ctx context.Context, ownerID string) (int, error)
}

type TabRepository interface {
	Create(ctx context.Context, tab domain.Tab) error
	Get(ctx context.Context, tabID string) (domain.Tab, error)
	GetOpenByTable(ctx context.Context, tableNumber string) (domain.Tab, error)
	Update(ctx context.Context, tab domain.Tab) (domain.Tab, error)
	ListOpen(ctx context.Context) ([]domain.Tab, error)
}

type PaymentRepository interface {
	Create(ctx context.Context, payment domain.Payment) error
	GetByReference(ctx context.Context, reference string) (domain.Payment, error)
	GetPaidForTarget(ctx context.Context, orderID, tabID string) (domain.Payment, error)
	Update(ctx context.Context, payment domain.Payment) (domain.Payment, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error)
}

// PointsRepository is append-only. Append fails with domain.ErrConflict when the entry's
// sequence is already taken for the user.
type PointsRepository interface {
	Latest(ctx context.Context, userID string) (*domain.PointsTransaction, error)
	Append(ctx context.Context, tx domain.PointsTransaction) error
	History(ctx context.Context, userID string, limit, skip int) ([]domain.PointsTransaction, int, error)
	ListAscending(ctx context.Context, userID string) ([]domain.PointsTransaction, error)
	ListInactiveWithBalance(ctx context.Context, cutoff time.Time, limit int) ([]domain.PointsTransaction, error)
}

type RewardRuleRepository interface {
	Create(ctx context.Context, rule domain.RewardRule) error
	Update(ctx context.Context, rule domain.RewardRule) error
	Get(ctx context.Context, ruleID string) (domain.RewardRule, error)
	List(ctx context.Context, activeOnly bool) ([]domain.RewardRule, error)
}

type RewardRepository interface {
	Create(ctx context.Context, reward domain.Reward) error
	Get(ctx context.Context, rewardID string) (domain.Reward, error)
	GetByCode(ctx context.Context, code string) (domain.Reward, error)
	Update(ctx context.Context, reward domain.Reward) (domain.Reward, error)
	ListByUser(ctx context.Context, userID string) ([]domain.Reward, error)
	CountIssued(ctx context.Context, ruleID, userID string) (int, error)
	ListRedeemedInOrder(ctx context.Context, orderID string) ([]domain.Reward, error)
	ListExpiring(ctx context.Context, now time.Time, limit int) ([]domain.Reward, error)
}

type SettingsRepository interface {
	Get(ctx context.Context, key domain.SettingsKey) (domain.SettingsRecord, error)
	Put(ctx context.Context, record domain.SettingsRecord) error
}

type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditEntry) error
	List(ctx context.Context, resource, resourceID string, limit int) ([]domain.AuditEntry, error)
}

type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       string
	ResponseCode int
	ResponseBody []byte
	ExpiresAt    time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type IdempotencyRepository interface {
	Get(ctx context.Context, key string, now time.Time) (*IdempotencyRecord, error)
	Reserve(ctx context.Context, key, requestHash string, expiresAt time.Time) error
	Complete(ctx context.Context, key string, responseCode int, responseBody []byte, at time.Time) error
	Release(ctx context.Context, key string) error
}

type OutboxRecord struct {
	OutboxID       string
	EventType      string
	PartitionKey   string
	Payload        []byte
	RetryCount     int
	LastError      *string
	CreatedAt      time.Time
	PublishedAt    *time.Time
	LastErrorAt    *time.Time
	ClaimToken     *string
	ClaimUntil     *time.Time
	DeadLetteredAt *time.Time
}

type OutboxRepository interface {
	Enqueue(ctx context.Context, record OutboxRecord) error
	ClaimUnpublished(ctx context.Context, limit int, claimToken string, claimUntil time.Time) ([]OutboxRecord, error)
	MarkPublished(ctx context.Context, outboxID, claimToken string, at time.Time) error
	MarkFailed(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
	MarkDeadLettered(ctx context.Context, outboxID, claimToken, errMsg string, at time.Time) error
}
