package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

type Repositories struct {
	Orders      ports.OrderRepository
	Tabs        ports.TabRepository
	Payments    ports.PaymentRepository
	Points      ports.PointsRepository
	RewardRules ports.RewardRuleRepository
	Rewards     ports.RewardRepository
	Settings    ports.SettingsRepository
	Audit       ports.AuditLogRepository
	Idempotency ports.IdempotencyRepository
	Outbox      ports.OutboxRepository
}

func NewRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Orders:      &orderRepository{db: db},
		Tabs:        &tabRepository{db: db},
		Payments:    &paymentRepository{db: db},
		Points:      &pointsRepository{db: db},
		RewardRules: &rewardRuleRepository{db: db},
		Rewards:     &rewardRepository{db: db},
		Settings:    &settingsRepository{db: db},
		Audit:       &auditRepository{db: db},
		Idempotency: &idempotencyRepository{db: db},
		Outbox:      &outboxRepository{db: db},
	}
}

type tabler interface {
	TableName() string
}

// conditionalUpdate writes every column of row where the stored version still equals
// expectedVersion. Zero affected rows means a stale write or a missing row.
func conditionalUpdate(ctx context.Context, db *gorm.DB, row tabler, idColumn, id string, expectedVersion int64) error {
	res := db.WithContext(ctx).
		Model(row).
		Where(idColumn+" = ?", id).
		Where("version = ?", expectedVersion).
		Select("*").
		Updates(row)
	if res.Error != nil {
		if isUniqueViolation(res.Error) {
			return domain.ErrConflict
		}
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var count int64
	if err := db.WithContext(ctx).Table(row.TableName()).Where(idColumn+" = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrConflict
}

func createRow(ctx context.Context, db *gorm.DB, row any) error {
	if err := db.WithContext(ctx).Create(row).Error; err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return err
	}
	return nil
}
