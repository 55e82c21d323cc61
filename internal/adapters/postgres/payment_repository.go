package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

var settledPaymentStatuses = []string{
	string(domain.PaymentStatusPaid),
	string(domain.PaymentStatusPartiallyRefunded),
	string(domain.PaymentStatusRefunded),
}

type paymentRepository struct {
	db *gorm.DB
}

func (r *paymentRepository) Create(ctx context.Context, payment domain.Payment) error {
	row, err := toPaymentModel(payment)
	if err != nil {
		return err
	}
	return createRow(ctx, r.db, &row)
}

func (r *paymentRepository) GetByReference(ctx context.Context, reference string) (domain.Payment, error) {
	var row paymentModel
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).Take(&row).Error; err != nil {
		return domain.Payment{}, mapReadError(err)
	}
	return fromPaymentModel(row)
}

func (r *paymentRepository) GetPaidForTarget(ctx context.Context, orderID, tabID string) (domain.Payment, error) {
	query := r.db.WithContext(ctx).Where("status IN ?", settledPaymentStatuses)
	if tabID != "" {
		query = query.Where("tab_id = ?", tabID)
	} else {
		query = query.Where("order_id = ?", orderID).Where("tab_id IS NULL")
	}
	var row paymentModel
	if err := query.Order("updated_at ASC").Take(&row).Error; err != nil {
		return domain.Payment{}, mapReadError(err)
	}
	return fromPaymentModel(row)
}

// Update fails with domain.ErrConflict when another payment already settled the same target.
func (r *paymentRepository) Update(ctx context.Context, payment domain.Payment) (domain.Payment, error) {
	expected := payment.Version
	payment.Version++
	row, err := toPaymentModel(payment)
	if err != nil {
		return domain.Payment{}, err
	}
	if err := conditionalUpdate(ctx, r.db, &row, "id", payment.ID, expected); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

func (r *paymentRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Payment, error) {
	var rows []paymentModel
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []string{string(domain.PaymentStatusPending), string(domain.PaymentStatusProcessing)}).
		Where("created_at < ?", before).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Payment, 0, len(rows))
	for _, row := range rows {
		p, err := fromPaymentModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}
