package postgres

import (
	"context"

	"gorm.io/gorm"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

type orderRepository struct {
	db *gorm.DB
}

func (r *orderRepository) Create(ctx context.Context, order domain.Order) error {
	row, err := toOrderModel(order)
	if err != nil {
		return err
	}
	return createRow(ctx, r.db, &row)
}

func (r *orderRepository) Get(ctx context.Context, orderID string) (domain.Order, error) {
	var row orderModel
	if err := r.db.WithContext(ctx).Where("id = ?", orderID).Take(&row).Error; err != nil {
		return domain.Order{}, mapReadError(err)
	}
	return fromOrderModel(row)
}

func (r *orderRepository) GetByIdempotencyKey(ctx context.Context, key string) (domain.Order, error) {
	var row orderModel
	if err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&row).Error; err != nil {
		return domain.Order{}, mapReadError(err)
	}
	return fromOrderModel(row)
}

func (r *orderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	expected := order.Version
	order.Version++
	row, err := toOrderModel(order)
	if err != nil {
		return domain.Order{}, err
	}
	if err := conditionalUpdate(ctx, r.db, &row, "id", order.ID, expected); err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func (r *orderRepository) ListByIDs(ctx context.Context, orderIDs []string) ([]domain.Order, error) {
	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}
	var rows []orderModel
	if err := r.db.WithContext(ctx).Where("id IN ?", orderIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Order, len(rows))
	for _, row := range rows {
		order, err := fromOrderModel(row)
		if err != nil {
			return nil, err
		}
		byID[order.ID] = order
	}
	out := make([]domain.Order, 0, len(rows))
	for _, id := range orderIDs {
		if order, ok := byID[id]; ok {
			out = append(out, order)
		}
	}
	return out, nil
}

func (r *orderRepository) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]domain.Order, int, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&orderModel{}).Where("owner_id = ?", ownerID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []orderModel
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	out := make([]domain.Order, 0, len(rows))
	for _, row := range rows {
		order, err := fromOrderModel(row)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, order)
	}
	return out, int(total), nil
}

func (r *orderRepository) CountCompletedByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&orderModel{}).
		Where("owner_id = ?", ownerID).
		Where("status = ?", string(domain.OrderStatusCompleted)).
		Count(&count).Error
	return int(count), err
}
