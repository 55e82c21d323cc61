package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

type pointsRepository struct {
	db *gorm.DB
}

func (r *pointsRepository) Latest(ctx context.Context, userID string) (*domain.PointsTransaction, error) {
	var row pointsTransactionModel
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sequence DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	tx := fromPointsModel(row)
	return &tx, nil
}

// Append relies on UNIQUE (user_id, sequence); a taken sequence is a lost race.
func (r *pointsRepository) Append(ctx context.Context, tx domain.PointsTransaction) error {
	row := toPointsModel(tx)
	return createRow(ctx, r.db, &row)
}

func (r *pointsRepository) History(ctx context.Context, userID string, limit, skip int) ([]domain.PointsTransaction, int, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&pointsTransactionModel{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var rows []pointsTransactionModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("sequence DESC").
		Limit(limit).
		Offset(skip).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return fromPointsModels(rows), int(total), nil
}

func (r *pointsRepository) ListAscending(ctx context.Context, userID string) ([]domain.PointsTransaction, error) {
	var rows []pointsTransactionModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("sequence ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromPointsModels(rows), nil
}

const inactiveBalancesQuery = `
SELECT * FROM (
    SELECT DISTINCT ON (user_id) *
    FROM points_transactions
    ORDER BY user_id, sequence DESC
) latest
WHERE balance_after > 0 AND created_at < ?
ORDER BY created_at ASC
LIMIT ?`

func (r *pointsRepository) ListInactiveWithBalance(ctx context.Context, cutoff time.Time, limit int) ([]domain.PointsTransaction, error) {
	var rows []pointsTransactionModel
	if err := r.db.WithContext(ctx).Raw(inactiveBalancesQuery, cutoff, limit).Scan(&rows).Error; err != nil {
		return nil, err
	}
	return fromPointsModels(rows), nil
}

func fromPointsModels(rows []pointsTransactionModel) []domain.PointsTransaction {
	out := make([]domain.PointsTransaction, 0, len(rows))
	for _, row := range rows {
		out = append(out, fromPointsModel(row))
	}
	return out
}
