package postgres

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

type rewardRuleRepository struct {
	db *gorm.DB
}

func toRuleModel(rule domain.RewardRule) (rewardRuleModel, error) {
	doc, err := encodeDocument(rule)
	if err != nil {
		return rewardRuleModel{}, err
	}
	return rewardRuleModel{
		ID:        rule.ID,
		Active:    rule.Active,
		Document:  doc,
		CreatedAt: rule.CreatedAt,
		UpdatedAt: rule.UpdatedAt,
	}, nil
}

func (r *rewardRuleRepository) Create(ctx context.Context, rule domain.RewardRule) error {
	row, err := toRuleModel(rule)
	if err != nil {
		return err
	}
	return createRow(ctx, r.db, &row)
}

func (r *rewardRuleRepository) Update(ctx context.Context, rule domain.RewardRule) error {
	row, err := toRuleModel(rule)
	if err != nil {
		return err
	}
	res := r.db.WithContext(ctx).Model(&row).Select("active", "document", "updated_at").Updates(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *rewardRuleRepository) Get(ctx context.Context, ruleID string) (domain.RewardRule, error) {
	var row rewardRuleModel
	if err := r.db.WithContext(ctx).Where("id = ?", ruleID).Take(&row).Error; err != nil {
		return domain.RewardRule{}, mapReadError(err)
	}
	return decodeDocument[domain.RewardRule](row.Document)
}

func (r *rewardRuleRepository) List(ctx context.Context, activeOnly bool) ([]domain.RewardRule, error) {
	query := r.db.WithContext(ctx).Order("created_at ASC")
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var rows []rewardRuleModel
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.RewardRule, 0, len(rows))
	for _, row := range rows {
		rule, err := decodeDocument[domain.RewardRule](row.Document)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

type rewardRepository struct {
	db *gorm.DB
}

func (r *rewardRepository) Create(ctx context.Context, reward domain.Reward) error {
	if reward.Version == 0 {
		reward.Version = 1
	}
	row, err := toRewardModel(reward)
	if err != nil {
		return err
	}
	return createRow(ctx, r.db, &row)
}

func (r *rewardRepository) Get(ctx context.Context, rewardID string) (domain.Reward, error) {
	var row rewardModel
	if err := r.db.WithContext(ctx).Where("id = ?", rewardID).Take(&row).Error; err != nil {
		return domain.Reward{}, mapReadError(err)
	}
	return fromRewardModel(row)
}

func (r *rewardRepository) GetByCode(ctx context.Context, code string) (domain.Reward, error) {
	var row rewardModel
	if err := r.db.WithContext(ctx).Where("code = ?", code).Take(&row).Error; err != nil {
		return domain.Reward{}, mapReadError(err)
	}
	return fromRewardModel(row)
}

func (r *rewardRepository) Update(ctx context.Context, reward domain.Reward) (domain.Reward, error) {
	expected := reward.Version
	reward.Version++
	row, err := toRewardModel(reward)
	if err != nil {
		return domain.Reward{}, err
	}
	if err := conditionalUpdate(ctx, r.db, &row, "id", reward.ID, expected); err != nil {
		return domain.Reward{}, err
	}
	return reward, nil
}

func (r *rewardRepository) ListByUser(ctx context.Context, userID string) ([]domain.Reward, error) {
	var rows []rewardModel
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("expires_at ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromRewardModels(rows)
}

func (r *rewardRepository) CountIssued(ctx context.Context, ruleID, userID string) (int, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&rewardModel{}).
		Where("rule_id = ?", ruleID).
		Where("user_id = ?", userID).
		Count(&count).Error
	return int(count), err
}

func (r *rewardRepository) ListRedeemedInOrder(ctx context.Context, orderID string) ([]domain.Reward, error) {
	var rows []rewardModel
	if err := r.db.WithContext(ctx).
		Where("redeemed_in_order_id = ?", orderID).
		Where("status = ?", string(domain.RewardStatusRedeemed)).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromRewardModels(rows)
}

func (r *rewardRepository) ListExpiring(ctx context.Context, now time.Time, limit int) ([]domain.Reward, error) {
	var rows []rewardModel
	if err := r.db.WithContext(ctx).
		Where("status IN ?", []string{string(domain.RewardStatusPending), string(domain.RewardStatusActive)}).
		Where("expires_at <= ?", now).
		Order("expires_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return fromRewardModels(rows)
}
