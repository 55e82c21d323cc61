package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/contracts"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

// Evaluate issues rewards for a completed order from every matching active rule.
func (s *Service) Evaluate(ctx context.Context, order domain.Order) ([]domain.Reward, error) {
	if order.Customer.IsGuest() {
		return nil, nil
	}
	rules, err := s.rewardRules.List(ctx, true)
	if err != nil {
		return nil, err
	}
	now := s.nowFn()
	ownerID := order.Customer.OwnerID()

	completed, err := s.orders.CountCompletedByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	firstOrder := completed <= 1

	issued := make([]domain.Reward, 0)
	for _, rule := range rules {
		if !rule.Active || !rule.InWindow(now) || !rule.Matches(order, firstOrder) {
			continue
		}
		if rule.Probability < 1 && s.randomFn() >= rule.Probability {
			continue
		}
		if rule.MaxRedemptionsPerUser > 0 {
			count, err := s.rewards.CountIssued(ctx, rule.ID, ownerID)
			if err != nil {
				return issued, err
			}
			if count >= rule.MaxRedemptionsPerUser {
				continue
			}
		}
		reward, err := s.issueReward(ctx, rule, order, now)
		if err != nil {
			s.logFailure(ctx, "application.rewards", "issue_reward", err, "rule_id", rule.ID, "order_id", order.ID)
			continue
		}
		issued = append(issued, reward)
	}
	return issued, nil
}

func (s *Service) issueReward(ctx context.Context, rule domain.RewardRule, order domain.Order, now time.Time) (domain.Reward, error) {
	code, err := domain.NewRewardCode()
	if err != nil {
		return domain.Reward{}, err
	}
	reward := domain.Reward{
		ID:             uuid.NewString(),
		RuleID:         rule.ID,
		UserID:         order.Customer.OwnerID(),
		OrderID:        order.ID,
		Type:           rule.Type,
		Value:          rule.Value,
		FreeMenuItemID: rule.FreeMenuItemID,
		Status:         domain.RewardStatusPending,
		Code:           code,
		IssuedAt:       now,
		ExpiresAt:      now.Add(time.Duration(rule.ValidityDays) * 24 * time.Hour),
	}
	if rule.Type == domain.RewardTypePoints {
		points := rule.Value.IntPart()
		if _, err := s.Earn(ctx, reward.UserID, points, order.ID, "reward: "+rule.Name); err != nil {
			return domain.Reward{}, err
		}
		reward.Status = domain.RewardStatusRedeemed
		reward.RedeemedInOrderID = order.ID
		reward.RedeemedAt = &now
	}
	if err := s.rewards.Create(ctx, reward); err != nil {
		return domain.Reward{}, err
	}
	s.emit(ctx, domain.EventRewardIssued, "data.user_id", reward.UserID, contracts.RewardIssuedPayload{
		RewardID:  reward.ID,
		RuleID:    reward.RuleID,
		UserID:    reward.UserID,
		OrderID:   reward.OrderID,
		Type:      string(reward.Type),
		ExpiresAt: reward.ExpiresAt.Format(time.RFC3339),
	})
	return reward, nil
}

// ValidateCode checks ownership and state, moving a pending reward to active.
func (s *Service) ValidateCode(ctx context.Context, userID, code string) (domain.Reward, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || strings.TrimSpace(userID) == "" {
		return domain.Reward{}, fmt.Errorf("%w: user id and code are required", domain.ErrInvalidInput)
	}
	var out domain.Reward
	err := s.retryOnConflict(ctx, "validate_reward_code", func() error {
		reward, err := s.rewards.GetByCode(ctx, code)
		if err != nil {
			return err
		}
		if reward.UserID != userID {
			return domain.ErrNotOwnedByUser
		}
		if reward.Status == domain.RewardStatusActive && s.nowFn().Before(reward.ExpiresAt) {
			out = reward
			return nil
		}
		if err := reward.Activate(s.nowFn()); err != nil {
			return err
		}
		saved, err := s.rewards.Update(ctx, reward)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	return out, err
}

// ValidateCodeFor is the caller-scoped variant used by the HTTP surface.
func (s *Service) ValidateCodeFor(ctx context.Context, actor Actor, userID, code string) (domain.Reward, error) {
	if err := s.authorizeUser(actor, userID); err != nil {
		return domain.Reward{}, err
	}
	return s.ValidateCode(ctx, userID, code)
}

func (s *Service) Redeem(ctx context.Context, rewardID, orderID string) (domain.Reward, error) {
	var out domain.Reward
	err := s.retryOnConflict(ctx, "redeem_reward", func() error {
		reward, err := s.rewards.Get(ctx, rewardID)
		if err != nil {
			return err
		}
		if err := reward.Redeem(orderID, s.nowFn()); err != nil {
			return err
		}
		saved, err := s.rewards.Update(ctx, reward)
		if err != nil {
			return err
		}
		out = saved
		return nil
	})
	return out, err
}

// reinstateRewards reactivates rewards consumed by a cancelled order.
func (s *Service) reinstateRewards(ctx context.Context, orderID string) {
	redeemed, err := s.rewards.ListRedeemedInOrder(ctx, orderID)
	if err != nil {
		s.logFailure(ctx, "application.rewards", "reinstate_rewards", err, "order_id", orderID)
		return
	}
	for _, r := range redeemed {
		// Points rewards were credited, not consumed.
		if r.Type == domain.RewardTypePoints {
			continue
		}
		rewardID := r.ID
		err := s.retryOnConflict(ctx, "reinstate_reward", func() error {
			reward, err := s.rewards.Get(ctx, rewardID)
			if err != nil {
				return err
			}
			if err := reward.Reinstate(orderID); err != nil {
				return err
			}
			_, err = s.rewards.Update(ctx, reward)
			return err
		})
		if err != nil {
			s.logFailure(ctx, "application.rewards", "reinstate_reward", err, "order_id", orderID, "reward_id", rewardID)
		}
	}
}

// ExpireRewards moves pending/active rewards past expiresAt to expired.
func (s *Service) ExpireRewards(ctx context.Context) (int, error) {
	now := s.nowFn()
	due, err := s.rewards.ListExpiring(ctx, now, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, r := range due {
		rewardID := r.ID
		changed := false
		err := s.retryOnConflict(ctx, "expire_reward", func() error {
			reward, err := s.rewards.Get(ctx, rewardID)
			if err != nil {
				return err
			}
			if !reward.Expire(now) {
				changed = false
				return nil
			}
			if _, err := s.rewards.Update(ctx, reward); err != nil {
				return err
			}
			changed = true
			return nil
		})
		if err != nil {
			s.logFailure(ctx, "application.rewards", "expire_reward", err, "reward_id", rewardID)
			continue
		}
		if changed {
			expired++
		}
	}
	return expired, nil
}

func (s *Service) ListUserRewards(ctx context.Context, actor Actor, userID string) ([]domain.Reward, error) {
	if err := s.authorizeUser(actor, userID); err != nil {
		return nil, err
	}
	return s.rewards.ListByUser(ctx, userID)
}

func (s *Service) CreateRule(ctx context.Context, actor Actor, rule domain.RewardRule) (domain.RewardRule, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.RewardRule{}, err
	}
	if err := rule.Validate(); err != nil {
		return domain.RewardRule{}, err
	}
	now := s.nowFn()
	rule.ID = uuid.NewString()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	if err := s.rewardRules.Create(ctx, rule); err != nil {
		return domain.RewardRule{}, err
	}
	if err := s.appendAudit(ctx, actor, "reward_rule.created", "reward_rule", rule.ID, map[string]any{"after": rule}); err != nil {
		return domain.RewardRule{}, err
	}
	return rule, nil
}

func (s *Service) UpdateRule(ctx context.Context, actor Actor, ruleID string, rule domain.RewardRule) (domain.RewardRule, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.RewardRule{}, err
	}
	if err := rule.Validate(); err != nil {
		return domain.RewardRule{}, err
	}
	prior, err := s.rewardRules.Get(ctx, ruleID)
	if err != nil {
		return domain.RewardRule{}, err
	}
	rule.ID = prior.ID
	rule.CreatedAt = prior.CreatedAt
	rule.UpdatedAt = s.nowFn()
	if err := s.rewardRules.Update(ctx, rule); err != nil {
		return domain.RewardRule{}, err
	}
	if err := s.appendAudit(ctx, actor, "reward_rule.updated", "reward_rule", rule.ID, map[string]any{
		"before": prior,
		"after":  rule,
	}); err != nil {
		return domain.RewardRule{}, err
	}
	return rule, nil
}

func (s *Service) ListRules(ctx context.Context, actor Actor, activeOnly bool) ([]domain.RewardRule, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return s.rewardRules.List(ctx, activeOnly)
}

// validateCheckoutCodes validates reward codes presented at checkout. Points rewards are
// never presented since they are credited on issue.
func (s *Service) validateCheckoutCodes(ctx context.Context, userID string, codes []string) ([]domain.Reward, error) {
	rewards := make([]domain.Reward, 0, len(codes))
	seen := map[string]bool{}
	for _, code := range codes {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		reward, err := s.ValidateCode(ctx, userID, code)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, fmt.Errorf("reward code %s: %w", code, err)
			}
			return nil, err
		}
		if reward.Type == domain.RewardTypePoints {
			continue
		}
		rewards = append(rewards, reward)
	}
	return rewards, nil
}
