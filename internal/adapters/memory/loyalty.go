package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

// PointsRepository keeps one append-only slice per user, ordered by sequence.
type PointsRepository struct {
	mu      sync.RWMutex
	entries map[string][]domain.PointsTransaction
}

func (r *PointsRepository) Latest(_ context.Context, userID string) (*domain.PointsTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := r.entries[userID]
	if len(entries) == 0 {
		return nil, nil
	}
	latest := entries[len(entries)-1]
	return &latest, nil
}

func (r *PointsRepository) Append(_ context.Context, tx domain.PointsTransaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entries := r.entries[tx.UserID]
	if int64(len(entries))+1 != tx.Sequence {
		return domain.ErrConflict
	}
	r.entries[tx.UserID] = append(entries, tx)
	return nil
}

func (r *PointsRepository) History(_ context.Context, userID string, limit, skip int) ([]domain.PointsTransaction, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entries := slices.Clone(r.entries[userID])
	slices.Reverse(entries)
	return slices.Clone(paginate(entries, limit, skip)), len(entries), nil
}

func (r *PointsRepository) ListAscending(_ context.Context, userID string) ([]domain.PointsTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.entries[userID]), nil
}

func (r *PointsRepository) ListInactiveWithBalance(_ context.Context, cutoff time.Time, limit int) ([]domain.PointsTransaction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.PointsTransaction, 0)
	for _, entries := range r.entries {
		if len(entries) == 0 {
			continue
		}
		latest := entries[len(entries)-1]
		if latest.BalanceAfter > 0 && latest.CreatedAt.Before(cutoff) {
			out = append(out, latest)
		}
	}
	slices.SortFunc(out, func(a, b domain.PointsTransaction) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type RewardRuleRepository struct {
	mu      sync.RWMutex
	records map[string]domain.RewardRule
	order   []string
}

func (r *RewardRuleRepository) Create(_ context.Context, rule domain.RewardRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rule.ID]; exists {
		return domain.ErrConflict
	}
	r.records[rule.ID] = cloneRule(rule)
	r.order = append(r.order, rule.ID)
	return nil
}

func (r *RewardRuleRepository) Update(_ context.Context, rule domain.RewardRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[rule.ID]; !exists {
		return domain.ErrNotFound
	}
	r.records[rule.ID] = cloneRule(rule)
	return nil
}

func (r *RewardRuleRepository) Get(_ context.Context, ruleID string) (domain.RewardRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rule, ok := r.records[ruleID]
	if !ok {
		return domain.RewardRule{}, domain.ErrNotFound
	}
	return cloneRule(rule), nil
}

func (r *RewardRuleRepository) List(_ context.Context, activeOnly bool) ([]domain.RewardRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.RewardRule, 0, len(r.order))
	for _, id := range r.order {
		rule := r.records[id]
		if activeOnly && !rule.Active {
			continue
		}
		out = append(out, cloneRule(rule))
	}
	return out, nil
}

type RewardRepository struct {
	mu      sync.RWMutex
	records map[string]domain.Reward
	order   []string
}

func (r *RewardRepository) Create(_ context.Context, reward domain.Reward) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[reward.ID]; exists {
		return domain.ErrConflict
	}
	for _, existing := range r.records {
		if existing.Code == reward.Code {
			return domain.ErrConflict
		}
	}
	if reward.Version == 0 {
		reward.Version = 1
	}
	r.records[reward.ID] = reward
	r.order = append(r.order, reward.ID)
	return nil
}

func (r *RewardRepository) Get(_ context.Context, rewardID string) (domain.Reward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reward, ok := r.records[rewardID]
	if !ok {
		return domain.Reward{}, domain.ErrNotFound
	}
	return reward, nil
}

func (r *RewardRepository) GetByCode(_ context.Context, code string) (domain.Reward, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reward := range r.records {
		if reward.Code == code {
			return reward, nil
		}
	}
	return domain.Reward{}, domain.ErrNotFound
}

func (r *RewardRepository) Update(_ context.Context, reward domain.Reward) (domain.Reward, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.records[reward.ID]
	if !ok {
		return domain.Reward{}, domain.ErrNotFound
	}
	if current.Version != reward.Version {
		return domain.Reward{}, domain.ErrConflict
	}
	reward.Version++
	r.records[reward.ID] = reward
	return reward, nil
}

func (r *RewardRepository) ListByUser(_ context.Context, userID string) ([]domain.Reward, error) {
	return r.filter(func(reward domain.Reward) bool { return reward.UserID == userID }, 0), nil
}

func (r *RewardRepository) CountIssued(_ context.Context, ruleID, userID string) (int, error) {
	return len(r.filter(func(reward domain.Reward) bool {
		return reward.RuleID == ruleID && reward.UserID == userID
	}, 0)), nil
}

func (r *RewardRepository) ListRedeemedInOrder(_ context.Context, orderID string) ([]domain.Reward, error) {
	return r.filter(func(reward domain.Reward) bool {
		return reward.Status == domain.RewardStatusRedeemed && reward.RedeemedInOrderID == orderID
	}, 0), nil
}

func (r *RewardRepository) ListExpiring(_ context.Context, now time.Time, limit int) ([]domain.Reward, error) {
	return r.filter(func(reward domain.Reward) bool {
		live := reward.Status == domain.RewardStatusPending || reward.Status == domain.RewardStatusActive
		return live && !now.Before(reward.ExpiresAt)
	}, limit), nil
}

func (r *RewardRepository) filter(keep func(domain.Reward) bool, limit int) []domain.Reward {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Reward, 0)
	for _, id := range r.order {
		reward := r.records[id]
		if !keep(reward) {
			continue
		}
		out = append(out, reward)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func cloneRule(rule domain.RewardRule) domain.RewardRule {
	rule.Windows = slices.Clone(rule.Windows)
	return rule
}
