package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/contracts"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

type PointsHistory struct {
	Items []domain.PointsTransaction `json:"items"`
	Total int                        `json:"total"`
}

// GetBalance returns the latest balanceAfter for the user, or zero.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	latest, err := s.points.Latest(ctx, userID)
	if err != nil {
		return 0, err
	}
	if latest == nil {
		return 0, nil
	}
	return latest.BalanceAfter, nil
}

func (s *Service) Earn(ctx context.Context, userID string, amount int64, orderID, description string) (domain.PointsTransaction, error) {
	if amount <= 0 {
		return domain.PointsTransaction{}, fmt.Errorf("%w: earn amount must be positive", domain.ErrInvalidInput)
	}
	return s.appendPoints(ctx, domain.PointsEntryInput{
		UserID:      userID,
		Type:        domain.PointsEarned,
		Amount:      amount,
		OrderID:     orderID,
		Description: description,
	})
}

func (s *Service) Spend(ctx context.Context, userID string, amount int64, orderID, description string) (domain.PointsTransaction, error) {
	if amount <= 0 {
		return domain.PointsTransaction{}, fmt.Errorf("%w: spend amount must be positive", domain.ErrInvalidInput)
	}
	return s.appendPoints(ctx, domain.PointsEntryInput{
		UserID:      userID,
		Type:        domain.PointsSpent,
		Amount:      -amount,
		OrderID:     orderID,
		Description: description,
	})
}

func (s *Service) GetTransactionHistory(ctx context.Context, userID string, limit, skip int) (PointsHistory, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return PointsHistory{}, fmt.Errorf("%w: user id is required", domain.ErrInvalidInput)
	}
	limit, skip = normalizePage(limit, skip)
	items, total, err := s.points.History(ctx, userID, limit, skip)
	if err != nil {
		return PointsHistory{}, err
	}
	return PointsHistory{Items: items, Total: total}, nil
}

// Balance and history for the HTTP surface, scoped to the caller unless staff.

func (s *Service) GetBalanceFor(ctx context.Context, actor Actor, userID string) (int64, error) {
	if err := s.authorizeUser(actor, userID); err != nil {
		return 0, err
	}
	return s.GetBalance(ctx, userID)
}

func (s *Service) GetTransactionHistoryFor(ctx context.Context, actor Actor, userID string, limit, skip int) (PointsHistory, error) {
	if err := s.authorizeUser(actor, userID); err != nil {
		return PointsHistory{}, err
	}
	return s.GetTransactionHistory(ctx, userID, limit, skip)
}

// AdjustPoints is an admin correction; the resulting balance may not go negative.
func (s *Service) AdjustPoints(ctx context.Context, actor Actor, userID string, amount int64, reason string) (domain.PointsTransaction, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.PointsTransaction{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return domain.PointsTransaction{}, fmt.Errorf("%w: adjustment reason is required", domain.ErrInvalidInput)
	}
	request := map[string]any{"user_id": userID, "amount": amount, "reason": reason}
	return withIdempotency(ctx, s, "points_adjust", actor.IdempotencyKey, request, func() (domain.PointsTransaction, error) {
		tx, err := s.appendPoints(ctx, domain.PointsEntryInput{
			UserID:      userID,
			Type:        domain.PointsAdjusted,
			Amount:      amount,
			Description: "adjustment: " + reason,
		})
		if err != nil {
			return domain.PointsTransaction{}, err
		}
		if err := s.appendAudit(ctx, actor, "points.adjusted", "points", userID, map[string]any{
			"amount":        amount,
			"reason":        reason,
			"balance_after": tx.BalanceAfter,
			"sequence":      tx.Sequence,
		}); err != nil {
			return domain.PointsTransaction{}, err
		}
		return tx, nil
	})
}

// VerifyConsistency replays the user's full ledger from zero.
func (s *Service) VerifyConsistency(ctx context.Context, actor Actor, userID string) (domain.LedgerConsistency, error) {
	if err := requireStaff(actor); err != nil {
		return domain.LedgerConsistency{}, err
	}
	entries, err := s.points.ListAscending(ctx, userID)
	if err != nil {
		return domain.LedgerConsistency{}, err
	}
	report := domain.ReplayLedger(userID, entries)
	if !report.Consistent {
		s.logger.ErrorContext(ctx, "points ledger inconsistent",
			"module", "application.points",
			"operation", "verify_consistency",
			"outcome", "failure",
			"user_id", userID,
			"first_bad_sequence", report.FirstBadSequence,
		)
	}
	return report, nil
}

// ExpireInactivePoints zeroes balances of users whose last ledger activity is before
// now - inactivity window. A zero window disables the sweep.
func (s *Service) ExpireInactivePoints(ctx context.Context) (int, error) {
	cfg, err := s.pointsSettings(ctx)
	if err != nil {
		return 0, err
	}
	if cfg.InactivityExpiryDays <= 0 {
		return 0, nil
	}
	cutoff := s.nowFn().Add(-time.Duration(cfg.InactivityExpiryDays) * 24 * time.Hour)
	latest, err := s.points.ListInactiveWithBalance(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, entry := range latest {
		_, err := s.appendPointsAfter(ctx, entry.UserID, func(prev *domain.PointsTransaction) (domain.PointsEntryInput, bool) {
			if prev == nil || prev.BalanceAfter <= 0 || !prev.CreatedAt.Before(cutoff) {
				return domain.PointsEntryInput{}, false
			}
			return domain.PointsEntryInput{
				UserID:      entry.UserID,
				Type:        domain.PointsExpired,
				Amount:      -prev.BalanceAfter,
				Description: fmt.Sprintf("expired after %d days of inactivity", cfg.InactivityExpiryDays),
			}, true
		})
		if err != nil {
			s.logFailure(ctx, "application.points", "expire_inactive_points", err, "user_id", entry.UserID)
			continue
		}
		expired++
	}
	return expired, nil
}

func (s *Service) authorizeUser(actor Actor, userID string) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.IsStaff() && actor.SubjectID != strings.TrimSpace(userID) {
		return domain.ErrForbidden
	}
	return nil
}

func (s *Service) appendPoints(ctx context.Context, in domain.PointsEntryInput) (domain.PointsTransaction, error) {
	return s.appendPointsAfter(ctx, in.UserID, func(*domain.PointsTransaction) (domain.PointsEntryInput, bool) {
		return in, true
	})
}

// appendPointsAfter builds the entry from the latest one and appends it. A concurrent append
// for the same user takes the sequence first and this one re-reads and retries.
func (s *Service) appendPointsAfter(ctx context.Context, userID string, build func(prev *domain.PointsTransaction) (domain.PointsEntryInput, bool)) (domain.PointsTransaction, error) {
	var out domain.PointsTransaction
	err := s.retryOnConflict(ctx, "append_points", func() error {
		prev, err := s.points.Latest(ctx, userID)
		if err != nil {
			return err
		}
		in, ok := build(prev)
		if !ok {
			return fmt.Errorf("%w: nothing to append", domain.ErrInvalidState)
		}
		entry, err := domain.NextPointsEntry(prev, in, uuid.NewString(), s.nowFn())
		if err != nil {
			return err
		}
		if err := s.points.Append(ctx, entry); err != nil {
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		return domain.PointsTransaction{}, err
	}
	s.metrics.PointsAppend(out.Type)
	eventType := domain.EventPointsEarned
	if out.Amount < 0 {
		eventType = domain.EventPointsSpent
	}
	s.emit(ctx, eventType, "data.user_id", out.UserID, contracts.PointsPayload{
		UserID:       out.UserID,
		Type:         string(out.Type),
		Amount:       out.Amount,
		BalanceAfter: out.BalanceAfter,
		OrderID:      out.OrderID,
		At:           out.CreatedAt.Format(time.RFC3339),
	})
	s.logger.InfoContext(ctx, "points transaction appended",
		"module", "application.points",
		"operation", "append_points",
		"outcome", "success",
		"user_id", out.UserID,
		"type", out.Type,
		"amount", out.Amount,
		"balance_after", out.BalanceAfter,
	)
	return out, nil
}
