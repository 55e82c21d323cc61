package application

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

const idempotencyStatusCompleted = "COMPLETED"

func hashPayload(value interface{}) string {
	blob, err := json.Marshal(value)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// withIdempotency replays the stored result for a repeated (scope, key) with the same
// request, and runs fn otherwise. An empty key runs fn directly.
func withIdempotency[T any](ctx context.Context, s *Service, scope, key string, request any, fn func() (T, error)) (T, error) {
	var zero T
	key = strings.TrimSpace(key)
	if key == "" || s.idempotency == nil {
		return fn()
	}
	fullKey := scope + ":" + key
	requestHash := hashPayload(request)
	now := s.nowFn()

	rec, err := s.idempotency.Get(ctx, fullKey, now)
	if err != nil {
		return zero, err
	}
	if rec != nil {
		if rec.RequestHash != requestHash {
			return zero, domain.ErrIdempotencyConflict
		}
		if rec.Status != idempotencyStatusCompleted {
			return zero, fmt.Errorf("%w: request with this idempotency key is in progress", domain.ErrConflict)
		}
		var out T
		if err := json.Unmarshal(rec.ResponseBody, &out); err != nil {
			return zero, fmt.Errorf("decode idempotent response: %w", err)
		}
		return out, nil
	}
	if err := s.idempotency.Reserve(ctx, fullKey, requestHash, now.Add(s.cfg.IdempotencyTTL)); err != nil {
		return zero, err
	}

	out, err := fn()
	if err != nil {
		if releaseErr := s.idempotency.Release(ctx, fullKey); releaseErr != nil {
			s.logger.WarnContext(ctx, "idempotency release failed",
				"module", "application.idempotency",
				"operation", scope,
				"outcome", "failure",
				"error", releaseErr,
			)
		}
		return zero, err
	}
	body, err := json.Marshal(out)
	if err != nil {
		return zero, err
	}
	if err := s.idempotency.Complete(ctx, fullKey, 200, body, s.nowFn()); err != nil {
		return zero, err
	}
	return out, nil
}

// retryOnConflict re-runs fn, which must re-read its entity, while it fails with
// domain.ErrConflict and attempts remain.
func (s *Service) retryOnConflict(ctx context.Context, operation string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.cfg.MaxConflictRetries; attempt++ {
		err = fn()
		if err == nil || !errors.Is(err, domain.ErrConflict) {
			return err
		}
		s.logger.WarnContext(ctx, "optimistic write conflict; retrying",
			"module", "application.concurrency",
			"operation", operation,
			"outcome", "retry",
			"attempt", attempt,
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
	}
	return err
}

// withLock serializes fn on key. The lock only guards local read-modify-write work.
func (s *Service) withLock(ctx context.Context, key string, fn func() error) error {
	if s.locker == nil {
		return fn()
	}
	release, err := s.locker.Acquire(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	defer release()
	return fn()
}

func (s *Service) appendAudit(ctx context.Context, actor Actor, action, resource, resourceID string, details map[string]any) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Append(ctx, domain.AuditEntry{
		ID:         uuid.NewString(),
		ActorID:    actor.SubjectID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
		At:         s.nowFn(),
	})
}

func (s *Service) logFailure(ctx context.Context, module, operation string, err error, attrs ...any) {
	fields := append([]any{
		"module", module,
		"operation", operation,
		"outcome", "failure",
		"error", err,
	}, attrs...)
	s.logger.ErrorContext(ctx, "operation failed", fields...)
}

func requireActor(actor Actor) error {
	if strings.TrimSpace(actor.SubjectID) == "" {
		return domain.ErrUnauthorized
	}
	return nil
}

func requireStaff(actor Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.IsStaff() {
		return domain.ErrForbidden
	}
	return nil
}

func requireAdmin(actor Actor) error {
	if err := requireActor(actor); err != nil {
		return err
	}
	if !actor.IsAdmin() {
		return domain.ErrForbidden
	}
	return nil
}

func canAccessOrder(actor Actor, order domain.Order) bool {
	return actor.IsStaff() || (actor.SubjectID != "" && actor.SubjectID == order.Customer.OwnerID())
}

func newPaymentReference(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

type noopMetrics struct{}

func (noopMetrics) OrderTransition(domain.OrderStatus, domain.OrderStatus) {}
func (noopMetrics) ReconcileOutcome(string, string)                        {}
func (noopMetrics) PointsAppend(domain.PointsTxType)                       {}
