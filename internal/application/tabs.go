package application

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

type SettleTabInput struct {
	Customer    ports.CustomerInfo
	CallbackURL string
}

type SettlementResult struct {
	Tab     domain.Tab      `json:"tab"`
	Session *PaymentSession `json:"session,omitempty"`
}

func tabLockKey(tabID string) string { return "tab:" + tabID }

// OpenTab opens a tab for a table. Only one open tab may exist per table.
func (s *Service) OpenTab(ctx context.Context, actor Actor, tableNumber, ownerID string) (domain.Tab, error) {
	if err := requireActor(actor); err != nil {
		return domain.Tab{}, err
	}
	table := strings.ToUpper(strings.TrimSpace(tableNumber))
	if table == "" {
		return domain.Tab{}, fmt.Errorf("%w: table number is required", domain.ErrInvalidInput)
	}
	if !actor.IsStaff() {
		ownerID = actor.SubjectID
	}

	var tab domain.Tab
	err := s.withLock(ctx, "tab:table:"+table, func() error {
		existing, err := s.tabs.GetOpenByTable(ctx, table)
		switch {
		case err == nil:
			return fmt.Errorf("%w: table %s has tab %s", domain.ErrTableAlreadyOpen, table, existing.Number)
		case !errors.Is(err, domain.ErrNotFound):
			return err
		}
		now := s.nowFn()
		tab = domain.Tab{
			ID:            uuid.NewString(),
			Number:        domain.NewTabNumber(table, now),
			TableNumber:   table,
			Status:        domain.TabStatusOpen,
			OwnerID:       strings.TrimSpace(ownerID),
			OpenedBy:      actor.SubjectID,
			OrderIDs:      []string{},
			PaymentStatus: domain.PaymentStatusPending,
			OpenedAt:      now,
			UpdatedAt:     now,
			Version:       1,
		}
		if err := s.tabs.Create(ctx, tab); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return fmt.Errorf("%w: table %s", domain.ErrTableAlreadyOpen, table)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return domain.Tab{}, err
	}
	s.emitTab(ctx, domain.EventTabOpened, tab)
	s.logger.InfoContext(ctx, "tab opened",
		"module", "application.tabs",
		"operation", "open_tab",
		"outcome", "success",
		"tab_id", tab.ID,
		"table_number", table,
	)
	return tab, nil
}

func (s *Service) GetTab(ctx context.Context, actor Actor, tabID string) (domain.Tab, error) {
	if err := requireActor(actor); err != nil {
		return domain.Tab{}, err
	}
	tab, err := s.tabs.Get(ctx, tabID)
	if err != nil {
		return domain.Tab{}, err
	}
	if !canAccessTab(actor, tab) {
		return domain.Tab{}, domain.ErrForbidden
	}
	return tab, nil
}

func (s *Service) ListOpenTabs(ctx context.Context, actor Actor) ([]domain.Tab, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	return s.tabs.ListOpen(ctx)
}

// AttachOrder adds an existing unpaid order to an open tab. The tab check, the order link and
// the tab update all happen under the tab lock; a failed tab update unlinks the order again.
func (s *Service) AttachOrder(ctx context.Context, actor Actor, tabID, orderID string) (domain.Tab, error) {
	if err := requireActor(actor); err != nil {
		return domain.Tab{}, err
	}
	var saved domain.Tab
	err := s.withLock(ctx, tabLockKey(tabID), func() error {
		tab, err := s.tabs.Get(ctx, tabID)
		if err != nil {
			return err
		}
		if tab.Status != domain.TabStatusOpen {
			return fmt.Errorf("%w: tab %s is %s", domain.ErrInvalidState, tab.Number, tab.Status)
		}
		linked, err := s.linkOrderToTab(ctx, actor, tabID, orderID)
		if err != nil {
			return err
		}
		saved, err = s.attachOrderLocked(ctx, tabID, orderID)
		if err != nil && linked {
			s.unlinkOrderFromTab(ctx, tabID, orderID)
		}
		return err
	})
	if err != nil {
		return domain.Tab{}, err
	}
	return saved, nil
}

// linkOrderToTab stamps the tab id on the order. It reports whether this call set the link.
func (s *Service) linkOrderToTab(ctx context.Context, actor Actor, tabID, orderID string) (bool, error) {
	linked := false
	err := s.retryOnConflict(ctx, "link_order_tab", func() error {
		linked = false
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if !canAccessOrder(actor, order) {
			return domain.ErrForbidden
		}
		if order.Status == domain.OrderStatusCancelled {
			return fmt.Errorf("%w: order is cancelled", domain.ErrInvalidState)
		}
		if order.Payment.Status == domain.PaymentStatusPaid {
			return fmt.Errorf("%w: order is already paid", domain.ErrInvalidState)
		}
		if order.TabID == tabID {
			return nil
		}
		if order.TabID != "" {
			return fmt.Errorf("%w: order belongs to tab %s", domain.ErrInvalidState, order.TabID)
		}
		order.TabID = tabID
		order.AppendNote(actor.SubjectID, "attached to tab", s.nowFn())
		if _, err := s.orders.Update(ctx, order); err != nil {
			return err
		}
		linked = true
		return nil
	})
	return linked, err
}

func (s *Service) unlinkOrderFromTab(ctx context.Context, tabID, orderID string) {
	err := s.retryOnConflict(ctx, "unlink_order_tab", func() error {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return err
		}
		if order.TabID != tabID {
			return nil
		}
		order.TabID = ""
		_, err = s.orders.Update(ctx, order)
		return err
	})
	if err != nil {
		s.logFailure(ctx, "application.tabs", "unlink_order_tab", err, "tab_id", tabID, "order_id", orderID)
	}
}

func (s *Service) attachOrder(ctx context.Context, tabID, orderID string) (domain.Tab, error) {
	var saved domain.Tab
	err := s.withLock(ctx, tabLockKey(tabID), func() error {
		var err error
		saved, err = s.attachOrderLocked(ctx, tabID, orderID)
		return err
	})
	if err != nil {
		return domain.Tab{}, err
	}
	return saved, nil
}

// attachOrderLocked expects the caller to hold the tab lock.
func (s *Service) attachOrderLocked(ctx context.Context, tabID, orderID string) (domain.Tab, error) {
	var saved domain.Tab
	err := s.retryOnConflict(ctx, "attach_order", func() error {
		tab, err := s.tabs.Get(ctx, tabID)
		if err != nil {
			return err
		}
		if tab.Status != domain.TabStatusOpen {
			return fmt.Errorf("%w: tab %s is %s", domain.ErrInvalidState, tab.Number, tab.Status)
		}
		if !tab.HasOrder(orderID) {
			tab.OrderIDs = append(tab.OrderIDs, orderID)
		}
		members, err := s.orders.ListByIDs(ctx, tab.OrderIDs)
		if err != nil {
			return err
		}
		tab.RecomputeTotals(members)
		tab.UpdatedAt = s.nowFn()
		saved, err = s.tabs.Update(ctx, tab)
		return err
	})
	return saved, err
}

// RecomputeTotals re-sums the tab from its non-cancelled members. Closed tabs are returned
// unchanged.
func (s *Service) RecomputeTotals(ctx context.Context, tabID string) (domain.Tab, error) {
	var saved domain.Tab
	err := s.withLock(ctx, tabLockKey(tabID), func() error {
		return s.retryOnConflict(ctx, "recompute_tab_totals", func() error {
			tab, err := s.tabs.Get(ctx, tabID)
			if err != nil {
				return err
			}
			if tab.Status == domain.TabStatusClosed {
				saved = tab
				return nil
			}
			members, err := s.orders.ListByIDs(ctx, tab.OrderIDs)
			if err != nil {
				return err
			}
			before := tab.Totals
			tab.RecomputeTotals(members)
			if totalsEqual(before, tab.Totals) {
				saved = tab
				return nil
			}
			tab.UpdatedAt = s.nowFn()
			saved, err = s.tabs.Update(ctx, tab)
			return err
		})
	})
	return saved, err
}

// SettleTab requests a gateway payment for the tab total. A zero total closes the tab at once.
func (s *Service) SettleTab(ctx context.Context, actor Actor, tabID string, in SettleTabInput) (SettlementResult, error) {
	if err := requireActor(actor); err != nil {
		return SettlementResult{}, err
	}
	tab, err := s.tabs.Get(ctx, tabID)
	if err != nil {
		return SettlementResult{}, err
	}
	if !canAccessTab(actor, tab) {
		return SettlementResult{}, domain.ErrForbidden
	}
	tab, err = s.RecomputeTotals(ctx, tabID)
	if err != nil {
		return SettlementResult{}, err
	}
	if tab.Status == domain.TabStatusClosed {
		return SettlementResult{}, fmt.Errorf("%w: tab already closed", domain.ErrInvalidState)
	}

	if !tab.Totals.Total.IsPositive() {
		closed, _, err := s.closeTab(ctx, tabID, nil, actor.SubjectID)
		if err != nil {
			return SettlementResult{}, err
		}
		if err := s.cascadeTabMembers(ctx, closed, nil, actor.SubjectID); err != nil {
			return SettlementResult{Tab: closed}, err
		}
		return SettlementResult{Tab: closed}, nil
	}

	session, err := s.RequestSession(ctx, actor, PaymentSessionInput{
		TabID:       tabID,
		Customer:    in.Customer,
		CallbackURL: in.CallbackURL,
	})
	if err != nil {
		return SettlementResult{}, err
	}
	tab, err = s.tabs.Get(ctx, tabID)
	if err != nil {
		return SettlementResult{}, err
	}
	return SettlementResult{Tab: tab, Session: &session}, nil
}

// ManualSettle closes a tab without a gateway payment. Admin only and always audited.
func (s *Service) ManualSettle(ctx context.Context, actor Actor, tabID, reason string) (domain.Tab, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Tab{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Tab{}, fmt.Errorf("%w: reason is required", domain.ErrInvalidInput)
	}

	var before, after domain.Tab
	err := s.withLock(ctx, tabLockKey(tabID), func() error {
		return s.retryOnConflict(ctx, "manual_settle_tab", func() error {
			tab, err := s.tabs.Get(ctx, tabID)
			if err != nil {
				return err
			}
			before = tab
			members, err := s.orders.ListByIDs(ctx, tab.OrderIDs)
			if err != nil {
				return err
			}
			tab.RecomputeTotals(members)
			if err := tab.Close(s.nowFn(), true); err != nil {
				return err
			}
			after, err = s.tabs.Update(ctx, tab)
			return err
		})
	})
	if err != nil {
		return domain.Tab{}, err
	}
	if err := s.appendAudit(ctx, actor, "tab.manual_settle", "tab", tabID, map[string]any{
		"reason": reason,
		"before": before,
		"after":  after,
	}); err != nil {
		return after, err
	}
	s.emitTab(ctx, domain.EventTabClosed, after)
	if err := s.cascadeTabMembers(ctx, after, nil, actor.SubjectID); err != nil {
		return after, err
	}
	s.logger.InfoContext(ctx, "tab manually settled",
		"module", "application.tabs",
		"operation", "manual_settle",
		"outcome", "success",
		"tab_id", tabID,
		"actor_id", actor.SubjectID,
	)
	return after, nil
}

// closeTab marks the tab paid and closed. The bool is false when it was already closed.
func (s *Service) closeTab(ctx context.Context, tabID string, payment *domain.Payment, actorID string) (domain.Tab, bool, error) {
	var (
		saved  domain.Tab
		closed bool
	)
	err := s.withLock(ctx, tabLockKey(tabID), func() error {
		return s.retryOnConflict(ctx, "close_tab", func() error {
			closed = false
			tab, err := s.tabs.Get(ctx, tabID)
			if err != nil {
				return err
			}
			if tab.Status == domain.TabStatusClosed {
				saved = tab
				return nil
			}
			tab.PaymentStatus = domain.PaymentStatusPaid
			if payment != nil {
				tab.PaymentReference = payment.Reference
			}
			if err := tab.Close(s.nowFn(), false); err != nil {
				return err
			}
			saved, err = s.tabs.Update(ctx, tab)
			if err != nil {
				return err
			}
			closed = true
			return nil
		})
	})
	if err != nil {
		return domain.Tab{}, false, err
	}
	if closed {
		s.emitTab(ctx, domain.EventTabClosed, saved)
		s.logger.InfoContext(ctx, "tab closed",
			"module", "application.tabs",
			"operation", "close_tab",
			"outcome", "success",
			"tab_id", tabID,
			"actor_id", actorID,
		)
	}
	return saved, closed, nil
}

// cascadeTabMembers stamps the tab payment onto each live member and drives it to completed.
func (s *Service) cascadeTabMembers(ctx context.Context, tab domain.Tab, payment *domain.Payment, actorID string) error {
	var errs []error
	for _, orderID := range tab.OrderIDs {
		if payment != nil {
			if _, _, err := s.applyOrderChange(ctx, orderChange{
				orderID: orderID,
				actorID: actorID,
				payment: payment,
			}); err != nil {
				errs = append(errs, fmt.Errorf("order %s: %w", orderID, err))
				continue
			}
		}
		if _, _, err := s.walkOrderTo(ctx, orderID, domain.OrderStatusCompleted, actorID, "tab "+tab.Number+" settled"); err != nil {
			errs = append(errs, fmt.Errorf("order %s: %w", orderID, err))
		}
	}
	if len(errs) > 0 {
		err := errors.Join(errs...)
		s.logFailure(ctx, "application.tabs", "cascade_tab_members", err, "tab_id", tab.ID)
		return err
	}
	return nil
}

func (s *Service) reopenTab(ctx context.Context, tabID string, status domain.PaymentStatus) {
	err := s.withLock(ctx, tabLockKey(tabID), func() error {
		return s.retryOnConflict(ctx, "reopen_tab", func() error {
			tab, err := s.tabs.Get(ctx, tabID)
			if err != nil {
				return err
			}
			if tab.Status != domain.TabStatusSettling {
				return nil
			}
			tab.ReopenAfterFailedPayment(status, s.nowFn())
			_, err = s.tabs.Update(ctx, tab)
			return err
		})
	})
	if err != nil {
		s.logFailure(ctx, "application.tabs", "reopen_tab", err, "tab_id", tabID)
	}
}

func canAccessTab(actor Actor, tab domain.Tab) bool {
	return actor.IsStaff() || (tab.OwnerID != "" && actor.SubjectID == tab.OwnerID)
}

func totalsEqual(a, b domain.Totals) bool {
	return a.Subtotal.Equal(b.Subtotal) &&
		a.ServiceFee.Equal(b.ServiceFee) &&
		a.Tax.Equal(b.Tax) &&
		a.DeliveryFee.Equal(b.DeliveryFee) &&
		a.Discount.Equal(b.Discount) &&
		a.PointsValue.Equal(b.PointsValue) &&
		a.Tip.Equal(b.Tip) &&
		a.Total.Equal(b.Total)
}
