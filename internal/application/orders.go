package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/contracts"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

type CreateOrderInput struct {
	IdempotencyKey string
	Customer       domain.Customer
	Type           domain.OrderType
	TabID          string
	Items          []domain.LineItem
	Tip            decimal.Decimal
	PointsToUse    int64
	PointsItemIDs  []string
	RewardCodes    []string
}

type CreateOrderResult struct {
	Order         domain.Order `json:"order"`
	Replayed      bool         `json:"replayed"`
	PointsWarning string       `json:"points_warning,omitempty"`
}

type OrderList struct {
	Items []domain.Order `json:"items"`
	Total int            `json:"total"`
}

type BatchTransitionResult struct {
	OrderID string             `json:"order_id"`
	Status  domain.OrderStatus `json:"status,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// CreateOrder prices the cart and creates a pending order. A repeated idempotency key
// returns the existing order unchanged.
func (s *Service) CreateOrder(ctx context.Context, actor Actor, in CreateOrderInput) (CreateOrderResult, error) {
	if err := requireActor(actor); err != nil {
		return CreateOrderResult{}, err
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = strings.TrimSpace(actor.IdempotencyKey)
	}
	if key == "" {
		return CreateOrderResult{}, domain.ErrIdempotencyRequired
	}

	existing, err := s.orders.GetByIdempotencyKey(ctx, key)
	switch {
	case err == nil:
		return s.replayOrder(ctx, actor, existing)
	case !errors.Is(err, domain.ErrNotFound):
		return CreateOrderResult{}, err
	}

	if !actor.IsStaff() && actor.SubjectID != in.Customer.OwnerID() {
		return CreateOrderResult{}, domain.ErrForbidden
	}
	if err := in.Customer.Validate(); err != nil {
		return CreateOrderResult{}, err
	}
	if !in.Type.Valid() {
		return CreateOrderResult{}, fmt.Errorf("%w: unknown order type %q", domain.ErrInvalidInput, in.Type)
	}
	if in.PointsToUse < 0 {
		return CreateOrderResult{}, fmt.Errorf("%w: points to use must not be negative", domain.ErrInvalidInput)
	}
	if in.Customer.IsGuest() && (in.PointsToUse > 0 || len(in.RewardCodes) > 0) {
		return CreateOrderResult{}, fmt.Errorf("%w: guest checkout cannot use points or rewards", domain.ErrInvalidInput)
	}
	if in.TabID != "" {
		tab, err := s.tabs.Get(ctx, in.TabID)
		if err != nil {
			return CreateOrderResult{}, err
		}
		if tab.Status != domain.TabStatusOpen {
			return CreateOrderResult{}, fmt.Errorf("%w: tab %s is %s", domain.ErrInvalidState, tab.Number, tab.Status)
		}
	}

	fees, err := s.feeSettings(ctx)
	if err != nil {
		return CreateOrderResult{}, err
	}
	pointsCfg, err := s.pointsSettings(ctx)
	if err != nil {
		return CreateOrderResult{}, err
	}
	waits, err := s.waitSettings(ctx)
	if err != nil {
		return CreateOrderResult{}, err
	}

	items := make([]domain.LineItem, 0, len(in.Items))
	for _, item := range in.Items {
		item.ID = uuid.NewString()
		items = append(items, item)
	}
	base, items, err := domain.PriceOrder(domain.PriceInput{Items: items, Type: in.Type, Fees: fees, Tip: in.Tip})
	if err != nil {
		return CreateOrderResult{}, err
	}

	ownerID := in.Customer.OwnerID()
	rewards, err := s.validateCheckoutCodes(ctx, ownerID, in.RewardCodes)
	if err != nil {
		return CreateOrderResult{}, err
	}
	discount := decimal.Zero
	rewardIDs := make([]string, 0, len(rewards))
	for _, r := range rewards {
		discount = discount.Add(r.DiscountFor(base.Subtotal, items))
		rewardIDs = append(rewardIDs, r.ID)
	}

	result := CreateOrderResult{}
	pointsToUse := in.PointsToUse
	if pointsToUse > 0 {
		balance, err := s.GetBalance(ctx, ownerID)
		if err != nil {
			return CreateOrderResult{}, err
		}
		if pointsToUse > balance {
			if pointsCfg.InsufficientPolicy == domain.PointsPolicyReject {
				return CreateOrderResult{}, fmt.Errorf("%w: requested %d points, balance is %d", domain.ErrInsufficientBalance, pointsToUse, balance)
			}
			result.PointsWarning = fmt.Sprintf("requested %d points but balance is %d; points were not applied", pointsToUse, balance)
			pointsToUse = 0
		}
	}

	orderID := uuid.NewString()
	for _, r := range rewards {
		if _, err := s.Redeem(ctx, r.ID, orderID); err != nil {
			s.reinstateRewards(ctx, orderID)
			// A concurrent request with the same key may have redeemed the code first.
			if existing, getErr := s.orders.GetByIdempotencyKey(ctx, key); getErr == nil {
				return s.replayOrder(ctx, actor, existing)
			}
			return CreateOrderResult{}, fmt.Errorf("redeem reward %s: %w", r.Code, err)
		}
	}
	abandon := func(points int64) {
		s.refundCheckoutPoints(ctx, ownerID, points, orderID)
		s.reinstateRewards(ctx, orderID)
	}

	if pointsToUse > 0 {
		if _, err := s.Spend(ctx, ownerID, pointsToUse, orderID, "order "+orderID); err != nil {
			if !errors.Is(err, domain.ErrInsufficientBalance) || pointsCfg.InsufficientPolicy == domain.PointsPolicyReject {
				abandon(0)
				return CreateOrderResult{}, err
			}
			result.PointsWarning = fmt.Sprintf("requested %d points but balance changed during checkout; points were not applied", pointsToUse)
			pointsToUse = 0
		}
	}

	totals, items, err := domain.PriceOrder(domain.PriceInput{
		Items:       items,
		Type:        in.Type,
		Fees:        fees,
		Discount:    discount,
		PointsValue: pointsCfg.ValueOf(pointsToUse),
		Tip:         in.Tip,
	})
	if err != nil {
		abandon(pointsToUse)
		return CreateOrderResult{}, err
	}

	now := s.nowFn()
	order := domain.Order{
		ID:             orderID,
		IdempotencyKey: key,
		Customer:       in.Customer,
		Type:           in.Type,
		Status:         domain.OrderStatusPending,
		TabID:          in.TabID,
		Items:          items,
		Totals:         totals,
		Payment:        domain.PaymentLink{Status: domain.PaymentStatusPending},
		Points: domain.PointsUsage{
			Points:  pointsToUse,
			Value:   totals.PointsValue,
			ItemIDs: pointsItemIDs(items, in.PointsItemIDs, pointsToUse),
		},
		AppliedRewardIDs:     rewardIDs,
		History:              []domain.StatusChange{{Status: domain.OrderStatusPending, At: now, ActorID: actor.SubjectID, Note: "order placed"}},
		EstimatedWaitMinutes: waits.Estimate(in.Type, items),
		Version:              1,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	created, err := s.persistOrder(ctx, order)
	if err != nil {
		if !created {
			abandon(pointsToUse)
			if errors.Is(err, domain.ErrConflict) {
				if existing, getErr := s.orders.GetByIdempotencyKey(ctx, key); getErr == nil {
					return s.replayOrder(ctx, actor, existing)
				}
			}
			return CreateOrderResult{}, err
		}
		// The order row exists but the tab rejected it; cancelling refunds points and rewards.
		if _, _, cancelErr := s.applyOrderChange(ctx, orderChange{
			orderID: order.ID,
			to:      domain.OrderStatusCancelled,
			actorID: actor.SubjectID,
			note:    "tab attach failed",
		}); cancelErr != nil {
			s.logFailure(ctx, "application.orders", "cancel_unattached_order", cancelErr, "order_id", order.ID, "tab_id", order.TabID)
		}
		return CreateOrderResult{}, fmt.Errorf("attach order to tab: %w", err)
	}

	s.notifyCreated(ctx, order)
	s.emit(ctx, domain.EventOrderCreated, "data.order_id", order.ID, contracts.OrderCreatedPayload{
		OrderID:   order.ID,
		OwnerID:   ownerID,
		OrderType: string(order.Type),
		TabID:     order.TabID,
		Total:     order.Totals.Total.StringFixed(domain.MoneyPlaces),
		CreatedAt: now.Format(time.RFC3339),
	})
	s.logger.InfoContext(ctx, "order created",
		"module", "application.orders",
		"operation", "create_order",
		"outcome", "success",
		"order_id", order.ID,
		"total", order.Totals.Total.String(),
		"points_used", order.Points.Points,
	)
	result.Order = order
	return result, nil
}

// persistOrder creates the order row. Tab orders are created and attached under the tab lock
// so a settling or closed tab never gains a member. created reports whether the row was written.
func (s *Service) persistOrder(ctx context.Context, order domain.Order) (created bool, err error) {
	if order.TabID == "" {
		if err := s.orders.Create(ctx, order); err != nil {
			return false, err
		}
		return true, nil
	}
	err = s.withLock(ctx, tabLockKey(order.TabID), func() error {
		tab, err := s.tabs.Get(ctx, order.TabID)
		if err != nil {
			return err
		}
		if tab.Status != domain.TabStatusOpen {
			return fmt.Errorf("%w: tab %s is %s", domain.ErrInvalidState, tab.Number, tab.Status)
		}
		if err := s.orders.Create(ctx, order); err != nil {
			return err
		}
		created = true
		_, err = s.attachOrderLocked(ctx, order.TabID, order.ID)
		return err
	})
	return created, err
}

func (s *Service) replayOrder(ctx context.Context, actor Actor, existing domain.Order) (CreateOrderResult, error) {
	if !canAccessOrder(actor, existing) {
		return CreateOrderResult{}, domain.ErrForbidden
	}
	if existing.TabID != "" && existing.Status != domain.OrderStatusCancelled {
		tab, err := s.tabs.Get(ctx, existing.TabID)
		if err == nil && !tab.HasOrder(existing.ID) && tab.Status == domain.TabStatusOpen {
			if _, err := s.attachOrder(ctx, existing.TabID, existing.ID); err != nil {
				return CreateOrderResult{Order: existing, Replayed: true}, fmt.Errorf("attach order to tab: %w", err)
			}
		}
	}
	return CreateOrderResult{Order: existing, Replayed: true}, nil
}

func (s *Service) refundCheckoutPoints(ctx context.Context, userID string, points int64, orderID string) {
	if points <= 0 {
		return
	}
	if _, err := s.Earn(ctx, userID, points, orderID, "refund: checkout not completed"); err != nil {
		s.logFailure(ctx, "application.orders", "refund_checkout_points", err, "order_id", orderID, "user_id", userID)
	}
}

// pointsItemIDs maps the requested menu items onto line item ids.
func pointsItemIDs(items []domain.LineItem, menuItemIDs []string, points int64) []string {
	if points <= 0 || len(menuItemIDs) == 0 {
		return nil
	}
	wanted := make(map[string]bool, len(menuItemIDs))
	for _, id := range menuItemIDs {
		wanted[strings.TrimSpace(id)] = true
	}
	out := make([]string, 0, len(menuItemIDs))
	for _, item := range items {
		if wanted[item.MenuItemID] {
			out = append(out, item.ID)
		}
	}
	return out
}

func (s *Service) GetOrder(ctx context.Context, actor Actor, orderID string) (domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return domain.Order{}, err
	}
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if !canAccessOrder(actor, order) {
		return domain.Order{}, domain.ErrForbidden
	}
	return order, nil
}

func (s *Service) ListOrders(ctx context.Context, actor Actor, ownerID string, limit, offset int) (OrderList, error) {
	if err := requireActor(actor); err != nil {
		return OrderList{}, err
	}
	if !actor.IsStaff() {
		ownerID = actor.SubjectID
	}
	if strings.TrimSpace(ownerID) == "" {
		return OrderList{}, fmt.Errorf("%w: owner id is required", domain.ErrInvalidInput)
	}
	limit, offset = normalizePage(limit, offset)
	items, total, err := s.orders.ListByOwner(ctx, ownerID, limit, offset)
	if err != nil {
		return OrderList{}, err
	}
	return OrderList{Items: items, Total: total}, nil
}

// TransitionOrder applies one edge of the order graph. Customers may only cancel their
// own pending orders.
func (s *Service) TransitionOrder(ctx context.Context, actor Actor, orderID string, to domain.OrderStatus, note string) (domain.Order, error) {
	if err := requireActor(actor); err != nil {
		return domain.Order{}, err
	}
	if !to.Valid() {
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidInput, to)
	}
	if !actor.IsStaff() {
		order, err := s.orders.Get(ctx, orderID)
		if err != nil {
			return domain.Order{}, err
		}
		if !canAccessOrder(actor, order) {
			return domain.Order{}, domain.ErrForbidden
		}
		if to != domain.OrderStatusCancelled || order.Status != domain.OrderStatusPending {
			return domain.Order{}, domain.ErrForbidden
		}
	}
	order, _, err := s.applyOrderChange(ctx, orderChange{
		orderID: orderID,
		to:      to,
		actorID: actor.SubjectID,
		note:    note,
	})
	return order, err
}

func (s *Service) BatchTransition(ctx context.Context, actor Actor, orderIDs []string, to domain.OrderStatus, note string) ([]BatchTransitionResult, error) {
	if err := requireStaff(actor); err != nil {
		return nil, err
	}
	if len(orderIDs) == 0 {
		return nil, fmt.Errorf("%w: order ids are required", domain.ErrInvalidInput)
	}
	results := make([]BatchTransitionResult, 0, len(orderIDs))
	succeeded := make([]string, 0, len(orderIDs))
	for _, id := range orderIDs {
		order, err := s.TransitionOrder(ctx, actor, id, to, note)
		if err != nil {
			results = append(results, BatchTransitionResult{OrderID: id, Error: err.Error()})
			continue
		}
		succeeded = append(succeeded, id)
		results = append(results, BatchTransitionResult{OrderID: id, Status: order.Status})
	}
	s.notifyBatch(ctx, succeeded, "status:"+string(to))
	return results, nil
}

// orderChange describes one conditional write against an order.
type orderChange struct {
	orderID string
	// to is the target status; empty means no status change.
	to      domain.OrderStatus
	actorID string
	note    string
	// idempotent turns "already in `to`" into a no-op instead of InvalidTransition.
	idempotent bool
	// onlyFrom restricts the status change to orders currently in this status.
	onlyFrom domain.OrderStatus
	// payment stamps the order's payment link as paid in the same write.
	payment *domain.Payment
}

type orderEffects struct {
	from          domain.OrderStatus
	statusChanged bool
	paidStamped   bool
	restock       bool
	refundPoints  bool
	earnPoints    int64
	reversePoints int64
}

// applyOrderChange is the single write path for order status. Side effects are claimed by
// flags in the same conditional write and performed after it commits.
func (s *Service) applyOrderChange(ctx context.Context, ch orderChange) (domain.Order, bool, error) {
	pointsCfg, err := s.pointsSettings(ctx)
	if err != nil {
		return domain.Order{}, false, err
	}

	var (
		saved   domain.Order
		effects orderEffects
	)
	err = s.retryOnConflict(ctx, "apply_order_change", func() error {
		effects = orderEffects{}
		order, err := s.orders.Get(ctx, ch.orderID)
		if err != nil {
			return err
		}
		now := s.nowFn()
		changed := false
		effects.from = order.Status

		if ch.payment != nil && order.Payment.Status != domain.PaymentStatusPaid {
			paidAt := now
			if ch.payment.PaidAt != nil {
				paidAt = *ch.payment.PaidAt
			}
			order.Payment = domain.PaymentLink{
				PaymentID: ch.payment.ID,
				Reference: ch.payment.Reference,
				Status:    domain.PaymentStatusPaid,
				PaidAt:    &paidAt,
			}
			order.AppendNote(ch.actorID, "payment received: "+ch.payment.Reference, now)
			if order.Status != domain.OrderStatusCancelled {
				effects.earnPoints = claimEarn(&order, pointsCfg)
			}
			effects.paidStamped = true
			changed = true
		}

		target := ch.to
		if target != "" && ch.onlyFrom != "" && order.Status != ch.onlyFrom {
			target = ""
		}
		if target != "" && ch.idempotent && order.Status == target {
			target = ""
		}

		var deducted []domain.LineItem
		if target != "" {
			if err := order.ApplyTransition(target, ch.actorID, ch.note, now); err != nil {
				return err
			}
			effects.statusChanged = true
			changed = true
			switch target {
			case domain.OrderStatusConfirmed:
				if order.MarkInventoryDeducted(ch.actorID, now) {
					deducted, err = s.deductInventory(ctx, order.Items)
					if err != nil {
						return err
					}
					order.AppendNote(ch.actorID, "inventory deducted", now)
				}
			case domain.OrderStatusCancelled:
				if order.MarkRestocked(now) {
					effects.restock = true
					order.AppendNote(ch.actorID, "inventory restocked", now)
				}
				if order.Points.Points > 0 && !order.Loyalty.SpendRefunded && !order.Customer.IsGuest() {
					order.Loyalty.SpendRefunded = true
					effects.refundPoints = true
				}
				if order.Loyalty.Awarded && order.Loyalty.AwardedPoints > 0 && !order.Loyalty.EarnReversed {
					order.Loyalty.EarnReversed = true
					effects.reversePoints = order.Loyalty.AwardedPoints
				}
			case domain.OrderStatusCompleted:
				if effects.earnPoints == 0 {
					effects.earnPoints = claimEarn(&order, pointsCfg)
				}
			}
		}

		if !changed {
			saved = order
			return nil
		}
		updated, err := s.orders.Update(ctx, order)
		if err != nil {
			if len(deducted) > 0 {
				s.restockItems(ctx, deducted)
			}
			return err
		}
		saved = updated
		return nil
	})
	if err != nil {
		return domain.Order{}, false, err
	}
	s.afterOrderChange(ctx, saved, ch, effects)
	return saved, effects.statusChanged, nil
}

func (s *Service) afterOrderChange(ctx context.Context, order domain.Order, ch orderChange, fx orderEffects) {
	ownerID := order.Customer.OwnerID()
	if fx.restock {
		s.restockItems(ctx, order.Items)
	}
	if fx.refundPoints {
		if _, err := s.Earn(ctx, ownerID, order.Points.Points, order.ID, "refund: order cancelled"); err != nil {
			s.logFailure(ctx, "application.orders", "refund_cancelled_points", err, "order_id", order.ID)
		}
	}
	if fx.reversePoints > 0 {
		s.reverseEarnedPoints(ctx, ownerID, order.ID, fx.reversePoints)
	}
	if fx.earnPoints > 0 {
		if _, err := s.Earn(ctx, ownerID, fx.earnPoints, order.ID, "earned: order "+order.ID); err != nil {
			s.logFailure(ctx, "application.orders", "earn_points", err, "order_id", order.ID)
		}
	}
	if !fx.statusChanged {
		return
	}

	s.metrics.OrderTransition(fx.from, order.Status)
	s.emitOrderStatusChanged(ctx, order, fx.from, ch.actorID, ch.note)
	switch order.Status {
	case domain.OrderStatusCancelled:
		s.reinstateRewards(ctx, order.ID)
		if order.TabID != "" {
			if _, err := s.RecomputeTotals(ctx, order.TabID); err != nil {
				s.logFailure(ctx, "application.orders", "recompute_tab_after_cancel", err, "order_id", order.ID, "tab_id", order.TabID)
			}
		}
		s.emit(ctx, domain.EventOrderCancelled, "data.order_id", order.ID, contracts.OrderStatusChangedPayload{
			OrderID:   order.ID,
			From:      string(fx.from),
			To:        string(order.Status),
			ActorID:   ch.actorID,
			Note:      ch.note,
			ChangedAt: order.UpdatedAt.Format(time.RFC3339),
		})
		s.notifyCancelled(ctx, order.ID, ch.note)
	case domain.OrderStatusCompleted:
		if _, err := s.Evaluate(ctx, order); err != nil {
			s.logFailure(ctx, "application.orders", "evaluate_rewards", err, "order_id", order.ID)
		}
	}
	s.notifyStatus(ctx, order, ch.note)
	s.logger.InfoContext(ctx, "order status changed",
		"module", "application.orders",
		"operation", "transition_order",
		"outcome", "success",
		"order_id", order.ID,
		"from", fx.from,
		"to", order.Status,
	)
}

// reverseEarnedPoints claws back points earned by an order that was later cancelled. The
// debit is capped at the current balance because earned points may already be spent.
func (s *Service) reverseEarnedPoints(ctx context.Context, userID, orderID string, points int64) {
	_, err := s.appendPointsAfter(ctx, userID, func(prev *domain.PointsTransaction) (domain.PointsEntryInput, bool) {
		balance := int64(0)
		if prev != nil {
			balance = prev.BalanceAfter
		}
		amount := min(points, balance)
		if amount <= 0 {
			return domain.PointsEntryInput{}, false
		}
		return domain.PointsEntryInput{
			UserID:      userID,
			Type:        domain.PointsAdjusted,
			Amount:      -amount,
			OrderID:     orderID,
			Description: "reversal: order cancelled",
		}, true
	})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidState):
		s.logger.WarnContext(ctx, "earned points already spent; nothing to reverse",
			"module", "application.orders",
			"operation", "reverse_earned_points",
			"order_id", orderID,
			"user_id", userID,
			"points", points,
		)
	default:
		s.logFailure(ctx, "application.orders", "reverse_earned_points", err, "order_id", orderID, "user_id", userID)
	}
}

func claimEarn(order *domain.Order, cfg domain.PointsSettings) int64 {
	if order.Loyalty.Awarded || order.Customer.IsGuest() {
		return 0
	}
	points := cfg.EarnedFor(order.Totals.Total)
	order.Loyalty.Awarded = true
	order.Loyalty.AwardedPoints = points
	return points
}

// walkOrderTo drives an order forward along the graph until it reaches target. The bool
// reports whether any step was applied.
func (s *Service) walkOrderTo(ctx context.Context, orderID string, target domain.OrderStatus, actorID, note string) (domain.Order, bool, error) {
	order, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return domain.Order{}, false, err
	}
	if order.Status.Terminal() || order.Status == target {
		return order, false, nil
	}
	path := domain.OrderPath(order.Status, target, order.Type)
	if path == nil {
		return order, false, fmt.Errorf("%w: %s cannot reach %s", domain.ErrInvalidTransition, order.Status, target)
	}
	changed := false
	for _, next := range path {
		var applied bool
		order, applied, err = s.applyOrderChange(ctx, orderChange{
			orderID:    orderID,
			to:         next,
			actorID:    actorID,
			note:       note,
			idempotent: true,
		})
		if err != nil {
			return order, changed, err
		}
		changed = changed || applied
	}
	return order, changed, nil
}

// deductInventory deducts every line. On failure the lines already deducted are restocked.
func (s *Service) deductInventory(ctx context.Context, items []domain.LineItem) ([]domain.LineItem, error) {
	if s.inventory == nil {
		return nil, nil
	}
	done := make([]domain.LineItem, 0, len(items))
	for _, item := range items {
		if err := s.inventory.Deduct(ctx, item.MenuItemID, item.Quantity); err != nil {
			s.restockItems(ctx, done)
			return nil, fmt.Errorf("deduct %s: %w", item.MenuItemID, err)
		}
		done = append(done, item)
	}
	return done, nil
}

func (s *Service) restockItems(ctx context.Context, items []domain.LineItem) {
	if s.inventory == nil {
		return
	}
	for _, item := range items {
		if err := s.inventory.Restock(ctx, item.MenuItemID, item.Quantity); err != nil {
			s.logFailure(ctx, "application.orders", "restock_item", err, "menu_item_id", item.MenuItemID, "quantity", item.Quantity)
		}
	}
}
