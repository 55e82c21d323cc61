package application

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/contracts"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

func (s *Service) enqueueEvent(ctx context.Context, eventType, partitionKeyPath, partitionKey string, payload any) error {
	if s.outbox == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	now := s.nowFn()
	envelope := contracts.EventEnvelope{
		EventID:          uuid.NewString(),
		EventType:        eventType,
		EventClass:       domain.CanonicalEventClassDomain,
		OccurredAt:       now,
		PartitionKeyPath: partitionKeyPath,
		PartitionKey:     partitionKey,
		SourceService:    s.cfg.ServiceName,
		TraceID:          uuid.NewString(),
		SchemaVersion:    "v1",
		Data:             data,
	}
	blob, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	return s.outbox.Enqueue(ctx, ports.OutboxRecord{
		OutboxID:     envelope.EventID,
		EventType:    eventType,
		PartitionKey: partitionKey,
		Payload:      blob,
		CreatedAt:    now,
	})
}

// emit enqueues an event after the owning state change has committed. Failures are logged
// and do not undo the change.
func (s *Service) emit(ctx context.Context, eventType, partitionKeyPath, partitionKey string, payload any) {
	if err := s.enqueueEvent(ctx, eventType, partitionKeyPath, partitionKey, payload); err != nil {
		s.logFailure(ctx, "application.events", "enqueue_event", err,
			"event_type", eventType,
			"partition_key", partitionKey,
		)
	}
}

func (s *Service) emitOrderStatusChanged(ctx context.Context, order domain.Order, from domain.OrderStatus, actorID, note string) {
	s.emit(ctx, domain.EventOrderStatusChanged, "data.order_id", order.ID, contracts.OrderStatusChangedPayload{
		OrderID:   order.ID,
		From:      string(from),
		To:        string(order.Status),
		ActorID:   actorID,
		Note:      note,
		ChangedAt: order.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Service) emitPayment(ctx context.Context, eventType string, p domain.Payment) {
	s.emit(ctx, eventType, "data.reference", p.Reference, contracts.PaymentPayload{
		PaymentID:            p.ID,
		Reference:            p.Reference,
		OrderID:              p.OrderID,
		TabID:                p.TabID,
		Amount:               p.Amount.StringFixed(domain.MoneyPlaces),
		Status:               string(p.Status),
		TransactionReference: p.TransactionReference,
		Reason:               p.FailureReason,
		At:                   p.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Service) emitTab(ctx context.Context, eventType string, tab domain.Tab) {
	s.emit(ctx, eventType, "data.tab_id", tab.ID, contracts.TabPayload{
		TabID:       tab.ID,
		Number:      tab.Number,
		TableNumber: tab.TableNumber,
		Status:      string(tab.Status),
		Total:       tab.Totals.Total.StringFixed(domain.MoneyPlaces),
		At:          tab.UpdatedAt.Format(time.RFC3339),
	})
}

func (s *Service) notifyStatus(ctx context.Context, order domain.Order, note string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOrderStatus(ctx, order.ID, order.Status, order.EstimatedWaitMinutes, note); err != nil {
		s.logger.WarnContext(ctx, "order status notification failed",
			"module", "application.notify",
			"operation", "notify_order_status",
			"outcome", "failure",
			"order_id", order.ID,
			"error", err,
		)
	}
}

func (s *Service) notifyCreated(ctx context.Context, order domain.Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOrderCreated(ctx, order); err != nil {
		s.logger.WarnContext(ctx, "order created notification failed",
			"module", "application.notify",
			"operation", "notify_order_created",
			"outcome", "failure",
			"order_id", order.ID,
			"error", err,
		)
	}
}

func (s *Service) notifyCancelled(ctx context.Context, orderID, reason string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOrderCancelled(ctx, orderID, reason); err != nil {
		s.logger.WarnContext(ctx, "order cancelled notification failed",
			"module", "application.notify",
			"operation", "notify_order_cancelled",
			"outcome", "failure",
			"order_id", orderID,
			"error", err,
		)
	}
}

func (s *Service) notifyBatch(ctx context.Context, orderIDs []string, action string) {
	if s.notifier == nil || len(orderIDs) == 0 {
		return
	}
	if err := s.notifier.NotifyBatch(ctx, orderIDs, action); err != nil {
		s.logger.WarnContext(ctx, "batch notification failed",
			"module", "application.notify",
			"operation", "notify_batch",
			"outcome", "failure",
			"order_count", len(orderIDs),
			"error", err,
		)
	}
}
