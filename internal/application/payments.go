package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

const (
	OutcomeApplied          = "applied"
	OutcomeDuplicate        = "duplicate"
	OutcomeResumed          = "resumed"
	OutcomeIgnored          = "ignored"
	OutcomeFailedRecorded   = "failed_recorded"
	OutcomeDuplicateCapture = "duplicate_capture"
	OutcomeUnknownReference = "unknown_reference"
)

const (
	SourceWebhook = "webhook"
	SourceVerify  = "verify"
	SourceManual  = "manual"
	SourceSweep   = "sweep"
)

type PaymentSessionInput struct {
	OrderID     string             `json:"order_id,omitempty"`
	TabID       string             `json:"tab_id,omitempty"`
	Customer    ports.CustomerInfo `json:"customer"`
	CallbackURL string             `json:"callback_url,omitempty"`
}

type PaymentSession struct {
	Payment          domain.Payment `json:"payment"`
	AuthorizationURL string         `json:"authorization_url"`
	AccessCode       string         `json:"access_code,omitempty"`
}

type ManualPaymentInput struct {
	OrderID string               `json:"order_id,omitempty"`
	TabID   string               `json:"tab_id,omitempty"`
	Method  domain.PaymentMethod `json:"method"`
	Note    string               `json:"note,omitempty"`
}

// ReconcileSignal is one external report about a payment reference.
type ReconcileSignal struct {
	Source               string
	Reference            string
	Status               domain.PaymentStatus
	TransactionReference string
	AmountPaid           decimal.Decimal
	PaidAt               *time.Time
	Reason               string
	Raw                  json.RawMessage
	ActorID              string
}

type ReconcileResult struct {
	Outcome string         `json:"outcome"`
	Payment domain.Payment `json:"payment"`
	Order   *domain.Order  `json:"order,omitempty"`
	Tab     *domain.Tab    `json:"tab,omitempty"`
}

// RequestSession persists a pending Payment for an order or tab and opens a gateway session
// for it.
func (s *Service) RequestSession(ctx context.Context, actor Actor, in PaymentSessionInput) (PaymentSession, error) {
	if err := requireActor(actor); err != nil {
		return PaymentSession{}, err
	}
	if (in.OrderID == "") == (in.TabID == "") {
		return PaymentSession{}, fmt.Errorf("%w: exactly one of order id or tab id is required", domain.ErrInvalidInput)
	}
	if strings.TrimSpace(in.Customer.Email) == "" {
		return PaymentSession{}, fmt.Errorf("%w: customer email is required", domain.ErrInvalidInput)
	}
	if s.gateway == nil {
		return PaymentSession{}, fmt.Errorf("%w: payment gateway is not configured", domain.ErrInvalidState)
	}
	return withIdempotency(ctx, s, "payment_session", actor.IdempotencyKey, in, func() (PaymentSession, error) {
		return s.requestSession(ctx, actor, in)
	})
}

func (s *Service) requestSession(ctx context.Context, actor Actor, in PaymentSessionInput) (PaymentSession, error) {
	fees, err := s.feeSettings(ctx)
	if err != nil {
		return PaymentSession{}, err
	}

	var (
		amount   decimal.Decimal
		prefix   string
		metadata map[string]string
	)
	if in.OrderID != "" {
		order, err := s.orders.Get(ctx, in.OrderID)
		if err != nil {
			return PaymentSession{}, err
		}
		if !canAccessOrder(actor, order) {
			return PaymentSession{}, domain.ErrForbidden
		}
		if order.TabID != "" {
			return PaymentSession{}, fmt.Errorf("%w: order is on a tab; settle the tab instead", domain.ErrInvalidState)
		}
		if order.Status == domain.OrderStatusCancelled {
			return PaymentSession{}, fmt.Errorf("%w: order is cancelled", domain.ErrInvalidState)
		}
		if order.Payment.Status == domain.PaymentStatusPaid {
			return PaymentSession{}, fmt.Errorf("%w: order is already paid", domain.ErrInvalidState)
		}
		amount = order.Totals.Total
		prefix = "ord"
		metadata = map[string]string{"order_id": order.ID}
	} else {
		tab, err := s.tabs.Get(ctx, in.TabID)
		if err != nil {
			return PaymentSession{}, err
		}
		if !canAccessTab(actor, tab) {
			return PaymentSession{}, domain.ErrForbidden
		}
		tab, err = s.RecomputeTotals(ctx, in.TabID)
		if err != nil {
			return PaymentSession{}, err
		}
		if tab.Status == domain.TabStatusClosed {
			return PaymentSession{}, fmt.Errorf("%w: tab is closed", domain.ErrInvalidState)
		}
		amount = tab.Totals.Total
		prefix = "tab"
		metadata = map[string]string{"tab_id": tab.ID, "tab_number": tab.Number}
	}
	if !amount.IsPositive() {
		return PaymentSession{}, fmt.Errorf("%w: payable amount must be positive", domain.ErrInvalidInput)
	}

	now := s.nowFn()
	payment := domain.Payment{
		ID:        uuid.NewString(),
		OrderID:   in.OrderID,
		TabID:     in.TabID,
		Amount:    amount,
		Currency:  fees.Currency,
		Method:    domain.PaymentMethodGateway,
		Status:    domain.PaymentStatusPending,
		Reference: newPaymentReference(prefix),
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		return PaymentSession{}, err
	}
	if payment.OrderID != "" {
		s.linkOrderPayment(ctx, payment)
	} else if err := s.beginTabSettlement(ctx, payment); err != nil {
		s.markSessionFailed(ctx, payment, err)
		return PaymentSession{}, err
	}

	callbackURL := strings.TrimSpace(in.CallbackURL)
	if callbackURL == "" {
		callbackURL = s.cfg.PaymentCallbackURL
	}
	handle, err := s.gateway.CreateSession(ctx, ports.SessionRequest{
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		Reference:   payment.Reference,
		Customer:    in.Customer,
		CallbackURL: callbackURL,
		Metadata:    metadata,
	})
	if err != nil {
		s.markSessionFailed(ctx, payment, err)
		return PaymentSession{}, fmt.Errorf("create payment session: %w", err)
	}

	s.logger.InfoContext(ctx, "payment session created",
		"module", "application.payments",
		"operation", "request_session",
		"outcome", "success",
		"reference", payment.Reference,
		"amount", payment.Amount.String(),
	)
	return PaymentSession{
		Payment:          payment,
		AuthorizationURL: handle.AuthorizationURL,
		AccessCode:       handle.AccessCode,
	}, nil
}

func (s *Service) beginTabSettlement(ctx context.Context, payment domain.Payment) error {
	return s.withLock(ctx, tabLockKey(payment.TabID), func() error {
		return s.retryOnConflict(ctx, "begin_tab_settlement", func() error {
			tab, err := s.tabs.Get(ctx, payment.TabID)
			if err != nil {
				return err
			}
			members, err := s.orders.ListByIDs(ctx, tab.OrderIDs)
			if err != nil {
				return err
			}
			tab.RecomputeTotals(members)
			if !tab.Totals.Total.Equal(payment.Amount) {
				return fmt.Errorf("%w: tab total changed to %s while the session was prepared",
					domain.ErrInvalidState, tab.Totals.Total.StringFixed(domain.MoneyPlaces))
			}
			if err := tab.BeginSettlement(payment.Reference, s.nowFn()); err != nil {
				return err
			}
			_, err = s.tabs.Update(ctx, tab)
			return err
		})
	})
}

func (s *Service) linkOrderPayment(ctx context.Context, payment domain.Payment) {
	err := s.retryOnConflict(ctx, "link_order_payment", func() error {
		order, err := s.orders.Get(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		if order.Payment.Status == domain.PaymentStatusPaid {
			return nil
		}
		if order.Payment.Reference == payment.Reference && order.Payment.Status == payment.Status {
			return nil
		}
		order.Payment = domain.PaymentLink{
			PaymentID: payment.ID,
			Reference: payment.Reference,
			Status:    payment.Status,
		}
		order.UpdatedAt = s.nowFn()
		_, err = s.orders.Update(ctx, order)
		return err
	})
	if err != nil {
		s.logFailure(ctx, "application.payments", "link_order_payment", err, "order_id", payment.OrderID, "reference", payment.Reference)
	}
}

func (s *Service) markSessionFailed(ctx context.Context, payment domain.Payment, cause error) {
	_, err := s.recordFailure(ctx, payment.Reference, domain.PaymentStatusFailed, "session: "+cause.Error(), nil)
	if err != nil {
		s.logFailure(ctx, "application.payments", "mark_session_failed", err, "reference", payment.Reference)
	}
}

// Reconcile applies one payment signal exactly once. Repeated or stale signals for a
// reference that already reached paid are absorbed as duplicates.
func (s *Service) Reconcile(ctx context.Context, sig ReconcileSignal) (ReconcileResult, error) {
	sig.Reference = strings.TrimSpace(sig.Reference)
	if sig.Reference == "" {
		return ReconcileResult{}, fmt.Errorf("%w: payment reference is required", domain.ErrInvalidInput)
	}
	if sig.ActorID == "" {
		sig.ActorID = SystemActor(sig.Source).SubjectID
	}
	payment, err := s.payments.GetByReference(ctx, sig.Reference)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			s.metrics.ReconcileOutcome(sig.Source, OutcomeUnknownReference)
			s.logger.WarnContext(ctx, "payment signal for unknown reference",
				"module", "application.payments",
				"operation", "reconcile",
				"outcome", OutcomeUnknownReference,
				"source", sig.Source,
				"reference", sig.Reference,
			)
			return ReconcileResult{Outcome: OutcomeUnknownReference}, fmt.Errorf("%w: %s", domain.ErrUnknownReference, sig.Reference)
		}
		return ReconcileResult{}, err
	}

	var result ReconcileResult
	switch sig.Status {
	case domain.PaymentStatusPaid:
		result, err = s.reconcilePaid(ctx, sig)
	case domain.PaymentStatusFailed, domain.PaymentStatusCancelled:
		result, err = s.recordFailure(ctx, sig.Reference, sig.Status, sig.Reason, sig.Raw)
	case domain.PaymentStatusProcessing:
		result, err = s.markProcessing(ctx, sig.Reference)
	case domain.PaymentStatusPending:
		result = ReconcileResult{Outcome: OutcomeIgnored, Payment: payment}
	default:
		return ReconcileResult{}, fmt.Errorf("%w: unsupported payment status %q", domain.ErrInvalidInput, sig.Status)
	}
	if err != nil {
		s.metrics.ReconcileOutcome(sig.Source, "error")
		s.logFailure(ctx, "application.payments", "reconcile", err, "source", sig.Source, "reference", sig.Reference)
		return result, err
	}
	s.metrics.ReconcileOutcome(sig.Source, result.Outcome)
	s.logger.InfoContext(ctx, "payment signal reconciled",
		"module", "application.payments",
		"operation", "reconcile",
		"outcome", result.Outcome,
		"source", sig.Source,
		"reference", sig.Reference,
		"payment_status", result.Payment.Status,
	)
	return result, nil
}

func (s *Service) reconcilePaid(ctx context.Context, sig ReconcileSignal) (ReconcileResult, error) {
	var (
		saved   domain.Payment
		outcome string
		winner  string
	)
	err := s.retryOnConflict(ctx, "reconcile_paid", func() error {
		p, err := s.payments.GetByReference(ctx, sig.Reference)
		if err != nil {
			return err
		}
		switch p.Status {
		case domain.PaymentStatusPaid, domain.PaymentStatusPartiallyRefunded, domain.PaymentStatusRefunded:
			saved, outcome = p, OutcomeDuplicate
			return nil
		}
		now := s.nowFn()

		other, err := s.payments.GetPaidForTarget(ctx, p.OrderID, p.TabID)
		switch {
		case err == nil && other.ID != p.ID:
			winner = other.Reference
			p.FailureReason = "duplicate capture: already settled by " + other.Reference
			p.TransactionReference = sig.TransactionReference
			p.RawPayload = sig.Raw
			if domain.CanTransitionPayment(p.Status, domain.PaymentStatusCancelled) {
				if err := p.MoveTo(domain.PaymentStatusCancelled, now); err != nil {
					return err
				}
			}
			p.UpdatedAt = now
			saved, err = s.payments.Update(ctx, p)
			outcome = OutcomeDuplicateCapture
			return err
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return err
		}

		if reason := paidAmountProblem(sig, p.Amount); reason != "" {
			p.FailureReason = reason
			p.RawPayload = sig.Raw
			if domain.CanTransitionPayment(p.Status, domain.PaymentStatusFailed) {
				if err := p.MoveTo(domain.PaymentStatusFailed, now); err != nil {
					return err
				}
			}
			p.UpdatedAt = now
			saved, err = s.payments.Update(ctx, p)
			outcome = OutcomeFailedRecorded
			return err
		}

		if err := p.MoveTo(domain.PaymentStatusPaid, now); err != nil {
			return err
		}
		if sig.PaidAt != nil {
			paidAt := sig.PaidAt.UTC()
			p.PaidAt = &paidAt
		}
		p.TransactionReference = sig.TransactionReference
		p.RawPayload = sig.Raw
		saved, err = s.payments.Update(ctx, p)
		outcome = OutcomeApplied
		return err
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	result := ReconcileResult{Outcome: outcome, Payment: saved}

	switch outcome {
	case OutcomeDuplicateCapture:
		s.logger.ErrorContext(ctx, "second capture for an already settled target; refund required",
			"module", "application.payments",
			"operation", "reconcile_paid",
			"outcome", outcome,
			"reference", saved.Reference,
			"settled_by", winner,
		)
		if err := s.appendAudit(ctx, SystemActor(sig.Source), "payment.duplicate_capture", "payment", saved.Reference, map[string]any{
			"settled_by": winner,
			"amount":     saved.Amount.StringFixed(domain.MoneyPlaces),
		}); err != nil {
			return result, err
		}
		s.emitPayment(ctx, domain.EventPaymentFailed, saved)
		return result, nil
	case OutcomeFailedRecorded:
		s.afterPaymentFailure(ctx, saved)
		return result, nil
	case OutcomeApplied:
		s.emitPayment(ctx, domain.EventPaymentPaid, saved)
	}

	changed, err := s.driveTarget(ctx, saved, sig.Source, sig.ActorID, &result)
	if err != nil {
		return result, err
	}
	if outcome == OutcomeDuplicate && changed {
		result.Outcome = OutcomeResumed
	}
	return result, nil
}

// paidAmountProblem returns why a success signal cannot settle the expected amount. Gateway
// signals must carry a positive amount; manual confirmations are entered by staff.
func paidAmountProblem(sig ReconcileSignal, expected decimal.Decimal) string {
	if !sig.AmountPaid.IsPositive() {
		if sig.Source == SourceManual {
			return ""
		}
		return "amount missing: success signal carried no amount paid"
	}
	if sig.AmountPaid.LessThan(expected) {
		return fmt.Sprintf("amount mismatch: paid %s, expected %s",
			sig.AmountPaid.StringFixed(domain.MoneyPlaces), expected.StringFixed(domain.MoneyPlaces))
	}
	return ""
}

// driveTarget applies a paid payment to its order or tab. Every step is idempotent so a
// repeated signal re-drives whatever an earlier attempt left undone.
func (s *Service) driveTarget(ctx context.Context, payment domain.Payment, source, actorID string, result *ReconcileResult) (bool, error) {
	if payment.TabID != "" {
		tab, closed, err := s.closeTab(ctx, payment.TabID, &payment, actorID)
		if err != nil {
			return false, err
		}
		result.Tab = &tab
		if !closed && (tab.PaymentStatus != domain.PaymentStatusPaid || tab.PaymentReference != payment.Reference) {
			return false, s.flagSettledTabCapture(ctx, tab, payment, source, result)
		}
		if err := s.cascadeTabMembers(ctx, tab, &payment, actorID); err != nil {
			return closed, err
		}
		return closed, nil
	}

	before, err := s.orders.Get(ctx, payment.OrderID)
	if err != nil {
		return false, err
	}
	order, statusChanged, err := s.applyOrderChange(ctx, orderChange{
		orderID:  payment.OrderID,
		to:       domain.OrderStatusConfirmed,
		onlyFrom: domain.OrderStatusPending,
		actorID:  actorID,
		note:     "payment confirmed",
		payment:  &payment,
	})
	if err != nil {
		return false, err
	}
	result.Order = &order
	if order.Status == domain.OrderStatusCancelled && before.Payment.Status != domain.PaymentStatusPaid {
		s.logger.WarnContext(ctx, "payment captured for cancelled order; refund required",
			"module", "application.payments",
			"operation", "drive_target",
			"outcome", "attention",
			"order_id", order.ID,
			"reference", payment.Reference,
		)
	}
	return statusChanged || before.Payment.Status != domain.PaymentStatusPaid, nil
}

// flagSettledTabCapture handles a capture for a tab that was already closed some other way,
// such as a manual settle. Members are left alone and the capture is flagged for refund.
func (s *Service) flagSettledTabCapture(ctx context.Context, tab domain.Tab, payment domain.Payment, source string, result *ReconcileResult) error {
	s.logger.ErrorContext(ctx, "capture for a tab closed without it; refund required",
		"module", "application.payments",
		"operation", "drive_target",
		"outcome", OutcomeDuplicateCapture,
		"tab_id", tab.ID,
		"reference", payment.Reference,
		"tab_payment_status", tab.PaymentStatus,
	)
	if result.Outcome != OutcomeApplied {
		return nil
	}
	result.Outcome = OutcomeDuplicateCapture
	return s.appendAudit(ctx, SystemActor(source), "payment.duplicate_capture", "payment", payment.Reference, map[string]any{
		"tab_id":     tab.ID,
		"tab_status": tab.Status,
		"settled_by": tab.PaymentReference,
		"amount":     payment.Amount.StringFixed(domain.MoneyPlaces),
	})
}

// recordFailure moves a payment to failed or cancelled when the transition is legal.
// A paid payment is never overwritten.
func (s *Service) recordFailure(ctx context.Context, reference string, status domain.PaymentStatus, reason string, raw json.RawMessage) (ReconcileResult, error) {
	var (
		saved   domain.Payment
		outcome string
	)
	err := s.retryOnConflict(ctx, "record_payment_failure", func() error {
		p, err := s.payments.GetByReference(ctx, reference)
		if err != nil {
			return err
		}
		if p.Status == status {
			saved, outcome = p, OutcomeDuplicate
			return nil
		}
		if !domain.CanTransitionPayment(p.Status, status) {
			saved, outcome = p, OutcomeIgnored
			return nil
		}
		if err := p.MoveTo(status, s.nowFn()); err != nil {
			return err
		}
		if strings.TrimSpace(reason) == "" {
			reason = "gateway reported " + string(status)
		}
		p.FailureReason = reason
		if len(raw) > 0 {
			p.RawPayload = raw
		}
		saved, err = s.payments.Update(ctx, p)
		outcome = OutcomeFailedRecorded
		return err
	})
	if err != nil {
		return ReconcileResult{}, err
	}
	if outcome == OutcomeFailedRecorded {
		s.afterPaymentFailure(ctx, saved)
	}
	return ReconcileResult{Outcome: outcome, Payment: saved}, nil
}

func (s *Service) afterPaymentFailure(ctx context.Context, p domain.Payment) {
	if p.TabID != "" {
		s.reopenTab(ctx, p.TabID, p.Status)
	} else {
		s.linkOrderPayment(ctx, p)
	}
	s.emitPayment(ctx, domain.EventPaymentFailed, p)
}

func (s *Service) markProcessing(ctx context.Context, reference string) (ReconcileResult, error) {
	var (
		saved   domain.Payment
		outcome string
	)
	err := s.retryOnConflict(ctx, "mark_payment_processing", func() error {
		p, err := s.payments.GetByReference(ctx, reference)
		if err != nil {
			return err
		}
		if p.Status != domain.PaymentStatusPending {
			saved, outcome = p, OutcomeIgnored
			return nil
		}
		if err := p.MoveTo(domain.PaymentStatusProcessing, s.nowFn()); err != nil {
			return err
		}
		saved, err = s.payments.Update(ctx, p)
		outcome = OutcomeApplied
		return err
	})
	return ReconcileResult{Outcome: outcome, Payment: saved}, err
}

// HandleWebhook authenticates a gateway delivery and reconciles it.
func (s *Service) HandleWebhook(ctx context.Context, raw []byte, signature string) (ReconcileResult, error) {
	if s.webhooks == nil {
		return ReconcileResult{}, fmt.Errorf("%w: webhook verifier is not configured", domain.ErrInvalidState)
	}
	payload, err := s.webhooks.ParseWebhook(raw, signature)
	if err != nil {
		s.metrics.ReconcileOutcome(SourceWebhook, "rejected")
		return ReconcileResult{}, err
	}
	status, ok := domain.NormalizeGatewayStatus(payload.Status)
	if !ok {
		s.metrics.ReconcileOutcome(SourceWebhook, OutcomeIgnored)
		s.logger.InfoContext(ctx, "webhook event ignored",
			"module", "application.payments",
			"operation", "handle_webhook",
			"outcome", OutcomeIgnored,
			"event", payload.Event,
			"reference", payload.Reference,
		)
		return ReconcileResult{Outcome: OutcomeIgnored}, nil
	}
	return s.Reconcile(ctx, ReconcileSignal{
		Source:               SourceWebhook,
		Reference:            payload.Reference,
		Status:               status,
		TransactionReference: payload.TransactionReference,
		AmountPaid:           payload.AmountPaid,
		PaidAt:               payload.PaidOn,
		Raw:                  payload.Raw,
	})
}

// VerifyPayment polls the gateway for a reference on behalf of its owner or staff.
func (s *Service) VerifyPayment(ctx context.Context, actor Actor, reference string) (ReconcileResult, error) {
	if err := requireActor(actor); err != nil {
		return ReconcileResult{}, err
	}
	if s.gateway == nil {
		return ReconcileResult{}, fmt.Errorf("%w: payment gateway is not configured", domain.ErrInvalidState)
	}
	payment, err := s.payments.GetByReference(ctx, strings.TrimSpace(reference))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return ReconcileResult{}, fmt.Errorf("%w: %s", domain.ErrUnknownReference, reference)
		}
		return ReconcileResult{}, err
	}
	if err := s.authorizePayment(ctx, actor, payment); err != nil {
		return ReconcileResult{}, err
	}
	return s.verifyAndReconcile(ctx, payment, SourceVerify, actor.SubjectID)
}

func (s *Service) verifyAndReconcile(ctx context.Context, payment domain.Payment, source, actorID string) (ReconcileResult, error) {
	v, err := s.gateway.Verify(ctx, payment.Reference)
	if err != nil {
		return ReconcileResult{Payment: payment}, fmt.Errorf("verify payment: %w", err)
	}
	status, ok := domain.NormalizeGatewayStatus(v.Status)
	if !ok {
		return ReconcileResult{Payment: payment}, fmt.Errorf("%w: unrecognized gateway status %q", domain.ErrUpstreamRejected, v.Status)
	}
	return s.Reconcile(ctx, ReconcileSignal{
		Source:               source,
		Reference:            payment.Reference,
		Status:               status,
		TransactionReference: v.TransactionReference,
		AmountPaid:           v.AmountPaid,
		PaidAt:               v.PaidOn,
		Raw:                  v.RawPayload,
		ActorID:              actorID,
	})
}

func (s *Service) GetPayment(ctx context.Context, actor Actor, reference string) (domain.Payment, error) {
	if err := requireActor(actor); err != nil {
		return domain.Payment{}, err
	}
	payment, err := s.payments.GetByReference(ctx, strings.TrimSpace(reference))
	if err != nil {
		return domain.Payment{}, err
	}
	if err := s.authorizePayment(ctx, actor, payment); err != nil {
		return domain.Payment{}, err
	}
	return payment, nil
}

func (s *Service) authorizePayment(ctx context.Context, actor Actor, payment domain.Payment) error {
	if actor.IsStaff() {
		return nil
	}
	if payment.TabID != "" {
		tab, err := s.tabs.Get(ctx, payment.TabID)
		if err != nil {
			return err
		}
		if !canAccessTab(actor, tab) {
			return domain.ErrForbidden
		}
		return nil
	}
	order, err := s.orders.Get(ctx, payment.OrderID)
	if err != nil {
		return err
	}
	if !canAccessOrder(actor, order) {
		return domain.ErrForbidden
	}
	return nil
}

// ConfirmManualPayment records money collected outside the gateway and reconciles it.
func (s *Service) ConfirmManualPayment(ctx context.Context, actor Actor, in ManualPaymentInput) (ReconcileResult, error) {
	if err := requireStaff(actor); err != nil {
		return ReconcileResult{}, err
	}
	if (in.OrderID == "") == (in.TabID == "") {
		return ReconcileResult{}, fmt.Errorf("%w: exactly one of order id or tab id is required", domain.ErrInvalidInput)
	}
	switch in.Method {
	case domain.PaymentMethodCash, domain.PaymentMethodPOS, domain.PaymentMethodBankTransfer, domain.PaymentMethodCard, domain.PaymentMethodUSSD:
	default:
		return ReconcileResult{}, fmt.Errorf("%w: unsupported manual payment method %q", domain.ErrInvalidInput, in.Method)
	}
	return withIdempotency(ctx, s, "manual_payment", actor.IdempotencyKey, in, func() (ReconcileResult, error) {
		fees, err := s.feeSettings(ctx)
		if err != nil {
			return ReconcileResult{}, err
		}
		var amount decimal.Decimal
		if in.OrderID != "" {
			order, err := s.orders.Get(ctx, in.OrderID)
			if err != nil {
				return ReconcileResult{}, err
			}
			if order.Payment.Status == domain.PaymentStatusPaid {
				return ReconcileResult{}, fmt.Errorf("%w: order is already paid", domain.ErrInvalidState)
			}
			if order.TabID != "" || order.Status == domain.OrderStatusCancelled {
				return ReconcileResult{}, fmt.Errorf("%w: order cannot be paid directly", domain.ErrInvalidState)
			}
			amount = order.Totals.Total
		} else {
			tab, err := s.RecomputeTotals(ctx, in.TabID)
			if err != nil {
				return ReconcileResult{}, err
			}
			if tab.Status == domain.TabStatusClosed {
				return ReconcileResult{}, fmt.Errorf("%w: tab is closed", domain.ErrInvalidState)
			}
			amount = tab.Totals.Total
		}

		now := s.nowFn()
		payment := domain.Payment{
			ID:        uuid.NewString(),
			OrderID:   in.OrderID,
			TabID:     in.TabID,
			Amount:    amount,
			Currency:  fees.Currency,
			Method:    in.Method,
			Status:    domain.PaymentStatusPending,
			Reference: newPaymentReference("manual"),
			Version:   1,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := s.payments.Create(ctx, payment); err != nil {
			return ReconcileResult{}, err
		}
		if err := s.appendAudit(ctx, actor, "payment.manual_confirmed", "payment", payment.Reference, map[string]any{
			"order_id": in.OrderID,
			"tab_id":   in.TabID,
			"method":   in.Method,
			"amount":   amount.StringFixed(domain.MoneyPlaces),
			"note":     in.Note,
		}); err != nil {
			return ReconcileResult{}, err
		}
		return s.Reconcile(ctx, ReconcileSignal{
			Source:     SourceManual,
			Reference:  payment.Reference,
			Status:     domain.PaymentStatusPaid,
			AmountPaid: amount,
			ActorID:    actor.SubjectID,
		})
	})
}

// Refund records a full or partial refund against a captured payment. Admin only.
func (s *Service) Refund(ctx context.Context, actor Actor, reference string, amount decimal.Decimal, reason string) (domain.Payment, error) {
	if err := requireAdmin(actor); err != nil {
		return domain.Payment{}, err
	}
	request := map[string]any{"reference": reference, "amount": amount.String(), "reason": reason}
	return withIdempotency(ctx, s, "refund", actor.IdempotencyKey, request, func() (domain.Payment, error) {
		var before, saved domain.Payment
		err := s.retryOnConflict(ctx, "refund_payment", func() error {
			p, err := s.payments.GetByReference(ctx, reference)
			if err != nil {
				return err
			}
			before = p
			if err := p.ApplyRefund(domain.RoundMoney(amount), reason, s.nowFn()); err != nil {
				return err
			}
			saved, err = s.payments.Update(ctx, p)
			return err
		})
		if err != nil {
			return domain.Payment{}, err
		}
		if err := s.appendAudit(ctx, actor, "payment.refunded", "payment", reference, map[string]any{
			"amount":        amount.StringFixed(domain.MoneyPlaces),
			"reason":        reason,
			"status_before": before.Status,
			"status_after":  saved.Status,
		}); err != nil {
			return domain.Payment{}, err
		}
		s.emitPayment(ctx, domain.EventPaymentRefunded, saved)
		return saved, nil
	})
}

// VerifyStalePending polls the gateway for sessions left pending past the configured age.
func (s *Service) VerifyStalePending(ctx context.Context) (int, error) {
	if s.gateway == nil {
		return 0, nil
	}
	cutoff := s.nowFn().Add(-s.cfg.StalePaymentAge)
	stale, err := s.payments.ListPendingBefore(ctx, cutoff, s.cfg.SweepBatchSize)
	if err != nil {
		return 0, err
	}
	reconciled := 0
	for _, p := range stale {
		if p.Method != domain.PaymentMethodGateway {
			continue
		}
		result, err := s.verifyAndReconcile(ctx, p, SourceSweep, SystemActor(SourceSweep).SubjectID)
		if err != nil {
			s.logFailure(ctx, "application.payments", "verify_stale_pending", err, "reference", p.Reference)
			continue
		}
		if result.Outcome != OutcomeIgnored && result.Outcome != OutcomeDuplicate {
			reconciled++
		}
	}
	return reconciled, nil
}
