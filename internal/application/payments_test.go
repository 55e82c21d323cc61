package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/application"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

func (f *fixture) requestOrderSession(t *testing.T, orderID string) application.PaymentSession {
	t.Helper()
	session, err := f.svc.RequestSession(context.Background(), customer, application.PaymentSessionInput{
		OrderID:  orderID,
		Customer: ports.CustomerInfo{Email: "user-1@example.com", Name: "User One"},
	})
	require.NoError(t, err)
	return session
}

func TestPaidWebhookConfirmsOrderEndToEnd(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	order := f.placeOrder(t, "e2e")
	require.True(t, money("5625").Equal(order.Totals.Total))

	session := f.requestOrderSession(t, order.ID)
	assert.Equal(t, domain.PaymentStatusPending, session.Payment.Status)
	assert.True(t, money("5625").Equal(session.Payment.Amount))
	assert.NotEmpty(t, session.AuthorizationURL)
	require.Len(t, f.gateway.sessions, 1)
	assert.Equal(t, "https://shop.example.test/checkout/callback", f.gateway.sessions[0].CallbackURL)

	result, err := f.webhook(t, session.Payment.Reference, "success", "5625")
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeApplied, result.Outcome)
	assert.Equal(t, domain.PaymentStatusPaid, result.Payment.Status)
	require.NotNil(t, result.Payment.PaidAt)
	assert.Equal(t, "trx-"+session.Payment.Reference, result.Payment.TransactionReference)

	got, err := f.svc.GetOrder(ctx, customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
	assert.Equal(t, domain.PaymentStatusPaid, got.Payment.Status)
	assert.True(t, got.Inventory.Deducted)
	assert.Equal(t, 2, f.inventory.Deducted("jollof"))
	assert.Equal(t, 1, f.notifier.statusCount(order.ID, domain.OrderStatusConfirmed))

	balance, err := f.svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(56), balance)

	dup, err := f.webhook(t, session.Payment.Reference, "success", "5625")
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeDuplicate, dup.Outcome)
	assert.Equal(t, 2, f.inventory.Deducted("jollof"))
	assert.Equal(t, 1, f.notifier.statusCount(order.ID, domain.OrderStatusConfirmed))

	history, err := f.svc.GetTransactionHistory(ctx, "user-1", 50, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, history.Total)
}

func TestCompletingPaidOrderDoesNotEarnTwice(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "paid-then-complete")
	session := f.requestOrderSession(t, order.ID)
	_, err := f.webhook(t, session.Payment.Reference, "success", "5625")
	require.NoError(t, err)

	for _, next := range []domain.OrderStatus{domain.OrderStatusPreparing, domain.OrderStatusReady, domain.OrderStatusCompleted} {
		_, err := f.svc.TransitionOrder(ctx, staff, order.ID, next, "")
		require.NoError(t, err)
	}
	balance, err := f.svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(56), balance)
}

func TestVerifyRacingWebhookAppliesOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.placeOrder(t, "race")
	session := f.requestOrderSession(t, order.ID)
	f.gateway.setVerification(ports.Verification{
		Reference:  session.Payment.Reference,
		Status:     "success",
		AmountPaid: money("5625"),
	})

	verified, err := f.svc.VerifyPayment(context.Background(), customer, session.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeApplied, verified.Outcome)
	require.NotNil(t, verified.Order)
	assert.Equal(t, domain.OrderStatusConfirmed, verified.Order.Status)

	pushed, err := f.webhook(t, session.Payment.Reference, "success", "5625")
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeDuplicate, pushed.Outcome)
	assert.Equal(t, 2, f.inventory.Deducted("jollof"))
}

func TestVerifyRequiresOwnerOrStaff(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.placeOrder(t, "verify-auth")
	session := f.requestOrderSession(t, order.ID)

	stranger := application.Actor{SubjectID: "user-9", Role: application.RoleCustomer}
	_, err := f.svc.VerifyPayment(context.Background(), stranger, session.Payment.Reference)
	require.ErrorIs(t, err, domain.ErrForbidden)

	pending, err := f.svc.VerifyPayment(context.Background(), staff, session.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeIgnored, pending.Outcome)
	assert.Equal(t, domain.PaymentStatusPending, pending.Payment.Status)
}

func TestFailedWebhookLeavesInventoryAndPointsAlone(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "failed")
	session := f.requestOrderSession(t, order.ID)

	result, err := f.webhook(t, session.Payment.Reference, "failed", "")
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeFailedRecorded, result.Outcome)
	assert.Equal(t, domain.PaymentStatusFailed, result.Payment.Status)
	assert.Zero(t, f.inventory.Deducted("jollof"))

	got, err := f.svc.GetOrder(ctx, customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, got.Status)
	assert.Equal(t, domain.PaymentStatusFailed, got.Payment.Status)

	balance, err := f.svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestStaleFailureCannotOverwritePaid(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.placeOrder(t, "stale")
	session := f.requestOrderSession(t, order.ID)

	_, err := f.webhook(t, session.Payment.Reference, "success", "5625")
	require.NoError(t, err)
	stale, err := f.webhook(t, session.Payment.Reference, "failed", "")
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeIgnored, stale.Outcome)

	payment, err := f.svc.GetPayment(context.Background(), staff, session.Payment.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPaid, payment.Status)
}

func TestSecondCaptureForSameOrderIsCancelled(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.placeOrder(t, "double")
	first := f.requestOrderSession(t, order.ID)
	second := f.requestOrderSession(t, order.ID)

	_, err := f.webhook(t, first.Payment.Reference, "success", "5625")
	require.NoError(t, err)
	result, err := f.webhook(t, second.Payment.Reference, "success", "5625")
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeDuplicateCapture, result.Outcome)
	assert.Equal(t, domain.PaymentStatusCancelled, result.Payment.Status)
	assert.Equal(t, 2, f.inventory.Deducted("jollof"))

	entries, err := f.svc.ListAudit(context.Background(), admin, "payment", second.Payment.Reference, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "payment.duplicate_capture", entries[0].Action)
}

func TestUnderpaymentIsRecordedAsFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.placeOrder(t, "short")
	session := f.requestOrderSession(t, order.ID)

	result, err := f.webhook(t, session.Payment.Reference, "success", "100")
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeFailedRecorded, result.Outcome)
	assert.Equal(t, domain.PaymentStatusFailed, result.Payment.Status)
	assert.Contains(t, result.Payment.FailureReason, "amount mismatch")
	assert.Zero(t, f.inventory.Deducted("jollof"))
}

func TestWebhookRejectsBadSignatureAndUnknownReference(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.HandleWebhook(context.Background(), []byte(`{"reference":"x","status":"success"}`), "forged")
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	result, err := f.webhook(t, "ord_unknown", "success", "")
	require.ErrorIs(t, err, domain.ErrUnknownReference)
	assert.Equal(t, application.OutcomeUnknownReference, result.Outcome)
}

func TestRequestSessionGatewayFailureMarksPaymentFailed(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.placeOrder(t, "gateway-down")
	f.gateway.sessionErr = errors.Join(domain.ErrUpstreamTransient, errors.New("connection reset"))

	_, err := f.svc.RequestSession(context.Background(), customer, application.PaymentSessionInput{
		OrderID:  order.ID,
		Customer: ports.CustomerInfo{Email: "user-1@example.com"},
	})
	require.ErrorIs(t, err, domain.ErrUpstreamTransient)

	got, err := f.svc.GetOrder(context.Background(), customer, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusFailed, got.Payment.Status)
}

func TestManualPaymentConfirmsAndAudits(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "cash")

	_, err := f.svc.ConfirmManualPayment(ctx, customer, application.ManualPaymentInput{OrderID: order.ID, Method: domain.PaymentMethodCash})
	require.ErrorIs(t, err, domain.ErrForbidden)

	result, err := f.svc.ConfirmManualPayment(ctx, staff, application.ManualPaymentInput{OrderID: order.ID, Method: domain.PaymentMethodCash, Note: "paid at bar"})
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeApplied, result.Outcome)
	assert.Equal(t, domain.PaymentMethodCash, result.Payment.Method)
	require.NotNil(t, result.Order)
	assert.Equal(t, domain.OrderStatusConfirmed, result.Order.Status)

	entries, err := f.svc.ListAudit(ctx, admin, "payment", result.Payment.Reference, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "payment.manual_confirmed", entries[0].Action)

	_, err = f.svc.ConfirmManualPayment(ctx, staff, application.ManualPaymentInput{OrderID: order.ID, Method: domain.PaymentMethodCash})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestRefundIsAdminOnlyAndBounded(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	order := f.placeOrder(t, "refund")
	session := f.requestOrderSession(t, order.ID)
	_, err := f.webhook(t, session.Payment.Reference, "success", "5625")
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, staff, session.Payment.Reference, money("100"), "cold food")
	require.ErrorIs(t, err, domain.ErrForbidden)

	partial, err := f.svc.Refund(ctx, admin, session.Payment.Reference, money("625"), "cold food")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusPartiallyRefunded, partial.Status)

	_, err = f.svc.Refund(ctx, admin, session.Payment.Reference, money("6000"), "too much")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	full, err := f.svc.Refund(ctx, admin, session.Payment.Reference, money("5000"), "rest")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentStatusRefunded, full.Status)
	assert.True(t, money("5625").Equal(full.RefundAmount))
}

func TestVerifyStalePendingSweep(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	order := f.placeOrder(t, "stale-sweep")
	session := f.requestOrderSession(t, order.ID)
	f.gateway.setVerification(ports.Verification{Reference: session.Payment.Reference, Status: "success", AmountPaid: money("5625")})

	count, err := f.svc.VerifyStalePending(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)

	f.advance(20 * time.Minute)
	count, err = f.svc.VerifyStalePending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	got, err := f.svc.GetOrder(context.Background(), staff, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, got.Status)
}

func TestSuccessSignalWithoutAmountIsRecordedAsFailure(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		signal func(t *testing.T, f *fixture, reference string) application.ReconcileResult
	}{
		{
			name: "webhook",
			signal: func(t *testing.T, f *fixture, reference string) application.ReconcileResult {
				result, err := f.webhook(t, reference, "success", "")
				require.NoError(t, err)
				return result
			},
		},
		{
			name: "verify",
			signal: func(t *testing.T, f *fixture, reference string) application.ReconcileResult {
				f.gateway.setVerification(ports.Verification{Reference: reference, Status: "success", AmountPaid: money("0")})
				result, err := f.svc.VerifyPayment(context.Background(), staff, reference)
				require.NoError(t, err)
				return result
			},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			order := f.placeOrder(t, "no-amount")
			session := f.requestOrderSession(t, order.ID)

			result := tc.signal(t, f, session.Payment.Reference)
			assert.Equal(t, application.OutcomeFailedRecorded, result.Outcome)
			assert.Equal(t, domain.PaymentStatusFailed, result.Payment.Status)
			assert.Contains(t, result.Payment.FailureReason, "amount missing")
			assert.Zero(t, f.inventory.Deducted("jollof"))

			got, err := f.svc.GetOrder(context.Background(), customer, order.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.OrderStatusPending, got.Status)
			assert.NotEqual(t, domain.PaymentStatusPaid, got.Payment.Status)
		})
	}
}
