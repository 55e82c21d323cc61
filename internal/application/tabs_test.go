package application_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/application"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/ports"
)

func (f *fixture) tabOrder(t *testing.T, key, tabID, price string) domain.Order {
	t.Helper()
	res, err := f.svc.CreateOrder(context.Background(), staff, application.CreateOrderInput{
		IdempotencyKey: key,
		Customer:       domain.Customer{UserID: "user-1"},
		Type:           domain.OrderTypeDineIn,
		TabID:          tabID,
		Items:          []domain.LineItem{line("suya", price, 1)},
	})
	require.NoError(t, err)
	return res.Order
}

func TestOpenTabRejectsSecondOpenTabForTable(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()

	tab, err := f.svc.OpenTab(ctx, staff, "t4", "")
	require.NoError(t, err)
	assert.Equal(t, "T4", tab.TableNumber)
	assert.Equal(t, domain.TabStatusOpen, tab.Status)
	assert.Contains(t, tab.Number, "TAB-T4-")

	_, err = f.svc.OpenTab(ctx, staff, "T4", "")
	require.ErrorIs(t, err, domain.ErrTableAlreadyOpen)

	_, err = f.svc.OpenTab(ctx, staff, "T5", "")
	require.NoError(t, err)
}

func TestTabTotalsExcludeCancelledMembers(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.zeroFees(t)
	ctx := context.Background()

	tab, err := f.svc.OpenTab(ctx, staff, "T1", "user-1")
	require.NoError(t, err)
	f.tabOrder(t, "tab-a", tab.ID, "1000")
	second := f.tabOrder(t, "tab-b", tab.ID, "2000")
	f.tabOrder(t, "tab-c", tab.ID, "1500")

	got, err := f.svc.GetTab(ctx, staff, tab.ID)
	require.NoError(t, err)
	assert.Len(t, got.OrderIDs, 3)
	assert.True(t, money("4500").Equal(got.Totals.Total))

	_, err = f.svc.TransitionOrder(ctx, staff, second.ID, domain.OrderStatusCancelled, "")
	require.NoError(t, err)

	got, err = f.svc.GetTab(ctx, staff, tab.ID)
	require.NoError(t, err)
	assert.True(t, money("2500").Equal(got.Totals.Total))
	assert.True(t, money("2500").Equal(got.Totals.Subtotal))

	again, err := f.svc.RecomputeTotals(ctx, tab.ID)
	require.NoError(t, err)
	assert.True(t, money("2500").Equal(again.Totals.Total))
	assert.Equal(t, got.Version, again.Version)
}

func TestOrderOnTabCannotBePaidDirectly(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	tab, err := f.svc.OpenTab(context.Background(), staff, "T2", "user-1")
	require.NoError(t, err)
	order := f.tabOrder(t, "tab-direct", tab.ID, "1000")

	_, err = f.svc.RequestSession(context.Background(), customer, application.PaymentSessionInput{
		OrderID:  order.ID,
		Customer: ports.CustomerInfo{Email: "user-1@example.com"},
	})
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSettleTabClosesAndCompletesMembersOnPayment(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.zeroFees(t)
	ctx := context.Background()

	tab, err := f.svc.OpenTab(ctx, staff, "T3", "user-1")
	require.NoError(t, err)
	a := f.tabOrder(t, "settle-a", tab.ID, "1000")
	b := f.tabOrder(t, "settle-b", tab.ID, "1500")

	settlement, err := f.svc.SettleTab(ctx, customer, tab.ID, application.SettleTabInput{
		Customer: ports.CustomerInfo{Email: "user-1@example.com"},
	})
	require.NoError(t, err)
	require.NotNil(t, settlement.Session)
	assert.Equal(t, domain.TabStatusSettling, settlement.Tab.Status)
	assert.True(t, money("2500").Equal(settlement.Session.Payment.Amount))

	_, err = f.svc.AttachOrder(ctx, staff, tab.ID, "late-order")
	require.Error(t, err)

	result, err := f.webhook(t, settlement.Session.Payment.Reference, "success", "2500")
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeApplied, result.Outcome)
	require.NotNil(t, result.Tab)
	assert.Equal(t, domain.TabStatusClosed, result.Tab.Status)

	for _, id := range []string{a.ID, b.ID} {
		order, err := f.svc.GetOrder(ctx, staff, id)
		require.NoError(t, err)
		assert.Equal(t, domain.OrderStatusCompleted, order.Status)
		assert.Equal(t, domain.PaymentStatusPaid, order.Payment.Status)
		assert.True(t, order.Inventory.Deducted)
	}
	assert.Equal(t, 2, f.inventory.Deducted("suya"))

	// 1000 and 1500 at 0.01 points per unit.
	balance, err := f.svc.GetBalance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(25), balance)

	dup, err := f.webhook(t, settlement.Session.Payment.Reference, "success", "2500")
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeDuplicate, dup.Outcome)
	assert.Equal(t, 2, f.inventory.Deducted("suya"))
}

func TestFailedTabPaymentReopensTab(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	tab, err := f.svc.OpenTab(ctx, staff, "T6", "user-1")
	require.NoError(t, err)
	f.tabOrder(t, "reopen-a", tab.ID, "1000")

	settlement, err := f.svc.SettleTab(ctx, staff, tab.ID, application.SettleTabInput{
		Customer: ports.CustomerInfo{Email: "user-1@example.com"},
	})
	require.NoError(t, err)

	_, err = f.webhook(t, settlement.Session.Payment.Reference, "abandoned", "")
	require.NoError(t, err)

	got, err := f.svc.GetTab(ctx, staff, tab.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TabStatusOpen, got.Status)
	assert.Equal(t, domain.PaymentStatusCancelled, got.PaymentStatus)
}

func TestManualSettleIsAdminOnlyAndAudited(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	tab, err := f.svc.OpenTab(ctx, staff, "T7", "")
	require.NoError(t, err)
	order := f.tabOrder(t, "manual-a", tab.ID, "1000")

	_, err = f.svc.ManualSettle(ctx, staff, tab.ID, "comped")
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.svc.ManualSettle(ctx, admin, tab.ID, " ")
	require.ErrorIs(t, err, domain.ErrInvalidInput)

	closed, err := f.svc.ManualSettle(ctx, admin, tab.ID, "comped by manager")
	require.NoError(t, err)
	assert.Equal(t, domain.TabStatusClosed, closed.Status)
	assert.NotEqual(t, domain.PaymentStatusPaid, closed.PaymentStatus)

	entries, err := f.svc.ListAudit(ctx, admin, "tab", tab.ID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "tab.manual_settle", entries[0].Action)
	assert.Equal(t, admin.SubjectID, entries[0].ActorID)
	assert.Equal(t, "comped by manager", entries[0].Details["reason"])
	assert.Contains(t, entries[0].Details, "before")
	assert.Contains(t, entries[0].Details, "after")

	got, err := f.svc.GetOrder(ctx, staff, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, got.Status)

	_, err = f.svc.ManualSettle(ctx, admin, tab.ID, "again")
	require.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSettleEmptyTabClosesImmediately(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	tab, err := f.svc.OpenTab(ctx, staff, "T8", "")
	require.NoError(t, err)

	settlement, err := f.svc.SettleTab(ctx, staff, tab.ID, application.SettleTabInput{})
	require.NoError(t, err)
	assert.Nil(t, settlement.Session)
	assert.Equal(t, domain.TabStatusClosed, settlement.Tab.Status)

	reopened, err := f.svc.OpenTab(ctx, staff, "T8", "")
	require.NoError(t, err)
	assert.NotEqual(t, tab.ID, reopened.ID)
}

func TestAttachOrderFailuresLeaveOrderUnlinked(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		prepare func(t *testing.T, f *fixture) string
		wantErr error
	}{
		{
			name:    "missing tab",
			prepare: func(*testing.T, *fixture) string { return "tab-does-not-exist" },
			wantErr: domain.ErrNotFound,
		},
		{
			name: "closed tab",
			prepare: func(t *testing.T, f *fixture) string {
				tab, err := f.svc.OpenTab(context.Background(), staff, "C1", "user-1")
				require.NoError(t, err)
				_, err = f.svc.SettleTab(context.Background(), staff, tab.ID, application.SettleTabInput{})
				require.NoError(t, err)
				return tab.ID
			},
			wantErr: domain.ErrInvalidState,
		},
		{
			name: "settling tab",
			prepare: func(t *testing.T, f *fixture) string {
				tab, err := f.svc.OpenTab(context.Background(), staff, "S1", "user-1")
				require.NoError(t, err)
				f.tabOrder(t, "settling-member", tab.ID, "1000")
				_, err = f.svc.SettleTab(context.Background(), staff, tab.ID, application.SettleTabInput{
					Customer: ports.CustomerInfo{Email: "user-1@example.com"},
				})
				require.NoError(t, err)
				return tab.ID
			},
			wantErr: domain.ErrInvalidState,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)
			ctx := context.Background()
			tabID := tc.prepare(t, f)
			order := f.placeOrder(t, "standalone")

			_, err := f.svc.AttachOrder(ctx, staff, tabID, order.ID)
			require.ErrorIs(t, err, tc.wantErr)

			got, err := f.svc.GetOrder(ctx, staff, order.ID)
			require.NoError(t, err)
			assert.Empty(t, got.TabID)
			session := f.requestOrderSession(t, order.ID)
			assert.True(t, got.Totals.Total.Equal(session.Payment.Amount))
		})
	}
}

func TestAttachOrderAddsToOpenTab(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	f.zeroFees(t)
	ctx := context.Background()
	tab, err := f.svc.OpenTab(ctx, staff, "A1", "user-1")
	require.NoError(t, err)
	order := f.placeOrder(t, "attach-me")

	attached, err := f.svc.AttachOrder(ctx, customer, tab.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{order.ID}, attached.OrderIDs)
	assert.True(t, money("5000").Equal(attached.Totals.Total))

	again, err := f.svc.AttachOrder(ctx, customer, tab.ID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{order.ID}, again.OrderIDs)

	got, err := f.svc.GetOrder(ctx, staff, order.ID)
	require.NoError(t, err)
	assert.Equal(t, tab.ID, got.TabID)
}

func TestTabOrdersRacingSettlementStayConsistent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	tab, err := f.svc.OpenTab(ctx, staff, "R1", "user-1")
	require.NoError(t, err)
	f.tabOrder(t, "race-seed", tab.ID, "1000")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		placed   []string
		settleMu sync.Mutex
		settled  *application.SettlementResult
	)
	for i := 0; i < 8; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.CreateOrder(ctx, staff, application.CreateOrderInput{
				IdempotencyKey: fmt.Sprintf("race-%d", i),
				Customer:       domain.Customer{UserID: "user-1"},
				Type:           domain.OrderTypeDineIn,
				TabID:          tab.ID,
				Items:          []domain.LineItem{line("suya", "500", 1)},
			})
			if err != nil {
				assert.ErrorIs(t, err, domain.ErrInvalidState)
				return
			}
			mu.Lock()
			placed = append(placed, res.Order.ID)
			mu.Unlock()
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		out, err := f.svc.SettleTab(ctx, staff, tab.ID, application.SettleTabInput{
			Customer: ports.CustomerInfo{Email: "user-1@example.com"},
		})
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrInvalidState)
			return
		}
		settleMu.Lock()
		settled = &out
		settleMu.Unlock()
	}()
	wg.Wait()

	final, err := f.svc.GetTab(ctx, staff, tab.ID)
	require.NoError(t, err)
	for _, id := range placed {
		assert.True(t, final.HasOrder(id), "order %s missing from tab", id)
	}
	if settled != nil {
		require.NotNil(t, settled.Session)
		assert.Equal(t, domain.TabStatusSettling, final.Status)
		assert.True(t, final.Totals.Total.Equal(settled.Session.Payment.Amount))
	}
}

func TestCaptureAfterManualSettleIsFlaggedNotApplied(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	tab, err := f.svc.OpenTab(ctx, staff, "M1", "user-1")
	require.NoError(t, err)
	member := f.tabOrder(t, "manual-then-paid", tab.ID, "1000")

	settlement, err := f.svc.SettleTab(ctx, staff, tab.ID, application.SettleTabInput{
		Customer: ports.CustomerInfo{Email: "user-1@example.com"},
	})
	require.NoError(t, err)
	require.NotNil(t, settlement.Session)
	reference := settlement.Session.Payment.Reference

	_, err = f.svc.ManualSettle(ctx, admin, tab.ID, "paid cash at the bar")
	require.NoError(t, err)

	result, err := f.webhook(t, reference, "success", settlement.Session.Payment.Amount.String())
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeDuplicateCapture, result.Outcome)
	require.NotNil(t, result.Tab)
	assert.Equal(t, domain.TabStatusClosed, result.Tab.Status)
	assert.NotEqual(t, domain.PaymentStatusPaid, result.Tab.PaymentStatus)

	got, err := f.svc.GetOrder(ctx, staff, member.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCompleted, got.Status)
	assert.NotEqual(t, domain.PaymentStatusPaid, got.Payment.Status)

	entries, err := f.svc.ListAudit(ctx, admin, "payment", reference, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "payment.duplicate_capture", entries[0].Action)

	dup, err := f.webhook(t, reference, "success", settlement.Session.Payment.Amount.String())
	require.NoError(t, err)
	assert.Equal(t, application.OutcomeDuplicate, dup.Outcome)
	entries, err = f.svc.ListAudit(ctx, admin, "payment", reference, 10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}
