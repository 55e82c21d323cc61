package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ostendo-io/wawagardenbar-app-sub003/internal/domain"
)

func newMockRepositories(t *testing.T) (Repositories, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewRepositories(db), mock
}

func sampleOrder() domain.Order {
	at := time.Date(2026, 4, 2, 20, 15, 0, 0, time.UTC)
	return domain.Order{
		ID:             "ord-1",
		IdempotencyKey: "key-1",
		Customer:       domain.Customer{UserID: "user-1"},
		Type:           domain.OrderTypePickup,
		Status:         domain.OrderStatusPending,
		Version:        3,
		CreatedAt:      at,
		UpdatedAt:      at,
	}
}

func TestOrderGetMapsMissingRowToNotFound(t *testing.T) {
	repos, mock := newMockRepositories(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repos.Orders.Get(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderGetDecodesDocumentAndVersion(t *testing.T) {
	repos, mock := newMockRepositories(t)
	row, err := toOrderModel(sampleOrder())
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "owner_id", "status", "document", "version"}).
			AddRow(row.ID, row.OwnerID, row.Status, row.Document, int64(7)))

	order, err := repos.Orders.Get(context.Background(), "ord-1")
	require.NoError(t, err)
	assert.Equal(t, "ord-1", order.ID)
	assert.Equal(t, "user-1", order.Customer.UserID)
	assert.Equal(t, int64(7), order.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderUpdateDetectsStaleVersion(t *testing.T) {
	repos, mock := newMockRepositories(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "orders" WHERE id = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	_, err := repos.Orders.Update(context.Background(), sampleOrder())
	require.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderUpdateOnMissingRowIsNotFound(t *testing.T) {
	repos, mock := newMockRepositories(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "orders"`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	_, err := repos.Orders.Update(context.Background(), sampleOrder())
	require.ErrorIs(t, err, domain.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOrderUpdateBumpsVersion(t *testing.T) {
	repos, mock := newMockRepositories(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "orders" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	updated, err := repos.Orders.Update(context.Background(), sampleOrder())
	require.NoError(t, err)
	assert.Equal(t, int64(4), updated.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPointsAppendReportsLostSequenceRace(t *testing.T) {
	repos, mock := newMockRepositories(t)
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "points_transactions"`)).
		WillReturnError(gorm.ErrDuplicatedKey)

	err := repos.Points.Append(context.Background(), domain.PointsTransaction{
		ID:           "pt-1",
		UserID:       "user-1",
		Sequence:     2,
		Type:         domain.PointsEarned,
		Amount:       10,
		BalanceAfter: 10,
	})
	require.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPointsLatestIsNilForEmptyLedger(t *testing.T) {
	repos, mock := newMockRepositories(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "points_transactions" WHERE user_id = $1 ORDER BY sequence DESC`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	latest, err := repos.Points.Latest(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, latest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSettingsGetDecodesStoredValue(t *testing.T) {
	repos, mock := newMockRepositories(t)
	at := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "settings" WHERE settings_key = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"settings_key", "value", "updated_by", "updated_at"}).
			AddRow("order_fees", `{"service_fee_rate":"0.1","tax_rate":"0","delivery_fee":"500","currency":"NGN"}`, "admin-1", at))

	record, err := repos.Settings.Get(context.Background(), domain.SettingsOrderFees)
	require.NoError(t, err)
	fees, ok := record.Value.(domain.OrderFeeSettings)
	require.True(t, ok)
	assert.Equal(t, "0.1", fees.ServiceFeeRate.String())
	assert.Equal(t, "admin-1", record.UpdatedBy)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyGetIgnoresExpiredRecords(t *testing.T) {
	repos, mock := newMockRepositories(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "idempotency_keys" WHERE idempotency_key = $1 AND expires_at > $2`)).
		WillReturnRows(sqlmock.NewRows([]string{"idempotency_key"}))

	rec, err := repos.Idempotency.Get(context.Background(), "key-1", time.Now())
	require.NoError(t, err)
	assert.Nil(t, rec)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxMarkPublishedRequiresClaim(t *testing.T) {
	repos, mock := newMockRepositories(t)
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "outbox" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repos.Outbox.MarkPublished(context.Background(), "evt-1", "stale-token", time.Now())
	require.ErrorIs(t, err, domain.ErrConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxClaimSkipsLockedRows(t *testing.T) {
	repos, mock := newMockRepositories(t)
	created := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "outbox" SET .* FOR UPDATE SKIP LOCKED`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "outbox" WHERE claim_token = $1`)).
		WillReturnRows(sqlmock.NewRows([]string{"outbox_id", "event_type", "partition_key", "payload", "retry_count", "created_at"}).
			AddRow("evt-1", "order.status_changed", "ord-1", `{"order_id":"ord-1"}`, 0, created))
	mock.ExpectCommit()

	claimed, err := repos.Outbox.ClaimUnpublished(context.Background(), 10, "worker-a", time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, "evt-1", claimed[0].OutboxID)
	assert.JSONEq(t, `{"order_id":"ord-1"}`, string(claimed[0].Payload))
	require.NoError(t, mock.ExpectationsWereMet())
}
