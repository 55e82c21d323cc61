package postgres

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestLoadMigrationsIsOrderedAndChecksummed(t *testing.T) {
	files, err := loadMigrations()
	require.NoError(t, err)
	require.NotEmpty(t, files)
	assert.Equal(t, "0001_init.sql", files[0].Name)
	assert.Len(t, files[0].Checksum, 64)
	assert.Contains(t, files[0].SQL, "orders")
	for i := 1; i < len(files); i++ {
		assert.Less(t, files[i-1].Name, files[i].Name)
	}
}

func TestPendingMigrations(t *testing.T) {
	files := []migration{
		{Name: "0001_init.sql", Checksum: "aaa"},
		{Name: "0002_tabs.sql", Checksum: "bbb"},
	}
	tests := []struct {
		name    string
		applied []appliedMigration
		want    []string
		wantErr string
	}{
		{name: "fresh database", want: []string{"0001_init.sql", "0002_tabs.sql"}},
		{name: "partially applied", applied: []appliedMigration{{Name: "0001_init.sql", Checksum: "aaa"}}, want: []string{"0002_tabs.sql"}},
		{name: "up to date", applied: []appliedMigration{{Name: "0001_init.sql", Checksum: "aaa"}, {Name: "0002_tabs.sql", Checksum: "bbb"}}, want: []string{}},
		{name: "edited after apply", applied: []appliedMigration{{Name: "0001_init.sql", Checksum: "zzz"}}, wantErr: "0001_init.sql was edited"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			pending, err := pendingMigrations(files, tc.applied)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			names := make([]string, 0, len(pending))
			for _, m := range pending {
				names = append(names, m.Name)
			}
			assert.Equal(t, tc.want, names)
		})
	}
}

func TestRunMigrationsSkipsLedgerEntries(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	files, err := loadMigrations()
	require.NoError(t, err)
	rows := sqlmock.NewRows([]string{"name", "checksum"})
	for _, f := range files {
		rows.AddRow(f.Name, f.Checksum)
	}

	mock.ExpectBegin()
	mock.ExpectExec(`SELECT pg_advisory_xact_lock`).WithArgs(migrationLockID).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS schema_migrations`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT name, checksum FROM schema_migrations`).WillReturnRows(rows)
	mock.ExpectCommit()

	require.NoError(t, RunMigrations(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}
