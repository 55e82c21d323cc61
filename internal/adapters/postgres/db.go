package postgres

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serialises migrations when the api and worker processes start together.
const migrationLockID int64 = 7_301_204_118

// PoolConfig sizes the connection pool. Zero values fall back to the defaults below.
type PoolConfig struct {
	MaxConns        int32
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	SlowQuery       time.Duration
}

func (p PoolConfig) withDefaults() PoolConfig {
	if p.ConnMaxIdleTime <= 0 {
		p.ConnMaxIdleTime = 15 * time.Minute
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = time.Hour
	}
	if p.SlowQuery <= 0 {
		p.SlowQuery = 500 * time.Millisecond
	}
	return p
}

// slogWriter routes gorm's slow-query and error lines into the service log.
type slogWriter struct{ log *slog.Logger }

func (w slogWriter) Printf(format string, args ...any) {
	w.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func storeLogger() *slog.Logger {
	return slog.Default().With("module", "postgres", "layer", "adapter")
}

// Connect opens the order store and verifies it answers before returning.
func Connect(ctx context.Context, databaseURL string, pool PoolConfig) (*gorm.DB, error) {
	pool = pool.withDefaults()
	log := storeLogger()
	started := time.Now()

	db, err := gorm.Open(postgres.Open(databaseURL), &gorm.Config{
		PrepareStmt:    true,
		TranslateError: true,
		Logger: logger.New(slogWriter{log: log}, logger.Config{
			SlowThreshold:             pool.SlowQuery,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("open order store: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("order store pool: %w", err)
	}
	if pool.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(int(pool.MaxConns))
		sqlDB.SetMaxIdleConns(max(1, int(pool.MaxConns)/2))
	}
	sqlDB.SetConnMaxIdleTime(pool.ConnMaxIdleTime)
	sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(pingCtx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping order store: %w", err)
	}
	log.InfoContext(ctx, "order store connected",
		"operation", "connect",
		"outcome", "success",
		"max_conns", pool.MaxConns,
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return db, nil
}

type migration struct {
	Name     string
	Checksum string
	SQL      string
}

type appliedMigration struct {
	Name     string
	Checksum string
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	out := make([]migration, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		raw, err := migrationFS.ReadFile("migrations/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(raw)
		out = append(out, migration{Name: e.Name(), Checksum: hex.EncodeToString(sum[:]), SQL: string(raw)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// pendingMigrations returns the files not yet in the ledger. An applied file whose contents
// changed is an error; schema history is append-only.
func pendingMigrations(files []migration, applied []appliedMigration) ([]migration, error) {
	seen := make(map[string]string, len(applied))
	for _, a := range applied {
		seen[a.Name] = a.Checksum
	}
	pending := make([]migration, 0, len(files))
	for _, f := range files {
		sum, ok := seen[f.Name]
		if !ok {
			pending = append(pending, f)
			continue
		}
		if sum != f.Checksum {
			return nil, fmt.Errorf("migration %s was edited after it was applied", f.Name)
		}
	}
	return pending, nil
}

// RunMigrations applies embedded SQL files that the schema_migrations ledger has not seen,
// in name order, inside one transaction guarded by an advisory lock.
func RunMigrations(ctx context.Context, db *gorm.DB) error {
	files, err := loadMigrations()
	if err != nil {
		return err
	}
	log := storeLogger()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(`SELECT pg_advisory_xact_lock(?)`, migrationLockID).Error; err != nil {
			return fmt.Errorf("lock migrations: %w", err)
		}
		if err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`).Error; err != nil {
			return fmt.Errorf("create migration ledger: %w", err)
		}
		var applied []appliedMigration
		if err := tx.Raw(`SELECT name, checksum FROM schema_migrations`).Scan(&applied).Error; err != nil {
			return fmt.Errorf("read migration ledger: %w", err)
		}
		pending, err := pendingMigrations(files, applied)
		if err != nil {
			return err
		}
		for _, m := range pending {
			if err := tx.Exec(m.SQL).Error; err != nil {
				return fmt.Errorf("apply migration %s: %w", m.Name, err)
			}
			if err := tx.Exec(`INSERT INTO schema_migrations (name, checksum) VALUES (?, ?)`, m.Name, m.Checksum).Error; err != nil {
				return fmt.Errorf("record migration %s: %w", m.Name, err)
			}
			log.InfoContext(ctx, "migration applied", "operation", "apply_migration", "migration", m.Name)
		}
		log.InfoContext(ctx, "schema up to date",
			"operation", "run_migrations",
			"outcome", "success",
			"applied", len(pending),
			"known", len(files),
		)
		return nil
	})
}
