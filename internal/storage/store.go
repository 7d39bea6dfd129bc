package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"silver-stress-tracker/internal/config"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// sql driver names registered by the imports above
const (
	sqliteDriverName   = "sqlite"
	postgresDriverName = "pgx"
)

func init() {
	sqlx.BindDriver(sqliteDriverName, sqlx.QUESTION)
}

// Open connects to the configured database. SQLite is pinned to a single
// connection so writes are serialised and ":memory:" databases are shared.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	var (
		db  *sqlx.DB
		err error
	)
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err = sqlx.ConnectContext(ctx, postgresDriverName, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	case config.DriverSQLite, "":
		db, err = sqlx.ConnectContext(ctx, sqliteDriverName, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1)
		if cfg.DSN != ":memory:" {
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
				db.Close()
				return nil, fmt.Errorf("set WAL mode: %w", err)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	return NewStore(db), nil
}

// Migrate applies the embedded schema for the store's dialect. Every
// statement is idempotent so Migrate is safe to run on each start.
func (s *Store) Migrate(ctx context.Context) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	dir := "migrations/sqlite"
	if s.isPostgres() {
		dir = "migrations/postgres"
	}

	files, err := fs.Glob(migrationsFS, dir+"/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, file := range files {
		body, err := migrationsFS.ReadFile(file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		for _, stmt := range strings.Split(string(body), ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
	}
	return nil
}

// TryAdvisoryLock takes the single-writer lock. Postgres uses a session
// advisory lock on a dedicated connection; SQLite uses an in-process mutex.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}

	if !s.isPostgres() {
		if !s.cycle.TryLock() {
			return nil, false, nil
		}
		var once sync.Once
		return func() { once.Do(s.cycle.Unlock) }, true, nil
	}

	conn, err := db.Connx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRowxContext(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), unlockTimeout)
		defer cancel()
		_, _ = conn.ExecContext(ctxUnlock, advisoryUnlockSQL, key)
		conn.Close()
	}
	return unlock, true, nil
}
