// Package sqlstore persists allocations, sessions, and usage in SQLite or MySQL.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/enoch-sit/tool-chatbot-boilerplate-sub004/internal/lockmap"
)

// Dialect selects the SQL flavour of the schema and locking reads.
type Dialect string

const (
	DialectSQLite Dialect = "sqlite"
	DialectMySQL  Dialect = "mysql"
)

const sqliteBusyTimeoutMillis = 5000

// Options configures a Store.
type Options struct {
	Now func() time.Time
}

// Store owns the database handle shared by the ledger and session store.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
	users   *lockmap.Map
}

// Open connects to the database and runs auto-migration.
func Open(ctx context.Context, dialect Dialect, dsn string, opts Options) (*Store, error) {
	var driver string
	switch dialect {
	case DialectSQLite:
		driver = "sqlite"
	case DialectMySQL:
		driver = "mysql"
	default:
		return nil, fmt.Errorf("unsupported sql dialect %q", dialect)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}

	if dialect == DialectSQLite {
		// A single connection serializes writers.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", sqliteBusyTimeoutMillis)); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure ledger db: %w", err)
		}
	}

	store, err := New(ctx, db, dialect, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// New wraps an open database handle and runs auto-migration.
func New(ctx context.Context, db *sql.DB, dialect Dialect, opts Options) (*Store, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	store := &Store{db: db, dialect: dialect, now: opts.Now, users: lockmap.New()}
	if err := store.migrate(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// Ledger returns the credit ledger view of the store.
func (s *Store) Ledger() *Ledger {
	return &Ledger{store: s}
}

// Sessions returns the session store view of the store.
func (s *Store) Sessions() *SessionStore {
	return &SessionStore{store: s}
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	statements := sqliteSchema
	if s.dialect == DialectMySQL {
		statements = mysqlSchema
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate ledger db: %w", err)
		}
	}
	return nil
}

// forUpdate is appended to reads that must lock rows inside a transaction.
func (s *Store) forUpdate() string {
	if s.dialect == DialectMySQL {
		return " FOR UPDATE"
	}
	return ""
}

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS credit_allocations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	total_credits REAL NOT NULL,
	remaining_credits REAL NOT NULL,
	allocated_by TEXT NOT NULL,
	allocated_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	notes TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_allocations_user_expiry ON credit_allocations(user_id, expires_at, id)`,
	`CREATE TABLE IF NOT EXISTS streaming_sessions (
	session_id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	model_id TEXT NOT NULL,
	estimated_tokens INTEGER NOT NULL,
	allocated_credits REAL NOT NULL,
	used_credits REAL NOT NULL DEFAULT 0,
	status TEXT NOT NULL,
	started_at INTEGER NOT NULL,
	completed_at INTEGER,
	refund_due REAL NOT NULL DEFAULT 0
)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_status_started ON streaming_sessions(status, started_at)`,
	`CREATE TABLE IF NOT EXISTS usage_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id TEXT NOT NULL,
	session_id TEXT NOT NULL DEFAULT '',
	service TEXT NOT NULL,
	operation TEXT NOT NULL,
	credits REAL NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at INTEGER NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_usage_user_time ON usage_events(user_id, created_at)`,
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS credit_allocations (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	user_id VARCHAR(191) NOT NULL,
	total_credits DOUBLE NOT NULL,
	remaining_credits DOUBLE NOT NULL,
	allocated_by VARCHAR(191) NOT NULL,
	allocated_at BIGINT NOT NULL,
	expires_at BIGINT NOT NULL,
	notes TEXT NOT NULL,
	INDEX idx_allocations_user_expiry (user_id, expires_at, id)
)`,
	`CREATE TABLE IF NOT EXISTS streaming_sessions (
	session_id VARCHAR(191) PRIMARY KEY,
	user_id VARCHAR(191) NOT NULL,
	model_id VARCHAR(191) NOT NULL,
	estimated_tokens INT NOT NULL,
	allocated_credits DOUBLE NOT NULL,
	used_credits DOUBLE NOT NULL DEFAULT 0,
	status VARCHAR(32) NOT NULL,
	started_at BIGINT NOT NULL,
	completed_at BIGINT NULL,
	refund_due DOUBLE NOT NULL DEFAULT 0,
	INDEX idx_sessions_status_started (status, started_at)
)`,
	`CREATE TABLE IF NOT EXISTS usage_events (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	user_id VARCHAR(191) NOT NULL,
	session_id VARCHAR(191) NOT NULL DEFAULT '',
	service VARCHAR(191) NOT NULL,
	operation VARCHAR(191) NOT NULL,
	credits DOUBLE NOT NULL,
	metadata TEXT NOT NULL,
	created_at BIGINT NOT NULL,
	INDEX idx_usage_user_time (user_id, created_at)
)`,
}
