package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

var (
	// ErrDuplicateKey is returned by Enqueue when id_global is already stored.
	ErrDuplicateKey = errors.New("duplicate id_global")
	// ErrStoreUnavailable marks failures of the local store itself (closed, read-only, full).
	ErrStoreUnavailable = errors.New("local store unavailable")
	// ErrNotFound is returned by single-record lookups.
	ErrNotFound = errors.New("sale not found")
)

const defaultBusyTimeoutMS = 5000

type DB struct {
	*sql.DB
	path   string
	logger *zerolog.Logger
}

type Option func(*options)

type options struct {
	busyTimeoutMS int
}

// WithBusyTimeout sets how long a connection waits on a lock held by
// another process before failing with SQLITE_BUSY.
func WithBusyTimeout(ms int) Option {
	return func(o *options) {
		if ms > 0 {
			o.busyTimeoutMS = ms
		}
	}
}

// NewDB opens (creating if needed) the sales store at path. The file is
// opened in WAL mode so the foreground agent and the background handler can
// use it at the same time.
func NewDB(path string, logger *zerolog.Logger, opts ...Option) (*DB, error) {
	o := options{busyTimeoutMS: defaultBusyTimeoutMS}
	for _, opt := range opts {
		opt(&o)
	}

	// Создаем директорию для БД, если её нет
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL", path, o.busyTimeoutMS)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Проверяем соединение
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	logger.Info().Str("path", path).Msg("sales store initialized")

	return &DB{DB: db, path: path, logger: logger}, nil
}

// Path returns the file the store was opened from.
func (db *DB) Path() string {
	return db.path
}

func createTables(db *sql.DB) error {
	queries := []string{
		// status duplicates the sync flag as text so (status, seq) can be indexed
		`CREATE TABLE IF NOT EXISTS sales (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id_global TEXT NOT NULL UNIQUE,
            tenant_id TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'pending',
            authoritative_acked INTEGER NOT NULL DEFAULT 0,
            mirror_acked INTEGER NOT NULL DEFAULT 0,
            attempts INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at DATETIME NOT NULL,
            synced_at DATETIME
        )`,
		`CREATE TABLE IF NOT EXISTS sales_history (
            id_global TEXT PRIMARY KEY,
            tenant_id TEXT NOT NULL DEFAULT '',
            payload TEXT NOT NULL,
            synced_at DATETIME NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_sales_status_seq ON sales(status, seq)`,
		`CREATE INDEX IF NOT EXISTS idx_sales_status_auth ON sales(status, authoritative_acked)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// HealthCheck pings the store with the caller's deadline.
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
