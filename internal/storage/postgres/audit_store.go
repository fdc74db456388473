// Package postgres keeps an append-only audit log of finished captures.
package postgres

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/webarc/internal/capture"
)

const defaultTable = "capture_audit"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for audit rows.
type Config struct {
	DSN      string
	Table    string
	MaxConns int32
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// AuditStore is a capture.Observer that inserts one row per terminal capture.
// Rows are never read back by the worker.
type AuditStore struct {
	pool  execCloser
	table string
}

// NewAuditStore connects to Postgres using cfg.
func NewAuditStore(ctx context.Context, cfg Config) (*AuditStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AuditStore{pool: pool, table: table}, nil
}

// NewAuditStoreWithPool constructs a store from an existing pool.
func NewAuditStoreWithPool(pool execCloser, table string) (*AuditStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &AuditStore{pool: pool, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *AuditStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the audit table if it does not exist.
func (s *AuditStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	ticket      UUID PRIMARY KEY,
	url         TEXT NOT NULL,
	extractor   TEXT NOT NULL,
	status      TEXT NOT NULL,
	hash        TEXT,
	bytes       BIGINT NOT NULL,
	reason      TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create audit table: %w", err)
	}
	return nil
}

// Observe inserts an audit row for outcome.
func (s *AuditStore) Observe(ctx context.Context, outcome capture.Outcome) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("audit store is not configured")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	ticket,
	url,
	extractor,
	status,
	hash,
	bytes,
	reason,
	started_at,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)`, s.table)

	args := []any{
		outcome.Ticket,
		outcome.URL,
		outcome.Extractor,
		string(outcome.Status),
		nullable(outcome.Hash),
		int64(outcome.Bytes),
		nullable(outcome.Reason),
		outcome.Started,
		outcome.Finished,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert audit row: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
