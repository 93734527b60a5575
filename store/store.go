// Package store is the control-plane persistence layer over Postgres.
//
// It holds the tenant registry, batch admission summaries, intake receipts,
// document status rows, and the append-only audit log. Vector data lives in
// package vector; document content lives in package blob.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Typed persistence failures.
var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
	ErrConflict      = errors.New("concurrent state change")
)

// DB is the query surface the store needs. Satisfied by *pgxpool.Pool and by
// transaction handles.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ DB = (*pgxpool.Pool)(nil)

// Store is the control-plane store handle. Safe for concurrent use.
type Store struct {
	db DB

	pool *pgxpool.Pool // nil when constructed from a bare DB
}

// New connects to the control-plane database.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{db: pool, pool: pool}, nil
}

// NewFromDB wraps an existing query surface. The caller owns its lifecycle.
func NewFromDB(db DB) *Store {
	return &Store{db: db}
}

// Close releases the connection pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s.pool != nil {
		return s.pool.Ping(ctx)
	}
	_, err := s.db.Exec(ctx, "SELECT 1")
	return err
}

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS tenants (
		tenant_id      TEXT PRIMARY KEY,
		state          TEXT NOT NULL,
		config         JSONB NOT NULL DEFAULT '{}',
		config_version INT NOT NULL DEFAULT 1,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS batches (
		tenant_id    TEXT NOT NULL,
		batch_id     TEXT NOT NULL,
		file_count   INT NOT NULL,
		accepted     INT NOT NULL,
		rejected     INT NOT NULL,
		quarantined  INT NOT NULL,
		submitted_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (tenant_id, batch_id)
	)`,
	`CREATE TABLE IF NOT EXISTS intake_receipts (
		receipt_id        TEXT NOT NULL,
		tenant_id         TEXT NOT NULL,
		batch_id          TEXT NOT NULL,
		file_id           TEXT NOT NULL,
		original_filename TEXT NOT NULL,
		mime_type         TEXT NOT NULL,
		size_bytes        BIGINT NOT NULL,
		sha256            TEXT NOT NULL,
		scan_result       TEXT NOT NULL,
		received_at       TIMESTAMPTZ NOT NULL,
		storage_path      TEXT NOT NULL,
		status            TEXT NOT NULL,
		PRIMARY KEY (tenant_id, receipt_id)
	)`,
	`CREATE INDEX IF NOT EXISTS intake_receipts_batch_idx
		ON intake_receipts (tenant_id, batch_id)`,
	`CREATE TABLE IF NOT EXISTS documents (
		tenant_id TEXT NOT NULL,
		doc_id    TEXT NOT NULL,
		file_id   TEXT NOT NULL,
		batch_id  TEXT NOT NULL DEFAULT '',
		filename  TEXT NOT NULL DEFAULT '',
		sha256    TEXT NOT NULL DEFAULT '',
		status    TEXT NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (tenant_id, doc_id)
	)`,
	`CREATE TABLE IF NOT EXISTS audit_events (
		event_id          TEXT PRIMARY KEY,
		tenant_id         TEXT NOT NULL,
		event_type        TEXT NOT NULL,
		ts                TIMESTAMPTZ NOT NULL,
		actor             TEXT NOT NULL DEFAULT '',
		resource_type     TEXT NOT NULL,
		resource_id       TEXT NOT NULL,
		details           JSONB NOT NULL DEFAULT '{}',
		previous_event_id TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS audit_events_resource_idx
		ON audit_events (tenant_id, resource_type, resource_id, ts)`,
	`CREATE INDEX IF NOT EXISTS audit_events_tenant_ts_idx
		ON audit_events (tenant_id, ts)`,
}

// Migrate creates the control-plane schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range migrations {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
