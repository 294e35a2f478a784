// Package history persists pipeline run records for observability and
// replay (SPEC_FULL.md §6 "Persistence (supplement)"). It mirrors the
// teacher's pkg/database connection-setup and golang-migrate wiring, minus
// ent: the pack ships only ent/schema/*.go, not the generated client, so
// RunRecord is a plain struct written with raw pgx/v5 SQL instead (see
// DESIGN.md's "Dropped teacher dependencies").
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" for migrate's database/sql bridge
)

//go:embed migrations
var migrationsFS embed.FS

// RunRecord is one row per pipeline invocation: spec.md's pipeline-cache
// entry plus the fields SPEC_FULL.md §3 adds for observability
// (session_id, duration, cache_hit, sampled).
type RunRecord struct {
	ID           int64
	SessionID    string
	Input        string
	Modification string
	PreviewRows  int
	Duration     time.Duration
	CacheHit     bool
	Sampled      bool
	ErrorInfo    string
	CreatedAt    time.Time
}

// Store is a pgx-backed RunRecord store. A *pgxpool.Pool is used here,
// unlike pgwarehouse's single dedicated connection, because run records
// carry no session-local state across inserts — any pooled backend can
// serve any write.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to dsn, applies pending migrations, and returns a ready
// Store. Migrations run through database/sql via the pgx stdlib driver
// because golang-migrate's postgres driver expects that interface; normal
// query traffic goes through the pgxpool.Pool instead.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("history: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}

	if err := migrateUp(dsn); err != nil {
		pool.Close()
		return nil, fmt.Errorf("history: migrate: %w", err)
	}

	return &Store{pool: pool}, nil
}

// NewWithPool wraps an already-open pool, skipping migration (used by
// tests that apply migrations once against a shared container).
func NewWithPool(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func migrateUp(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open for migration: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}
	defer sourceDriver.Close()

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "run_records", driver)
	if err != nil {
		return fmt.Errorf("migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply: %w", err)
	}
	return nil
}

// Close releases the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Insert appends one run record. Records are never updated or deleted by
// the running process; the table is an append-only log mirroring the
// spec's flat log files (see FlatLogger).
func (s *Store) Insert(ctx context.Context, r RunRecord) error {
	const q = `
		INSERT INTO run_records
			(session_id, input, modification, preview_rows, duration_ms, cache_hit, sampled, error_info)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := s.pool.Exec(ctx, q,
		r.SessionID, r.Input, r.Modification, r.PreviewRows,
		r.Duration.Milliseconds(), r.CacheHit, r.Sampled, r.ErrorInfo)
	if err != nil {
		return fmt.Errorf("history: insert: %w", err)
	}
	return nil
}

// Recent returns the most recent limit run records for a session, newest
// first, backing the /history control-adjacent introspection endpoint.
func (s *Store) Recent(ctx context.Context, sessionID string, limit int) ([]RunRecord, error) {
	const q = `
		SELECT id, session_id, input, modification, preview_rows, duration_ms, cache_hit, sampled, error_info, created_at
		FROM run_records
		WHERE session_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	rows, err := s.pool.Query(ctx, q, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var durationMS int
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Input, &r.Modification, &r.PreviewRows,
			&durationMS, &r.CacheHit, &r.Sampled, &r.ErrorInfo, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return out, nil
}
