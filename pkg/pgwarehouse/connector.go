// Package pgwarehouse implements warehouse.Connector against PostgreSQL
// using a dedicated pgx connection, mirroring the teacher's NotifyListener
// pattern of a single long-lived connection guarded by a mutex with
// reconnect-on-failure rather than a pool — the connector needs session-local
// state (the last statement's plan/execution timing) that a pool hands to a
// different backend on every checkout.
package pgwarehouse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/codeready-toolchain/speql/pkg/config"
	"github.com/codeready-toolchain/speql/pkg/core"
	"github.com/codeready-toolchain/speql/pkg/warehouse"
)

// queryCanceled is the SQLSTATE Postgres raises when statement_timeout (or
// an explicit pg_cancel_backend) aborts a running statement.
const queryCanceled = "57014"

// Connector is a warehouse.Connector backed by a dedicated *pgx.Conn.
type Connector struct {
	dsn     string
	timeout time.Duration
	schema  string

	mu      sync.Mutex
	conn    *pgx.Conn
	lastQry warehouse.QueryStats

	// live mirrors conn without requiring mu, so Cancel can reach the
	// connection currently in use without blocking behind whatever
	// Exec/Preview/Explain call it exists to interrupt.
	live atomic.Pointer[pgx.Conn]
}

// New builds a Connector from cfg. The connection is established lazily on
// first use so construction can happen before the warehouse is reachable
// (e.g. during config validation at startup).
func New(cfg config.WarehouseConfig) *Connector {
	schema := cfg.SchemaPath
	if schema == "" {
		schema = "public"
	}
	return &Connector{dsn: cfg.DSN, timeout: cfg.StatementTimeout, schema: schema}
}

// ensureConn returns the live connection, reconnecting if it was never
// established or was torn down by a previous failure.
func (c *Connector) ensureConn(ctx context.Context) (*pgx.Conn, error) {
	if c.conn != nil {
		return c.conn, nil
	}
	conn, err := pgx.Connect(ctx, c.dsn)
	if err != nil {
		return nil, fmt.Errorf("pgwarehouse: connect: %w", err)
	}
	timeoutMS := c.timeout.Milliseconds()
	if timeoutMS > 0 {
		if _, err := conn.Exec(ctx, fmt.Sprintf("SET statement_timeout = %d", timeoutMS)); err != nil {
			_ = conn.Close(ctx)
			return nil, fmt.Errorf("pgwarehouse: set statement_timeout: %w", err)
		}
	}
	c.conn = conn
	c.live.Store(conn)
	return conn, nil
}

// explainRow is the top-level shape of EXPLAIN (ANALYZE, FORMAT JSON)'s
// output; Postgres has no separate "compile" phase the way Snowflake's
// query-history view does, so QueryStats.Compile is always zero here.
type explainRow struct {
	PlanningTimeMS  float64 `json:"Planning Time"`
	ExecutionTimeMS float64 `json:"Execution Time"`
}

// Exec runs sql and records its timing for a subsequent LastQueryStats.
// It wraps sql in EXPLAIN (ANALYZE, FORMAT JSON), which both executes the
// statement (materializing any CREATE TABLE ... AS target) and returns
// Postgres' own planning/execution breakdown — the closest Postgres
// equivalent of a warehouse query-history view, without depending on
// pg_stat_statements being installed.
func (c *Connector) Exec(ctx context.Context, sql string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	rows, err := conn.Query(ctx, "EXPLAIN (ANALYZE, FORMAT JSON) "+sql)
	if err != nil {
		if isTimeoutErr(err) {
			c.invalidateConn()
			_ = conn.Close(context.Background())
		}
		return err
	}
	defer rows.Close()

	var raw string
	var plans []explainRow
	for rows.Next() {
		if err := rows.Scan(&raw); err != nil {
			return fmt.Errorf("pgwarehouse: scan explain output: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		if isTimeoutErr(err) {
			c.invalidateConn()
			_ = conn.Close(context.Background())
		}
		return err
	}
	elapsed := time.Since(start)

	stats := warehouse.QueryStats{Elapsed: elapsed}
	if err := json.Unmarshal([]byte(raw), &plans); err == nil && len(plans) > 0 {
		stats.Planning = time.Duration(plans[0].PlanningTimeMS * float64(time.Millisecond))
		stats.Execution = time.Duration(plans[0].ExecutionTimeMS * float64(time.Millisecond))
	} else {
		stats.Execution = elapsed
	}
	c.lastQry = stats
	return nil
}

// LastQueryStats returns the timing recorded by the most recent Exec.
func (c *Connector) LastQueryStats(ctx context.Context) (warehouse.QueryStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastQry, nil
}

// TableSize reports table's total on-disk size (including indexes and
// TOAST), matching how the Execute/Create Engine reports materialized
// result size.
func (c *Connector) TableSize(ctx context.Context, table string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return 0, err
	}
	var size int64
	if err := conn.QueryRow(ctx, "SELECT pg_total_relation_size($1::regclass)", table).Scan(&size); err != nil {
		return 0, fmt.Errorf("pgwarehouse: table size: %w", err)
	}
	return size, nil
}

// TableColumns reports table's column schema from information_schema, in
// ordinal position order.
func (c *Connector) TableColumns(ctx context.Context, table string) ([]core.ColumnInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := conn.Query(ctx,
		`SELECT column_name, data_type FROM information_schema.columns
		 WHERE table_schema = $1 AND table_name = $2
		 ORDER BY ordinal_position`,
		c.schema, strings.ToLower(table))
	if err != nil {
		return nil, fmt.Errorf("pgwarehouse: table columns: %w", err)
	}
	defer rows.Close()

	var out []core.ColumnInfo
	for rows.Next() {
		var col core.ColumnInfo
		if err := rows.Scan(&col.Name, &col.Type); err != nil {
			return nil, fmt.Errorf("pgwarehouse: scan column: %w", err)
		}
		out = append(out, col)
	}
	return out, rows.Err()
}

// DropTable issues DROP TABLE IF EXISTS for name, used both by warm-up
// runs and by the Temporary-Table Pool's eviction sweep.
func (c *Connector) DropTable(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return err
	}
	_, err = conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", name))
	return err
}

// FetchRows runs sql directly (no EXPLAIN wrapper) and renders up to
// maxRows result rows as one comma-joined text line each, using each
// column's default text representation from pgx's row values. This is the
// only call site that reads a preview statement's actual result rows —
// Exec only ever reports timing, by design (see its doc comment).
func (c *Connector) FetchRows(ctx context.Context, sql string, maxRows int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, sql)
	if err != nil {
		if isTimeoutErr(err) {
			c.invalidateConn()
			_ = conn.Close(context.Background())
		}
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() && len(out) < maxRows {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("pgwarehouse: scan preview row: %w", err)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = fmt.Sprintf("%v", v)
		}
		out = append(out, strings.Join(cells, ","))
	}
	if err := rows.Err(); err != nil {
		if isTimeoutErr(err) {
			c.invalidateConn()
			_ = conn.Close(context.Background())
		}
		return nil, err
	}
	return out, nil
}

// Explain runs a plan-only EXPLAIN (no ANALYZE), rejecting sql without
// executing it or materializing anything — the cheap acceptance check
// Debug's Simple/Complex loops gate on, as distinct from Exec's
// EXPLAIN-ANALYZE path which actually runs the statement.
func (c *Connector) Explain(ctx context.Context, sql string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := c.ensureConn(ctx)
	if err != nil {
		return err
	}
	rows, err := conn.Query(ctx, "EXPLAIN "+sql)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}

// IsTimeout classifies err as a cancelled-by-statement_timeout failure.
func (c *Connector) IsTimeout(err error) bool {
	return isTimeoutErr(err)
}

func isTimeoutErr(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == queryCanceled
	}
	return false
}

// invalidateConn drops the cached connection after a timeout or other
// fatal error, under c.mu (called only from within a locked method).
func (c *Connector) invalidateConn() {
	c.conn = nil
	c.live.Store(nil)
}

// Cancel issues a native Postgres CancelRequest against whatever statement
// is currently running on this connector's session, matching the
// reference implementation's cancel(session): it reads the connection
// through the lock-free live pointer rather than c.mu, since the whole
// point of Cancel is to interrupt a call that is, by definition, still
// holding c.mu.
func (c *Connector) Cancel(ctx context.Context) error {
	conn := c.live.Load()
	if conn == nil {
		return nil
	}
	return conn.PgConn().CancelRequest(ctx)
}

// Close releases the dedicated connection.
func (c *Connector) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(ctx)
	c.invalidateConn()
	return err
}
