package warehouse

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/codeready-toolchain/speql/pkg/core"
)

// ErrTimeout signals the warehouse cancelled the statement by timeout:
// retryable with a smaller sample.
var ErrTimeout = errors.New("warehouse: cancelled by timeout")

// ErrOther signals any other execution failure: terminal for this script.
var ErrOther = errors.New("warehouse: execution failed")

// Metrics is the result of a successful Execute.
type Metrics struct {
	QueryStats
	Size int64
}

// sentinel execution time recorded on a timeout, per spec.md §4.5.
const TimeoutExecutionTime = -1

// Engine runs CREATE TEMPORARY TABLE ... AS and preview statements
// against a Connector, serialized under a single execute lock (the
// warehouse session exposes one query cursor at a time, §5 of the
// concurrency model).
type Engine struct {
	conn   Connector
	schema *core.SchemaCache

	mu sync.Mutex
}

// NewEngine builds an Engine over conn, recording discovered table
// schemas into schema.
func NewEngine(conn Connector, schema *core.SchemaCache) *Engine {
	return &Engine{conn: conn, schema: schema}
}

// Execute runs createScript (expected to materialize tableName) under
// the execute lock. On warmUp, the table is dropped immediately after a
// successful run and no schema entry is recorded — warm-up runs exist
// only to pre-plan and prime caches, not to populate state. On a
// non-warm-up success, the new table's columns are appended to the
// schema cache under its uppercased name.
func (e *Engine) Execute(ctx context.Context, tableName, createScript string, warmUp bool) (Metrics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.conn.Exec(ctx, createScript); err != nil {
		if e.conn.IsTimeout(err) {
			return Metrics{QueryStats: QueryStats{Execution: TimeoutExecutionTime}}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Metrics{}, fmt.Errorf("%w: %v", ErrOther, err)
	}

	stats, err := e.conn.LastQueryStats(ctx)
	if err != nil {
		return Metrics{}, fmt.Errorf("%w: reading query stats: %v", ErrOther, err)
	}
	size, err := e.conn.TableSize(ctx, tableName)
	if err != nil {
		return Metrics{}, fmt.Errorf("%w: reading table size: %v", ErrOther, err)
	}

	if warmUp {
		_ = e.conn.DropTable(ctx, tableName)
		return Metrics{QueryStats: stats, Size: size}, nil
	}

	if columns, err := e.conn.TableColumns(ctx, tableName); err == nil {
		e.schema.Put(tableName, columns)
	}

	return Metrics{QueryStats: stats, Size: size}, nil
}

// Preview runs a plain (non-materializing) query under the same execute
// lock, returning only timing metrics — no table is produced.
func (e *Engine) Preview(ctx context.Context, sql string) (QueryStats, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.conn.Exec(ctx, sql); err != nil {
		if e.conn.IsTimeout(err) {
			return QueryStats{Execution: TimeoutExecutionTime}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return QueryStats{}, fmt.Errorf("%w: %v", ErrOther, err)
	}
	return e.conn.LastQueryStats(ctx)
}

// Explain runs a plan-only acceptance check under the execute lock,
// satisfying debug.Validator so Debug's Simple/Complex loops can gate rule
// and rewrite acceptance on the warehouse without executing candidates.
func (e *Engine) Explain(ctx context.Context, sql string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.Explain(ctx, sql)
}

// PreviewRows fetches up to maxRows text-rendered rows for sql, under the
// same execute lock as Preview/Execute. Called after Preview has already
// validated the statement completes within the statement timeout; kept as
// a separate call because Exec never surfaces result rows (it always runs
// under an EXPLAIN wrapper to recover timing — see pgwarehouse.Connector).
func (e *Engine) PreviewRows(ctx context.Context, sql string, maxRows int) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.FetchRows(ctx, sql, maxRows)
}

// DropTable satisfies pool.TableDropper, letting the Temporary-Table Pool
// evict through the same Connector the Engine uses.
func (e *Engine) DropTable(ctx context.Context, name string) error {
	return e.conn.DropTable(ctx, name)
}

// Cancel issues a session-scoped cancel of whatever statement is currently
// running against the warehouse, deliberately bypassing e.mu: the caller
// is using Cancel precisely to interrupt an Execute/Preview call that is
// itself holding e.mu for the duration of its blocking Exec.
func (e *Engine) Cancel(ctx context.Context) error {
	return e.conn.Cancel(ctx)
}
