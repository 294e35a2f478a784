// Package warehouse implements the Execute/Create Engine and Sampling
// Strategy: running a CREATE TEMPORARY TABLE ... AS or a plain preview
// query against the warehouse, classifying the failure modes the rest of
// the pipeline needs to react to, and rewriting a scan to a sampled form
// under repeated timeout.
package warehouse

import (
	"context"
	"time"

	"github.com/codeready-toolchain/speql/pkg/core"
)

// Connector is the warehouse-specific transport the Engine drives. A
// Postgres-family implementation lives in pkg/pgwarehouse; Engine itself
// is dialect-agnostic.
type Connector interface {
	// Exec runs sql to completion (a CREATE TEMPORARY TABLE AS, or a
	// plain SELECT for preview).
	Exec(ctx context.Context, sql string) error

	// LastQueryStats reads {elapsed, execution, compile, planning} for
	// the most recently completed statement on this session, from the
	// warehouse's query-history view.
	LastQueryStats(ctx context.Context) (QueryStats, error)

	// TableSize reports a materialized table's on-disk size in bytes,
	// from the warehouse's info view.
	TableSize(ctx context.Context, table string) (int64, error)

	// TableColumns reports a materialized table's column schema.
	TableColumns(ctx context.Context, table string) ([]core.ColumnInfo, error)

	// DropTable issues DROP TABLE IF EXISTS for name.
	DropTable(ctx context.Context, name string) error

	// IsTimeout classifies an Exec error as a warehouse-side
	// cancelled-by-timeout, distinguished from any other failure.
	IsTimeout(err error) bool

	// FetchRows runs a plain (non-EXPLAIN-wrapped) SELECT and renders up
	// to maxRows result rows as one comma-joined text line each, for the
	// preview frame. Exec alone can't serve this: it wraps every
	// statement in EXPLAIN (ANALYZE, FORMAT JSON) to recover timing, which
	// never surfaces the statement's own result rows.
	FetchRows(ctx context.Context, sql string, maxRows int) ([]string, error)

	// Explain runs a plan-only EXPLAIN (no ANALYZE, no execution) to
	// validate that sql is accepted by the warehouse without the side
	// effects or cost of actually running it. Debug's Simple/Complex loops
	// gate rule/rewrite acceptance on this, under the Engine's execute lock.
	Explain(ctx context.Context, sql string) error

	// Cancel issues a session-scoped cancel (spec.md §1, §5, §6's abstract
	// `cancel(session)`) against whatever statement is currently running
	// on this connector's session, independent of any Exec/Preview/Explain
	// call in flight on it. Implementations must not block on whatever
	// lock serializes those calls, or a Cancel could never interrupt the
	// very call it's meant to preempt.
	Cancel(ctx context.Context) error
}

// QueryStats is the timing breakdown for one completed statement.
type QueryStats struct {
	Elapsed   time.Duration
	Execution time.Duration
	Compile   time.Duration
	Planning  time.Duration
}
