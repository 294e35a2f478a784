package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/codeready-toolchain/speql/pkg/canonsql"
	"github.com/codeready-toolchain/speql/pkg/clause"
	"github.com/codeready-toolchain/speql/pkg/core"
	"github.com/codeready-toolchain/speql/pkg/debug"
	"github.com/codeready-toolchain/speql/pkg/kernel"
	"github.com/codeready-toolchain/speql/pkg/pool"
	"github.com/codeready-toolchain/speql/pkg/rewrite"
	"github.com/codeready-toolchain/speql/pkg/warehouse"
)

// Orchestrator sequences the LLM-debug stage and the warehouse-materialize
// stage for one editing buffer, across the two cooperative job slots on
// core.Core (spec.md §4.9, §5).
type Orchestrator struct {
	Core   *core.Core
	Engine *warehouse.Engine
	Driver *debug.Driver
	Middle *debug.Middle

	cache *pipelineCache
}

// New builds an Orchestrator over c, running debug through driver and
// materializing through engine. middle may be nil; enrichment is then
// skipped regardless of the aggressive_debug flag.
func New(c *core.Core, engine *warehouse.Engine, driver *debug.Driver, middle *debug.Middle) *Orchestrator {
	return &Orchestrator{Core: c, Engine: engine, Driver: driver, Middle: middle, cache: newPipelineCache()}
}

// Handle runs one request for raw, the client's full buffer with the
// cursor sentinel embedded at the caret, and streams its frames back on
// the returned channel. The channel is always closed with a terminal
// frame, except when the buffer is silently abandoned to preemption (in
// which case nothing at all is sent — spec.md §7's "terminate silently").
func (o *Orchestrator) Handle(ctx context.Context, raw string) (<-chan Frame, error) {
	out := make(chan Frame, 4)

	canon, err := canonsql.Format(raw)
	if err != nil {
		go func() {
			defer close(out)
			out <- errorFrame(err.Error(), false)
			out <- terminalFrame()
		}()
		return out, nil
	}

	if entry, ok := o.cache.get(canon); ok {
		go func() {
			defer close(out)
			out <- modificationFrame(entry.modification, entry.rows, entry.isSample, entry.truncated)
			out <- terminalFrame()
		}()
		return out, nil
	}

	switchedContext := o.Core.CheckContextSwitch(canon.String())

	prepared := canonsql.PrepareSQL(raw, o.Core.Config.CursorIdentifier)
	if prepared == nil {
		// Boundary: empty input (only whitespace + sentinel, or no
		// sentinel at all) — nothing to speculate on.
		go func() {
			defer close(out)
			out <- errorFrame("empty input", false)
			out <- terminalFrame()
		}()
		return out, nil
	}

	log := slog.With("component", "orchestrator", "priority", prepared.Priority)
	if switchedContext {
		log.Debug("context switch detected, rule set and transcript cleared")
	}

	go o.run(ctx, log, canon, prepared, out)
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, log *slog.Logger, canon canonsql.Canonical, prepared *canonsql.PreparedSQL, out chan<- Frame) {
	defer close(out)

	splitPrefix, splitSuffix, hasCursor := splitOnCursor(prepared.SQL, o.Core.Config.CursorIdentifier)

	token, release, err := o.Core.LLMSlot.Claim(ctx, prepared.Priority, string(canon))
	if err != nil {
		if errors.Is(err, kernel.ErrSameKeyBusy) {
			out <- errorFrame("already debugging this buffer", false)
			out <- terminalFrame()
			return
		}
		out <- errorFrame(err.Error(), false)
		out <- terminalFrame()
		return
	}

	result, debugErr := o.Driver.Run(token.Context(), prepared.SQL, o.Core.RuleSet, o.Core.Transcript, o.Core.Activity.NextRetryBudget())
	if token.Err() != nil {
		// Preempted by a later, more relevant edit: abandon silently,
		// never touching PipelineCache (spec.md §7, scenario 4).
		release()
		log.Debug("llm stage preempted, abandoning")
		return
	}
	release()

	if debugErr != nil {
		log.Debug("debug stage failed", "error", debugErr)
		out <- errorFrame(debugErr.Error(), true)
		out <- terminalFrame()
		return
	}

	modification := reassemble(prepared, result.SQL, o.Core.Config.CursorIdentifier)
	out <- modificationFrame(modification, nil, false, false)

	var speculatedMiddle string
	if hasCursor && o.Middle != nil && prepared.Priority <= 1 {
		if mid, err := o.Middle.Run(ctx, splitPrefix, splitSuffix); err == nil {
			speculatedMiddle = mid
		}
	}

	dbToken, dbRelease, err := o.Core.DBSlot.Claim(ctx, prepared.Priority, string(canon))
	if err != nil {
		log.Debug("db slot busy, dropping preview", "error", err)
		o.Core.Activity.IncreaseActivePeriod()
		out <- terminalFrame()
		return
	}
	defer dbRelease()

	mainSQL := stripCursor(result.SQL, o.Core.Config.CursorIdentifier)
	previewTree, isSample, createErr := o.create(dbToken.Context(), prepared.Priority, mainSQL, speculatedMiddle)
	if dbToken.Err() != nil {
		log.Debug("db stage preempted, abandoning")
		return
	}
	if createErr != nil {
		log.Debug("create stage failed", "error", createErr)
		o.Core.Activity.IncreaseActivePeriod()
		out <- errorFrame(createErr.Error(), true)
		out <- terminalFrame()
		return
	}

	rows, truncated, err := o.preview(dbToken.Context(), previewTree)
	if dbToken.Err() != nil {
		log.Debug("preview stage preempted, abandoning")
		return
	}
	if err != nil {
		log.Debug("preview stage failed", "error", err)
		o.Core.Activity.IncreaseActivePeriod()
		out <- errorFrame(err.Error(), true)
		out <- terminalFrame()
		return
	}

	o.Core.Activity.ResetActivePeriod()
	o.Core.RecordSpeculated(mainSQL)
	o.cache.put(canon, cacheEntry{modification: modification, rows: rows, isSample: isSample, truncated: truncated})
	out <- modificationFrame(modification, rows, isSample, truncated)
	out <- terminalFrame()
}

// Replay re-runs the create stage for lastSQL, used as a kernel.ReplayFunc
// driving the background worker's idle-capacity materialization (spec.md
// §4.10). It only ever touches the db slot (already claimed by the
// caller) and never the LLM slot or PipelineCache — lastSQL already
// passed Debug when core.RecordSpeculated recorded it.
func (o *Orchestrator) Replay(ctx context.Context, lastSQL string) {
	if lastSQL == "" {
		return
	}
	if _, _, err := o.create(ctx, 0, lastSQL, ""); err != nil {
		slog.Debug("background replay failed", "component", "orchestrator", "error", err)
	}
}

// splitOnCursor locates the cursor sentinel in sql and returns the text on
// either side, for feeding debug.Middle's prefix/suffix speculation.
func splitOnCursor(sql, cursorIdentifier string) (prefix, suffix string, ok bool) {
	idx := strings.Index(sql, cursorIdentifier)
	if idx < 0 {
		return sql, "", false
	}
	return sql[:idx], sql[idx+len(cursorIdentifier):], true
}

// reassemble strips the cursor sentinel out of debugged and splices it
// back between prepared's CTE header/footer, producing the statement
// actually shown to the user or sent to the warehouse.
func reassemble(prepared *canonsql.PreparedSQL, debugged, cursorIdentifier string) string {
	return prepared.Prefix + stripCursor(debugged, cursorIdentifier) + prepared.Suffix
}

// stripCursor removes the cursor sentinel from debugged, leaving the
// statement body clause.Extract can parse as a plain SELECT.
func stripCursor(debugged, cursorIdentifier string) string {
	return strings.Replace(debugged, cursorIdentifier, "", 1)
}

// create realizes modification's main query as a temp-table fragment
// (spec.md §4.3, §4.9), preferring a clause-level rewrite against an
// already-cached fragment over materializing a new one. It returns the
// clause.Tree the preview stage should read from.
//
// A statement clause.Extract can't decompose (a UNION/INTERSECT, or
// anything beyond a plain SELECT) is a ParseReject (spec.md §7): rewrite
// and caching are abandoned and the caller previews the formatted
// modification directly.
func (o *Orchestrator) create(ctx context.Context, priority int, mainSQL, speculatedMiddle string) (clause.Tree, bool, error) {
	if priority > 1 {
		// Urgent request (spec.md §4.9, §9's "Urgent request" glossary
		// entry): cancel any warehouse query already running for this
		// session before issuing the next one. Best-effort: a cancel
		// racing a query that is already finishing is harmless, and a
		// cancel with nothing to interrupt is a no-op.
		if err := o.Engine.Cancel(ctx); err != nil {
			slog.Warn("warehouse cancel failed", "component", "orchestrator", "error", err)
		}
	}

	canon, err := canonsql.Format(mainSQL)
	if err != nil {
		return clause.Tree{}, false, err
	}

	tree, err := clause.Extract(canon)
	if err != nil {
		// ParseReject (spec.md §7): not a plain SELECT the clause
		// algebra can reason about. Hand the formatted statement back
		// as a passthrough "tree" whose FROM is the whole subquery, so
		// preview can still LIMIT-wrap and run it without any rewrite
		// or temp-table caching.
		return wholeTableTree("(" + canon.String() + ")", "t"), false, nil
	}

	origins := o.Core.Pool.QueryCacheList(o.Core.Config.QueryCacheCount)
	if rewritten, entry, ok := rewrite.Rewrite(origins, *tree); ok {
		return rewritten, entry.IsSample, nil
	}

	check := o.Core.Pool.Check(canon, true)
	if !check.IsNew {
		return wholeTableTree(check.Name, check.Name), o.Core.Pool.IsSample(canon), nil
	}

	target := *tree
	if priority <= 1 && o.Core.Config.Enable.AggressiveDebug && speculatedMiddle != "" {
		target = rewrite.Enrich(target, speculatedMiddle, o.Core.Schema)
	}

	isSample, err := o.materialize(ctx, check.Name, canon, target)
	if err != nil {
		return clause.Tree{}, false, err
	}

	return wholeTableTree(check.Name, check.Name), isSample, nil
}

// wholeTableTree builds a "SELECT * FROM name AS alias" passthrough tree
// for reading back an already-materialized fragment directly.
func wholeTableTree(name, alias string) clause.Tree {
	return clause.Tree{
		Select: []clause.SelectItem{{Expr: "*"}},
		From:   clause.TableRef{Name: name, Alias: alias},
	}
}

// materialize runs CREATE TEMPORARY TABLE name AS <target>, retrying with
// progressively smaller samples on a warehouse timeout-cancel up to
// max_iteration (spec.md §4.5, §4.6). On success the pool entry is
// registered under canon — the caller's original cache key — regardless
// of any enrichment or sampling applied to target, so a later identical
// request's own Check(canon) still finds this entry (the pool's naming
// invariant, spec.md §8).
func (o *Orchestrator) materialize(ctx context.Context, name string, canon canonsql.Canonical, target clause.Tree) (bool, error) {
	isSample := false
	retryK := 0

	for {
		rendered, err := target.Render()
		if err != nil {
			return false, err
		}

		script := "CREATE TEMPORARY TABLE " + name + " AS " + rendered.String()
		metrics, err := o.Engine.Execute(ctx, name, script, false)
		if err == nil {
			o.Core.Pool.Update(canon, name, isSample, metrics.Size)
			_ = o.Core.Pool.Evict(ctx, o.Engine)
			return isSample, nil
		}
		if !errors.Is(err, warehouse.ErrTimeout) || !o.Core.Config.Enable.Sample || retryK >= o.Core.Config.MaxIteration {
			return false, err
		}

		retryK++
		sampled, ok := warehouse.SampleScript(target, retryK, o.Core.Config.Dialect.Endpoint)
		if !ok {
			return false, err
		}
		target = sampled
		isSample = true
	}
}

// preview runs tree (or its ParseReject passthrough form) with a LIMIT
// cap at config.Preview+1, so the caller can distinguish "exactly
// config.Preview rows" from "there are more". Rows are fetched through
// Engine.PreviewRows and both the row-count and byte budgets are enforced
// before returning.
func (o *Orchestrator) preview(ctx context.Context, tree clause.Tree) ([]string, bool, error) {
	limit := o.Core.Config.Preview + 1
	tree.Limit = &limit

	rendered, err := tree.Render()
	if err != nil {
		return nil, false, err
	}

	sql := rendered.String()
	if _, err := o.Engine.Preview(ctx, sql); err != nil {
		return nil, false, err
	}

	rows, err := o.Engine.PreviewRows(ctx, sql, limit)
	if err != nil {
		return nil, false, err
	}

	truncated := false
	if len(rows) > o.Core.Config.Preview {
		rows = rows[:o.Core.Config.Preview]
		truncated = true
	}

	budget := o.Core.Config.PreviewChar
	used := 0
	for i, r := range rows {
		used += len(r)
		if used > budget {
			rows = rows[:i]
			truncated = true
			break
		}
	}

	return rows, truncated, nil
}

// Engine already satisfies pool.TableDropper directly (no adapter needed);
// this assertion documents that at the wiring site that owns eviction
// (materialize calls core.Pool.Evict(ctx, o.Engine) after every Update).
var _ pool.TableDropper = (*warehouse.Engine)(nil)
