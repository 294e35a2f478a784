// Package core holds the process-scoped state shared across one SpeQL
// editing session's components: the two concurrency-kernel job slots, the
// temp-table pool, the warehouse schema cache, the activity/cost
// controller state, the accumulated debug rule set and transcript, and the
// coarse warehouse-session locks. It deliberately carries no pipeline
// logic of its own — pkg/orchestrator owns the request lifecycle.
package core

import (
	"sync"

	"github.com/codeready-toolchain/speql/pkg/activity"
	"github.com/codeready-toolchain/speql/pkg/config"
	"github.com/codeready-toolchain/speql/pkg/debug"
	"github.com/codeready-toolchain/speql/pkg/kernel"
	"github.com/codeready-toolchain/speql/pkg/pool"
)

// Core is the process-scoped state shared across one SpeQL editing
// session, per spec.md §9's design note: the two job slots, the
// temp-table pool, the schema cache, the activity/cost state, the
// accumulated debug rule set and transcript, and three coarse-grained lock
// fields (explain cursor, execute cursor, vector-DB load). Core carries no pipeline logic of its own — pkg/orchestrator
// owns the request lifecycle and holds a *Core alongside its own
// PipelineCache and Engine.
type Core struct {
	Config *config.Config

	Schema *SchemaCache
	Pool   *pool.Pool

	LLMSlot *kernel.Slot
	DBSlot  *kernel.Slot

	Activity *activity.State

	RuleSet    *debug.RuleSet
	Transcript *debug.Transcript

	// ExplainCursorLock, ExecuteCursorLock and VectorDBLoadLock are named
	// after the reference implementation's explain_cursor_lock,
	// execute_cursor_lock and vector_db_load_lock. No code in this module
	// takes them: warehouse.Engine serializes EXPLAIN, CREATE and preview
	// calls under its own mutex, and no embedding index is loaded.
	ExplainCursorLock sync.Mutex
	ExecuteCursorLock sync.Mutex
	VectorDBLoadLock  sync.Mutex

	mu            sync.Mutex
	lastSQL       string
	lastSpeculated string
}

// New wires a Core from cfg: job slots, pool, schema cache, activity
// state, and an empty rule set/transcript ready for the first request.
func New(cfg *config.Config) *Core {
	return &Core{
		Config:     cfg,
		Schema:     NewSchemaCache(),
		Pool:       pool.New(cfg.TemporaryTableCount, cfg.TemporaryTableSize),
		LLMSlot:    kernel.NewSlot("llm"),
		DBSlot:     kernel.NewSlot("db"),
		Activity:   activity.New(cfg.MaxIteration),
		RuleSet:    debug.NewRuleSet(),
		Transcript: debug.NewTranscript(cfg.DebugSimpleMessageCount, cfg.DebugSimpleMessageSize),
	}
}

// CheckContextSwitch applies activity.CheckNewSQL against the previously
// seen buffer and curr, recording curr as the new baseline on every call
// and clearing the rule set and transcript on a detected file-context
// switch. Returns whether a switch was detected.
func (c *Core) CheckContextSwitch(curr string) bool {
	c.mu.Lock()
	prev := c.lastSQL
	c.lastSQL = curr
	c.mu.Unlock()

	switched := activity.CheckNewSQL(prev, curr, c.Config.SimilarityThreshold)
	if switched {
		c.RuleSet.Clear()
		c.Transcript.Reset()
	}
	return switched
}

// RecordSpeculated stores the most recently speculated SQL for the
// background worker to replay.
func (c *Core) RecordSpeculated(sql string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSpeculated = sql
}

// LastSpeculated returns the most recently speculated SQL, or "" if none.
func (c *Core) LastSpeculated() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSpeculated
}
