package core

import (
	"strings"
	"sync"
)

// ColumnInfo is one column of a table discovered via a materialized
// CREATE TEMPORARY TABLE AS or a warehouse schema probe.
type ColumnInfo struct {
	Name string
	Type string
}

// SchemaCache is an append-only, in-memory record of every base table's
// column schema seen so far, keyed by the table's uppercased name. It is
// never invalidated within a session: a table's columns don't change
// shape mid-session, and a stale entry only ever under-informs powerset
// enrichment, never corrupts a rewrite.
type SchemaCache struct {
	mu     sync.RWMutex
	tables map[string][]ColumnInfo
}

// NewSchemaCache returns an empty cache.
func NewSchemaCache() *SchemaCache {
	return &SchemaCache{tables: make(map[string][]ColumnInfo)}
}

// Put records (or replaces) the column list for table.
func (c *SchemaCache) Put(table string, columns []ColumnInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables[strings.ToUpper(table)] = columns
}

// Columns returns the known columns for table, or nil if it has not been
// seen yet.
func (c *SchemaCache) Columns(table string) []ColumnInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tables[strings.ToUpper(table)]
}
