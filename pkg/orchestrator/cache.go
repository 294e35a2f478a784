package orchestrator

import (
	"sync"

	"github.com/codeready-toolchain/speql/pkg/canonsql"
)

// cacheEntry is a finished pipeline result for one canonical input buffer.
type cacheEntry struct {
	modification string
	rows         []string
	isSample     bool
	truncated    bool
}

// pipelineCache is the request-level result cache keyed by the full
// canonicalized input buffer (cursor sentinel included), not the
// materialized-fragment cache pkg/pool tracks. Entries are never
// invalidated or overwritten once written — an exact repeat of an editing
// buffer always replays the same modification, matching the teacher's
// sync.Map-based event-dedup idiom (pkg/events' catch-up adapter keys a
// seen-set the same way) rather than a size-bounded LRU, since a stale
// pipeline hit is cheap to reissue and the request keyspace self-limits
// to whatever buffers this session's cursor visited.
type pipelineCache struct {
	entries sync.Map // canonsql.Canonical -> cacheEntry
}

func newPipelineCache() *pipelineCache {
	return &pipelineCache{}
}

func (c *pipelineCache) get(key canonsql.Canonical) (cacheEntry, bool) {
	v, ok := c.entries.Load(key)
	if !ok {
		return cacheEntry{}, false
	}
	return v.(cacheEntry), true
}

// put records entry for key if no entry already exists. The first write
// for a key wins; Handle never calls put twice for the same key since a
// cache hit returns before reaching the stages that produce one.
func (c *pipelineCache) put(key canonsql.Canonical, entry cacheEntry) {
	c.entries.LoadOrStore(key, entry)
}
