// Package pool implements the Temporary-Table Pool: it maps a canonical
// CREATE-script to the materialized temp-table name it produced, keeps
// that mapping in MRU order, and enforces count/size caps by dropping the
// least-recently-used materializations.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/codeready-toolchain/speql/pkg/canonsql"
)

// Entry is one materialized temp table tracked by the pool.
type Entry struct {
	Script   canonsql.Canonical
	Name     string
	IsSample bool
	Size     int64
}

// TableDropper issues the warehouse-side DROP TABLE for an evicted entry.
// Pool depends on this narrow interface rather than pkg/warehouse directly
// to avoid a warehouse<->pool import cycle (warehouse's Execute path
// registers newly created tables back into the pool).
type TableDropper interface {
	DropTable(ctx context.Context, name string) error
}

// Pool tracks materialized temp tables in MRU order under countCap and
// sizeCap. Entries exist in the pool iff the underlying temp table exists
// in the warehouse session, barring a crash window between Execute and
// Update.
type Pool struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[canonsql.Canonical, *Entry]
	counter  int64
	countCap int
	sizeCap  int64
	size     int64
}

// New builds a Pool capped at countCap entries and sizeCap bytes.
func New(countCap int, sizeCap int64) *Pool {
	// simplelru needs a positive size; the pool's own countCap/sizeCap
	// sweep in Evict is the cap that actually matters, so give the
	// underlying LRU enough room that its own eviction never fires first.
	lru, _ := simplelru.NewLRU[canonsql.Canonical, *Entry](countCap+1, nil)
	return &Pool{lru: lru, countCap: countCap, sizeCap: sizeCap}
}

// CheckResult is the outcome of Check.
type CheckResult struct {
	Name  string
	IsNew bool
}

// Check returns the existing temp-table name for script if known. If
// unknown, it returns a provisional name ("SPEQL_TEMP_TABLE_{n}") without
// registering anything — the caller must follow up with Update using that
// exact name once the CREATE succeeds, satisfying the pool's naming
// invariant. If updateMRU and the script is known, the entry is promoted
// to the MRU head.
func (p *Pool) Check(script canonsql.Canonical, updateMRU bool) CheckResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.lru.Get(script); ok {
		if updateMRU {
			p.lru.Add(script, e)
		}
		return CheckResult{Name: e.Name, IsNew: false}
	}

	next := atomic.LoadInt64(&p.counter) + 1
	return CheckResult{Name: fmt.Sprintf("SPEQL_TEMP_TABLE_%d", next), IsNew: true}
}

// Update registers a newly materialized entry under the provisional name
// Check most recently handed out for script, atomically advancing the
// naming counter and pushing the entry to the MRU head.
func (p *Pool) Update(script canonsql.Canonical, name string, isSample bool, size int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	atomic.AddInt64(&p.counter, 1)
	p.lru.Add(script, &Entry{Script: script, Name: name, IsSample: isSample, Size: size})
	p.size += size
}

// Evict drops least-recently-used entries while the pool exceeds its
// count or size cap. A DROP failure (e.g. a dependent view still
// referencing the temp table) skips that entry and tries the next oldest;
// if no entry can be dropped, Evict stops rather than looping forever.
func (p *Pool) Evict(ctx context.Context, dropper TableDropper) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.lru.Len() > p.countCap || p.size > p.sizeCap {
		keys := p.lru.Keys() // oldest first
		dropped := false
		for _, key := range keys {
			e, ok := p.lru.Peek(key)
			if !ok {
				continue
			}
			if err := dropper.DropTable(ctx, e.Name); err != nil {
				continue
			}
			p.lru.Remove(key)
			p.size -= e.Size
			dropped = true
			break
		}
		if !dropped {
			return nil
		}
	}
	return nil
}

// QueryCacheList returns the MRU-ordered script list truncated to the
// given prefix length, for the Rewriter to try in order.
func (p *Pool) QueryCacheList(prefix int) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()

	keys := p.lru.Keys() // oldest first; reverse for MRU-first
	out := make([]Entry, 0, prefix)
	for i := len(keys) - 1; i >= 0 && len(out) < prefix; i-- {
		if e, ok := p.lru.Peek(keys[i]); ok {
			out = append(out, *e)
		}
	}
	return out
}

// IsSample reports whether script's materialization was built from a
// sampled scan.
func (p *Pool) IsSample(script canonsql.Canonical) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.lru.Peek(script)
	return ok && e.IsSample
}

// Reset drops every tracked entry and clears the pool, without issuing
// the warehouse-side DROP TABLE calls (callers doing a full warehouse
// reset are expected to have already torn down the session).
func (p *Pool) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lru.Purge()
	p.counter = 0
	p.size = 0
}

// Len reports the number of tracked entries.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lru.Len()
}
