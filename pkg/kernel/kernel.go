// Package kernel implements the Concurrency Kernel (spec.md §4.9/§9): two
// cooperative job slots ("llm" and "db"), priority-preemption of the
// current holder, and cancellation tokens the holder polls at every
// suspension point. It generalizes the teacher's
// WorkerPool/session-cancel-registry pattern (pkg/queue/pool.go) from "one
// cancel func per session ID" to "one holder with priority, a liveness
// check, and a cancellation token" per request key.
package kernel

import (
	"context"
	"errors"
	"sync"
)

// ErrPreempted is returned by Claim's ReleaseFunc-guarded work, and by
// CancelToken.Err, when a later claim has taken over the slot: any claim
// under a different key, whatever its priority, or a priority>0 claim of
// the same key over a priority-0 holder. Per spec.md §7's taxonomy this is
// CancelledByPreemption: observed before any state-mutating step, the
// holder terminates silently rather than surfacing it as a user error.
var ErrPreempted = errors.New("kernel: preempted")

// CancelToken is handed to a slot's holder. It wraps a context so the
// holder observes preemption at every suspension point (ctx.Done()) and at
// every loop iteration (Err()/Cancelled()), per spec.md §9's
// "replace dynamic/async task handles with explicit cancellation tokens +
// task handles" design note.
type CancelToken struct {
	ctx    context.Context
	cancel context.CancelCauseFunc
}

func newCancelToken(parent context.Context) *CancelToken {
	ctx, cancel := context.WithCancelCause(parent)
	return &CancelToken{ctx: ctx, cancel: cancel}
}

// Context returns a context that is cancelled when this holder is
// preempted, suitable for passing straight into an LLM call or warehouse
// query so the underlying I/O is aborted too.
func (c *CancelToken) Context() context.Context {
	return c.ctx
}

// Cancelled reports whether this holder has been preempted.
func (c *CancelToken) Cancelled() bool {
	return c.ctx.Err() != nil
}

// Err returns ErrPreempted if this holder has been preempted, else nil.
func (c *CancelToken) Err() error {
	if c.ctx.Err() != nil {
		return ErrPreempted
	}
	return nil
}

func (c *CancelToken) preempt() {
	c.cancel(ErrPreempted)
}

// holder is the current occupant of a Slot.
type holder struct {
	key      string
	priority int
	token    *CancelToken
}

// Slot is one of the kernel's two cooperative resources ("llm" or "db").
// Exactly one holder at a time; Claim implements the priority-preemption
// protocol of spec.md §5.
type Slot struct {
	name   string
	mu     sync.Mutex
	holder *holder
}

// NewSlot builds a named, initially-idle slot.
func NewSlot(name string) *Slot {
	return &Slot{name: name}
}

// Name returns the slot's name ("llm" or "db"), for logging.
func (s *Slot) Name() string {
	return s.name
}

// ReleaseFunc relinquishes a claim. It is a no-op if a later claim has
// already taken over the slot (the holder pointer no longer matches).
type ReleaseFunc func()

// Claim implements spec.md §5's priority-preemption protocol verbatim:
// "claim(slot, p, key) waits only if the same key is currently running and
// it is not the case that the caller's p>0 and the holder's p==0.
// Otherwise the caller becomes holder immediately." Becoming holder
// immediately preempts whatever held the slot before: its CancelToken is
// flipped, so it observes preemption at its next suspension point or loop
// iteration and returns with no side effects.
//
// Claim never blocks: the "waits" case in spec.md §5 describes a
// request-level behavior (the orchestrator's own retry/backoff around a
// busy same-key slot), not a kernel-level queue — SpeQL has no queue for a
// cooperative slot, only immediate claim-or-preempt. A caller that wants
// the "same key, don't preempt" wait behavior checks ErrSameKeyBusy and
// retries at the orchestrator layer.
var ErrSameKeyBusy = errors.New("kernel: same key already running, caller should wait rather than preempt")

// Claim attempts to become the slot's holder under the given priority and
// request key, returning a CancelToken (to pass into the held work) and a
// ReleaseFunc (to call when the work completes, successfully or not).
func (s *Slot) Claim(ctx context.Context, priority int, key string) (*CancelToken, ReleaseFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.holder != nil && s.holder.key == key && !(priority > 0 && s.holder.priority == 0) {
		return nil, nil, ErrSameKeyBusy
	}

	if s.holder != nil {
		s.holder.token.preempt()
	}

	token := newCancelToken(ctx)
	h := &holder{key: key, priority: priority, token: token}
	s.holder = h

	release := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.holder == h {
			s.holder = nil
		}
	}
	return token, release, nil
}

// CurrentKey reports the request key currently holding the slot, and
// whether anything holds it at all.
func (s *Slot) CurrentKey() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.holder == nil {
		return "", false
	}
	return s.holder.key, true
}
