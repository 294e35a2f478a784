package debug

import (
	"sync"

	"github.com/codeready-toolchain/speql/pkg/llmclient"
)

// Transcript is the bounded message history Simple replays on every call,
// matching the reference implementation's debug_simple_message global: a
// fixed system message at index 0 followed by alternating user/assistant
// pairs, trimmed from the front (oldest pair first) once either the byte
// budget or the pair-count budget is exceeded (spec.md §9's bounded-deque
// design note).
type Transcript struct {
	mu         sync.Mutex
	system     llmclient.Message
	pairs      []llmclient.Message
	maxPairs   int
	maxBytes   int
}

// NewTranscript builds an empty transcript bounded by maxPairs
// user/assistant turns and maxBytes total serialized size.
func NewTranscript(maxPairs, maxBytes int) *Transcript {
	return &Transcript{maxPairs: maxPairs, maxBytes: maxBytes}
}

// SetSystem replaces the leading system message.
func (t *Transcript) SetSystem(content string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.system = llmclient.Message{Role: "system", Content: content}
}

// Append adds one message (user or assistant) to the transcript, then
// evicts the oldest pair while either budget is exceeded.
func (t *Transcript) Append(msg llmclient.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pairs = append(t.pairs, msg)
	t.evict()
}

func (t *Transcript) evict() {
	for t.size() > t.maxBytes && len(t.pairs) >= 2 {
		t.pairs = t.pairs[2:]
	}
	if len(t.pairs) > t.maxPairs*2 {
		t.pairs = t.pairs[2:]
	}
}

func (t *Transcript) size() int {
	n := len(t.system.Content)
	for _, m := range t.pairs {
		n += len(m.Content)
	}
	return n
}

// Messages returns the full message list (system first) ready to send as
// a chat-completion request.
func (t *Transcript) Messages() []llmclient.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]llmclient.Message, 0, len(t.pairs)+1)
	out = append(out, t.system)
	out = append(out, t.pairs...)
	return out
}

// DropTrailingUser removes a dangling trailing user message, mirroring
// get_debug_simple_message's pop() when the previous call ended without a
// matching assistant reply (e.g. the LLM call failed outright).
func (t *Transcript) DropTrailingUser() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.pairs) > 0 && t.pairs[len(t.pairs)-1].Role == "user" {
		t.pairs = t.pairs[:len(t.pairs)-1]
	}
}

// Reset clears all accumulated turns, keeping the system message slot.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pairs = nil
}

// Clone returns an independent copy for building a scratch conversation
// (debug_simple_inner works against a copy so a failed round doesn't
// pollute the session transcript).
func (t *Transcript) Clone() []llmclient.Message {
	return t.Messages()
}
