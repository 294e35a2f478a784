// Package activity implements the Cost/Activity Controller (spec.md §4.7):
// the active-period backoff state machine, and the similarity gate that
// detects a file-context switch and clears the accumulated debug rule set.
// The retry budget it hands out is always the configured maximum; the
// active period drives only an internal countdown and does not reduce it.
package activity

import (
	"sync"

	"github.com/agext/levenshtein"
)

// State tracks the active-period backoff and retry budget for one editing
// session. Safe for concurrent use; ResetActivePeriod/IncreaseActivePeriod
// are called from the pipeline orchestrator after each preview attempt,
// NextRetryBudget from each debug attempt.
type State struct {
	mu sync.Mutex

	activePeriod  int
	countdown     int
	maxRetry      int
	configuredMax int
}

// New builds a State with the configured maximum retry count (spec.md §6's
// max_iteration, typically 3).
func New(configuredMax int) *State {
	return &State{activePeriod: 1, maxRetry: configuredMax, configuredMax: configuredMax}
}

// ResetActivePeriod restores full-speed retries after a successful preview.
func (s *State) ResetActivePeriod() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePeriod = 1
	s.countdown = 0
	s.updateMaxRetry()
}

// IncreaseActivePeriod doubles the active period (clamped to 4) after a
// pipeline run that failed to produce a preview. The budget NextRetryBudget
// returns is not reduced by it; it stays at the configured maximum.
func (s *State) IncreaseActivePeriod() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activePeriod *= 2
	if s.activePeriod > 4 {
		s.activePeriod = 4
	}
	s.updateMaxRetry()
}

// updateMaxRetry mirrors the reference implementation's naive inference
// throttle: max_retry is always set to the configured maximum here, and
// only countdown actually cycles against activePeriod. A prior draft of
// this controller assumed max_retry itself would shrink to activePeriod
// once countdown hit zero; the original never does that, so this keeps
// the reference behavior (and its latent no-op branch) rather than
// "fixing" semantics nothing downstream currently depends on changing.
func (s *State) updateMaxRetry() {
	s.maxRetry = s.configuredMax
	if s.countdown > 0 {
		s.countdown--
	} else {
		s.countdown = s.activePeriod
	}
}

// NextRetryBudget returns the retry budget for the upcoming debug attempt.
func (s *State) NextRetryBudget() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxRetry
}

// ActivePeriod reports the current backoff period, for observability and
// tests.
func (s *State) ActivePeriod() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePeriod
}

// CheckNewSQL reports whether curr looks like a different query than prev
// (a file-context switch), in which case the caller should clear its debug
// rule set rather than keep patching rules that no longer apply. prev
// being empty is always treated as a context switch — there's nothing to
// compare against.
func CheckNewSQL(prev, curr string, threshold float64) bool {
	if prev == "" {
		return true
	}
	similarity := levenshtein.Match(prev, curr, nil)
	return similarity < threshold
}
