// Package debug implements the Debug component (spec.md §4.8): Simple and
// Complex SQL repair loops driven by an LLM, and Middle's cursor-gap
// prediction, plus the RuleSet and Transcript state they share across
// calls in one editing session.
package debug

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/codeready-toolchain/speql/pkg/config"
)

// Rule is a textual find/replace patch Simple has validated as safe to
// reapply without another LLM round-trip.
type Rule struct {
	Old string
	New string
}

// RuleSet accumulates validated rules across debug calls in a session.
// Cleared on a file-context switch (activity.CheckNewSQL).
type RuleSet struct {
	mu    sync.Mutex
	rules []Rule
}

// NewRuleSet returns an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{}
}

// Rules returns a snapshot of the current rules.
func (r *RuleSet) Rules() []Rule {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Set replaces the rule set wholesale (Simple's accumulation and
// Complex's LCS-derived seed both do this after validating a full set).
func (r *RuleSet) Set(rules []Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = rules
}

// Add appends newRules, keeping prior rules.
func (r *RuleSet) Add(newRules []Rule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, newRules...)
}

// Clear empties the rule set — called on a detected file-context switch.
func (r *RuleSet) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = nil
}

// Apply replays rules over sql in order, the same sequential
// string-replace chain the reference implementation applies before
// EXPLAIN-validating the result.
func Apply(sql string, rules []Rule) string {
	out := sql
	for _, rule := range rules {
		out = strings.ReplaceAll(out, rule.Old, rule.New)
	}
	return out
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// fuzzyLocate finds rule.Old in sql even when the LLM reproduced it with
// different whitespace, by turning the pattern's whitespace runs into
// \s+ before matching — mirroring the reference implementation's
// re.sub(r"\s+", r"\\s+", re.escape(old)) recovery step.
func fuzzyLocate(sql, old string) (string, bool) {
	if strings.Contains(sql, old) {
		return old, true
	}
	escaped := regexp.QuoteMeta(old)
	pattern := whitespaceRun.ReplaceAllString(escaped, `\s+`)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return old, false
	}
	match := re.FindString(sql)
	if match == "" {
		return old, false
	}
	return match, true
}

// uniqueOccurrence reports whether old appears exactly once in sql — a
// rule that matches more than once is ambiguous to apply and is rejected.
func uniqueOccurrence(sql, old string) bool {
	if old == "" {
		return false
	}
	return strings.Count(sql, old) == 1
}

// validateRule checks a candidate rule against the three conditions
// debug_rule.py/debug_simple.py enforce before accepting it: the old
// pattern must (after fuzzy whitespace recovery) occur in sql, its
// occurrence must be unique, and the cursor sentinel must appear in
// rule.New whenever it appears in rule.Old (never silently dropped).
func validateRule(sql string, rule Rule, cursorIdentifier string) (Rule, error) {
	if old, ok := fuzzyLocate(sql, rule.Old); ok {
		rule.Old = old
	} else {
		return rule, fmt.Errorf("rule old %q not found in sql", rule.Old)
	}

	hasCursorInOld := strings.Contains(rule.Old, cursorIdentifier)
	hasCursorInNew := strings.Contains(rule.New, cursorIdentifier)
	if hasCursorInOld && !hasCursorInNew {
		return rule, fmt.Errorf("cursor identifier present in rule old %q but missing from rule new %q", rule.Old, rule.New)
	}
	if !hasCursorInOld && hasCursorInNew {
		rule.New = strings.ReplaceAll(rule.New, cursorIdentifier, "")
	}

	if !uniqueOccurrence(sql, rule.Old) {
		return rule, fmt.Errorf("rule old %q is not unique in sql", rule.Old)
	}
	return rule, nil
}

// DiffRules derives the minimal set of replacement rules that turn a into
// b, ported from debug_rule.py's get_replacement_rule: split both strings
// on whitespace runs (so rules align on word/token boundaries), diff with
// a SequenceMatcher, and for every non-equal opcode grow the span until it
// both occurs exactly once in a and reaches minRuleLength. Complex seeds
// Simple's RuleSet with this, skipping any rule whose old span contains
// the cursor sentinel (the rewrite's cursor placement is not a stable
// pattern to replay against future buffers).
func DiffRules(a, b string, minRuleLength int, cursorIdentifier string) []Rule {
	var out []Rule
	target := b

	for {
		before := a
		aTok := splitWhitespace(a)
		bTok := splitWhitespace(target)

		matcher := difflib.NewMatcher(aTok, bTok)
		opcodes := matcher.GetOpCodes()

		memRight := 0
		var round []Rule

		for _, op := range opcodes {
			if op.Tag == 'e' {
				continue
			}
			left, right := op.I1, op.I2
			if left < memRight {
				continue
			}

			for {
				if right-left >= minRuleLength && uniqueOccurrence(strings.Join(aTok, ""), strings.Join(aTok[left:right], "")) {
					leftB := op.J1 - (op.I1 - left)
					rightB := op.J2 + (right - op.I2)
					if leftB < 0 {
						leftB = 0
					}
					if rightB > len(bTok) {
						rightB = len(bTok)
					}
					if right != len(aTok) && rightB != len(bTok) && aTok[right] == bTok[rightB] {
						right++
						rightB++
					}
					memRight = right
					round = append(round, Rule{Old: strings.Join(aTok[left:right], ""), New: strings.Join(bTok[leftB:rightB], "")})
					break
				}
				grow := minRuleLength - (right - left)
				if grow < 1 {
					grow = 1
				}
				if left > memRight {
					step := left - memRight
					if step > grow {
						step = grow
					}
					left -= step
				} else if right < len(aTok) {
					step := len(aTok) - right
					if step > grow {
						step = grow
					}
					right += step
				} else {
					break
				}
			}
		}

		out = append(out, round...)
		a = before
		for _, r := range round {
			a = strings.ReplaceAll(a, r.Old, r.New)
		}
		if a == target {
			break
		}
		if len(round) == 0 {
			// No further progress possible; avoid looping forever on
			// input this diff strategy can't reconcile.
			break
		}
	}

	filtered := out[:0]
	for _, r := range out {
		if !strings.Contains(r.Old, cursorIdentifier) {
			filtered = append(filtered, r)
		}
	}
	return filtered
}

func splitWhitespace(s string) []string {
	var out []string
	last := 0
	for _, loc := range whitespaceRun.FindAllStringIndex(s, -1) {
		if loc[0] > last {
			out = append(out, s[last:loc[0]])
		}
		out = append(out, s[loc[0]:loc[1]])
		last = loc[1]
	}
	if last < len(s) {
		out = append(out, s[last:])
	}
	return out
}

// defaultMinRuleLength reads the configured threshold, defaulting to 5 —
// the reference implementation's own default — when unset.
func defaultMinRuleLength(cfg *config.Config) int {
	if cfg == nil || cfg.MinRuleLength == 0 {
		return 5
	}
	return cfg.MinRuleLength
}
