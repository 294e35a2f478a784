package debug

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/speql/pkg/llmclient"
)

// Validator EXPLAIN-checks a candidate statement without materializing
// anything, gating rule acceptance the way the reference implementation's
// explain_cursor_lock-guarded cursor.execute("EXPLAIN ...") does.
type Validator interface {
	Explain(ctx context.Context, sql string) error
}

// Result is what Simple/Complex return on success.
type Result struct {
	SQL   string
	Rules []Rule
}

// Simple runs the iterative JSON-patch debug loop (spec.md §4.8): ask the
// LLM for {old,new} rules, validate and apply them, EXPLAIN the result,
// and retry with the failure fed back as context until the retry budget
// is spent.
type Simple struct {
	LLM              *llmclient.Client
	Validator        Validator
	CursorIdentifier string
}

// Run attempts to produce an EXPLAIN-valid statement from sql, seeded with
// the rules already accumulated in ruleSet and transcript carried over
// from prior calls in the session. On success it returns the repaired SQL
// and the rule set extended with whatever new rules proved valid. On
// exhausting retries it returns the first EXPLAIN failure it saw, the
// "initial error info" spec.md §4.8 says Driver surfaces when Complex also
// fails.
func (s *Simple) Run(ctx context.Context, sql string, ruleSet *RuleSet, transcript *Transcript, maxRetry int) (Result, error) {
	rules := append([]Rule(nil), ruleSet.Rules()...)

	candidate := Apply(sql, rules)
	initialErr := s.Validator.Explain(ctx, candidate)
	if initialErr == nil {
		return Result{SQL: candidate, Rules: rules}, nil
	}

	scratch := append([]llmclient.Message(nil), transcript.Messages()...)
	firstErr := initialErr

	for attempt := 0; attempt < maxRetry; attempt++ {
		newRules, err := s.proposeRules(ctx, sql, &scratch, attempt)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}

		trial := append(append([]Rule(nil), rules...), newRules...)
		candidate = Apply(sql, trial)

		if strings.Count(candidate, ";") > 0 && strings.TrimSpace(candidate[strings.Index(candidate, ";"):]) != "" {
			err := fmt.Errorf("only one SQL statement is supported")
			if firstErr == nil {
				firstErr = err
			}
			s.feedback(&scratch, trial, candidate, err)
			continue
		}

		if err := s.Validator.Explain(ctx, candidate); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.feedback(&scratch, trial, candidate, err)
			continue
		}

		ruleSet.Set(trial)
		if len(trial) > 0 {
			transcript.Append(llmclient.Message{Role: "assistant", Content: renderRulesJSON(trial)})
		}
		return Result{SQL: candidate, Rules: trial}, nil
	}

	return Result{}, firstErr
}

// proposeRules asks the LLM for one round of patch rules and validates
// each candidate rule against sql, matching debug_simple_inner's
// iteration: an unparsable or invalid response appends corrective
// feedback to scratch and is retried by the caller's own loop.
func (s *Simple) proposeRules(ctx context.Context, sql string, scratch *[]llmclient.Message, iterator int) ([]Rule, error) {
	resp, err := s.LLM.Complete(ctx, llmclient.Request{
		Task:      llmclient.TaskSimple,
		Iterator:  iterator,
		Messages:  *scratch,
		MaxTokens: 256,
	})
	if err != nil {
		return nil, err
	}

	raw, ok := extractFenced(resp.Content, "```json", "```")
	if !ok {
		*scratch = append(*scratch, llmclient.Message{Role: "user", Content: "Please output the correct JSON format starting with ```json."})
		return nil, fmt.Errorf("response missing ```json fence")
	}

	parsed, err := parseRulesJSON(raw)
	if err != nil {
		*scratch = append(*scratch, llmclient.Message{Role: "user", Content: "Please output the correct JSON format starting with ```json and ending with ```."})
		return nil, fmt.Errorf("invalid rule JSON: %w", err)
	}

	var valid []Rule
	for _, r := range parsed {
		validated, err := validateRule(sql, r, s.CursorIdentifier)
		if err != nil {
			*scratch = append(*scratch, llmclient.Message{Role: "user", Content: err.Error() + ", please fix it."})
			return nil, err
		}
		if validated.Old != validated.New {
			valid = append(valid, validated)
		}
	}
	return valid, nil
}

func (s *Simple) feedback(scratch *[]llmclient.Message, rules []Rule, sql string, err error) {
	*scratch = append(*scratch,
		llmclient.Message{Role: "assistant", Content: "```json\n" + renderRulesJSON(rules) + "\n```"},
		llmclient.Message{Role: "user", Content: sql + "\n" + err.Error()},
	)
}
