package debug

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/speql/pkg/config"
	"github.com/codeready-toolchain/speql/pkg/llmclient"
)

// scriptedLLM serves queued chat-completion responses in order, ignoring
// request content, so tests can drive a deterministic sequence of LLM
// turns without a real endpoint.
type scriptedLLM struct {
	mu        sync.Mutex
	responses []string
	calls     int
}

func newScriptedLLM(t *testing.T, responses ...string) *llmclient.Client {
	t.Helper()
	s := &scriptedLLM{responses: responses}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		idx := s.calls
		s.calls++
		s.mu.Unlock()

		content := "Error: ran out of scripted responses"
		if idx < len(s.responses) {
			content = s.responses[idx]
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": content}}},
			"usage":   map[string]any{"prompt_tokens": 1, "completion_tokens": 1},
		})
	}))
	t.Cleanup(server.Close)
	return llmclient.New(config.LLMConfig{
		Endpoint: server.URL, FastModel: "fast", AccurateModel: "accurate",
		Timeout: 2 * time.Second,
	})
}

func TestSimpleRunAcceptsSQLUnchangedWhenAlreadyValid(t *testing.T) {
	llm := newScriptedLLM(t)
	validator := ValidatorFunc(func(ctx context.Context, sql string) error { return nil })
	simple := &Simple{LLM: llm, Validator: validator, CursorIdentifier: "/*CUR*/"}

	result, err := simple.Run(context.Background(), "SELECT 1", NewRuleSet(), NewTranscript(20, 32*1024), 3)

	require.NoError(t, err)
	assert.Equal(t, "SELECT 1", result.SQL)
	assert.Empty(t, result.Rules)
}

func TestSimpleRunAppliesValidatedRule(t *testing.T) {
	llm := newScriptedLLM(t, "```json\n[{\"old\": \"bar\", \"new\": \"foo\"}]\n```")
	validator := ValidatorFunc(func(ctx context.Context, sql string) error {
		if sql == "SELECT foo FROM t" {
			return nil
		}
		return errors.New("column bar does not exist")
	})
	simple := &Simple{LLM: llm, Validator: validator, CursorIdentifier: "/*CUR*/"}

	result, err := simple.Run(context.Background(), "SELECT bar FROM t", NewRuleSet(), NewTranscript(20, 32*1024), 3)

	require.NoError(t, err)
	assert.Equal(t, "SELECT foo FROM t", result.SQL)
	require.Len(t, result.Rules, 1)
	assert.Equal(t, Rule{Old: "bar", New: "foo"}, result.Rules[0])
}

func TestSimpleRunReturnsFirstErrorWhenRetriesExhausted(t *testing.T) {
	rule := "```json\n[{\"old\": \"bad\", \"new\": \"good\"}]\n```"
	llm := newScriptedLLM(t, rule, rule)
	validator := ValidatorFunc(func(ctx context.Context, sql string) error {
		return errors.New("syntax error")
	})
	simple := &Simple{LLM: llm, Validator: validator, CursorIdentifier: "/*CUR*/"}

	_, err := simple.Run(context.Background(), "SELECT bad FROM t", NewRuleSet(), NewTranscript(20, 32*1024), 2)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error")
}

func TestMiddleRunStripsMarkerPrefix(t *testing.T) {
	llm := newScriptedLLM(t, "middle: a, b, c")
	middle := &Middle{LLM: llm}

	out, err := middle.Run(context.Background(), "SELECT ", " FROM t")

	require.NoError(t, err)
	assert.Equal(t, "a, b, c", out)
}

func TestDriverFallsBackToComplexWhenSimpleFails(t *testing.T) {
	llm := newScriptedLLM(t,
		"no fence",           // simple attempt 1
		"no fence",           // simple attempt 2
		"the column is misnamed", // explain
		"```sql\nSELECT foo FROM t /*CUR*/\n```", // complex rewrite
	)
	calls := 0
	validator := ValidatorFunc(func(ctx context.Context, sql string) error {
		calls++
		if sql == "SELECT foo FROM t /*CUR*/" {
			return nil
		}
		return errors.New("column bar does not exist")
	})
	driver := &Driver{
		Simple:  &Simple{LLM: llm, Validator: validator, CursorIdentifier: "/*CUR*/"},
		Complex: &Complex{LLM: llm, Validator: validator, CursorIdentifier: "/*CUR*/", MinRuleLength: 2},
	}

	result, err := driver.Run(context.Background(), "SELECT bar FROM t /*CUR*/", NewRuleSet(), NewTranscript(20, 32*1024), 2)

	require.NoError(t, err)
	assert.Equal(t, "SELECT foo FROM t /*CUR*/", result.SQL)
	assert.Positive(t, calls)
}

func TestTranscriptEvictsOldestPairOverByteBudget(t *testing.T) {
	tr := NewTranscript(20, 10)
	tr.SetSystem("sys")
	tr.Append(llmclient.Message{Role: "user", Content: "aaaaaaaaaa"})
	tr.Append(llmclient.Message{Role: "assistant", Content: "bbbbbbbbbb"})
	tr.Append(llmclient.Message{Role: "user", Content: "cc"})
	tr.Append(llmclient.Message{Role: "assistant", Content: "dd"})

	msgs := tr.Messages()
	for _, m := range msgs[1:] {
		assert.NotContains(t, []string{"aaaaaaaaaa", "bbbbbbbbbb"}, m.Content)
	}
}

func TestTranscriptEvictsOldestPairOverCountBudget(t *testing.T) {
	tr := NewTranscript(1, 1<<20)
	tr.SetSystem("sys")
	tr.Append(llmclient.Message{Role: "user", Content: "first"})
	tr.Append(llmclient.Message{Role: "assistant", Content: "first-reply"})
	tr.Append(llmclient.Message{Role: "user", Content: "second"})
	tr.Append(llmclient.Message{Role: "assistant", Content: "second-reply"})

	msgs := tr.Messages()
	assert.Len(t, msgs, 3) // system + one pair
	assert.Equal(t, "second", msgs[1].Content)
}

func TestDiffRulesProducesApplicableRules(t *testing.T) {
	a := "SELECT bar FROM t"
	b := "SELECT foo FROM t"

	rules := DiffRules(a, b, 2, "/*CUR*/")
	require.NotEmpty(t, rules)
	assert.Equal(t, b, Apply(a, rules))
}

func TestDiffRulesDropsRulesContainingCursorSentinel(t *testing.T) {
	a := "SELECT /*CUR*/bar FROM t"
	b := "SELECT /*CUR*/foo FROM t"

	rules := DiffRules(a, b, 1, "/*CUR*/")
	for _, r := range rules {
		assert.NotContains(t, r.Old, "/*CUR*/")
	}
}

func TestRuleSetClearRemovesAccumulatedRules(t *testing.T) {
	rs := NewRuleSet()
	rs.Add([]Rule{{Old: "a", New: "b"}})
	require.Len(t, rs.Rules(), 1)

	rs.Clear()
	assert.Empty(t, rs.Rules())
}
