package debug

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/speql/pkg/llmclient"
)

// Complex runs the two-phase explain-then-rewrite debug loop (spec.md
// §4.8): ask the LLM to explain why sql fails, then ask for a full
// rewrite, EXPLAIN-validate it, and on acceptance derive minimal
// replacement rules to seed Simple's RuleSet so future similar edits
// don't need another full rewrite round-trip.
type Complex struct {
	LLM              *llmclient.Client
	Validator        Validator
	CursorIdentifier string
	MinRuleLength    int
}

// Run attempts up to maxRetry explain+rewrite rounds. errorInfo is the
// error Simple returned (its first EXPLAIN failure), used as the seed for
// the first explain call.
func (c *Complex) Run(ctx context.Context, sql, errorInfo string, ruleSet *RuleSet, transcript *Transcript, maxRetry int) (Result, error) {
	explainMessages := []llmclient.Message{
		{Role: "system", Content: "You explain why a SQL statement fails to run and what must change to fix it."},
	}
	debugMessages := []llmclient.Message{
		{Role: "system", Content: "You rewrite a SQL statement to fix the error described, keeping its intent."},
		{Role: "user", Content: sql},
	}

	rewrite := sql
	var lastErr error

	for attempt := 0; attempt < maxRetry; attempt++ {
		next, err := c.innerRound(ctx, rewrite, errorInfo, &explainMessages, &debugMessages, attempt, maxRetry)
		if err != nil {
			lastErr = err
			errorInfo = err.Error()
			continue
		}
		rewrite = next

		if err := c.Validator.Explain(ctx, rewrite); err != nil {
			errorInfo = err.Error()
			lastErr = err
			continue
		}

		rules := DiffRules(sql, rewrite, c.effectiveMinRuleLength(), c.CursorIdentifier)
		ruleSet.Set(rules)
		transcript.Append(llmclient.Message{Role: "assistant", Content: "```json" + renderRulesJSON(rules) + "```"})
		return Result{SQL: rewrite, Rules: rules}, nil
	}

	return Result{}, lastErr
}

func (c *Complex) effectiveMinRuleLength() int {
	if c.MinRuleLength <= 0 {
		return 5
	}
	return c.MinRuleLength
}

// innerRound runs one explain-then-rewrite exchange, retrying the rewrite
// call on its own (up to maxRetry times) when the LLM's response doesn't
// contain a well-formed ```sql fence with exactly one cursor sentinel.
func (c *Complex) innerRound(ctx context.Context, sql, errorInfo string, explainMessages, debugMessages *[]llmclient.Message, iterator, maxRetry int) (string, error) {
	*explainMessages = append(*explainMessages, llmclient.Message{Role: "user", Content: sql + "\n" + errorInfo})

	explainResp, err := c.LLM.Complete(ctx, llmclient.Request{
		Task:      llmclient.TaskExplain,
		Iterator:  iterator,
		Messages:  *explainMessages,
		MaxTokens: 256,
	})
	if err != nil {
		return "", err
	}

	*debugMessages = append(*debugMessages, llmclient.Message{Role: "user", Content: explainResp.Content})
	scratch := append([]llmclient.Message(nil), *debugMessages...)

	for i := 0; i < maxRetry; i++ {
		resp, err := c.LLM.Complete(ctx, llmclient.Request{
			Task:     llmclient.TaskComplex,
			Iterator: iterator,
			Messages: scratch,
			Predict:  true,
		})
		if err != nil {
			return "", err
		}

		rewrite, ok := extractFenced(resp.Content, "```sql", "```")
		if !ok {
			scratch = append(scratch, llmclient.Message{Role: "user", Content: "Please output the correct SQL query starting with ```sql."})
			continue
		}

		if strings.Count(rewrite, c.CursorIdentifier) != 1 {
			scratch = append(scratch, llmclient.Message{Role: "user", Content: fmt.Sprintf("Please make sure the cursor identifier %s is in the appropriate position.", c.CursorIdentifier)})
			continue
		}

		*debugMessages = append(*debugMessages, llmclient.Message{Role: "assistant", Content: "```sql" + rewrite + "```"})
		return rewrite, nil
	}

	return "", fmt.Errorf("complex rewrite exhausted retries without a valid ```sql fence")
}
