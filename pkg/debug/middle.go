package debug

import (
	"context"
	"strings"

	"github.com/codeready-toolchain/speql/pkg/llmclient"
)

// Middle speculates the SQL text spanning the cursor, given the prefix and
// suffix already known, feeding rewrite.Enrich's extra-column projection
// (spec.md §4.8, §4.3).
type Middle struct {
	LLM *llmclient.Client
}

// Run asks the LLM for one completion of the gap between prefix and
// suffix. The reference implementation's response is prefixed with
// "middle: "; this strips that prefix if present.
func (m *Middle) Run(ctx context.Context, prefix, suffix string) (string, error) {
	messages := []llmclient.Message{
		{Role: "system", Content: "You predict the missing middle of a SQL statement given its prefix and suffix."},
		{Role: "user", Content: "prefix: " + prefix + "\nsuffix: " + suffix},
	}

	resp, err := m.LLM.Complete(ctx, llmclient.Request{
		Task:     llmclient.TaskMiddle,
		Messages: messages,
	})
	if err != nil {
		return "", err
	}

	const marker = "middle: "
	if idx := strings.Index(resp.Content, marker); idx >= 0 {
		return resp.Content[idx+len(marker):], nil
	}
	return resp.Content, nil
}
