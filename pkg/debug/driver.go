package debug

import "context"

// Driver runs Simple first and falls back to Complex on failure, matching
// spec.md §4.8: "It uses the LLM to generate debug rules ... If it passes,
// SpeQL will not send it to debug_complex." When both fail, the error
// Driver returns is Simple's first EXPLAIN failure (the "initial error
// info"), since that's the error the user's statement actually produced —
// Complex's own failures are about the LLM's rewrite attempts, not the
// user's SQL.
type Driver struct {
	Simple  *Simple
	Complex *Complex
}

// Run attempts to produce an EXPLAIN-valid statement from sql.
func (d *Driver) Run(ctx context.Context, sql string, ruleSet *RuleSet, transcript *Transcript, maxRetry int) (Result, error) {
	result, simpleErr := d.Simple.Run(ctx, sql, ruleSet, transcript, maxRetry)
	if simpleErr == nil {
		return result, nil
	}

	result, complexErr := d.Complex.Run(ctx, sql, simpleErr.Error(), ruleSet, transcript, maxRetry)
	if complexErr == nil {
		return result, nil
	}

	return Result{}, simpleErr
}
