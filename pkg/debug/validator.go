package debug

import "context"

// ValidatorFunc adapts a plain function to the Validator interface.
type ValidatorFunc func(ctx context.Context, sql string) error

// Explain implements Validator.
func (f ValidatorFunc) Explain(ctx context.Context, sql string) error {
	return f(ctx, sql)
}
