package expressions

import "context"

// Engine evaluates expressions against a run's context.
// Three implementations: CEL (route and gateway conditions), Expr (COMPUTE
// formulas), GoJQ (output selectors).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
