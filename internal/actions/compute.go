package actions

import (
	"context"

	"github.com/rloza/tramite/internal/expressions"
	"github.com/rloza/tramite/pkg/schema"
)

// ComputeExecutor implements the COMPUTE action: evaluate a formula against
// the run context. Step references (step_N, declared output variables) are
// available as top-level identifiers in the formula, alongside trigger and
// initialInput.
type ComputeExecutor struct {
	engine *expressions.ExprEngine
}

// NewComputeExecutor creates the COMPUTE executor.
func NewComputeExecutor(engine *expressions.ExprEngine) *ComputeExecutor {
	return &ComputeExecutor{engine: engine}
}

func (e *ComputeExecutor) Name() schema.ActionType { return schema.ActionCompute }

func (e *ComputeExecutor) Validate(config map[string]any) error {
	if stringParam(config, "formula", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "COMPUTE: missing required param 'formula'")
	}
	return nil
}

func (e *ComputeExecutor) Execute(ctx context.Context, input Input) (*Result, error) {
	formula := stringParam(input.Config, "formula", "")
	if formula == "" {
		return failure("COMPUTE: missing required param 'formula'"), nil
	}

	env := formulaEnv(input)
	value, err := e.engine.Evaluate(ctx, formula, env)
	if err != nil {
		return failure("COMPUTE: %s", err.Error()), nil
	}

	outputField := stringParam(input.Config, "outputField", "result")
	return success(map[string]any{outputField: value}), nil
}

// formulaEnv flattens the run context into an expression environment.
func formulaEnv(input Input) map[string]any {
	env := input.Resolver.StepOutputs()
	if env == nil {
		env = map[string]any{}
	}
	if input.Run.TriggerContext != nil {
		env["trigger"] = input.Run.TriggerContext
	}
	if input.Run.InitialInput != nil {
		env["initialInput"] = input.Run.InitialInput
	}
	return env
}

var _ Executor = (*ComputeExecutor)(nil)
