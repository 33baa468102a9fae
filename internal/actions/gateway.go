package actions

import (
	"context"

	"github.com/rloza/tramite/internal/expressions"
	"github.com/rloza/tramite/pkg/schema"
)

// GatewayExecutor implements the GATEWAY action: evaluate an ordered branch
// table and select the next step. Each branch is either a
// variable/operator/value triple (already resolved by the variable resolver)
// or a CEL expression over the run context. The first matching branch wins;
// with no match the configured defaultNextStepId is used, and with no default
// either, the step fails so the run does not advance blindly.
type GatewayExecutor struct {
	cel *expressions.CELEngine
}

// NewGatewayExecutor creates the GATEWAY executor. cel may be nil when only
// operator branches are used.
func NewGatewayExecutor(cel *expressions.CELEngine) *GatewayExecutor {
	return &GatewayExecutor{cel: cel}
}

func (e *GatewayExecutor) Name() schema.ActionType { return schema.ActionGateway }

func (e *GatewayExecutor) Validate(config map[string]any) error {
	if len(sliceParam(config, "branches")) == 0 && stringParam(config, "defaultNextStepId", "") == "" {
		return schema.NewError(schema.ErrCodeValidation,
			"GATEWAY: at least one branch or a defaultNextStepId is required")
	}
	return nil
}

func (e *GatewayExecutor) Execute(ctx context.Context, input Input) (*Result, error) {
	branches := sliceParam(input.Config, "branches")

	for i, raw := range branches {
		branch, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		target := stringParam(branch, "nextStepId", "")
		if target == "" {
			return failure("GATEWAY: branch %d has no nextStepId", i), nil
		}

		matched, err := e.evalBranch(ctx, branch, input)
		if err != nil {
			return failure("GATEWAY: branch %d: %s", i, err.Error()), nil
		}
		if matched {
			return &Result{
				Success:    true,
				NextStepID: target,
				Output: map[string]any{
					"selectedStepId": target,
					"matchedBranch":  i,
				},
			}, nil
		}
	}

	if def := stringParam(input.Config, "defaultNextStepId", ""); def != "" {
		return &Result{
			Success:    true,
			NextStepID: def,
			Output:     map[string]any{"selectedStepId": def, "matchedBranch": -1},
		}, nil
	}

	return failure("GATEWAY: no branch matched and no defaultNextStepId is configured"), nil
}

func (e *GatewayExecutor) evalBranch(ctx context.Context, branch map[string]any, input Input) (bool, error) {
	if expr := stringParam(branch, "expression", ""); expr != "" {
		if e.cel == nil {
			return false, schema.NewError(schema.ErrCodeNotImplemented, "expression branches are not enabled")
		}
		return e.cel.EvaluateBool(ctx, expr, map[string]any{
			"steps":   input.Resolver.StepOutputs(),
			"trigger": input.Run.TriggerContext,
			"input":   input.Run.InitialInput,
			"run": map[string]any{
				"run_id": input.Run.ID,
				"org_id": input.Run.OrganizationID,
			},
		})
	}

	operator := stringParam(branch, "operator", "")
	if operator == "" {
		return false, schema.NewError(schema.ErrCodeValidation, "branch has neither expression nor operator")
	}
	return CompareValues(operator, branch["variable"], branch["value"])
}

var _ Executor = (*GatewayExecutor)(nil)
