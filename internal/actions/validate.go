package actions

import (
	"context"
	"fmt"

	"github.com/rloza/tramite/pkg/schema"
)

// ValidateExecutor implements the VALIDATE action: check one resolved target
// value against a single rule. A failed rule is a FAILURE outcome carrying a
// descriptive message, which the routing resolver may send down a failure
// route; with no failure route the run stalls in place.
type ValidateExecutor struct{}

// NewValidateExecutor creates the VALIDATE executor.
func NewValidateExecutor() *ValidateExecutor { return &ValidateExecutor{} }

func (e *ValidateExecutor) Name() schema.ActionType { return schema.ActionValidate }

func (e *ValidateExecutor) Validate(config map[string]any) error {
	if stringParam(config, "operator", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "VALIDATE: missing required param 'operator'")
	}
	return nil
}

func (e *ValidateExecutor) Execute(ctx context.Context, input Input) (*Result, error) {
	operator := stringParam(input.Config, "operator", "")
	if operator == "" {
		return failure("VALIDATE: missing required param 'operator'"), nil
	}

	target := input.Config["target"]
	value := input.Config["value"]

	passed, err := CompareValues(operator, target, value)
	if err != nil {
		return failure("VALIDATE: %s", err.Error()), nil
	}

	if !passed {
		msg := stringParam(input.Config, "message", "")
		if msg == "" {
			msg = fmt.Sprintf("VALIDATE: rule %v %s %v failed", target, operator, value)
		}
		return &Result{
			Success: false,
			Output:  map[string]any{"valid": false, "operator": operator},
			Error:   msg,
		}, nil
	}

	return success(map[string]any{"valid": true, "operator": operator}), nil
}

var _ Executor = (*ValidateExecutor)(nil)
