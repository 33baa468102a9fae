package actions

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/rloza/tramite/pkg/schema"
)

// CompareExecutor implements the COMPARE action: evaluate one operator
// against two resolved values. The boolean result feeds the routing resolver
// as SUCCESS (matched) or FAILURE (not matched).
type CompareExecutor struct{}

// NewCompareExecutor creates the COMPARE executor.
func NewCompareExecutor() *CompareExecutor { return &CompareExecutor{} }

func (e *CompareExecutor) Name() schema.ActionType { return schema.ActionCompare }

func (e *CompareExecutor) Validate(config map[string]any) error {
	if stringParam(config, "operator", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "COMPARE: missing required param 'operator'")
	}
	return nil
}

func (e *CompareExecutor) Execute(ctx context.Context, input Input) (*Result, error) {
	operator := stringParam(input.Config, "operator", "")
	if operator == "" {
		return failure("COMPARE: missing required param 'operator'"), nil
	}

	left := input.Config["left"]
	right := input.Config["right"]

	matched, err := CompareValues(operator, left, right)
	if err != nil {
		return failure("COMPARE: %s", err.Error()), nil
	}

	output := map[string]any{
		"matched":  matched,
		"operator": operator,
	}
	if !matched {
		return &Result{
			Success: false,
			Output:  output,
			Error:   fmt.Sprintf("COMPARE: %v %s %v is false", left, operator, right),
		}, nil
	}
	return success(output), nil
}

// CompareValues evaluates one comparison operator against two values. Shared
// by COMPARE, VALIDATE, gateway branches, and route conditions. Numeric
// comparisons coerce both sides through float64; EQUALS falls back to deep
// equality, then to string comparison.
func CompareValues(operator string, left, right any) (bool, error) {
	switch operator {
	case schema.OpEquals:
		return valuesEqual(left, right), nil
	case schema.OpNotEquals:
		return !valuesEqual(left, right), nil
	case schema.OpGreaterThan:
		l, r, err := numericPair(left, right)
		if err != nil {
			return false, err
		}
		return l > r, nil
	case schema.OpLessThan:
		l, r, err := numericPair(left, right)
		if err != nil {
			return false, err
		}
		return l < r, nil
	case schema.OpContains:
		return strings.Contains(
			strings.ToLower(fmt.Sprintf("%v", left)),
			strings.ToLower(fmt.Sprintf("%v", right)),
		), nil
	case schema.OpIsEmpty:
		return isEmptyValue(left), nil
	case schema.OpIsNotEmpty:
		return !isEmptyValue(left), nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation, "unknown operator %q", operator)
	}
}

func valuesEqual(left, right any) bool {
	if reflect.DeepEqual(left, right) {
		return true
	}
	if l, r, err := numericPair(left, right); err == nil {
		return l == r
	}
	return fmt.Sprintf("%v", left) == fmt.Sprintf("%v", right)
}

func numericPair(left, right any) (float64, float64, error) {
	l, err := toFloat(left)
	if err != nil {
		return 0, 0, err
	}
	r, err := toFloat(right)
	if err != nil {
		return 0, 0, err
	}
	return l, r, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, schema.NewErrorf(schema.ErrCodeValidation, "value %q is not numeric", n)
		}
		return f, nil
	default:
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "value %v (%T) is not numeric", v, v)
	}
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case map[string]any:
		return len(val) == 0
	case []any:
		return len(val) == 0
	default:
		return false
	}
}

var _ Executor = (*CompareExecutor)(nil)
