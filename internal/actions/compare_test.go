package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rloza/tramite/pkg/schema"
)

func TestCompareValuesOperators(t *testing.T) {
	tests := []struct {
		name     string
		operator string
		left     any
		right    any
		want     bool
	}{
		{"equals strings", schema.OpEquals, "ok", "ok", true},
		{"equals numeric coercion", schema.OpEquals, "42", 42.0, true},
		{"equals mismatch", schema.OpEquals, "a", "b", false},
		{"not equals", schema.OpNotEquals, 1, 2, true},
		{"greater than", schema.OpGreaterThan, 10.5, 10, true},
		{"greater than string operand", schema.OpGreaterThan, "1500", 1000, true},
		{"less than", schema.OpLessThan, 3, 4, true},
		{"contains case-insensitive", schema.OpContains, "Hello World", "world", true},
		{"contains miss", schema.OpContains, "hello", "xyz", false},
		{"is empty nil", schema.OpIsEmpty, nil, nil, true},
		{"is empty blank string", schema.OpIsEmpty, "   ", nil, true},
		{"is empty map", schema.OpIsEmpty, map[string]any{}, nil, true},
		{"is not empty", schema.OpIsNotEmpty, "value", nil, true},
		{"zero is not empty", schema.OpIsEmpty, 0, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CompareValues(tt.operator, tt.left, tt.right)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompareValuesErrors(t *testing.T) {
	_, err := CompareValues("BOGUS", 1, 2)
	require.Error(t, err)

	_, err = CompareValues(schema.OpGreaterThan, "not-a-number", 5)
	require.Error(t, err)
}

func TestCompareExecutorOutcomes(t *testing.T) {
	e := NewCompareExecutor()

	res, err := e.Execute(context.Background(), Input{Config: map[string]any{
		"operator": schema.OpEquals, "left": "a", "right": "a",
	}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, true, res.Output["matched"])

	res, err = e.Execute(context.Background(), Input{Config: map[string]any{
		"operator": schema.OpEquals, "left": "a", "right": "b",
	}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, false, res.Output["matched"])
	assert.NotEmpty(t, res.Error)
}

func TestValidateExecutorFailureCarriesMessage(t *testing.T) {
	e := NewValidateExecutor()

	res, err := e.Execute(context.Background(), Input{Config: map[string]any{
		"target":   "",
		"operator": schema.OpIsNotEmpty,
		"message":  "Customer email is required",
	}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "Customer email is required", res.Error)
	assert.Equal(t, false, res.Output["valid"])

	res, err = e.Execute(context.Background(), Input{Config: map[string]any{
		"target":   "ana@example.com",
		"operator": schema.OpIsNotEmpty,
	}})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, true, res.Output["valid"])
}

func TestValidateExecutorDefaultMessage(t *testing.T) {
	e := NewValidateExecutor()

	res, err := e.Execute(context.Background(), Input{Config: map[string]any{
		"target":   5,
		"operator": schema.OpGreaterThan,
		"value":    10,
	}})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "VALIDATE")
}
