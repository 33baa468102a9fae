package actions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rloza/tramite/internal/expressions"
	"github.com/rloza/tramite/internal/resolver"
	"github.com/rloza/tramite/pkg/schema"
)

func gatewayInput(config map[string]any, run *schema.Run) Input {
	if run == nil {
		run = &schema.Run{ID: "r1"}
	}
	return Input{
		Step:     &schema.Step{ID: "route", Action: schema.ActionGateway},
		Config:   config,
		Run:      run,
		Resolver: resolver.BuildContext(run.Logs, nil, run.TriggerContext, run.InitialInput),
	}
}

func TestGatewayFirstMatchingBranchWins(t *testing.T) {
	e := NewGatewayExecutor(nil)

	res, err := e.Execute(context.Background(), gatewayInput(map[string]any{
		"branches": []any{
			map[string]any{"variable": "500", "operator": schema.OpGreaterThan, "value": 1000, "nextStepId": "escalate"},
			map[string]any{"variable": "500", "operator": schema.OpGreaterThan, "value": 100, "nextStepId": "approve"},
			map[string]any{"variable": "500", "operator": schema.OpGreaterThan, "value": 0, "nextStepId": "archive"},
		},
	}, nil))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "approve", res.NextStepID)
	assert.Equal(t, 1, res.Output["matchedBranch"])
}

func TestGatewayFallsBackToDefault(t *testing.T) {
	e := NewGatewayExecutor(nil)

	res, err := e.Execute(context.Background(), gatewayInput(map[string]any{
		"branches": []any{
			map[string]any{"variable": "no", "operator": schema.OpEquals, "value": "yes", "nextStepId": "a"},
		},
		"defaultNextStepId": "fallback",
	}, nil))
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "fallback", res.NextStepID)
	assert.Equal(t, -1, res.Output["matchedBranch"])
}

func TestGatewayNoMatchNoDefaultFails(t *testing.T) {
	e := NewGatewayExecutor(nil)

	res, err := e.Execute(context.Background(), gatewayInput(map[string]any{
		"branches": []any{
			map[string]any{"variable": "no", "operator": schema.OpEquals, "value": "yes", "nextStepId": "a"},
		},
	}, nil))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no branch matched")
}

func TestGatewayExpressionBranch(t *testing.T) {
	cel, err := expressions.NewCELEngine()
	require.NoError(t, err)
	e := NewGatewayExecutor(cel)

	run := &schema.Run{
		ID: "r1",
		Logs: []schema.StepLog{
			{StepID: "payment", Output: map[string]any{"total": 1500.0}},
		},
	}
	steps := []schema.Step{{ID: "payment", OutputVariable: "payment"}}
	res, err := e.Execute(context.Background(), Input{
		Step: &schema.Step{ID: "route", Action: schema.ActionGateway},
		Config: map[string]any{
			"branches": []any{
				map[string]any{"expression": `double(steps.payment.total) > 1000.0`, "nextStepId": "manual_review"},
			},
			"defaultNextStepId": "auto_approve",
		},
		Run:      run,
		Resolver: resolver.BuildContext(run.Logs, steps, run.TriggerContext, run.InitialInput),
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "manual_review", res.NextStepID)
}

func TestGatewayBranchWithoutTargetFails(t *testing.T) {
	e := NewGatewayExecutor(nil)

	res, err := e.Execute(context.Background(), gatewayInput(map[string]any{
		"branches": []any{
			map[string]any{"variable": "a", "operator": schema.OpEquals, "value": "a"},
		},
	}, nil))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "no nextStepId")
}

func TestComputeFormulaOverStepOutputs(t *testing.T) {
	e := NewComputeExecutor(expressions.NewExprEngine())

	run := &schema.Run{
		ID: "r1",
		Logs: []schema.StepLog{
			{StepID: "items", Output: map[string]any{"subtotal": 200.0, "tax": 42.0}},
		},
		InitialInput: map[string]any{"discount": 10.0},
	}
	input := Input{
		Step:     &schema.Step{ID: "total", Action: schema.ActionCompute},
		Config:   map[string]any{"formula": "items.subtotal + items.tax - initialInput.discount", "outputField": "total"},
		Run:      run,
		Resolver: resolver.BuildContext(run.Logs, []schema.Step{{ID: "items", OutputVariable: "items"}}, nil, run.InitialInput),
	}
	res, err := e.Execute(context.Background(), input)
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 232.0, res.Output["total"])
}

func TestComputeDefaultOutputFieldAndBadFormula(t *testing.T) {
	e := NewComputeExecutor(expressions.NewExprEngine())

	res, err := e.Execute(context.Background(), Input{
		Step:     &schema.Step{ID: "calc", Action: schema.ActionCompute},
		Config:   map[string]any{"formula": "2 * 21"},
		Run:      &schema.Run{ID: "r1"},
		Resolver: resolver.BuildContext(nil, nil, nil, nil),
	})
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, 42, res.Output["result"])

	res, err = e.Execute(context.Background(), Input{
		Step:     &schema.Step{ID: "calc", Action: schema.ActionCompute},
		Config:   map[string]any{"formula": "nonexistent.field +"},
		Run:      &schema.Run{ID: "r1"},
		Resolver: resolver.BuildContext(nil, nil, nil, nil),
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "COMPUTE")
}
