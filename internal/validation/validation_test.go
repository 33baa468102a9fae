package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rloza/tramite/pkg/schema"
)

func newValidator(t *testing.T) *ProcedureValidator {
	t.Helper()
	v, err := NewProcedureValidator()
	require.NoError(t, err)
	return v
}

func validProcedure() *schema.Procedure {
	return &schema.Procedure{
		ID:             "proc-1",
		OrganizationID: "org-1",
		Name:           "Invoice intake",
		Version:        1,
		Steps: []schema.Step{
			{ID: "upload", Action: schema.ActionInput},
			{ID: "parse", Action: schema.ActionAIParse, OutputVariable: "invoice",
				Config: map[string]any{"fileSourceStepId": "upload"}},
			{ID: "review", Action: schema.ActionApproval,
				Routes: &schema.Routes{OnFailureStepID: "upload"}},
		},
	}
}

func assertValidationCode(t *testing.T, err error) *schema.EngineError {
	t.Helper()
	require.Error(t, err)
	var ee *schema.EngineError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, schema.ErrCodeValidation, ee.Code)
	return ee
}

func TestValidateAcceptsWellFormedProcedure(t *testing.T) {
	v := newValidator(t)
	require.NoError(t, v.Validate(validProcedure()))
}

func TestValidateRejectsMissingName(t *testing.T) {
	v := newValidator(t)
	p := validProcedure()
	p.Name = ""
	assertValidationCode(t, v.Validate(p))
}

func TestValidateRejectsEmptySteps(t *testing.T) {
	v := newValidator(t)
	p := validProcedure()
	p.Steps = nil
	assertValidationCode(t, v.Validate(p))
}

func TestValidateRejectsUnknownAction(t *testing.T) {
	v := newValidator(t)
	p := validProcedure()
	p.Steps[1].Action = "TELEPORT"
	assertValidationCode(t, v.Validate(p))
}

func TestValidateRejectsDuplicateStepIDs(t *testing.T) {
	v := newValidator(t)
	p := validProcedure()
	p.Steps[2].ID = "upload"
	err := v.Validate(p)
	ee := assertValidationCode(t, err)
	assert.Contains(t, ee.Message, `duplicate step id "upload"`)
}

func TestValidateRejectsUnknownRouteTarget(t *testing.T) {
	v := newValidator(t)
	p := validProcedure()
	p.Steps[2].Routes = &schema.Routes{OnSuccessStepID: "ghost"}
	ee := assertValidationCode(t, v.Validate(p))
	assert.Contains(t, ee.Message, `unknown step "ghost"`)
}

func TestValidateRejectsUnknownGatewayBranchTarget(t *testing.T) {
	v := newValidator(t)
	p := validProcedure()
	p.Steps = append(p.Steps, schema.Step{
		ID: "route", Action: schema.ActionGateway,
		Config: map[string]any{
			"branches": []any{
				map[string]any{"operator": schema.OpEquals, "variable": "a", "value": "a", "nextStepId": "nowhere"},
			},
		},
	})
	ee := assertValidationCode(t, v.Validate(p))
	assert.Contains(t, ee.Message, `unknown step "nowhere"`)
}

func TestValidateAllowsTerminalSentinelTarget(t *testing.T) {
	v := newValidator(t)
	p := validProcedure()
	p.Steps[2].Routes = &schema.Routes{OnSuccessStepID: schema.TerminalStepID}
	require.NoError(t, v.Validate(p))
}

func TestValidateRejectsAutomatedRoutingCycle(t *testing.T) {
	v := newValidator(t)
	p := &schema.Procedure{
		ID: "proc-loop", OrganizationID: "org-1", Name: "Loop",
		Steps: []schema.Step{
			{ID: "a", Action: schema.ActionCompute,
				Config: map[string]any{"formula": "1"},
				Routes: &schema.Routes{OnSuccessStepID: "b"}},
			{ID: "b", Action: schema.ActionCompute,
				Config: map[string]any{"formula": "2"},
				Routes: &schema.Routes{OnSuccessStepID: "a"}},
		},
	}
	ee := assertValidationCode(t, v.Validate(p))
	assert.Contains(t, ee.Message, "automated routing cycle")
}

func TestValidateAllowsCycleThroughHumanStep(t *testing.T) {
	v := newValidator(t)
	p := &schema.Procedure{
		ID: "proc-rework", OrganizationID: "org-1", Name: "Rework loop",
		Steps: []schema.Step{
			{ID: "draft", Action: schema.ActionInput},
			{ID: "check", Action: schema.ActionValidate,
				Config: map[string]any{"target": "x", "operator": schema.OpIsNotEmpty},
				Routes: &schema.Routes{OnFailureStepID: "draft", OnSuccessStepID: schema.TerminalStepID}},
		},
	}
	require.NoError(t, v.Validate(p))
}
