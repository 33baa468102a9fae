package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rloza/tramite/internal/actions"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/pkg/schema"
)

func seedChain(t *testing.T, st *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, st.CreateProcedure(ctx, &schema.Procedure{
		ID: "proc-quote", OrganizationID: "org-1", Name: "Quote",
		Steps: []schema.Step{{ID: "amount", Action: schema.ActionCompute,
			Config: map[string]any{"formula": "1"}}},
	}))
	require.NoError(t, st.CreateProcedure(ctx, &schema.Procedure{
		ID: "proc-invoice", OrganizationID: "org-1", Name: "Invoice",
		Steps: []schema.Step{{ID: "review", Action: schema.ActionApproval}},
	}))
	require.NoError(t, st.CreateProcessGroup(ctx, &schema.ProcessGroup{
		ID: "group-1", OrganizationID: "org-1", Name: "Sales",
		Stages: []schema.ProcessStage{
			{InstanceID: "stage-1", ProcedureID: "proc-quote", Title: "Quoting"},
			{InstanceID: "stage-2", ProcedureID: "proc-invoice", Title: "Invoicing"},
		},
	}))
}

func chainStub(total float64) *stubExecutor {
	return &stubExecutor{
		action: schema.ActionCompute,
		results: map[string]*actions.Result{
			"amount": {Success: true, Output: map[string]any{"total": total}},
		},
	}
}

func TestProcessChainAdvancesOnStageCompletion(t *testing.T) {
	m, st := newTestMachine(t, chainStub(99.0))
	seedChain(t, st)

	pr, err := m.StartProcessRun(context.Background(), "group-1", "org-1", "user-1", map[string]any{"lead": "acme"})
	require.NoError(t, err)

	// Stage one is all-AUTO: it completes synchronously and the chain
	// advances to stage two, whose procedure pauses at a human step.
	stored, err := st.GetProcessRun(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, "stage-2", stored.CurrentStepInstanceID)
	assert.Equal(t, schema.ProcessStatusInProgress, stored.Status)

	// Stage one's output accumulated under both keys.
	assert.Equal(t, map[string]any{"total": 99.0}, stored.ContextData["step_1_output"])
	assert.Equal(t, map[string]any{"total": 99.0}, stored.ContextData["Quoting"])
	assert.Equal(t, "acme", stored.ContextData["lead"])

	require.Len(t, stored.StepHistory, 2)
	assert.Equal(t, string(schema.RunStatusCompleted), stored.StepHistory[0].Status)
	assert.NotEmpty(t, stored.StepHistory[0].RunID)
	assert.Equal(t, string(schema.RunStatusInProgress), stored.StepHistory[1].Status)
	assert.NotEmpty(t, stored.StepHistory[1].RunID)
}

func TestProcessChainCompletesAtLastStage(t *testing.T) {
	m, st := newTestMachine(t, chainStub(99.0))
	seedChain(t, st)

	pr, err := m.StartProcessRun(context.Background(), "group-1", "org-1", "user-1", nil)
	require.NoError(t, err)

	// Finish the second stage's human step.
	stored, err := st.GetProcessRun(context.Background(), pr.ID)
	require.NoError(t, err)
	stageRunID := stored.StepHistory[1].RunID
	require.NotEmpty(t, stageRunID)

	_, err = m.CompleteStep(context.Background(), CompletionRequest{
		RunID: stageRunID, StepID: "review", Output: map[string]any{"approved": true},
	})
	require.NoError(t, err)

	final, err := st.GetProcessRun(context.Background(), pr.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.ProcessStatusCompleted, final.Status)
	assert.NotNil(t, final.CompletedAt)
	assert.Equal(t, map[string]any{"approved": true}, final.ContextData["Invoicing"])
}

func TestStartProcessRunRejectsWrongOrganization(t *testing.T) {
	m, st := newTestMachine(t)
	seedChain(t, st)

	_, err := m.StartProcessRun(context.Background(), "group-1", "org-other", "user-1", nil)
	require.Error(t, err)
	ee, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeForbidden, ee.Code)
}

func TestStageInputCarriesAccumulatedContext(t *testing.T) {
	m, st := newTestMachine(t, chainStub(42.0))
	seedChain(t, st)

	pr, err := m.StartProcessRun(context.Background(), "group-1", "org-1", "user-1", map[string]any{"lead": "acme"})
	require.NoError(t, err)

	stored, err := st.GetProcessRun(context.Background(), pr.ID)
	require.NoError(t, err)
	stageRun, err := st.GetRun(context.Background(), stored.StepHistory[1].RunID)
	require.NoError(t, err)

	// The second stage's run starts with the chain's accumulated context.
	assert.Equal(t, "acme", stageRun.InitialInput["lead"])
	assert.Equal(t, map[string]any{"total": 42.0}, stageRun.InitialInput["step_1_output"])
	assert.Equal(t, schema.TriggerProcess, stageRun.TriggerType)
}
