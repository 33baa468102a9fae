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

// stubExecutor returns canned results keyed by step ID.
type stubExecutor struct {
	action  schema.ActionType
	results map[string]*actions.Result
	calls   []string
}

func (s *stubExecutor) Name() schema.ActionType          { return s.action }
func (s *stubExecutor) Validate(map[string]any) error    { return nil }
func (s *stubExecutor) Execute(_ context.Context, input actions.Input) (*actions.Result, error) {
	s.calls = append(s.calls, input.Step.ID)
	if r, ok := s.results[input.Step.ID]; ok {
		return r, nil
	}
	return &actions.Result{Success: true, Output: map[string]any{"step": input.Step.ID}}, nil
}

func newTestMachine(t *testing.T, stubs ...*stubExecutor) (*Machine, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	registry := actions.NewRegistry()
	for _, s := range stubs {
		require.NoError(t, registry.Register(s))
	}
	m := NewMachine(Config{
		Store:    st,
		Registry: registry,
		Router:   NewRouter(nil),
	})
	return m, st
}

func seedProcedure(t *testing.T, st *store.MemoryStore, proc *schema.Procedure) {
	t.Helper()
	require.NoError(t, st.CreateProcedure(context.Background(), proc))
}

func TestStartRunPausesAtHumanFirstStep(t *testing.T) {
	m, st := newTestMachine(t)
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", OrganizationID: "org-1", Name: "intake",
		Steps: []schema.Step{
			{ID: "upload", Title: "Upload invoice", Action: schema.ActionInput},
			{ID: "done", Action: schema.ActionApproval},
		},
	})

	run, result, err := m.StartRun(context.Background(), StartRequest{
		ProcedureID: "p1", OrganizationID: "org-1", StartedBy: "user-7",
	})
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.True(t, result.RequiresUserAction)
	assert.Equal(t, schema.RunStatusWaitingForUser, result.Status)
	assert.Equal(t, "upload", result.NextStepID)

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusWaitingForUser, stored.Status)
	assert.Equal(t, 0, stored.CurrentStepIndex)
	assert.Equal(t, "user-7", stored.CurrentAssigneeID)

	// A placeholder log entry exists without output or completion time.
	require.Len(t, stored.Logs, 1)
	assert.Equal(t, "upload", stored.Logs[0].StepID)
	assert.Empty(t, stored.Logs[0].Output)
	assert.Nil(t, stored.Logs[0].CompletedAt)

	// The pause created exactly one open task.
	task, err := st.FindOpenTask(context.Background(), run.ID, "upload")
	require.NoError(t, err)
	assert.Equal(t, "open", task.Status)
}

func TestCompleteStepUpdatesPlaceholderInPlace(t *testing.T) {
	m, st := newTestMachine(t)
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", OrganizationID: "org-1", Name: "intake",
		Steps: []schema.Step{
			{ID: "upload", Action: schema.ActionInput},
			{ID: "approve", Action: schema.ActionApproval},
		},
	})

	run, _, err := m.StartRun(context.Background(), StartRequest{
		ProcedureID: "p1", StartedBy: "user-7",
	})
	require.NoError(t, err)

	result, err := m.CompleteStep(context.Background(), CompletionRequest{
		RunID:  run.ID,
		StepID: "upload",
		Output: map[string]any{"fileId": "f-1"},
		UserID: "user-7",
	})
	require.NoError(t, err)
	assert.True(t, result.RequiresUserAction)
	assert.Equal(t, "approve", result.NextStepID)

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	// Placeholder was filled in place, plus the new pause placeholder.
	require.Len(t, stored.Logs, 2)
	assert.Equal(t, "upload", stored.Logs[0].StepID)
	assert.Equal(t, map[string]any{"fileId": "f-1"}, stored.Logs[0].Output)
	assert.Equal(t, schema.OutcomeSuccess, stored.Logs[0].Outcome)
	assert.NotNil(t, stored.Logs[0].CompletedAt)
	assert.Equal(t, "approve", stored.Logs[1].StepID)

	// The upload task is closed.
	_, err = st.FindOpenTask(context.Background(), run.ID, "upload")
	assert.True(t, store.NotFound(err))
}

func TestAutoBurstRunsToCompletion(t *testing.T) {
	stub := &stubExecutor{action: schema.ActionHTTPCall, results: map[string]*actions.Result{}}
	m, st := newTestMachine(t, stub)
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", OrganizationID: "org-1", Name: "pipeline",
		Steps: []schema.Step{
			{ID: "one", Action: schema.ActionHTTPCall},
			{ID: "two", Action: schema.ActionHTTPCall},
			{ID: "three", Action: schema.ActionHTTPCall},
		},
	})

	run, result, err := m.StartRun(context.Background(), StartRequest{ProcedureID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	assert.Equal(t, []string{"one", "two", "three"}, stub.calls)

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsTerminal())
	assert.NotNil(t, stored.CompletedAt)
	require.Len(t, stored.Logs, 3)
	for _, log := range stored.Logs {
		assert.Equal(t, "system", log.ExecutedBy)
		assert.Equal(t, schema.ModeAuto, log.ExecutionType)
	}
}

func TestAutoBurstPausesAtHumanStep(t *testing.T) {
	stub := &stubExecutor{action: schema.ActionCompute}
	m, st := newTestMachine(t, stub)
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", Name: "mixed",
		Steps: []schema.Step{
			{ID: "calc", Action: schema.ActionCompute},
			{ID: "review", Action: schema.ActionApproval},
			{ID: "send", Action: schema.ActionCompute},
		},
	})

	run, result, err := m.StartRun(context.Background(), StartRequest{ProcedureID: "p1", StartedBy: "u1"})
	require.NoError(t, err)
	assert.True(t, result.RequiresUserAction)
	assert.Equal(t, "review", result.NextStepID)
	assert.Equal(t, []string{"calc"}, stub.calls)

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusWaitingForUser, stored.Status)
	assert.Equal(t, 1, stored.CurrentStepIndex)
}

func TestFailedStepWithoutFailureRouteStalls(t *testing.T) {
	stub := &stubExecutor{
		action: schema.ActionValidate,
		results: map[string]*actions.Result{
			"check": {Success: false, Error: "VALIDATE: rule failed"},
		},
	}
	m, st := newTestMachine(t, stub)
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", Name: "single-check",
		Steps: []schema.Step{{ID: "check", Action: schema.ActionValidate}},
	})

	run, result, err := m.StartRun(context.Background(), StartRequest{ProcedureID: "p1"})
	require.NoError(t, err)
	assert.False(t, result.RequiresUserAction)
	assert.NotEqual(t, schema.RunStatusCompleted, result.Status)

	// The run must NOT complete: it stalls at the failed step.
	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsTerminal())
	assert.Equal(t, 0, stored.CurrentStepIndex)
	require.Len(t, stored.Logs, 1)
	assert.Equal(t, schema.OutcomeFailure, stored.Logs[0].Outcome)
	assert.Contains(t, stored.Logs[0].Error, "VALIDATE")
}

func TestFailedStepTakesFailureRoute(t *testing.T) {
	stub := &stubExecutor{
		action: schema.ActionValidate,
		results: map[string]*actions.Result{
			"check": {Success: false, Error: "mismatch"},
		},
	}
	m, st := newTestMachine(t, stub)
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", Name: "check-with-fallback",
		Steps: []schema.Step{
			{ID: "check", Action: schema.ActionValidate,
				Routes: &schema.Routes{OnFailureStepID: "manual"}},
			{ID: "manual", Action: schema.ActionManualTask},
		},
	})

	run, result, err := m.StartRun(context.Background(), StartRequest{ProcedureID: "p1", StartedBy: "u1"})
	require.NoError(t, err)
	assert.True(t, result.RequiresUserAction)
	assert.Equal(t, "manual", result.NextStepID)

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusWaitingForUser, stored.Status)
	assert.Equal(t, 1, stored.CurrentStepIndex)
}

func TestGatewaySelectionDrivesRouting(t *testing.T) {
	stub := &stubExecutor{
		action: schema.ActionGateway,
		results: map[string]*actions.Result{
			"gw": {Success: true, NextStepID: "high",
				Output: map[string]any{"selectedStepId": "high"}},
		},
	}
	m, st := newTestMachine(t, stub)
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", Name: "branching",
		Steps: []schema.Step{
			{ID: "gw", Action: schema.ActionGateway},
			{ID: "low", Action: schema.ActionManualTask},
			{ID: "high", Action: schema.ActionApproval},
		},
	})

	_, result, err := m.StartRun(context.Background(), StartRequest{ProcedureID: "p1", StartedBy: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "high", result.NextStepID)
}

func TestCompleteStepOnCompletedRunConflicts(t *testing.T) {
	m, st := newTestMachine(t)
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", Name: "one-step",
		Steps: []schema.Step{{ID: "only", Action: schema.ActionInput}},
	})

	run, _, err := m.StartRun(context.Background(), StartRequest{ProcedureID: "p1", StartedBy: "u1"})
	require.NoError(t, err)

	result, err := m.CompleteStep(context.Background(), CompletionRequest{
		RunID: run.ID, StepID: "only", Output: map[string]any{"ok": true},
	})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, result.Status)

	_, err = m.CompleteStep(context.Background(), CompletionRequest{
		RunID: run.ID, StepID: "only",
	})
	require.Error(t, err)
	ee, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeConflict, ee.Code)
}

func TestCompleteStepOrganizationMismatchForbidden(t *testing.T) {
	m, st := newTestMachine(t)
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", OrganizationID: "org-1", Name: "scoped",
		Steps: []schema.Step{{ID: "a", Action: schema.ActionInput}},
	})

	run, _, err := m.StartRun(context.Background(), StartRequest{ProcedureID: "p1", OrganizationID: "org-1"})
	require.NoError(t, err)

	_, err = m.CompleteStep(context.Background(), CompletionRequest{
		RunID: run.ID, StepID: "a", OrganizationID: "org-other",
	})
	require.Error(t, err)
	ee, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeForbidden, ee.Code)
}

func TestAutoCycleExceedsBurstCap(t *testing.T) {
	stub := &stubExecutor{action: schema.ActionCompute}
	m, st := newTestMachine(t, stub)
	// Two AUTO steps routing to each other. Ingestion validation rejects this
	// shape; the burst cap is the engine's backstop when it slips through.
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", Name: "cycle",
		Steps: []schema.Step{
			{ID: "a", Action: schema.ActionCompute, Routes: &schema.Routes{OnSuccessStepID: "b"}},
			{ID: "b", Action: schema.ActionCompute, Routes: &schema.Routes{OnSuccessStepID: "a"}},
		},
	})

	_, _, err := m.StartRun(context.Background(), StartRequest{ProcedureID: "p1"})
	require.Error(t, err)
	ee, ok := err.(*schema.EngineError)
	require.True(t, ok)
	assert.Equal(t, schema.ErrCodeRouting, ee.Code)
	assert.Contains(t, ee.Message, "cycle")
}

func TestUnregisteredActionFailsStep(t *testing.T) {
	m, st := newTestMachine(t) // empty registry
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", Name: "no-exec",
		Steps: []schema.Step{{ID: "call", Action: schema.ActionHTTPCall}},
	})

	run, _, err := m.StartRun(context.Background(), StartRequest{ProcedureID: "p1"})
	require.NoError(t, err)

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsTerminal())
	require.Len(t, stored.Logs, 1)
	assert.Equal(t, schema.OutcomeFailure, stored.Logs[0].Outcome)
	assert.Contains(t, stored.Logs[0].Error, "no executor registered")
}

func TestTeamQueueAssignment(t *testing.T) {
	m, st := newTestMachine(t)
	st.AddStaff(&store.StaffMember{ID: "staff-1", OrganizationID: "org-1", TeamID: "finance"})
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", OrganizationID: "org-1", Name: "queue",
		Steps: []schema.Step{
			{ID: "review", Action: schema.ActionApproval,
				Assignment: &schema.Assignment{Type: schema.AssignTeamQueue, AssigneeID: "finance"}},
		},
	})

	run, _, err := m.StartRun(context.Background(), StartRequest{
		ProcedureID: "p1", OrganizationID: "org-1", StartedBy: "u1",
	})
	require.NoError(t, err)

	stored, err := st.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, "staff-1", stored.CurrentAssigneeID)
	assert.Equal(t, schema.AssignTeamQueue, stored.AssigneeType)
}

func TestCompleteStepIsIdempotentOnTask(t *testing.T) {
	m, st := newTestMachine(t)
	seedProcedure(t, st, &schema.Procedure{
		ID: "p1", Name: "loop-back",
		Steps: []schema.Step{
			{ID: "fill", Action: schema.ActionInput,
				Routes: &schema.Routes{
					Conditions: []schema.RouteCondition{
						{Variable: "{{step_1.output.redo}}", Operator: schema.OpEquals, Value: "yes", NextStepID: "fill"},
					},
					DefaultNextStepID: schema.TerminalStepID,
				}},
		},
	})

	run, _, err := m.StartRun(context.Background(), StartRequest{ProcedureID: "p1", StartedBy: "u1"})
	require.NoError(t, err)

	// Completing with redo=yes loops back to the same human step: the old
	// task is closed and a fresh one opened, never two at once.
	result, err := m.CompleteStep(context.Background(), CompletionRequest{
		RunID: run.ID, StepID: "fill", Output: map[string]any{"redo": "yes"},
	})
	require.NoError(t, err)
	assert.True(t, result.RequiresUserAction)

	task, err := st.FindOpenTask(context.Background(), run.ID, "fill")
	require.NoError(t, err)
	assert.Equal(t, "open", task.Status)
}
