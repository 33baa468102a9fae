package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rloza/tramite/internal/actions"
	"github.com/rloza/tramite/internal/engine"
	"github.com/rloza/tramite/internal/expressions"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/internal/validation"
	"github.com/rloza/tramite/pkg/schema"
)

func newTestServer(t *testing.T) (*TramiteServer, *store.MemoryStore) {
	t.Helper()

	st := store.NewMemoryStore()
	registry := actions.NewRegistry()
	require.NoError(t, registry.Register(actions.NewComputeExecutor(expressions.NewExprEngine())))

	machine := engine.NewMachine(engine.Config{
		Store:    st,
		Registry: registry,
		Router:   engine.NewRouter(nil),
	})
	validator, err := validation.NewProcedureValidator()
	require.NoError(t, err)

	s := NewTramiteServer(TramiteServerDeps{
		Machine:   machine,
		Store:     st,
		Validator: validator,
	})
	return s, st
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func TestDefineTool(t *testing.T) {
	s, st := newTestServer(t)

	req := buildRequest("tramite.define", map[string]any{
		"organization_id": "org-1",
		"procedure": map[string]any{
			"name": "Quote",
			"steps": []any{
				map[string]any{"id": "calc", "action": "COMPUTE",
					"config": map[string]any{"formula": "2 * 21"}},
			},
		},
	})
	result, err := s.handleDefine(context.Background(), req)
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var body struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, 1, body.Version)

	stored, err := st.GetProcedure(context.Background(), body.ID)
	require.NoError(t, err)
	assert.Equal(t, "org-1", stored.OrganizationID)
}

func TestDefineToolRejectsInvalidProcedure(t *testing.T) {
	s, _ := newTestServer(t)

	req := buildRequest("tramite.define", map[string]any{
		"organization_id": "org-1",
		"procedure": map[string]any{
			"name":  "Broken",
			"steps": []any{},
		},
	})
	result, err := s.handleDefine(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestStartAndStatusTools(t *testing.T) {
	s, st := newTestServer(t)

	require.NoError(t, st.CreateProcedure(context.Background(), &schema.Procedure{
		ID: "proc-1", OrganizationID: "org-1", Name: "Quote",
		Steps: []schema.Step{{ID: "calc", Action: schema.ActionCompute,
			Config: map[string]any{"formula": "2 * 21"}}},
	}))

	result, err := s.handleStart(context.Background(), buildRequest("tramite.start", map[string]any{
		"procedure_id": "proc-1",
		"started_by":   "agent-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &started))
	require.NotEmpty(t, started.RunID)

	result, err = s.handleStatus(context.Background(), buildRequest("tramite.status", map[string]any{
		"run_id": started.RunID,
	}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	var run schema.Run
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &run))
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
}

func TestCompleteTool(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.CreateProcedure(ctx, &schema.Procedure{
		ID: "proc-1", OrganizationID: "org-1", Name: "Review",
		Steps: []schema.Step{{ID: "review", Action: schema.ActionApproval}},
	}))

	startResult, err := s.handleStart(ctx, buildRequest("tramite.start", map[string]any{
		"procedure_id": "proc-1",
	}))
	require.NoError(t, err)
	var started struct {
		RunID string `json:"run_id"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, startResult)), &started))

	result, err := s.handleComplete(ctx, buildRequest("tramite.complete", map[string]any{
		"run_id":  started.RunID,
		"step_id": "review",
		"output":  map[string]any{"approved": true},
		"user_id": "agent-1",
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	run, err := st.GetRun(ctx, started.RunID)
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
}

func TestCompleteToolRequiresStepID(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleComplete(context.Background(), buildRequest("tramite.complete", map[string]any{
		"run_id": "run-1",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryTool(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.CreateProcedure(ctx, &schema.Procedure{
		ID: "proc-1", OrganizationID: "org-1", Name: "Quote",
		Steps: []schema.Step{{ID: "calc", Action: schema.ActionCompute}},
	}))
	require.NoError(t, st.CreateRun(ctx, &schema.Run{
		ID: "run-1", ProcedureID: "proc-1", OrganizationID: "org-1",
		Status: schema.RunStatusCompleted,
	}))

	result, err := s.handleQuery(ctx, buildRequest("tramite.query", map[string]any{
		"resource": "runs",
		"filter":   map[string]any{"organization_id": "org-1", "status": "COMPLETED"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, resultText(t, result))

	var body struct {
		Runs []schema.Run `json:"runs"`
	}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &body))
	require.Len(t, body.Runs, 1)
	assert.Equal(t, "run-1", body.Runs[0].ID)

	result, err = s.handleQuery(ctx, buildRequest("tramite.query", map[string]any{
		"resource": "gadgets",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestQueryEventsRequiresRunID(t *testing.T) {
	s, _ := newTestServer(t)

	result, err := s.handleQuery(context.Background(), buildRequest("tramite.query", map[string]any{
		"resource": "events",
		"filter":   map[string]any{},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
