package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rloza/tramite/internal/actions"
	"github.com/rloza/tramite/internal/engine"
	"github.com/rloza/tramite/internal/expressions"
	"github.com/rloza/tramite/internal/scheduler"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/internal/streaming"
	"github.com/rloza/tramite/internal/validation"
	"github.com/rloza/tramite/pkg/schema"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
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

	srv := NewServer(Deps{
		Store:     st,
		Machine:   machine,
		Validator: validator,
		Hub:       streaming.NewMemoryHub(),
		Scheduler: scheduler.New(st, machine, nil),
	})
	return srv, st
}

func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decodeInto(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out))
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestCreateAndStartProcedure(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/procedures", map[string]any{
		"organization_id": "org-1",
		"name":            "Quote",
		"steps": []map[string]any{
			{"id": "calc", "action": "COMPUTE", "config": map[string]any{"formula": "2 * 21"}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID      string `json:"id"`
		Version int    `json:"version"`
	}
	decodeInto(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, 1, created.Version)

	rec = doJSON(t, srv, http.MethodPost, "/v1/runs", map[string]any{
		"procedure_id":    created.ID,
		"organization_id": "org-1",
		"started_by":      "user-1",
		"trigger_type":    schema.TriggerManual,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var started struct {
		RunID string `json:"run_id"`
	}
	decodeInto(t, rec, &started)

	rec = doJSON(t, srv, http.MethodGet, "/v1/runs/"+started.RunID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var run schema.Run
	decodeInto(t, rec, &run)
	assert.Equal(t, schema.RunStatusCompleted, run.Status)
}

func TestCreateProcedureValidationError(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/procedures", map[string]any{
		"organization_id": "org-1",
		"name":            "Broken",
		"steps": []map[string]any{
			{"id": "a", "action": "COMPUTE"},
			{"id": "a", "action": "COMPUTE"},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Code string `json:"code"`
	}
	decodeInto(t, rec, &body)
	assert.Equal(t, string(schema.ErrCodeValidation), body.Code)
}

func TestGetRunNotFound(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/v1/runs/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompleteStepWrongOrgIsForbidden(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.CreateProcedure(ctx, &schema.Procedure{
		ID: "proc-1", OrganizationID: "org-1", Name: "Review",
		Steps: []schema.Step{{ID: "review", Action: schema.ActionApproval}},
	}))
	require.NoError(t, st.CreateRun(ctx, &schema.Run{
		ID: "run-1", ProcedureID: "proc-1", OrganizationID: "org-1",
		Status: schema.RunStatusWaitingForUser, CurrentStepIndex: 0,
	}))

	rec := doJSON(t, srv, http.MethodPost, "/v1/runs/run-1/complete", map[string]any{
		"step_id":         "review",
		"organization_id": "org-other",
		"output":          map[string]any{"approved": true},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestInvalidJSONBody(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/procedures", bytes.NewBufferString("{nope"))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateTriggerRejectsBadCron(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doJSON(t, srv, http.MethodPost, "/v1/triggers", map[string]any{
		"procedure_id":    "proc-1",
		"cron_expression": "banana",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doJSON(t, srv, http.MethodPost, "/v1/triggers", map[string]any{
		"procedure_id":    "proc-1",
		"organization_id": "org-1",
		"cron_expression": "*/5 * * * *",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created struct {
		ID        string `json:"id"`
		NextRunAt string `json:"next_run_at"`
	}
	decodeInto(t, rec, &created)
	assert.NotEmpty(t, created.ID)
	assert.NotEmpty(t, created.NextRunAt)
}

func TestListRecords(t *testing.T) {
	srv, st := newTestServer(t)
	ctx := context.Background()

	require.NoError(t, st.CreateCollection(ctx, &store.Collection{
		ID: "col-1", OrganizationID: "org-1", Name: "invoices",
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, st.InsertRecord(ctx, &store.Record{
			ID: fmt.Sprintf("rec-%d", i), OrganizationID: "org-1", CollectionID: "col-1",
			Fields: map[string]any{"n": i},
		}))
	}

	rec := doJSON(t, srv, http.MethodGet, "/v1/collections/col-1/records?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Records []store.Record `json:"records"`
	}
	decodeInto(t, rec, &body)
	assert.Len(t, body.Records, 2)
}
