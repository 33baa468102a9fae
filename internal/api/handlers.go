package api

import (
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rloza/tramite/internal/engine"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/pkg/schema"
)

// handleCreateProcedure validates and stores a new procedure definition.
func (s *Server) handleCreateProcedure(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var proc schema.Procedure
	if !decodeBody(w, r, &proc) {
		return
	}
	if err := s.deps.Validator.Validate(&proc); err != nil {
		writeEngineError(w, err)
		return
	}

	now := time.Now().UTC()
	if proc.ID == "" {
		proc.ID = uuid.NewString()
	}
	if proc.Version == 0 {
		proc.Version = 1
	}
	proc.CreatedAt = now
	proc.UpdatedAt = now

	if err := s.deps.Store.CreateProcedure(ctx, &proc); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": proc.ID, "version": proc.Version})
}

func (s *Server) handleListProcedures(w http.ResponseWriter, r *http.Request) {
	procs, err := s.deps.Store.ListProcedures(r.Context(), r.URL.Query().Get("organization_id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"procedures": procs})
}

func (s *Server) handleGetProcedure(w http.ResponseWriter, r *http.Request) {
	proc, err := s.deps.Store.GetProcedure(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proc)
}

// handleStartRun starts a run and reports where it landed: an all-AUTO
// procedure may already be COMPLETED in the response.
func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var req engine.StartRequest
	if !decodeBody(w, r, &req) {
		return
	}

	run, result, err := s.deps.Machine.StartRun(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"run_id": run.ID, "result": result})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		OrganizationID: r.URL.Query().Get("organization_id"),
		ProcedureID:    r.URL.Query().Get("procedure_id"),
		Limit:          queryInt(r, "limit", 50),
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := schema.RunStatus(v)
		filter.Status = &status
	}

	runs, err := s.deps.Store.ListRuns(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// handleCompleteStep records a step's result and advances the run. Resuming a
// paused run is the same operation: the completion names the waiting step.
func (s *Server) handleCompleteStep(w http.ResponseWriter, r *http.Request) {
	var req engine.CompletionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	req.RunID = chi.URLParam(r, "id")

	result, err := s.deps.Machine.CompleteStep(r.Context(), req)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListRunEvents(w http.ResponseWriter, r *http.Request) {
	events, err := s.deps.Store.ListEvents(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleCreateProcessGroup(w http.ResponseWriter, r *http.Request) {
	var group schema.ProcessGroup
	if !decodeBody(w, r, &group) {
		return
	}
	if group.Name == "" || len(group.Stages) == 0 {
		writeError(w, http.StatusBadRequest, "name and stages are required")
		return
	}
	for i := range group.Stages {
		if group.Stages[i].InstanceID == "" {
			group.Stages[i].InstanceID = uuid.NewString()
		}
	}
	if group.ID == "" {
		group.ID = uuid.NewString()
	}
	group.CreatedAt = time.Now().UTC()

	if err := s.deps.Store.CreateProcessGroup(r.Context(), &group); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": group.ID})
}

func (s *Server) handleGetProcessGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.deps.Store.GetProcessGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (s *Server) handleStartProcessRun(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ProcessGroupID string         `json:"process_group_id"`
		OrganizationID string         `json:"organization_id"`
		StartedBy      string         `json:"started_by"`
		Input          map[string]any `json:"input"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ProcessGroupID == "" {
		writeError(w, http.StatusBadRequest, "process_group_id is required")
		return
	}

	pr, err := s.deps.Machine.StartProcessRun(r.Context(),
		body.ProcessGroupID, body.OrganizationID, body.StartedBy, body.Input)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pr)
}

func (s *Server) handleGetProcessRun(w http.ResponseWriter, r *http.Request) {
	pr, err := s.deps.Store.GetProcessRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pr)
}

func (s *Server) handleCreateCollection(w http.ResponseWriter, r *http.Request) {
	var collection store.Collection
	if !decodeBody(w, r, &collection) {
		return
	}
	if collection.Name == "" || collection.OrganizationID == "" {
		writeError(w, http.StatusBadRequest, "name and organization_id are required")
		return
	}
	if collection.ID == "" {
		collection.ID = uuid.NewString()
	}
	collection.CreatedAt = time.Now().UTC()

	if err := s.deps.Store.CreateCollection(r.Context(), &collection); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": collection.ID})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records, err := s.deps.Store.ListRecords(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", 100))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

// handleCreateTrigger registers a cron trigger. The first fire time is
// computed up front so a bad expression is rejected here, not at tick time.
func (s *Server) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var trigger store.ScheduledTrigger
	if !decodeBody(w, r, &trigger) {
		return
	}
	if trigger.ProcedureID == "" || trigger.CronExpression == "" {
		writeError(w, http.StatusBadRequest, "procedure_id and cron_expression are required")
		return
	}

	next, err := s.deps.Scheduler.NextRun(trigger.CronExpression, time.Now().UTC())
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if trigger.ID == "" {
		trigger.ID = uuid.NewString()
	}
	trigger.NextRunAt = &next
	trigger.CreatedAt = time.Now().UTC()

	if err := s.deps.Store.CreateScheduledTrigger(r.Context(), &trigger); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": trigger.ID, "next_run_at": next})
}
