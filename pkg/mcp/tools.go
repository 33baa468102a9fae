package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rloza/tramite/internal/engine"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/pkg/schema"
)

// handleDefine validates and stores a procedure definition.
func (s *TramiteServer) handleDefine(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	orgID, err := req.RequireString("organization_id")
	if err != nil {
		return mcp.NewToolResultError("organization_id is required"), nil
	}
	raw := mcp.ParseStringMap(req, "procedure", nil)
	if raw == nil {
		return mcp.NewToolResultError("procedure is required"), nil
	}

	// Round-trip through JSON to get a typed Procedure.
	data, marshalErr := json.Marshal(raw)
	if marshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid procedure: %v", marshalErr)), nil
	}
	var proc schema.Procedure
	if unmarshalErr := json.Unmarshal(data, &proc); unmarshalErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid procedure: %v", unmarshalErr)), nil
	}
	proc.OrganizationID = orgID

	if valErr := s.validator.Validate(&proc); valErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("procedure rejected: %v", valErr)), nil
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

	if storeErr := s.store.CreateProcedure(ctx, &proc); storeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to store procedure: %v", storeErr)), nil
	}

	return marshalResult(map[string]any{"id": proc.ID, "version": proc.Version})
}

// handleStart starts a run and reports where it landed.
func (s *TramiteServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	procedureID, err := req.RequireString("procedure_id")
	if err != nil {
		return mcp.NewToolResultError("procedure_id is required"), nil
	}

	run, result, startErr := s.machine.StartRun(ctx, engine.StartRequest{
		ProcedureID:    procedureID,
		OrganizationID: req.GetString("organization_id", ""),
		StartedBy:      req.GetString("started_by", ""),
		TriggerType:    schema.TriggerManual,
		TriggerContext: mcp.ParseStringMap(req, "trigger_context", nil),
		InitialInput:   mcp.ParseStringMap(req, "input", nil),
	})
	if startErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed to start: %v", startErr)), nil
	}

	return marshalResult(map[string]any{"run_id": run.ID, "result": result})
}

// handleComplete records a step result and advances the run.
func (s *TramiteServer) handleComplete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	stepID, err := req.RequireString("step_id")
	if err != nil {
		return mcp.NewToolResultError("step_id is required"), nil
	}

	result, completeErr := s.machine.CompleteStep(ctx, engine.CompletionRequest{
		RunID:   runID,
		StepID:  stepID,
		Output:  mcp.ParseStringMap(req, "output", nil),
		Outcome: schema.Outcome(req.GetString("outcome", "")),
		UserID:  req.GetString("user_id", ""),
	})
	if completeErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("completion failed: %v", completeErr)), nil
	}

	return marshalResult(result)
}

// handleStatus returns the run document.
func (s *TramiteServer) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	runID, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}

	run, getErr := s.store.GetRun(ctx, runID)
	if getErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("status query failed: %v", getErr)), nil
	}

	return marshalResult(run)
}

// handleQuery lists procedures, runs, or usage events based on filters.
func (s *TramiteServer) handleQuery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	resource, err := req.RequireString("resource")
	if err != nil {
		return mcp.NewToolResultError("resource is required"), nil
	}

	filter := mcp.ParseStringMap(req, "filter", nil)

	switch resource {
	case "procedures":
		orgID, _ := filter["organization_id"].(string)
		procs, listErr := s.store.ListProcedures(ctx, orgID)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"procedures": procs})

	case "runs":
		rf := store.RunFilter{Limit: extractInt(filter, "limit", 50)}
		if orgID, ok := filter["organization_id"].(string); ok {
			rf.OrganizationID = orgID
		}
		if procID, ok := filter["procedure_id"].(string); ok {
			rf.ProcedureID = procID
		}
		if status, ok := filter["status"].(string); ok && status != "" {
			rs := schema.RunStatus(status)
			rf.Status = &rs
		}
		runs, listErr := s.store.ListRuns(ctx, rf)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"runs": runs})

	case "events":
		runID, _ := filter["run_id"].(string)
		if runID == "" {
			return mcp.NewToolResultError("event query requires 'run_id' in filter"), nil
		}
		events, listErr := s.store.ListEvents(ctx, runID)
		if listErr != nil {
			return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", listErr)), nil
		}
		return marshalResult(map[string]any{"events": events})

	default:
		return mcp.NewToolResultError(fmt.Sprintf("unknown resource type: %s", resource)), nil
	}
}

// extractInt safely extracts an integer from a filter map.
func extractInt(filter map[string]any, key string, defaultVal int) int {
	if filter == nil {
		return defaultVal
	}
	v, ok := filter[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

// marshalResult converts a value to a JSON text tool result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
