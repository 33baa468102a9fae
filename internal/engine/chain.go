package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rloza/tramite/pkg/schema"
)

// StartProcessRun begins executing a process group: a ProcessRun is created
// at the first stage and that stage's procedure is started with the chain's
// initial input.
func (m *Machine) StartProcessRun(ctx context.Context, groupID, orgID, startedBy string, input map[string]any) (*schema.ProcessRun, error) {
	group, err := m.store.GetProcessGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if orgID != "" && group.OrganizationID != orgID {
		return nil, schema.NewErrorf(schema.ErrCodeForbidden,
			"process group %s belongs to another organization", group.ID)
	}
	if len(group.Stages) == 0 {
		return nil, schema.NewErrorf(schema.ErrCodeValidation, "process group %s has no stages", group.ID)
	}

	first := group.Stages[0]
	now := time.Now().UTC()
	pr := &schema.ProcessRun{
		ID:                    newID(),
		ProcessGroupID:        group.ID,
		OrganizationID:        group.OrganizationID,
		CurrentStepInstanceID: first.InstanceID,
		ContextData:           input,
		Status:                schema.ProcessStatusInProgress,
		StartedBy:             startedBy,
		StepHistory: []schema.StageHistory{{
			InstanceID:  first.InstanceID,
			ProcedureID: first.ProcedureID,
			Status:      string(schema.RunStatusInProgress),
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.CreateProcessRun(ctx, pr); err != nil {
		return nil, err
	}

	run, _, err := m.StartRun(ctx, StartRequest{
		ProcedureID:    first.ProcedureID,
		OrganizationID: group.OrganizationID,
		StartedBy:      startedBy,
		TriggerType:    schema.TriggerProcess,
		InitialInput:   input,
		ProcessRunID:   pr.ID,
	})
	if err != nil {
		return pr, err
	}
	return m.recordStageRun(ctx, pr.ID, first.InstanceID, run.ID)
}

// continueProcessChain advances the parent chain after one of its stage runs
// completes: the run's final output is merged into the chain's accumulated
// context under both a positional key and the stage's title, the history
// entry is closed, and the next stage's procedure is started. With no stages
// left the chain itself completes.
func (m *Machine) continueProcessChain(ctx context.Context, run *schema.Run, proc *schema.Procedure) error {
	pr, err := m.store.GetProcessRun(ctx, run.ProcessRunID)
	if err != nil {
		return err
	}
	group, err := m.store.GetProcessGroup(ctx, pr.ProcessGroupID)
	if err != nil {
		return err
	}
	stage, stageIdx := group.StageByInstance(pr.CurrentStepInstanceID)
	if stage == nil {
		return schema.NewErrorf(schema.ErrCodeRouting,
			"process run %s points at unknown stage instance %s", pr.ID, pr.CurrentStepInstanceID)
	}

	// Accumulate, never replace: prior stages' entries stay in place.
	final := finalOutput(run)
	if pr.ContextData == nil {
		pr.ContextData = make(map[string]any)
	}
	pr.ContextData[fmt.Sprintf("step_%d_output", stageIdx+1)] = final
	titleKey := stage.Title
	if titleKey == "" {
		titleKey = proc.Name
	}
	if titleKey != "" {
		pr.ContextData[titleKey] = final
	}

	now := time.Now().UTC()
	for i := range pr.StepHistory {
		h := &pr.StepHistory[i]
		if h.InstanceID == stage.InstanceID && h.CompletedAt == nil {
			h.Status = string(schema.RunStatusCompleted)
			h.CompletedAt = &now
			if h.RunID == "" {
				h.RunID = run.ID
			}
		}
	}

	if stageIdx+1 >= len(group.Stages) {
		pr.Status = schema.ProcessStatusCompleted
		pr.CompletedAt = &now
		if err := m.store.UpdateProcessRun(ctx, pr); err != nil {
			return err
		}
		m.Emit(schema.EventProcessDone, run, "", map[string]any{"process_run_id": pr.ID})
		m.logger.InfoContext(ctx, "process run completed", "process_run_id", pr.ID)
		return nil
	}

	next := group.Stages[stageIdx+1]
	pr.CurrentStepInstanceID = next.InstanceID
	pr.StepHistory = append(pr.StepHistory, schema.StageHistory{
		InstanceID:  next.InstanceID,
		ProcedureID: next.ProcedureID,
		Status:      string(schema.RunStatusInProgress),
	})
	// The parent must point at the next stage before the child starts: an
	// all-AUTO child can complete synchronously and re-enter this method.
	if err := m.store.UpdateProcessRun(ctx, pr); err != nil {
		return err
	}
	m.Emit(schema.EventProcessAdvance, run, "", map[string]any{
		"process_run_id": pr.ID,
		"next_instance":  next.InstanceID,
	})

	childRun, _, err := m.StartRun(ctx, StartRequest{
		ProcedureID:    next.ProcedureID,
		OrganizationID: pr.OrganizationID,
		StartedBy:      pr.StartedBy,
		TriggerType:    schema.TriggerProcess,
		InitialInput:   pr.ContextData,
		ProcessRunID:   pr.ID,
	})
	if err != nil {
		return err
	}
	_, err = m.recordStageRun(ctx, pr.ID, next.InstanceID, childRun.ID)
	return err
}

// recordStageRun re-reads the process run and fills in the run ID of the
// stage's open history entry.
func (m *Machine) recordStageRun(ctx context.Context, processRunID, instanceID, runID string) (*schema.ProcessRun, error) {
	pr, err := m.store.GetProcessRun(ctx, processRunID)
	if err != nil {
		return nil, err
	}
	for i := range pr.StepHistory {
		h := &pr.StepHistory[i]
		if h.InstanceID == instanceID && h.RunID == "" {
			h.RunID = runID
		}
	}
	if err := m.store.UpdateProcessRun(ctx, pr); err != nil {
		return nil, err
	}
	return pr, nil
}

// finalOutput returns the completed run's last non-empty log output.
func finalOutput(run *schema.Run) map[string]any {
	for i := len(run.Logs) - 1; i >= 0; i-- {
		if len(run.Logs[i].Output) > 0 {
			return run.Logs[i].Output
		}
	}
	return map[string]any{}
}
