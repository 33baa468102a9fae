package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/pkg/schema"
)

func newID() string { return uuid.NewString() }

// pauseForHuman suspends the run at a human step: a placeholder log entry is
// appended when none exists, a pending task is created (idempotent per
// run+step), the assignee is notified, and the run is persisted as
// WAITING_FOR_USER. The resume is a later external completion call.
func (m *Machine) pauseForHuman(ctx context.Context, run *schema.Run, step *schema.Step, idx int) error {
	now := time.Now().UTC()

	if run.LogIndexForStep(step.ID) == -1 {
		run.Logs = append(run.Logs, schema.StepLog{
			StepID:        step.ID,
			StepTitle:     step.Title,
			Action:        step.Action,
			ExecutionType: schema.ModeHuman,
			StartedAt:     now,
		})
	}

	assigneeID, assigneeType, err := m.resolveAssignee(ctx, run, step)
	if err != nil {
		return err
	}

	// Idempotent: a resume racing a recursive continuation must not create a
	// second task for the same run+step.
	if _, err := m.store.FindOpenTask(ctx, run.ID, step.ID); err != nil {
		if !store.NotFound(err) {
			return err
		}
		task := &store.Task{
			ID:             newID(),
			OrganizationID: run.OrganizationID,
			RunID:          run.ID,
			StepID:         step.ID,
			Title:          step.Title,
			AssigneeID:     assigneeID,
			AssigneeType:   assigneeType,
			Status:         "open",
			CreatedAt:      now,
		}
		if err := m.store.CreateTask(ctx, task); err != nil {
			return err
		}
		m.Emit(schema.EventTaskCreated, run, step.ID, map[string]any{"task_id": task.ID})

		if assigneeID != "" {
			notification := &store.Notification{
				ID:             newID(),
				OrganizationID: run.OrganizationID,
				RecipientID:    assigneeID,
				Kind:           "task_assigned",
				Message:        fmt.Sprintf("Pending task: %s", step.Title),
				RunID:          run.ID,
				CreatedAt:      now,
			}
			if err := m.store.CreateNotification(ctx, notification); err != nil {
				m.logger.WarnContext(ctx, "creating notification failed",
					"run_id", run.ID, "step_id", step.ID, "error", err)
			}
		}
	}

	run.Status = schema.RunStatusWaitingForUser
	run.CurrentStepIndex = idx
	run.CurrentAssigneeID = assigneeID
	run.AssigneeType = assigneeType
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return err
	}

	m.Emit(schema.EventRunWaiting, run, step.ID, map[string]any{"assignee_id": assigneeID})
	m.logger.InfoContext(ctx, "run waiting for user",
		"run_id", run.ID, "step_id", step.ID, "assignee_id", assigneeID)
	return nil
}

// resolveAssignee applies the step's assignment rule. STARTER falls back to
// whoever started the run; TEAM_QUEUE picks any member of the named team and
// leaves the task unassigned when the team is empty.
func (m *Machine) resolveAssignee(ctx context.Context, run *schema.Run, step *schema.Step) (string, schema.AssignmentType, error) {
	assignment := step.Assignment
	if assignment == nil {
		return run.StartedBy, schema.AssignStarter, nil
	}

	switch assignment.Type {
	case schema.AssignStarter, "":
		return run.StartedBy, schema.AssignStarter, nil

	case schema.AssignSpecificUser:
		if assignment.AssigneeID == "" {
			return "", "", schema.NewError(schema.ErrCodeValidation,
				"SPECIFIC_USER assignment has no assignee_id").WithStep(step.ID)
		}
		return assignment.AssigneeID, schema.AssignSpecificUser, nil

	case schema.AssignTeamQueue:
		staff, err := m.store.ListStaff(ctx, run.OrganizationID)
		if err != nil {
			return "", "", err
		}
		for _, member := range staff {
			if member.TeamID == assignment.AssigneeID {
				return member.ID, schema.AssignTeamQueue, nil
			}
		}
		return "", schema.AssignTeamQueue, nil

	default:
		return "", "", schema.NewErrorf(schema.ErrCodeValidation,
			"unknown assignment type %q", assignment.Type).WithStep(step.ID)
	}
}
