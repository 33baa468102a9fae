package schema

import "time"

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusInProgress     RunStatus = "IN_PROGRESS"
	RunStatusWaitingForUser RunStatus = "WAITING_FOR_USER"
	RunStatusCompleted      RunStatus = "COMPLETED"
	RunStatusFlagged        RunStatus = "FLAGGED"
)

// Outcome is the result classification of a single step execution.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFailure Outcome = "FAILURE"
	OutcomeFlagged Outcome = "FLAGGED"
)

// TriggerType identifies what started a run.
type TriggerType string

const (
	TriggerManual    TriggerType = "MANUAL"
	TriggerFileEvent TriggerType = "FILE_EVENT"
	TriggerWebhook   TriggerType = "WEBHOOK"
	TriggerSchedule  TriggerType = "SCHEDULE"
	TriggerProcess   TriggerType = "PROCESS_CHAIN"
)

// Run is one execution instance of a procedure.
// The run document is the single source of truth for execution progress and
// must be re-read from the store before every mutation.
type Run struct {
	ID                string         `json:"id"`
	ProcedureID       string         `json:"procedure_id"`
	OrganizationID    string         `json:"organization_id"`
	Status            RunStatus      `json:"status"`
	CurrentStepIndex  int            `json:"current_step_index"`
	Logs              []StepLog      `json:"logs"`
	TriggerType       TriggerType    `json:"trigger_type,omitempty"`
	TriggerContext    map[string]any `json:"trigger_context,omitempty"`
	InitialInput      map[string]any `json:"initial_input,omitempty"`
	CurrentAssigneeID string         `json:"current_assignee_id,omitempty"`
	AssigneeType      AssignmentType `json:"assignee_type,omitempty"`
	StartedBy         string         `json:"started_by,omitempty"`
	ProcessRunID      string         `json:"process_run_id,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
	CompletedAt       *time.Time     `json:"completed_at,omitempty"`
}

// StepLog records one step execution within a run.
// Output is always the FLAT result map of the step; the variable resolver
// wraps it as {output: ...} at the read boundary. Logs grow append-only,
// except that a human step's placeholder entry is updated in place when the
// paused step resumes with real output.
type StepLog struct {
	StepID        string         `json:"step_id"`
	StepTitle     string         `json:"step_title,omitempty"`
	Action        ActionType     `json:"action"`
	Output        map[string]any `json:"output,omitempty"`
	Outcome       Outcome        `json:"outcome"`
	Error         string         `json:"error,omitempty"`
	ExecutedBy    string         `json:"executed_by,omitempty"`
	ExecutionType ExecutionMode  `json:"execution_type"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the run can no longer progress.
func (r *Run) IsTerminal() bool {
	return r.Status == RunStatusCompleted
}

// LogIndexForStep returns the index of the log entry to use for stepID,
// preferring an entry with non-empty output over an empty placeholder.
// Returns -1 when no entry exists.
func (r *Run) LogIndexForStep(stepID string) int {
	found := -1
	for i := range r.Logs {
		if r.Logs[i].StepID != stepID {
			continue
		}
		if len(r.Logs[i].Output) > 0 {
			return i
		}
		if found == -1 {
			found = i
		}
	}
	return found
}

// ValidRunTransitions defines the allowed run status transitions.
var ValidRunTransitions = map[RunStatus][]RunStatus{
	RunStatusInProgress:     {RunStatusInProgress, RunStatusWaitingForUser, RunStatusCompleted, RunStatusFlagged},
	RunStatusWaitingForUser: {RunStatusInProgress, RunStatusWaitingForUser, RunStatusCompleted, RunStatusFlagged},
	RunStatusFlagged:        {RunStatusInProgress, RunStatusWaitingForUser, RunStatusCompleted},
	RunStatusCompleted:      {},
}

// CanTransition reports whether a run may move from one status to another.
func CanTransition(from, to RunStatus) bool {
	for _, a := range ValidRunTransitions[from] {
		if a == to {
			return true
		}
	}
	return false
}
