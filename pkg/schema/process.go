package schema

import "time"

// ProcessStatus is the lifecycle state of a multi-procedure chain.
type ProcessStatus string

const (
	ProcessStatusInProgress ProcessStatus = "IN_PROGRESS"
	ProcessStatusCompleted  ProcessStatus = "COMPLETED"
	ProcessStatusFlagged    ProcessStatus = "FLAGGED"
)

// ProcessGroup defines an ordered chain of procedures forming one longer
// business process. Each stage is identified by a unique instance ID so the
// same procedure can appear more than once.
type ProcessGroup struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	Name           string         `json:"name"`
	Stages         []ProcessStage `json:"stages"`
	CreatedAt      time.Time      `json:"created_at"`
}

// ProcessStage is one procedure slot within a process group.
type ProcessStage struct {
	InstanceID  string `json:"instance_id"`
	ProcedureID string `json:"procedure_id"`
	Title       string `json:"title,omitempty"`
}

// ProcessRun tracks one execution of a process group.
// ContextData accumulates each completed stage's output; it never replaces
// prior stages' entries.
type ProcessRun struct {
	ID                    string         `json:"id"`
	ProcessGroupID        string         `json:"process_group_id"`
	OrganizationID        string         `json:"organization_id"`
	CurrentStepInstanceID string         `json:"current_step_instance_id"`
	ContextData           map[string]any `json:"context_data,omitempty"`
	StepHistory           []StageHistory `json:"step_history,omitempty"`
	Status                ProcessStatus  `json:"status"`
	StartedBy             string         `json:"started_by,omitempty"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
	CompletedAt           *time.Time     `json:"completed_at,omitempty"`
}

// StageHistory records the run spawned for one stage of a process run.
type StageHistory struct {
	InstanceID  string     `json:"instance_id"`
	ProcedureID string     `json:"procedure_id"`
	RunID       string     `json:"run_id,omitempty"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// StageByInstance returns the stage with the given instance ID and its
// position, or nil/-1.
func (g *ProcessGroup) StageByInstance(instanceID string) (*ProcessStage, int) {
	for i := range g.Stages {
		if g.Stages[i].InstanceID == instanceID {
			return &g.Stages[i], i
		}
	}
	return nil, -1
}
