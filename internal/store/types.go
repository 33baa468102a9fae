package store

import (
	"time"

	"github.com/rloza/tramite/pkg/schema"
)

// Task is a pending work item created when a run pauses at a human step.
// At most one open task exists per run+step pair.
type Task struct {
	ID             string                `json:"id"`
	OrganizationID string                `json:"organization_id"`
	RunID          string                `json:"run_id"`
	StepID         string                `json:"step_id"`
	Title          string                `json:"title"`
	AssigneeID     string                `json:"assignee_id,omitempty"`
	AssigneeType   schema.AssignmentType `json:"assignee_type,omitempty"`
	Status         string                `json:"status"` // open, done, cancelled
	CreatedAt      time.Time             `json:"created_at"`
	CompletedAt    *time.Time            `json:"completed_at,omitempty"`
}

// Notification is a message surfaced to a user; schema owned by the
// surrounding product, the engine only creates them.
type Notification struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	RecipientID    string    `json:"recipient_id"`
	Kind           string    `json:"kind"` // task_assigned, alert
	Message        string    `json:"message"`
	RunID          string    `json:"run_id,omitempty"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

// Collection is a user-defined record table within an organization.
type Collection struct {
	ID             string      `json:"id"`
	OrganizationID string      `json:"organization_id"`
	Name           string      `json:"name"`
	Fields         []string    `json:"fields,omitempty"`
	AlertRules     []AlertRule `json:"alert_rules,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
}

// AlertRule triggers a notification when an inserted record matches.
type AlertRule struct {
	Field       string `json:"field"`
	Operator    string `json:"operator"`
	Value       any    `json:"value"`
	Message     string `json:"message"`
	RecipientID string `json:"recipient_id,omitempty"`
}

// Record is one document inserted into a collection.
type Record struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	CollectionID   string         `json:"collection_id"`
	Fields         map[string]any `json:"fields"`
	CreatedBy      string         `json:"created_by,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// StaffMember is a user within an organization, used for assignee resolution.
type StaffMember struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Email          string    `json:"email,omitempty"`
	TeamID         string    `json:"team_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// UsageEvent is an append-only usage/audit entry. Writes are best-effort:
// failures are logged and swallowed, never propagated.
type UsageEvent struct {
	ID             int64          `json:"id"`
	OrganizationID string         `json:"organization_id"`
	RunID          string         `json:"run_id,omitempty"`
	StepID         string         `json:"step_id,omitempty"`
	Type           string         `json:"event_type"`
	Payload        map[string]any `json:"payload,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// ScheduledTrigger starts a procedure on a cron schedule.
type ScheduledTrigger struct {
	ID             string         `json:"id"`
	OrganizationID string         `json:"organization_id"`
	ProcedureID    string         `json:"procedure_id"`
	CronExpression string         `json:"cron_expression"`
	Input          map[string]any `json:"input,omitempty"`
	Enabled        bool           `json:"enabled"`
	LastRunAt      *time.Time     `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time     `json:"next_run_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	OrganizationID string            `json:"organization_id,omitempty"`
	ProcedureID    string            `json:"procedure_id,omitempty"`
	Status         *schema.RunStatus `json:"status,omitempty"`
	Limit          int               `json:"limit,omitempty"`
}
