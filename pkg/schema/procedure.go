package schema

import "time"

// ActionType identifies the kind of work a step performs.
type ActionType string

// Human-executed actions: the run pauses until a person supplies output.
const (
	ActionInput       ActionType = "INPUT"
	ActionApproval    ActionType = "APPROVAL"
	ActionManualTask  ActionType = "MANUAL_TASK"
	ActionNegotiation ActionType = "NEGOTIATION"
	ActionInspection  ActionType = "INSPECTION"
)

// Automated actions: executed unattended by an action executor.
const (
	ActionAIParse     ActionType = "AI_PARSE"
	ActionDBInsert    ActionType = "DB_INSERT"
	ActionGenerateDoc ActionType = "GENERATE_DOC"
	ActionSendEmail   ActionType = "SEND_EMAIL"
	ActionGoogleSheet ActionType = "GOOGLE_SHEET"
	ActionHTTPCall    ActionType = "HTTP_CALL"
	ActionCompute     ActionType = "COMPUTE"
	ActionCompare     ActionType = "COMPARE"
	ActionValidate    ActionType = "VALIDATE"
	ActionGateway     ActionType = "GATEWAY"
)

// ExecutionMode classifies who executes a step.
type ExecutionMode string

const (
	ModeHuman ExecutionMode = "HUMAN"
	ModeAuto  ExecutionMode = "AUTO"
)

// TerminalStepID is the routing sentinel that ends a run as COMPLETED
// regardless of linear position.
const TerminalStepID = "__END__"

// TriggerEventSource marks a file reference that should be taken from the
// run's trigger context rather than a prior step.
const TriggerEventSource = "TRIGGER_EVENT"

// AssignmentType selects how a human step's assignee is resolved.
type AssignmentType string

const (
	AssignStarter      AssignmentType = "STARTER"
	AssignSpecificUser AssignmentType = "SPECIFIC_USER"
	AssignTeamQueue    AssignmentType = "TEAM_QUEUE"
)

// Procedure is a reusable workflow definition: an ordered sequence of steps.
// Procedures are immutable during a run; edits create new versions upstream.
type Procedure struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Name           string    `json:"name"`
	Description    string    `json:"description,omitempty"`
	Version        int       `json:"version,omitempty"`
	Steps          []Step    `json:"steps"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Step is a single unit of work in a procedure.
// Config is loosely typed because it originates from a visual editor or an
// LLM-generated draft; executors validate their own fields at execution time.
type Step struct {
	ID             string         `json:"id"`
	Title          string         `json:"title"`
	Action         ActionType     `json:"action"`
	Config         map[string]any `json:"config,omitempty"`
	Routes         *Routes        `json:"routes,omitempty"`
	Assignment     *Assignment    `json:"assignment,omitempty"`
	OutputVariable string         `json:"output_variable,omitempty"`
}

// Routes declares where a run goes after this step.
// Priority: success/failure overrides first, then the condition table in
// declared order, then the default, then linear progression.
type Routes struct {
	OnSuccessStepID   string           `json:"on_success_step_id,omitempty"`
	OnFailureStepID   string           `json:"on_failure_step_id,omitempty"`
	DefaultNextStepID string           `json:"default_next_step_id,omitempty"`
	Conditions        []RouteCondition `json:"conditions,omitempty"`
}

// RouteCondition is one row of a conditional-branch table. Either the
// Variable/Operator/Value triple or a CEL Expression is evaluated; the first
// matching condition wins.
type RouteCondition struct {
	Variable   string `json:"variable,omitempty"`
	Operator   string `json:"operator,omitempty"`
	Value      any    `json:"value,omitempty"`
	Expression string `json:"expression,omitempty"`
	NextStepID string `json:"next_step_id"`
}

// Comparison operators shared by route conditions, VALIDATE rules, COMPARE
// steps and gateway branches.
const (
	OpEquals      = "EQUALS"
	OpNotEquals   = "NOT_EQUALS"
	OpGreaterThan = "GREATER_THAN"
	OpLessThan    = "LESS_THAN"
	OpContains    = "CONTAINS"
	OpIsEmpty     = "IS_EMPTY"
	OpIsNotEmpty  = "IS_NOT_EMPTY"
)

// Assignment selects the person responsible for a human step.
type Assignment struct {
	Type       AssignmentType `json:"type"`
	AssigneeID string         `json:"assignee_id,omitempty"`
}

// StepByID returns the step with the given ID and its index, or nil/-1.
func (p *Procedure) StepByID(id string) (*Step, int) {
	for i := range p.Steps {
		if p.Steps[i].ID == id {
			return &p.Steps[i], i
		}
	}
	return nil, -1
}
