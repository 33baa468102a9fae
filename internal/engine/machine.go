package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/rloza/tramite/internal/actions"
	"github.com/rloza/tramite/internal/logging"
	"github.com/rloza/tramite/internal/resolver"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/internal/streaming"
	"github.com/rloza/tramite/pkg/schema"
)

// Machine is the run orchestrator. Every completion request re-reads the run
// document from the store before mutating it, so interleaved completions for
// the same run merge into the log instead of overwriting each other.
type Machine struct {
	store    store.Store
	registry *actions.Registry
	router   *Router
	hub      streaming.EventHub
	logger   *slog.Logger
	tokens   map[string]string
}

// Config wires a Machine's collaborators.
type Config struct {
	Store    store.Store
	Registry *actions.Registry
	Router   *Router
	Hub      streaming.EventHub
	Logger   *slog.Logger
	// IntegrationTokens are the organization's third-party credentials
	// (e.g. google_access_token) handed read-only to executors.
	IntegrationTokens map[string]string
}

// NewMachine creates a run state machine.
func NewMachine(cfg Config) *Machine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := cfg.Hub
	if hub == nil {
		hub = streaming.NewMemoryHub()
	}
	return &Machine{
		store:    cfg.Store,
		registry: cfg.Registry,
		router:   cfg.Router,
		hub:      hub,
		logger:   logger,
		tokens:   cfg.IntegrationTokens,
	}
}

// CompletionRequest is one step-completion call.
type CompletionRequest struct {
	RunID          string         `json:"run_id"`
	StepID         string         `json:"step_id"`
	Output         map[string]any `json:"output,omitempty"`
	Outcome        schema.Outcome `json:"outcome,omitempty"`
	OrganizationID string         `json:"organization_id,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
}

// CompletionResult reports where the run landed after a completion call and
// any AUTO burst it triggered.
type CompletionResult struct {
	Success            bool             `json:"success"`
	Status             schema.RunStatus `json:"status"`
	NextStepIndex      int              `json:"next_step_index"`
	NextStepID         string           `json:"next_step_id,omitempty"`
	RequiresUserAction bool             `json:"requires_user_action"`
	ShouldContinue     bool             `json:"should_continue"`
}

// StartRequest starts a new run of a procedure.
type StartRequest struct {
	ProcedureID    string             `json:"procedure_id"`
	OrganizationID string             `json:"organization_id"`
	StartedBy      string             `json:"started_by,omitempty"`
	TriggerType    schema.TriggerType `json:"trigger_type,omitempty"`
	TriggerContext map[string]any     `json:"trigger_context,omitempty"`
	InitialInput   map[string]any     `json:"initial_input,omitempty"`
	ProcessRunID   string             `json:"process_run_id,omitempty"`
}

// StartRun creates a run at step 0 and immediately enters the first step:
// a HUMAN first step pauses the run, an AUTO first step begins a burst.
func (m *Machine) StartRun(ctx context.Context, req StartRequest) (*schema.Run, *CompletionResult, error) {
	if req.ProcedureID == "" {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "procedure_id is required")
	}
	proc, err := m.store.GetProcedure(ctx, req.ProcedureID)
	if err != nil {
		return nil, nil, err
	}
	if req.OrganizationID != "" && proc.OrganizationID != req.OrganizationID {
		return nil, nil, schema.NewErrorf(schema.ErrCodeForbidden,
			"procedure %s belongs to another organization", proc.ID)
	}
	if len(proc.Steps) == 0 {
		return nil, nil, schema.NewErrorf(schema.ErrCodeValidation, "procedure %s has no steps", proc.ID)
	}

	triggerType := req.TriggerType
	if triggerType == "" {
		triggerType = schema.TriggerManual
	}

	now := time.Now().UTC()
	run := &schema.Run{
		ID:               newID(),
		ProcedureID:      proc.ID,
		OrganizationID:   proc.OrganizationID,
		Status:           schema.RunStatusInProgress,
		CurrentStepIndex: 0,
		TriggerType:      triggerType,
		TriggerContext:   req.TriggerContext,
		InitialInput:     req.InitialInput,
		StartedBy:        req.StartedBy,
		ProcessRunID:     req.ProcessRunID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := m.store.CreateRun(ctx, run); err != nil {
		return nil, nil, err
	}
	ctx = logging.WithIDs(ctx, run.ID, "", run.OrganizationID)
	m.Emit(schema.EventRunStarted, run, "", map[string]any{"trigger_type": string(triggerType)})

	m.logger.InfoContext(ctx, "run started",
		"run_id", run.ID, "procedure_id", proc.ID, "trigger", string(triggerType))

	result, err := m.advance(ctx, run.ID, proc, 0, req.StartedBy)
	if err != nil {
		return run, nil, err
	}
	return run, result, nil
}

// CompleteStep executes the completion protocol for one named step: fresh
// re-read, log merge, routing, then an AUTO burst through every consecutive
// automated step until the run pauses, stalls, or completes.
func (m *Machine) CompleteStep(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if req.RunID == "" || req.StepID == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "run_id and step_id are required")
	}
	outcome := req.Outcome
	if outcome == "" {
		outcome = schema.OutcomeSuccess
	}

	// Never trust an in-memory copy: re-read before mutating.
	run, err := m.store.GetRun(ctx, req.RunID)
	if err != nil {
		return nil, err
	}
	if req.OrganizationID != "" && run.OrganizationID != req.OrganizationID {
		return nil, schema.NewErrorf(schema.ErrCodeForbidden,
			"run %s belongs to another organization", run.ID)
	}
	if run.IsTerminal() {
		return nil, schema.NewErrorf(schema.ErrCodeConflict, "run %s is already completed", run.ID)
	}
	ctx = logging.WithIDs(ctx, run.ID, req.StepID, run.OrganizationID)

	proc, err := m.store.GetProcedure(ctx, run.ProcedureID)
	if err != nil {
		return nil, err
	}
	step, stepIdx := proc.StepByID(req.StepID)
	if step == nil {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound,
			"step %s not found in procedure %s", req.StepID, proc.ID)
	}
	mode := Classify(step.Action)

	resumed := run.Status == schema.RunStatusWaitingForUser
	m.mergeLog(run, step, mode, req.Output, outcome, req.UserID)

	if mode == schema.ModeHuman {
		if task, err := m.store.FindOpenTask(ctx, run.ID, step.ID); err == nil {
			if err := m.store.CompleteTask(ctx, task.ID); err != nil {
				m.logger.WarnContext(ctx, "completing task failed",
					"run_id", run.ID, "task_id", task.ID, "error", err)
			}
		}
	}
	run.Status = schema.RunStatusInProgress
	if resumed {
		m.Emit(schema.EventRunResumed, run, step.ID, nil)
	}

	rc := resolver.BuildContext(run.Logs, proc.Steps, run.TriggerContext, run.InitialInput)
	decision, err := m.router.Resolve(ctx, proc, stepIdx, outcome, rc, "")
	if err != nil {
		// The log entry is kept even when routing cannot proceed.
		if uerr := m.store.UpdateRun(ctx, run); uerr != nil {
			return nil, uerr
		}
		return nil, err
	}

	switch {
	case decision.Halt:
		return m.stall(ctx, run, stepIdx)
	case decision.Terminal:
		return m.complete(ctx, run, proc)
	default:
		run.CurrentStepIndex = decision.NextIndex
		if err := m.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
		return m.advance(ctx, run.ID, proc, decision.NextIndex, req.UserID)
	}
}

// mergeLog appends the step's log entry, or updates an existing HUMAN
// placeholder in place (the pause-then-resume pattern).
func (m *Machine) mergeLog(run *schema.Run, step *schema.Step, mode schema.ExecutionMode,
	output map[string]any, outcome schema.Outcome, userID string) {

	now := time.Now().UTC()
	if idx := run.LogIndexForStep(step.ID); idx >= 0 && mode == schema.ModeHuman {
		entry := &run.Logs[idx]
		entry.Output = output
		entry.Outcome = outcome
		entry.ExecutedBy = userID
		entry.CompletedAt = &now
		return
	}
	run.Logs = append(run.Logs, schema.StepLog{
		StepID:        step.ID,
		StepTitle:     step.Title,
		Action:        step.Action,
		Output:        output,
		Outcome:       outcome,
		ExecutedBy:    userID,
		ExecutionType: mode,
		StartedAt:     now,
		CompletedAt:   &now,
	})
}

// advance enters the step at entryIdx and keeps executing while the current
// step is AUTO. The iteration cap equals the procedure length: a well-formed
// routing graph visits each step at most once per burst, so exceeding the cap
// means a routing cycle.
func (m *Machine) advance(ctx context.Context, runID string, proc *schema.Procedure, entryIdx int, userID string) (*CompletionResult, error) {
	idx := entryIdx

	for iter := 0; iter < len(proc.Steps); iter++ {
		// Fresh read per iteration so interleaved completions merge.
		run, err := m.store.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.IsTerminal() {
			return &CompletionResult{Success: true, Status: run.Status, NextStepIndex: run.CurrentStepIndex}, nil
		}
		step := &proc.Steps[idx]

		if Classify(step.Action) == schema.ModeHuman {
			if err := m.pauseForHuman(ctx, run, step, idx); err != nil {
				return nil, err
			}
			return &CompletionResult{
				Success:            true,
				Status:             schema.RunStatusWaitingForUser,
				NextStepIndex:      idx,
				NextStepID:         step.ID,
				RequiresUserAction: true,
			}, nil
		}

		rc := resolver.BuildContext(run.Logs, proc.Steps, run.TriggerContext, run.InitialInput)
		result := m.executeStep(ctx, run, step, rc)

		outcome := schema.OutcomeSuccess
		if !result.Success {
			outcome = schema.OutcomeFailure
		}
		m.appendAutoLog(run, step, result, outcome)

		if result.Success {
			m.Emit(schema.EventStepCompleted, run, step.ID, map[string]any{"action": string(step.Action)})
		} else {
			m.Emit(schema.EventStepFailed, run, step.ID, map[string]any{
				"action": string(step.Action),
				"error":  result.Error,
			})
			m.logger.WarnContext(ctx, "step failed",
				"run_id", run.ID, "step_id", step.ID, "action", string(step.Action), "error", result.Error)
		}

		rc = resolver.BuildContext(run.Logs, proc.Steps, run.TriggerContext, run.InitialInput)
		decision, err := m.router.Resolve(ctx, proc, idx, outcome, rc, result.NextStepID)
		if err != nil {
			if uerr := m.store.UpdateRun(ctx, run); uerr != nil {
				return nil, uerr
			}
			return nil, err
		}

		switch {
		case decision.Halt:
			return m.stall(ctx, run, idx)
		case decision.Terminal:
			return m.complete(ctx, run, proc)
		}

		run.CurrentStepIndex = decision.NextIndex
		if err := m.store.UpdateRun(ctx, run); err != nil {
			return nil, err
		}
		idx = decision.NextIndex
	}

	return nil, schema.NewErrorf(schema.ErrCodeRouting,
		"automated step burst exceeded %d iterations in procedure %s; routing graph has a cycle",
		len(proc.Steps), proc.ID)
}

// executeStep resolves the step's config and invokes the matching executor.
// All failures, including infrastructure errors, come back as a failed Result
// so the run logs them instead of crashing.
func (m *Machine) executeStep(ctx context.Context, run *schema.Run, step *schema.Step, rc *resolver.Context) *actions.Result {
	executor, err := m.registry.Get(step.Action)
	if err != nil {
		return &actions.Result{Success: false, Error: err.Error()}
	}

	resolved := resolver.Resolve(step.Config, rc)
	result, err := executor.Execute(ctx, actions.Input{
		Step:     step,
		Config:   resolved,
		Run:      run,
		Resolver: rc,
		Org:      m.orgContext(run),
	})
	if err != nil {
		return &actions.Result{Success: false, Error: err.Error()}
	}
	if result == nil {
		return &actions.Result{Success: false, Error: "executor returned no result"}
	}
	return result
}

// appendAutoLog records an AUTO step execution. AUTO entries always append;
// in-place update is reserved for HUMAN placeholders.
func (m *Machine) appendAutoLog(run *schema.Run, step *schema.Step, result *actions.Result, outcome schema.Outcome) {
	now := time.Now().UTC()
	run.Logs = append(run.Logs, schema.StepLog{
		StepID:        step.ID,
		StepTitle:     step.Title,
		Action:        step.Action,
		Output:        result.Output,
		Outcome:       outcome,
		Error:         result.Error,
		ExecutedBy:    "system",
		ExecutionType: schema.ModeAuto,
		StartedAt:     now,
		CompletedAt:   &now,
	})
}

// stall persists the run at its current index with status unchanged. The run
// is visible to operators via its FAILURE log entry.
func (m *Machine) stall(ctx context.Context, run *schema.Run, idx int) (*CompletionResult, error) {
	run.CurrentStepIndex = idx
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	m.Emit(schema.EventRunStalled, run, run.Logs[len(run.Logs)-1].StepID, nil)
	m.logger.WarnContext(ctx, "run stalled", "run_id", run.ID, "step_index", idx)
	return &CompletionResult{
		Success:       true,
		Status:        run.Status,
		NextStepIndex: idx,
	}, nil
}

// complete marks the run COMPLETED and, when it is a stage of a process
// chain, advances the parent. Chain failures are logged, never unwound into
// the completed run.
func (m *Machine) complete(ctx context.Context, run *schema.Run, proc *schema.Procedure) (*CompletionResult, error) {
	now := time.Now().UTC()
	run.Status = schema.RunStatusCompleted
	run.CompletedAt = &now
	if err := m.store.UpdateRun(ctx, run); err != nil {
		return nil, err
	}
	m.Emit(schema.EventRunCompleted, run, "", nil)
	m.logger.InfoContext(ctx, "run completed", "run_id", run.ID, "procedure_id", proc.ID)

	if run.ProcessRunID != "" {
		if err := m.continueProcessChain(ctx, run, proc); err != nil {
			m.logger.ErrorContext(ctx, "process chain continuation failed",
				"run_id", run.ID, "process_run_id", run.ProcessRunID, "error", err)
		}
	}

	return &CompletionResult{
		Success:       true,
		Status:        schema.RunStatusCompleted,
		NextStepIndex: run.CurrentStepIndex,
	}, nil
}

// orgContext assembles the read-only organization data handed to executors.
func (m *Machine) orgContext(run *schema.Run) *actions.OrgContext {
	tokens := make(map[string]string, len(m.tokens))
	for k, v := range m.tokens {
		tokens[k] = v
	}
	return &actions.OrgContext{
		OrganizationID:    run.OrganizationID,
		StarterID:         run.StartedBy,
		IntegrationTokens: tokens,
	}
}

// Emit publishes a best-effort domain event. Publish failures are swallowed;
// subscribers must never block a completion.
func (m *Machine) Emit(eventType string, run *schema.Run, stepID string, payload map[string]any) {
	_ = m.hub.Publish(context.Background(), streaming.StreamEvent{
		RunID:          run.ID,
		StepID:         stepID,
		OrganizationID: run.OrganizationID,
		EventType:      eventType,
		Payload:        payload,
	})
}

var _ actions.EventEmitter = (*Machine)(nil)
