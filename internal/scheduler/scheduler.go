package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rloza/tramite/internal/engine"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/pkg/schema"
)

// pollInterval is how often the scheduler scans for due triggers.
const pollInterval = 60 * time.Second

// RunStarter is the slice of the engine the scheduler needs.
type RunStarter interface {
	StartRun(ctx context.Context, req engine.StartRequest) (*schema.Run, *engine.CompletionResult, error)
}

// Scheduler polls enabled scheduled triggers and starts the referenced
// procedure when a trigger comes due. One instance per process; triggers
// already being fired are skipped until they finish.
type Scheduler struct {
	store   store.Store
	starter RunStarter
	logger  *slog.Logger
	parser  cron.Parser

	mu       sync.Mutex
	inflight map[string]bool

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a scheduler. Start must be called to begin polling.
func New(st store.Store, starter RunStarter, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    st,
		starter:  starter,
		logger:   logger,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		inflight: make(map[string]bool),
	}
}

// Start launches the polling loop. It returns immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		// Initial tick picks up triggers that came due while the process
		// was down.
		s.tick(ctx)

		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
}

// Stop cancels the polling loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// tick fires every enabled trigger whose next run time has passed.
func (s *Scheduler) tick(ctx context.Context) {
	triggers, err := s.store.ListScheduledTriggers(ctx, true)
	if err != nil {
		s.logger.ErrorContext(ctx, "listing scheduled triggers failed", "error", err)
		return
	}

	now := time.Now().UTC()
	for _, trigger := range triggers {
		if trigger.NextRunAt != nil && trigger.NextRunAt.After(now) {
			continue
		}
		if !s.tryAcquire(trigger.ID) {
			continue
		}
		go func(t *store.ScheduledTrigger) {
			defer s.release(t.ID)
			s.fire(ctx, t)
		}(trigger)
	}
}

// fire starts the trigger's procedure and advances its schedule. The next
// run time is updated even when the start fails, so a broken procedure does
// not get retried every tick.
func (s *Scheduler) fire(ctx context.Context, trigger *store.ScheduledTrigger) {
	now := time.Now().UTC()

	run, _, err := s.starter.StartRun(ctx, engine.StartRequest{
		ProcedureID:    trigger.ProcedureID,
		OrganizationID: trigger.OrganizationID,
		StartedBy:      "scheduler",
		TriggerType:    schema.TriggerSchedule,
		TriggerContext: map[string]any{"trigger_id": trigger.ID},
		InitialInput:   trigger.Input,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "scheduled run failed to start",
			"trigger_id", trigger.ID, "procedure_id", trigger.ProcedureID, "error", err)
	} else {
		s.logger.InfoContext(ctx, "scheduled run started",
			"trigger_id", trigger.ID, "run_id", run.ID)
	}

	trigger.LastRunAt = &now
	next, nerr := s.NextRun(trigger.CronExpression, now)
	if nerr != nil {
		s.logger.ErrorContext(ctx, "invalid cron expression, disabling trigger",
			"trigger_id", trigger.ID, "cron", trigger.CronExpression, "error", nerr)
		trigger.Enabled = false
	} else {
		trigger.NextRunAt = &next
	}
	if err := s.store.UpdateScheduledTrigger(ctx, trigger); err != nil {
		s.logger.ErrorContext(ctx, "updating scheduled trigger failed",
			"trigger_id", trigger.ID, "error", err)
	}
}

// NextRun computes the next fire time of a standard five-field cron
// expression after the given instant.
func (s *Scheduler) NextRun(expression string, after time.Time) (time.Time, error) {
	sched, err := s.parser.Parse(expression)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeValidation,
			"invalid cron expression %q", expression).WithCause(err)
	}
	return sched.Next(after), nil
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[id] {
		return false
	}
	s.inflight[id] = true
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, id)
}
