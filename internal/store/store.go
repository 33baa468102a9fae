package store

import (
	"context"

	"github.com/rloza/tramite/pkg/schema"
)

// Store is the persistence contract. The engine depends only on document
// get/set/update/query semantics; the run document is read-modify-written
// whole on every completion. All implementations must be safe for concurrent
// use.
type Store interface {
	// Procedures
	CreateProcedure(ctx context.Context, p *schema.Procedure) error
	GetProcedure(ctx context.Context, id string) (*schema.Procedure, error)
	ListProcedures(ctx context.Context, orgID string) ([]*schema.Procedure, error)

	// Runs. GetRun must return a copy the caller can mutate freely;
	// UpdateRun writes the document back but merges the log array with the
	// stored entries, so interleaved completions for different steps of the
	// same run never overwrite each other's log entries.
	CreateRun(ctx context.Context, r *schema.Run) error
	GetRun(ctx context.Context, id string) (*schema.Run, error)
	UpdateRun(ctx context.Context, r *schema.Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*schema.Run, error)

	// Process chains
	CreateProcessGroup(ctx context.Context, g *schema.ProcessGroup) error
	GetProcessGroup(ctx context.Context, id string) (*schema.ProcessGroup, error)
	CreateProcessRun(ctx context.Context, pr *schema.ProcessRun) error
	GetProcessRun(ctx context.Context, id string) (*schema.ProcessRun, error)
	UpdateProcessRun(ctx context.Context, pr *schema.ProcessRun) error

	// Tasks and notifications
	CreateTask(ctx context.Context, t *Task) error
	FindOpenTask(ctx context.Context, runID, stepID string) (*Task, error)
	CompleteTask(ctx context.Context, id string) error
	CreateNotification(ctx context.Context, n *Notification) error

	// Collections and records
	CreateCollection(ctx context.Context, c *Collection) error
	GetCollectionByName(ctx context.Context, orgID, name string) (*Collection, error)
	GetCollection(ctx context.Context, id string) (*Collection, error)
	InsertRecord(ctx context.Context, r *Record) error
	ListRecords(ctx context.Context, collectionID string, limit int) ([]*Record, error)

	// Staff
	GetStaff(ctx context.Context, id string) (*StaffMember, error)
	ListStaff(ctx context.Context, orgID string) ([]*StaffMember, error)

	// Usage events (append-only)
	AppendEvent(ctx context.Context, ev *UsageEvent) error
	ListEvents(ctx context.Context, runID string) ([]*UsageEvent, error)

	// Scheduled triggers
	CreateScheduledTrigger(ctx context.Context, t *ScheduledTrigger) error
	ListScheduledTriggers(ctx context.Context, enabledOnly bool) ([]*ScheduledTrigger, error)
	UpdateScheduledTrigger(ctx context.Context, t *ScheduledTrigger) error

	// Maintenance
	Migrate(ctx context.Context) error
	Close() error
}

// NotFound reports whether err is a store not-found error.
func NotFound(err error) bool {
	ee, ok := err.(*schema.EngineError)
	return ok && ee.Code == schema.ErrCodeNotFound
}

func notFound(kind, id string) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s not found: %s", kind, id)
}
