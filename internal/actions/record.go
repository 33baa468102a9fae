package actions

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/pkg/schema"
)

// DBInsertExecutor implements the DB_INSERT action: write a new record into a
// named collection within the run's organization. The insert is rejected when
// any resolved field value still carries an unresolved placeholder or when the
// resolved field map is empty. A record.created event is emitted after the
// write so alert checks run off the critical path; emit failures never fail
// the insert.
type DBInsertExecutor struct {
	store  store.Store
	events EventEmitter
}

// NewDBInsertExecutor creates the DB_INSERT executor.
func NewDBInsertExecutor(st store.Store, events EventEmitter) *DBInsertExecutor {
	if events == nil {
		events = NopEmitter{}
	}
	return &DBInsertExecutor{store: st, events: events}
}

func (e *DBInsertExecutor) Name() schema.ActionType { return schema.ActionDBInsert }

func (e *DBInsertExecutor) Validate(config map[string]any) error {
	if stringParam(config, "collectionName", "") == "" {
		return schema.NewError(schema.ErrCodeValidation, "DB_INSERT: missing required param 'collectionName'")
	}
	return nil
}

func (e *DBInsertExecutor) Execute(ctx context.Context, input Input) (*Result, error) {
	collectionName := stringParam(input.Config, "collectionName", "")
	if collectionName == "" {
		return failure("DB_INSERT: missing required param 'collectionName'"), nil
	}

	fields := mapParam(input.Config, "fields")
	if len(fields) == 0 {
		return failure("DB_INSERT: resolved field map is empty, nothing to insert"), nil
	}
	if res := guardResolved(schema.ActionDBInsert, fields); res != nil {
		return res, nil
	}

	collection, err := e.store.GetCollectionByName(ctx, input.Org.OrganizationID, collectionName)
	if err != nil {
		if store.NotFound(err) {
			return failure("DB_INSERT: collection %q not found in organization", collectionName), nil
		}
		return nil, err
	}

	record := &store.Record{
		ID:             uuid.NewString(),
		OrganizationID: input.Org.OrganizationID,
		CollectionID:   collection.ID,
		Fields:         fields,
		CreatedBy:      input.Run.StartedBy,
		CreatedAt:      time.Now().UTC(),
	}
	if err := e.store.InsertRecord(ctx, record); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore,
			"DB_INSERT: insert into %q failed: %s", collectionName, err.Error()).WithCause(err)
	}

	e.events.Emit(schema.EventRecordCreated, input.Run, input.Step.ID, map[string]any{
		"record_id":     record.ID,
		"collection_id": collection.ID,
		"fields":        fields,
	})

	return success(map[string]any{
		"recordId":     record.ID,
		"collectionId": collection.ID,
		"inserted":     true,
	}), nil
}

var _ Executor = (*DBInsertExecutor)(nil)
