package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/internal/streaming"
	"github.com/rloza/tramite/pkg/schema"
)

func seedCollection(t *testing.T, st *store.MemoryStore, rules ...store.AlertRule) {
	t.Helper()
	require.NoError(t, st.CreateCollection(context.Background(), &store.Collection{
		ID:             "col-1",
		OrganizationID: "org-1",
		Name:           "invoices",
		AlertRules:     rules,
	}))
}

func recordEvent(fields map[string]any) streaming.StreamEvent {
	return streaming.StreamEvent{
		RunID:          "run-1",
		StepID:         "save",
		OrganizationID: "org-1",
		EventType:      schema.EventRecordCreated,
		Payload: map[string]any{
			"record_id":     "rec-1",
			"collection_id": "col-1",
			"fields":        fields,
		},
	}
}

func TestEveryEventLandsInUsageLog(t *testing.T) {
	st := store.NewMemoryStore()
	s := NewSubscriber(st, streaming.NewMemoryHub(), nil)
	ctx := context.Background()

	s.handle(ctx, streaming.StreamEvent{
		RunID: "run-1", OrganizationID: "org-1", EventType: schema.EventRunStarted,
	})
	s.handle(ctx, streaming.StreamEvent{
		RunID: "run-1", StepID: "parse", OrganizationID: "org-1", EventType: schema.EventStepCompleted,
	})

	events, err := st.ListEvents(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, schema.EventRunStarted, events[0].Type)
	assert.Equal(t, "parse", events[1].StepID)
}

func TestMatchingAlertRuleCreatesNotification(t *testing.T) {
	st := store.NewMemoryStore()
	seedCollection(t, st,
		store.AlertRule{Field: "total", Operator: schema.OpGreaterThan, Value: 1000,
			Message: "Large invoice recorded", RecipientID: "user-9"},
		store.AlertRule{Field: "vendor", Operator: schema.OpEquals, Value: "Initech"},
	)
	s := NewSubscriber(st, streaming.NewMemoryHub(), nil)

	s.handle(context.Background(), recordEvent(map[string]any{
		"total": 2500.0, "vendor": "Acme",
	}))

	notes := st.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "alert", notes[0].Kind)
	assert.Equal(t, "Large invoice recorded", notes[0].Message)
	assert.Equal(t, "user-9", notes[0].RecipientID)
	assert.Equal(t, "run-1", notes[0].RunID)
}

func TestAlertRuleDefaultMessage(t *testing.T) {
	st := store.NewMemoryStore()
	seedCollection(t, st, store.AlertRule{Field: "status", Operator: schema.OpEquals, Value: "overdue"})
	s := NewSubscriber(st, streaming.NewMemoryHub(), nil)

	s.handle(context.Background(), recordEvent(map[string]any{"status": "overdue"}))

	notes := st.Notifications()
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0].Message, "status")
}

func TestNonMatchingRuleCreatesNothing(t *testing.T) {
	st := store.NewMemoryStore()
	seedCollection(t, st, store.AlertRule{Field: "total", Operator: schema.OpGreaterThan, Value: 1000})
	s := NewSubscriber(st, streaming.NewMemoryHub(), nil)

	s.handle(context.Background(), recordEvent(map[string]any{"total": 50.0}))

	assert.Empty(t, st.Notifications())
}

func TestSubscriberConsumesFromHub(t *testing.T) {
	st := store.NewMemoryStore()
	hub := streaming.NewMemoryHub()
	s := NewSubscriber(st, hub, nil)
	ctx := context.Background()

	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	require.NoError(t, hub.Publish(ctx, streaming.StreamEvent{
		RunID: "run-1", OrganizationID: "org-1", EventType: schema.EventRunStarted,
	}))

	require.Eventually(t, func() bool {
		events, err := st.ListEvents(ctx, "run-1")
		return err == nil && len(events) == 1
	}, time.Second, 10*time.Millisecond)
}
