package alerting

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rloza/tramite/internal/actions"
	"github.com/rloza/tramite/internal/store"
	"github.com/rloza/tramite/internal/streaming"
	"github.com/rloza/tramite/pkg/schema"
)

// Subscriber consumes run execution events off the hub. Every event lands in
// the usage log; record.created events are additionally matched against the
// collection's alert rules and matching rules produce notifications. All work
// here is best-effort: failures are logged and the event stream keeps moving.
type Subscriber struct {
	store  store.Store
	hub    streaming.EventHub
	logger *slog.Logger

	cancelSub func()
	stop      context.CancelFunc
	done      chan struct{}
}

// NewSubscriber creates an alerting and usage-log subscriber.
func NewSubscriber(st store.Store, hub streaming.EventHub, logger *slog.Logger) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{store: st, hub: hub, logger: logger}
}

// Start subscribes to the hub and consumes events until Stop is called.
func (s *Subscriber) Start(ctx context.Context) error {
	ctx, s.stop = context.WithCancel(ctx)

	events, cancel, err := s.hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return err
	}
	s.cancelSub = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				s.handle(ctx, ev)
			}
		}
	}()
	return nil
}

// Stop unsubscribes and waits for the consumer to drain.
func (s *Subscriber) Stop() {
	if s.stop != nil {
		s.stop()
	}
	if s.cancelSub != nil {
		s.cancelSub()
	}
	if s.done != nil {
		<-s.done
	}
}

func (s *Subscriber) handle(ctx context.Context, ev streaming.StreamEvent) {
	s.appendUsage(ctx, ev)
	if ev.EventType == schema.EventRecordCreated {
		s.checkAlertRules(ctx, ev)
	}
}

func (s *Subscriber) appendUsage(ctx context.Context, ev streaming.StreamEvent) {
	payload, _ := ev.Payload.(map[string]any)
	entry := &store.UsageEvent{
		OrganizationID: ev.OrganizationID,
		RunID:          ev.RunID,
		StepID:         ev.StepID,
		Type:           ev.EventType,
		Payload:        payload,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.store.AppendEvent(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "appending usage event failed",
			"event_type", ev.EventType, "run_id", ev.RunID, "error", err)
	}
}

// checkAlertRules evaluates the collection's alert rules against the inserted
// record's fields and creates one notification per matching rule.
func (s *Subscriber) checkAlertRules(ctx context.Context, ev streaming.StreamEvent) {
	payload, _ := ev.Payload.(map[string]any)
	collectionID, _ := payload["collection_id"].(string)
	fields, _ := payload["fields"].(map[string]any)
	if collectionID == "" || len(fields) == 0 {
		return
	}

	collection, err := s.store.GetCollection(ctx, collectionID)
	if err != nil {
		s.logger.WarnContext(ctx, "loading collection for alert check failed",
			"collection_id", collectionID, "error", err)
		return
	}

	for _, rule := range collection.AlertRules {
		matched, err := actions.CompareValues(rule.Operator, fields[rule.Field], rule.Value)
		if err != nil {
			s.logger.WarnContext(ctx, "alert rule evaluation failed",
				"collection_id", collectionID, "field", rule.Field, "error", err)
			continue
		}
		if !matched {
			continue
		}

		message := rule.Message
		if message == "" {
			message = "Alert: record matched rule on " + rule.Field
		}
		notification := &store.Notification{
			ID:             uuid.NewString(),
			OrganizationID: ev.OrganizationID,
			RecipientID:    rule.RecipientID,
			Kind:           "alert",
			Message:        message,
			RunID:          ev.RunID,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.store.CreateNotification(ctx, notification); err != nil {
			s.logger.WarnContext(ctx, "creating alert notification failed",
				"collection_id", collectionID, "error", err)
		}
	}
}
