package streaming

import "context"

// StreamEvent is a domain event emitted during run execution. Subscribers
// (alerting, usage accounting, live UIs) are best-effort consumers.
type StreamEvent struct {
	RunID          string `json:"run_id"`
	StepID         string `json:"step_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	EventType      string `json:"event_type"`
	Payload        any    `json:"payload,omitempty"`
}

// EventFilter narrows a subscription. Zero-value fields match everything, so
// an empty filter receives the full stream; a filter may scope by run, by
// organization, by event type, or any combination.
type EventFilter struct {
	RunID          string   `json:"run_id,omitempty"`
	OrganizationID string   `json:"organization_id,omitempty"`
	EventTypes     []string `json:"event_types,omitempty"`
}

// EventHub provides pub/sub for run execution events.
type EventHub interface {
	Publish(ctx context.Context, event StreamEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan StreamEvent, func(), error)
}
