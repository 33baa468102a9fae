package streaming

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rloza/tramite/pkg/schema"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch1, cancel1, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel2()

	ev := StreamEvent{RunID: "run-1", EventType: schema.EventRunStarted}
	require.NoError(t, hub.Publish(ctx, ev))

	assert.Equal(t, ev, <-ch1)
	assert.Equal(t, ev, <-ch2)
}

func TestSubscribeFiltersByRunID(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{RunID: "run-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-2", EventType: schema.EventRunStarted}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: schema.EventRunCompleted}))

	got := <-ch
	assert.Equal(t, "run-1", got.RunID)
	assert.Empty(t, ch)
}

func TestSubscribeFiltersByOrganization(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{OrganizationID: "org-1"})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-a", OrganizationID: "org-2", EventType: schema.EventRunStarted}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-b", OrganizationID: "org-1", EventType: schema.EventRunStarted}))

	got := <-ch
	assert.Equal(t, "org-1", got.OrganizationID)
	assert.Equal(t, "run-b", got.RunID)
	assert.Empty(t, ch)
}

func TestSubscribeFiltersByEventType(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{
		EventTypes: []string{schema.EventStepFailed},
	})
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: schema.EventStepCompleted}))
	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: schema.EventStepFailed}))

	got := <-ch
	assert.Equal(t, schema.EventStepFailed, got.EventType)
	assert.Empty(t, ch)
}

func TestCancelStopsDelivery(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	cancel()

	require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: schema.EventRunStarted}))
	assert.Empty(t, ch)
}

func TestPublishDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewMemoryHub()
	ctx := context.Background()

	ch, cancel, err := hub.Subscribe(ctx, EventFilter{})
	require.NoError(t, err)
	defer cancel()

	// Fill the buffer without draining, then publish one more. The extra
	// event must be dropped instead of blocking the publisher.
	for i := 0; i < defaultChannelBuffer+10; i++ {
		require.NoError(t, hub.Publish(ctx, StreamEvent{RunID: "run-1", EventType: schema.EventStepCompleted}))
	}
	assert.Len(t, ch, defaultChannelBuffer)
}

func TestPublishAfterContextCancelFails(t *testing.T) {
	hub := NewMemoryHub()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := hub.Publish(ctx, StreamEvent{RunID: "run-1"})
	assert.Error(t, err)

	_, _, err = hub.Subscribe(ctx, EventFilter{})
	assert.Error(t, err)
}
