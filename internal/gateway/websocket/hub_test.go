package websocket

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftborne/treequeue/internal/events"
)

// fakePublisher is an in-process events.Publisher double — no Redis
// required to exercise Hub's dispatch loop.
type fakePublisher struct {
	ch chan *events.Event
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{ch: make(chan *events.Event, 16)}
}

func (f *fakePublisher) Publish(ctx context.Context, event *events.Event) error {
	f.ch <- event
	return nil
}

func (f *fakePublisher) Subscribe(ctx context.Context, types ...events.Type) (<-chan *events.Event, error) {
	return f.ch, nil
}

func (f *fakePublisher) Close() error { return nil }

func newTestClient() *Client {
	return &Client{
		ID:            "test-client",
		send:          make(chan []byte, 8),
		subscriptions: make(map[events.Type]bool),
	}
}

func TestClient_IsSubscribed_DefaultsToAll(t *testing.T) {
	c := newTestClient()
	assert.True(t, c.IsSubscribed(events.TaskClaimed))
	assert.True(t, c.IsSubscribed(events.WorkerStopped))
}

func TestClient_IsSubscribed_Filtered(t *testing.T) {
	c := newTestClient()
	c.subscriptions[events.TaskClaimed] = true

	assert.True(t, c.IsSubscribed(events.TaskClaimed))
	assert.False(t, c.IsSubscribed(events.TaskResolved))
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(newFakePublisher())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub.Run(ctx)
	defer hub.Stop()

	c := newTestClient()
	c.hub = hub
	hub.Register(c)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Unregister(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_BroadcastDeliversToSubscribedClients(t *testing.T) {
	pub := newFakePublisher()
	hub := NewHub(pub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub.Run(ctx)
	defer hub.Stop()

	c := newTestClient()
	c.hub = hub
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	event := events.New(events.TaskClaimed, events.TaskData("queue-1:0:5", nil))
	hub.Broadcast(event)

	select {
	case msg := <-c.send:
		decoded, err := events.FromJSON(msg)
		require.NoError(t, err)
		assert.Equal(t, events.TaskClaimed, decoded.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast delivery")
	}
}

func TestClient_AcceptsQueue_DefaultsToAll(t *testing.T) {
	c := newTestClient()
	assert.True(t, c.AcceptsQueue(map[string]interface{}{"queue_id": "queue-1"}))
	assert.True(t, c.AcceptsQueue(nil))
}

func TestClient_AcceptsQueue_Filtered(t *testing.T) {
	c := newTestClient()
	c.FilterQueues([]string{"queue-1"})

	assert.True(t, c.AcceptsQueue(map[string]interface{}{"queue_id": "queue-1"}))
	assert.False(t, c.AcceptsQueue(map[string]interface{}{"queue_id": "queue-2"}))
	assert.False(t, c.AcceptsQueue(nil))
}

func TestClient_FilterQueues_EmptyClearsFilter(t *testing.T) {
	c := newTestClient()
	c.FilterQueues([]string{"queue-1"})
	c.FilterQueues(nil)

	assert.True(t, c.AcceptsQueue(map[string]interface{}{"queue_id": "queue-2"}))
}

func TestHub_BroadcastRespectsQueueFilter(t *testing.T) {
	pub := newFakePublisher()
	hub := NewHub(pub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub.Run(ctx)
	defer hub.Stop()

	c := newTestClient()
	c.hub = hub
	c.FilterQueues([]string{"queue-1"})
	hub.Register(c)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(events.New(events.TaskClaimed, events.TaskData("queue-2:0:5", map[string]interface{}{"queue_id": "queue-2"})))
	select {
	case <-c.send:
		t.Fatal("client received an event outside its queue filter")
	case <-time.After(200 * time.Millisecond):
	}

	hub.Broadcast(events.New(events.TaskClaimed, events.TaskData("queue-1:0:5", map[string]interface{}{"queue_id": "queue-1"})))
	select {
	case msg := <-c.send:
		decoded, err := events.FromJSON(msg)
		require.NoError(t, err)
		assert.Equal(t, events.TaskClaimed, decoded.Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for matching-queue broadcast delivery")
	}
}

func TestHub_RunWithoutPublisherReturnsImmediately(t *testing.T) {
	hub := NewHub(nil)
	done := make(chan struct{})
	go func() {
		hub.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return for a nil publisher")
	}
}
