// Package events is the optional lifecycle-notification layer wired at
// the Pool/cmd boundary: it never sits between a Worker and its store,
// only observes the processor calls and reported errors passing through
// the wrappers in decorator.go, so the coordination core in
// internal/worker stays free of it.
package events

import (
	"context"
	"encoding/json"
	"time"
)

// Type identifies an event's category.
type Type string

const (
	TaskClaimed        Type = "task.claimed"
	TaskProgress       Type = "task.progress"
	TaskResolved       Type = "task.resolved"
	TaskRejected       Type = "task.rejected"
	TaskOwnershipLost  Type = "task.ownership_lost"
	WorkerListening    Type = "worker.listening"
	WorkerShuttingDown Type = "worker.shutting_down"
	WorkerStopped      Type = "worker.stopped"
)

// Event is the payload published and broadcast to every interested
// subscriber — the Redis channel in RedisPubSub and the WebSocket hub
// alike.
type Event struct {
	Type      Type                   `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// New builds an Event stamped with the current time.
func New(t Type, data map[string]interface{}) *Event {
	return &Event{Type: t, Timestamp: time.Now().UTC(), Data: data}
}

// ToJSON serialises the event.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// FromJSON parses an event previously produced by ToJSON.
func FromJSON(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// TaskData builds the Data map shared by every task.* event. A task
// has no stable identifier once claimed — it's addressed by store key,
// not by a field the sanitized record carries — so ownerToken (unique
// per claim attempt) is what ties claimed/resolved/rejected together.
func TaskData(ownerToken string, extra map[string]interface{}) map[string]interface{} {
	d := map[string]interface{}{"owner_token": ownerToken}
	for k, v := range extra {
		d[k] = v
	}
	return d
}

// WorkerData builds the Data map shared by every worker.* event.
func WorkerData(ownerID, queueID string, index int) map[string]interface{} {
	return map[string]interface{}{"owner_id": ownerID, "queue_id": queueID, "index": index}
}

// Publisher is the interface every event sink (Redis Pub/Sub today)
// implements. Subscribe returns a channel of events matching any of
// types; passing none subscribes to everything.
type Publisher interface {
	Publish(ctx context.Context, event *Event) error
	Subscribe(ctx context.Context, types ...Type) (<-chan *Event, error)
	Close() error
}
