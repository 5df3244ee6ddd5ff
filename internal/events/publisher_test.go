package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_Constants(t *testing.T) {
	assert.Equal(t, Type("task.claimed"), TaskClaimed)
	assert.Equal(t, Type("task.progress"), TaskProgress)
	assert.Equal(t, Type("task.resolved"), TaskResolved)
	assert.Equal(t, Type("task.rejected"), TaskRejected)
	assert.Equal(t, Type("task.ownership_lost"), TaskOwnershipLost)
	assert.Equal(t, Type("worker.listening"), WorkerListening)
	assert.Equal(t, Type("worker.shutting_down"), WorkerShuttingDown)
	assert.Equal(t, Type("worker.stopped"), WorkerStopped)
}

func TestNew(t *testing.T) {
	data := map[string]interface{}{
		"owner_token": "queue-1:0:5",
		"queue_id":    "queue-1",
	}

	event := New(TaskClaimed, data)

	assert.Equal(t, TaskClaimed, event.Type)
	assert.Equal(t, data, event.Data)
	assert.False(t, event.Timestamp.IsZero())
	assert.WithinDuration(t, time.Now(), event.Timestamp, time.Second)
}

func TestEvent_ToJSON(t *testing.T) {
	event := &Event{
		Type:      TaskResolved,
		Timestamp: time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Data: map[string]interface{}{
			"owner_token": "queue-1:0:5",
			"queue_id":    "queue-1",
		},
	}

	data, err := event.ToJSON()
	require.NoError(t, err)

	var parsed map[string]interface{}
	err = json.Unmarshal(data, &parsed)
	require.NoError(t, err)

	assert.Equal(t, "task.resolved", parsed["type"])
	assert.NotEmpty(t, parsed["timestamp"])
	assert.NotNil(t, parsed["data"])
}

func TestFromJSON(t *testing.T) {
	jsonData := `{
		"type": "task.rejected",
		"timestamp": "2024-01-15T10:30:00Z",
		"data": {"owner_token": "queue-1:0:5", "error": "timeout"}
	}`

	event, err := FromJSON([]byte(jsonData))
	require.NoError(t, err)

	assert.Equal(t, TaskRejected, event.Type)
	assert.Equal(t, "queue-1:0:5", event.Data["owner_token"])
	assert.Equal(t, "timeout", event.Data["error"])
}

func TestFromJSON_Invalid(t *testing.T) {
	_, err := FromJSON([]byte("invalid json"))
	assert.Error(t, err)
}

func TestEvent_RoundTrip(t *testing.T) {
	original := New(WorkerListening, map[string]interface{}{
		"owner_id": "queue-1:0",
		"queue_id": "queue-1",
	})

	data, err := original.ToJSON()
	require.NoError(t, err)

	restored, err := FromJSON(data)
	require.NoError(t, err)

	assert.Equal(t, original.Type, restored.Type)
	assert.Equal(t, original.Data["owner_id"], restored.Data["owner_id"])
	assert.Equal(t, original.Data["queue_id"], restored.Data["queue_id"])
}

func TestTaskData(t *testing.T) {
	data := TaskData("queue-1:0:5", map[string]interface{}{
		"queue_id": "queue-1",
		"error":    "timeout",
	})

	assert.Equal(t, "queue-1:0:5", data["owner_token"])
	assert.Equal(t, "queue-1", data["queue_id"])
	assert.Equal(t, "timeout", data["error"])
}

func TestTaskData_NoExtra(t *testing.T) {
	data := TaskData("queue-1:0:5", nil)

	assert.Equal(t, "queue-1:0:5", data["owner_token"])
	assert.Len(t, data, 1)
}

func TestWorkerData(t *testing.T) {
	data := WorkerData("queue-1:0", "queue-1", 0)

	assert.Equal(t, "queue-1:0", data["owner_id"])
	assert.Equal(t, "queue-1", data["queue_id"])
	assert.Equal(t, 0, data["index"])
}
