package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRedisPubSub(t *testing.T) {
	pubsub := NewRedisPubSub(nil)

	assert.NotNil(t, pubsub)
	assert.Nil(t, pubsub.client)
}

func TestRedisPubSub_channelName(t *testing.T) {
	pubsub := NewRedisPubSub(nil)

	tests := []struct {
		eventType Type
		expected  string
	}{
		{TaskClaimed, "treequeue:events:task.claimed"},
		{TaskProgress, "treequeue:events:task.progress"},
		{TaskResolved, "treequeue:events:task.resolved"},
		{TaskRejected, "treequeue:events:task.rejected"},
		{TaskOwnershipLost, "treequeue:events:task.ownership_lost"},
		{WorkerListening, "treequeue:events:worker.listening"},
		{WorkerShuttingDown, "treequeue:events:worker.shutting_down"},
		{WorkerStopped, "treequeue:events:worker.stopped"},
	}

	for _, tc := range tests {
		t.Run(string(tc.eventType), func(t *testing.T) {
			channel := pubsub.channelName(tc.eventType)
			assert.Equal(t, tc.expected, channel)
		})
	}
}

func TestRedisPubSub_Close(t *testing.T) {
	pubsub := NewRedisPubSub(nil)
	assert.NoError(t, pubsub.Close())
}

func TestChannelPrefix(t *testing.T) {
	assert.Equal(t, "treequeue:events:", channelPrefix)
}
