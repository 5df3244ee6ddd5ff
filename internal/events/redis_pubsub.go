package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/riftborne/treequeue/internal/logger"
)

const channelPrefix = "treequeue:events:"

// RedisPubSub is the default Publisher, one Redis channel per event
// type plus a pattern subscription for SubscribeAll-style consumers
// (the gateway's WebSocket hub).
type RedisPubSub struct {
	client *redis.Client
}

// NewRedisPubSub wraps an already-connected client.
func NewRedisPubSub(client *redis.Client) *RedisPubSub {
	return &RedisPubSub{client: client}
}

func (r *RedisPubSub) channelName(t Type) string { return channelPrefix + string(t) }

// Publish publishes event to its type's channel.
func (r *RedisPubSub) Publish(ctx context.Context, event *Event) error {
	data, err := event.ToJSON()
	if err != nil {
		return fmt.Errorf("events: encode: %w", err)
	}
	if err := r.client.Publish(ctx, r.channelName(event.Type), data).Err(); err != nil {
		return fmt.Errorf("events: publish: %w", err)
	}
	logger.Debug().Str("event_type", string(event.Type)).Msg("event published")
	return nil
}

// Subscribe subscribes to the given types (every type when none are
// given) and streams decoded events until ctx is done.
func (r *RedisPubSub) Subscribe(ctx context.Context, types ...Type) (<-chan *Event, error) {
	var pubsub *redis.PubSub
	if len(types) == 0 {
		pubsub = r.client.PSubscribe(ctx, channelPrefix+"*")
	} else {
		channels := make([]string, len(types))
		for i, t := range types {
			channels[i] = r.channelName(t)
		}
		pubsub = r.client.Subscribe(ctx, channels...)
	}
	if _, err := pubsub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("events: subscribe: %w", err)
	}

	out := make(chan *Event, 100)
	go func() {
		defer close(out)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				event, err := FromJSON([]byte(msg.Payload))
				if err != nil {
					logger.Error().Err(err).Msg("events: failed to decode message")
					continue
				}
				select {
				case out <- event:
				default:
					logger.Warn().Str("event_type", string(event.Type)).Msg("events: subscriber channel full, dropping event")
				}
			}
		}
	}()
	return out, nil
}

// Close is a no-op: each Subscribe owns and closes its own *redis.PubSub.
func (r *RedisPubSub) Close() error { return nil }
