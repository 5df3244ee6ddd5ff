package rtdb

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/riftborne/treequeue/internal/record"
)

func nowMillis() int64 { return time.Now().UTC().UnixMilli() }

// valueSubscription is a live "value" subscription on one task (and
// optionally one field of it), backed by a dedicated Redis Pub/Sub
// connection on that task's channel — the same goroutine-drains-
// pubsub.Channel() shape this codebase's event publisher uses.
type valueSubscription struct {
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

// subscribeValue backs ref.On: it delivers the current value
// immediately, then every subsequent write, on its own Pub/Sub
// connection for the task's channel.
func (s *Store) subscribeValue(id, field string, handler func(val any), onError func(error)) *valueSubscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &valueSubscription{cancel: cancel}

	// Deliver the current value immediately, matching every other
	// store.Ref.On implementation in this repository.
	go func() {
		data, err := s.client.Get(ctx, s.taskKey(id)).Bytes()
		var current any
		switch {
		case errors.Is(err, redis.Nil):
			current = nil
		case err != nil:
			if onError != nil {
				onError(err)
			}
			return
		default:
			current, err = decodeValue(data)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				return
			}
		}
		sub.deliver(current, field, handler)

		pubsub := s.client.Subscribe(ctx, s.taskChannel(id))
		defer pubsub.Close()
		if _, err := pubsub.Receive(ctx); err != nil {
			if onError != nil && ctx.Err() == nil {
				onError(err)
			}
			return
		}

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				val, err := decodeValue([]byte(msg.Payload))
				if err != nil {
					if onError != nil {
						onError(err)
					}
					continue
				}
				sub.deliver(val, field, handler)
			}
		}
	}()

	return sub
}

func (s *valueSubscription) deliver(val any, field string, handler func(val any)) {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		return
	}
	if field != "" {
		rec, ok := record.IsMapping(val)
		if !ok {
			val = nil
		} else {
			val = rec[field]
		}
	}
	handler(val)
}

func (s *valueSubscription) Unsubscribe() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
}
