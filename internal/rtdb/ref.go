package rtdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/store"
)

// maxWatchRetries bounds how many times ref.Transaction restarts a
// Redis optimistic transaction after WATCH detects contention before
// giving up and surfacing store.ErrAborted for the caller (typically
// internal/txn.Runner) to retry from scratch.
const maxWatchRetries = 8

// ref is bound either to the tasks collection root (id == "") or to
// one task (id set). field, if set, narrows it to a single field of
// that task's record, used for value-event subscriptions only — Set,
// Remove and Transaction always act on the whole task value.
type ref struct {
	store *Store
	id    string
	field string
}

func (r *ref) Key() string {
	if r.field != "" {
		return r.field
	}
	return r.id
}

func (r *ref) Child(key string) store.Ref {
	if r.id == "" {
		return &ref{store: r.store, id: key}
	}
	return &ref{store: r.store, id: r.id, field: key}
}

func (r *ref) Push(ctx context.Context, value record.Record) (store.Ref, error) {
	if r.id != "" {
		return nil, fmt.Errorf("rtdb: push only supported on the root ref")
	}
	id := uuid.New().String()
	child := &ref{store: r.store, id: id}
	if err := child.Set(ctx, value); err != nil {
		return nil, err
	}
	return child, nil
}

func (r *ref) Set(ctx context.Context, value record.Record) error {
	if r.id == "" {
		return fmt.Errorf("rtdb: set not supported on the root ref")
	}
	_, err := r.Transaction(ctx, func(current any) record.Outcome {
		return record.Outcome{Kind: record.Replace, Value: value}
	})
	return err
}

func (r *ref) Remove(ctx context.Context) error {
	_, err := r.Transaction(ctx, func(current any) record.Outcome {
		return record.Outcome{Kind: record.Remove}
	})
	return err
}

func (r *ref) Once(ctx context.Context, event string) (store.Snapshot, error) {
	data, err := r.store.client.Get(ctx, r.store.taskKey(r.id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return snapshot{store: r.store, id: r.id, field: r.field}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrTransport, err)
	}
	val, err := decodeValue(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", store.ErrTransport, err)
	}
	return r.snapshotOf(val), nil
}

func (r *ref) On(event string, h store.Handler, onError func(error)) store.Subscription {
	return r.store.subscribeValue(r.id, r.field, func(val any) {
		h(snapshot{store: r.store, id: r.id, field: r.field, val: val})
	}, onError)
}

func (r *ref) Off(event string, sub store.Subscription) {
	sub.Unsubscribe()
}

// Transaction runs body as a Redis optimistic (WATCH/MULTI/EXEC)
// transaction against this ref's value, per spec.md §4.2/§6.1. A
// body-decided Abort is reported as a clean TxResult{Committed:
// false}, nil — distinct from store.ErrAborted, which signals Redis's
// own write-conflict detection and is the condition
// internal/txn.Runner retries on.
func (r *ref) Transaction(ctx context.Context, body record.TransactionBody) (store.TxResult, error) {
	key := r.store.taskKey(r.id)

	for attempt := 0; attempt < maxWatchRetries; attempt++ {
		var result store.TxResult
		txf := func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			var current any
			switch {
			case errors.Is(err, redis.Nil):
				current = nil
			case err != nil:
				return err
			default:
				current, err = decodeValue(data)
				if err != nil {
					return err
				}
			}

			out := body(current)
			if out.Kind == record.Abort {
				result = store.TxResult{Committed: false, Snapshot: r.snapshotOf(current)}
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				switch out.Kind {
				case record.Remove:
					pipe.Del(ctx, key)
					r.store.deindex(ctx, pipe, r.id, current)
					pipe.SRem(ctx, r.store.idsKey(), r.id)
					pipe.Publish(ctx, r.store.channel(), r.event(nil))
					pipe.Publish(ctx, r.store.taskChannel(r.id), r.valueEvent(nil))
					result = store.TxResult{Committed: true, Snapshot: r.snapshotOf(nil)}
				default: // Replace
					now := nowMillis()
					next := substituteServerTimestamp(out.Value, now)
					data, encErr := encodeValue(next)
					if encErr != nil {
						return encErr
					}
					pipe.Set(ctx, key, data, 0)
					r.store.reindex(ctx, pipe, r.id, current, next)
					pipe.SAdd(ctx, r.store.idsKey(), r.id)
					pipe.Publish(ctx, r.store.channel(), r.event(next))
					pipe.Publish(ctx, r.store.taskChannel(r.id), r.valueEvent(next))
					result = store.TxResult{Committed: true, Snapshot: r.snapshotOf(next)}
				}
				return nil
			})
			return err
		}

		err := r.store.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // contention: re-read and retry within this call
		}
		return store.TxResult{}, fmt.Errorf("%w: %v", store.ErrTransport, err)
	}
	return store.TxResult{}, store.ErrAborted
}

func (r *ref) OrderByChild(field string) store.ChildQueryBuilder {
	return &childQueryBuilder{store: r.store, field: field}
}

func (r *ref) snapshotOf(val any) store.Snapshot {
	return snapshot{store: r.store, id: r.id, field: r.field, val: val}
}

// event/valueEvent encode the payloads published on the collection and
// per-task channels; see subscribe.go for their consumers.
func (r *ref) event(val any) []byte {
	b, _ := encodeValue(childEvent{ID: r.id, Value: val})
	return b
}

func (r *ref) valueEvent(val any) []byte {
	b, _ := encodeValue(val)
	return b
}

type childEvent struct {
	ID    string `json:"id"`
	Value any    `json:"value"`
}
