package rtdb

import (
	"context"
	"sync"

	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/store"
)

type childQueryBuilder struct {
	store *Store
	field string
}

func (b *childQueryBuilder) EqualTo(value any) store.LimitableQueryBuilder {
	return &limitableQueryBuilder{store: b.store, field: b.field, value: value}
}

type limitableQueryBuilder struct {
	store *Store
	field string
	value any
}

func (b *limitableQueryBuilder) LimitToFirst(n int) store.Query {
	return &query{store: b.store, field: b.field, value: b.value, limit: n}
}

// query is a subscribable orderByChild(field).equalTo(value) view over
// the tasks collection, matching exactly the children the field's
// Redis-set index says qualify (index.go keeps that index current).
type query struct {
	store *Store
	field string
	value any
	limit int
}

// matches mirrors the in-memory test double's filter semantics: a
// string equalTo value matches only an equal string field; any other
// equalTo value (nil, in every caller this codebase has) matches a
// field that is absent or not itself a string.
func (q *query) matches(val any) bool {
	var fieldVal any
	if rec, ok := record.IsMapping(val); ok {
		fieldVal = rec[q.field]
	}
	target, tok := q.value.(string)
	got, gok := fieldVal.(string)
	if tok != gok {
		return false
	}
	return target == got
}

func (q *query) On(event string, h store.Handler, onError func(error)) store.Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &querySubscription{query: q, handler: h, cancel: cancel}

	go func() {
		// Subscribe before scanning existing matches so a write that
		// lands while the scan is in flight is still observed via the
		// channel, not lost in the gap between the two.
		pubsub := q.store.client.Subscribe(ctx, q.store.channel())
		defer pubsub.Close()
		if _, err := pubsub.Receive(ctx); err != nil {
			if onError != nil && ctx.Err() == nil {
				onError(err)
			}
			return
		}
		ch := pubsub.Channel()

		ids, err := q.store.matchingIDs(ctx, q.field, q.value)
		if err != nil {
			if onError != nil && ctx.Err() == nil {
				onError(err)
			}
			return
		}
		for _, id := range ids {
			data, err := q.store.client.Get(ctx, q.store.taskKey(id)).Bytes()
			if err != nil {
				continue
			}
			val, err := decodeValue(data)
			if err != nil {
				continue
			}
			if !sub.tryDeliver(id, val) {
				return
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var evt childEvent
				raw, err := decodeValue([]byte(msg.Payload))
				if err != nil {
					continue
				}
				rec, ok := record.IsMapping(raw)
				if !ok {
					continue
				}
				evt.ID, _ = rec["id"].(string)
				evt.Value = rec["value"]
				if evt.ID == "" {
					continue
				}
				if !sub.matches(evt.Value) {
					continue
				}
				if !sub.tryDeliver(evt.ID, evt.Value) {
					return
				}
			}
		}
	}()

	return sub
}

func (q *query) Off(event string, sub store.Subscription) {
	sub.Unsubscribe()
}

type querySubscription struct {
	query   *query
	handler store.Handler
	cancel  context.CancelFunc

	mu        sync.Mutex
	delivered int
	stopped   bool
	seen      map[string]bool
}

func (s *querySubscription) matches(val any) bool { return s.query.matches(val) }

func (s *querySubscription) tryDeliver(id string, val any) bool {
	s.mu.Lock()
	if s.stopped || s.delivered >= s.query.limit {
		s.mu.Unlock()
		return false
	}
	if s.seen == nil {
		s.seen = make(map[string]bool)
	}
	if s.seen[id] {
		s.mu.Unlock()
		return true
	}
	s.seen[id] = true
	s.delivered++
	limitReached := s.delivered >= s.query.limit
	s.mu.Unlock()

	s.handler(snapshot{store: s.query.store, id: id, val: val})
	return !limitReached
}

func (s *querySubscription) Unsubscribe() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
}
