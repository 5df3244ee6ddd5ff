// Package storetest is an in-memory store.Ref implementation used by
// worker and pool tests to exercise the full listen-claim-process
// loop without a real backing database.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/store"
)

// Store is a single tasks node: a flat map of task id to record value,
// with live query and field-watch subscriptions.
type Store struct {
	mu      sync.Mutex
	cells   map[string]*cell
	nextID  int64
	queries map[*querySub]struct{}
	values  map[string]map[*valueSub]struct{}
}

type cell struct {
	value any // nil, record.Record, or some other dynamic value
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		cells:   make(map[string]*cell),
		queries: make(map[*querySub]struct{}),
		values:  make(map[string]map[*valueSub]struct{}),
	}
}

// Root returns the store.Ref for the tasks node itself.
func (s *Store) Root() store.Ref { return &ref{store: s} }

// Seed writes a task directly, without running transactions or firing
// subscriptions — for setting up fixtures before a Worker starts
// listening.
func (s *Store) Seed(id string, value record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[id] = &cell{value: cloneAny(value)}
}

// SeedRaw writes a non-mapping value directly at id, without firing
// subscriptions — for constructing the "value is a scalar" malformed-
// task fixture (spec.md §8.3), which record.Record can't represent.
func (s *Store) SeedRaw(id string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells[id] = &cell{value: value}
}

// ForceSet mutates the record at id outside of any transaction and
// fires value subscriptions — for simulating an external actor
// stealing ownership mid-flight (spec.md §8.3, §8.4 scenario 5).
func (s *Store) ForceSet(id string, mutate func(record.Record) record.Record) {
	s.mu.Lock()
	c, ok := s.cells[id]
	var cur record.Record
	if ok {
		if r, isMap := record.IsMapping(c.value); isMap {
			cur = r.Clone()
		}
	}
	if cur == nil {
		cur = record.Record{}
	}
	next := mutate(cur)
	if !ok {
		c = &cell{}
		s.cells[id] = c
	}
	c.value = cloneAny(next)
	val := c.value
	s.mu.Unlock()
	s.notifyValue(id, val)
}

// Snapshot returns the current raw value stored at id, for assertions.
func (s *Store) Snapshot(id string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[id]
	if !ok {
		return nil
	}
	return c.value
}

func (s *Store) nextKey() string {
	n := atomic.AddInt64(&s.nextID, 1)
	return fmt.Sprintf("k%d", n)
}

func (s *Store) getOrCreateCell(id string) *cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cells[id]
	if !ok {
		c = &cell{}
		s.cells[id] = c
	}
	return c
}

func (s *Store) matchingQuerySubs() []*querySub {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := make([]*querySub, 0, len(s.queries))
	for q := range s.queries {
		subs = append(subs, q)
	}
	return subs
}

func (s *Store) valueSubsFor(id string) []*valueSub {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.values[id]
	out := make([]*valueSub, 0, len(subs))
	for v := range subs {
		out = append(out, v)
	}
	return out
}

func (s *Store) notifyChildAdded(id string, val any) {
	for _, q := range s.matchingQuerySubs() {
		q := q
		if q.matches(val) {
			go q.tryDeliver(id, val)
		}
	}
}

func (s *Store) notifyValue(id string, val any) {
	for _, v := range s.valueSubsFor(id) {
		v := v
		go v.deliver(val)
	}
}

func cloneAny(v any) any {
	if r, ok := record.IsMapping(v); ok {
		return r.Clone()
	}
	return v
}

// ref is a store.Ref bound either to the root tasks node (id == "") or
// to one task (id set). field, if set, narrows it to a single field of
// that task's record, for owner-watch subscriptions.
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

func (r *ref) Push(_ context.Context, value record.Record) (store.Ref, error) {
	if r.id != "" {
		return nil, fmt.Errorf("storetest: push only supported on the root ref")
	}
	id := r.store.nextKey()
	c := r.store.getOrCreateCell(id)
	c.value = cloneAny(value)
	r.store.notifyChildAdded(id, c.value)
	return &ref{store: r.store, id: id}, nil
}

func (r *ref) Set(_ context.Context, value record.Record) error {
	if r.id == "" {
		return fmt.Errorf("storetest: set not supported on the root ref")
	}
	c := r.store.getOrCreateCell(r.id)
	c.value = cloneAny(value)
	r.store.notifyValue(r.id, c.value)
	return nil
}

func (r *ref) Remove(_ context.Context) error {
	c := r.store.getOrCreateCell(r.id)
	c.value = nil
	r.store.notifyValue(r.id, nil)
	return nil
}

func (r *ref) Once(_ context.Context, _ string) (store.Snapshot, error) {
	c := r.store.getOrCreateCell(r.id)
	return r.snapshotOf(c.value), nil
}

func (r *ref) On(event string, h store.Handler, onError func(error)) store.Subscription {
	v := &valueSub{store: r.store, id: r.id, field: r.field, handler: h}
	r.store.mu.Lock()
	if r.store.values[r.id] == nil {
		r.store.values[r.id] = make(map[*valueSub]struct{})
	}
	r.store.values[r.id][v] = struct{}{}
	current := r.store.cells[r.id]
	r.store.mu.Unlock()

	var currentVal any
	if current != nil {
		currentVal = current.value
	}
	go v.deliver(currentVal)
	return v
}

func (r *ref) Off(_ string, sub store.Subscription) {
	v, ok := sub.(*valueSub)
	if !ok {
		return
	}
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	v.stop()
	if subs := r.store.values[r.id]; subs != nil {
		delete(subs, v)
	}
}

func (r *ref) Transaction(_ context.Context, body record.TransactionBody) (store.TxResult, error) {
	c := r.store.getOrCreateCell(r.id)
	r.store.mu.Lock()
	current := c.value
	out := body(current)
	switch out.Kind {
	case record.Abort:
		r.store.mu.Unlock()
		return store.TxResult{Committed: false, Snapshot: r.snapshotOf(current)}, nil
	case record.Remove:
		c.value = nil
		r.store.mu.Unlock()
		r.store.notifyValue(r.id, nil)
		return store.TxResult{Committed: true, Snapshot: r.snapshotOf(nil)}, nil
	default:
		next := cloneAny(out.Value)
		c.value = next
		r.store.mu.Unlock()
		r.store.notifyValue(r.id, next)
		return store.TxResult{Committed: true, Snapshot: r.snapshotOf(next)}, nil
	}
}

func (r *ref) OrderByChild(field string) store.ChildQueryBuilder {
	return &childQueryBuilder{store: r.store, field: field}
}

func (r *ref) snapshotOf(val any) store.Snapshot {
	return snapshot{store: r.store, id: r.id, field: r.field, val: val}
}

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

type query struct {
	store *Store
	field string
	value any
	limit int
}

func (q *query) matchesFilter(val any) bool {
	var fieldVal any
	if rec, ok := record.IsMapping(val); ok {
		fieldVal = rec[q.field]
	}
	target, tok := q.value.(string)
	got, gok := fieldVal.(string)
	if tok != gok {
		return !tok && !gok
	}
	return target == got
}

func (q *query) On(event string, h store.Handler, onError func(error)) store.Subscription {
	sub := &querySub{query: q, handler: h, onError: onError}
	q.store.mu.Lock()
	q.store.queries[sub] = struct{}{}
	existing := make([]string, 0, len(q.store.cells))
	vals := make(map[string]any, len(q.store.cells))
	for id, c := range q.store.cells {
		existing = append(existing, id)
		vals[id] = c.value
	}
	q.store.mu.Unlock()

	go func() {
		for _, id := range existing {
			if sub.matches(vals[id]) {
				if !sub.tryDeliver(id, vals[id]) {
					return
				}
			}
		}
	}()
	return sub
}

func (q *query) Off(_ string, sub store.Subscription) {
	qs, ok := sub.(*querySub)
	if !ok {
		return
	}
	q.store.mu.Lock()
	defer q.store.mu.Unlock()
	qs.stop()
	delete(q.store.queries, qs)
}

type querySub struct {
	query   *query
	handler store.Handler
	onError func(error)

	mu        sync.Mutex
	delivered int
	stopped   bool
}

func (s *querySub) matches(val any) bool { return s.query.matchesFilter(val) }

func (s *querySub) tryDeliver(id string, val any) bool {
	s.mu.Lock()
	if s.stopped || s.delivered >= s.query.limit {
		s.mu.Unlock()
		return false
	}
	s.delivered++
	s.mu.Unlock()
	s.handler(snapshot{store: s.query.store, id: id, val: val})
	return true
}

func (s *querySub) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}

// Unsubscribe implements store.Subscription.
func (s *querySub) Unsubscribe() { s.stop() }

type valueSub struct {
	store   *Store
	id      string
	field   string
	handler store.Handler

	mu      sync.Mutex
	stopped bool
}

func (v *valueSub) fieldValue(val any) any {
	if v.field == "" {
		return val
	}
	rec, ok := record.IsMapping(val)
	if !ok {
		return nil
	}
	return rec[v.field]
}

func (v *valueSub) deliver(val any) {
	v.mu.Lock()
	stopped := v.stopped
	v.mu.Unlock()
	if stopped {
		return
	}
	v.handler(snapshot{store: v.store, id: v.id, field: v.field, val: v.fieldValue(val)})
}

func (v *valueSub) stop() {
	v.mu.Lock()
	v.stopped = true
	v.mu.Unlock()
}

// Unsubscribe implements store.Subscription.
func (v *valueSub) Unsubscribe() { v.stop() }

type snapshot struct {
	store *Store
	id    string
	field string
	val   any
}

func (s snapshot) Val() any { return s.val }

func (s snapshot) Key() string {
	if s.field != "" {
		return s.field
	}
	return s.id
}

func (s snapshot) Child(key string) store.Snapshot {
	rec, ok := record.IsMapping(s.val)
	var v any
	if ok {
		v = rec[key]
	}
	return snapshot{store: s.store, id: s.id, field: key, val: v}
}

func (s snapshot) Exists() bool { return s.val != nil }

func (s snapshot) Ref() store.Ref { return &ref{store: s.store, id: s.id} }
