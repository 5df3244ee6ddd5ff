// Package store defines the abstract Store capability the coordination
// core consumes (spec.md §6.1). Nothing in this package talks to a real
// backing process; see internal/rtdb for the concrete adapter this
// repository wires by default.
package store

import (
	"context"

	"github.com/riftborne/treequeue/internal/record"
)

// Event names for Ref.On/Off, matching the realtime-tree-database
// vocabulary spec.md borrows its interface from.
const (
	EventChildAdded   = "child_added"
	EventChildChanged = "child_changed"
	EventChildRemoved = "child_removed"
	EventValue        = "value"
)

// Snapshot exposes a store.Ref's value at a point in time.
type Snapshot interface {
	// Val returns the raw decoded value: nil, a record.Record, or some
	// other dynamic value if the node held a non-mapping value.
	Val() any
	// Key is this snapshot's child key within its parent.
	Key() string
	// Child navigates to a named field of this snapshot's value,
	// returning a snapshot over just that field.
	Child(key string) Snapshot
	// Exists reports whether the node had any value at all.
	Exists() bool
	// Ref returns the live Ref this snapshot was read from.
	Ref() Ref
}

// Handler receives snapshots from a live subscription. onError, if
// non-nil, receives transport errors that invalidate the subscription —
// the caller is expected to re-subscribe (spec.md §7, TransportError).
type Handler func(snap Snapshot)

// Subscription is the handle returned by Ref.On, passed back to Ref.Off
// to tear the subscription down.
type Subscription interface {
	Unsubscribe()
}

// TxResult is what a committed or aborted Transaction call reports.
type TxResult struct {
	Committed bool
	Snapshot  Snapshot
}

// Query narrows a Ref's children to a subscribable subset, mirroring the
// realtime database's orderByChild(...).equalTo(...).limitToFirst(...)
// query builder (spec.md §6.1). A Query is itself subscribable via On,
// the same as a Ref.
type Query interface {
	On(event string, h Handler, onError func(error)) Subscription
	Off(event string, sub Subscription)
}

// Ref is the core's view of one node in the backing tree store.
type Ref interface {
	// Key is this ref's own child key within its parent, or "" at the root.
	Key() string
	// Child navigates to a named child node.
	Child(key string) Ref
	// Push creates a new uniquely-keyed child and returns its ref. value
	// may be nil to create an empty child whose fields are filled in by a
	// later Set or Transaction.
	Push(ctx context.Context, value record.Record) (Ref, error)
	// Set overwrites this node with value.
	Set(ctx context.Context, value record.Record) error
	// Remove deletes this node.
	Remove(ctx context.Context) error
	// Once performs a one-shot read of the named event (spec.md only uses
	// "value").
	Once(ctx context.Context, event string) (Snapshot, error)
	// On registers a live subscription. onError, if non-nil, is invoked
	// when the underlying transport for this subscription fails.
	On(event string, h Handler, onError func(error)) Subscription
	// Off tears down a subscription previously returned by On.
	Off(event string, sub Subscription)
	// Transaction runs body as a compare-and-set transaction against this
	// ref's current value, per spec.md §4.2 / §6.1.
	Transaction(ctx context.Context, body record.TransactionBody) (TxResult, error)
	// OrderByChild begins a query ordered by the named field.
	OrderByChild(field string) ChildQueryBuilder
}

// ChildQueryBuilder is the fluent builder for Ref.OrderByChild(...).
type ChildQueryBuilder interface {
	EqualTo(value any) LimitableQueryBuilder
}

// LimitableQueryBuilder is the fluent builder for
// Ref.OrderByChild(...).EqualTo(...).
type LimitableQueryBuilder interface {
	LimitToFirst(n int) Query
}
