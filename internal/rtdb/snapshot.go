package rtdb

import (
	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/store"
)

// snapshot is a point-in-time value read from, or delivered by, one id
// (and optionally one projected field) of a Store.
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
