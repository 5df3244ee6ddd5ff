// Package record defines the task record data model and the pure
// transaction bodies that compute a task's next value. Nothing in this
// package performs I/O; see internal/txn for the transaction runner that
// drives these functions against a store.Ref.
package record

// Record is a task's field map, co-located at a unique child key within
// the task node. Keys not listed in the reserved set below are user
// fields, opaque to this package.
type Record map[string]any

// Reserved control field names, written only by the transaction bodies in
// this package.
const (
	FieldState        = "_state"
	FieldStateChanged = "_state_changed"
	FieldOwner        = "_owner"
	FieldProgress     = "_progress"
	FieldErrorDetails = "_error_details"
	fieldNewState     = "_new_state" // input-only: consumed by Resolve, never persisted
	fieldError        = "error"
	fieldErrorStack   = "error_stack"
	fieldOriginalTask = "original_task"
)

// Clone returns a shallow copy of r. The transaction bodies never mutate
// their input in place; they build a new Record to hand to the store.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// merge returns a new Record with overlay's keys applied on top of r.
// A nil value in overlay deletes the key from the result, which is how
// the transaction bodies express "clear _owner" / "clear _error_details".
func merge(r, overlay Record) Record {
	out := r.Clone()
	if out == nil {
		out = make(Record, len(overlay))
	}
	for k, v := range overlay {
		if v == nil {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// State returns the record's _state field, or "" if absent — callers
// compare against Spec.StartState (nil-matches-absent per spec).
func (r Record) State() string {
	if r == nil {
		return ""
	}
	s, _ := r[FieldState].(string)
	return s
}

// Owner returns the record's _owner field, or "" if absent.
func (r Record) Owner() string {
	if r == nil {
		return ""
	}
	o, _ := r[FieldOwner].(string)
	return o
}

// Progress returns the record's _progress field, or 0 if absent or of the
// wrong dynamic type.
func (r Record) Progress() int {
	if r == nil {
		return 0
	}
	switch v := r[FieldProgress].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// ErrorDetails returns the record's _error_details mapping, or nil.
func (r Record) ErrorDetails() map[string]any {
	if r == nil {
		return nil
	}
	d, _ := r[FieldErrorDetails].(map[string]any)
	return d
}

// Sanitized returns a copy of r with all reserved control fields removed,
// the view handed to a processor per spec.md §4.3.
func (r Record) Sanitized() Record {
	out := r.Clone()
	delete(out, FieldState)
	delete(out, FieldStateChanged)
	delete(out, FieldOwner)
	delete(out, FieldProgress)
	delete(out, FieldErrorDetails)
	return out
}

// IsMapping reports whether v is usable as a task Record — the dynamic
// "is this a mapping" check spec.md's claim body performs against a raw
// store value before trusting its shape.
func IsMapping(v any) (Record, bool) {
	switch m := v.(type) {
	case Record:
		return m, true
	case map[string]any:
		return Record(m), true
	case nil:
		return nil, false
	default:
		return nil, false
	}
}

// ServerTimestamp is the opaque sentinel a Store substitutes with its own
// wall-clock value on write (spec.md §3.1, §6.1). The core never
// synthesises clock values itself; it only ever writes this sentinel.
type ServerTimestamp struct{}

// Sentinel is the single value transaction bodies write into
// FieldStateChanged.
var Sentinel = ServerTimestamp{}
