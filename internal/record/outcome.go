package record

// Kind tags what a TransactionBody decided to do with the record it was
// handed, per spec.md §4.1.
type Kind int

const (
	// Abort leaves the record unchanged — the precondition failed.
	Abort Kind = iota
	// Remove deletes the record.
	Remove
	// Replace writes Value in full in place of the current record.
	Replace
)

// Outcome is the return value of every TransactionBody.
type Outcome struct {
	Kind  Kind
	Value Record
}

func abort() Outcome             { return Outcome{Kind: Abort} }
func remove() Outcome            { return Outcome{Kind: Remove} }
func replace(v Record) Outcome   { return Outcome{Kind: Replace, Value: v} }

// TransactionBody is a pure function current -> next. current is the raw
// value a store snapshot observed at transaction start — nil if the
// child is absent, a Record if it decodes as a mapping, or any other
// dynamic value if a producer or external actor wrote something else
// (spec.md §4.1's "input is not a mapping" case).
type TransactionBody func(current any) Outcome
