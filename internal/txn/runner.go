// Package txn executes record.TransactionBody values against a store.Ref
// as optimistic transactions, retrying transient failures up to a bound
// (spec.md §4.2). Nothing here suspends outside of the store call itself.
package txn

import (
	"context"
	"errors"

	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/store"
)

// MaxAttempts bounds how many attempts (the first one included)
// Runner.Run makes at a transaction that keeps failing with transient
// store errors before surfacing TransactionExhaustedError, per spec.md §4.2.
const MaxAttempts = 10

// Result is store.TxResult with the snapshot unwrapped to its value:
// the committed value when Committed is true, the current value when
// the body aborted.
type Result struct {
	Committed bool
	Value     any
}

// Runner drives a TransactionBody against one store.Ref.
type Runner struct {
	Ref store.Ref
}

// New returns a Runner bound to ref.
func New(ref store.Ref) *Runner {
	return &Runner{Ref: ref}
}

// Run executes body as a transaction, retrying on store.ErrAborted and
// store.ErrTransport, making at most MaxAttempts attempts. op identifies the
// operation class for TransactionExhaustedError.
func (r *Runner) Run(ctx context.Context, op Op, body record.TransactionBody) (Result, error) {
	var lastErr error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		res, err := r.Ref.Transaction(ctx, body)
		if err == nil {
			var val any
			if res.Snapshot != nil {
				val = res.Snapshot.Val()
			}
			return Result{Committed: res.Committed, Value: val}, nil
		}

		lastErr = err
		if !isTransient(err) {
			return Result{}, err
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
	}
	return Result{}, &TransactionExhaustedError{Op: op, Attempts: MaxAttempts, Last: lastErr}
}

func isTransient(err error) bool {
	return errors.Is(err, store.ErrAborted) || errors.Is(err, store.ErrTransport)
}
