// Package worker implements the listen-claim-process-finalize actor
// described in spec.md §4.3: a long-lived loop that subscribes to a
// task node's start-state query, claims one task at a time, invokes a
// user-supplied processor, and finalizes the result.
package worker

import "fmt"

// ConfigurationError is returned synchronously from New when the
// supplied options fail validation (spec.md §4.5, §7).
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("worker: configuration error: %s", e.Reason)
}

// InvalidProgressError is returned from Context.SetProgress when the
// caller passed a non-integer or out-of-range value.
type InvalidProgressError struct {
	Value any
}

func (e *InvalidProgressError) Error() string {
	return fmt.Sprintf("worker: invalid progress value %v", e.Value)
}

// OwnershipLostError is returned from Context.SetProgress when the
// Worker's generation has advanced past the call's or the progress
// transaction did not commit, and reported through ReportError when a
// resolve/reject transaction does not commit — in each case the task
// was reclaimed or finalized out from under the processor.
type OwnershipLostError struct {
	OwnerToken string
}

func (e *OwnershipLostError) Error() string {
	return fmt.Sprintf("worker: ownership lost, %s is no longer current", e.OwnerToken)
}

// DoubleSettleError is both reported through ReportError and returned
// to the caller when a processor calls Resolve/Reject more than once.
// A processor that settles explicitly and then returns a result or an
// error is not reported; the explicit settlement is the one finalized.
type DoubleSettleError struct {
	OwnerToken string
}

func (e *DoubleSettleError) Error() string {
	return fmt.Sprintf("worker: task %s settled more than once", e.OwnerToken)
}
