package store

import "errors"

var (
	// ErrAborted is returned by Ref.Transaction when the underlying store
	// detected write contention and the caller should retry with a fresh
	// read — the "transient transaction error" class of spec.md §4.2.
	ErrAborted = errors.New("store: transaction aborted due to contention")
	// ErrTransport is returned when a transaction or one-shot read failed
	// because of a transport-level problem rather than contention.
	ErrTransport = errors.New("store: transport error")
)
