package worker

import (
	"context"
	"sync"

	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/store"
	"github.com/riftborne/treequeue/internal/txn"
)

// Processor is the user-supplied task handler (spec.md §4.3, §6.3). It
// receives the sanitised task record and a Context exposing
// SetProgress/Resolve/Reject, and may also settle implicitly by
// returning: a non-nil result is treated as resolve(result), a nil
// error and nil result as resolve(nil), and a returned error as
// reject(error). A panic is recovered and treated the same as a
// returned error.
type Processor func(ctx context.Context, task record.Record, pctx *Context) (record.Record, error)

// Context is the handle a Processor uses to report progress and to
// settle a task explicitly, ahead of returning from the function.
// Every method is safe to call concurrently. Only the first
// Resolve/Reject takes effect; later ones report and return
// DoubleSettleError. SetProgress does not look at settlement: it keeps
// writing until the Worker's generation moves past this task or the
// progress transaction does not commit (OwnershipLostError).
type Context struct {
	worker     *Worker
	generation int
	ownerToken string
	taskRef    store.Ref

	mu      sync.Mutex
	settled bool
	result  settlement
}

type settlement struct {
	kind   settleKind
	record record.Record
	err    error
}

type settleKind int

const (
	settleNone settleKind = iota
	settleResolve
	settleReject
)

// SetProgress reports incremental progress in [0, 100]. It fails with
// InvalidProgressError for out-of-range or non-integer values, and
// with OwnershipLostError once the Worker's generation has moved past
// this task (the record was reclaimed or already finalized).
func (c *Context) SetProgress(ctx context.Context, progress int) error {
	if progress < 0 || progress > 100 {
		return &InvalidProgressError{Value: progress}
	}
	if !c.worker.stillCurrent(c.generation) {
		return &OwnershipLostError{OwnerToken: c.ownerToken}
	}

	body := record.SetProgress(c.worker.spec, progress, c.ownerToken)
	runner := txn.New(c.taskRef)
	res, err := runner.Run(ctx, txn.OpSetProgress, body)
	if err != nil {
		return err
	}
	if !res.Committed {
		return &OwnershipLostError{OwnerToken: c.ownerToken}
	}
	return nil
}

// OwnerToken returns the owner token this attempt claimed the task
// under, handy for a processor that wants to tag its own logs.
func (c *Context) OwnerToken() string { return c.ownerToken }

// Resolve settles the task successfully ahead of the Processor
// returning. newTask, if non-nil, becomes the replacement record (see
// record.Resolve for the _new_state field's meaning); nil resolves
// with the default finished-state transition.
func (c *Context) Resolve(newTask record.Record) error {
	return c.settle(settlement{kind: settleResolve, record: newTask})
}

// Reject settles the task as failed ahead of the Processor returning.
func (c *Context) Reject(err error) error {
	return c.settle(settlement{kind: settleReject, err: err})
}

func (c *Context) settle(s settlement) error {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		c.worker.reportError(&DoubleSettleError{OwnerToken: c.ownerToken})
		return &DoubleSettleError{OwnerToken: c.ownerToken}
	}
	c.settled = true
	c.result = s
	c.mu.Unlock()
	return nil
}

// hasSettled reports whether the processor already settled explicitly,
// returning the settlement it recorded.
func (c *Context) hasSettled() (settlement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result, c.settled
}

// Settled reports whether the processor already settled the task
// explicitly via Resolve/Reject (explicit), and if so whether that
// settlement was a Reject — callers outside the worker package (e.g.
// instrumentation) can use this instead of the returned error to tell
// what actually happened when a processor settles and then returns nil.
func (c *Context) Settled() (explicit, rejected bool) {
	s, ok := c.hasSettled()
	return ok, ok && s.kind == settleReject
}
