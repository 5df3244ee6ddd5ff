package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/store"
	"github.com/riftborne/treequeue/internal/txn"
)

// State is a Worker's position in the listen-claim-process-finalize
// state machine (spec.md §4.3).
type State int

const (
	StateListening State = iota
	StateClaiming
	StateProcessing
	StateFinalizing
	StateShuttingDown
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateClaiming:
		return "claiming"
	case StateProcessing:
		return "processing"
	case StateFinalizing:
		return "finalizing"
	case StateShuttingDown:
		return "shutting_down"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Options configures a Worker. QueueID and Index combine into the
// owner id "<queueID>:<index>" (spec.md §3.3).
type Options struct {
	QueueID     string
	Index       int
	Ref         store.Ref
	Spec        record.Spec
	Processor   Processor
	ReportError func(error)
}

// Worker is a long-lived actor claiming tasks one at a time from a
// shared task node (spec.md §4.3). Its public surface is New and
// Start/Shutdown; everything else is driven by store callbacks and
// serialised behind mu.
type Worker struct {
	ownerID     string
	ref         store.Ref
	spec        record.Spec
	processor   Processor
	reportErrFn func(error)

	mu                sync.Mutex
	state             State
	busy              bool
	generation        int
	shutdownSignalled bool

	query        store.Query
	subscription store.Subscription

	ownerWatch    store.Subscription
	ownerWatchRef store.Ref

	shutdownOnce sync.Once
	shutdownDone chan struct{}
	stopOnce     sync.Once
}

// New validates opts and constructs a Worker. It does not subscribe to
// anything until Start is called.
func New(opts Options) (*Worker, error) {
	if opts.Ref == nil {
		return nil, &ConfigurationError{Reason: "storeRef is required"}
	}
	if opts.Processor == nil {
		return nil, &ConfigurationError{Reason: "processor is required"}
	}
	if opts.ReportError == nil {
		return nil, &ConfigurationError{Reason: "reportError is required"}
	}
	if err := record.Validate(opts.Spec); err != nil {
		return nil, &ConfigurationError{Reason: err.Error()}
	}
	return &Worker{
		ownerID:      fmt.Sprintf("%s:%d", opts.QueueID, opts.Index),
		ref:          opts.Ref,
		spec:         opts.Spec,
		processor:    opts.Processor,
		reportErrFn:  opts.ReportError,
		shutdownDone: make(chan struct{}),
	}, nil
}

// OwnerID returns this Worker's "<queueID>:<index>" identity.
func (w *Worker) OwnerID() string { return w.ownerID }

// State reports the Worker's current control-flow state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start subscribes to the start-state query, entering Listening.
func (w *Worker) Start(ctx context.Context) {
	w.subscribeListening(ctx)
}

// Shutdown begins graceful shutdown, idempotently. The returned
// channel closes once the subscription is torn down and any in-flight
// task has finished finalizing (spec.md §4.3, §5).
func (w *Worker) Shutdown() <-chan struct{} {
	w.shutdownOnce.Do(func() {
		w.mu.Lock()
		w.shutdownSignalled = true
		busy := w.busy
		w.mu.Unlock()

		w.unsubscribeListening()

		if !busy {
			w.finishShutdown()
		}
	})
	return w.shutdownDone
}

func (w *Worker) finishShutdown() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.state = StateStopped
		w.mu.Unlock()
		close(w.shutdownDone)
	})
}

func (w *Worker) reportError(err error) {
	if err == nil {
		return
	}
	w.reportErrFn(err)
}

func (w *Worker) ownerToken(generation int) string {
	return fmt.Sprintf("%s:%d", w.ownerID, generation)
}

// stillCurrent reports whether generation is still the Worker's
// active attempt — the generation-token check that neutralises stale
// processor callbacks after ownership loss (spec.md §5, §9).
func (w *Worker) stillCurrent(generation int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generation == generation
}

func (w *Worker) currentGeneration() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generation
}

func (w *Worker) startQuery() store.Query {
	var eq any
	if w.spec.StartState != nil {
		eq = *w.spec.StartState
	}
	return w.ref.OrderByChild(record.FieldState).EqualTo(eq).LimitToFirst(1)
}

// subscribeListening re-enters Listening unless shutdown has already
// been signalled, in which case it finishes shutdown instead.
func (w *Worker) subscribeListening(ctx context.Context) {
	w.mu.Lock()
	if w.shutdownSignalled {
		w.mu.Unlock()
		w.finishShutdown()
		return
	}
	w.state = StateListening
	w.mu.Unlock()

	query := w.startQuery()
	sub := query.On(
		store.EventChildAdded,
		func(snap store.Snapshot) { w.onTaskNotified(ctx, snap) },
		func(err error) { w.onSubscriptionError(ctx, err) },
	)

	w.mu.Lock()
	w.query, w.subscription = query, sub
	w.mu.Unlock()
}

func (w *Worker) unsubscribeListening() {
	w.mu.Lock()
	q, sub := w.query, w.subscription
	w.query, w.subscription = nil, nil
	w.mu.Unlock()
	if q != nil && sub != nil {
		q.Off(store.EventChildAdded, sub)
	}
}

func (w *Worker) onSubscriptionError(ctx context.Context, err error) {
	w.reportError(fmt.Errorf("worker %s: listening subscription error: %w", w.ownerID, err))
	w.mu.Lock()
	listening := w.state == StateListening
	w.mu.Unlock()
	if listening {
		w.unsubscribeListening()
		w.subscribeListening(ctx)
	}
}

// onTaskNotified handles the first child-added event for an eligible
// task: unsubscribe immediately (one task at a time), advance the
// generation, and run the claim transaction.
func (w *Worker) onTaskNotified(ctx context.Context, snap store.Snapshot) {
	w.mu.Lock()
	if w.state != StateListening {
		w.mu.Unlock()
		return
	}
	w.state = StateClaiming
	w.generation++
	generation := w.generation
	w.mu.Unlock()

	w.unsubscribeListening()

	taskRef := snap.Ref()
	ownerToken := w.ownerToken(generation)
	go w.runClaim(ctx, taskRef, generation, ownerToken)
}

func (w *Worker) runClaim(ctx context.Context, taskRef store.Ref, generation int, ownerToken string) {
	runner := txn.New(taskRef)
	body := record.Claim(w.spec, ownerToken)
	result, err := runner.Run(ctx, txn.OpClaim, body)
	if err != nil {
		w.reportError(fmt.Errorf("worker %s: claim failed: %w", w.ownerID, err))
		w.returnToListeningOrShutdown(ctx)
		return
	}
	if !result.Committed {
		w.returnToListeningOrShutdown(ctx)
		return
	}

	claimed, ok := record.IsMapping(result.Value)
	if !ok || claimed.State() != w.spec.InProgressState {
		// Either the input wasn't a mapping (claim wrote errorState with
		// malformed-task details) or something else committed in the
		// meantime; either way there is nothing for this Worker to process.
		w.returnToListeningOrShutdown(ctx)
		return
	}

	w.mu.Lock()
	w.state = StateProcessing
	w.busy = true
	w.mu.Unlock()

	w.installOwnerWatch(taskRef, generation, ownerToken)
	w.invokeProcessor(ctx, taskRef, generation, ownerToken, claimed)
}

func (w *Worker) returnToListeningOrShutdown(ctx context.Context) {
	w.mu.Lock()
	shuttingDown := w.shutdownSignalled
	w.mu.Unlock()
	if shuttingDown {
		w.finishShutdown()
		return
	}
	w.subscribeListening(ctx)
}

func (w *Worker) installOwnerWatch(taskRef store.Ref, generation int, ownerToken string) {
	ownerRef := taskRef.Child(record.FieldOwner)
	sub := ownerRef.On(
		store.EventValue,
		func(snap store.Snapshot) { w.onOwnerChanged(generation, ownerToken, snap) },
		func(err error) { w.reportError(fmt.Errorf("worker %s: owner watch error: %w", w.ownerID, err)) },
	)
	w.mu.Lock()
	w.ownerWatch, w.ownerWatchRef = sub, ownerRef
	w.mu.Unlock()
}

// onOwnerChanged advances the generation the moment an observer other
// than this attempt's owner token writes _owner, so any transactions
// an in-flight processor still has queued abort cleanly (spec.md §4.3
// "Ownership-loss handling").
func (w *Worker) onOwnerChanged(generation int, ownerToken string, snap store.Snapshot) {
	observed, _ := snap.Val().(string)
	if observed == ownerToken {
		return
	}

	w.mu.Lock()
	if w.generation != generation {
		w.mu.Unlock()
		return
	}
	w.generation++
	sub, ref := w.ownerWatch, w.ownerWatchRef
	w.ownerWatch, w.ownerWatchRef = nil, nil
	w.mu.Unlock()

	if sub != nil && ref != nil {
		ref.Off(store.EventValue, sub)
	}
}

// detachOwnerWatch tears down the owner watch for generation if it is
// still the one installed — a normal settle (no ownership loss) still
// needs to stop watching before re-subscribing to listen.
func (w *Worker) detachOwnerWatch(generation int) {
	w.mu.Lock()
	if w.generation != generation {
		w.mu.Unlock()
		return
	}
	sub, ref := w.ownerWatch, w.ownerWatchRef
	w.ownerWatch, w.ownerWatchRef = nil, nil
	w.mu.Unlock()

	if sub != nil && ref != nil {
		ref.Off(store.EventValue, sub)
	}
}

func (w *Worker) invokeProcessor(ctx context.Context, taskRef store.Ref, generation int, ownerToken string, claimed record.Record) {
	pctx := &Context{worker: w, generation: generation, ownerToken: ownerToken, taskRef: taskRef}
	sanitized := claimed.Sanitized()

	go func() {
		result, err := w.runProcessor(ctx, sanitized, pctx)
		w.finalize(ctx, taskRef, generation, ownerToken, pctx, result, err)
	}()
}

func (w *Worker) runProcessor(ctx context.Context, task record.Record, pctx *Context) (result record.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			w.reportError(fmt.Errorf("worker %s: processor panicked: %v", w.ownerID, r))
			err = &panicError{msg: fmt.Sprint(r), stack: stack}
		}
	}()
	return w.processor(ctx, task, pctx)
}

func (w *Worker) finalize(ctx context.Context, taskRef store.Ref, generation int, ownerToken string, pctx *Context, result record.Record, procErr error) {
	w.mu.Lock()
	w.state = StateFinalizing
	w.mu.Unlock()

	w.detachOwnerWatch(generation)

	var body record.TransactionBody
	var op txn.Op

	if s, explicit := pctx.hasSettled(); explicit && s.kind == settleReject {
		errString, errStack := normalizeError(s.err)
		body = record.Reject(w.spec, errString, errStack, ownerToken)
		op = txn.OpReject
	} else if explicit {
		body = record.Resolve(w.spec, s.record, ownerToken)
		op = txn.OpResolve
	} else if procErr != nil {
		errString, errStack := normalizeError(procErr)
		body = record.Reject(w.spec, errString, errStack, ownerToken)
		op = txn.OpReject
	} else {
		body = record.Resolve(w.spec, result, ownerToken)
		op = txn.OpResolve
	}

	runner := txn.New(taskRef)
	res, err := runner.Run(ctx, op, body)
	if err != nil {
		// A race between the resolve/reject path and ownership loss can
		// both legitimately fail here; surface every finalize-path error
		// rather than swallow it (spec.md §9).
		w.reportError(fmt.Errorf("worker %s: finalize %s failed: %w", w.ownerID, op, err))
	} else if !res.Committed {
		w.reportError(&OwnershipLostError{OwnerToken: ownerToken})
	}

	w.mu.Lock()
	w.busy = false
	shuttingDown := w.shutdownSignalled
	w.mu.Unlock()

	if shuttingDown {
		w.finishShutdown()
		return
	}
	w.subscribeListening(ctx)
}

// panicError wraps a recovered processor panic so normalizeError can
// recover its stack trace; ordinary processor errors never carry one
// (spec.md §4.3's error-normalisation rules collapse naturally onto
// Go's single error type, except for this one case).
type panicError struct {
	msg   string
	stack string
}

func (e *panicError) Error() string { return e.msg }

func normalizeError(err error) (errString, errStack any) {
	if err == nil {
		return nil, nil
	}
	var pe *panicError
	if errors.As(err, &pe) {
		return pe.msg, pe.stack
	}
	return err.Error(), nil
}
