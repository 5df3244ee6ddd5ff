package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/storetest"
)

func noopReport(t *testing.T) func(error) {
	t.Helper()
	return func(err error) {
		t.Logf("reportError: %v", err)
	}
}

func TestWorker_HappyPath_ResolveByReturn(t *testing.T) {
	st := storetest.New()
	w, err := New(Options{
		QueueID: "q", Index: 0,
		Ref:  st.Root(),
		Spec: record.DefaultSpec(),
		Processor: func(ctx context.Context, task record.Record, pctx *Context) (record.Record, error) {
			return nil, nil
		},
		ReportError: noopReport(t),
	})
	require.NoError(t, err)

	w.Start(context.Background())
	pushed, err := st.Root().Push(context.Background(), record.Record{"index": 0})
	require.NoError(t, err)
	id := pushed.Key()

	require.Eventually(t, func() bool {
		return st.Snapshot(id) == nil
	}, 2*time.Second, 5*time.Millisecond, "task should be removed on default resolve")
}

func TestWorker_FinishedStateRetained(t *testing.T) {
	st := storetest.New()
	spec := record.DefaultSpec()
	spec.FinishedState = record.StrPtr("finished")

	w, err := New(Options{
		QueueID: "q", Index: 0,
		Ref:  st.Root(),
		Spec: spec,
		Processor: func(ctx context.Context, task record.Record, pctx *Context) (record.Record, error) {
			return nil, nil
		},
		ReportError: noopReport(t),
	})
	require.NoError(t, err)

	w.Start(context.Background())
	pushed, err := st.Root().Push(context.Background(), record.Record{"index": 0})
	require.NoError(t, err)
	id := pushed.Key()

	require.Eventually(t, func() bool {
		r, ok := record.IsMapping(st.Snapshot(id))
		return ok && r.State() == "finished"
	}, 2*time.Second, 5*time.Millisecond)

	r, ok := record.IsMapping(st.Snapshot(id))
	require.True(t, ok)
	assert.Equal(t, 0, r["index"])
	assert.Equal(t, 100, r.Progress())
	assert.Equal(t, "", r.Owner())
	assert.Nil(t, r.ErrorDetails())
}

func TestWorker_CustomStartStateOnlyClaimsMatching(t *testing.T) {
	st := storetest.New()
	spec := record.Spec{StartState: record.StrPtr("go"), InProgressState: "wip", ErrorState: "error"}

	claimed := make(chan string, 2)
	w, err := New(Options{
		QueueID: "q", Index: 0,
		Ref:  st.Root(),
		Spec: spec,
		Processor: func(ctx context.Context, task record.Record, pctx *Context) (record.Record, error) {
			claimed <- "claimed"
			return nil, nil
		},
		ReportError: noopReport(t),
	})
	require.NoError(t, err)

	go0, err := st.Root().Push(context.Background(), record.Record{"index": 0, record.FieldState: "go"})
	require.NoError(t, err)
	other, err := st.Root().Push(context.Background(), record.Record{"index": 1})
	require.NoError(t, err)

	w.Start(context.Background())

	select {
	case <-claimed:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the matching task to be claimed")
	}

	require.Eventually(t, func() bool {
		r, ok := record.IsMapping(st.Snapshot(go0.Key()))
		return ok && r.State() == "wip"
	}, 2*time.Second, 5*time.Millisecond)

	r, ok := record.IsMapping(st.Snapshot(other.Key()))
	require.True(t, ok)
	assert.Equal(t, 1, r["index"])
	assert.Equal(t, "", r.State())
}

func TestWorker_MalformedTaskMovesToErrorState(t *testing.T) {
	st := storetest.New()
	st.SeedRaw("bad", "just a string")

	w, err := New(Options{
		QueueID: "q", Index: 0,
		Ref:  st.Root(),
		Spec: record.DefaultSpec(),
		Processor: func(ctx context.Context, task record.Record, pctx *Context) (record.Record, error) {
			t.Fatal("processor should never be invoked for a malformed task")
			return nil, nil
		},
		ReportError: noopReport(t),
	})
	require.NoError(t, err)

	w.Start(context.Background())

	require.Eventually(t, func() bool {
		r, ok := record.IsMapping(st.Snapshot("bad"))
		return ok && r.State() == "error"
	}, 2*time.Second, 5*time.Millisecond)

	r, _ := record.IsMapping(st.Snapshot("bad"))
	details := r.ErrorDetails()
	require.NotNil(t, details)
	assert.Equal(t, "Task was malformed", details["error"])
	assert.Equal(t, "just a string", details["original_task"])
}

func TestWorker_ProcessorErrorRejects(t *testing.T) {
	st := storetest.New()
	boom := errors.New("boom")
	w, err := New(Options{
		QueueID: "q", Index: 0,
		Ref:  st.Root(),
		Spec: record.DefaultSpec(),
		Processor: func(ctx context.Context, task record.Record, pctx *Context) (record.Record, error) {
			return nil, boom
		},
		ReportError: noopReport(t),
	})
	require.NoError(t, err)

	w.Start(context.Background())
	pushed, err := st.Root().Push(context.Background(), record.Record{"index": 0})
	require.NoError(t, err)
	id := pushed.Key()

	require.Eventually(t, func() bool {
		r, ok := record.IsMapping(st.Snapshot(id))
		return ok && r.State() == "error"
	}, 2*time.Second, 5*time.Millisecond)

	r, _ := record.IsMapping(st.Snapshot(id))
	details := r.ErrorDetails()
	require.NotNil(t, details)
	assert.Equal(t, "boom", details["error"])
	assert.Nil(t, details["error_stack"])
}

func TestWorker_ProcessorPanicRejectsWithStack(t *testing.T) {
	st := storetest.New()
	w, err := New(Options{
		QueueID: "q", Index: 0,
		Ref:  st.Root(),
		Spec: record.DefaultSpec(),
		Processor: func(ctx context.Context, task record.Record, pctx *Context) (record.Record, error) {
			panic("boom")
		},
		ReportError: noopReport(t),
	})
	require.NoError(t, err)

	w.Start(context.Background())
	pushed, err := st.Root().Push(context.Background(), record.Record{"index": 0})
	require.NoError(t, err)
	id := pushed.Key()

	require.Eventually(t, func() bool {
		r, ok := record.IsMapping(st.Snapshot(id))
		return ok && r.State() == "error"
	}, 2*time.Second, 5*time.Millisecond)

	r, _ := record.IsMapping(st.Snapshot(id))
	details := r.ErrorDetails()
	require.NotNil(t, details)
	assert.Equal(t, "boom", details["error"])
	assert.NotEmpty(t, details["error_stack"])
}

func TestWorker_OwnershipStolenMidFlight(t *testing.T) {
	st := storetest.New()
	beacon := make(chan struct{})
	type progressResult struct{ err error }
	results := make(chan progressResult, 1)

	w, err := New(Options{
		QueueID: "q", Index: 0,
		Ref:  st.Root(),
		Spec: record.DefaultSpec(),
		Processor: func(ctx context.Context, task record.Record, pctx *Context) (record.Record, error) {
			<-beacon
			err := pctx.SetProgress(ctx, 88)
			results <- progressResult{err: err}
			_ = pctx.Resolve(nil)
			return nil, nil
		},
		ReportError: noopReport(t),
	})
	require.NoError(t, err)

	w.Start(context.Background())
	pushed, err := st.Root().Push(context.Background(), record.Record{"index": 0})
	require.NoError(t, err)
	id := pushed.Key()

	require.Eventually(t, func() bool {
		return w.State() == StateProcessing
	}, 2*time.Second, 5*time.Millisecond)

	origGen := w.currentGeneration()

	st.ForceSet(id, func(r record.Record) record.Record {
		r[record.FieldOwner] = "intruder"
		return r
	})

	require.Eventually(t, func() bool {
		return w.currentGeneration() > origGen
	}, 2*time.Second, 5*time.Millisecond, "owner watch should advance the generation")

	close(beacon)

	select {
	case res := <-results:
		require.Error(t, res.err)
		var lost *OwnershipLostError
		require.ErrorAs(t, res.err, &lost)
	case <-time.After(2 * time.Second):
		t.Fatal("setProgress never returned")
	}

	require.Eventually(t, func() bool {
		return w.State() == StateListening
	}, 2*time.Second, 5*time.Millisecond)

	r, ok := record.IsMapping(st.Snapshot(id))
	require.True(t, ok)
	assert.Equal(t, "intruder", r.Owner())
	assert.Equal(t, "in_progress", r.State())
}

func TestWorker_ShutdownWaitsForInFlightTask(t *testing.T) {
	st := storetest.New()
	proceed := make(chan struct{})

	w, err := New(Options{
		QueueID: "q", Index: 0,
		Ref:  st.Root(),
		Spec: record.DefaultSpec(),
		Processor: func(ctx context.Context, task record.Record, pctx *Context) (record.Record, error) {
			<-proceed
			return nil, nil
		},
		ReportError: noopReport(t),
	})
	require.NoError(t, err)

	w.Start(context.Background())
	_, err = st.Root().Push(context.Background(), record.Record{"index": 0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return w.State() == StateProcessing
	}, 2*time.Second, 5*time.Millisecond)

	done := w.Shutdown()
	select {
	case <-done:
		t.Fatal("shutdown should not complete while a task is in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(proceed)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown never completed")
	}
	assert.Equal(t, StateStopped, w.State())

	// Idempotent: a second call returns the same, already-closed channel.
	again := w.Shutdown()
	select {
	case <-again:
	default:
		t.Fatal("second Shutdown call should return an already-settled channel")
	}
}

func TestWorker_ShutdownIdleCompletesImmediately(t *testing.T) {
	st := storetest.New()
	w, err := New(Options{
		QueueID: "q", Index: 0,
		Ref:  st.Root(),
		Spec: record.DefaultSpec(),
		Processor: func(ctx context.Context, task record.Record, pctx *Context) (record.Record, error) {
			return nil, nil
		},
		ReportError: noopReport(t),
	})
	require.NoError(t, err)

	w.Start(context.Background())

	select {
	case <-w.Shutdown():
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown of an idle worker should complete promptly")
	}
	assert.Equal(t, StateStopped, w.State())
}

func TestNew_RejectsBadConfiguration(t *testing.T) {
	st := storetest.New()
	validProcessor := func(ctx context.Context, task record.Record, pctx *Context) (record.Record, error) { return nil, nil }
	validReport := func(error) {}

	_, err := New(Options{Ref: nil, Processor: validProcessor, ReportError: validReport, Spec: record.DefaultSpec()})
	require.Error(t, err)

	_, err = New(Options{Ref: st.Root(), Processor: nil, ReportError: validReport, Spec: record.DefaultSpec()})
	require.Error(t, err)

	_, err = New(Options{Ref: st.Root(), Processor: validProcessor, ReportError: nil, Spec: record.DefaultSpec()})
	require.Error(t, err)

	badSpec := record.Spec{InProgressState: "same", ErrorState: "same"}
	_, err = New(Options{Ref: st.Root(), Processor: validProcessor, ReportError: validReport, Spec: badSpec})
	require.Error(t, err)
}
