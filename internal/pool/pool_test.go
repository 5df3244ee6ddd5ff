package pool

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/storetest"
	"github.com/riftborne/treequeue/internal/worker"
)

func TestPool_RejectsBadConfiguration(t *testing.T) {
	st := storetest.New()
	okProc := func(ctx context.Context, task record.Record, pctx *worker.Context) (record.Record, error) { return nil, nil }

	_, err := New(Options{Ref: nil, Processor: okProc, ReportError: func(error) {}, Spec: record.DefaultSpec()})
	require.Error(t, err)

	_, err = New(Options{Ref: st.Root(), Processor: nil, ReportError: func(error) {}, Spec: record.DefaultSpec()})
	require.Error(t, err)

	_, err = New(Options{Ref: st.Root(), Processor: okProc, ReportError: nil, Spec: record.DefaultSpec()})
	require.Error(t, err)

	_, err = New(Options{Ref: st.Root(), Processor: okProc, ReportError: func(error) {}, Spec: record.DefaultSpec(), NumWorkers: -1})
	require.Error(t, err)
}

func TestPool_DefaultsToOneWorker(t *testing.T) {
	st := storetest.New()
	okProc := func(ctx context.Context, task record.Record, pctx *worker.Context) (record.Record, error) { return nil, nil }
	p, err := New(Options{Ref: st.Root(), Processor: okProc, ReportError: func(error) {}, Spec: record.DefaultSpec()})
	require.NoError(t, err)
	assert.Len(t, p.Workers(), 1)
}

func TestPool_DistributesAcrossWorkers(t *testing.T) {
	st := storetest.New()

	var mu sync.Mutex
	processed := make(map[int]bool)
	ownersSeen := make(map[string]bool)

	proc := func(ctx context.Context, task record.Record, pctx *worker.Context) (record.Record, error) {
		idx, _ := task["index"].(int)
		mu.Lock()
		processed[idx] = true
		ownersSeen[pctx.OwnerToken()] = true
		mu.Unlock()
		return nil, nil
	}

	var reportMu sync.Mutex
	var reportErrs []error
	reportErr := func(err error) {
		reportMu.Lock()
		reportErrs = append(reportErrs, err)
		reportMu.Unlock()
	}

	p, err := New(Options{
		Ref:         st.Root(),
		Processor:   proc,
		ReportError: reportErr,
		Spec:        record.DefaultSpec(),
		NumWorkers:  2,
	})
	require.NoError(t, err)

	ctx := context.Background()
	p.Start(ctx)

	ids := make([]string, 0, 4)
	for i := 0; i < 4; i++ {
		ref, err := st.Root().Push(ctx, record.Record{"index": i})
		require.NoError(t, err)
		ids = append(ids, ref.Key())
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(processed) == 4
	}, 3*time.Second, 10*time.Millisecond)

	for _, id := range ids {
		require.Eventually(t, func() bool {
			return st.Snapshot(id) == nil
		}, 3*time.Second, 10*time.Millisecond)
	}

	workerIDs := make(map[string]bool)
	mu.Lock()
	for ownerToken := range ownersSeen {
		idx := strings.LastIndex(ownerToken, ":")
		require.GreaterOrEqual(t, idx, 0)
		workerIDs[ownerToken[:idx]] = true
	}
	mu.Unlock()
	assert.GreaterOrEqual(t, len(workerIDs), 2, "expected at least two distinct worker ids to have claimed a task")

	for _, w := range p.Workers() {
		assert.True(t, strings.HasPrefix(w.OwnerID(), p.ID()+":"))
	}

	reportMu.Lock()
	assert.Empty(t, reportErrs)
	reportMu.Unlock()
}

func TestPool_ShutdownFansOutAndIsIdempotent(t *testing.T) {
	st := storetest.New()
	proc := func(ctx context.Context, task record.Record, pctx *worker.Context) (record.Record, error) { return nil, nil }
	p, err := New(Options{
		Ref: st.Root(), Processor: proc, ReportError: func(error) {}, Spec: record.DefaultSpec(), NumWorkers: 3,
	})
	require.NoError(t, err)
	p.Start(context.Background())

	select {
	case <-p.Shutdown():
	case <-time.After(2 * time.Second):
		t.Fatal("pool shutdown never completed")
	}
	for _, w := range p.Workers() {
		assert.Equal(t, worker.StateStopped, w.State())
	}

	select {
	case <-p.Shutdown():
	default:
		t.Fatal("second Shutdown call should return an already-settled channel")
	}
}
