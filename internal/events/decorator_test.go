package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/storetest"
	"github.com/riftborne/treequeue/internal/worker"
)

// recordingPublisher collects every event published to it, for
// assertions without a real Redis connection.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event *Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Subscribe(ctx context.Context, types ...Type) (<-chan *Event, error) {
	return nil, errors.New("not implemented")
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Type, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func TestInstrumentProcessor_ExplicitRejectThenNilReturnPublishesRejected(t *testing.T) {
	st := storetest.New()
	pub := &recordingPublisher{}

	base := func(ctx context.Context, task record.Record, pctx *worker.Context) (record.Record, error) {
		_ = pctx.Reject(errors.New("explicit reject"))
		return nil, nil
	}

	w, err := worker.New(worker.Options{
		QueueID:     "q",
		Index:       0,
		Ref:         st.Root(),
		Spec:        record.DefaultSpec(),
		Processor:   InstrumentProcessor(pub, "q", base),
		ReportError: func(error) {},
	})
	require.NoError(t, err)

	w.Start(context.Background())
	_, err = st.Root().Push(context.Background(), record.Record{"index": 0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		types := pub.types()
		return len(types) >= 2 && types[len(types)-1] == TaskRejected
	}, 2*time.Second, 5*time.Millisecond)

	assert.NotContains(t, pub.types(), TaskResolved)
}

func TestInstrumentProcessor_ImplicitResolvePublishesResolved(t *testing.T) {
	st := storetest.New()
	pub := &recordingPublisher{}

	base := func(ctx context.Context, task record.Record, pctx *worker.Context) (record.Record, error) {
		return nil, nil
	}

	w, err := worker.New(worker.Options{
		QueueID:     "q",
		Index:       0,
		Ref:         st.Root(),
		Spec:        record.DefaultSpec(),
		Processor:   InstrumentProcessor(pub, "q", base),
		ReportError: func(error) {},
	})
	require.NoError(t, err)

	w.Start(context.Background())
	_, err = st.Root().Push(context.Background(), record.Record{"index": 0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		types := pub.types()
		return len(types) >= 2 && types[len(types)-1] == TaskResolved
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInstrumentProcessor_ReturnedErrorPublishesRejected(t *testing.T) {
	st := storetest.New()
	pub := &recordingPublisher{}
	boom := errors.New("boom")

	base := func(ctx context.Context, task record.Record, pctx *worker.Context) (record.Record, error) {
		return nil, boom
	}

	w, err := worker.New(worker.Options{
		QueueID:     "q",
		Index:       0,
		Ref:         st.Root(),
		Spec:        record.DefaultSpec(),
		Processor:   InstrumentProcessor(pub, "q", base),
		ReportError: func(error) {},
	})
	require.NoError(t, err)

	w.Start(context.Background())
	_, err = st.Root().Push(context.Background(), record.Record{"index": 0})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		types := pub.types()
		return len(types) >= 2 && types[len(types)-1] == TaskRejected
	}, 2*time.Second, 5*time.Millisecond)
}

func TestInstrumentReportError_PublishesOwnershipLost(t *testing.T) {
	pub := &recordingPublisher{}
	called := false
	next := InstrumentReportError(pub, "q", func(error) { called = true })

	next(&worker.OwnershipLostError{OwnerToken: "q:0:1"})

	assert.True(t, called)
	require.Len(t, pub.events, 1)
	assert.Equal(t, TaskOwnershipLost, pub.events[0].Type)
}

func TestInstrumentReportError_OtherErrorsSkipPublish(t *testing.T) {
	pub := &recordingPublisher{}
	called := false
	next := InstrumentReportError(pub, "q", func(error) { called = true })

	next(errors.New("some other failure"))

	assert.True(t, called)
	assert.Empty(t, pub.events)
}
