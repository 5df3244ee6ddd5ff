// Package pool implements the Pool (Queue) construct of spec.md §4.4: a
// set of Workers sharing one task node, spec, and processor.
package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/riftborne/treequeue/internal/record"
	"github.com/riftborne/treequeue/internal/store"
	"github.com/riftborne/treequeue/internal/worker"
)

// Options configures a Pool. NumWorkers defaults to 1 when zero.
type Options struct {
	Ref         store.Ref
	Spec        record.Spec
	Processor   worker.Processor
	ReportError func(error)
	NumWorkers  int
}

// Pool fans N Workers out against one task node (spec.md §4.4).
type Pool struct {
	id      string
	workers []*worker.Worker

	mu           sync.Mutex
	shutdownOnce sync.Once
	shutdownDone chan struct{}
}

// New validates opts and constructs numWorkers Workers, none of which
// are listening yet — call Start to begin.
func New(opts Options) (*Pool, error) {
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
	numWorkers := opts.NumWorkers
	if numWorkers == 0 {
		numWorkers = 1
	}
	if numWorkers < 0 {
		return nil, &ConfigurationError{Reason: "numWorkers must be positive"}
	}

	queueID := uuid.New().String()
	workers := make([]*worker.Worker, 0, numWorkers)
	for i := 0; i < numWorkers; i++ {
		w, err := worker.New(worker.Options{
			QueueID:     queueID,
			Index:       i,
			Ref:         opts.Ref,
			Spec:        opts.Spec,
			Processor:   opts.Processor,
			ReportError: opts.ReportError,
		})
		if err != nil {
			return nil, fmt.Errorf("pool: constructing worker %d: %w", i, err)
		}
		workers = append(workers, w)
	}

	return &Pool{
		id:           queueID,
		workers:      workers,
		shutdownDone: make(chan struct{}),
	}, nil
}

// ID returns the Pool's queue id, shared as the "<queueId>:<index>"
// prefix of every Worker's owner id (spec.md §3.3).
func (p *Pool) ID() string { return p.id }

// Workers returns the Pool's Workers, for introspection (e.g. an
// admin surface listing per-worker state).
func (p *Pool) Workers() []*worker.Worker {
	out := make([]*worker.Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Start begins listening on every Worker.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		w.Start(ctx)
	}
}

// Shutdown begins graceful shutdown on every Worker and fans their
// completion into one future. Idempotent: the first call starts
// shutdown and every call (first or not) returns the same channel.
func (p *Pool) Shutdown() <-chan struct{} {
	p.shutdownOnce.Do(func() {
		var wg sync.WaitGroup
		for _, w := range p.workers {
			w := w
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-w.Shutdown()
			}()
		}
		go func() {
			wg.Wait()
			close(p.shutdownDone)
		}()
	})
	return p.shutdownDone
}
