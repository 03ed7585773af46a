package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
	"go.uber.org/atomic"

	"livingworld/server/internal/spatial"
)

// ErrQueueFull is returned by Enqueue when no buffer slot is free
var ErrQueueFull = errors.New("generation queue is full")

// GenerationQueue runs cell generation on a bounded set of workers
type GenerationQueue struct {
	jobs       chan spatial.CellID
	maxWorkers int
	handle     func(context.Context, spatial.CellID)
	log        logrus.FieldLogger

	started   atomic.Bool
	processed atomic.Int64
	pending   sync.WaitGroup
}

// NewGenerationQueue creates a queue holding at most size waiting cells
func NewGenerationQueue(size, maxWorkers int, handle func(context.Context, spatial.CellID), log logrus.FieldLogger) *GenerationQueue {
	if size <= 0 {
		size = 1
	}
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	return &GenerationQueue{
		jobs:       make(chan spatial.CellID, size),
		maxWorkers: maxWorkers,
		handle:     handle,
		log:        log,
	}
}

// Start starts the workers once. They stop after ctx is done and the buffer is drained.
func (q *GenerationQueue) Start(ctx context.Context) {
	if !q.started.CompareAndSwap(false, true) {
		return
	}
	for i := 0; i < q.maxWorkers; i++ {
		go q.worker(ctx)
	}
}

func (q *GenerationQueue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case id := <-q.jobs:
					q.run(ctx, id)
				default:
					return
				}
			}
		case id := <-q.jobs:
			q.run(ctx, id)
		}
	}
}

func (q *GenerationQueue) run(ctx context.Context, id spatial.CellID) {
	defer q.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			q.log.WithField("cell", id.Key()).Errorf("generation worker recovered: %v", r)
		}
	}()
	q.handle(ctx, id)
	q.processed.Inc()
}

// Enqueue adds a cell without blocking
func (q *GenerationQueue) Enqueue(id spatial.CellID) error {
	q.pending.Add(1)
	select {
	case q.jobs <- id:
		return nil
	default:
		q.pending.Done()
		return ErrQueueFull
	}
}

// Wait blocks until every enqueued cell has been handled
func (q *GenerationQueue) Wait() {
	q.pending.Wait()
}

// Depth returns the number of cells waiting for a worker
func (q *GenerationQueue) Depth() int {
	return len(q.jobs)
}

// Processed returns the number of handled cells
func (q *GenerationQueue) Processed() int64 {
	return q.processed.Load()
}
