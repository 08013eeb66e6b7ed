package async

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/schema-extractor/internal/common"
)

type ProcessorQueue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once
	send sync.RWMutex // held for reading while sending on ch

	mu     sync.Mutex
	closed bool
	jobs   map[uuid.UUID]*jobState
	base   context.Context
	stop   context.CancelFunc
}

type jobState struct {
	cancelled bool
	cancel    context.CancelFunc
}

type Option func(*ProcessorQueue)

func WithWorkers(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *ProcessorQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *ProcessorQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func NewProcessorQueue(proc Processor, logger *slog.Logger, opts ...Option) *ProcessorQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &ProcessorQueue{
		proc:    proc,
		logger:  logger,
		workers: 2,
		timeout: 10 * time.Minute,
		ch:      make(chan Job, 64),
		jobs:    map[uuid.UUID]*jobState{},
	}
	for _, o := range opts {
		o(q)
	}
	q.base, q.stop = context.WithCancel(context.Background())
	q.start()
	return q
}

func (q *ProcessorQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("worker started", "worker_id", workerID)

				for job := range q.ch {
					q.run(workerID, job)
				}

				q.logger.Info("worker stopped", "worker_id", workerID)
			}(i + 1)
		}
	})
}

func (q *ProcessorQueue) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(q.base, q.timeout)
	defer cancel()
	ctx = common.WithRequestID(ctx, job.RequestID)
	ctx = common.WithBatchID(ctx, job.BatchID)

	q.mu.Lock()
	if st, ok := q.jobs[job.BatchID]; ok {
		st.cancel = cancel
		if st.cancelled {
			// cancelled while queued; the processor still records the outcome
			cancel()
		}
	}
	q.mu.Unlock()

	start := time.Now()
	err := q.proc.ProcessBatch(ctx, job)

	q.mu.Lock()
	delete(q.jobs, job.BatchID)
	q.mu.Unlock()

	if err != nil {
		q.logger.Error("batch processing failed", "worker_id", workerID, "batch_id", job.BatchID, "error", err)
		return
	}
	q.logger.Info("processed batch successfully", "worker_id", workerID, "batch_id", job.BatchID,
		"documents", len(job.Documents), "duration", time.Since(start))
}

// Enqueue blocks while the queue is full, until ctx is done.
func (q *ProcessorQueue) Enqueue(ctx context.Context, job Job) error {
	q.send.RLock()
	defer q.send.RUnlock()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "batch_id", job.BatchID)
		return common.NewAppError("UNAVAILABLE", ErrQueueClosed.Error(), common.ErrUnavailable)
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now().UTC()
	}
	q.jobs[job.BatchID] = &jobState{}
	q.mu.Unlock()

	select {
	case q.ch <- job:
		q.logger.Info("queued batch for processing", "batch_id", job.BatchID, "documents", len(job.Documents))
		return nil
	default:
	}

	q.logger.Warn("queue full, applying backpressure", "batch_id", job.BatchID)
	select {
	case q.ch <- job:
		q.logger.Info("queued batch for processing", "batch_id", job.BatchID, "documents", len(job.Documents))
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.jobs, job.BatchID)
		q.mu.Unlock()
		return ctx.Err()
	}
}

// Cancel stops a running batch, or makes a queued one start already cancelled.
func (q *ProcessorQueue) Cancel(batchID uuid.UUID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	st, ok := q.jobs[batchID]
	if !ok {
		return ErrUnknownJob
	}
	st.cancelled = true
	if st.cancel != nil {
		st.cancel()
	}
	q.logger.Info("batch cancellation requested", "batch_id", batchID)
	return nil
}

// Shutdown stops accepting jobs and drains the queue. If ctx ends first, running
// batches are cancelled.
func (q *ProcessorQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.send.Lock()
	close(q.ch)
	q.send.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context, cancelling running batches")
		q.stop()
	case <-done:
		q.stop()
		q.logger.Info("queue drained, shutdown complete")
	}
}
