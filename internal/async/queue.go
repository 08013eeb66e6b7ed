package async

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/schema-extractor/internal/pipeline"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

var (
	ErrQueueClosed = errors.New("queue is shutting down")
	ErrUnknownJob  = errors.New("batch is not queued or running")
)

// Job is one batch submitted for background extraction.
type Job struct {
	BatchID     uuid.UUID
	Fields      []schema.Field
	RowsField   string
	Documents   []pipeline.Document
	SubmittedAt time.Time
	RequestID   string
}

// Processor runs a job to completion. The context is cancelled on timeout or when
// the job is cancelled through the queue.
type Processor interface {
	ProcessBatch(ctx context.Context, job Job) error
}

type ProcessorFunc func(ctx context.Context, job Job) error

func (f ProcessorFunc) ProcessBatch(ctx context.Context, job Job) error { return f(ctx, job) }

type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Cancel(batchID uuid.UUID) error
	Shutdown(ctx context.Context)
}
