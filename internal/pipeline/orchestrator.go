// Package pipeline runs a schema over a batch of documents: text, extraction call,
// validation. Documents are processed concurrently and reported in input order.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/schema-extractor/internal/common"
	"github.com/joseph-ayodele/schema-extractor/internal/contract"
	"github.com/joseph-ayodele/schema-extractor/internal/llm"
	"github.com/joseph-ayodele/schema-extractor/internal/record"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
	"github.com/joseph-ayodele/schema-extractor/internal/textsource"
)

// Recorder persists a finished (or cancelled) batch.
type Recorder interface {
	RecordBatch(ctx context.Context, res *BatchResult) error
}

type Orchestrator struct {
	texts       textsource.Source
	extractor   llm.Extractor
	recorder    Recorder
	logger      *slog.Logger
	concurrency int
}

type Option func(*Orchestrator)

func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = r
	}
}

func NewOrchestrator(texts textsource.Source, extractor llm.Extractor, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		texts:       texts,
		extractor:   extractor,
		logger:      logger,
		concurrency: 4,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type outcome struct {
	label string
	rec   record.Record
	err   *DocumentError
}

// Run validates the schema, then processes every document. A schema error is
// returned before any call is made. Per-document failures never stop the batch.
// If ctx is cancelled, documents not yet started are marked cancelled and Run
// returns the partial result together with ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, fields []schema.Field, docs []Document) (*BatchResult, error) {
	if err := schema.Validate(fields); err != nil {
		return nil, err
	}
	fields = schema.Clone(fields)
	fn := contract.Compile(fields).Function()
	validator := record.NewValidator(fields)

	id, ok := common.BatchIDFromContext(ctx)
	if !ok {
		id = uuid.New()
		ctx = common.WithBatchID(ctx, id)
	}
	logger := common.LoggerFrom(ctx, o.logger)

	res := &BatchResult{ID: id, Fields: fields, Total: len(docs), StartedAt: time.Now()}
	logger.Info("pipeline.run.start", "documents", len(docs), "concurrency", o.concurrency)

	outcomes := make([]outcome, len(docs))
	var g errgroup.Group
	g.SetLimit(o.concurrency)
	for i, doc := range docs {
		if doc.Label == "" && doc.Path != "" {
			doc.Label = filepath.Base(doc.Path)
		}
		if ctx.Err() != nil {
			outcomes[i] = cancelled(i, doc, ctx.Err())
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = cancelled(i, doc, ctx.Err())
				return nil
			}
			outcomes[i] = o.process(ctx, logger, i, doc, fn, validator)
			return nil
		})
	}
	_ = g.Wait()

	for _, out := range outcomes {
		if out.err != nil {
			res.Failures = append(res.Failures, out.err)
			if out.err.Stage == StageCancelled {
				res.Cancelled = true
			}
			continue
		}
		res.Records = append(res.Records, record.Labeled{Label: out.label, Record: out.rec})
	}
	res.FinishedAt = time.Now()

	logger.Info("pipeline.run.done",
		"status", res.Status(),
		"records", len(res.Records),
		"failures", len(res.Failures),
		"elapsed_ms", res.FinishedAt.Sub(res.StartedAt).Milliseconds(),
	)

	var errs []error
	if o.recorder != nil {
		// persist even when the caller has gone away
		if err := o.recorder.RecordBatch(context.WithoutCancel(ctx), res); err != nil {
			logger.Error("pipeline.run.record_error", "error", err)
			errs = append(errs, fmt.Errorf("record batch: %w", err))
		}
	}
	if err := ctx.Err(); err != nil && res.Cancelled {
		errs = append(errs, err)
	}
	return res, errors.Join(errs...)
}

func (o *Orchestrator) process(ctx context.Context, logger *slog.Logger, i int, doc Document, fn contract.Function, v *record.Validator) outcome {
	start := time.Now()
	logger = logger.With("index", i, "label", doc.Label)

	fail := func(stage Stage, err error) outcome {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			stage = StageCancelled
		}
		logger.Warn("pipeline.document.failed", "stage", stage, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds())
		return outcome{err: &DocumentError{Index: i, Label: doc.Label, Stage: stage, Err: err}}
	}

	text, err := o.text(ctx, doc)
	if err != nil {
		return fail(StageText, err)
	}

	raw, err := o.extractor.Extract(ctx, llm.ExtractRequest{Label: doc.Label, Text: text, Function: fn})
	if err != nil {
		var se *llm.ServiceError
		if !errors.As(err, &se) {
			err = &llm.ServiceError{Label: doc.Label, Err: err}
		}
		return fail(StageExtract, err)
	}

	rec, err := v.ValidateJSON(raw)
	if err != nil {
		return fail(StageValidate, err)
	}

	logger.Info("pipeline.document.ok", "elapsed_ms", time.Since(start).Milliseconds())
	return outcome{label: doc.Label, rec: rec}
}

func (o *Orchestrator) text(ctx context.Context, doc Document) (string, error) {
	switch {
	case doc.Text != "":
		return doc.Text, nil
	case o.texts == nil:
		return "", fmt.Errorf("no text and no text source for %q", doc.Label)
	case doc.Data != nil:
		return o.texts.Text(ctx, doc.Label, bytes.NewReader(doc.Data))
	case doc.Path != "":
		return textsource.FileText(ctx, o.texts, doc.Path)
	default:
		return "", textsource.ErrEmptyText
	}
}

func cancelled(i int, doc Document, err error) outcome {
	return outcome{err: &DocumentError{Index: i, Label: doc.Label, Stage: StageCancelled, Err: err}}
}
