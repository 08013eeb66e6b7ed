// Package extraction is the application service behind the HTTP, gRPC and CLI
// surfaces: single-document extraction, spreadsheet generation and background batches.
package extraction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/schema-extractor/constants"
	"github.com/joseph-ayodele/schema-extractor/internal/async"
	"github.com/joseph-ayodele/schema-extractor/internal/common"
	"github.com/joseph-ayodele/schema-extractor/internal/entity"
	"github.com/joseph-ayodele/schema-extractor/internal/export"
	"github.com/joseph-ayodele/schema-extractor/internal/flatten"
	"github.com/joseph-ayodele/schema-extractor/internal/llm"
	"github.com/joseph-ayodele/schema-extractor/internal/pipeline"
	"github.com/joseph-ayodele/schema-extractor/internal/record"
	"github.com/joseph-ayodele/schema-extractor/internal/repository"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
	"github.com/joseph-ayodele/schema-extractor/internal/textsource"
)

const (
	maxTextChars  = 200_000
	maxDocuments  = 500
	maxLabelChars = 1024
)

// Config holds the defaults applied when a request carries no schema.
type Config struct {
	Fields      []schema.Field
	RowsField   string
	Concurrency int
}

// Service handles extraction business logic.
type Service struct {
	texts     textsource.Source
	single    *pipeline.Orchestrator
	batch     *pipeline.Orchestrator
	exporter  *export.Service
	batches   repository.BatchRepository
	queue     async.Queue
	fields    []schema.Field
	rowsField string
	logger    *slog.Logger
}

// NewService creates the service. batches may be nil, which disables background batches.
func NewService(cfg Config, texts textsource.Source, extractor llm.Extractor, batches repository.BatchRepository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	fields := cfg.Fields
	if len(fields) == 0 {
		fields = schema.Default()
	}
	opts := []pipeline.Option{pipeline.WithConcurrency(cfg.Concurrency)}
	if batches != nil {
		opts = append(opts, pipeline.WithRecorder(batches))
	}
	return &Service{
		texts:     texts,
		single:    pipeline.NewOrchestrator(texts, extractor, logger),
		batch:     pipeline.NewOrchestrator(texts, extractor, logger, opts...),
		exporter:  export.NewService(logger),
		batches:   batches,
		fields:    schema.Clone(fields),
		rowsField: cfg.RowsField,
		logger:    logger,
	}
}

// AttachQueue enables SubmitBatch. The queue is expected to call back into ProcessBatch.
func (s *Service) AttachQueue(q async.Queue) { s.queue = q }

// DefaultFields returns the schema used when a request has none.
func (s *Service) DefaultFields() []schema.Field { return schema.Clone(s.fields) }

func (s *Service) fieldsOrDefault(fields []schema.Field) []schema.Field {
	if len(fields) == 0 {
		return s.DefaultFields()
	}
	return fields
}

func (s *Service) rowsFieldOrDefault(rowsField string, custom bool) string {
	if rowsField != "" || custom {
		return rowsField
	}
	return s.rowsField
}

// ExtractText returns the text of one uploaded document.
func (s *Service) ExtractText(ctx context.Context, name string, r io.Reader) (string, error) {
	v := common.NewInputValidator()
	v.Field("file_name", name, common.Required, common.MaxLength(maxLabelChars))
	if err := v.Err(); err != nil {
		return "", err
	}
	if s.texts == nil {
		return "", common.NewAppError("UNAVAILABLE", "no text source configured", common.ErrUnavailable)
	}

	logger := common.LoggerFrom(ctx, s.logger)
	text, err := s.texts.Text(ctx, name, r)
	if err != nil {
		logger.Warn("extract_text.failed", "file_name", name, "error", err)
		if errors.Is(err, textsource.ErrUnsupportedFormat) {
			return "", common.NewAppError("INVALID_INPUT", err.Error(), common.ErrInvalidInput)
		}
		return "", err
	}
	logger.Info("extract_text.ok", "file_name", name, "chars", len(text))
	return text, nil
}

// ExtractData runs one text through the extraction call and validates the answer
// against fields (the default schema when empty).
func (s *Service) ExtractData(ctx context.Context, text string, fields []schema.Field) (record.Record, error) {
	v := common.NewInputValidator()
	v.Field("text", text, common.Required, common.MaxLength(maxTextChars))
	if err := v.Err(); err != nil {
		return record.Record{}, err
	}

	res, err := s.single.Run(ctx, s.fieldsOrDefault(fields), []pipeline.Document{{Label: "text", Text: text}})
	if err != nil {
		return record.Record{}, err
	}
	if len(res.Failures) > 0 {
		return record.Record{}, res.Failures[0].Err
	}
	return res.Records[0].Record, nil
}

// LabeledData is a previously extracted record as sent back by a client.
type LabeledData struct {
	FileName string          `json:"fileName"`
	Data     json.RawMessage `json:"data"`
}

// GenerateRequest asks for a spreadsheet of already extracted records.
type GenerateRequest struct {
	Data      []LabeledData
	Fields    []schema.Field
	RowsField string
	Format    export.Format
}

// Generate re-validates every record against the schema, then flattens and encodes them.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*export.File, error) {
	v := common.NewInputValidator()
	v.Field("data", len(req.Data), common.MaxItems(maxDocuments))
	if err := v.Err(); err != nil {
		return nil, err
	}
	fields := s.fieldsOrDefault(req.Fields)
	if err := schema.Validate(fields); err != nil {
		return nil, err
	}

	validator := record.NewValidator(fields)
	batch := make([]record.Labeled, 0, len(req.Data))
	for i, d := range req.Data {
		rec, err := validator.ValidateJSON(d.Data)
		if err != nil {
			return nil, common.NewAppError("INVALID_INPUT",
				fmt.Sprintf("data[%d] (%s)", i, d.FileName), errors.Join(common.ErrInvalidInput, err))
		}
		batch = append(batch, record.Labeled{Label: d.FileName, Record: rec})
	}

	rowsField := s.rowsFieldOrDefault(req.RowsField, len(req.Fields) > 0)
	return s.exporter.Export(ctx, fields, batch, flatten.Options{RowsField: rowsField}, req.Format)
}

// BatchRequest submits documents for background extraction.
type BatchRequest struct {
	Name      string
	Fields    []schema.Field
	RowsField string
	Documents []pipeline.Document
}

// SubmitBatch persists a queued batch and hands it to the queue.
func (s *Service) SubmitBatch(ctx context.Context, req BatchRequest) (*entity.Batch, error) {
	if s.batches == nil || s.queue == nil {
		return nil, common.NewAppError("UNAVAILABLE", "background batches are not configured", common.ErrUnavailable)
	}
	v := common.NewInputValidator()
	v.Field("documents", len(req.Documents), common.MaxItems(maxDocuments))
	v.Field("name", req.Name, common.MaxLength(255))
	if len(req.Documents) == 0 {
		v.Field("documents", nil, common.Required)
	}
	for i, d := range req.Documents {
		v.Field(fmt.Sprintf("documents[%d].label", i), d.Label, common.Required, common.MaxLength(maxLabelChars))
	}
	if err := v.Err(); err != nil {
		return nil, err
	}

	fields := s.fieldsOrDefault(req.Fields)
	if err := schema.Validate(fields); err != nil {
		return nil, err
	}
	rowsField := s.rowsFieldOrDefault(req.RowsField, len(req.Fields) > 0)
	// reject a schema that could never be exported before doing any work
	if _, err := flatten.Columns(fields, flatten.Options{RowsField: rowsField}); err != nil {
		return nil, err
	}

	b := &entity.Batch{
		Name:      strings.TrimSpace(req.Name),
		Status:    constants.BatchStatusQueued,
		Fields:    fields,
		RowsField: rowsField,
		Total:     len(req.Documents),
	}
	if err := s.batches.Create(ctx, b); err != nil {
		return nil, err
	}

	job := async.Job{
		BatchID:   b.ID,
		Fields:    fields,
		RowsField: rowsField,
		Documents: req.Documents,
		RequestID: common.RequestIDFromContext(ctx),
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		if ferr := s.batches.Fail(context.WithoutCancel(ctx), b.ID, err.Error()); ferr != nil {
			s.logger.Error("batch fail after enqueue error", "batch_id", b.ID, "error", ferr)
		}
		return nil, err
	}
	return b, nil
}

// ProcessBatch runs a queued batch. It implements async.Processor.
func (s *Service) ProcessBatch(ctx context.Context, job async.Job) error {
	logger := common.LoggerFrom(ctx, s.logger)
	if err := s.batches.MarkRunning(ctx, job.BatchID); err != nil {
		logger.Warn("batch mark running failed", "error", err)
	}

	_, err := s.batch.Run(common.WithBatchID(ctx, job.BatchID), job.Fields, job.Documents)
	var schemaErr *schema.SchemaError
	if errors.As(err, &schemaErr) {
		if ferr := s.batches.Fail(context.WithoutCancel(ctx), job.BatchID, err.Error()); ferr != nil {
			logger.Error("batch fail failed", "error", ferr)
		}
	}
	return err
}

// BatchDetails is a batch with its per-document outcomes.
type BatchDetails struct {
	*entity.Batch
	Documents []*entity.BatchDocument `json:"documents"`
}

func (s *Service) GetBatch(ctx context.Context, id uuid.UUID) (*BatchDetails, error) {
	if s.batches == nil {
		return nil, common.NewAppError("UNAVAILABLE", "run persistence is not configured", common.ErrUnavailable)
	}
	b, err := s.batches.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	docs, err := s.batches.ListDocuments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &BatchDetails{Batch: b, Documents: docs}, nil
}

func (s *Service) ListBatches(ctx context.Context, limit int) ([]*entity.Batch, error) {
	if s.batches == nil {
		return nil, common.NewAppError("UNAVAILABLE", "run persistence is not configured", common.ErrUnavailable)
	}
	return s.batches.ListRecent(ctx, limit)
}

// CancelBatch stops a queued or running batch.
func (s *Service) CancelBatch(ctx context.Context, id uuid.UUID) error {
	if s.queue == nil {
		return common.NewAppError("UNAVAILABLE", "background batches are not configured", common.ErrUnavailable)
	}
	if err := s.queue.Cancel(id); err != nil {
		if errors.Is(err, async.ErrUnknownJob) {
			return common.NewAppError("FAILED_PRECONDITION", "batch is not queued or running", err)
		}
		return err
	}
	common.LoggerFrom(ctx, s.logger).Info("batch cancelled", "batch_id", id)
	return nil
}

// ExportBatch rebuilds the records of a finished batch from storage and encodes them.
func (s *Service) ExportBatch(ctx context.Context, id uuid.UUID, format export.Format) (*export.File, error) {
	details, err := s.GetBatch(ctx, id)
	if err != nil {
		return nil, err
	}
	if !details.Status.Terminal() {
		return nil, common.NewAppError("FAILED_PRECONDITION",
			fmt.Sprintf("batch %s is %s", id, details.Status), common.ErrValidation)
	}

	validator := record.NewValidator(details.Fields)
	batch := make([]record.Labeled, 0, len(details.Documents))
	for _, d := range details.Documents {
		if d.Status != constants.DocumentStatusOK || len(d.Record) == 0 {
			continue
		}
		rec, err := validator.ValidateJSON(d.Record)
		if err != nil {
			return nil, errors.Join(common.ErrInternal, fmt.Errorf("stored record %d of batch %s: %w", d.Index, id, err))
		}
		batch = append(batch, record.Labeled{Label: d.Label, Record: rec})
	}
	return s.exporter.Export(ctx, details.Fields, batch, flatten.Options{RowsField: details.RowsField}, format)
}

// RunBatch processes documents synchronously, recording the run when persistence is
// configured. Used by the gRPC ExtractBatch call and the CLI.
func (s *Service) RunBatch(ctx context.Context, fields []schema.Field, docs []pipeline.Document) (*pipeline.BatchResult, error) {
	v := common.NewInputValidator()
	v.Field("documents", len(docs), common.MaxItems(maxDocuments))
	if err := v.Err(); err != nil {
		return nil, err
	}
	return s.batch.Run(ctx, s.fieldsOrDefault(fields), docs)
}
