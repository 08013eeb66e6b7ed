package pipeline

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/schema-extractor/constants"
	"github.com/joseph-ayodele/schema-extractor/internal/record"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

// Document is one input of a batch. Text, when set, is used as is; otherwise Data
// (an upload) or Path (a file on disk) is run through the text source.
type Document struct {
	Label string
	Path  string
	Data  []byte
	Text  string
}

// Stage names the step at which a document failed.
type Stage string

const (
	StageText      Stage = "text"
	StageExtract   Stage = "extract"
	StageValidate  Stage = "validate"
	StageCancelled Stage = "cancelled"
)

// DocumentError records why one document produced no record.
type DocumentError struct {
	Index int
	Label string
	Stage Stage
	Err   error
}

func (e *DocumentError) Error() string {
	return fmt.Sprintf("document %d (%s): %s: %v", e.Index, e.Label, e.Stage, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// BatchResult holds the records of successful documents and the failures of the
// others, both in input order.
type BatchResult struct {
	ID         uuid.UUID
	Fields     []schema.Field
	Records    []record.Labeled
	Failures   []*DocumentError
	Total      int
	Cancelled  bool
	StartedAt  time.Time
	FinishedAt time.Time
}

// Status summarizes the outcome for persistence and reporting.
func (r *BatchResult) Status() constants.BatchStatus {
	switch {
	case r.Cancelled:
		return constants.BatchStatusCancelled
	case len(r.Failures) == 0:
		return constants.BatchStatusSucceeded
	case len(r.Records) == 0:
		return constants.BatchStatusFailed
	default:
		return constants.BatchStatusPartial
	}
}
