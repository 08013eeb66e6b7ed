package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/schema-extractor/constants"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

// Batch is a persisted extraction run.
type Batch struct {
	ID           uuid.UUID             `json:"id"`
	Name         string                `json:"name,omitempty"`
	Status       constants.BatchStatus `json:"status"`
	Fields       []schema.Field        `json:"schema"`
	RowsField    string                `json:"rows_field,omitempty"`
	Total        int                   `json:"total"`
	Succeeded    int                   `json:"succeeded"`
	Failed       int                   `json:"failed"`
	ErrorMessage *string               `json:"error_message,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
	StartedAt    *time.Time            `json:"started_at,omitempty"`
	FinishedAt   *time.Time            `json:"finished_at,omitempty"`
}

// BatchDocument is the persisted outcome of one document in a batch.
type BatchDocument struct {
	ID           uuid.UUID                `json:"id"`
	BatchID      uuid.UUID                `json:"batch_id"`
	Index        int                      `json:"index"`
	Label        string                   `json:"label"`
	Status       constants.DocumentStatus `json:"status"`
	Stage        *string                  `json:"stage,omitempty"`
	ErrorMessage *string                  `json:"error_message,omitempty"`
	Record       json.RawMessage          `json:"record,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
}
