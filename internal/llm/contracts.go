package llm

import (
	"context"
	"fmt"

	"github.com/joseph-ayodele/schema-extractor/internal/contract"
)

// ExtractRequest is one document's worth of work for the extraction service.
type ExtractRequest struct {
	Label    string
	Text     string
	Function contract.Function
}

// Extractor is the interface the pipeline depends on. It returns the raw arguments
// document produced by the forced function call; validation is the caller's job.
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) ([]byte, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, req ExtractRequest) ([]byte, error)

func (f ExtractorFunc) Extract(ctx context.Context, req ExtractRequest) ([]byte, error) {
	return f(ctx, req)
}

// ServiceError wraps any failure of the extraction call for a document.
type ServiceError struct {
	Label string
	Err   error
}

func (e *ServiceError) Error() string {
	if e.Label == "" {
		return fmt.Sprintf("extraction service: %v", e.Err)
	}
	return fmt.Sprintf("extraction service (%s): %v", e.Label, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }
