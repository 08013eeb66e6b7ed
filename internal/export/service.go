// Package export writes flattened extraction results as spreadsheets.
package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/schema-extractor/internal/flatten"
	"github.com/joseph-ayodele/schema-extractor/internal/record"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
)

// Format is an output file type.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatCSV  Format = "csv"
)

// Service flattens labelled records and encodes them.
type Service struct {
	logger *slog.Logger
	now    func() time.Time
}

func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, now: time.Now}
}

// File is an encoded export ready to be written or served.
type File struct {
	Name        string
	ContentType string
	Data        []byte
	Rows        int
}

// Export flattens batch with the given schema and encodes it in format.
func (s *Service) Export(ctx context.Context, fields []schema.Field, batch []record.Labeled, opts flatten.Options, format Format) (*File, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table, err := flatten.FlattenBatch(fields, batch, opts)
	if err != nil {
		return nil, err
	}

	var (
		data        []byte
		contentType string
	)
	switch format {
	case FormatXLSX, "":
		format = FormatXLSX
		data, err = XLSX(table)
		contentType = xlsxContentType
	case FormatCSV:
		data, err = CSV(table)
		contentType = "text/csv"
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
	if err != nil {
		return nil, err
	}

	s.logger.Info("export."+string(format)+".ok",
		"documents", len(batch),
		"rows", len(table.Rows),
		"bytes", len(data),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &File{
		Name:        FileName(s.now(), format),
		ContentType: contentType,
		Data:        data,
		Rows:        len(table.Rows),
	}, nil
}

// FileName returns extracted_data_<unix millis>.<ext>.
func FileName(at time.Time, format Format) string {
	return fmt.Sprintf("extracted_data_%d.%s", at.UnixMilli(), format)
}
