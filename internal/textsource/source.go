// Package textsource turns uploaded or on-disk documents into plain text for extraction.
package textsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/schema-extractor/constants"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrEmptyText         = errors.New("no text extracted")
)

// Source produces the text of a document. name is used for format detection and logging.
type Source interface {
	Text(ctx context.Context, name string, r io.Reader) (string, error)
}

// FileText opens path and runs it through src.
func FileText(ctx context.Context, src Source, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open document: %w", err)
	}
	defer f.Close()
	return src.Text(ctx, filepath.Base(path), f)
}

type parser interface {
	parse(ctx context.Context, r io.Reader) (string, error)
}

// Local extracts text in-process, choosing a parser by file extension.
type Local struct {
	parsers map[constants.DocFormat]parser
	logger  *slog.Logger
}

// LocalOption configures Local.
type LocalOption func(*Local)

// WithPDFToTextFallback uses the pdftotext binary when the in-process PDF reader fails.
func WithPDFToTextFallback(bin string, runner Runner) LocalOption {
	return func(l *Local) {
		if runner == nil {
			runner = NewExecRunner(l.logger)
		}
		l.parsers[constants.PDF] = &pdfParser{fallbackBin: bin, runner: runner}
	}
}

func NewLocal(logger *slog.Logger, opts ...LocalOption) *Local {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Local{
		logger: logger,
		parsers: map[constants.DocFormat]parser{
			constants.PDF:      &pdfParser{},
			constants.DOCX:     docxParser{},
			constants.HTML:     newHTMLParser(),
			constants.MARKDOWN: markdownParser{},
			constants.TXT:      plainParser{},
		},
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Supports reports whether name has an extension Local can read.
func (l *Local) Supports(name string) bool {
	_, ok := l.parsers[constants.MapExtToFormat(filepath.Ext(name))]
	return ok
}

func (l *Local) Text(ctx context.Context, name string, r io.Reader) (string, error) {
	start := time.Now()
	format := constants.MapExtToFormat(filepath.Ext(name))
	p, ok := l.parsers[format]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(name))
	}

	text, err := p.parse(ctx, r)
	if err != nil {
		l.logger.Error("textsource.local.error", "name", name, "format", format, "error", err)
		return "", fmt.Errorf("extract %s text: %w", strings.ToLower(string(format)), err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyText
	}
	l.logger.Info("textsource.local.ok",
		"name", name,
		"format", format,
		"chars", len(text),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return text, nil
}

// Fallback tries primary first and secondary when primary fails.
type Fallback struct {
	Primary   Source
	Secondary Source
	Logger    *slog.Logger
}

func (f Fallback) Text(ctx context.Context, name string, r io.Reader) (string, error) {
	// the reader is consumed by the first attempt
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	text, err := f.Primary.Text(ctx, name, bytes.NewReader(data))
	if err == nil {
		return text, nil
	}
	if ctx.Err() != nil {
		return "", err
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("textsource.fallback", "name", name, "error", err)
	return f.Secondary.Text(ctx, name, bytes.NewReader(data))
}
