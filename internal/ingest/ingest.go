// Package ingest discovers input documents on the local filesystem: one-shot
// directory scans and a drop-folder watcher.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/joseph-ayodele/schema-extractor/constants"
	"github.com/joseph-ayodele/schema-extractor/internal/pipeline"
)

// FileResult is the per-file collection outcome.
type FileResult struct {
	Path      string
	Label     string
	HashHex   string
	Duplicate bool
	Err       string
}

// DirStats summarizes a directory scan.
type DirStats struct {
	Scanned    uint32
	Matched    uint32
	Collected  uint32
	Duplicates uint32
	Failed     uint32
}

// Collector reads matching files into pipeline documents. Files whose content was
// already collected (same SHA-256) are reported as duplicates and not returned again.
type Collector struct {
	MaxBytes int64
	log      *slog.Logger

	mu   sync.Mutex
	seen map[string]string // hash -> first path
}

func NewCollector(log *slog.Logger) *Collector {
	if log == nil {
		log = slog.Default()
	}
	return &Collector{log: log, seen: map[string]string{}}
}

// CollectPath reads one file. label is the name the document is reported under.
func (c *Collector) CollectPath(path, label string) (pipeline.Document, FileResult, error) {
	res := FileResult{Path: path, Label: label}

	ext := constants.NormalizeExt(filepath.Ext(path))
	if ext == "" || !AllowedExt(ext) {
		return pipeline.Document{}, res, fmt.Errorf("unsupported or missing extension: %q", ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return pipeline.Document{}, res, fmt.Errorf("open: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			c.log.Warn("close file error", "path", path, "error", err)
		}
	}()

	var r io.Reader = f
	if c.MaxBytes > 0 {
		r = io.LimitReader(f, c.MaxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return pipeline.Document{}, res, fmt.Errorf("read: %w", err)
	}
	if c.MaxBytes > 0 && int64(len(data)) > c.MaxBytes {
		return pipeline.Document{}, res, fmt.Errorf("file exceeds %d bytes", c.MaxBytes)
	}

	sum := sha256.Sum256(data)
	res.HashHex = hex.EncodeToString(sum[:])

	c.mu.Lock()
	first, dup := c.seen[res.HashHex]
	if !dup {
		c.seen[res.HashHex] = path
	}
	c.mu.Unlock()
	if dup {
		res.Duplicate = true
		c.log.Info("ingest.duplicate", "path", path, "first", first)
		return pipeline.Document{}, res, nil
	}

	return pipeline.Document{Label: label, Path: path, Data: data}, res, nil
}
