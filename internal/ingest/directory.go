package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/schema-extractor/internal/pipeline"
)

// CollectDirectory walks root in lexical order, skips hidden entries if requested and
// collects every file with an allowed extension. Documents are labeled with their
// slash-separated path relative to root.
func (c *Collector) CollectDirectory(ctx context.Context, root string, skipHidden bool) ([]pipeline.Document, []FileResult, DirStats, error) {
	if strings.TrimSpace(root) == "" {
		return nil, nil, DirStats{}, errors.New("root path is required")
	}

	var (
		docs    []pipeline.Document
		results []FileResult
		stats   DirStats
	)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Scanned++
		if walkErr != nil {
			results = append(results, FileResult{Path: path, Err: walkErr.Error()})
			stats.Failed++
			return nil // continue walking
		}
		if skipHidden && path != root && IsHidden(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			return nil
		}
		stats.Matched++

		label := filepath.Base(path)
		if rel, err := filepath.Rel(root, path); err == nil {
			label = filepath.ToSlash(rel)
		}
		doc, res, err := c.CollectPath(path, label)
		if err != nil {
			res.Err = err.Error()
			results = append(results, res)
			stats.Failed++
			return nil
		}
		results = append(results, res)
		if res.Duplicate {
			stats.Duplicates++
			return nil
		}
		docs = append(docs, doc)
		stats.Collected++
		return nil
	})
	if err != nil {
		return docs, results, stats, fmt.Errorf("walk: %w", err)
	}

	c.log.Info("ingest.directory.done", "root", root, "scanned", stats.Scanned, "matched", stats.Matched,
		"collected", stats.Collected, "duplicates", stats.Duplicates, "failed", stats.Failed)
	return docs, results, stats, nil
}
