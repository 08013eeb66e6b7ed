package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joseph-ayodele/schema-extractor/internal/bootstrap"
	"github.com/joseph-ayodele/schema-extractor/internal/common"
	"github.com/joseph-ayodele/schema-extractor/internal/contract"
	"github.com/joseph-ayodele/schema-extractor/internal/export"
	"github.com/joseph-ayodele/schema-extractor/internal/flatten"
	"github.com/joseph-ayodele/schema-extractor/internal/ingest"
	"github.com/joseph-ayodele/schema-extractor/internal/pipeline"
	"github.com/joseph-ayodele/schema-extractor/internal/record"
	"github.com/joseph-ayodele/schema-extractor/internal/repository"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
	"github.com/joseph-ayodele/schema-extractor/internal/services/extraction"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...any) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

func main() {
	cfg := common.LoadConfig()

	var (
		dir           = flag.String("dir", "", "directory of documents to process (required)")
		out           = flag.String("out", "", "output file (.xlsx or .csv); defaults to the parent of -dir")
		schemaPath    = flag.String("schema", cfg.Pipeline.SchemaPath, "schema definition file (JSON or YAML); built-in invoice schema when empty")
		rowsField     = flag.String("rows-field", cfg.Pipeline.RowsField, "group that produces one row per element")
		dsn           = flag.String("db", cfg.Database.DSN, "record the run in this database (postgres:// URL or SQLite file)")
		concurrency   = flag.Int("concurrency", cfg.Pipeline.Concurrency, "documents extracted in parallel")
		watch         = flag.Bool("watch", false, "keep watching -dir and rewrite the output as documents arrive")
		includeHidden = flag.Bool("include-hidden", false, "also process dot files and directories")
		printContract = flag.Bool("print-contract", false, "print the function-call definition for the schema and exit")
	)
	flag.Parse()

	def, err := bootstrap.Schema(*schemaPath, *rowsField)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if err := schema.Validate(def.Fields); err != nil {
		printError("Error: invalid schema: %v\n", err)
		os.Exit(1)
	}
	if *printContract {
		b, _ := json.MarshalIndent(contract.Compile(def.Fields).Function(), "", "  ")
		fmt.Println(string(b))
		return
	}
	opts := flatten.Options{RowsField: def.RowsField}
	if _, err := flatten.Columns(def.Fields, opts); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}
	format := export.FormatXLSX
	if *out == "" {
		*out = filepath.Join(filepath.Dir(filepath.Clean(*dir)), "extracted_data.xlsx")
	} else if strings.EqualFold(filepath.Ext(*out), ".csv") {
		format = export.FormatCSV
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg.Pipeline.Concurrency = *concurrency
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg.Database.DSN = *dsn
	db, err := bootstrap.Database(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	var batches repository.BatchRepository
	if db != nil {
		defer db.Close()
		batches = repository.NewBatchRepository(db, logger)
	}

	svc := extraction.NewService(extraction.Config{
		Fields:      def.Fields,
		RowsField:   def.RowsField,
		Concurrency: *concurrency,
	}, bootstrap.TextSource(cfg.TextSource, logger), bootstrap.Extractor(cfg.LLM, logger), batches, logger)

	collector := ingest.NewCollector(logger)
	collector.MaxBytes = cfg.Server.MaxUploadBytes

	r := &runner{
		svc:      svc,
		exporter: export.NewService(logger),
		def:      def,
		opts:     opts,
		out:      *out,
		format:   format,
		logger:   logger,
	}

	docs, _, stats, err := collector.CollectDirectory(ctx, *dir, !*includeHidden)
	if err != nil {
		logger.Error("failed to scan directory", "error", err)
		os.Exit(1)
	}
	logger.Info("scan complete", "scanned", stats.Scanned, "matched", stats.Matched,
		"collected", stats.Collected, "duplicates", stats.Duplicates, "failed", stats.Failed)

	res, err := r.run(ctx, docs)
	if res == nil {
		logger.Error("batch failed", "error", err)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to write output", "error", err)
		os.Exit(1)
	}
	r.summary(res)

	if *watch {
		if err := r.watch(ctx, collector, *dir, !*includeHidden); err != nil {
			logger.Error("watch failed", "error", err)
			os.Exit(1)
		}
		return
	}
	if res.Cancelled || (len(res.Records) == 0 && len(docs) > 0) {
		os.Exit(3)
	}
}

type runner struct {
	svc      *extraction.Service
	exporter *export.Service
	def      *schema.Definition
	opts     flatten.Options
	out      string
	format   export.Format
	logger   *slog.Logger

	records []record.Labeled
}

// run extracts docs, appends the new records and rewrites the output file.
func (r *runner) run(ctx context.Context, docs []pipeline.Document) (*pipeline.BatchResult, error) {
	res, err := r.svc.RunBatch(ctx, r.def.Fields, docs)
	if res == nil {
		return nil, err
	}
	if err != nil {
		r.logger.Warn("batch finished with error", "error", err)
	}
	for _, f := range res.Failures {
		r.logger.Warn("document failed", "index", f.Index, "label", f.Label, "stage", f.Stage, "error", f.Err)
	}
	r.records = append(r.records, res.Records...)

	f, err := r.exporter.Export(context.WithoutCancel(ctx), r.def.Fields, r.records, r.opts, r.format)
	if err != nil {
		return res, fmt.Errorf("export: %w", err)
	}
	if err := os.WriteFile(r.out, f.Data, 0o644); err != nil {
		return res, fmt.Errorf("write %s: %w", r.out, err)
	}
	r.logger.Info("output written", "path", r.out, "rows", f.Rows, "documents", len(r.records))
	return res, nil
}

func (r *runner) summary(res *pipeline.BatchResult) {
	fmt.Printf("Batch processing complete!\n")
	fmt.Printf("- Batch: %s (%s)\n", res.ID, res.Status())
	fmt.Printf("- Documents: %d\n", res.Total)
	fmt.Printf("- Extracted: %d\n", len(res.Records))
	fmt.Printf("- Failures: %d\n", len(res.Failures))
	fmt.Printf("- Output: %s\n", r.out)
}

func (r *runner) watch(ctx context.Context, collector *ingest.Collector, dir string, skipHidden bool) error {
	events, errs, err := ingest.StartWatcher(ctx, ingest.WatchConfig{
		Roots:      []string{dir},
		SkipHidden: skipHidden,
		Debounce:   500 * time.Millisecond,
		Logger:     r.logger,
	})
	if err != nil {
		return err
	}
	r.logger.Info("watching for new documents", "dir", dir)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-errs:
			if ok {
				r.logger.Warn("watcher error", "error", err)
			}
		case path, ok := <-events:
			if !ok {
				return nil
			}
			label := filepath.Base(path)
			if rel, err := filepath.Rel(dir, path); err == nil {
				label = filepath.ToSlash(rel)
			}
			doc, res, err := collector.CollectPath(path, label)
			if err != nil {
				r.logger.Warn("skipping file", "path", path, "error", err)
				continue
			}
			if res.Duplicate {
				continue
			}
			if _, err := r.run(ctx, []pipeline.Document{doc}); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("processing failed", "path", path, "error", err)
			}
		}
	}
}
