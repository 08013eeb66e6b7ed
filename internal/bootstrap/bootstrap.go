// Package bootstrap wires configuration into the concrete collaborators shared by
// the commands.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/joseph-ayodele/schema-extractor/internal/common"
	"github.com/joseph-ayodele/schema-extractor/internal/llm/openai"
	"github.com/joseph-ayodele/schema-extractor/internal/repository"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
	"github.com/joseph-ayodele/schema-extractor/internal/textsource"
)

// TextSource returns the local parsers, fronted by LlamaParse when an API key is set.
func TextSource(cfg common.TextSourceConfig, logger *slog.Logger) textsource.Source {
	var opts []textsource.LocalOption
	if cfg.PDFToTextBin != "" {
		opts = append(opts, textsource.WithPDFToTextFallback(cfg.PDFToTextBin, nil))
	}
	local := textsource.NewLocal(logger, opts...)
	if cfg.LlamaParseAPIKey == "" {
		return local
	}
	logger.Info("text source: llamaparse with local fallback", "base_url", cfg.LlamaParseBaseURL)
	return textsource.Fallback{
		Primary: textsource.NewLlamaParse(textsource.LlamaParseConfig{
			APIKey:       cfg.LlamaParseAPIKey,
			BaseURL:      cfg.LlamaParseBaseURL,
			PollInterval: cfg.LlamaParsePoll,
		}, logger),
		Secondary: local,
		Logger:    logger,
	}
}

// Extractor returns the OpenAI function-calling client.
func Extractor(cfg common.LLMConfig, logger *slog.Logger) *openai.Client {
	logger.Info("OpenAI client initialized", "model", cfg.Model)
	return openai.NewClient(openai.Config{
		APIKey:            cfg.APIKey,
		BaseURL:           cfg.BaseURL,
		Model:             cfg.Model,
		Temperature:       cfg.Temperature,
		Timeout:           cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		RequestsPerMinute: cfg.RequestsPerMinute,
		MaxTextChars:      cfg.MaxTextChars,
	}, logger)
}

// Schema loads the schema file named by path, or returns the built-in invoice schema.
// A non-empty rowsField overrides the file's designation.
func Schema(path, rowsField string) (*schema.Definition, error) {
	def := &schema.Definition{Name: "invoice", Fields: schema.Default()}
	if path != "" {
		var err error
		if def, err = schema.Load(path); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", path, err)
		}
	}
	if rowsField != "" {
		def.RowsField = rowsField
	}
	return def, nil
}

// Database opens and migrates the run store. An empty DSN returns nil, nil.
func Database(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repository.DB, error) {
	if cfg.DSN == "" {
		return nil, nil
	}
	db, err := repository.Open(ctx, repository.Config{
		DSN:              cfg.DSN,
		MaxConns:         cfg.MaxConns,
		MinConns:         cfg.MinConns,
		MaxConnLifetime:  cfg.MaxConnLifetime,
		MaxConnIdleTime:  cfg.MaxConnIdleTime,
		DialTimeout:      cfg.DialTimeout,
		StatementTimeout: cfg.StatementTimeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	if err := db.HealthCheck(ctx, cfg.DialTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
