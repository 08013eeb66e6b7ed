package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joseph-ayodele/schema-extractor/internal/async"
	"github.com/joseph-ayodele/schema-extractor/internal/bootstrap"
	"github.com/joseph-ayodele/schema-extractor/internal/common"
	"github.com/joseph-ayodele/schema-extractor/internal/flatten"
	"github.com/joseph-ayodele/schema-extractor/internal/repository"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
	"github.com/joseph-ayodele/schema-extractor/internal/server"
	"github.com/joseph-ayodele/schema-extractor/internal/services/extraction"
)

func main() {
	// Setup structured logger that outputs messages with variables but no time/level
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey || a.Key == slog.LevelKey {
				return slog.Attr{}
			}
			return a
		},
	}))
	slog.SetDefault(logger)

	cfg := common.LoadConfig()
	if err := cfg.ValidateServer(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	def, err := bootstrap.Schema(cfg.Pipeline.SchemaPath, cfg.Pipeline.RowsField)
	if err != nil {
		logger.Error("failed to load schema", "error", err)
		os.Exit(1)
	}
	if err := schema.Validate(def.Fields); err != nil {
		logger.Error("invalid default schema", "error", err)
		os.Exit(1)
	}
	if _, err := flatten.Columns(def.Fields, flatten.Options{RowsField: def.RowsField}); err != nil {
		logger.Error("default schema cannot be flattened", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := bootstrap.Database(ctx, cfg.Database, logger)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	var batches repository.BatchRepository
	if db != nil {
		defer db.Close()
		batches = repository.NewBatchRepository(db, logger)
	} else {
		logger.Warn("DB_URL not set; batch endpoints are disabled")
	}

	svc := extraction.NewService(extraction.Config{
		Fields:      def.Fields,
		RowsField:   def.RowsField,
		Concurrency: cfg.Pipeline.Concurrency,
	}, bootstrap.TextSource(cfg.TextSource, logger), bootstrap.Extractor(cfg.LLM, logger), batches, logger)

	queue := async.NewProcessorQueue(svc, logger,
		async.WithWorkers(cfg.Queue.Workers),
		async.WithQueueSize(cfg.Queue.Size),
		async.WithProcessTimeout(cfg.Queue.ProcessTimeout),
	)
	svc.AttachQueue(queue)

	var httpServer *http.Server
	if cfg.Server.HTTPAddr != "" {
		httpServer = &http.Server{
			Addr:    cfg.Server.HTTPAddr,
			Handler: server.NewHTTPServer(svc, logger, cfg.Server.MaxUploadBytes),
		}
		logger.Info("http listening", "addr", cfg.Server.HTTPAddr)
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http serve error", "error", err)
				stop()
			}
		}()
	}

	grpcServer, healthServer := server.NewGRPCServer(svc, logger)
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
			os.Exit(1)
		}
		logger.Info("grpc listening", "addr", cfg.Server.GRPCAddr)
		go func() {
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC serve error", "error", err)
				stop()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if httpServer != nil {
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", "error", err)
		}
	}
	grpcServer.GracefulStop()
	queue.Shutdown(shutdownCtx)
}
