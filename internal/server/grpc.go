package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/schema-extractor/internal/common"
	"github.com/joseph-ayodele/schema-extractor/internal/export"
	"github.com/joseph-ayodele/schema-extractor/internal/pipeline"
	"github.com/joseph-ayodele/schema-extractor/internal/services/extraction"
)

const ExtractionServiceName = "extractor.v1.ExtractionService"

// ExtractionServer is the gRPC surface. Payloads are google.protobuf.Struct values
// holding the same JSON shapes as the HTTP API.
type ExtractionServer interface {
	ExtractBatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ExportBatch(ctx context.Context, req *structpb.Struct) (*wrapperspb.BytesValue, error)
}

// ExtractionServiceDesc describes the service for grpc.Server.RegisterService.
var ExtractionServiceDesc = grpc.ServiceDesc{
	ServiceName: ExtractionServiceName,
	HandlerType: (*ExtractionServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ExtractBatch", Handler: extractBatchHandler},
		{MethodName: "ExportBatch", Handler: exportBatchHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "extractor/v1/extraction.proto",
}

func extractBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractionServer).ExtractBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ExtractionServiceName + "/ExtractBatch"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExtractionServer).ExtractBatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func exportBatchHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ExtractionServer).ExportBatch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ExtractionServiceName + "/ExportBatch"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ExtractionServer).ExportBatch(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

type grpcExtractionServer struct {
	svc    *extraction.Service
	logger *slog.Logger
}

func NewExtractionServer(svc *extraction.Service, logger *slog.Logger) ExtractionServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &grpcExtractionServer{svc: svc, logger: logger}
}

type extractBatchRequest struct {
	submitBatchRequest
}

type batchFailure struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	Stage string `json:"stage"`
	Error string `json:"error"`
}

// ExtractBatch runs the documents synchronously and answers with the records and
// failures in input order.
func (s *grpcExtractionServer) ExtractBatch(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req extractBatchRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, common.InvalidArgumentError(err.Error())
	}
	def, err := parseSchema(req.Schema)
	if err != nil {
		return nil, grpcError(err)
	}
	docs := make([]pipeline.Document, 0, len(req.Documents))
	for i, d := range req.Documents {
		if strings.TrimSpace(d.Text) == "" {
			return nil, common.InvalidArgumentErrorf("documents[%d].text is required", i)
		}
		docs = append(docs, pipeline.Document{Label: d.Label, Text: d.Text})
	}

	res, err := s.svc.RunBatch(ctx, def.Fields, docs)
	if res == nil {
		s.logger.Warn("grpc.extract_batch.failed", "error", err)
		return nil, grpcError(err)
	}
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		// recording failed; the result itself is complete
		s.logger.Error("grpc.extract_batch.record_failed", "batch_id", res.ID, "error", err)
	}

	out := map[string]any{
		"batchId":    res.ID.String(),
		"status":     string(res.Status()),
		"total":      res.Total,
		"records":    res.Records,
		"failures":   failures(res),
		"startedAt":  res.StartedAt.UTC().Format(time.RFC3339Nano),
		"finishedAt": res.FinishedAt.UTC().Format(time.RFC3339Nano),
	}
	return toStruct(out)
}

func failures(res *pipeline.BatchResult) []batchFailure {
	out := make([]batchFailure, 0, len(res.Failures))
	for _, f := range res.Failures {
		out = append(out, batchFailure{Index: f.Index, Label: f.Label, Stage: string(f.Stage), Error: f.Err.Error()})
	}
	return out
}

type exportBatchRequest struct {
	BatchID string `json:"batchId"`
	Format  string `json:"format,omitempty"`
}

// ExportBatch returns the spreadsheet of a persisted batch.
func (s *grpcExtractionServer) ExportBatch(ctx context.Context, in *structpb.Struct) (*wrapperspb.BytesValue, error) {
	var req exportBatchRequest
	if err := fromStruct(in, &req); err != nil {
		return nil, common.InvalidArgumentError(err.Error())
	}
	id, err := uuid.Parse(strings.TrimSpace(req.BatchID))
	if err != nil {
		return nil, common.InvalidArgumentError("batchId must be a UUID")
	}
	f, err := s.svc.ExportBatch(ctx, id, export.Format(strings.ToLower(req.Format)))
	if err != nil {
		s.logger.Warn("grpc.export_batch.failed", "batch_id", id, "error", err)
		return nil, grpcError(err)
	}
	return wrapperspb.Bytes(f.Data), nil
}

func fromStruct(in *structpb.Struct, v any) error {
	data, err := in.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, common.InternalError("encode response")
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(data); err != nil {
		return nil, common.InternalErrorf("encode response: %v", err)
	}
	return out, nil
}

// UnaryRequestID tags every call with a request ID and logs its outcome.
func UnaryRequestID(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, id := common.EnsureRequestID(ctx)
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc.request", "method", info.FullMethod, "req_id", id,
			"code", status.Code(err).String(), "duration_ms", time.Since(start).Milliseconds())
		return resp, err
	}
}

// NewGRPCServer builds a server with the extraction service and the standard health
// service registered.
func NewGRPCServer(svc *extraction.Service, logger *slog.Logger, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = append(opts, grpc.ChainUnaryInterceptor(UnaryRequestID(logger)))
	gs := grpc.NewServer(opts...)
	gs.RegisterService(&ExtractionServiceDesc, NewExtractionServer(svc, logger))

	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ExtractionServiceName, healthpb.HealthCheckResponse_SERVING)
	return gs, hs
}
