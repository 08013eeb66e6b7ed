package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joseph-ayodele/schema-extractor/constants"
	"github.com/joseph-ayodele/schema-extractor/internal/async"
	"github.com/joseph-ayodele/schema-extractor/internal/common"
	"github.com/joseph-ayodele/schema-extractor/internal/flatten"
	"github.com/joseph-ayodele/schema-extractor/internal/llm"
	"github.com/joseph-ayodele/schema-extractor/internal/record"
	"github.com/joseph-ayodele/schema-extractor/internal/repository"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
	"github.com/joseph-ayodele/schema-extractor/internal/services/extraction"
	"github.com/joseph-ayodele/schema-extractor/internal/textsource"
)

const invoiceJSON = `{"company":"Acme","address":"1 Road","total_sum":30,"items":[{"item":"Bolt","unit_price":10,"quantity":3,"sum":30}]}`

func newTestService(t *testing.T) *extraction.Service {
	t.Helper()
	ctx := context.Background()
	db, err := repository.Open(ctx, repository.Config{DSN: ":memory:"}, nil)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))

	extractor := llm.ExtractorFunc(func(ctx context.Context, req llm.ExtractRequest) ([]byte, error) {
		if strings.Contains(req.Text, "broken") {
			return []byte(`{"company":"Acme"}`), nil
		}
		return []byte(invoiceJSON), nil
	})
	svc := extraction.NewService(extraction.Config{}, textsource.NewLocal(nil), extractor,
		repository.NewBatchRepository(db, nil), nil)
	q := async.NewProcessorQueue(svc, nil, async.WithWorkers(1))
	t.Cleanup(func() { q.Shutdown(context.Background()) })
	svc.AttachQueue(q)
	return svc
}

func do(t *testing.T, h http.Handler, method, path, contentType string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewHTTPServer(newTestService(t), nil, 0)
	rec := do(t, h, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestExtractTextEndpoint(t *testing.T) {
	h := NewHTTPServer(newTestService(t), nil, 0)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "invoice.txt")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("Invoice from Acme\nTotal 30"))
	require.NoError(t, mw.Close())

	rec := do(t, h, http.MethodPost, "/api/extract-text", mw.FormDataContentType(), body.Bytes())
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var got map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "invoice.txt", got["fileName"])
	assert.Contains(t, got["text"], "Acme")

	body.Reset()
	mw = multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("other", "x"))
	require.NoError(t, mw.Close())
	rec = do(t, h, http.MethodPost, "/api/extract-text", mw.FormDataContentType(), body.Bytes())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"No file uploaded"}`, rec.Body.String())
}

func TestExtractDataEndpoint(t *testing.T) {
	h := NewHTTPServer(newTestService(t), nil, 0)

	rec := do(t, h, http.MethodPost, "/api/extract-data", "application/json", []byte(`{"text":"Invoice from Acme"}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, invoiceJSON, rec.Body.String())
	// keys come back in schema order
	assert.True(t, strings.HasPrefix(rec.Body.String(), `{"company":`))

	rec = do(t, h, http.MethodPost, "/api/extract-data", "application/json", []byte(`{"text":"broken"}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"Failed to extract data"}`, rec.Body.String())

	schemaBody := `{"text":"Invoice","schema":[{"name":"company","type":"string"}]}`
	rec = do(t, h, http.MethodPost, "/api/extract-data", "application/json", []byte(schemaBody))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"company":"Acme"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/api/extract-data", "application/json",
		[]byte(`{"text":"Invoice","schema":[{"name":"a","type":"string"},{"name":"a","type":"number"}]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGenerateExcelEndpoint(t *testing.T) {
	h := NewHTTPServer(newTestService(t), nil, 0)

	body := `{"data":[{"fileName":"a.pdf","data":` + invoiceJSON + `}]}`
	rec := do(t, h, http.MethodPost, "/api/generate-excel", "application/json", []byte(body))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, constants.ExcelContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment; filename=extracted_data_")

	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer wb.Close()
	rows, err := wb.GetRows(constants.ExcelSheetName)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "File Name", rows[0][0])
	assert.Equal(t, []string{"a.pdf", "Acme", "1 Road", "30", "Bolt", "10", "3", "30"}, rows[1])

	rec = do(t, h, http.MethodPost, "/api/generate-excel", "application/json",
		[]byte(`{"data":[{"fileName":"a.pdf","data":{"company":"Acme"}}]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/generate-excel", "application/json", []byte(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBatchEndpoints(t *testing.T) {
	h := NewHTTPServer(newTestService(t), nil, 0)

	body := `{"name":"march","documents":[{"label":"a.txt","text":"Invoice A"},{"label":"b.txt","text":"broken"}]}`
	rec := do(t, h, http.MethodPost, "/api/batches", "application/json", []byte(body))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var submitted struct {
		ID      string `json:"id"`
		PollURL string `json:"poll_url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &submitted))

	var details struct {
		Status    constants.BatchStatus `json:"status"`
		Documents []struct {
			Label  string `json:"label"`
			Status string `json:"status"`
		} `json:"documents"`
	}
	require.Eventually(t, func() bool {
		rec := do(t, h, http.MethodGet, submitted.PollURL, "", nil)
		if rec.Code != http.StatusOK {
			return false
		}
		_ = json.Unmarshal(rec.Body.Bytes(), &details)
		return details.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, constants.BatchStatusPartial, details.Status)
	require.Len(t, details.Documents, 2)
	assert.Equal(t, "FAILED", details.Documents[1].Status)

	rec = do(t, h, http.MethodGet, submitted.PollURL+"/export?format=csv", "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "File Name,company,address,total_sum,item,unit_price,quantity,sum\na.txt,Acme,1 Road,30,Bolt,10,3,30\n", rec.Body.String())

	rec = do(t, h, http.MethodGet, "/api/batches?limit=5", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), submitted.ID)

	rec = do(t, h, http.MethodGet, "/api/batches/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, h, http.MethodGet, "/api/batches/6f1c2d36-3a53-4c8e-9a57-2d1c1f0b9e11", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/batches/6f1c2d36-3a53-4c8e-9a57-2d1c1f0b9e11", "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestSubmitBatchMultipart(t *testing.T) {
	h := NewHTTPServer(newTestService(t), nil, 0)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("name", "uploads"))
	require.NoError(t, mw.WriteField("schema", `{"fields":[{"name":"company","type":"string"},{"name":"items","type":"array","fields":[{"name":"item","type":"string"}]}]}`))
	for _, name := range []string{"a.txt", "b.md"} {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, _ = fw.Write([]byte("Invoice " + name))
	}
	require.NoError(t, mw.Close())

	rec := do(t, h, http.MethodPost, "/api/batches", mw.FormDataContentType(), body.Bytes())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	body.Reset()
	mw = multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("files", "photo.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("png"))
	require.NoError(t, mw.Close())
	rec = do(t, h, http.MethodPost, "/api/batches", mw.FormDataContentType(), body.Bytes())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, httpStatus(invalidInput("x")))
	assert.Equal(t, http.StatusBadRequest, httpStatus(&schema.SchemaError{Kind: schema.ErrEmptyName, Path: "fields[0]"}))
	assert.Equal(t, http.StatusNotFound, httpStatus(common.ErrNotFound))
	assert.Equal(t, http.StatusConflict, httpStatus(common.NewAppError("FAILED_PRECONDITION", "x", nil)))
	assert.Equal(t, http.StatusUnprocessableEntity, httpStatus(&flatten.LimitationError{Field: "g", Reason: "nested"}))
	assert.Equal(t, http.StatusUnprocessableEntity, httpStatus(&record.ValidationError{Kind: record.ErrMissingField, Path: "a"}))
	assert.Equal(t, http.StatusServiceUnavailable, httpStatus(common.ErrUnavailable))
	assert.Equal(t, http.StatusInternalServerError, httpStatus(errors.New("boom")))
	assert.Equal(t, http.StatusInternalServerError,
		httpStatus(errors.Join(common.ErrInternal, &record.ValidationError{Kind: record.ErrMissingField, Path: "a"})))

	err := grpcError(errors.Join(common.ErrInternal, errors.New("stored record 0: bad")))
	assert.Equal(t, codes.Internal, status.Code(err))
	assert.Equal(t, "internal error", status.Convert(err).Message())
	assert.Equal(t, codes.InvalidArgument, status.Code(grpcError(invalidInput("x"))))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a.pdf", sanitizeFilename("../../etc/a.pdf"))
	assert.Equal(t, "b.txt", sanitizeFilename(`C:\docs\b.txt`))
	assert.Equal(t, "unnamed", sanitizeFilename(""))
}

func dialBuf(t *testing.T, gs *grpc.Server) *grpc.ClientConn {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestGRPCExtractAndExportBatch(t *testing.T) {
	gs, _ := NewGRPCServer(newTestService(t), nil)
	conn := dialBuf(t, gs)
	ctx := context.Background()

	req, err := structpb.NewStruct(map[string]any{
		"documents": []any{
			map[string]any{"label": "a.txt", "text": "Invoice A"},
			map[string]any{"label": "b.txt", "text": "broken"},
		},
	})
	require.NoError(t, err)

	out := &structpb.Struct{}
	require.NoError(t, conn.Invoke(ctx, "/"+ExtractionServiceName+"/ExtractBatch", req, out))
	m := out.AsMap()
	assert.Equal(t, "PARTIAL", m["status"])
	require.Len(t, m["records"], 1)
	require.Len(t, m["failures"], 1)
	failure := m["failures"].([]any)[0].(map[string]any)
	assert.Equal(t, "validate", failure["stage"])
	assert.Equal(t, float64(1), failure["index"])

	exportReq, err := structpb.NewStruct(map[string]any{"batchId": m["batchId"], "format": "csv"})
	require.NoError(t, err)
	file := &wrapperspb.BytesValue{}
	require.NoError(t, conn.Invoke(ctx, "/"+ExtractionServiceName+"/ExportBatch", exportReq, file))
	assert.Contains(t, string(file.GetValue()), "a.txt,Acme")

	bad, err := structpb.NewStruct(map[string]any{"batchId": "nope"})
	require.NoError(t, err)
	err = conn.Invoke(ctx, "/"+ExtractionServiceName+"/ExportBatch", bad, file)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	dup, err := structpb.NewStruct(map[string]any{
		"schema":    []any{map[string]any{"name": "a", "type": "string"}, map[string]any{"name": "a", "type": "string"}},
		"documents": []any{map[string]any{"label": "a", "text": "x"}},
	})
	require.NoError(t, err)
	err = conn.Invoke(ctx, "/"+ExtractionServiceName+"/ExtractBatch", dup, out)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGRPCHealth(t *testing.T) {
	gs, _ := NewGRPCServer(newTestService(t), nil)
	conn := dialBuf(t, gs)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(),
		&healthpb.HealthCheckRequest{Service: ExtractionServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
