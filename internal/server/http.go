package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/schema-extractor/internal/common"
	"github.com/joseph-ayodele/schema-extractor/internal/export"
	"github.com/joseph-ayodele/schema-extractor/internal/ingest"
	"github.com/joseph-ayodele/schema-extractor/internal/pipeline"
	"github.com/joseph-ayodele/schema-extractor/internal/schema"
	"github.com/joseph-ayodele/schema-extractor/internal/services/extraction"
)

// HTTPServer exposes the extraction service as a JSON API.
type HTTPServer struct {
	router         chi.Router
	svc            *extraction.Service
	log            *slog.Logger
	maxUploadBytes int64
}

func NewHTTPServer(svc *extraction.Service, log *slog.Logger, maxUploadBytes int64) *HTTPServer {
	if log == nil {
		log = slog.Default()
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 32 << 20
	}
	s := &HTTPServer{svc: svc, log: log, maxUploadBytes: maxUploadBytes}
	s.setupRoutes()
	return s
}

func (s *HTTPServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *HTTPServer) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Get("/schema", s.handleDefaultSchema)
		r.Post("/extract-text", s.handleExtractText)
		r.Post("/extract-data", s.handleExtractData)
		r.Post("/generate-excel", s.handleGenerate)

		r.Post("/batches", s.handleSubmitBatch)
		r.Get("/batches", s.handleListBatches)
		r.Get("/batches/{batchID}", s.handleGetBatch)
		r.Delete("/batches/{batchID}", s.handleCancelBatch)
		r.Get("/batches/{batchID}/export", s.handleExportBatch)
	})

	s.router = r
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleDefaultSchema(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"fields": s.svc.DefaultFields()})
}

func (s *HTTPServer) handleExtractText(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "No file uploaded", http.StatusBadRequest)
		return
	}
	defer file.Close()

	name := sanitizeFilename(header.Filename)
	text, err := s.svc.ExtractText(r.Context(), name, io.LimitReader(file, s.maxUploadBytes))
	if err != nil {
		s.writeError(w, r, "Failed to extract text", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"fileName": name, "text": text})
}

type extractDataRequest struct {
	Text   string          `json:"text"`
	Schema json.RawMessage `json:"schema,omitempty"`
}

func (s *HTTPServer) handleExtractData(w http.ResponseWriter, r *http.Request) {
	var req extractDataRequest
	if err := decodeJSON(w, r, s.maxUploadBytes, &req); err != nil {
		jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	def, err := parseSchema(req.Schema)
	if err != nil {
		s.writeError(w, r, "Invalid schema", err)
		return
	}

	rec, err := s.svc.ExtractData(r.Context(), req.Text, def.Fields)
	if err != nil {
		// the extract-data contract answers every failure the same way
		common.LoggerFrom(r.Context(), s.log).Warn("extract_data.failed", "error", err)
		jsonError(w, "Failed to extract data", http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type generateRequest struct {
	Data      []extraction.LabeledData `json:"data"`
	Schema    json.RawMessage          `json:"schema,omitempty"`
	RowsField string                   `json:"rowsField,omitempty"`
	Format    string                   `json:"format,omitempty"`
}

func (s *HTTPServer) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(w, r, s.maxUploadBytes, &req); err != nil {
		jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.Data == nil {
		jsonError(w, "data is required", http.StatusBadRequest)
		return
	}
	def, err := parseSchema(req.Schema)
	if err != nil {
		s.writeError(w, r, "Invalid schema", err)
		return
	}
	rowsField := req.RowsField
	if rowsField == "" {
		rowsField = def.RowsField
	}

	f, err := s.svc.Generate(r.Context(), extraction.GenerateRequest{
		Data:      req.Data,
		Fields:    def.Fields,
		RowsField: rowsField,
		Format:    export.Format(strings.ToLower(req.Format)),
	})
	if err != nil {
		s.writeError(w, r, "Failed to generate Excel file", err)
		return
	}
	writeFile(w, f)
}

type batchDocument struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

type submitBatchRequest struct {
	Name      string          `json:"name"`
	Schema    json.RawMessage `json:"schema,omitempty"`
	RowsField string          `json:"rowsField,omitempty"`
	Documents []batchDocument `json:"documents"`
}

// handleSubmitBatch accepts either a JSON body with inline texts or a multipart form
// with one or more "files" parts plus optional "name", "schema" and "rowsField" values.
func (s *HTTPServer) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	var (
		req  extraction.BatchRequest
		err  error
		body submitBatchRequest
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		req, err = s.batchFromMultipart(w, r)
		if err != nil {
			s.writeError(w, r, "Invalid batch", err)
			return
		}
	} else {
		if err := decodeJSON(w, r, s.maxUploadBytes, &body); err != nil {
			jsonError(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
			return
		}
		def, err := parseSchema(body.Schema)
		if err != nil {
			s.writeError(w, r, "Invalid schema", err)
			return
		}
		req = extraction.BatchRequest{Name: body.Name, Fields: def.Fields, RowsField: body.RowsField}
		if req.RowsField == "" {
			req.RowsField = def.RowsField
		}
		for _, d := range body.Documents {
			req.Documents = append(req.Documents, pipeline.Document{Label: d.Label, Text: d.Text})
		}
	}

	b, err := s.svc.SubmitBatch(r.Context(), req)
	if err != nil {
		s.writeError(w, r, "Failed to submit batch", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"id":       b.ID,
		"status":   b.Status,
		"total":    b.Total,
		"poll_url": fmt.Sprintf("/api/batches/%s", b.ID),
	})
}

func (s *HTTPServer) batchFromMultipart(w http.ResponseWriter, r *http.Request) (extraction.BatchRequest, error) {
	var req extraction.BatchRequest
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return req, invalidInput("invalid multipart form: " + err.Error())
	}
	defer r.MultipartForm.RemoveAll()

	var def *schema.Definition
	var err error
	if raw := r.FormValue("schema"); raw != "" {
		def, err = parseSchema([]byte(raw))
	} else {
		def, err = parseSchema(nil)
	}
	if err != nil {
		return req, err
	}
	req = extraction.BatchRequest{Name: r.FormValue("name"), Fields: def.Fields, RowsField: r.FormValue("rowsField")}
	if req.RowsField == "" {
		req.RowsField = def.RowsField
	}

	for _, fh := range r.MultipartForm.File["files"] {
		doc, err := readUpload(fh, s.maxUploadBytes)
		if err != nil {
			return req, err
		}
		req.Documents = append(req.Documents, doc)
	}
	return req, nil
}

func readUpload(fh *multipart.FileHeader, max int64) (pipeline.Document, error) {
	name := sanitizeFilename(fh.Filename)
	if !ingest.AllowedExt(filepath.Ext(name)) {
		return pipeline.Document{}, invalidInput(fmt.Sprintf("unsupported file type: %s", filepath.Ext(name)))
	}
	f, err := fh.Open()
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("open upload %q: %w", name, err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, max+1))
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("read upload %q: %w", name, err)
	}
	if int64(len(data)) > max {
		return pipeline.Document{}, invalidInput(fmt.Sprintf("file %s exceeds max size (%d bytes)", name, max))
	}
	return pipeline.Document{Label: name, Data: data}, nil
}

func (s *HTTPServer) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	batches, err := s.svc.ListBatches(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, "Failed to list batches", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (s *HTTPServer) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	details, err := s.svc.GetBatch(r.Context(), id)
	if err != nil {
		s.writeError(w, r, "Failed to get batch", err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (s *HTTPServer) handleCancelBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	if err := s.svc.CancelBatch(r.Context(), id); err != nil {
		s.writeError(w, r, "Failed to cancel batch", err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"id": id, "cancelled": true})
}

func (s *HTTPServer) handleExportBatch(w http.ResponseWriter, r *http.Request) {
	id, ok := batchID(w, r)
	if !ok {
		return
	}
	format := export.Format(strings.ToLower(r.URL.Query().Get("format")))
	f, err := s.svc.ExportBatch(r.Context(), id, format)
	if err != nil {
		s.writeError(w, r, "Failed to export batch", err)
		return
	}
	writeFile(w, f)
}

func batchID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "batchID"))
	if err != nil {
		jsonError(w, "batch id must be a UUID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

// parseSchema accepts a bare field array or a definition object. An empty value
// yields an empty definition, which selects the default schema.
func parseSchema(raw []byte) (*schema.Definition, error) {
	if len(strings.TrimSpace(string(raw))) == 0 || string(raw) == "null" {
		return &schema.Definition{}, nil
	}
	def, err := schema.Parse(raw, schema.FormatJSON)
	if err != nil {
		var schemaErr *schema.SchemaError
		if errors.As(err, &schemaErr) {
			return nil, err
		}
		return nil, common.NewAppError("INVALID_INPUT", "invalid schema", errors.Join(common.ErrInvalidInput, err))
	}
	return def, nil
}

func invalidInput(msg string) error {
	return common.NewAppError("INVALID_INPUT", msg, common.ErrInvalidInput)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := httpStatus(err)
	logger := common.LoggerFrom(r.Context(), s.log)
	if code >= http.StatusInternalServerError {
		logger.Error("http.error", "path", r.URL.Path, "status", code, "error", err)
		jsonError(w, msg, code)
		return
	}
	logger.Warn("http.error", "path", r.URL.Path, "status", code, "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg, "details": err.Error()})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, max int64, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, max)
	dec := json.NewDecoder(r.Body)
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFile(w http.ResponseWriter, f *export.File) {
	w.Header().Set("Content-Type", f.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", f.Name))
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(f.Data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
