package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/joseph-ayodele/schema-extractor/internal/common"
)

// RequestLogger logs one line per request and carries chi's request ID into the
// context for the service layer.
func RequestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()
			if id := middleware.GetReqID(ctx); id != "" {
				ctx = common.WithRequestID(ctx, id)
			}
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r.WithContext(ctx))
			log.Info("http.request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"req_id", common.RequestIDFromContext(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
