package server

import (
	"net/http"
	"time"

	"github.com/oceanlab/specimen-stack/common/logging"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// AccessLog logs each request's method, path, status and duration.
// Probe and scrape endpoints are logged at debug level.
func AccessLog(logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			attrs := []any{
				logging.Method(r.Method),
				logging.Path(r.URL.Path),
				logging.Status(rec.status),
				logging.Duration(time.Since(start)),
			}
			switch r.URL.Path {
			case "/healthz", "/readyz", "/metrics":
				logger.DebugContext(r.Context(), "request", attrs...)
			default:
				logger.InfoContext(r.Context(), "request", attrs...)
			}
		})
	}
}
