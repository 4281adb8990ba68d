package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/middleware"
	"github.com/oceanlab/specimen-stack/ingest/internal/handlers"
)

// NewRouter constructs a ServeMux with ingest API routes registered.
func NewRouter(h *handlers.SpecimenHandler, corsOrigins []string, logger *logging.Logger) http.Handler {
	mux := http.NewServeMux()

	// Specimen API
	mux.HandleFunc("POST /api/v1/specimens", h.Submit)
	mux.HandleFunc("GET /api/v1/specimens", h.List)
	mux.HandleFunc("GET /api/v1/specimens/{id}", h.Get)

	// Legacy endpoints used by the survey frontend
	mux.HandleFunc("POST /api/ingest/otolith", h.SubmitLegacy)
	mux.HandleFunc("GET /api/otolith/results/{id}", h.Get)
	mux.HandleFunc("GET /api/dashboard/data", h.List)

	// Health endpoints
	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("GET /metrics", promhttp.Handler())

	cors := middleware.CORS(middleware.DefaultCORSConfig(corsOrigins))
	return middleware.RequestID(AccessLog(logger)(cors(mux)))
}
