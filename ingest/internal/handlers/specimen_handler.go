package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/oceanlab/specimen-stack/common/httputil"
	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/models"
	"github.com/oceanlab/specimen-stack/common/recordstore"
	"github.com/oceanlab/specimen-stack/ingest/internal/metrics"
	"github.com/oceanlab/specimen-stack/ingest/internal/ratelimit"
	"github.com/oceanlab/specimen-stack/ingest/internal/service"
)

const maxListLimit = 1000

// SpecimenService is the gateway behaviour the handlers depend on.
type SpecimenService interface {
	Submit(ctx context.Context, sub service.Submission) (string, error)
	GetRecord(ctx context.Context, specimenID string) (*models.SpecimenRecord, error)
	ListRecords(ctx context.Context, limit int) ([]*models.SpecimenRecord, error)
	Ready(ctx context.Context) error
}

// SubmitRequest is the body of POST /api/v1/specimens.
type SubmitRequest struct {
	SpecimenID string   `json:"specimenId"`
	Payload    string   `json:"payload"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

// LegacySubmitRequest is the body of POST /api/ingest/otolith.
type LegacySubmitRequest struct {
	ImageID   string   `json:"image_id"`
	ImageData string   `json:"image_data"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// SubmitResponse is returned with 202 Accepted.
type SubmitResponse struct {
	Status     string `json:"status"`
	SpecimenID string `json:"specimenId"`
}

// ListResponse wraps a page of records.
type ListResponse struct {
	Records []*models.SpecimenRecord `json:"records"`
	Count   int                      `json:"count"`
}

type SpecimenHandler struct {
	service  SpecimenService
	limiter  ratelimit.RateLimiter
	maxBytes int64
	logger   *logging.Logger
}

func NewSpecimenHandler(svc SpecimenService, limiter ratelimit.RateLimiter, maxBytes int64, logger *logging.Logger) *SpecimenHandler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SpecimenHandler{
		service:  svc,
		limiter:  limiter,
		maxBytes: maxBytes,
		logger:   logger.With(logging.Component("specimen_handler")),
	}
}

// Submit handles POST /api/v1/specimens.
func (h *SpecimenHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req SubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.submit(w, r, service.Submission{
		SpecimenID: req.SpecimenID,
		Payload:    req.Payload,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
	})
}

// SubmitLegacy handles POST /api/ingest/otolith.
func (h *SpecimenHandler) SubmitLegacy(w http.ResponseWriter, r *http.Request) {
	if !h.allow(w, r) {
		return
	}

	var req LegacySubmitRequest
	if !h.decode(w, r, &req) {
		return
	}
	h.submit(w, r, service.Submission{
		SpecimenID: req.ImageID,
		Payload:    req.ImageData,
		Latitude:   req.Latitude,
		Longitude:  req.Longitude,
	})
}

// Get handles GET /api/v1/specimens/{id}.
func (h *SpecimenHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.GetRecord(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusOK, rec)
	case errors.Is(err, service.ErrInvalidSubmission):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, recordstore.ErrNotFound):
		httputil.WriteError(w, http.StatusNotFound, "specimen not found")
	default:
		h.logger.ErrorContext(r.Context(), "failed to read record", logging.Error(err))
		httputil.WriteRetryableError(w, http.StatusServiceUnavailable, "record store unavailable", 5)
	}
}

// List handles GET /api/v1/specimens and GET /api/dashboard/data.
func (h *SpecimenHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := httputil.ParseLimit(r, recordstore.DefaultListLimit, maxListLimit)

	records, err := h.service.ListRecords(r.Context(), limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list records", logging.Error(err))
		httputil.WriteRetryableError(w, http.StatusServiceUnavailable, "record store unavailable", 5)
		return
	}
	if records == nil {
		records = []*models.SpecimenRecord{}
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Records: records, Count: len(records)})
}

func (h *SpecimenHandler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *SpecimenHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ready(r.Context()); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *SpecimenHandler) submit(w http.ResponseWriter, r *http.Request, sub service.Submission) {
	id, err := h.service.Submit(r.Context(), sub)
	switch {
	case err == nil:
		httputil.WriteJSON(w, http.StatusAccepted, SubmitResponse{Status: "accepted", SpecimenID: id})
	case errors.Is(err, service.ErrInvalidSubmission):
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrChannelUnavailable):
		httputil.WriteRetryableError(w, http.StatusServiceUnavailable, "message channel unavailable", 5)
	default:
		h.logger.ErrorContext(r.Context(), "submission failed", logging.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *SpecimenHandler) allow(w http.ResponseWriter, r *http.Request) bool {
	ip := httputil.GetClientIP(r)
	allowed, err := h.limiter.Allow(r.Context(), ip)
	if err != nil {
		// fail open
		h.logger.WarnContext(r.Context(), "rate limiter unavailable", logging.IP(ip), logging.Error(err))
		return true
	}
	if !allowed {
		metrics.SubmissionsTotal.WithLabelValues("rate_limited").Inc()
		httputil.WriteRetryableError(w, http.StatusTooManyRequests, "rate limit exceeded", 1)
		return false
	}
	return true
}

func (h *SpecimenHandler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := httputil.DecodeJSON(w, r, h.maxBytes, v)
	switch {
	case err == nil:
		return true
	case errors.Is(err, httputil.ErrBodyTooLarge):
		metrics.SubmissionsTotal.WithLabelValues("too_large").Inc()
		httputil.WriteError(w, http.StatusRequestEntityTooLarge, err.Error())
	default:
		metrics.SubmissionsTotal.WithLabelValues("invalid").Inc()
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
	}
	return false
}
