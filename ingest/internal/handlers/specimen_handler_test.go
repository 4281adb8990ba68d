package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanlab/specimen-stack/common/logging"
	"github.com/oceanlab/specimen-stack/common/models"
	"github.com/oceanlab/specimen-stack/common/recordstore"
	"github.com/oceanlab/specimen-stack/ingest/internal/service"
)

type mockService struct {
	submitted []service.Submission
	submitErr error
	records   map[string]*models.SpecimenRecord
	listLimit int
	listErr   error
	readyErr  error
}

func (m *mockService) Submit(_ context.Context, sub service.Submission) (string, error) {
	if m.submitErr != nil {
		return "", m.submitErr
	}
	m.submitted = append(m.submitted, sub)
	if sub.SpecimenID == "" {
		return "generated-id", nil
	}
	return sub.SpecimenID, nil
}

func (m *mockService) GetRecord(_ context.Context, id string) (*models.SpecimenRecord, error) {
	if err := models.ValidateSpecimenID(id); err != nil {
		return nil, service.ErrInvalidSubmission
	}
	r, ok := m.records[id]
	if !ok {
		return nil, recordstore.ErrNotFound
	}
	return r, nil
}

func (m *mockService) ListRecords(_ context.Context, limit int) ([]*models.SpecimenRecord, error) {
	m.listLimit = limit
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := []*models.SpecimenRecord{}
	for _, r := range m.records {
		out = append(out, r)
	}
	return out, nil
}

func (m *mockService) Ready(context.Context) error { return m.readyErr }

type denyLimiter struct{ err error }

func (d *denyLimiter) Allow(context.Context, string) (bool, error) { return false, d.err }
func (d *denyLimiter) Close() error                                { return nil }

func newMux(h *SpecimenHandler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/specimens", h.Submit)
	mux.HandleFunc("POST /api/ingest/otolith", h.SubmitLegacy)
	mux.HandleFunc("GET /api/v1/specimens", h.List)
	mux.HandleFunc("GET /api/v1/specimens/{id}", h.Get)
	mux.HandleFunc("GET /readyz", h.Ready)
	return mux
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestSubmit_Accepted(t *testing.T) {
	svc := &mockService{}
	mux := newMux(NewSpecimenHandler(svc, nil, 1<<20, logging.Discard()))

	rr := do(t, mux, http.MethodPost, "/api/v1/specimens",
		`{"specimenId":"spec-1","payload":"abc","latitude":15.3,"longitude":73.9}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	var resp SubmitResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, SubmitResponse{Status: "accepted", SpecimenID: "spec-1"}, resp)

	require.Len(t, svc.submitted, 1)
	assert.Equal(t, "abc", svc.submitted[0].Payload)
	assert.Equal(t, 73.9, *svc.submitted[0].Longitude)
}

func TestSubmitLegacy_MapsFields(t *testing.T) {
	svc := &mockService{}
	mux := newMux(NewSpecimenHandler(svc, nil, 1<<20, logging.Discard()))

	rr := do(t, mux, http.MethodPost, "/api/ingest/otolith", `{"image_id":"otolith_sample_1","image_data":"abc"}`)
	require.Equal(t, http.StatusAccepted, rr.Code)

	require.Len(t, svc.submitted, 1)
	assert.Equal(t, "otolith_sample_1", svc.submitted[0].SpecimenID)
	assert.Equal(t, "abc", svc.submitted[0].Payload)
}

func TestSubmit_Errors(t *testing.T) {
	tests := []struct {
		name       string
		svc        *mockService
		maxBytes   int64
		body       string
		wantStatus int
	}{
		{
			name:       "invalid json",
			svc:        &mockService{},
			body:       `{"specimenId":`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			svc:        &mockService{},
			body:       ``,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "too large",
			svc:        &mockService{},
			maxBytes:   16,
			body:       `{"specimenId":"spec-1","payload":"` + strings.Repeat("A", 64) + `"}`,
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "validation failure",
			svc:        &mockService{submitErr: service.ErrInvalidSubmission},
			body:       `{"specimenId":"spec-1"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "channel unavailable",
			svc:        &mockService{submitErr: service.ErrChannelUnavailable},
			body:       `{"specimenId":"spec-1","payload":"abc"}`,
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unexpected",
			svc:        &mockService{submitErr: errors.New("boom")},
			body:       `{"specimenId":"spec-1","payload":"abc"}`,
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxBytes := tt.maxBytes
			if maxBytes == 0 {
				maxBytes = 1 << 20
			}
			mux := newMux(NewSpecimenHandler(tt.svc, nil, maxBytes, logging.Discard()))

			rr := do(t, mux, http.MethodPost, "/api/v1/specimens", tt.body)
			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), `"status":"error"`)
		})
	}
}

func TestSubmit_RateLimited(t *testing.T) {
	svc := &mockService{}
	mux := newMux(NewSpecimenHandler(svc, &denyLimiter{}, 1<<20, logging.Discard()))

	rr := do(t, mux, http.MethodPost, "/api/v1/specimens", `{"specimenId":"spec-1","payload":"abc"}`)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
	assert.Empty(t, svc.submitted)
}

func TestSubmit_RateLimiterErrorFailsOpen(t *testing.T) {
	svc := &mockService{}
	mux := newMux(NewSpecimenHandler(svc, &denyLimiter{err: errors.New("redis down")}, 1<<20, logging.Discard()))

	rr := do(t, mux, http.MethodPost, "/api/v1/specimens", `{"specimenId":"spec-1","payload":"abc"}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	assert.Len(t, svc.submitted, 1)
}

func TestGet(t *testing.T) {
	label := "Thunnus albacares"
	svc := &mockService{records: map[string]*models.SpecimenRecord{
		"spec-1": {SpecimenID: "spec-1", PredictedLabel: &label},
	}}
	mux := newMux(NewSpecimenHandler(svc, nil, 1<<20, logging.Discard()))

	rr := do(t, mux, http.MethodGet, "/api/v1/specimens/spec-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rec models.SpecimenRecord
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &rec))
	assert.Equal(t, label, *rec.PredictedLabel)
	assert.Nil(t, rec.Area)

	rr = do(t, mux, http.MethodGet, "/api/v1/specimens/missing", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestList(t *testing.T) {
	svc := &mockService{records: map[string]*models.SpecimenRecord{
		"a": {SpecimenID: "a"},
		"b": {SpecimenID: "b"},
	}}
	mux := newMux(NewSpecimenHandler(svc, nil, 1<<20, logging.Discard()))

	rr := do(t, mux, http.MethodGet, "/api/v1/specimens?limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var resp ListResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, 5, svc.listLimit)

	do(t, mux, http.MethodGet, "/api/v1/specimens?limit=999999", "")
	assert.Equal(t, maxListLimit, svc.listLimit)

	do(t, mux, http.MethodGet, "/api/v1/specimens", "")
	assert.Equal(t, recordstore.DefaultListLimit, svc.listLimit)
}

func TestList_Empty(t *testing.T) {
	svc := &mockService{listErr: nil}
	mux := newMux(NewSpecimenHandler(svc, nil, 1<<20, logging.Discard()))

	rr := do(t, mux, http.MethodGet, "/api/v1/specimens", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"records":[],"count":0}`, rr.Body.String())
}

func TestList_StoreError(t *testing.T) {
	svc := &mockService{listErr: errors.New("db down")}
	mux := newMux(NewSpecimenHandler(svc, nil, 1<<20, logging.Discard()))

	rr := do(t, mux, http.MethodGet, "/api/v1/specimens", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestReady(t *testing.T) {
	svc := &mockService{}
	mux := newMux(NewSpecimenHandler(svc, nil, 1<<20, logging.Discard()))

	rr := do(t, mux, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	svc.readyErr = errors.New("not connected")
	rr = do(t, mux, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, rr.Body.String(), "not connected")
}
