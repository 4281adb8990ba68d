package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func serveWithRequestID(t *testing.T, header string) (fromCtx, fromResp string) {
	t.Helper()
	handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fromCtx = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	if header != "" {
		req.Header.Set(HeaderRequestID, header)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return fromCtx, rec.Header().Get(HeaderRequestID)
}

func TestRequestID_Generates(t *testing.T) {
	ctxID, respID := serveWithRequestID(t, "")
	require.NotEmpty(t, ctxID)
	assert.Equal(t, ctxID, respID)

	parsed, err := uuid.Parse(ctxID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
}

func TestRequestID_Propagates(t *testing.T) {
	ctxID, respID := serveWithRequestID(t, "upload-42")
	assert.Equal(t, "upload-42", ctxID)
	assert.Equal(t, "upload-42", respID)
}

func TestRequestID_ReplacesInvalidHeader(t *testing.T) {
	for _, bad := range []string{"has space", "line\nbreak", strings.Repeat("x", maxRequestIDLength+1)} {
		ctxID, _ := serveWithRequestID(t, bad)
		assert.NotEqual(t, bad, ctxID)
		_, err := uuid.Parse(ctxID)
		assert.NoError(t, err)
	}
}

func TestRequestID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, _ := serveWithRequestID(t, "")
		assert.False(t, seen[id], "duplicate request ID %s", id)
		seen[id] = true
	}
}

func TestGetRequestID_Missing(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, "", GetRequestID(req.Context()))
	assert.Equal(t, "abc", GetRequestID(WithRequestID(req.Context(), "abc")))
}
