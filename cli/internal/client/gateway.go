package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/oceanlab/specimen-stack/common/httputil"
	"github.com/oceanlab/specimen-stack/common/models"
)

// ErrNotFound is returned when the gateway has no record for a specimen.
var ErrNotFound = errors.New("specimen not found")

// APIError is a non-2xx gateway response.
type APIError struct {
	StatusCode int
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("gateway returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated later.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

// SubmitRequest is the body of a specimen submission.
type SubmitRequest struct {
	SpecimenID string   `json:"specimenId,omitempty"`
	Payload    string   `json:"payload"`
	Latitude   *float64 `json:"latitude,omitempty"`
	Longitude  *float64 `json:"longitude,omitempty"`
}

type submitResponse struct {
	Status     string `json:"status"`
	SpecimenID string `json:"specimenId"`
}

type listResponse struct {
	Records []*models.SpecimenRecord `json:"records"`
	Count   int                      `json:"count"`
}

type GatewayClient struct {
	baseURL string
	client  *http.Client
}

func NewGatewayClient(baseURL string) *GatewayClient {
	return &GatewayClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// Submit sends a specimen and returns the identifier the gateway accepted it under.
func (c *GatewayClient) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	var resp submitResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/specimens", req, http.StatusAccepted, &resp); err != nil {
		return "", err
	}
	return resp.SpecimenID, nil
}

// Get fetches one record.
func (c *GatewayClient) Get(ctx context.Context, specimenID string) (*models.SpecimenRecord, error) {
	var rec models.SpecimenRecord
	err := c.do(ctx, http.MethodGet, "/api/v1/specimens/"+url.PathEscape(specimenID), nil, http.StatusOK, &rec)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, specimenID)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// List fetches up to limit records, most recently updated first.
func (c *GatewayClient) List(ctx context.Context, limit int) ([]*models.SpecimenRecord, error) {
	path := "/api/v1/specimens"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &resp); err != nil {
		return nil, err
	}
	return resp.Records, nil
}

func (c *GatewayClient) do(ctx context.Context, method, path string, body any, want int, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		apiErr := &APIError{
			StatusCode: resp.StatusCode,
			RetryAfter: httputil.ParseIntParam(resp.Header.Get("Retry-After"), 0),
		}
		var errBody httputil.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&errBody) == nil {
			apiErr.Message = errBody.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}
