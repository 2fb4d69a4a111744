package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/config"
	"github.com/stemsplit/api/internal/model"
)

// SplitterClient talks to the splitter job API
type SplitterClient struct {
	httpClient *http.Client
	baseURL    string
}

// StatusError is returned when the splitter answers with a non-2xx status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("splitter service error (status %d): %s", e.Code, e.Body)
}

// NewSplitterClient creates a new splitter client
func NewSplitterClient(cfg *config.SplitterConfig) *SplitterClient {
	return &SplitterClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL: cfg.ServiceURL,
	}
}

// Submit forwards a split job to the splitter
func (c *SplitterClient) Submit(ctx context.Context, req *model.SplitRequest) (*model.SplitSubmitResponse, error) {
	var result model.SplitSubmitResponse
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Status fetches the current snapshot of a job
func (c *SplitterClient) Status(ctx context.Context, jobID string) (*model.Job, error) {
	var result model.Job
	if err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(jobID)+"/status", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// HealthCheck checks if the splitter is available
func (c *SplitterClient) HealthCheck(ctx context.Context) error {
	var result map[string]interface{}
	return c.do(ctx, http.MethodGet, "/ping", nil, &result)
}

// do sends a request with an optional JSON body and parses the response.
// A 404 is marked model.ErrNotFound.
func (c *SplitterClient) do(ctx context.Context, method, endpoint string, body interface{}, result interface{}) error {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "failed to marshal request")
		}
		reader = bytes.NewReader(bodyBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := &StatusError{Code: resp.StatusCode, Body: string(respBody)}
		if resp.StatusCode == http.StatusNotFound {
			return errors.Mark(statusErr, model.ErrNotFound)
		}
		return statusErr
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return errors.Wrap(err, "failed to unmarshal response")
	}

	return nil
}
