package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/cockroachdb/errors"

	"github.com/stemsplit/api/internal/config"
)

const keygenMediaType = "application/vnd.api+json"

// KeygenClient validates license keys against keygen.sh
type KeygenClient struct {
	httpClient *http.Client
	baseURL    string
	accountID  string
}

type keygenValidateRequest struct {
	Meta struct {
		Key string `json:"key"`
	} `json:"meta"`
}

type keygenValidateResponse struct {
	Meta struct {
		Valid  bool   `json:"valid"`
		Detail string `json:"detail"`
		Code   string `json:"code"`
	} `json:"meta"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
}

// NewKeygenClient creates a new keygen client
func NewKeygenClient(cfg *config.KeygenConfig) *KeygenClient {
	return &KeygenClient{
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		accountID: cfg.AccountID,
	}
}

// DevMode reports whether keys are accepted without asking keygen.
func (c *KeygenClient) DevMode() bool {
	return c.accountID == ""
}

// Validate reports whether key is a valid license. Any transport or decoding
// failure counts as invalid.
func (c *KeygenClient) Validate(ctx context.Context, key string) bool {
	if strings.TrimSpace(key) == "" {
		return false
	}
	if c.DevMode() {
		log.Warn("keygen account not configured, accepting license key in development mode")
		return true
	}

	valid, err := c.validateKey(ctx, key)
	if err != nil {
		log.WithError(err).Error("license validation failed")
		return false
	}
	return valid
}

func (c *KeygenClient) validateKey(ctx context.Context, key string) (bool, error) {
	var body keygenValidateRequest
	body.Meta.Key = key

	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal request")
	}

	endpoint := c.baseURL + "/accounts/" + c.accountID + "/licenses/actions/validate-key"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return false, errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", keygenMediaType)
	req.Header.Set("Accept", keygenMediaType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "failed to send request")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, errors.Wrap(err, "failed to read response")
	}

	var result keygenValidateResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return false, errors.Wrapf(err, "failed to unmarshal response (status %d)", resp.StatusCode)
	}

	if len(result.Errors) > 0 {
		log.WithFields(log.Fields{
			"status": resp.StatusCode,
			"title":  result.Errors[0].Title,
		}).Warn("keygen rejected license key")
		return false, nil
	}

	return result.Meta.Valid, nil
}
