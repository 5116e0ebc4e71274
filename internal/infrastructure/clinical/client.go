// Package clinical is the outbound client for the clinical record platform
// that actually holds patient data. The engine never stores medical records
// itself; every read, correction, and disposal goes through this surface.
package clinical

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// Config holds connection settings for the clinical record platform.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the clinical record platform's compliance API. It
// implements the patient directory, record service, erasure gateway, and
// processing-activity collaborator interfaces.
type Client struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// NewClient creates a clinical platform client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Exists reports whether the platform knows the patient.
func (c *Client) Exists(ctx context.Context, patientID uuid.UUID) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, fmt.Sprintf("/v1/patients/%s", patientID), nil)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, c.statusError(resp)
	}
}

// GetFullName resolves the patient's display name.
func (c *Client) GetFullName(ctx context.Context, patientID uuid.UUID) (string, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/patients/%s", patientID), nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp)
	}

	var body struct {
		FullName string `json:"full_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.NewInternalError("decoding patient response").WithCause(err)
	}
	return body.FullName, nil
}

// Snapshot reads the patient's data for the given categories. Nil categories
// returns everything the platform holds.
func (c *Client) Snapshot(ctx context.Context, patientID uuid.UUID, categories []string) (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if len(categories) > 0 {
		payload["categories"] = categories
	}
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/patients/%s/snapshot", patientID), payload)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var snapshot map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, errors.NewInternalError("decoding snapshot response").WithCause(err)
	}
	return snapshot, nil
}

// Rectify applies field corrections. The platform returns 422 for fields it
// cannot legally change, which maps to a validation error.
func (c *Client) Rectify(ctx context.Context, patientID uuid.UUID, fields []string, note string) error {
	payload := map[string]interface{}{
		"fields": fields,
		"note":   note,
	}
	resp, err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/v1/patients/%s/records", patientID), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return c.statusError(resp)
}

// Erase permanently removes one data category for the patient.
func (c *Client) Erase(ctx context.Context, patientID uuid.UUID, dataCategory string) error {
	return c.disposal(ctx, patientID, dataCategory, "erase")
}

// Anonymize strips identifying attributes from one data category.
func (c *Client) Anonymize(ctx context.Context, patientID uuid.UUID, dataCategory string) error {
	return c.disposal(ctx, patientID, dataCategory, "anonymize")
}

// Suspend halts a processing activity for the patient's data.
func (c *Client) Suspend(ctx context.Context, patientID uuid.UUID, purpose string) error {
	payload := map[string]interface{}{
		"purpose": purpose,
	}
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/patients/%s/activities/suspend", patientID), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		return nil
	}
	return c.statusError(resp)
}

func (c *Client) disposal(ctx context.Context, patientID uuid.UUID, dataCategory, action string) error {
	payload := map[string]interface{}{
		"data_category": dataCategory,
		"action":        action,
	}
	resp, err := c.do(ctx, http.MethodPost, fmt.Sprintf("/v1/patients/%s/disposals", patientID), payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusAccepted {
		return nil
	}
	return c.statusError(resp)
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.NewInternalError("encoding request body").WithCause(err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return nil, errors.NewInternalError("building clinical request").WithCause(err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.NewTimeoutError("clinical record platform").WithCause(err)
		}
		return nil, errors.NewStorageError("clinical request failed").WithCause(err)
	}
	return resp, nil
}

func (c *Client) statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := string(raw)

	c.logger.Warn("clinical platform returned an error",
		zap.Int("status", resp.StatusCode),
		zap.String("path", resp.Request.URL.Path),
	)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return errors.NewNotFoundError("patient")
	case resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusBadRequest:
		return errors.NewValidationError("CLINICAL_REJECTED", msg)
	case resp.StatusCode == http.StatusConflict:
		return errors.NewConflictError(msg)
	case resp.StatusCode >= 500:
		return errors.NewStorageError(fmt.Sprintf("clinical platform error: %d", resp.StatusCode))
	default:
		return errors.NewInternalError(fmt.Sprintf("unexpected clinical response: %d", resp.StatusCode))
	}
}
