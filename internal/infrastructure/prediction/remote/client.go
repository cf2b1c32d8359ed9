// Package remote calls prediction backends exposed over HTTP+JSON.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

const maxResponseBytes = 1 * 1024 * 1024

// Endpoint paths relative to the backend base URL
const (
	HealthPath  = "/v1/health/predict"
	GradingPath = "/v1/grading/grade"
	PricingPath = "/v1/pricing/estimate"
)

// Client implements port.HealthPredictor, port.Grader and port.PriceEstimator over HTTP
type Client struct {
	baseURL string
	path    string
	apiKey  string
	client  *http.Client
}

// NewClient creates a client for a single backend
func NewClient(baseURL, path, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		path:    path,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// healthRequest is the wire form of a telemetry window
type healthRequest struct {
	DeviceID string                    `json:"device_id"`
	Days     int                       `json:"window_days"`
	End      time.Time                 `json:"window_end"`
	Readings []entity.TelemetryReading `json:"readings"`
}

type gradingRequest struct {
	Images []port.ImageRef `json:"images"`
}

// PredictHealth posts the telemetry window to the health backend
func (c *Client) PredictHealth(ctx context.Context, window *entity.TelemetryWindow) (*entity.HealthPrediction, error) {
	req := healthRequest{
		DeviceID: window.DeviceID(),
		Days:     window.Days(),
		End:      window.End(),
		Readings: slices.Collect(window.Readings()),
	}
	var out entity.HealthPrediction
	if err := c.post(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GradeDevice posts image references to the grading backend
func (c *Client) GradeDevice(ctx context.Context, images []port.ImageRef) (*entity.GradingResult, error) {
	var out entity.GradingResult
	if err := c.post(ctx, gradingRequest{Images: images}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// EstimatePrice posts price features to the pricing backend
func (c *Client) EstimatePrice(ctx context.Context, features port.PriceFeatures) (*entity.PriceEstimate, error) {
	var out entity.PriceEstimate
	if err := c.post(ctx, features, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, in, out interface{}) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.path, err)
	}
	defer resp.Body.Close()

	body, err := readLimited(resp.Body, maxResponseBytes)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend %s returned status %d: %s", c.path, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	lr := io.LimitReader(r, limit+1)
	data, err := io.ReadAll(lr)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, io.ErrUnexpectedEOF
	}
	return data, nil
}
