// Package remote talks to an external passport ledger service over HTTP.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dreschagin/device-lifecycle/internal/application/port"
	"github.com/dreschagin/device-lifecycle/internal/domain/domainerr"
	"github.com/dreschagin/device-lifecycle/internal/domain/entity"
)

const maxResponseBytes = 512 * 1024

// Client implements port.PassportLedger against a REST ledger gateway
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a ledger client
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

type mintRequest struct {
	DeviceID string                    `json:"device_id"`
	Profile  entity.CircularityProfile `json:"profile"`
}

type eventResponse struct {
	TxHash string `json:"tx_hash"`
}

// Mint creates a passport. HTTP 409 maps to ErrAlreadyMinted.
func (c *Client) Mint(ctx context.Context, deviceID string, profile entity.CircularityProfile) (port.MintReceipt, error) {
	var receipt port.MintReceipt
	status, err := c.post(ctx, "/v1/passports", mintRequest{DeviceID: deviceID, Profile: profile}, &receipt)
	if status == http.StatusConflict {
		return port.MintReceipt{}, domainerr.ErrAlreadyMinted
	}
	if err != nil {
		return port.MintReceipt{}, err
	}
	if receipt.LedgerRef == "" {
		return port.MintReceipt{}, fmt.Errorf("ledger returned empty reference for device %s", deviceID)
	}
	return receipt, nil
}

// RecordEvent appends an event to the passport trail
func (c *Client) RecordEvent(ctx context.Context, ledgerRef string, event port.LedgerEvent) (string, error) {
	var resp eventResponse
	path := "/v1/passports/" + url.PathEscape(ledgerRef) + "/events"
	if _, err := c.post(ctx, path, event, &resp); err != nil {
		return "", err
	}
	return resp.TxHash, nil
}

func (c *Client) post(ctx context.Context, path string, in, out interface{}) (int, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal ledger request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("failed to build ledger request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("ledger request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read ledger response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("ledger returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return resp.StatusCode, fmt.Errorf("failed to decode ledger response: %w", err)
	}
	return resp.StatusCode, nil
}
