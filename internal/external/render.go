// Package external holds the HTTP clients for downstream
// collaborators: the audio render engine, the payment provider and the
// mail service. Each client wraps one call contract and folds non-2xx
// responses into the returned error with status and body.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const userAgent = "auralane-worker/1.0"

// RenderClient triggers the audio rendering engine for a previously
// created render sub-job. The engine reports progress through the
// shared store, not through this client.
type RenderClient struct {
	BaseURL string
	HTTP    *http.Client
}

func NewRenderClient(baseURL string) *RenderClient {
	return &RenderClient{
		BaseURL: baseURL,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Trigger asks the engine to start processing the given render job.
func (c *RenderClient) Trigger(ctx context.Context, renderJobID string) error {
	if c.BaseURL == "" {
		return fmt.Errorf("render engine url is not configured")
	}

	body, err := json.Marshal(map[string]string{
		"action": "process",
		"jobId":  renderJobID,
	})
	if err != nil {
		return fmt.Errorf("failed to serialize render request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build render request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call render engine: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("render engine error, status: %s, body: %s", resp.Status, string(bodyBytes))
}

// Health probes the engine endpoint.
func (c *RenderClient) Health(ctx context.Context) error {
	if c.BaseURL == "" {
		return fmt.Errorf("render engine url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("render engine unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("render engine unhealthy, status: %s", resp.Status)
	}
	return nil
}
