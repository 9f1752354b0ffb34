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

// TransferRequest is the payment provider's transfer call contract.
type TransferRequest struct {
	AmountCents int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Destination string            `json:"destination"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PaymentClient calls the payment provider's transfer endpoint.
type PaymentClient struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func NewPaymentClient(baseURL, apiKey string) *PaymentClient {
	return &PaymentClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Transfer moves funds to a seller's payout account and returns the
// provider's transfer id.
func (c *PaymentClient) Transfer(ctx context.Context, tr TransferRequest) (string, error) {
	if c.BaseURL == "" || c.APIKey == "" {
		return "", fmt.Errorf("payment provider is not configured")
	}

	body, err := json.Marshal(tr)
	if err != nil {
		return "", fmt.Errorf("failed to serialize transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/transfers", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build transfer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call payment provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("transfer failed, status: %s, body: %s", resp.Status, string(bodyBytes))
	}

	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to parse transfer response: %w", err)
	}
	if out.ID == "" {
		return "", fmt.Errorf("transfer response missing id")
	}
	return out.ID, nil
}

// Health reports whether the provider is usable: the API key must be
// configured; reachability is left to the transfer call itself.
func (c *PaymentClient) Health(_ context.Context) error {
	if c.BaseURL == "" || c.APIKey == "" {
		return fmt.Errorf("payment provider is not configured")
	}
	return nil
}
