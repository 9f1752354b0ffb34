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

// Message is the mail-service send contract.
type Message struct {
	To           string         `json:"to"`
	From         string         `json:"from,omitempty"`
	Subject      string         `json:"subject"`
	Template     string         `json:"template,omitempty"`
	TemplateData map[string]any `json:"templateData,omitempty"`
}

// MailClient dispatches emails to the mail-service collaborator.
type MailClient struct {
	BaseURL string
	From    string
	HTTP    *http.Client
}

func NewMailClient(baseURL, from string) *MailClient {
	return &MailClient{
		BaseURL: baseURL,
		From:    from,
		HTTP:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Send posts one message to the mail service.
func (c *MailClient) Send(ctx context.Context, msg Message) error {
	if c.BaseURL == "" {
		return fmt.Errorf("mail service url is not configured")
	}
	if msg.From == "" {
		msg.From = c.From
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize mail message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build mail request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call mail service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	bodyBytes, _ := io.ReadAll(resp.Body)
	return fmt.Errorf("mail send failed, status: %s, body: %s", resp.Status, string(bodyBytes))
}

// Health probes the mail service.
func (c *MailClient) Health(ctx context.Context) error {
	if c.BaseURL == "" {
		return fmt.Errorf("mail service url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("mail service unreachable: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail service unhealthy, status: %s", resp.Status)
	}
	return nil
}
