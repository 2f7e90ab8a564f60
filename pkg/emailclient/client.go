/**
 * @description
 * This package provides a client for the transactional email provider. It
 * encapsulates the logic for making authenticated HTTP requests to the
 * provider's send endpoint and parsing the returned message id, which the
 * outbox records for audit.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package emailclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the transactional email API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new email API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type sendEmailRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html,omitempty"`
	Text    string   `json:"text,omitempty"`
}

type sendEmailResponse struct {
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// Send delivers one email and returns the provider's message id.
func (c *Client) Send(ctx context.Context, from, to, subject, html, text string) (string, error) {
	body, err := json.Marshal(sendEmailRequest{
		From:    from,
		To:      []string{to},
		Subject: subject,
		HTML:    html,
		Text:    text,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("email send request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	var parsed sendEmailResponse
	if resp.StatusCode != http.StatusOK {
		if json.Unmarshal(raw, &parsed) == nil && parsed.Message != "" {
			return "", fmt.Errorf("email provider returned status %d: %s", resp.StatusCode, parsed.Message)
		}
		return "", fmt.Errorf("email provider returned status %d", resp.StatusCode)
	}

	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("email provider response unmarshal failed: %w", err)
	}
	if parsed.ID == "" {
		return "", fmt.Errorf("email provider returned no message id")
	}
	return parsed.ID, nil
}
