/**
 * @description
 * This package provides a client for the remote browser-automation runtime.
 * It encapsulates the logic for making authenticated HTTP requests to the
 * runtime's session API, exposing the navigate/fill/click/text/screenshot
 * primitives the provider adapters drive claim portals with.
 *
 * Every action runs under a hard per-action timeout; a stuck portal page
 * surfaces as an ordinary error and enters the caller's retry path.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package browser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the browser-automation runtime API.
type Client struct {
	BaseURL       string
	APIKey        string
	HTTPClient    *http.Client
	ActionTimeout time.Duration
	Headless      bool
}

// NewClient creates a new automation runtime client.
func NewClient(baseURL, apiKey string, actionTimeout time.Duration, headless bool) *Client {
	if actionTimeout <= 0 {
		actionTimeout = 45 * time.Second
	}
	return &Client{
		BaseURL:       baseURL,
		APIKey:        apiKey,
		ActionTimeout: actionTimeout,
		Headless:      headless,
		HTTPClient: &http.Client{
			Timeout: actionTimeout + 15*time.Second,
		},
	}
}

// Session is one live browser session on the runtime. Sessions are
// process-local and never shared across workers.
type Session struct {
	ID     string
	client *Client
}

type sessionResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

type actionRequest struct {
	Type     string `json:"type"`
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Value    string `json:"value,omitempty"`
}

type actionResponse struct {
	OK         bool   `json:"ok"`
	Text       string `json:"text,omitempty"`
	Screenshot string `json:"screenshot,omitempty"`
	Error      string `json:"error,omitempty"`
}

// NewSession opens a fresh browser session.
func (c *Client) NewSession(ctx context.Context) (*Session, error) {
	body, _ := json.Marshal(map[string]any{"headless": c.Headless})

	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/sessions", body, &resp); err != nil {
		return nil, fmt.Errorf("opening browser session: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("opening browser session: runtime returned no session id (%s)", resp.Error)
	}
	return &Session{ID: resp.ID, client: c}, nil
}

// Navigate loads a URL in the session.
func (s *Session) Navigate(ctx context.Context, url string) error {
	_, err := s.action(ctx, actionRequest{Type: "navigate", URL: url})
	return err
}

// Fill types a value into the element matching the selector.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	_, err := s.action(ctx, actionRequest{Type: "fill", Selector: selector, Value: value})
	return err
}

// Click clicks the element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	_, err := s.action(ctx, actionRequest{Type: "click", Selector: selector})
	return err
}

// SelectOption chooses an option value in a select element.
func (s *Session) SelectOption(ctx context.Context, selector, value string) error {
	_, err := s.action(ctx, actionRequest{Type: "select", Selector: selector, Value: value})
	return err
}

// Text returns the text content of the element matching the selector.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	resp, err := s.action(ctx, actionRequest{Type: "text", Selector: selector})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// Screenshot captures the current page as PNG bytes.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	resp, err := s.action(ctx, actionRequest{Type: "screenshot"})
	if err != nil {
		return nil, err
	}
	return base64.StdEncoding.DecodeString(resp.Screenshot)
}

// Close tears the session down. Safe to call in a defer; errors are returned
// for logging only.
func (s *Session) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.do(ctx, http.MethodDelete, "/sessions/"+s.ID, nil, nil)
}

func (s *Session) action(ctx context.Context, req actionRequest) (*actionResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	// Bound every portal interaction; a hung page must not wedge the worker.
	ctx, cancel := context.WithTimeout(ctx, s.client.ActionTimeout)
	defer cancel()

	var resp actionResponse
	if err := s.client.do(ctx, http.MethodPost, "/sessions/"+s.ID+"/actions", body, &resp); err != nil {
		return nil, fmt.Errorf("browser action %s failed: %w", req.Type, err)
	}
	if !resp.OK {
		return nil, fmt.Errorf("browser action %s rejected: %s", req.Type, resp.Error)
	}
	return &resp, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, string(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
