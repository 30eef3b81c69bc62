package remote

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client talks to the backend's WebDriver endpoints.
type Client struct {
	http *resty.Client
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	client := resty.New()
	client.SetBaseURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(timeout)
	return &Client{http: client}
}

// StatusError is a non-2xx backend response.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: backend returned %d: %s", e.Op, e.Status, e.Body)
}

// Transient reports whether the request may succeed if repeated.
func (e *StatusError) Transient() bool {
	return e.Status >= http.StatusInternalServerError || e.Status == http.StatusTooManyRequests
}

type statusResponse struct {
	Ready *bool `json:"ready"`
	Value struct {
		Ready   bool   `json:"ready"`
		Message string `json:"message"`
	} `json:"value"`
}

// Ready probes GET /status once. Grid nests the flag under "value";
// standalone drivers put it at the top level. Bodies are decoded as JSON
// whatever Content-Type the backend or a proxy sends.
func (c *Client) Ready(ctx context.Context) (bool, string, error) {
	var body statusResponse
	res, err := c.http.R().
		SetContext(ctx).
		ForceContentType("application/json").
		SetResult(&body).
		Get("/status")
	if err != nil {
		return false, "", fmt.Errorf("status: %w", err)
	}
	if res.IsError() {
		return false, "", &StatusError{Op: "status", Status: res.StatusCode(), Body: truncate(res.String())}
	}
	ready := body.Value.Ready || (body.Ready != nil && *body.Ready)
	return ready, body.Value.Message, nil
}

// Capabilities describes the browser requested from the backend.
type Capabilities struct {
	BrowserName string
	Width       int
	Height      int
	Headless    bool
}

func (c Capabilities) payload() map[string]any {
	args := []string{fmt.Sprintf("--window-size=%d,%d", c.Width, c.Height)}
	if c.Headless {
		args = append(args, "--headless=new")
	}
	name := c.BrowserName
	if name == "" {
		name = "chrome"
	}
	return map[string]any{
		"capabilities": map[string]any{
			"alwaysMatch": map[string]any{
				"browserName":        name,
				"goog:chromeOptions": map[string]any{"args": args},
			},
		},
	}
}

// Created is a freshly created backend session.
type Created struct {
	ID string
	// CDPURL is the DevTools websocket advertised as "se:cdp".
	CDPURL string
}

type createResponse struct {
	Value struct {
		SessionID    string         `json:"sessionId"`
		Capabilities map[string]any `json:"capabilities"`
	} `json:"value"`
}

// CreateSession requests a new browser session.
func (c *Client) CreateSession(ctx context.Context, caps Capabilities) (Created, error) {
	var body createResponse
	res, err := c.http.R().
		SetContext(ctx).
		SetBody(caps.payload()).
		ForceContentType("application/json").
		SetResult(&body).
		Post("/session")
	if err != nil {
		return Created{}, fmt.Errorf("create session: %w", err)
	}
	if res.IsError() {
		return Created{}, &StatusError{Op: "create session", Status: res.StatusCode(), Body: truncate(res.String())}
	}
	if body.Value.SessionID == "" {
		return Created{}, fmt.Errorf("create session: response has no sessionId")
	}

	created := Created{ID: body.Value.SessionID}
	if cdp, ok := body.Value.Capabilities["se:cdp"].(string); ok {
		created.CDPURL = cdp
	}
	return created, nil
}

// DeleteSession releases the backend slot. A 404 means it is already gone.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	res, err := c.http.R().
		SetContext(ctx).
		SetPathParam("id", id).
		Delete("/session/{id}")
	if err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	if res.IsError() && res.StatusCode() != http.StatusNotFound {
		return &StatusError{Op: "delete session", Status: res.StatusCode(), Body: truncate(res.String())}
	}
	return nil
}

func truncate(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
