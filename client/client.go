package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hupe1980/agentrelay/core"
)

// Options configures the Client instance.
type Options struct {
	// HTTPClient defaults to a client without a global timeout, since event
	// streams stay open for the duration of a response. Cancel requests via
	// context instead.
	HTTPClient *http.Client
}

// Client is a typed HTTP client for the relay API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a Client for the relay at baseURL.
func New(baseURL string, optFns ...func(o *Options)) *Client {
	opts := Options{
		HTTPClient: &http.Client{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: opts.HTTPClient,
	}
}

// APIError is a non-2xx response from the relay API.
type APIError struct {
	StatusCode int
	Detail     string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("relay API: HTTP %d: %s", e.StatusCode, e.Detail)
}

// ConnectResult acknowledges session creation.
type ConnectResult struct {
	SessionID string
	Message   string
}

// Connect creates a new session seeded with the prior conversation turns.
func (c *Client) Connect(ctx context.Context, history []core.Turn) (*ConnectResult, error) {
	resp, err := c.post(ctx, "/connect", struct {
		ChatHistory []core.Turn `json:"chat_history"`
	}{ChatHistory: history})
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("connect: %w", apiError(resp))
	}

	var body struct {
		SessionID string `json:"session_id"`
		Message   string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("connect: decoding response: %w", err)
	}
	return &ConnectResult{SessionID: body.SessionID, Message: body.Message}, nil
}

// SendMessage submits one user message to the session.
func (c *Client) SendMessage(ctx context.Context, sessionID, message string) error {
	resp, err := c.post(ctx, "/sessions/"+url.PathEscape(sessionID)+"/message", struct {
		Message string `json:"message"`
	}{Message: message})
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("send message: %w", apiError(resp))
	}
	return nil
}

// OpenStream attaches to the session's event stream. The caller must Close
// the returned stream.
func (c *Client) OpenStream(ctx context.Context, sessionID string) (*EventStream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/sessions/"+url.PathEscape(sessionID)+"/stream", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, fmt.Errorf("open stream: %w", apiError(resp))
	}
	return newEventStream(resp.Body), nil
}

// Chat submits one message and attaches to the resulting event stream.
func (c *Client) Chat(ctx context.Context, sessionID, message string) (*EventStream, error) {
	if err := c.SendMessage(ctx, sessionID, message); err != nil {
		return nil, err
	}
	return c.OpenStream(ctx, sessionID)
}

// CloseSession tears down the session. Closing an already-closed session
// succeeds.
func (c *Client) CloseSession(ctx context.Context, sessionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/sessions/"+url.PathEscape(sessionID), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("close session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("close session: %w", apiError(resp))
	}
	return nil
}

// Status reports the session's point-in-time description.
func (c *Client) Status(ctx context.Context, sessionID string) (core.SessionStatus, error) {
	resp, err := c.get(ctx, "/sessions/"+url.PathEscape(sessionID)+"/status")
	if err != nil {
		return core.SessionStatus{}, fmt.Errorf("status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.SessionStatus{}, fmt.Errorf("status: %w", apiError(resp))
	}

	var status core.SessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return core.SessionStatus{}, fmt.Errorf("status: decoding response: %w", err)
	}
	return status, nil
}

// ToolListing mirrors the tools endpoint payload.
type ToolListing struct {
	SessionID   string      `json:"session_id"`
	AgentName   string      `json:"agent_name"`
	ToolsCount  int         `json:"tools_count"`
	Tools       []core.Tool `json:"tools"`
	ServerNames []string    `json:"server_names"`
}

// Tools lists the tools available to the session.
func (c *Client) Tools(ctx context.Context, sessionID string) (*ToolListing, error) {
	resp, err := c.get(ctx, "/sessions/"+url.PathEscape(sessionID)+"/tools")
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tools: %w", apiError(resp))
	}

	var listing ToolListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("tools: decoding response: %w", err)
	}
	return &listing, nil
}

// HealthReport mirrors the health endpoint payload.
type HealthReport struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"active_sessions"`
	ActiveStreams  int    `json:"active_streams"`
}

// Health reports relay liveness counters.
func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	resp, err := c.get(ctx, "/health")
	if err != nil {
		return nil, fmt.Errorf("health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("health: %w", apiError(resp))
	}

	var report HealthReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, fmt.Errorf("health: decoding response: %w", err)
	}
	return &report, nil
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

func (c *Client) post(ctx context.Context, path string, body any) (*http.Response, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.httpClient.Do(req)
}

// apiError drains the response into a typed error, preferring the detail
// field when the body carries one.
func apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Detail != "" {
		return &APIError{StatusCode: resp.StatusCode, Detail: body.Detail}
	}
	return &APIError{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(string(raw))}
}
