package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// HTTPProviderOptions configures optional HTTPProvider behavior.
type HTTPProviderOptions struct {
	// HTTPClient used for all requests. Defaults to a client with a 30s
	// timeout.
	HTTPClient *http.Client
	// Logger receives tool call telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
}

// HTTPProvider connects to a remote tool server speaking a plain JSON
// protocol: GET {base}/tools lists descriptors, POST {base}/tools/{name}
// executes one with the request body as arguments.
type HTTPProvider struct {
	name    string
	baseURL string
	client  *http.Client
	logger  logging.Logger
}

var _ core.ToolProvider = (*HTTPProvider)(nil)

// NewHTTPProvider creates a provider for the tool server at baseURL.
func NewHTTPProvider(name, baseURL string, optFns ...func(o *HTTPProviderOptions)) *HTTPProvider {
	opts := HTTPProviderOptions{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &HTTPProvider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  opts.HTTPClient,
		logger:  opts.Logger,
	}
}

// ServerName returns the configured server name.
func (p *HTTPProvider) ServerName() string { return p.name }

// Connect verifies the server is reachable by listing its tools once and
// returns a live connection. An unreachable server fails here, before any
// session adopts the handle.
func (p *HTTPProvider) Connect(ctx context.Context) (core.ToolConnection, error) {
	conn := &httpConnection{
		name:    p.name,
		baseURL: p.baseURL,
		client:  p.client,
		logger:  p.logger,
	}
	if _, err := conn.Tools(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

// httpConnection is a live handle to a remote tool server.
type httpConnection struct {
	name    string
	baseURL string
	client  *http.Client
	logger  logging.Logger

	mu     sync.Mutex
	closed bool
}

var _ core.ToolConnection = (*httpConnection)(nil)

// ServerName returns the backing server name.
func (c *httpConnection) ServerName() string { return c.name }

// Tools fetches the current descriptor list from the server.
func (c *httpConnection) Tools(ctx context.Context) ([]core.Tool, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tools", nil)
	if err != nil {
		return nil, fmt.Errorf("build tools request for %q: %w", c.name, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list tools on %q: %w", c.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list tools on %q: unexpected status %s", c.name, resp.Status)
	}

	var tools []core.Tool
	if err := json.NewDecoder(resp.Body).Decode(&tools); err != nil {
		return nil, fmt.Errorf("decode tools from %q: %w", c.name, err)
	}
	return tools, nil
}

// Call executes the named tool on the server. Non-2xx responses become
// *ToolError values carrying the server's error message.
func (c *httpConnection) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return nil, NewToolError(name, fmt.Sprintf("marshal arguments: %v", err), "VALIDATION_ERROR")
	}

	endpoint := c.baseURL + "/tools/" + url.PathEscape(name)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build call request for %q: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug("tool.call.start", "server", c.name, "tool", name)
	start := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Error("tool.call.error", "server", c.name, "tool", name, "error", err.Error())
		return nil, fmt.Errorf("call tool %q on %q: %w", name, c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response of %q: %w", name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := serverErrorMessage(body, resp.Status)
		c.logger.Error("tool.call.error", "server", c.name, "tool", name, "error", msg)
		return nil, NewToolError(name, msg, "EXECUTION_ERROR")
	}

	c.logger.Debug("tool.call.success", "server", c.name, "tool", name, "duration_ms", time.Since(start).Milliseconds())

	var result any
	if len(body) == 0 {
		return nil, nil
	}
	if err := json.Unmarshal(body, &result); err != nil {
		// Not JSON, hand the raw text back.
		return string(body), nil
	}
	return result, nil
}

// Close marks the connection closed. Further calls fail; closing again is a
// no-op.
func (c *httpConnection) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *httpConnection) guard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection to %q is closed", c.name)
	}
	return nil
}

// serverErrorMessage extracts {"error": "..."} from an error body, falling
// back to the raw body or HTTP status.
func serverErrorMessage(body []byte, status string) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if len(body) > 0 {
		return strings.TrimSpace(string(body))
	}
	return status
}
