package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// LocalProviderOptions configures optional LocalProvider behavior.
type LocalProviderOptions struct {
	// Logger receives tool call telemetry. Defaults to NoOpLogger.
	Logger logging.Logger
}

// LocalProvider serves a fixed set of in-process tools. Every Connect hands
// out an independent connection so sessions can be torn down without
// affecting each other.
type LocalProvider struct {
	name   string
	tools  []Tool
	logger logging.Logger
}

// Compile-time interface check.
var _ core.ToolProvider = (*LocalProvider)(nil)

// NewLocalProvider creates a provider named name serving the given tools.
func NewLocalProvider(name string, tools []Tool, optFns ...func(o *LocalProviderOptions)) *LocalProvider {
	opts := LocalProviderOptions{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &LocalProvider{name: name, tools: tools, logger: opts.Logger}
}

// ServerName returns the configured server name.
func (p *LocalProvider) ServerName() string { return p.name }

// Connect returns a fresh connection over the provider's tool set. It fails
// when two registered tools share a name, since routing would be ambiguous.
func (p *LocalProvider) Connect(_ context.Context) (core.ToolConnection, error) {
	byName := make(map[string]Tool, len(p.tools))
	for _, t := range p.tools {
		if _, exists := byName[t.Name()]; exists {
			return nil, fmt.Errorf("duplicate tool name %q on server %q", t.Name(), p.name)
		}
		byName[t.Name()] = t
	}
	return &localConnection{name: p.name, tools: p.tools, byName: byName, logger: p.logger}, nil
}

// localConnection is a live handle over a LocalProvider's tool set.
type localConnection struct {
	name   string
	tools  []Tool
	byName map[string]Tool
	logger logging.Logger

	mu     sync.Mutex
	closed bool
}

var _ core.ToolConnection = (*localConnection)(nil)

// ServerName returns the backing server name.
func (c *localConnection) ServerName() string { return c.name }

// Tools lists descriptors for the served tools.
func (c *localConnection) Tools(_ context.Context) ([]core.Tool, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	out := make([]core.Tool, 0, len(c.tools))
	for _, t := range c.tools {
		out = append(out, core.Tool{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.Parameters(),
		})
	}
	return out, nil
}

// Call routes the invocation to the named tool.
func (c *localConnection) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	if err := c.guard(); err != nil {
		return nil, err
	}
	t, ok := c.byName[name]
	if !ok {
		return nil, NewToolError(name, fmt.Sprintf("tool not served by %q", c.name), "UNKNOWN_TOOL")
	}

	c.logger.Debug("tool.call.start", "server", c.name, "tool", name)
	start := time.Now()

	result, err := t.Call(ctx, args)
	if err != nil {
		c.logger.Error("tool.call.error", "server", c.name, "tool", name, "error", err.Error())
		return nil, err
	}

	c.logger.Debug("tool.call.success", "server", c.name, "tool", name, "duration_ms", time.Since(start).Milliseconds())
	return result, nil
}

// Close marks the connection closed. Further calls fail; closing again is a
// no-op.
func (c *localConnection) Close(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *localConnection) guard() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("connection to %q is closed", c.name)
	}
	return nil
}
