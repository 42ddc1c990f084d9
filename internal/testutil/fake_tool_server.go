package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentrelay/core"
)

// FakeProvider is a scriptable core.ToolProvider. Configure the exported
// fields before use; connections are recorded so tests can assert on their
// lifecycle.
type FakeProvider struct {
	// Name is reported as the server name.
	Name string
	// Tools are offered by every connection.
	Tools []core.Tool
	// ConnectErr fails Connect when set.
	ConnectErr error
	// CallFn handles tool calls. Defaults to echoing the arguments.
	CallFn func(ctx context.Context, name string, args map[string]any) (any, error)
	// CloseErr is returned by every connection close when set.
	CloseErr error

	mu        sync.Mutex
	connected []*FakeConnection
}

// Compile-time interface checks.
var (
	_ core.ToolProvider   = (*FakeProvider)(nil)
	_ core.ToolConnection = (*FakeConnection)(nil)
)

// NewFakeProvider creates a provider offering the given tools.
func NewFakeProvider(name string, tools ...core.Tool) *FakeProvider {
	return &FakeProvider{Name: name, Tools: tools}
}

// ServerName implements core.ToolProvider.
func (p *FakeProvider) ServerName() string { return p.Name }

// Connect implements core.ToolProvider.
func (p *FakeProvider) Connect(ctx context.Context) (core.ToolConnection, error) {
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	conn := &FakeConnection{
		server:   p.Name,
		tools:    p.Tools,
		callFn:   p.CallFn,
		closeErr: p.CloseErr,
	}
	p.mu.Lock()
	p.connected = append(p.connected, conn)
	p.mu.Unlock()
	return conn, nil
}

// Connections returns every connection handed out so far.
func (p *FakeProvider) Connections() []*FakeConnection {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*FakeConnection, len(p.connected))
	copy(out, p.connected)
	return out
}

// FakeConnection is the connection type handed out by FakeProvider.
type FakeConnection struct {
	server   string
	tools    []core.Tool
	callFn   func(ctx context.Context, name string, args map[string]any) (any, error)
	closeErr error

	mu         sync.Mutex
	calls      []string
	closeCount int
}

// ServerName implements core.ToolConnection.
func (c *FakeConnection) ServerName() string { return c.server }

// Tools implements core.ToolConnection.
func (c *FakeConnection) Tools(ctx context.Context) ([]core.Tool, error) {
	return c.tools, nil
}

// Call implements core.ToolConnection.
func (c *FakeConnection) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	c.mu.Lock()
	c.calls = append(c.calls, name)
	c.mu.Unlock()
	if c.callFn != nil {
		return c.callFn(ctx, name, args)
	}
	return fmt.Sprintf("echo %s", name), nil
}

// Close implements core.ToolConnection.
func (c *FakeConnection) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closeCount++
	c.mu.Unlock()
	return c.closeErr
}

// Calls returns the tool names invoked on this connection.
func (c *FakeConnection) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.calls))
	copy(out, c.calls)
	return out
}

// CloseCount returns how often the connection was closed.
func (c *FakeConnection) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCount
}
