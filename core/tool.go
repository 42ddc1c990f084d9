package core

import "context"

// Tool describes a single callable capability exposed by a tool server.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolConnection is a live handle to one tool server. A session owns its
// connections for its whole lifetime and surrenders them on removal.
type ToolConnection interface {
	// ServerName returns the configured name of the backing server.
	ServerName() string

	// Tools lists the capabilities currently offered by the server.
	Tools(ctx context.Context) ([]Tool, error)

	// Call invokes the named tool with the given arguments.
	Call(ctx context.Context, name string, args map[string]any) (any, error)

	// Close releases the connection. Closing twice is safe.
	Close(ctx context.Context) error
}

// ToolProvider opens connections to a tool server. Providers are configured
// once and consulted on every session creation.
type ToolProvider interface {
	// ServerName returns the configured name of the server this provider
	// connects to.
	ServerName() string

	// Connect establishes a fresh connection for a session.
	Connect(ctx context.Context) (ToolConnection, error)
}
