// Package agentrelay provides a high-level façade over the session, relay
// and engine layers for running tool-augmented chat agents behind a streaming
// API. Most applications interact with this package by:
//  1. Creating a Relay via New() (optionally overriding the default in-memory
//     store, scripted engine and tool providers)
//  2. Creating sessions (CreateSession), submitting user messages
//     (SubmitMessage) and attaching to the event stream (OpenEventStream)
//  3. Starting background maintenance (Start) and shutting down with Close
//
// The façade owns the session lifecycle end to end: tool connections are
// opened when a session is created, surrendered exactly once when it is
// closed or reaped, and aggregated for tool listings in between. Streaming is
// delegated to relay.Coordinator. All defaults are safe for local
// development and testing; production deployments supply a provider-backed
// engine and a structured logger.
package agentrelay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/internal/util"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/relay"
	"github.com/hupe1980/agentrelay/session"
)

// recentContextTurns is how many prior turns are summarized into the
// instructions of a rehydrated session.
const recentContextTurns = 3

// recentContextClip bounds each summarized turn, in runes.
const recentContextClip = 100

// Options configures the Relay instance.
type Options struct {
	// AgentName prefixes the per-session agent identity reported in status
	// and tool listings.
	AgentName string

	// Instructions is the base system prompt shared by every session.
	Instructions string

	// Engine drives agent runs. Defaults to a scripted engine, which is
	// useful for local development and tests but never for production.
	Engine engine.Engine

	// ToolProviders are connected once per session, in declaration order.
	// Session creation is all-or-nothing: if any provider fails, the
	// connections opened so far are released again.
	ToolProviders []core.ToolProvider

	// SessionStore defaults to the in-memory implementation.
	SessionStore core.SessionStore

	// SessionTimeout is the idle span after which a session is reaped.
	SessionTimeout time.Duration

	// ReapInterval is the pause between reaper sweeps.
	ReapInterval time.Duration

	// TranscriptWindow is the number of trailing turns handed to the
	// engine per run.
	TranscriptWindow int

	// MaxTurns caps engine round-trips per run.
	MaxTurns int

	// StreamBufferSize is the subscriber channel capacity.
	StreamBufferSize int

	// PassthroughArgumentDeltas forwards raw tool argument fragments on
	// the event stream. Off by default; most clients only want the
	// assembled arguments.
	PassthroughArgumentDeltas bool

	// Logger defaults to a no-op logger.
	Logger logging.Logger
}

// ToolInventory aggregates the tools of one session across its connections.
type ToolInventory struct {
	AgentName   string      `json:"agent_name"`
	Tools       []core.Tool `json:"tools"`
	ServerNames []string    `json:"server_names"`
}

// Relay is the high-level façade owning session lifecycle, message intake and
// stream delivery.
type Relay struct {
	opts      Options
	store     core.SessionStore
	engine    engine.Engine
	providers []core.ToolProvider
	coord     *relay.Coordinator
	reaper    *session.Reaper
	logger    logging.Logger
}

// New creates a Relay with optional overrides. Any unset collaborator is
// initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *Relay {
	opts := Options{
		AgentName:        "relay-agent",
		Engine:           engine.NewScriptedEngine(),
		SessionStore:     session.NewInMemoryStore(),
		SessionTimeout:   30 * time.Minute,
		ReapInterval:     5 * time.Minute,
		TranscriptWindow: 10,
		MaxTurns:         20,
		StreamBufferSize: 32,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Relay{
		opts:      opts,
		store:     opts.SessionStore,
		engine:    opts.Engine,
		providers: opts.ToolProviders,
		logger:    opts.Logger,
	}

	r.coord = relay.NewCoordinator(r.store, r.engine, func(o *relay.CoordinatorOptions) {
		o.Window = opts.TranscriptWindow
		o.MaxTurns = opts.MaxTurns
		o.BufferSize = opts.StreamBufferSize
		o.PassthroughArgumentDeltas = opts.PassthroughArgumentDeltas
		o.Logger = opts.Logger
	})

	r.reaper = session.NewReaper(r.store, r.teardownSession, func(o *session.ReaperOptions) {
		o.Interval = opts.ReapInterval
		o.Timeout = opts.SessionTimeout
		o.Logger = opts.Logger
	})

	return r
}

// CreateSession opens tool connections, assembles instructions and registers
// a fresh session seeded with the prior turns. On any connection failure the
// already-established connections are released and no session is created.
func (r *Relay) CreateSession(ctx context.Context, prior []core.Turn) (string, error) {
	conns := make([]core.ToolConnection, 0, len(r.providers))
	for _, provider := range r.providers {
		conn, err := provider.Connect(ctx)
		if err != nil {
			r.releaseConnections(ctx, "", conns)
			return "", &core.ConnectionError{Server: provider.ServerName(), Err: err}
		}
		conns = append(conns, conn)
	}

	id := core.NewID()
	sess := core.NewSession(id, prior)
	sess.AgentName = fmt.Sprintf("%s-%s", r.opts.AgentName, id)
	sess.Instructions = buildInstructions(r.opts.Instructions, prior)
	sess.Conns = conns

	if err := r.store.Create(sess); err != nil {
		r.releaseConnections(ctx, id, conns)
		return "", err
	}

	r.logger.Info("session.created",
		"session_id", id,
		"servers", len(conns),
		"prior_turns", len(prior),
	)
	return id, nil
}

// SubmitMessage records one user message and marks the session active. It
// produces no output itself: submission and stream consumption are decoupled
// so a client can reconnect after a network blip without losing its turn.
func (r *Relay) SubmitMessage(ctx context.Context, sessionID, content string) error {
	// Existence precedes validation so unknown sessions surface as
	// not-found even for empty payloads.
	if _, err := r.store.Get(sessionID); err != nil {
		return err
	}
	if content == "" {
		return core.NewValidationError("Message cannot be empty")
	}
	if err := r.store.Touch(sessionID); err != nil {
		return err
	}
	if err := r.store.AppendTurn(sessionID, core.Turn{Role: core.RoleUser, Content: content}); err != nil {
		return err
	}

	r.logger.Info("session.message.received", "session_id", sessionID, "length", len(content))
	return nil
}

// OpenEventStream attaches the caller to the session's event stream and
// starts an engine run for the pending user message. At most one stream may
// be attached per session; concurrent callers receive core.ErrStreamActive.
// The channel closes when the response ends or ctx is cancelled.
func (r *Relay) OpenEventStream(ctx context.Context, sessionID string) (<-chan core.ClientEvent, error) {
	return r.coord.Stream(ctx, sessionID)
}

// Respond is a synchronous helper that submits a message and drains the
// resulting event stream.
func (r *Relay) Respond(ctx context.Context, sessionID, content string) ([]core.ClientEvent, error) {
	if err := r.SubmitMessage(ctx, sessionID, content); err != nil {
		return nil, err
	}

	stream, err := r.OpenEventStream(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var events []core.ClientEvent
	for {
		select {
		case <-ctx.Done():
			return events, ctx.Err()
		case ev, ok := <-stream:
			if !ok {
				return events, nil
			}
			events = append(events, ev)
		}
	}
}

// CloseSession tears down the session and its tool connections. Cleanup
// failures are logged, never surfaced. Closing an unknown or already-closed
// session is a no-op.
func (r *Relay) CloseSession(ctx context.Context, sessionID string) error {
	r.teardownSession(ctx, sessionID)
	return nil
}

// GetStatus reports a point-in-time description of the session.
func (r *Relay) GetStatus(sessionID string) (core.SessionStatus, error) {
	sess, err := r.store.Get(sessionID)
	if err != nil {
		return core.SessionStatus{}, err
	}
	return core.SessionStatus{
		SessionID:     sess.ID,
		AgentName:     sess.AgentName,
		HistoryLength: len(sess.Transcript),
		Created:       sess.Created,
		LastActivity:  sess.LastActivity,
		StreamActive:  sess.StreamActive,
	}, nil
}

// ListTools aggregates the tools offered by the session's connections.
func (r *Relay) ListTools(ctx context.Context, sessionID string) (ToolInventory, error) {
	sess, err := r.store.Get(sessionID)
	if err != nil {
		return ToolInventory{}, err
	}

	inv := ToolInventory{AgentName: sess.AgentName}
	for _, conn := range sess.Conns {
		tools, err := conn.Tools(ctx)
		if err != nil {
			return ToolInventory{}, fmt.Errorf("listing tools on %q: %w", conn.ServerName(), err)
		}
		inv.Tools = append(inv.Tools, tools...)
		inv.ServerNames = append(inv.ServerNames, conn.ServerName())
	}
	return inv, nil
}

// Health reports liveness counters.
func (r *Relay) Health() core.Health {
	return core.Health{
		ActiveSessions: r.store.Len(),
		ActiveStreams:  r.store.ActiveStreams(),
	}
}

// Engine exposes the configured engine's metadata.
func (r *Relay) Engine() engine.Info {
	return r.engine.Info()
}

// Start launches background maintenance (the session reaper). It returns
// immediately.
func (r *Relay) Start() {
	r.reaper.Start()
}

// Close stops background maintenance and tears down every live session.
func (r *Relay) Close(ctx context.Context) error {
	r.reaper.Stop()
	for _, id := range r.store.List() {
		r.teardownSession(ctx, id)
	}
	return nil
}

// teardownSession removes the session from the store and closes its tool
// connections. A close failure is logged and does not stop the remaining
// teardown; the first failure is returned for callers that track sweep
// health.
func (r *Relay) teardownSession(ctx context.Context, sessionID string) error {
	conns, ok := r.store.Remove(sessionID)
	if !ok {
		return nil
	}

	var firstErr error
	for _, conn := range conns {
		if err := conn.Close(ctx); err != nil {
			cleanupErr := &core.CleanupError{SessionID: sessionID, Server: conn.ServerName(), Err: err}
			r.logger.Warn("session.cleanup.close_failed", "error", cleanupErr.Error())
			if firstErr == nil {
				firstErr = cleanupErr
			}
		}
	}

	r.logger.Info("session.closed", "session_id", sessionID)
	return firstErr
}

// releaseConnections closes connections opened for a session that never came
// to life.
func (r *Relay) releaseConnections(ctx context.Context, sessionID string, conns []core.ToolConnection) {
	for _, conn := range conns {
		if err := conn.Close(ctx); err != nil {
			r.logger.Warn("session.connect.rollback_close_failed",
				"session_id", sessionID,
				"server", conn.ServerName(),
				"error", err.Error(),
			)
		}
	}
}

// buildInstructions appends a recent-context suffix to the base prompt so a
// rehydrated session picks up where the prior conversation left off.
func buildInstructions(base string, prior []core.Turn) string {
	if len(prior) == 0 {
		return base
	}

	var b strings.Builder
	b.WriteString(base)
	b.WriteString("\n\nRecent conversation context:\n")

	start := len(prior) - recentContextTurns
	if start < 0 {
		start = 0
	}
	for _, turn := range prior[start:] {
		fmt.Fprintf(&b, "%s: %s\n", turn.Role, util.Clip(turn.Content, recentContextClip))
	}
	return b.String()
}
