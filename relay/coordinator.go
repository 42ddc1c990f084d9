package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/logging"
)

// streamState tracks the lifecycle of one stream invocation.
type streamState int

const (
	stateStreaming streamState = iota
	stateCompleted
	stateErrored
	stateCancelled
)

func (s streamState) String() string {
	switch s {
	case stateStreaming:
		return "streaming"
	case stateCompleted:
		return "completed"
	case stateErrored:
		return "errored"
	case stateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// CoordinatorOptions configures stream delivery.
type CoordinatorOptions struct {
	// Window is the number of trailing transcript turns handed to the
	// engine. Defaults to 10.
	Window int
	// MaxTurns caps engine round-trips per run. Defaults to 20.
	MaxTurns int
	// BufferSize is the subscriber channel capacity. Defaults to 32.
	BufferSize int
	// PassthroughArgumentDeltas forwards raw argument fragments to the
	// subscriber. Off by default.
	PassthroughArgumentDeltas bool
	// Logger receives stream diagnostics. Defaults to a no-op logger.
	Logger logging.Logger
}

// Coordinator drives one engine run per subscriber and owns the stream
// lifecycle: it holds the session's stream flag for the duration, feeds the
// engine a windowed snapshot, forwards translated events, and appends the
// assembled assistant turn once on successful completion. Cancelled and
// errored runs leave the transcript untouched.
type Coordinator struct {
	store       core.SessionStore
	engine      engine.Engine
	window      int
	maxTurns    int
	bufSize     int
	passthrough bool
	logger      logging.Logger
}

// NewCoordinator constructs a coordinator over the given store and engine.
func NewCoordinator(store core.SessionStore, eng engine.Engine, optFns ...func(o *CoordinatorOptions)) *Coordinator {
	opts := CoordinatorOptions{
		Window:     10,
		MaxTurns:   20,
		BufferSize: 32,
		Logger:     logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Coordinator{
		store:       store,
		engine:      eng,
		window:      opts.Window,
		maxTurns:    opts.MaxTurns,
		bufSize:     opts.BufferSize,
		passthrough: opts.PassthroughArgumentDeltas,
		logger:      opts.Logger,
	}
}

// Stream attaches a subscriber to the session and starts an engine run. It
// fails with core.ErrSessionNotFound for unknown sessions and
// core.ErrStreamActive while another subscriber is attached. The returned
// channel closes when the run ends or the context is cancelled; run failures
// arrive in-band as a single terminal error event.
func (c *Coordinator) Stream(ctx context.Context, sessionID string) (<-chan core.ClientEvent, error) {
	if err := c.store.AcquireStream(sessionID); err != nil {
		return nil, err
	}
	sess, err := c.store.Get(sessionID)
	if err != nil {
		c.store.ReleaseStream(sessionID)
		return nil, err
	}

	out := make(chan core.ClientEvent, c.bufSize)
	go c.run(ctx, sess, out)
	return out, nil
}

func (c *Coordinator) run(ctx context.Context, sess *core.Session, out chan<- core.ClientEvent) {
	state := stateStreaming
	start := time.Now()
	delivered := 0

	defer func() {
		c.store.ReleaseStream(sess.ID)
		close(out)
		c.logger.Info("stream.closed",
			"session_id", sess.ID,
			"state", state.String(),
			"events", delivered,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}()

	last, ok := sess.LastTurn()
	if !ok || last.Role != core.RoleUser {
		state = stateErrored
		if c.emit(ctx, out, core.NewErrorEvent("no user message to process")) {
			delivered++
		}
		return
	}

	events, errs := c.engine.Run(ctx, engine.Request{
		Instructions: sess.Instructions,
		Transcript:   sess.Window(c.window),
		Connections:  sess.Conns,
		MaxTurns:     c.maxTurns,
	})
	translator := NewTranslator(func(o *TranslatorOptions) {
		o.PassthroughArgumentDeltas = c.passthrough
	})

	var reply strings.Builder
	completed := false

	for ev := range events {
		if ctx.Err() != nil {
			state = stateCancelled
			return
		}
		if ev.Kind == engine.EventTextDelta {
			reply.WriteString(ev.Delta)
		}
		if ev.Kind == engine.EventCompleted {
			completed = true
		}
		clientEv, ok := translator.Translate(ev)
		if !ok {
			continue
		}
		if !c.emit(ctx, out, clientEv) {
			state = stateCancelled
			return
		}
		delivered++
	}

	runErr := <-errs

	if ctx.Err() != nil {
		state = stateCancelled
		return
	}

	if runErr != nil {
		state = stateErrored
		c.logger.Error("stream.engine.failed", "session_id", sess.ID, "error", runErr.Error())
		if c.emit(ctx, out, core.NewErrorEvent(fmt.Sprintf("Agent execution error: %v", runErr))) {
			delivered++
		}
		return
	}

	if !completed {
		// The engine closed its stream without a terminal event; treat it
		// as completion so the subscriber is never left hanging.
		if c.emit(ctx, out, core.NewCompletionEvent()) {
			delivered++
		}
	}

	state = stateCompleted
	if err := c.store.AppendTurn(sess.ID, core.Turn{Role: core.RoleAssistant, Content: reply.String()}); err != nil {
		// Session retired mid-stream; the delivered response stands, only
		// the history entry is gone.
		c.logger.Debug("stream.append.skipped", "session_id", sess.ID, "error", err.Error())
	}
}

// emit forwards one event to the subscriber, giving up when the subscriber's
// context ends first.
func (c *Coordinator) emit(ctx context.Context, out chan<- core.ClientEvent, ev core.ClientEvent) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- ev:
		return true
	}
}
