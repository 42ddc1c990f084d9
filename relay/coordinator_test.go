package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Helpers --------------------

func userTurn(content string) core.Turn {
	return core.Turn{Role: core.RoleUser, Content: content}
}

func assistantTurn(content string) core.Turn {
	return core.Turn{Role: core.RoleAssistant, Content: content}
}

func storedSession(t *testing.T, store *session.InMemoryStore, id string, turns ...core.Turn) {
	t.Helper()
	sess := core.NewSession(id, turns)
	require.NoError(t, store.Create(sess))
}

func drain(t *testing.T, ch <-chan core.ClientEvent) []core.ClientEvent {
	t.Helper()
	var out []core.ClientEvent
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out draining event stream")
		}
	}
}

// captureEngine records the request it was run with and completes at once.
type captureEngine struct {
	req engine.Request
}

func (e *captureEngine) Run(ctx context.Context, req engine.Request) (<-chan engine.Event, <-chan error) {
	e.req = req
	out := make(chan engine.Event, 1)
	errCh := make(chan error, 1)
	out <- engine.NewCompletedEvent()
	close(out)
	close(errCh)
	return out, errCh
}

func (e *captureEngine) Info() engine.Info { return engine.Info{Name: "capture", Provider: "test"} }

// -------------------- Delivery Tests --------------------

func TestCoordinator_DeliversScriptedRun(t *testing.T) {
	store := session.NewInMemoryStore()
	storedSession(t, store, "s1", userTurn("what is the weather"))

	eng := engine.NewScriptedEngine()
	eng.AddScript("what is the weather",
		engine.NewTextDeltaEvent("Checking. "),
		engine.NewCallStartedEvent("get_weather", "call_1", "0"),
		engine.NewArgumentsDoneEvent("0", "call_1", "get_weather", `{"city":"SF"}`),
		engine.NewCallFinishedEvent("get_weather", "call_1"),
		engine.NewToolOutputEvent("get_weather", "call_1", "18C"),
		engine.NewTextDeltaEvent("It is 18C."),
	)

	coord := NewCoordinator(store, eng)
	stream, err := coord.Stream(context.Background(), "s1")
	require.NoError(t, err)

	events := drain(t, stream)
	assert.Equal(t, []core.EventKind{
		core.EventToken,
		core.EventToolCallStarted,
		core.EventToolCallArgumentsComplete,
		core.EventToolCallFinished,
		core.EventToolResponse,
		core.EventToken,
		core.EventCompletion,
	}, kinds(events))

	assert.Equal(t, 0, store.ActiveStreams())

	// The assistant turn holds the accumulated token text only; tool
	// traffic never lands in the transcript.
	snap, err := store.Get("s1")
	require.NoError(t, err)
	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, core.RoleAssistant, snap.Transcript[1].Role)
	assert.Equal(t, "Checking. It is 18C.", snap.Transcript[1].Content)
}

func TestCoordinator_CompletionAppendDoesNotAdvanceActivity(t *testing.T) {
	store := session.NewInMemoryStore()
	stale := time.Now().Add(-10 * time.Minute)
	sess := core.NewSession("s1", []core.Turn{userTurn("hi")})
	sess.LastActivity = stale
	require.NoError(t, store.Create(sess))

	coord := NewCoordinator(store, engine.NewScriptedEngine())
	stream, err := coord.Stream(context.Background(), "s1")
	require.NoError(t, err)
	drain(t, stream)

	snap, err := store.Get("s1")
	require.NoError(t, err)
	require.Len(t, snap.Transcript, 2)
	assert.True(t, snap.LastActivity.Equal(stale), "delivery must not count as activity")
}

func TestCoordinator_SynthesizesCompletionOnSilentEngineExit(t *testing.T) {
	store := session.NewInMemoryStore()
	storedSession(t, store, "s1", userTurn("quiet"))

	eng := engine.NewScriptedEngine()
	eng.AddScriptWithError("quiet", nil, engine.NewTextDeltaEvent("done"))

	coord := NewCoordinator(store, eng)
	stream, err := coord.Stream(context.Background(), "s1")
	require.NoError(t, err)

	events := drain(t, stream)
	assert.Equal(t, []core.EventKind{core.EventToken, core.EventCompletion}, kinds(events))

	snap, err := store.Get("s1")
	require.NoError(t, err)
	require.Len(t, snap.Transcript, 2)
	assert.Equal(t, "done", snap.Transcript[1].Content)
}

// -------------------- Precondition Tests --------------------

func TestCoordinator_RequiresUserTurn(t *testing.T) {
	store := session.NewInMemoryStore()
	storedSession(t, store, "empty")
	storedSession(t, store, "stale", userTurn("hi"), assistantTurn("hello"))

	coord := NewCoordinator(store, engine.NewScriptedEngine())

	for _, id := range []string{"empty", "stale"} {
		stream, err := coord.Stream(context.Background(), id)
		require.NoError(t, err)

		events := drain(t, stream)
		require.Len(t, events, 1)
		assert.Equal(t, core.EventError, events[0].Kind)
		assert.Equal(t, "no user message to process", events[0].Message)
	}

	assert.Equal(t, 0, store.ActiveStreams())

	snap, err := store.Get("stale")
	require.NoError(t, err)
	assert.Len(t, snap.Transcript, 2)
}

func TestCoordinator_UnknownSession(t *testing.T) {
	coord := NewCoordinator(session.NewInMemoryStore(), engine.NewScriptedEngine())
	_, err := coord.Stream(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestCoordinator_SecondStreamRejected(t *testing.T) {
	store := session.NewInMemoryStore()
	storedSession(t, store, "s1", userTurn("hi"))

	eng := engine.NewScriptedEngine(func(o *engine.ScriptedOptions) {
		o.Delay = 20 * time.Millisecond
	})
	eng.AddScript("hi", engine.NewTextDeltaEvent("ok"))

	coord := NewCoordinator(store, eng)
	stream, err := coord.Stream(context.Background(), "s1")
	require.NoError(t, err)

	_, err = coord.Stream(context.Background(), "s1")
	assert.ErrorIs(t, err, core.ErrStreamActive)

	drain(t, stream)
	assert.Equal(t, 0, store.ActiveStreams())
}

// -------------------- Failure Tests --------------------

func TestCoordinator_EngineErrorKeepsSessionAlive(t *testing.T) {
	store := session.NewInMemoryStore()
	storedSession(t, store, "s1", userTurn("explode"))

	eng := engine.NewScriptedEngine()
	eng.AddScriptWithError("explode", errors.New("model exploded"), engine.NewTextDeltaEvent("partial "))

	coord := NewCoordinator(store, eng)
	stream, err := coord.Stream(context.Background(), "s1")
	require.NoError(t, err)

	events := drain(t, stream)
	require.Len(t, events, 2)
	assert.Equal(t, core.EventToken, events[0].Kind)
	assert.Equal(t, core.EventError, events[1].Kind)
	assert.Equal(t, "Agent execution error: model exploded", events[1].Message)

	// The session survives for resubmission and the partial text is
	// discarded.
	snap, err := store.Get("s1")
	require.NoError(t, err)
	assert.Len(t, snap.Transcript, 1)
	assert.Equal(t, 0, store.ActiveStreams())
}

func TestCoordinator_CancellationDiscardsPartialTurn(t *testing.T) {
	store := session.NewInMemoryStore()
	storedSession(t, store, "s1", userTurn("slow"))

	deltas := make([]engine.Event, 40)
	for i := range deltas {
		deltas[i] = engine.NewTextDeltaEvent("x")
	}
	eng := engine.NewScriptedEngine(func(o *engine.ScriptedOptions) {
		o.Delay = 25 * time.Millisecond
	})
	eng.AddScript("slow", deltas...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	coord := NewCoordinator(store, eng)
	stream, err := coord.Stream(ctx, "s1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case <-stream:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
	cancel()

	events := drain(t, stream)
	for _, ev := range events {
		assert.NotEqual(t, core.EventCompletion, ev.Kind)
	}

	snap, err := store.Get("s1")
	require.NoError(t, err)
	assert.Len(t, snap.Transcript, 1, "cancelled stream must not append a turn")
	assert.Equal(t, 0, store.ActiveStreams())
}

// -------------------- Windowing Tests --------------------

func TestCoordinator_WindowsTranscriptForEngine(t *testing.T) {
	store := session.NewInMemoryStore()

	var turns []core.Turn
	for i := 0; i < 7; i++ {
		turns = append(turns, userTurn("question"), assistantTurn("answer"))
	}
	turns = append(turns, userTurn("latest"))

	sess := core.NewSession("s1", turns)
	sess.Instructions = "You are helpful."
	require.NoError(t, store.Create(sess))

	eng := &captureEngine{}
	coord := NewCoordinator(store, eng)
	stream, err := coord.Stream(context.Background(), "s1")
	require.NoError(t, err)
	drain(t, stream)

	assert.Len(t, eng.req.Transcript, 10)
	assert.Equal(t, "latest", eng.req.Transcript[9].Content)
	assert.Equal(t, "You are helpful.", eng.req.Instructions)
	assert.Equal(t, 20, eng.req.MaxTurns)
}

func TestCoordinator_WindowOptionRespected(t *testing.T) {
	store := session.NewInMemoryStore()

	var turns []core.Turn
	for i := 0; i < 5; i++ {
		turns = append(turns, userTurn("q"), assistantTurn("a"))
	}
	turns = append(turns, userTurn("latest"))
	storedSession(t, store, "s1", turns...)

	eng := &captureEngine{}
	coord := NewCoordinator(store, eng, func(o *CoordinatorOptions) {
		o.Window = 4
		o.MaxTurns = 3
	})
	stream, err := coord.Stream(context.Background(), "s1")
	require.NoError(t, err)
	drain(t, stream)

	assert.Len(t, eng.req.Transcript, 4)
	assert.Equal(t, 3, eng.req.MaxTurns)
}
