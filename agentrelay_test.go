package agentrelay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/engine"
	"github.com/hupe1980/agentrelay/internal/testutil"
	"github.com/hupe1980/agentrelay/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -------------------- Session Creation Tests --------------------

func weatherTool() core.Tool {
	return core.Tool{
		Name:        "get_weather",
		Description: "Report the weather for a city",
		InputSchema: map[string]any{"type": "object"},
	}
}

func timeTool() core.Tool {
	return core.Tool{
		Name:        "get_time",
		Description: "Report the current time",
		InputSchema: map[string]any{"type": "object"},
	}
}

func TestRelay_CreateSessionConnectsProviders(t *testing.T) {
	weather := testutil.NewFakeProvider("weather", weatherTool())
	clock := testutil.NewFakeProvider("clock", timeTool())

	r := New(func(o *Options) {
		o.ToolProviders = []core.ToolProvider{weather, clock}
	})

	id, err := r.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, weather.Connections(), 1)
	require.Len(t, clock.Connections(), 1)

	status, err := r.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, 0, status.HistoryLength)
	assert.True(t, strings.HasPrefix(status.AgentName, "relay-agent-"))
	assert.False(t, status.StreamActive)

	inv, err := r.ListTools(context.Background(), id)
	require.NoError(t, err)
	assert.Len(t, inv.Tools, 2)
	assert.Equal(t, []string{"weather", "clock"}, inv.ServerNames)

	assert.Equal(t, core.Health{ActiveSessions: 1, ActiveStreams: 0}, r.Health())
}

func TestRelay_CreateSessionRollsBackOnConnectFailure(t *testing.T) {
	weather := testutil.NewFakeProvider("weather", weatherTool())
	broken := testutil.NewFakeProvider("broken")
	broken.ConnectErr = errors.New("dial refused")

	r := New(func(o *Options) {
		o.ToolProviders = []core.ToolProvider{weather, broken}
	})

	_, err := r.CreateSession(context.Background(), nil)
	require.Error(t, err)

	var connErr *core.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "broken", connErr.Server)

	// The weather connection opened first and must be released again.
	require.Len(t, weather.Connections(), 1)
	assert.Equal(t, 1, weather.Connections()[0].CloseCount())
	assert.Equal(t, 0, r.Health().ActiveSessions)
}

func TestRelay_CreateSessionAssemblesInstructions(t *testing.T) {
	store := session.NewInMemoryStore()
	long := strings.Repeat("x", 150)
	prior := testutil.NewTranscriptBuilder().
		User("first question").
		Assistant("first answer").
		User(long).
		Build()

	r := New(func(o *Options) {
		o.SessionStore = store
		o.Instructions = "You are a relay agent."
	})

	id, err := r.CreateSession(context.Background(), prior)
	require.NoError(t, err)

	sess, err := store.Get(id)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(sess.Instructions, "You are a relay agent."))
	assert.Contains(t, sess.Instructions, "Recent conversation context:")
	assert.Contains(t, sess.Instructions, "user: first question")
	assert.Contains(t, sess.Instructions, "assistant: first answer")
	// The long turn is clipped to 100 runes.
	assert.Contains(t, sess.Instructions, strings.Repeat("x", 100))
	assert.NotContains(t, sess.Instructions, strings.Repeat("x", 101))

	// Prior history seeds the transcript.
	assert.Len(t, sess.Transcript, 3)
}

func TestRelay_CreateSessionWithoutPriorSkipsContextSuffix(t *testing.T) {
	store := session.NewInMemoryStore()
	r := New(func(o *Options) {
		o.SessionStore = store
		o.Instructions = "Base prompt."
	})

	id, err := r.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	sess, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "Base prompt.", sess.Instructions)
}

// -------------------- Message Intake Tests --------------------

func TestRelay_SubmitMessage(t *testing.T) {
	store := session.NewInMemoryStore()
	r := New(func(o *Options) { o.SessionStore = store })

	id, err := r.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	// Unknown sessions are not-found even for empty payloads.
	err = r.SubmitMessage(context.Background(), "missing", "")
	assert.ErrorIs(t, err, core.ErrSessionNotFound)

	var valErr *core.ValidationError
	err = r.SubmitMessage(context.Background(), id, "")
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "Message cannot be empty", valErr.Message)

	require.NoError(t, r.SubmitMessage(context.Background(), id, "hello"))

	sess, err := store.Get(id)
	require.NoError(t, err)
	require.Len(t, sess.Transcript, 1)
	assert.Equal(t, core.RoleUser, sess.Transcript[0].Role)
	assert.Equal(t, "hello", sess.Transcript[0].Content)
	assert.WithinDuration(t, time.Now(), sess.LastActivity, time.Second)
}

// -------------------- Streaming Tests --------------------

func TestRelay_RespondRoundTrip(t *testing.T) {
	eng := engine.NewScriptedEngine()
	eng.AddScript("hi",
		engine.NewTextDeltaEvent("hello "),
		engine.NewTextDeltaEvent("there"),
	)

	r := New(func(o *Options) { o.Engine = eng })

	id, err := r.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	events, err := r.Respond(context.Background(), id, "hi")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, core.EventToken, events[0].Kind)
	assert.Equal(t, core.EventCompletion, events[2].Kind)

	status, err := r.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, 2, status.HistoryLength)

	// The session accepts another round after completion.
	events, err = r.Respond(context.Background(), id, "anything")
	require.NoError(t, err)
	assert.Equal(t, core.EventCompletion, events[len(events)-1].Kind)
}

func TestRelay_OpenEventStreamConflict(t *testing.T) {
	eng := engine.NewScriptedEngine(func(o *engine.ScriptedOptions) {
		o.Delay = 20 * time.Millisecond
	})
	eng.AddScript("hi", engine.NewTextDeltaEvent("ok"))

	r := New(func(o *Options) { o.Engine = eng })

	id, err := r.CreateSession(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, r.SubmitMessage(context.Background(), id, "hi"))

	stream, err := r.OpenEventStream(context.Background(), id)
	require.NoError(t, err)

	_, err = r.OpenEventStream(context.Background(), id)
	assert.ErrorIs(t, err, core.ErrStreamActive)

	for range stream {
	}
	assert.Equal(t, 0, r.Health().ActiveStreams)
}

// -------------------- Teardown Tests --------------------

func TestRelay_CloseSessionIdempotent(t *testing.T) {
	weather := testutil.NewFakeProvider("weather", weatherTool())
	r := New(func(o *Options) {
		o.ToolProviders = []core.ToolProvider{weather}
	})

	id, err := r.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, r.CloseSession(context.Background(), id))
	require.NoError(t, r.CloseSession(context.Background(), id))
	require.NoError(t, r.CloseSession(context.Background(), "never-existed"))

	assert.Equal(t, 0, r.Health().ActiveSessions)
	assert.Equal(t, 1, weather.Connections()[0].CloseCount())

	_, err = r.GetStatus(id)
	assert.ErrorIs(t, err, core.ErrSessionNotFound)
}

func TestRelay_CloseSessionSwallowsCleanupErrors(t *testing.T) {
	flaky := testutil.NewFakeProvider("flaky", weatherTool())
	flaky.CloseErr = errors.New("socket already gone")

	r := New(func(o *Options) {
		o.ToolProviders = []core.ToolProvider{flaky}
	})

	id, err := r.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	assert.NoError(t, r.CloseSession(context.Background(), id))
	assert.Equal(t, 0, r.Health().ActiveSessions)
}

func TestRelay_CloseTearsDownAllSessions(t *testing.T) {
	weather := testutil.NewFakeProvider("weather", weatherTool())
	r := New(func(o *Options) {
		o.ToolProviders = []core.ToolProvider{weather}
	})

	for i := 0; i < 3; i++ {
		_, err := r.CreateSession(context.Background(), nil)
		require.NoError(t, err)
	}
	require.Equal(t, 3, r.Health().ActiveSessions)

	require.NoError(t, r.Close(context.Background()))

	assert.Equal(t, 0, r.Health().ActiveSessions)
	for _, conn := range weather.Connections() {
		assert.Equal(t, 1, conn.CloseCount())
	}
}

// -------------------- Reaper Integration Tests --------------------

func TestRelay_StartReapsExpiredSessions(t *testing.T) {
	store := session.NewInMemoryStore()
	weather := testutil.NewFakeProvider("weather", weatherTool())

	r := New(func(o *Options) {
		o.SessionStore = store
		o.ToolProviders = []core.ToolProvider{weather}
		o.SessionTimeout = 30 * time.Minute
		o.ReapInterval = 5 * time.Millisecond
	})

	id, err := r.CreateSession(context.Background(), nil)
	require.NoError(t, err)

	// Plant an expired session next to the live one.
	stale := core.NewSession("stale", nil)
	stale.LastActivity = time.Now().Add(-time.Hour)
	require.NoError(t, store.Create(stale))

	r.Start()
	defer func() { require.NoError(t, r.Close(context.Background())) }()

	assert.Eventually(t, func() bool {
		_, err := r.GetStatus("stale")
		return errors.Is(err, core.ErrSessionNotFound)
	}, time.Second, 5*time.Millisecond)

	// The fresh session survives the sweeps.
	_, err = r.GetStatus(id)
	assert.NoError(t, err)
}
