package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentrelay/core"
)

func collect(t *testing.T, events <-chan Event, errs <-chan error) ([]Event, error) {
	t.Helper()
	var got []Event
	for ev := range events {
		got = append(got, ev)
	}
	select {
	case err := <-errs:
		return got, err
	case <-time.After(time.Second):
		t.Fatal("error channel not closed")
		return nil, nil
	}
}

func TestScriptedEngine_DefaultStreamsPerCharacter(t *testing.T) {
	eng := NewScriptedEngine()
	events, errs := eng.Run(context.Background(), Request{
		Transcript: []core.Turn{{Role: core.RoleUser, Content: "hi"}},
	})

	got, err := collect(t, events, errs)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	var text strings.Builder
	for _, ev := range got[:len(got)-1] {
		assert.Equal(t, EventTextDelta, ev.Kind)
		text.WriteString(ev.Delta)
	}
	assert.Equal(t, "Scripted response to: hi", text.String())
	assert.Equal(t, EventCompleted, got[len(got)-1].Kind)
}

func TestScriptedEngine_ScriptedToolCallSequence(t *testing.T) {
	eng := NewScriptedEngine()
	eng.AddScript("weather in berlin",
		NewCallStartedEvent("get_weather", "call_1", "item_0"),
		NewArgumentsDeltaEvent("item_0", `{"city":`),
		NewArgumentsDeltaEvent("item_0", `"Berlin"}`),
		NewArgumentsDoneEvent("item_0", "call_1", "get_weather", `{"city":"Berlin"}`),
		NewCallFinishedEvent("get_weather", "call_1"),
		NewToolOutputEvent("get_weather", "call_1", "sunny"),
		NewTextDeltaEvent("It is sunny."),
	)

	events, errs := eng.Run(context.Background(), Request{
		Transcript: []core.Turn{{Role: core.RoleUser, Content: "weather in berlin"}},
	})
	got, err := collect(t, events, errs)
	require.NoError(t, err)

	kinds := make([]EventKind, len(got))
	for i, ev := range got {
		kinds[i] = ev.Kind
	}
	assert.Equal(t, []EventKind{
		EventCallStarted,
		EventArgumentsDelta,
		EventArgumentsDelta,
		EventArgumentsDone,
		EventCallFinished,
		EventToolOutput,
		EventTextDelta,
		EventCompleted,
	}, kinds)
}

func TestScriptedEngine_Failure(t *testing.T) {
	boom := errors.New("model unavailable")
	eng := NewScriptedEngine()
	eng.AddFailure("bad", boom)

	events, errs := eng.Run(context.Background(), Request{
		Transcript: []core.Turn{{Role: core.RoleUser, Content: "bad"}},
	})
	got, err := collect(t, events, errs)
	assert.Empty(t, got)
	assert.ErrorIs(t, err, boom)
}

func TestScriptedEngine_ErrorAfterPartialOutput(t *testing.T) {
	boom := errors.New("mid-stream failure")
	eng := NewScriptedEngine()
	eng.AddScriptWithError("flaky", boom,
		NewTextDeltaEvent("partial "),
		NewTextDeltaEvent("answer"),
	)

	events, errs := eng.Run(context.Background(), Request{
		Transcript: []core.Turn{{Role: core.RoleUser, Content: "flaky"}},
	})
	got, err := collect(t, events, errs)
	assert.ErrorIs(t, err, boom)
	require.Len(t, got, 2)
	for _, ev := range got {
		assert.NotEqual(t, EventCompleted, ev.Kind, "errored run must not complete")
	}
}

func TestScriptedEngine_EmptyTranscript(t *testing.T) {
	eng := NewScriptedEngine()
	events, errs := eng.Run(context.Background(), Request{})
	got, err := collect(t, events, errs)
	assert.Empty(t, got)
	assert.Error(t, err)
}

func TestScriptedEngine_Cancellation(t *testing.T) {
	eng := NewScriptedEngine(func(o *ScriptedOptions) {
		o.Delay = 5 * time.Millisecond
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, errs := eng.Run(ctx, Request{
		Transcript: []core.Turn{{Role: core.RoleUser, Content: "please take a while"}},
	})

	var received int
	for ev := range events {
		_ = ev
		received++
		if received == 3 {
			cancel()
		}
	}
	err := <-errs
	assert.ErrorIs(t, err, context.Canceled)
}
