package engine

import (
	"context"
	"fmt"
	"time"
)

// ScriptedOptions configures a ScriptedEngine.
type ScriptedOptions struct {
	// Delay is an optional pause before each emitted event, useful for
	// exercising cancellation paths.
	Delay time.Duration
}

// script pairs a canned event sequence with an optional terminal error.
type script struct {
	events []Event
	err    error
}

// ScriptedEngine is a lightweight in-memory Engine useful for tests and
// examples. Runs are keyed by the content of the transcript's last turn;
// unknown inputs stream a synthetic reply character by character.
type ScriptedEngine struct {
	info    Info
	scripts map[string]script
	delay   time.Duration
}

// Compile-time interface check.
var _ Engine = (*ScriptedEngine)(nil)

// NewScriptedEngine constructs a ScriptedEngine.
func NewScriptedEngine(optFns ...func(o *ScriptedOptions)) *ScriptedEngine {
	opts := ScriptedOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ScriptedEngine{
		info:    Info{Name: "scripted", Provider: "scripted"},
		scripts: make(map[string]script),
		delay:   opts.Delay,
	}
}

// AddScript registers a deterministic event sequence for an input. A
// completion event is appended when the sequence does not end with one.
func (e *ScriptedEngine) AddScript(input string, events ...Event) {
	if len(events) == 0 || events[len(events)-1].Kind != EventCompleted {
		events = append(events, NewCompletedEvent())
	}
	e.scripts[input] = script{events: events}
}

// AddScriptWithError registers an event sequence that terminates with err
// instead of a completion event.
func (e *ScriptedEngine) AddScriptWithError(input string, err error, events ...Event) {
	e.scripts[input] = script{events: events, err: err}
}

// AddFailure registers an input whose run fails immediately.
func (e *ScriptedEngine) AddFailure(input string, err error) {
	e.scripts[input] = script{err: err}
}

// Run implements Engine; emits the scripted events for the last transcript
// turn, or streams a synthetic reply per character when no script matches.
func (e *ScriptedEngine) Run(ctx context.Context, req Request) (<-chan Event, <-chan error) {
	out := make(chan Event, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		if len(req.Transcript) == 0 {
			errCh <- fmt.Errorf("empty transcript")
			return
		}
		input := req.Transcript[len(req.Transcript)-1].Content

		sc, ok := e.scripts[input]
		if !ok {
			full := fmt.Sprintf("Scripted response to: %s", input)
			events := make([]Event, 0, len(full)+1)
			for _, r := range full {
				events = append(events, NewTextDeltaEvent(string(r)))
			}
			sc = script{events: append(events, NewCompletedEvent())}
		}

		for _, ev := range sc.events {
			if e.delay > 0 {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case <-time.After(e.delay):
				}
			}
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case out <- ev:
			}
		}

		if sc.err != nil {
			errCh <- sc.err
		}
	}()

	return out, errCh
}

// Info implements Engine.
func (e *ScriptedEngine) Info() Info { return e.info }
