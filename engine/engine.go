package engine

import (
	"context"
	"errors"

	"github.com/hupe1980/agentrelay/core"
)

// ErrMaxTurnsExceeded signals that the engine hit its turn ceiling before the
// model produced a final reply. Surfaced as a run error, never silently
// swallowed.
var ErrMaxTurnsExceeded = errors.New("max engine turns exceeded")

// EventKind discriminates the low-level engine event vocabulary.
type EventKind string

const (
	// EventTextDelta carries one fragment of assistant text.
	EventTextDelta EventKind = "text_delta"
	// EventCallStarted announces a new tool call. Name and CallID are set
	// when the provider supplies them this early; ItemID always is.
	EventCallStarted EventKind = "call_started"
	// EventArgumentsDelta carries one raw fragment of streamed argument
	// text, correlated by ItemID.
	EventArgumentsDelta EventKind = "arguments_delta"
	// EventArgumentsDone carries the fully assembled argument text.
	EventArgumentsDone EventKind = "arguments_done"
	// EventCallFinished marks the end of a tool call request.
	EventCallFinished EventKind = "call_finished"
	// EventToolOutput carries the result of executing a tool call.
	EventToolOutput EventKind = "tool_output"
	// EventCompleted marks the successful end of a run. Exactly one is
	// emitted per successful run, always last.
	EventCompleted EventKind = "completed"
)

// Event is a single low-level occurrence during an engine run. Kind selects
// which fields are populated.
type Event struct {
	Kind      EventKind
	Delta     string // Text or argument fragment
	ItemID    string // Provider stream item correlation for argument deltas
	CallID    string // Provider call id, shared across one call's events
	Name      string // Tool name
	Arguments string // Assembled raw argument text (JSON) on arguments_done
	Output    any    // Tool execution result on tool_output
}

// NewTextDeltaEvent creates a text fragment event.
func NewTextDeltaEvent(delta string) Event {
	return Event{Kind: EventTextDelta, Delta: delta}
}

// NewCallStartedEvent announces a tool call. CallID may be empty when the
// provider reveals it later in the stream.
func NewCallStartedEvent(name, callID, itemID string) Event {
	return Event{Kind: EventCallStarted, Name: name, CallID: callID, ItemID: itemID}
}

// NewArgumentsDeltaEvent carries one raw argument fragment.
func NewArgumentsDeltaEvent(itemID, delta string) Event {
	return Event{Kind: EventArgumentsDelta, ItemID: itemID, Delta: delta}
}

// NewArgumentsDoneEvent carries the assembled argument text of a call.
func NewArgumentsDoneEvent(itemID, callID, name, arguments string) Event {
	return Event{Kind: EventArgumentsDone, ItemID: itemID, CallID: callID, Name: name, Arguments: arguments}
}

// NewCallFinishedEvent marks the end of a tool call request.
func NewCallFinishedEvent(name, callID string) Event {
	return Event{Kind: EventCallFinished, Name: name, CallID: callID}
}

// NewToolOutputEvent carries a tool execution result.
func NewToolOutputEvent(name, callID string, output any) Event {
	return Event{Kind: EventToolOutput, Name: name, CallID: callID, Output: output}
}

// NewCompletedEvent marks the successful end of a run.
func NewCompletedEvent() Event {
	return Event{Kind: EventCompleted}
}

// Request describes one engine run over a session snapshot. The transcript is
// already windowed by the caller; the engine never sees more history than it
// is handed.
type Request struct {
	// Instructions is the assembled system prompt.
	Instructions string
	// Transcript holds the conversational turns to reason over.
	Transcript []core.Turn
	// Connections are the session's live tool server handles.
	Connections []core.ToolConnection
	// MaxTurns caps model round-trips within this run. Zero means the
	// adapter's default.
	MaxTurns int
}

// Info contains metadata about an engine implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "scripted", etc.
}

// Engine drives an agent runtime over a session snapshot.
//
// Run returns immediately with two channels. The event channel carries the
// run's events in order and is closed after the terminal event; a successful
// run ends with exactly one EventCompleted. The error channel carries at most
// one error and is closed with the run. A run that errors emits no
// EventCompleted.
type Engine interface {
	Run(ctx context.Context, req Request) (<-chan Event, <-chan error)

	// Info returns information about the engine implementation.
	Info() Info
}
