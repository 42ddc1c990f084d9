package core

import "github.com/google/uuid"

// EventKind discriminates the client event vocabulary.
type EventKind string

const (
	// EventToken carries one fragment of assistant text.
	EventToken EventKind = "token"
	// EventToolCallStarted announces a tool invocation before arguments arrive.
	EventToolCallStarted EventKind = "tool_call_started"
	// EventToolCallArgumentsDelta carries one raw fragment of streamed
	// argument text. Emitted only when delta passthrough is enabled.
	EventToolCallArgumentsDelta EventKind = "tool_call_arguments_delta"
	// EventToolCallArgumentsComplete carries the fully assembled arguments.
	EventToolCallArgumentsComplete EventKind = "tool_call_arguments_complete"
	// EventToolCallFinished marks the end of a tool invocation request.
	EventToolCallFinished EventKind = "tool_call_finished"
	// EventToolResponse carries a tool execution result.
	EventToolResponse EventKind = "tool_response"
	// EventCompletion marks the successful end of a response stream.
	EventCompletion EventKind = "completion"
	// EventError reports a terminal failure of the current response.
	EventError EventKind = "error"
)

// ClientEvent is the single outbound wire shape of the relay. Kind selects
// which of the optional fields are populated; unused fields are omitted from
// the serialized form. After emission an event should be treated as immutable.
type ClientEvent struct {
	Kind         EventKind `json:"type"`
	Content      string    `json:"content,omitempty"`       // Token text
	Name         string    `json:"name,omitempty"`          // Tool name
	CallID       string    `json:"call_id,omitempty"`       // Correlation id shared across one call's events
	Arguments    any       `json:"arguments,omitempty"`     // Parsed arguments, or a raw fragment on deltas
	Output       any       `json:"output,omitempty"`        // Tool execution result
	Message      string    `json:"message,omitempty"`       // Human-readable text on completion and error
	InferredCall bool      `json:"inferred_call,omitempty"` // True when call correlation was guessed, not matched
}

// NewTokenEvent creates a token event carrying one text fragment.
func NewTokenEvent(content string) ClientEvent {
	return ClientEvent{Kind: EventToken, Content: content}
}

// NewToolCallStartedEvent announces the start of a tool invocation.
func NewToolCallStartedEvent(name, callID string) ClientEvent {
	return ClientEvent{Kind: EventToolCallStarted, Name: name, CallID: callID}
}

// NewToolCallArgumentsDeltaEvent carries one raw argument fragment for the
// given call.
func NewToolCallArgumentsDeltaEvent(callID, fragment string) ClientEvent {
	return ClientEvent{Kind: EventToolCallArgumentsDelta, CallID: callID, Arguments: fragment}
}

// NewToolCallArgumentsCompleteEvent carries the assembled arguments of a call.
func NewToolCallArgumentsCompleteEvent(name, callID string, args any) ClientEvent {
	return ClientEvent{Kind: EventToolCallArgumentsComplete, Name: name, CallID: callID, Arguments: args}
}

// NewToolCallFinishedEvent marks the end of a tool invocation request.
func NewToolCallFinishedEvent(name, callID string) ClientEvent {
	return ClientEvent{Kind: EventToolCallFinished, Name: name, CallID: callID}
}

// NewToolResponseEvent carries the execution result of a tool call.
func NewToolResponseEvent(name, callID string, output any) ClientEvent {
	return ClientEvent{Kind: EventToolResponse, Name: name, CallID: callID, Output: output}
}

// NewCompletionEvent marks the successful end of a response stream.
func NewCompletionEvent() ClientEvent {
	return ClientEvent{Kind: EventCompletion, Message: "Response completed"}
}

// NewErrorEvent reports a terminal failure with a human-readable message.
func NewErrorEvent(message string) ClientEvent {
	return ClientEvent{Kind: EventError, Message: message}
}

// NewID generates a new unique identifier for sessions and tool calls.
func NewID() string {
	return uuid.NewString()
}
