// Package relay turns raw engine runs into client-facing event streams.
//
// Two collaborators split the work. The Translator is a stateful mapper from
// low-level engine events to the public core.ClientEvent vocabulary: it
// correlates argument fragments and tool outputs with the call that produced
// them, falling back to the most recently started open call (flagged on the
// wire) when an engine omits identifiers. The Coordinator owns one stream
// invocation end to end: it guards the single-stream invariant, feeds the
// engine a windowed transcript snapshot, forwards translated events to the
// subscriber, and appends the assembled assistant turn to the transcript
// exactly once, on successful completion.
//
// Neither type talks HTTP. The server package adapts these streams onto SSE
// and WebSocket transports.
package relay
