// Package engine defines the boundary between the relay and the conversational
// agent runtime. An Engine consumes a session snapshot (instructions plus
// transcript) and produces a stream of low-level events: text deltas, tool
// call phases, tool outputs and a completion marker.
//
// The package ships a ScriptedEngine for tests and examples; the openai and
// anthropic subpackages adapt the respective provider APIs, including the
// tool execution loop that feeds results back to the model until it produces
// a final reply.
package engine
