// Package core provides the foundational domain types and interfaces used by
// AgentRelay. It defines the core abstractions for:
//
//   - Turns and Sessions (append-only conversational state per client)
//   - Client events (the outbound wire vocabulary of the relay)
//   - Pluggable session stores (ownership of all session mutation)
//   - Tool connections and providers (handles to external capability servers)
//
// The package intentionally keeps implementation concerns (in-memory
// persistence, engine adapters, HTTP transport) out of scope, exposing small
// interfaces to enable custom backends and extensions.
package core
