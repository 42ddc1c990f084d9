// Package server exposes the relay over HTTP. It provides the session
// lifecycle endpoints (connect, message, status, tools, cleanup), a
// Server-Sent Events endpoint streaming client events for one response, and a
// WebSocket endpoint relaying the same event vocabulary bidirectionally.
//
// Error bodies are JSON objects of the form {"detail": "..."}; success bodies
// carry endpoint-specific payloads. The server is a thin translation layer:
// all session semantics live behind agentrelay.Relay.
package server
