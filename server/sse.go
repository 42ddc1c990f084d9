package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

// handleSessionStream delivers one response as Server-Sent Events. Each
// client event is serialized as a single data frame; the connection closes
// when the response ends. Disconnects cancel the underlying run via the
// request context.
func (s *Server) handleSessionStream(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeDetail(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Attach before committing to the SSE content type so not-found and
	// stream conflicts still surface as JSON errors.
	stream, err := s.relay.OpenEventStream(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := time.Now()
	events := 0

	for ev := range stream {
		data, err := json.Marshal(ev)
		if err != nil {
			s.logger.Error("server.sse.marshal_failed", "session_id", sessionID, "error", err.Error())
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			s.logger.Warn("server.sse.client_gone",
				"session_id", sessionID,
				"events", events,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return
		}
		flusher.Flush()
		events++
	}

	s.logger.Info("server.sse.completed",
		"session_id", sessionID,
		"events", events,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
