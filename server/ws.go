package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/hupe1980/agentrelay/core"
)

// socketRequest is one inbound frame on the WebSocket relay, mirroring the
// body of the message endpoint.
type socketRequest struct {
	Message string `json:"message"`
}

// wsClient pairs a WebSocket connection with a buffered outbound queue
// drained by a dedicated write pump. Write failures close the connection,
// which in turn fails the read loop and unwinds the handler.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSClient(conn *websocket.Conn) *wsClient {
	c := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}
	go c.writePump()
	return c
}

func (c *wsClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *wsClient) close() {
	close(c.send)
}

// deliver queues one event for the write pump. It reports false when the
// context ended before the event could be queued.
func (c *wsClient) deliver(ctx context.Context, ev core.ClientEvent) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return true
	}
	select {
	case c.send <- data:
		return true
	case <-ctx.Done():
		return false
	}
}

// handleSessionSocket relays the event stream over a WebSocket. Each inbound
// {"message": ...} frame submits one user message and streams the response
// events back as JSON frames, so a single connection can carry many turns.
// Submission errors are delivered in-band as error events.
func (s *Server) handleSessionSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if _, err := s.relay.GetStatus(sessionID); err != nil {
		s.writeError(w, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("server.ws.upgrade_failed", "session_id", sessionID, "error", err.Error())
		return
	}

	s.logger.Info("server.ws.connected", "session_id", sessionID, "remote", r.RemoteAddr)
	defer s.logger.Info("server.ws.disconnected", "session_id", sessionID, "remote", r.RemoteAddr)

	// The request context does not survive the protocol upgrade, so
	// disconnects are detected by the read loop instead.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := newWSClient(conn)
	defer client.close()

	inbound := make(chan socketRequest)
	go func() {
		defer close(inbound)
		defer cancel()
		for {
			var req socketRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			select {
			case inbound <- req:
			case <-ctx.Done():
				return
			}
		}
	}()

	for req := range inbound {
		s.relaySocketTurn(ctx, client, sessionID, req.Message)
	}
}

// relaySocketTurn submits one message and forwards the resulting event
// stream to the client.
func (s *Server) relaySocketTurn(ctx context.Context, client *wsClient, sessionID, message string) {
	if err := s.relay.SubmitMessage(ctx, sessionID, message); err != nil {
		client.deliver(ctx, core.NewErrorEvent(err.Error()))
		return
	}

	stream, err := s.relay.OpenEventStream(ctx, sessionID)
	if err != nil {
		client.deliver(ctx, core.NewErrorEvent(err.Error()))
		return
	}

	for ev := range stream {
		if !client.deliver(ctx, ev) {
			return
		}
	}
}
