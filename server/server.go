package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
)

// Options configures the Server instance.
type Options struct {
	// Addr is the listen address, host:port.
	Addr string

	// AllowedOrigins feeds both the CORS middleware and the WebSocket
	// origin check. The default allows every origin.
	AllowedOrigins []string

	// ReadHeaderTimeout bounds how long a client may take to send request
	// headers.
	ReadHeaderTimeout time.Duration

	// Logger defaults to a no-op logger.
	Logger logging.Logger
}

// Server serves the relay's HTTP API. It owns routing, content negotiation
// and the streaming transports; session semantics are delegated to the relay.
type Server struct {
	relay    *agentrelay.Relay
	router   *mux.Router
	handler  http.Handler
	httpSrv  *http.Server
	upgrader websocket.Upgrader
	proc     *process.Process
	started  time.Time
	logger   logging.Logger
	opts     Options
}

// New creates a Server wrapping the given relay. The behaviour can be tweaked
// via functional options.
func New(relay *agentrelay.Relay, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:              ":8000",
		AllowedOrigins:    []string{"*"},
		ReadHeaderTimeout: 10 * time.Second,
		Logger:            logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		relay:   relay,
		router:  mux.NewRouter(),
		started: time.Now(),
		logger:  opts.Logger,
		opts:    opts,
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}

	// Process stats are best effort; health reporting works without them.
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = proc
	}

	s.registerRoutes()

	// The CORS layer wraps the router from the outside so preflight
	// requests are answered even for method-restricted routes.
	c := cors.New(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.handler = c.Handler(s.router)

	s.httpSrv = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: opts.ReadHeaderTimeout,
	}

	return s
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/connect", s.handleConnect).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}/message", s.handleSendMessage).Methods(http.MethodPost)
	s.router.HandleFunc("/sessions/{id}/stream", s.handleSessionStream).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}/ws", s.handleSessionSocket).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}/status", s.handleSessionStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}/tools", s.handleSessionTools).Methods(http.MethodGet)
	s.router.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods(http.MethodDelete)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler exposes the full middleware and routing tree, mainly for tests and
// embedding.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe blocks serving the API until Shutdown is called or the
// listener fails.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server.listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting new requests and waits for in-flight ones up to
// the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server.shutdown")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// connectRequest seeds a new session with prior conversation turns.
type connectRequest struct {
	ChatHistory []core.Turn `json:"chat_history"`
}

// connectResponse acknowledges session creation.
type connectResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// successResponse is the generic acknowledgement body.
type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// detailResponse is the JSON error body, {"detail": "..."}.
type detailResponse struct {
	Detail string `json:"detail"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	// An empty body is a valid connect with no prior history.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	sessionID, err := s.relay.CreateSession(r.Context(), req.ChatHistory)
	if err != nil {
		s.writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, connectResponse{
		Success:   true,
		SessionID: sessionID,
		Message:   "Agent initialized successfully",
	})
}

// messageRequest carries one user message.
type messageRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeDetail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	defer r.Body.Close()

	if err := s.relay.SubmitMessage(r.Context(), sessionID, req.Message); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, successResponse{
		Success: true,
		Message: "Message received, connect to SSE stream for response",
	})
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.relay.CloseSession(r.Context(), sessionID); err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, successResponse{
		Success: true,
		Message: fmt.Sprintf("Session %s cleaned up successfully", sessionID),
	})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.relay.GetStatus(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}

// toolsResponse aggregates the tools of one session across its connections.
type toolsResponse struct {
	SessionID   string      `json:"session_id"`
	AgentName   string      `json:"agent_name"`
	ToolsCount  int         `json:"tools_count"`
	Tools       []core.Tool `json:"tools"`
	ServerNames []string    `json:"server_names"`
}

func (s *Server) handleSessionTools(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	inventory, err := s.relay.ListTools(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, core.ErrSessionNotFound) {
			s.writeDetail(w, http.StatusNotFound, "Session not found")
			return
		}
		s.writeDetail(w, http.StatusInternalServerError, fmt.Sprintf("Error listing tools: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, toolsResponse{
		SessionID:   sessionID,
		AgentName:   inventory.AgentName,
		ToolsCount:  len(inventory.Tools),
		Tools:       inventory.Tools,
		ServerNames: inventory.ServerNames,
	})
}

// writeError maps relay errors onto the HTTP status taxonomy.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var validationErr *core.ValidationError
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		s.writeDetail(w, http.StatusNotFound, "Session not found")
	case errors.Is(err, core.ErrStreamActive):
		s.writeDetail(w, http.StatusConflict, "Event stream already active")
	case errors.As(err, &validationErr):
		s.writeDetail(w, http.StatusBadRequest, validationErr.Message)
	default:
		s.writeDetail(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeDetail(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, detailResponse{Detail: detail})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("server.response.encode_failed", "error", err.Error())
	}
}
