package core

import "time"

// Role identifies the author of a conversational turn.
type Role string

const (
	// RoleUser marks a turn authored by the end user.
	RoleUser Role = "user"
	// RoleAssistant marks a turn authored by the agent.
	RoleAssistant Role = "assistant"
)

// Turn is a single entry in a session transcript. Turns are immutable once
// appended; assistant turns carry only the visible text of the reply, never
// intermediate tool traffic.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Session is a snapshot of one client's conversational state. Sessions are
// value objects: all mutation goes through a SessionStore, and the store hands
// out defensive copies so callers can never alias live state.
type Session struct {
	ID           string           `json:"id"`            // Unique session identifier
	AgentName    string           `json:"agent_name"`    // Display name of the backing agent
	Instructions string           `json:"instructions"`  // System instructions assembled at creation
	Transcript   []Turn           `json:"transcript"`    // Append-only turn history
	Created      time.Time        `json:"created_at"`    // Creation timestamp
	LastActivity time.Time        `json:"last_activity"` // Updated on intake, never on delivery
	StreamActive bool             `json:"-"`             // True while an event stream is attached
	Conns        []ToolConnection `json:"-"`             // Live tool server handles owned by the session
}

// NewSession constructs a session with the given identifier and prior turns.
// The prior slice is copied; Created and LastActivity are set to the current
// time.
func NewSession(id string, prior []Turn) *Session {
	now := time.Now()
	transcript := make([]Turn, len(prior))
	copy(transcript, prior)
	return &Session{
		ID:           id,
		Transcript:   transcript,
		Created:      now,
		LastActivity: now,
	}
}

// Clone returns a deep copy of the session. The transcript backing array is
// duplicated; tool connections are shared handles and copied by reference.
func (s *Session) Clone() *Session {
	clone := *s
	clone.Transcript = make([]Turn, len(s.Transcript))
	copy(clone.Transcript, s.Transcript)
	clone.Conns = make([]ToolConnection, len(s.Conns))
	copy(clone.Conns, s.Conns)
	return &clone
}

// LastTurn returns the most recent turn and true, or the zero turn and false
// when the transcript is empty.
func (s *Session) LastTurn() (Turn, bool) {
	if len(s.Transcript) == 0 {
		return Turn{}, false
	}
	return s.Transcript[len(s.Transcript)-1], true
}

// Window returns a copy of the last n turns (fewer when the transcript is
// shorter). A non-positive n yields an empty slice.
func (s *Session) Window(n int) []Turn {
	if n <= 0 {
		return nil
	}
	start := len(s.Transcript) - n
	if start < 0 {
		start = 0
	}
	window := make([]Turn, len(s.Transcript)-start)
	copy(window, s.Transcript[start:])
	return window
}

// SessionStore is the contract for session registries. Implementations own
// all synchronization: callers never observe or mutate shared session state
// directly.
type SessionStore interface {
	// Create registers a new session. It fails if the identifier is
	// already present.
	Create(sess *Session) error

	// Get returns a snapshot of the session or ErrSessionNotFound.
	Get(id string) (*Session, error)

	// Touch advances the session's last-activity timestamp to now.
	Touch(id string) error

	// AppendTurn appends a turn to the session transcript. It does not
	// advance the activity timestamp.
	AppendTurn(id string, turn Turn) error

	// AcquireStream marks the session's event stream as attached. It
	// returns ErrStreamActive while another stream holds the flag and
	// ErrSessionNotFound for unknown sessions.
	AcquireStream(id string) error

	// ReleaseStream clears the stream flag. Unknown sessions are ignored.
	ReleaseStream(id string)

	// Remove deletes the session and hands back its tool connections for
	// teardown. The second result is false when the session was absent.
	// Connections are surrendered exactly once, so concurrent removals
	// cannot double-close them.
	Remove(id string) ([]ToolConnection, bool)

	// ListExpired returns the identifiers of sessions whose last activity
	// is strictly older than now minus timeout.
	ListExpired(now time.Time, timeout time.Duration) []string

	// List returns the identifiers of all registered sessions.
	List() []string

	// Len reports the number of registered sessions.
	Len() int

	// ActiveStreams reports how many sessions currently hold the stream
	// flag.
	ActiveStreams() int
}

// SessionStatus is a point-in-time description of a session, suitable for
// status endpoints.
type SessionStatus struct {
	SessionID     string    `json:"session_id"`
	AgentName     string    `json:"agent_name"`
	HistoryLength int       `json:"history_length"`
	Created       time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	StreamActive  bool      `json:"is_stream_active"`
}

// Health summarizes relay liveness counters.
type Health struct {
	ActiveSessions int `json:"active_sessions"`
	ActiveStreams  int `json:"active_streams"`
}
