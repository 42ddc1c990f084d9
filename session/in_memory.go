package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentrelay/core"
)

// InMemoryStore is a volatile core.SessionStore implementation keeping
// sessions in a process local map. It is safe for concurrent access and best
// suited for single-process relays, tests and demo servers. Each returned
// session is cloned to prevent external mutation of internal state.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*core.Session
}

// Compile-time check that InMemoryStore satisfies the store contract.
var _ core.SessionStore = (*InMemoryStore)(nil)

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*core.Session)}
}

// Create registers a new session under its identifier. A clone is stored so
// the caller's copy stays detached from store state.
func (s *InMemoryStore) Create(sess *core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.ID]; ok {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// Get returns a snapshot of an existing session or core.ErrSessionNotFound.
func (s *InMemoryStore) Get(id string) (*core.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	return sess.Clone(), nil
}

// Touch advances the session's last-activity timestamp to the current time.
func (s *InMemoryStore) Touch(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	sess.LastActivity = time.Now()
	return nil
}

// AppendTurn appends a turn to the session transcript. The activity timestamp
// is left untouched; only message intake counts as activity.
func (s *InMemoryStore) AppendTurn(id string, turn core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	sess.Transcript = append(sess.Transcript, turn)
	return nil
}

// AcquireStream marks the session's event stream as attached. While another
// stream holds the flag the call fails with core.ErrStreamActive.
func (s *InMemoryStore) AcquireStream(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return core.ErrSessionNotFound
	}
	if sess.StreamActive {
		return core.ErrStreamActive
	}
	sess.StreamActive = true
	return nil
}

// ReleaseStream clears the stream flag. Unknown sessions are ignored so the
// release path stays safe to call from deferred cleanup.
func (s *InMemoryStore) ReleaseStream(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[id]; ok {
		sess.StreamActive = false
	}
}

// Remove deletes the session and surrenders its tool connections to the
// caller. Because the entry is deleted under the same lock, concurrent
// removals observe the session at most once and connections cannot be handed
// out twice.
func (s *InMemoryStore) Remove(id string) ([]core.ToolConnection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	conns := sess.Conns
	delete(s.sessions, id)
	return conns, true
}

// ListExpired returns the identifiers of sessions whose last activity lies
// strictly more than timeout before now. A session idle for exactly the
// timeout is not yet expired.
func (s *InMemoryStore) ListExpired(now time.Time, timeout time.Duration) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var expired []string
	for id, sess := range s.sessions {
		if now.Sub(sess.LastActivity) > timeout {
			expired = append(expired, id)
		}
	}
	return expired
}

// List returns the identifiers of all registered sessions.
func (s *InMemoryStore) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len reports the number of registered sessions.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ActiveStreams reports how many sessions currently hold the stream flag.
func (s *InMemoryStore) ActiveStreams() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, sess := range s.sessions {
		if sess.StreamActive {
			n++
		}
	}
	return n
}
