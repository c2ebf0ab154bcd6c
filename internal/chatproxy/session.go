// Package chatproxy implements the plain one-shot chat completion proxy that
// rides alongside the research subsystem. A client registers a session and
// then consumes it exactly once as an SSE stream; there is no resumability
// and no fan-out here.
package chatproxy

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillback/research-relay/internal/upstream"
)

// DefaultSessionTTL is how long an unclaimed session survives.
const DefaultSessionTTL = time.Minute

// Session holds a pending chat request between start and stream.
type Session struct {
	ID           string
	User         string
	Model        string
	SystemPrompt string
	Messages     []upstream.ChatMessage
	CreatedAt    time.Time
}

// Sessions is the in-memory table of pending chat sessions. Entries are
// consumed on first read and swept once they outlive the TTL.
type Sessions struct {
	ttl time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions creates a session table. ttl <= 0 selects DefaultSessionTTL.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{
		ttl:      ttl,
		sessions: make(map[string]*Session),
	}
}

// Put registers a new session and returns it. Expired sessions are swept on
// the way in so the table cannot grow without bound.
func (s *Sessions) Put(user, model, systemPrompt string, messages []upstream.ChatMessage) *Session {
	sess := &Session{
		ID:           uuid.New().String(),
		User:         user,
		Model:        model,
		SystemPrompt: systemPrompt,
		Messages:     messages,
		CreatedAt:    time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweepLocked(time.Now())
	s.sessions[sess.ID] = sess
	return sess
}

// Take removes and returns the session with the given id. A session can be
// claimed at most once.
func (s *Sessions) Take(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	if time.Since(sess.CreatedAt) > s.ttl {
		delete(s.sessions, id)
		return nil, false
	}
	delete(s.sessions, id)
	return sess, true
}

// Len reports the number of pending sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Sessions) sweepLocked(now time.Time) {
	cutoff := now.Add(-s.ttl)
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}
