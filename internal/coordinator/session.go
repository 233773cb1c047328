// internal/coordinator/session.go
package coordinator

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// outChanSize bounds how many undelivered events a session may queue before
// writes start dropping.
const outChanSize = 16

// Participant identifies an authenticated connected actor. The id comes from
// the handshake token; authentication itself happened upstream.
type Participant struct {
	ID    string
	Name  string
	Email string
}

// Session is one participant's live connection. Out is drained by the owning
// transport (websocket write pump or long-poll reads); the coordinator never
// blocks on it.
type Session struct {
	Participant Participant
	ConnID      uuid.UUID
	Out         chan map[string]interface{}
	Cancel      context.CancelFunc

	mu     sync.Mutex
	closed bool
}

func newSession(p Participant, cancel context.CancelFunc) *Session {
	return &Session{
		Participant: p,
		ConnID:      uuid.New(),
		Out:         make(chan map[string]interface{}, outChanSize),
		Cancel:      cancel,
	}
}

// Write pushes an event onto the outbound channel without blocking.
// Returns false if the session is closed or the channel is full; the caller
// logs the drop.
func (s *Session) Write(event map[string]interface{}) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.Out <- event:
		return true
	default:
		return false
	}
}

// CloseOut marks the session closed, closes the outbound channel so the
// transport's pump exits, and cancels the connection context. Idempotent.
func (s *Session) CloseOut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.Out)
	if s.Cancel != nil {
		s.Cancel()
	}
}
