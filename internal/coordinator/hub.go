// internal/coordinator/hub.go
package coordinator

import (
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/YaChuShen/breakfast-bonanza-socket/internal/relay"
)

// Hub tracks which local sessions belong to which room's broadcast group and
// keeps the relay subscription for a room alive while any local member
// remains. Group membership is process-local state; cross-instance delivery
// happens through the broker.
type Hub struct {
	broker relay.Broker
	log    *logrus.Logger

	mu     sync.Mutex
	groups map[string]*group
}

type group struct {
	sessions    map[uuid.UUID]*Session
	unsubscribe func()
}

func NewHub(broker relay.Broker, log *logrus.Logger) *Hub {
	return &Hub{
		broker: broker,
		log:    log,
		groups: make(map[string]*group),
	}
}

// Join adds a session to a room's broadcast group, subscribing to the room's
// relay channel when this is the first local member.
func (h *Hub) Join(roomID string, s *Session) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	g, ok := h.groups[roomID]
	if !ok {
		unsubscribe, err := h.broker.Subscribe(roomID, h.deliver)
		if err != nil {
			return err
		}
		g = &group{sessions: make(map[uuid.UUID]*Session), unsubscribe: unsubscribe}
		h.groups[roomID] = g
	}
	g.sessions[s.ConnID] = s
	return nil
}

// Leave removes a session from a room's group, dropping the relay
// subscription when the last local member is gone. No-op if absent.
func (h *Hub) Leave(roomID string, s *Session) {
	h.mu.Lock()
	g, ok := h.groups[roomID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(g.sessions, s.ConnID)
	var unsubscribe func()
	if len(g.sessions) == 0 {
		unsubscribe = g.unsubscribe
		delete(h.groups, roomID)
	}
	h.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// deliver hands an envelope to every local member of the room except the
// excluded participant.
func (h *Hub) deliver(env relay.Envelope) {
	h.mu.Lock()
	var targets []*Session
	if g, ok := h.groups[env.RoomID]; ok {
		for _, s := range g.sessions {
			if env.ExcludeID != "" && s.Participant.ID == env.ExcludeID {
				continue
			}
			targets = append(targets, s)
		}
	}
	h.mu.Unlock()

	for _, s := range targets {
		if !s.Write(env.Event) {
			h.log.WithFields(logrus.Fields{
				"room":        env.RoomID,
				"participant": s.Participant.ID,
				"event":       env.Event["type"],
			}).Warn("dropped event for slow or closed session")
		}
	}
}
