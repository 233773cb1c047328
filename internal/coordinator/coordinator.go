// internal/coordinator/coordinator.go
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/YaChuShen/breakfast-bonanza-socket/internal/relay"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/room"
)

const (
	// codeAttempts bounds room-code regeneration on collision.
	codeAttempts = 5
	// statsTimeout bounds store reads inside the status query.
	statsTimeout = 2 * time.Second
)

// errCodeCollision signals that a freshly generated room code is taken.
var errCodeCollision = errors.New("room code collision")

// ErrUnauthorized rejects a handshake with no token before any room logic
// runs.
var ErrUnauthorized = errors.New("unauthorized")

// Generic failure messages for request/response operations. Precondition
// failures use the sentinel error text directly.
const (
	createRoomFailedMsg = "create room failed, please try again later"
	joinRoomFailedMsg   = "join room failed, please try again later"
)

// Config carries the coordinator's tunable behavior.
type Config struct {
	// RoomTTL bounds room and index entries; zero means room.DefaultTTL.
	RoomTTL time.Duration
	// HostPromotion, when set, promotes the oldest remaining member to host
	// after the host disconnects. Off by default: the hostId then always
	// stays the original creator.
	HostPromotion bool
}

// Coordinator drives the two-player room state machine: it owns all room and
// index mutation, relays gameplay events between members, and tears rooms
// down on disconnect. The store is the only shared mutable resource; group
// membership is local and rebuilt through the relay broker.
type Coordinator struct {
	store  room.Store
	broker relay.Broker
	hub    *Hub
	log    *logrus.Logger
	cfg    Config

	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
}

func New(store room.Store, broker relay.Broker, log *logrus.Logger, cfg Config) *Coordinator {
	if cfg.RoomTTL <= 0 {
		cfg.RoomTTL = room.DefaultTTL
	}
	return &Coordinator{
		store:    store,
		broker:   broker,
		hub:      NewHub(broker, log),
		log:      log,
		cfg:      cfg,
		sessions: make(map[uuid.UUID]*Session),
	}
}

// Connect validates the handshake identity and binds a new session to it.
// Fails closed when the token produced no participant id.
func (c *Coordinator) Connect(p Participant, cancel context.CancelFunc) (*Session, error) {
	if p.ID == "" {
		return nil, ErrUnauthorized
	}
	s := newSession(p, cancel)
	c.mu.Lock()
	c.sessions[s.ConnID] = s
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"participant": p.ID,
		"conn":        s.ConnID,
	}).Info("participant connected")
	return s, nil
}

// Dispatch routes one inbound request to its handler. No handler may tear
// down the connection or the process: panics are recovered and logged here,
// and every store failure is converted to an error event or a log line
// inside the handler.
func (c *Coordinator) Dispatch(ctx context.Context, s *Session, req Request) {
	defer func() {
		if r := recover(); r != nil {
			c.log.WithFields(logrus.Fields{
				"participant": s.Participant.ID,
				"event":       req.eventName(),
			}).Errorf("recovered from handler panic: %v", r)
		}
	}()

	switch req := req.(type) {
	case CreateRoomRequest:
		c.handleCreateRoom(ctx, s)
	case JoinRoomRequest:
		c.handleJoinRoom(ctx, s, req)
	case PlayerReadyRequest:
		c.publish(ctx, req.RoomID, s.Participant.ID, opponentReadyEvent(s.Participant))
	case GameStartRequest:
		// No host gating here: any member may start, the UI owns that
		// restriction. Broadcast includes the sender.
		c.publish(ctx, req.RoomID, "", hostStartTheGameEvent())
	case ScoreUpdateRequest:
		c.publish(ctx, req.RoomID, s.Participant.ID,
			opponentScoreUpdateEvent(s.Participant, req.Score, time.Now()))
	case GameEndRequest:
		c.publish(ctx, req.RoomID, s.Participant.ID,
			opponentGameEndEvent(s.Participant, time.Now()))
	default:
		c.log.Warnf("unhandled request type %T", req)
	}
}

func (c *Coordinator) handleCreateRoom(ctx context.Context, s *Session) {
	member := memberOf(s.Participant)

	var created *room.Room
	var err error
	for attempt := 0; attempt < codeAttempts; attempt++ {
		code := room.NewCode()
		created, err = c.store.UpdateRoom(ctx, code, c.cfg.RoomTTL, func(cur *room.Room) (*room.Room, error) {
			if cur != nil {
				return nil, errCodeCollision
			}
			return room.New(code, member), nil
		})
		if err == nil || !errors.Is(err, errCodeCollision) {
			break
		}
	}
	if err != nil {
		c.log.WithField("participant", s.Participant.ID).Warnf("createRoom failed: %v", err)
		c.write(s, createRoomErrorEvent(createRoomFailedMsg))
		return
	}

	if err := c.store.SetParticipantRoom(ctx, s.Participant.ID, created.ID, c.cfg.RoomTTL); err != nil {
		c.log.WithField("participant", s.Participant.ID).Warnf("createRoom index write failed: %v", err)
		if derr := c.store.DeleteRoom(ctx, created.ID); derr != nil {
			c.log.Warnf("createRoom cleanup of %s failed: %v", created.ID, derr)
		}
		c.write(s, createRoomErrorEvent(createRoomFailedMsg))
		return
	}

	if err := c.hub.Join(created.ID, s); err != nil {
		c.log.WithField("room", created.ID).Warnf("createRoom broadcast-group join failed: %v", err)
		c.write(s, createRoomErrorEvent(createRoomFailedMsg))
		return
	}

	c.log.WithFields(logrus.Fields{
		"room":        created.ID,
		"participant": s.Participant.ID,
	}).Info("room created")
	c.write(s, roomCreatedEvent(created.ID))
}

func (c *Coordinator) handleJoinRoom(ctx context.Context, s *Session, req JoinRoomRequest) {
	member := memberOf(s.Participant)

	updated, err := c.store.UpdateRoom(ctx, req.RoomID, c.cfg.RoomTTL, func(cur *room.Room) (*room.Room, error) {
		if cur == nil {
			return nil, room.ErrRoomNotFound
		}
		if cur.IsFull() {
			return nil, room.ErrRoomFull
		}
		if cur.HasMember(s.Participant.ID) {
			return nil, room.ErrAlreadyInRoom
		}
		cur.AddMember(member)
		if cur.IsFull() {
			cur.Status = room.StatusReady
		}
		return cur, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, room.ErrRoomNotFound),
			errors.Is(err, room.ErrRoomFull),
			errors.Is(err, room.ErrAlreadyInRoom):
			c.write(s, joinRoomErrorEvent(err.Error()))
		default:
			c.log.WithField("room", req.RoomID).Warnf("joinRoom failed: %v", err)
			c.write(s, joinRoomErrorEvent(joinRoomFailedMsg))
		}
		return
	}

	if err := c.store.SetParticipantRoom(ctx, s.Participant.ID, req.RoomID, c.cfg.RoomTTL); err != nil {
		c.log.WithField("room", req.RoomID).Warnf("joinRoom index write failed: %v", err)
		c.removeFromRoom(ctx, req.RoomID, s.Participant.ID)
		c.write(s, joinRoomErrorEvent(joinRoomFailedMsg))
		return
	}

	if err := c.hub.Join(req.RoomID, s); err != nil {
		c.log.WithField("room", req.RoomID).Warnf("joinRoom broadcast-group join failed: %v", err)
		c.removeFromRoom(ctx, req.RoomID, s.Participant.ID)
		if derr := c.store.DeleteParticipantRoom(ctx, s.Participant.ID); derr != nil {
			c.log.Warnf("joinRoom index cleanup failed: %v", derr)
		}
		c.write(s, joinRoomErrorEvent(joinRoomFailedMsg))
		return
	}

	c.log.WithFields(logrus.Fields{
		"room":        req.RoomID,
		"participant": s.Participant.ID,
		"members":     len(updated.Members),
	}).Info("participant joined room")

	// Notification order: others first, then the caller, then the ready
	// broadcast to everyone once the room is full.
	c.publish(ctx, req.RoomID, s.Participant.ID, playerJoinedEvent(s.Participant))
	c.write(s, joinedRoomEvent(req.RoomID))
	if updated.Status == room.StatusReady {
		c.publish(ctx, req.RoomID, "", roomReadyEvent(updated))
	}
}

// Disconnect runs the teardown path when a transport closes: remove the
// participant from their room (deleting it when empty), notify the remaining
// member, and clear the index entry last. Safe against a racing disconnect
// having already deleted the room.
func (c *Coordinator) Disconnect(ctx context.Context, s *Session) {
	c.mu.Lock()
	delete(c.sessions, s.ConnID)
	c.mu.Unlock()
	defer s.CloseOut()

	roomID, err := c.store.ParticipantRoom(ctx, s.Participant.ID)
	if err != nil {
		c.log.WithField("participant", s.Participant.ID).Warnf("disconnect room lookup failed: %v", err)
		return
	}
	if roomID == "" {
		c.log.WithField("participant", s.Participant.ID).Debug("no room for disconnected participant")
		return
	}
	c.hub.Leave(roomID, s)

	var (
		isHostDisconnected bool
		promotedHostID     string
	)
	_, err = c.store.UpdateRoom(ctx, roomID, c.cfg.RoomTTL, func(cur *room.Room) (*room.Room, error) {
		if cur == nil {
			return nil, nil // already gone; a racing disconnect won
		}
		isHostDisconnected = cur.HostID == s.Participant.ID
		cur.RemoveMember(s.Participant.ID)
		if len(cur.Members) == 0 {
			return nil, nil // last member out deletes the room
		}
		if isHostDisconnected && c.cfg.HostPromotion {
			promotedHostID = cur.Members[0].ID
			cur.HostID = promotedHostID
		}
		if cur.Status == room.StatusReady {
			cur.Status = room.StatusWaiting
		}
		return cur, nil
	})
	if err != nil {
		c.log.WithField("room", roomID).Warnf("disconnect room update failed: %v", err)
	}

	c.publish(ctx, roomID, s.Participant.ID,
		playerDisconnectedEvent(s.Participant, isHostDisconnected, promotedHostID))

	// Index entry goes last so a crash between steps leaves a recoverable
	// pointer rather than an orphaned membership.
	if err := c.store.DeleteParticipantRoom(ctx, s.Participant.ID); err != nil {
		c.log.WithField("participant", s.Participant.ID).Warnf("disconnect index cleanup failed: %v", err)
	}

	c.log.WithFields(logrus.Fields{
		"participant": s.Participant.ID,
		"room":        roomID,
		"wasHost":     isHostDisconnected,
	}).Info("participant disconnected")
}

// CloseAll disconnects every live session, used at shutdown.
func (c *Coordinator) CloseAll(ctx context.Context) {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		c.Disconnect(ctx, s)
	}
}

// Stats is the synchronous status snapshot served by the health endpoints.
type Stats struct {
	ConnectedClients int
	RoomsCount       int
	StoreConnected   bool
}

// Stats reports connection and room counts. The session count is local state
// and always available; store reads run behind a short timeout so an
// unreachable backing store degrades the snapshot instead of hanging it.
func (c *Coordinator) Stats(ctx context.Context) Stats {
	c.mu.Lock()
	st := Stats{ConnectedClients: len(c.sessions)}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, statsTimeout)
	defer cancel()
	if err := c.store.Ping(ctx); err != nil {
		c.log.Warnf("stats: store ping failed: %v", err)
		return st
	}
	st.StoreConnected = true

	if n, err := c.store.CountRooms(ctx); err != nil {
		c.log.Warnf("stats: room count failed: %v", err)
	} else {
		st.RoomsCount = n
	}
	return st
}

// write emits an event to a single session, logging drops.
func (c *Coordinator) write(s *Session, event map[string]interface{}) {
	if !s.Write(event) {
		c.log.WithFields(logrus.Fields{
			"participant": s.Participant.ID,
			"event":       event["type"],
		}).Warn("dropped event for slow or closed session")
	}
}

// publish fans an event out to a room through the relay broker. Fire and
// forget: failures are logged, never surfaced.
func (c *Coordinator) publish(ctx context.Context, roomID, excludeID string, event map[string]interface{}) {
	env := relay.Envelope{RoomID: roomID, ExcludeID: excludeID, Event: event}
	if err := c.broker.Publish(ctx, env); err != nil {
		c.log.WithField("room", roomID).Warnf("publish %v failed: %v", event["type"], err)
	}
}

// removeFromRoom undoes a join after a later step failed, best effort.
func (c *Coordinator) removeFromRoom(ctx context.Context, roomID, participantID string) {
	_, err := c.store.UpdateRoom(ctx, roomID, c.cfg.RoomTTL, func(cur *room.Room) (*room.Room, error) {
		if cur == nil {
			return nil, nil
		}
		cur.RemoveMember(participantID)
		if len(cur.Members) == 0 {
			return nil, nil
		}
		if cur.Status == room.StatusReady && !cur.IsFull() {
			cur.Status = room.StatusWaiting
		}
		return cur, nil
	})
	if err != nil {
		c.log.WithField("room", roomID).Warnf("join rollback failed: %v", err)
	}
}

func memberOf(p Participant) room.Member {
	return room.Member{ID: p.ID, Name: p.Name, Email: p.Email}
}
