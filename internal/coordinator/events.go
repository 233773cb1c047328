// internal/coordinator/events.go
package coordinator

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/YaChuShen/breakfast-bonanza-socket/internal/room"
)

// Inbound event names (caller -> coordinator).
const (
	EventCreateRoom  = "createRoom"
	EventJoinRoom    = "joinRoom"
	EventPlayerReady = "playerReady"
	EventGameStart   = "gameStart"
	EventScoreUpdate = "scoreUpdate"
	EventGameEnd     = "gameEnd"
)

// Outbound event names (coordinator -> caller(s)).
const (
	EventRoomCreated         = "roomCreated"
	EventCreateRoomError     = "createRoomError"
	EventJoinedRoom          = "joinedRoom"
	EventJoinRoomError       = "joinRoomError"
	EventPlayerJoined        = "playerJoined"
	EventRoomReady           = "roomReady"
	EventOpponentReady       = "opponentReady"
	EventHostStartTheGame    = "hostStartTheGame"
	EventOpponentScoreUpdate = "opponentScoreUpdate"
	EventOpponentGameEnd     = "opponentGameEnd"
	EventPlayerDisconnected  = "playerDisconnected"
)

// ErrMalformedEvent marks inbound payloads that fail validation. These are
// dropped with a log line, never surfaced to the caller: the relay events
// they guard have no response channel in the protocol.
var ErrMalformedEvent = errors.New("malformed event")

// Request is one decoded inbound event, dispatched as a tagged variant.
type Request interface {
	eventName() string
}

type CreateRoomRequest struct{}

type JoinRoomRequest struct {
	RoomID string
}

type PlayerReadyRequest struct {
	RoomID string
}

type GameStartRequest struct {
	RoomID string
}

type ScoreUpdateRequest struct {
	RoomID string
	Score  float64
}

type GameEndRequest struct {
	RoomID string
}

func (CreateRoomRequest) eventName() string  { return EventCreateRoom }
func (JoinRoomRequest) eventName() string    { return EventJoinRoom }
func (PlayerReadyRequest) eventName() string { return EventPlayerReady }
func (GameStartRequest) eventName() string   { return EventGameStart }
func (ScoreUpdateRequest) eventName() string { return EventScoreUpdate }
func (GameEndRequest) eventName() string     { return EventGameEnd }

// DecodeRequest parses one wire message into its request variant.
//
// joinRoom passes through without a roomId so the lookup can answer with the
// usual "room not found" error event. The fire-and-forget relays require a
// roomId, and scoreUpdate a numeric score; anything else is ErrMalformedEvent.
func DecodeRequest(raw []byte) (Request, error) {
	var msg struct {
		Type   string   `json:"type"`
		RoomID string   `json:"roomId"`
		Score  *float64 `json:"score"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch msg.Type {
	case EventCreateRoom:
		return CreateRoomRequest{}, nil
	case EventJoinRoom:
		return JoinRoomRequest{RoomID: msg.RoomID}, nil
	case EventPlayerReady:
		if msg.RoomID == "" {
			return nil, fmt.Errorf("%w: playerReady missing roomId", ErrMalformedEvent)
		}
		return PlayerReadyRequest{RoomID: msg.RoomID}, nil
	case EventGameStart:
		if msg.RoomID == "" {
			return nil, fmt.Errorf("%w: gameStart missing roomId", ErrMalformedEvent)
		}
		return GameStartRequest{RoomID: msg.RoomID}, nil
	case EventScoreUpdate:
		if msg.RoomID == "" {
			return nil, fmt.Errorf("%w: scoreUpdate missing roomId", ErrMalformedEvent)
		}
		if msg.Score == nil {
			return nil, fmt.Errorf("%w: scoreUpdate score missing or not numeric", ErrMalformedEvent)
		}
		return ScoreUpdateRequest{RoomID: msg.RoomID, Score: *msg.Score}, nil
	case EventGameEnd:
		if msg.RoomID == "" {
			return nil, fmt.Errorf("%w: gameEnd missing roomId", ErrMalformedEvent)
		}
		return GameEndRequest{RoomID: msg.RoomID}, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedEvent, msg.Type)
	}
}

// Outbound payload constructors. Events cross the relay broker as JSON, so
// everything here must survive a marshal round-trip.

func roomCreatedEvent(roomID string) map[string]interface{} {
	return map[string]interface{}{"type": EventRoomCreated, "roomId": roomID}
}

func createRoomErrorEvent(message string) map[string]interface{} {
	return map[string]interface{}{"type": EventCreateRoomError, "message": message}
}

func joinedRoomEvent(roomID string) map[string]interface{} {
	return map[string]interface{}{"type": EventJoinedRoom, "roomId": roomID}
}

func joinRoomErrorEvent(message string) map[string]interface{} {
	return map[string]interface{}{"type": EventJoinRoomError, "message": message}
}

func playerJoinedEvent(p Participant) map[string]interface{} {
	return map[string]interface{}{
		"type":        EventPlayerJoined,
		"playerId":    p.ID,
		"playerName":  p.Name,
		"playerEmail": p.Email,
	}
}

func roomReadyEvent(r *room.Room) map[string]interface{} {
	players := make([]map[string]interface{}, 0, len(r.Members))
	for _, m := range r.Members {
		players = append(players, map[string]interface{}{
			"id":    m.ID,
			"name":  m.Name,
			"email": m.Email,
			"ready": m.Ready,
		})
	}
	return map[string]interface{}{
		"type":     EventRoomReady,
		"players":  players,
		"canStart": true,
		"hostId":   r.HostID,
	}
}

func opponentReadyEvent(p Participant) map[string]interface{} {
	return map[string]interface{}{
		"type":       EventOpponentReady,
		"playerId":   p.ID,
		"playerName": p.Name,
	}
}

func hostStartTheGameEvent() map[string]interface{} {
	return map[string]interface{}{"type": EventHostStartTheGame}
}

func opponentScoreUpdateEvent(p Participant, score float64, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"type":       EventOpponentScoreUpdate,
		"playerId":   p.ID,
		"playerName": p.Name,
		"score":      score,
		"timestamp":  at.UTC().Format(time.RFC3339),
	}
}

func opponentGameEndEvent(p Participant, at time.Time) map[string]interface{} {
	return map[string]interface{}{
		"type":       EventOpponentGameEnd,
		"playerId":   p.ID,
		"playerName": p.Name,
		"timestamp":  at.UTC().Format(time.RFC3339),
	}
}

func playerDisconnectedEvent(p Participant, isHostDisconnected bool, newHostID string) map[string]interface{} {
	event := map[string]interface{}{
		"type":               EventPlayerDisconnected,
		"playerId":           p.ID,
		"playerName":         p.Name,
		"isHostDisconnected": isHostDisconnected,
	}
	if newHostID != "" {
		event["newHostId"] = newHostID
	}
	return event
}
