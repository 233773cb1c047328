// internal/room/store.go
package room

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL bounds how long an inactive room or index entry survives. The
// TTL is a leak guard, not an active timer: nothing tears a room down early.
const DefaultTTL = time.Hour

// Join preconditions surfaced to callers as named error events, checked in
// this order: existence, capacity, membership.
var (
	ErrRoomNotFound  = errors.New("room not found")
	ErrRoomFull      = errors.New("room is full")
	ErrAlreadyInRoom = errors.New("you are already in the room")
)

// UpdateFunc mutates a room inside the store's per-key critical section.
// cur is nil when the room does not exist. Returning a nil room deletes the
// key; returning an error aborts the update and propagates unchanged.
type UpdateFunc func(cur *Room) (*Room, error)

// Store holds rooms and the participant->room index for the lifetime of a
// match. Every operation is atomic with respect to the others for a given
// key; UpdateRoom is the read-modify-write section handlers rely on so that
// two racing joins can never both append.
type Store interface {
	// GetRoom returns nil with no error on a miss; the caller decides.
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	// PutRoom upserts and refreshes the TTL.
	PutRoom(ctx context.Context, roomID string, r *Room, ttl time.Duration) error
	// DeleteRoom is idempotent.
	DeleteRoom(ctx context.Context, roomID string) error
	// UpdateRoom runs fn atomically against the current room value and
	// stores (or deletes) the result. Returns the stored room, nil if the
	// update deleted it.
	UpdateRoom(ctx context.Context, roomID string, ttl time.Duration, fn UpdateFunc) (*Room, error)

	// ParticipantRoom returns "" with no error on a miss.
	ParticipantRoom(ctx context.Context, participantID string) (string, error)
	SetParticipantRoom(ctx context.Context, participantID, roomID string, ttl time.Duration) error
	DeleteParticipantRoom(ctx context.Context, participantID string) error

	// CountRooms reports live room keys for the status query.
	CountRooms(ctx context.Context) (int, error)
	// Ping reports backing-store liveness for the status query.
	Ping(ctx context.Context) error
}
