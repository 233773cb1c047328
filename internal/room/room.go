// internal/room/room.go
package room

import (
	"math/rand/v2"
	"time"
)

// Room status values. Status mirrors the lifecycle for clients but is
// advisory: the server never enforces it against further transitions.
const (
	StatusWaiting = "waiting" // one member, waiting for an opponent
	StatusReady   = "ready"   // two members, host may start
	StatusPlaying = "playing" // start signal sent; never persisted
)

// MaxMembers caps a room at exactly two players.
const MaxMembers = 2

// Member is a participant's summary inside a room.
type Member struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Ready bool   `json:"ready"` // reserved; always false in v1
}

// Room is the rendezvous unit for one two-player match.
type Room struct {
	ID        string    `json:"roomId"`
	HostID    string    `json:"hostId"`
	HostName  string    `json:"hostName,omitempty"`
	Members   []Member  `json:"members"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// New creates a waiting room with the given host as its sole member.
func New(id string, host Member) *Room {
	return &Room{
		ID:        id,
		HostID:    host.ID,
		HostName:  host.Name,
		Members:   []Member{host},
		Status:    StatusWaiting,
		CreatedAt: time.Now().UTC(),
	}
}

// Clone returns a deep copy so store callers can mutate freely.
func (r *Room) Clone() *Room {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Members = make([]Member, len(r.Members))
	copy(cp.Members, r.Members)
	return &cp
}

// HasMember reports whether the participant is already in the room.
func (r *Room) HasMember(id string) bool {
	for _, m := range r.Members {
		if m.ID == id {
			return true
		}
	}
	return false
}

// IsFull reports whether the room has reached its member cap.
func (r *Room) IsFull() bool {
	return len(r.Members) >= MaxMembers
}

// AddMember appends a member. Callers check HasMember/IsFull first.
func (r *Room) AddMember(m Member) {
	r.Members = append(r.Members, m)
}

// RemoveMember removes the participant from the member list, reporting
// whether anything changed.
func (r *Room) RemoveMember(id string) bool {
	for i, m := range r.Members {
		if m.ID == id {
			r.Members = append(r.Members[:i], r.Members[i+1:]...)
			return true
		}
	}
	return false
}

// codeAlphabet keeps room codes easy to read aloud: upper-case alphanumerics.
var codeAlphabet = []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

const codeLength = 6

// NewCode returns a fresh 6-character room code. Collisions are improbable
// enough that callers retry instead of reserving codes up front.
func NewCode() string {
	code := make([]byte, codeLength)
	for i := range code {
		code[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(code)
}
