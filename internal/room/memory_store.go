// internal/room/memory_store.go
package room

import (
	"context"
	"sync"
	"time"
)

const sweepInterval = time.Minute

type roomEntry struct {
	room      *Room
	expiresAt time.Time
}

type indexEntry struct {
	roomID    string
	expiresAt time.Time
}

// MemoryStore is the single-instance Store: a mutex-guarded map with lazy TTL
// checks on access and a background sweeper for abandoned keys. A single
// store-wide mutex makes every operation, including UpdateRoom, a critical
// section.
type MemoryStore struct {
	mu    sync.Mutex
	rooms map[string]roomEntry
	index map[string]indexEntry

	done      chan struct{}
	closeOnce sync.Once
}

// NewMemoryStore initializes an empty store and starts its sweeper.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{
		rooms: make(map[string]roomEntry),
		index: make(map[string]indexEntry),
		done:  make(chan struct{}),
	}
	go s.sweep()
	return s
}

// Close stops the sweeper. Safe to call more than once.
func (s *MemoryStore) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for id, e := range s.rooms {
				if now.After(e.expiresAt) {
					delete(s.rooms, id)
				}
			}
			for id, e := range s.index {
				if now.After(e.expiresAt) {
					delete(s.index, id)
				}
			}
			s.mu.Unlock()
		}
	}
}

// liveRoom returns the current unexpired room or nil. Caller holds s.mu.
func (s *MemoryStore) liveRoom(roomID string) *Room {
	e, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if time.Now().After(e.expiresAt) {
		delete(s.rooms, roomID)
		return nil
	}
	return e.room
}

func (s *MemoryStore) GetRoom(_ context.Context, roomID string) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveRoom(roomID).Clone(), nil
}

func (s *MemoryStore) PutRoom(_ context.Context, roomID string, r *Room, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rooms[roomID] = roomEntry{room: r.Clone(), expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, roomID)
	return nil
}

func (s *MemoryStore) UpdateRoom(_ context.Context, roomID string, ttl time.Duration, fn UpdateFunc) (*Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.liveRoom(roomID).Clone())
	if err != nil {
		return nil, err
	}
	if next == nil {
		delete(s.rooms, roomID)
		return nil, nil
	}
	s.rooms[roomID] = roomEntry{room: next.Clone(), expiresAt: time.Now().Add(ttl)}
	return next, nil
}

func (s *MemoryStore) ParticipantRoom(_ context.Context, participantID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.index[participantID]
	if !ok {
		return "", nil
	}
	if time.Now().After(e.expiresAt) {
		delete(s.index, participantID)
		return "", nil
	}
	return e.roomID, nil
}

func (s *MemoryStore) SetParticipantRoom(_ context.Context, participantID, roomID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[participantID] = indexEntry{roomID: roomID, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) DeleteParticipantRoom(_ context.Context, participantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index, participantID)
	return nil
}

func (s *MemoryStore) CountRooms(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	n := 0
	for id, e := range s.rooms {
		if now.After(e.expiresAt) {
			delete(s.rooms, id)
			continue
		}
		n++
	}
	return n, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
