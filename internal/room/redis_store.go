// internal/room/redis_store.go
package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix        = "room:"
	participantKeyPrefix = "participant-room:"

	// maxTxRetries bounds optimistic-transaction retries when another
	// instance touches the same room between WATCH and EXEC.
	maxTxRetries = 8
)

// RedisStore is the multi-instance Store. Rooms are JSON values under
// "room:<id>" with a server-side TTL; UpdateRoom uses WATCH/MULTI so the
// read-modify-write stays atomic across instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore wraps an already-connected client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func roomKey(roomID string) string {
	return roomKeyPrefix + roomID
}

func participantKey(participantID string) string {
	return participantKeyPrefix + participantID
}

func decodeRoom(data string) (*Room, error) {
	var r Room
	if err := json.Unmarshal([]byte(data), &r); err != nil {
		return nil, fmt.Errorf("decode room record: %w", err)
	}
	return &r, nil
}

func (s *RedisStore) GetRoom(ctx context.Context, roomID string) (*Room, error) {
	data, err := s.client.Get(ctx, roomKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get room %s: %w", roomID, err)
	}
	return decodeRoom(data)
}

func (s *RedisStore) PutRoom(ctx context.Context, roomID string, r *Room, ttl time.Duration) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode room %s: %w", roomID, err)
	}
	if err := s.client.Set(ctx, roomKey(roomID), data, ttl).Err(); err != nil {
		return fmt.Errorf("put room %s: %w", roomID, err)
	}
	return nil
}

func (s *RedisStore) DeleteRoom(ctx context.Context, roomID string) error {
	if err := s.client.Del(ctx, roomKey(roomID)).Err(); err != nil {
		return fmt.Errorf("delete room %s: %w", roomID, err)
	}
	return nil
}

func (s *RedisStore) UpdateRoom(ctx context.Context, roomID string, ttl time.Duration, fn UpdateFunc) (*Room, error) {
	key := roomKey(roomID)
	var result *Room

	txn := func(tx *redis.Tx) error {
		var cur *Room
		data, err := tx.Get(ctx, key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			// room absent; fn decides
		case err != nil:
			return err
		default:
			if cur, err = decodeRoom(data); err != nil {
				return err
			}
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		result = next

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, key)
				return nil
			}
			encoded, err := json.Marshal(next)
			if err != nil {
				return err
			}
			pipe.Set(ctx, key, encoded, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return result, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue // key changed under us; re-run fn against the new value
		}
		return nil, err
	}
	return nil, fmt.Errorf("update room %s: %w", roomID, redis.TxFailedErr)
}

func (s *RedisStore) ParticipantRoom(ctx context.Context, participantID string) (string, error) {
	roomID, err := s.client.Get(ctx, participantKey(participantID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get participant room %s: %w", participantID, err)
	}
	return roomID, nil
}

func (s *RedisStore) SetParticipantRoom(ctx context.Context, participantID, roomID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, participantKey(participantID), roomID, ttl).Err(); err != nil {
		return fmt.Errorf("set participant room %s: %w", participantID, err)
	}
	return nil
}

func (s *RedisStore) DeleteParticipantRoom(ctx context.Context, participantID string) error {
	if err := s.client.Del(ctx, participantKey(participantID)).Err(); err != nil {
		return fmt.Errorf("delete participant room %s: %w", participantID, err)
	}
	return nil
}

func (s *RedisStore) CountRooms(ctx context.Context) (int, error) {
	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, roomKeyPrefix+"*", 100).Result()
		if err != nil {
			return 0, fmt.Errorf("count rooms: %w", err)
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count, nil
		}
	}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
