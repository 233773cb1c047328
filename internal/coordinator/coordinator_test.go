package coordinator

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaChuShen/breakfast-bonanza-socket/internal/relay"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/room"
)

func newTestCoordinator(t *testing.T, cfg Config) (*Coordinator, *room.MemoryStore) {
	t.Helper()
	store := room.NewMemoryStore()
	t.Cleanup(store.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	return New(store, relay.NewMemoryBroker(), log, cfg), store
}

func connect(t *testing.T, c *Coordinator, id, name string) *Session {
	t.Helper()
	s, err := c.Connect(Participant{ID: id, Name: name, Email: id + "@example.com"}, nil)
	require.NoError(t, err)
	return s
}

// drain collects everything currently queued on a session. The in-process
// broker delivers synchronously, so after Dispatch returns the channel holds
// every event the operation produced.
func drain(s *Session) []map[string]interface{} {
	var events []map[string]interface{}
	for {
		select {
		case event, ok := <-s.Out:
			if !ok {
				return events
			}
			events = append(events, event)
		default:
			return events
		}
	}
}

func eventTypes(events []map[string]interface{}) []string {
	types := make([]string, 0, len(events))
	for _, e := range events {
		types = append(types, e["type"].(string))
	}
	return types
}

// createRoomFor runs createRoom and returns the new room id.
func createRoomFor(t *testing.T, c *Coordinator, s *Session) string {
	t.Helper()
	c.Dispatch(context.Background(), s, CreateRoomRequest{})
	events := drain(s)
	require.Len(t, events, 1)
	require.Equal(t, EventRoomCreated, events[0]["type"])
	return events[0]["roomId"].(string)
}

func TestConnectRequiresToken(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{})
	_, err := c.Connect(Participant{Name: "NoToken"}, nil)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestCreateRoom(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")

	roomID := createRoomFor(t, c, alice)
	assert.Len(t, roomID, 6)

	r, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "u1", r.HostID)
	assert.Equal(t, room.StatusWaiting, r.Status)
	require.Len(t, r.Members, 1)
	assert.False(t, r.Members[0].Ready)

	indexed, err := store.ParticipantRoom(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, roomID, indexed)
}

func TestJoinRoomFlow(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")
	bob := connect(t, c, "u2", "Bob")

	roomID := createRoomFor(t, c, alice)
	c.Dispatch(ctx, bob, JoinRoomRequest{RoomID: roomID})

	// The joiner gets joinedRoom then roomReady; the host gets playerJoined
	// then roomReady.
	bobEvents := drain(bob)
	require.Equal(t, []string{EventJoinedRoom, EventRoomReady}, eventTypes(bobEvents))
	assert.Equal(t, roomID, bobEvents[0]["roomId"])

	aliceEvents := drain(alice)
	require.Equal(t, []string{EventPlayerJoined, EventRoomReady}, eventTypes(aliceEvents))
	assert.Equal(t, "u2", aliceEvents[0]["playerId"])
	assert.Equal(t, "Bob", aliceEvents[0]["playerName"])
	assert.Equal(t, "u2@example.com", aliceEvents[0]["playerEmail"])

	ready := aliceEvents[1]
	assert.Equal(t, true, ready["canStart"])
	assert.Equal(t, "u1", ready["hostId"])
	assert.Len(t, ready["players"], 2)

	r, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusReady, r.Status)
	assert.Len(t, r.Members, 2)

	indexed, err := store.ParticipantRoom(ctx, "u2")
	require.NoError(t, err)
	assert.Equal(t, roomID, indexed)
}

func TestJoinRoomNotFound(t *testing.T) {
	c, _ := newTestCoordinator(t, Config{})
	bob := connect(t, c, "u2", "Bob")

	c.Dispatch(context.Background(), bob, JoinRoomRequest{RoomID: "NOPE42"})

	events := drain(bob)
	require.Len(t, events, 1)
	assert.Equal(t, EventJoinRoomError, events[0]["type"])
	assert.Equal(t, "room not found", events[0]["message"])
}

func TestJoinRoomFull(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")
	bob := connect(t, c, "u2", "Bob")
	carol := connect(t, c, "u3", "Carol")

	roomID := createRoomFor(t, c, alice)
	c.Dispatch(ctx, bob, JoinRoomRequest{RoomID: roomID})
	c.Dispatch(ctx, carol, JoinRoomRequest{RoomID: roomID})

	events := drain(carol)
	require.Len(t, events, 1)
	assert.Equal(t, EventJoinRoomError, events[0]["type"])
	assert.Equal(t, "room is full", events[0]["message"])

	r, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Len(t, r.Members, room.MaxMembers)
}

func TestJoinRoomAlreadyIn(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")

	roomID := createRoomFor(t, c, alice)
	c.Dispatch(ctx, alice, JoinRoomRequest{RoomID: roomID})

	events := drain(alice)
	require.Len(t, events, 1)
	assert.Equal(t, EventJoinRoomError, events[0]["type"])
	assert.Equal(t, "you are already in the room", events[0]["message"])

	// No duplicate membership.
	r, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Len(t, r.Members, 1)
}

// Two participants racing for the last slot: exactly one join succeeds.
func TestConcurrentJoinOneWinner(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")
	bob := connect(t, c, "u2", "Bob")
	carol := connect(t, c, "u3", "Carol")

	roomID := createRoomFor(t, c, alice)

	var wg sync.WaitGroup
	for _, s := range []*Session{bob, carol} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Dispatch(ctx, s, JoinRoomRequest{RoomID: roomID})
		}()
	}
	wg.Wait()

	var joined, rejected int
	for _, s := range []*Session{bob, carol} {
		for _, event := range drain(s) {
			switch event["type"] {
			case EventJoinedRoom:
				joined++
			case EventJoinRoomError:
				assert.Equal(t, "room is full", event["message"])
				rejected++
			}
		}
	}
	assert.Equal(t, 1, joined)
	assert.Equal(t, 1, rejected)

	r, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Len(t, r.Members, room.MaxMembers)
}

func TestPlayerReadyRelay(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")
	bob := connect(t, c, "u2", "Bob")

	roomID := createRoomFor(t, c, alice)
	c.Dispatch(ctx, bob, JoinRoomRequest{RoomID: roomID})
	drain(alice)
	drain(bob)

	c.Dispatch(ctx, bob, PlayerReadyRequest{RoomID: roomID})

	aliceEvents := drain(alice)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, EventOpponentReady, aliceEvents[0]["type"])
	assert.Equal(t, "u2", aliceEvents[0]["playerId"])
	// Never echoed to the sender.
	assert.Empty(t, drain(bob))
}

func TestGameStartBroadcastIncludesSender(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")
	bob := connect(t, c, "u2", "Bob")

	roomID := createRoomFor(t, c, alice)
	c.Dispatch(ctx, bob, JoinRoomRequest{RoomID: roomID})
	drain(alice)
	drain(bob)

	c.Dispatch(ctx, alice, GameStartRequest{RoomID: roomID})

	for _, s := range []*Session{alice, bob} {
		events := drain(s)
		require.Len(t, events, 1)
		assert.Equal(t, EventHostStartTheGame, events[0]["type"])
	}

	// Start is a pure relay; the stored room is untouched.
	r, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Equal(t, room.StatusReady, r.Status)
}

func TestScoreUpdateRelaysToOpponentOnly(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")
	bob := connect(t, c, "u2", "Bob")

	roomID := createRoomFor(t, c, alice)
	c.Dispatch(ctx, bob, JoinRoomRequest{RoomID: roomID})
	drain(alice)
	drain(bob)

	c.Dispatch(ctx, bob, ScoreUpdateRequest{RoomID: roomID, Score: 150})

	aliceEvents := drain(alice)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, EventOpponentScoreUpdate, aliceEvents[0]["type"])
	assert.Equal(t, float64(150), aliceEvents[0]["score"])
	assert.Equal(t, "u2", aliceEvents[0]["playerId"])
	assert.NotEmpty(t, aliceEvents[0]["timestamp"])

	assert.Empty(t, drain(bob))
}

func TestGameEndRelay(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")
	bob := connect(t, c, "u2", "Bob")

	roomID := createRoomFor(t, c, alice)
	c.Dispatch(ctx, bob, JoinRoomRequest{RoomID: roomID})
	drain(alice)
	drain(bob)

	c.Dispatch(ctx, bob, GameEndRequest{RoomID: roomID})

	aliceEvents := drain(alice)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, EventOpponentGameEnd, aliceEvents[0]["type"])
	assert.Equal(t, "Bob", aliceEvents[0]["playerName"])

	// The room survives game end; a fresh start could be issued.
	r, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Len(t, r.Members, 2)
}

func TestDisconnectSoleOccupantDeletesRoom(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")

	roomID := createRoomFor(t, c, alice)
	c.Disconnect(ctx, alice)

	r, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Nil(t, r)

	indexed, err := store.ParticipantRoom(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, indexed)
}

func TestDisconnectHostNotifiesRemaining(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")
	bob := connect(t, c, "u2", "Bob")

	roomID := createRoomFor(t, c, alice)
	c.Dispatch(ctx, bob, JoinRoomRequest{RoomID: roomID})
	drain(alice)
	drain(bob)

	c.Disconnect(ctx, alice)

	bobEvents := drain(bob)
	require.Len(t, bobEvents, 1)
	assert.Equal(t, EventPlayerDisconnected, bobEvents[0]["type"])
	assert.Equal(t, "u1", bobEvents[0]["playerId"])
	assert.Equal(t, true, bobEvents[0]["isHostDisconnected"])

	r, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Len(t, r.Members, 1)
	assert.Equal(t, room.StatusWaiting, r.Status)
	// Promotion is off by default: the host stays the original creator.
	assert.Equal(t, "u1", r.HostID)
}

func TestDisconnectNonHost(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")
	bob := connect(t, c, "u2", "Bob")

	roomID := createRoomFor(t, c, alice)
	c.Dispatch(ctx, bob, JoinRoomRequest{RoomID: roomID})
	drain(alice)
	drain(bob)

	c.Disconnect(ctx, bob)

	aliceEvents := drain(alice)
	require.Len(t, aliceEvents, 1)
	assert.Equal(t, EventPlayerDisconnected, aliceEvents[0]["type"])
	assert.Equal(t, false, aliceEvents[0]["isHostDisconnected"])
}

func TestHostPromotionOnDisconnect(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{HostPromotion: true})
	alice := connect(t, c, "u1", "Alice")
	bob := connect(t, c, "u2", "Bob")

	roomID := createRoomFor(t, c, alice)
	c.Dispatch(ctx, bob, JoinRoomRequest{RoomID: roomID})
	drain(alice)
	drain(bob)

	c.Disconnect(ctx, alice)

	bobEvents := drain(bob)
	require.Len(t, bobEvents, 1)
	assert.Equal(t, true, bobEvents[0]["isHostDisconnected"])
	assert.Equal(t, "u2", bobEvents[0]["newHostId"])

	r, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "u2", r.HostID)
}

// A disconnect racing a room that is already gone is a clean no-op.
func TestDisconnectRoomAlreadyGone(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")

	roomID := createRoomFor(t, c, alice)
	require.NoError(t, store.DeleteRoom(ctx, roomID))

	c.Disconnect(ctx, alice)

	indexed, err := store.ParticipantRoom(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, indexed)
}

func TestDisconnectWithoutRoom(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")

	c.Disconnect(ctx, alice)
	assert.Zero(t, c.Stats(ctx).ConnectedClients)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")
	connect(t, c, "u2", "Bob")

	createRoomFor(t, c, alice)

	st := c.Stats(ctx)
	assert.Equal(t, 2, st.ConnectedClients)
	assert.Equal(t, 1, st.RoomsCount)
	assert.True(t, st.StoreConnected)
}

func TestCloseAll(t *testing.T) {
	ctx := context.Background()
	c, store := newTestCoordinator(t, Config{})
	alice := connect(t, c, "u1", "Alice")
	roomID := createRoomFor(t, c, alice)

	c.CloseAll(ctx)

	assert.Zero(t, c.Stats(ctx).ConnectedClients)
	r, err := store.GetRoom(ctx, roomID)
	require.NoError(t, err)
	assert.Nil(t, r)
}
