package handlers

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/YaChuShen/breakfast-bonanza-socket/internal/config"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/coordinator"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/relay"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/room"
)

// newTestServer wires a coordinator onto an httptest server with short poll
// waits so tests never sit out a full long-poll window.
func newTestServer(t *testing.T) (*httptest.Server, *room.MemoryStore) {
	t.Helper()

	store := room.NewMemoryStore()
	t.Cleanup(store.Close)

	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{
		Port:               "0",
		AllowedOrigins:     []string{"*"},
		RoomTTL:            time.Hour,
		HandshakeTimeout:   10 * time.Second,
		PollWait:           100 * time.Millisecond,
		PollSessionTimeout: time.Minute,
	}

	coord := coordinator.New(store, relay.NewMemoryBroker(), log, coordinator.Config{RoomTTL: cfg.RoomTTL})
	srv := NewServer(coord, cfg, log)
	t.Cleanup(srv.Close)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, store
}
