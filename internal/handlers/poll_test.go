package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YaChuShen/breakfast-bonanza-socket/internal/config"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/coordinator"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/relay"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/room"
)

func pollConnect(t *testing.T, ts string, query string) (string, int) {
	t.Helper()
	resp, err := http.Post(ts+"/poll?"+query, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return "", resp.StatusCode
	}
	var body struct {
		SID string `json:"sid"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.SID, resp.StatusCode
}

func pollSubmit(t *testing.T, ts, sid string, payload interface{}) int {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(ts+"/poll/"+sid, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func pollEvents(t *testing.T, ts, sid string) []map[string]interface{} {
	t.Helper()
	resp, err := http.Get(ts + "/poll/" + sid)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Events []map[string]interface{} `json:"events"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body.Events
}

func TestPollConnectRequiresToken(t *testing.T) {
	ts, _ := newTestServer(t)
	_, status := pollConnect(t, ts.URL, "name=Nobody")
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestPollLifecycle(t *testing.T) {
	ts, store := newTestServer(t)

	sid, status := pollConnect(t, ts.URL, "token=u1&name=Alice")
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, sid)

	// Create a room through the fallback transport.
	status = pollSubmit(t, ts.URL, sid, map[string]interface{}{"type": "createRoom"})
	require.Equal(t, http.StatusNoContent, status)

	events := pollEvents(t, ts.URL, sid)
	require.Len(t, events, 1)
	require.Equal(t, "roomCreated", events[0]["type"])
	roomID := events[0]["roomId"].(string)

	r, err := store.GetRoom(t.Context(), roomID)
	require.NoError(t, err)
	require.NotNil(t, r)
	assert.Equal(t, "u1", r.HostID)

	// Explicit goodbye tears the room down.
	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/poll/"+sid, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	r, err = store.GetRoom(t.Context(), roomID)
	require.NoError(t, err)
	assert.Nil(t, r)

	// The session is gone afterwards.
	resp, err = http.Get(ts.URL + "/poll/" + sid)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPollSubmitBatch(t *testing.T) {
	ts, _ := newTestServer(t)

	hostSID, _ := pollConnect(t, ts.URL, "token=u1&name=Alice")
	require.Equal(t, http.StatusNoContent,
		pollSubmit(t, ts.URL, hostSID, map[string]interface{}{"type": "createRoom"}))
	events := pollEvents(t, ts.URL, hostSID)
	require.Len(t, events, 1)
	roomID := events[0]["roomId"].(string)

	guestSID, _ := pollConnect(t, ts.URL, "token=u2&name=Bob")

	// An array body: join then immediately signal ready.
	batch := []map[string]interface{}{
		{"type": "joinRoom", "roomId": roomID},
		{"type": "playerReady", "roomId": roomID},
	}
	require.Equal(t, http.StatusNoContent, pollSubmit(t, ts.URL, guestSID, batch))

	guestEvents := pollEvents(t, ts.URL, guestSID)
	types := make([]string, 0, len(guestEvents))
	for _, e := range guestEvents {
		types = append(types, e["type"].(string))
	}
	assert.Equal(t, []string{"joinedRoom", "roomReady"}, types)

	hostEvents := pollEvents(t, ts.URL, hostSID)
	types = types[:0]
	for _, e := range hostEvents {
		types = append(types, e["type"].(string))
	}
	assert.Equal(t, []string{"playerJoined", "roomReady", "opponentReady"}, types)
}

func TestPollDropsMalformedEvents(t *testing.T) {
	ts, _ := newTestServer(t)

	sid, _ := pollConnect(t, ts.URL, "token=u1&name=Alice")

	// Non-numeric score: accepted at the transport, dropped at decode.
	status := pollSubmit(t, ts.URL, sid,
		map[string]interface{}{"type": "scoreUpdate", "roomId": "AB12CD", "score": "150"})
	require.Equal(t, http.StatusNoContent, status)

	// Nothing was produced for the sender either.
	assert.Empty(t, pollEvents(t, ts.URL, sid))
}

func TestPollSessionTimeoutDisconnects(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the poll inactivity reaper")
	}

	store := room.NewMemoryStore()
	t.Cleanup(store.Close)
	log := logrus.New()
	log.SetOutput(io.Discard)

	cfg := &config.Config{
		AllowedOrigins: []string{"*"},
		RoomTTL:        time.Hour,
		PollWait:       100 * time.Millisecond,
		// Short enough that the reaper's first tick already sees it expired.
		PollSessionTimeout: 50 * time.Millisecond,
	}
	coord := coordinator.New(store, relay.NewMemoryBroker(), log, coordinator.Config{RoomTTL: cfg.RoomTTL})
	srv := NewServer(coord, cfg, log)
	t.Cleanup(srv.Close)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)

	sid, _ := pollConnect(t, ts.URL, "token=u1&name=Alice")
	require.Equal(t, http.StatusNoContent,
		pollSubmit(t, ts.URL, sid, map[string]interface{}{"type": "createRoom"}))
	events := pollEvents(t, ts.URL, sid)
	require.Len(t, events, 1)
	roomID := events[0]["roomId"].(string)

	// Stop polling; the reaper should run the disconnect path for us.
	require.Eventually(t, func() bool {
		r, err := store.GetRoom(context.Background(), roomID)
		return err == nil && r == nil
	}, 5*time.Second, 100*time.Millisecond, "reaper never cleaned up the abandoned room")

	resp, err := http.Get(ts.URL + "/poll/" + sid)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPollUnknownSession(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/poll/not-a-session")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	status := pollSubmit(t, ts.URL, "not-a-session", map[string]interface{}{"type": "createRoom"})
	assert.Equal(t, http.StatusNotFound, status)
}
