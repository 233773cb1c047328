// internal/handlers/poll.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/YaChuShen/breakfast-bonanza-socket/internal/coordinator"
)

// maxPollBatch caps how many queued events one poll response returns.
const maxPollBatch = 32

// pollSession is one long-poll client: the same coordinator session a
// websocket client gets, drained by GET requests instead of a write pump.
type pollSession struct {
	sess     *coordinator.Session
	lastSeen time.Time
}

// pollRegistry tracks long-poll sessions and reaps the ones that stop
// polling, which is the fallback transport's notion of a dropped connection.
type pollRegistry struct {
	coordinator *coordinator.Coordinator
	log         *logrus.Logger
	timeout     time.Duration

	mu       sync.Mutex
	sessions map[string]*pollSession

	done      chan struct{}
	closeOnce sync.Once
}

func newPollRegistry(c *coordinator.Coordinator, log *logrus.Logger, timeout time.Duration) *pollRegistry {
	r := &pollRegistry{
		coordinator: c,
		log:         log,
		timeout:     timeout,
		sessions:    make(map[string]*pollSession),
		done:        make(chan struct{}),
	}
	go r.reap()
	return r
}

func (r *pollRegistry) add(sess *coordinator.Session) string {
	sid := uuid.NewString()
	r.mu.Lock()
	r.sessions[sid] = &pollSession{sess: sess, lastSeen: time.Now()}
	r.mu.Unlock()
	return sid
}

// touch refreshes the inactivity clock and returns the session, nil if the
// sid is unknown.
func (r *pollRegistry) touch(sid string) *coordinator.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	ps.lastSeen = time.Now()
	return ps.sess
}

func (r *pollRegistry) remove(sid string) *coordinator.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	ps, ok := r.sessions[sid]
	if !ok {
		return nil
	}
	delete(r.sessions, sid)
	return ps.sess
}

// reap disconnects sessions whose clients stopped polling.
func (r *pollRegistry) reap() {
	interval := r.timeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case now := <-ticker.C:
			var expired []*coordinator.Session
			r.mu.Lock()
			for sid, ps := range r.sessions {
				if now.Sub(ps.lastSeen) > r.timeout {
					delete(r.sessions, sid)
					expired = append(expired, ps.sess)
				}
			}
			r.mu.Unlock()

			for _, sess := range expired {
				r.log.WithField("participant", sess.Participant.ID).Info("poll session timed out")
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				r.coordinator.Disconnect(ctx, sess)
				cancel()
			}
		}
	}
}

func (r *pollRegistry) close() {
	r.closeOnce.Do(func() { close(r.done) })

	r.mu.Lock()
	remaining := make([]*coordinator.Session, 0, len(r.sessions))
	for sid, ps := range r.sessions {
		delete(r.sessions, sid)
		remaining = append(remaining, ps.sess)
	}
	r.mu.Unlock()

	for _, sess := range remaining {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		r.coordinator.Disconnect(ctx, sess)
		cancel()
	}
}

// PollConnect is the fallback handshake. Same contract as the websocket
// handshake: a missing token fails closed before any room logic runs.
func (s *Server) PollConnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p := participantFromQuery(r)
		if p.ID == "" {
			s.log.WithField("remote", r.RemoteAddr).Warn("poll handshake rejected: no token provided")
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"message": "unauthorized"})
			return
		}

		sess, err := s.coordinator.Connect(p, nil)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"message": "unauthorized"})
			return
		}
		sid := s.polls.add(sess)
		writeJSON(w, http.StatusCreated, map[string]interface{}{"sid": sid})
	}
}

// PollEvents blocks up to the configured wait for outbound events and
// returns whatever has queued, oldest first.
func (s *Server) PollEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := chi.URLParam(r, "sid")
		sess := s.polls.touch(sid)
		if sess == nil {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "unknown session"})
			return
		}

		events := make([]map[string]interface{}, 0, maxPollBatch)
		wait := time.NewTimer(s.cfg.PollWait)
		defer wait.Stop()

		select {
		case event, ok := <-sess.Out:
			if !ok {
				s.polls.remove(sid)
				writeJSON(w, http.StatusGone, map[string]interface{}{"message": "session closed"})
				return
			}
			events = append(events, event)
		case <-wait.C:
		case <-r.Context().Done():
		}

		// Batch up anything else already queued.
	drain:
		for len(events) < maxPollBatch {
			select {
			case event, ok := <-sess.Out:
				if !ok {
					break drain
				}
				events = append(events, event)
			default:
				break drain
			}
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
	}
}

// PollSubmit accepts inbound events: a single object or an array of them.
// Malformed events are dropped with a log line, matching the websocket path.
func (s *Server) PollSubmit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := chi.URLParam(r, "sid")
		sess := s.polls.touch(sid)
		if sess == nil {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "unknown session"})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{"message": "unreadable body"})
			return
		}

		var raws []json.RawMessage
		if err := json.Unmarshal(body, &raws); err != nil {
			// Not an array; treat the body as a single event.
			raws = []json.RawMessage{body}
		}

		for _, raw := range raws {
			req, err := coordinator.DecodeRequest(raw)
			if err != nil {
				if errors.Is(err, coordinator.ErrMalformedEvent) {
					s.log.WithField("participant", sess.Participant.ID).Warnf("dropping event: %v", err)
					continue
				}
				s.log.WithField("participant", sess.Participant.ID).Warnf("decode error: %v", err)
				continue
			}
			s.coordinator.Dispatch(r.Context(), sess, req)
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// PollDisconnect is the explicit goodbye; it runs the same teardown as a
// websocket closure.
func (s *Server) PollDisconnect() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sid := chi.URLParam(r, "sid")
		sess := s.polls.remove(sid)
		if sess == nil {
			writeJSON(w, http.StatusNotFound, map[string]interface{}{"message": "unknown session"})
			return
		}
		s.coordinator.Disconnect(r.Context(), sess)
		w.WriteHeader(http.StatusNoContent)
	}
}
