// internal/handlers/socket.go
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/YaChuShen/breakfast-bonanza-socket/internal/coordinator"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/middleware"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 30 * time.Second
)

// Socket upgrades the connection and runs the session's read and write pumps
// until the transport closes, then triggers the coordinator's disconnect
// path. Handshake parameters travel in the query string: token (required),
// name, email.
func (s *Server) Socket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr
		p := participantFromQuery(r)
		if p.ID == "" {
			s.log.WithField("remote", remoteAddr).Warn("handshake rejected: no token provided")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: s.cfg.AllowedOrigins,
		})
		if err != nil {
			s.log.Warnf("websocket accept error: %v", err)
			return
		}
		defer conn.Close(websocket.StatusInternalError, "handler finished")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		sess, err := s.coordinator.Connect(p, cancel)
		if err != nil {
			conn.Close(websocket.StatusPolicyViolation, "unauthorized")
			return
		}
		middleware.LogSocketConnect(s.log, remoteAddr, p.ID)

		go s.writePump(ctx, conn, sess)
		readErr := s.readPump(ctx, conn, sess)

		// Transport is gone; run cleanup on a fresh context so a cancelled
		// request context cannot skip the room teardown.
		disconnectCtx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		s.coordinator.Disconnect(disconnectCtx, sess)
		dcancel()
		middleware.LogSocketDisconnect(s.log, remoteAddr, p.ID, readErr)
	}
}

// readPump decodes inbound events and dispatches them until the connection
// closes. Malformed events are dropped with a log line; they never end the
// connection.
func (s *Server) readPump(ctx context.Context, conn *websocket.Conn, sess *coordinator.Session) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if typ != websocket.MessageText {
			continue
		}

		req, err := coordinator.DecodeRequest(data)
		if err != nil {
			if errors.Is(err, coordinator.ErrMalformedEvent) {
				s.log.WithField("participant", sess.Participant.ID).Warnf("dropping event: %v", err)
				continue
			}
			s.log.WithField("participant", sess.Participant.ID).Warnf("decode error: %v", err)
			continue
		}
		s.coordinator.Dispatch(ctx, sess, req)
	}
}

// writePump drains the session's outbound channel onto the wire and keeps
// the connection alive with periodic pings.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, sess *coordinator.Session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sess.Out:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				s.log.WithFields(logrus.Fields{
					"participant": sess.Participant.ID,
					"event":       event["type"],
				}).Warnf("failed to marshal outgoing event: %v", err)
				continue
			}

			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				s.log.WithField("participant", sess.Participant.ID).Warnf("websocket write failed: %v", err)
				return
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				s.log.WithField("participant", sess.Participant.ID).Warnf("ping failed, assuming disconnect: %v", err)
				return
			}
		}
	}
}
