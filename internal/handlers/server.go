// internal/handlers/server.go
package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/sirupsen/logrus"

	"github.com/YaChuShen/breakfast-bonanza-socket/internal/config"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/coordinator"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/middleware"
)

// Server exposes the coordinator over its HTTP transports: the websocket
// endpoint, the long-polling fallback, and the status endpoints.
type Server struct {
	coordinator *coordinator.Coordinator
	cfg         *config.Config
	log         *logrus.Logger
	polls       *pollRegistry
	started     time.Time
}

func NewServer(c *coordinator.Coordinator, cfg *config.Config, log *logrus.Logger) *Server {
	s := &Server{
		coordinator: c,
		cfg:         cfg,
		log:         log,
		started:     time.Now(),
	}
	s.polls = newPollRegistry(c, log, cfg.PollSessionTimeout)
	return s
}

// Close stops the poll registry's reaper and disconnects polling clients.
func (s *Server) Close() {
	s.polls.close()
}

// Router builds the HTTP surface. The websocket endpoint sits outside the
// rate limiter; everything else is plain HTTP and gets per-IP limits.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(middleware.LogMiddleware(s.log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE"},
		AllowCredentials: true,
	}))

	r.Get("/socket", s.Socket())

	r.Group(func(r chi.Router) {
		r.Use(httprate.Limit(120, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP, httprate.KeyByEndpoint)))

		r.Get("/health", s.Health())
		r.Get("/test", s.Test())

		r.Post("/poll", s.PollConnect())
		r.Get("/poll/{sid}", s.PollEvents())
		r.Post("/poll/{sid}", s.PollSubmit())
		r.Delete("/poll/{sid}", s.PollDisconnect())
	})

	return r
}

// participantFromQuery reads the handshake parameters. An empty token means
// the handshake must be rejected before any room logic runs.
func participantFromQuery(r *http.Request) coordinator.Participant {
	q := r.URL.Query()
	return coordinator.Participant{
		ID:    q.Get("token"),
		Name:  q.Get("name"),
		Email: q.Get("email"),
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
