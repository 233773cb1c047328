// internal/handlers/health.go
package handlers

import (
	"net/http"
	"runtime"
	"time"
)

// Health reports the operational snapshot used by external monitors and the
// load-test scripts. It must answer even when the shared store is
// unreachable: the store flag flips to degraded instead of erroring.
func (s *Server) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := s.coordinator.Stats(r.Context())

		status := "healthy"
		if !stats.StoreConnected {
			status = "degraded"
		}

		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": status,
			"uptime": time.Since(s.started).Seconds(),
			"memory": map[string]interface{}{
				"alloc": mem.Alloc,
				"sys":   mem.Sys,
				"numGC": mem.NumGC,
			},
			"connectedClients": stats.ConnectedClients,
			"roomsCount":       stats.RoomsCount,
			"storeConnected":   stats.StoreConnected,
		})
	}
}

// Test is a plain smoke endpoint kept for the deployment's uptime monitors.
func (s *Server) Test() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats := s.coordinator.Stats(r.Context())
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":           "OK",
			"message":          "Socket server is running",
			"timestamp":        time.Now().UTC().Format(time.RFC3339),
			"connectedClients": stats.ConnectedClients,
			"storeConnected":   stats.StoreConnected,
		})
	}
}
