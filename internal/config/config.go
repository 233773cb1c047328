// internal/config/config.go
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the environment-driven settings for the socket server.
type Config struct {
	// Port is the TCP listen port.
	Port string
	// AllowedOrigins is the cross-origin allow-list applied to both the
	// websocket handshake and the HTTP surface. Empty CORS_ORIGIN means
	// allow any origin, the development default.
	AllowedOrigins []string
	// RedisURL enables the shared store and cross-instance fan-out.
	// Absent means single-instance mode.
	RedisURL string
	// RoomTTL bounds inactive room and index entries.
	RoomTTL time.Duration
	// HandshakeTimeout bounds an unauthenticated connection attempt.
	HandshakeTimeout time.Duration
	// PollWait is how long a long-poll read blocks waiting for events.
	PollWait time.Duration
	// PollSessionTimeout is the inactivity window after which a polling
	// client counts as disconnected.
	PollSessionTimeout time.Duration
	// HostPromotion promotes the oldest remaining member to host when the
	// host disconnects.
	HostPromotion bool
	LogLevel      string
}

// Load reads the process environment. Defaults suit a local
// single-instance run.
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "3001"),
		AllowedOrigins:     splitOrigins(os.Getenv("CORS_ORIGIN")),
		RedisURL:           os.Getenv("REDIS_URL"),
		RoomTTL:            getEnvDuration("ROOM_TTL", time.Hour),
		HandshakeTimeout:   getEnvDuration("HANDSHAKE_TIMEOUT", 10*time.Second),
		PollWait:           getEnvDuration("POLL_WAIT", 25*time.Second),
		PollSessionTimeout: getEnvDuration("POLL_SESSION_TIMEOUT", time.Minute),
		HostPromotion:      getEnvBool("HOST_PROMOTION", false),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func getEnvBool(key string, def bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}
