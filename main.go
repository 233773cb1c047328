package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/YaChuShen/breakfast-bonanza-socket/internal/config"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/coordinator"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/handlers"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/relay"
	"github.com/YaChuShen/breakfast-bonanza-socket/internal/room"
)

func main() {
	cfg := config.Load()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	// REDIS_URL switches between single-instance (in-memory store, local
	// fan-out) and multi-instance (shared store, pub/sub fan-out) modes.
	var (
		store       room.Store
		broker      relay.Broker
		redisClient *redis.Client
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("invalid REDIS_URL: %v", err)
		}
		redisClient = redis.NewClient(opts)

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			// Keep serving; the health endpoint reports the degraded state.
			logger.Warnf("redis unreachable at startup: %v", err)
		}
		cancel()

		store = room.NewRedisStore(redisClient)
		broker = relay.NewRedisBroker(redisClient, logger)
		logger.Info("shared store enabled (redis)")
	} else {
		memStore := room.NewMemoryStore()
		defer memStore.Close()
		store = memStore
		broker = relay.NewMemoryBroker()
		logger.Warn("REDIS_URL not set - running single-instance with in-memory store")
	}

	coord := coordinator.New(store, broker, logger, coordinator.Config{
		RoomTTL:       cfg.RoomTTL,
		HostPromotion: cfg.HostPromotion,
	})

	srv := handlers.NewServer(coord, cfg, logger)
	defer srv.Close()

	server := &http.Server{
		Handler:     srv.Router(),
		ReadTimeout: cfg.HandshakeTimeout,
		// The write timeout must outlast a full long-poll wait.
		WriteTimeout: cfg.PollWait + cfg.HandshakeTimeout,
	}

	l, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Port))
	if err != nil {
		logger.Fatalf("failed to listen: %v", err)
	}
	logger.Infof("socket server listening on %s", l.Addr())

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(l)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errc:
		logger.Errorf("failed to serve: %v", err)
	case sig := <-sigs:
		logger.Infof("terminating: %v", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	coord.CloseAll(shutdownCtx)
	if err := broker.Close(); err != nil {
		logger.Warnf("broker close: %v", err)
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Warnf("redis close: %v", err)
		}
	}
}
