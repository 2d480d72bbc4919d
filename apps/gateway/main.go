package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mahaj/venue-support/pkg/auth"
	"github.com/mahaj/venue-support/pkg/config"
	"github.com/mahaj/venue-support/pkg/db"
	"github.com/mahaj/venue-support/pkg/presence"
	"github.com/mahaj/venue-support/pkg/snowflake"
	"github.com/mahaj/venue-support/pkg/store"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := config.NewLogger("gateway", cfg.LogLevel, cfg.LogSink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	// In production, node ID must be unique per gateway instance.
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		log.Fatalf("Failed to initialize snowflake node: %v", err)
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	broker := newKafkaBroker(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	defer broker.Close()

	hub := NewHub(broker, presence.New(rdb), node, logger)
	go hub.Run(ctx)

	gateway := NewGateway(hub, issuer, store.NewUsers(session), cfg.SendRate, cfg.SendBurst, logger)

	mux := http.NewServeMux()
	mux.Handle("/support/ws", gateway)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.GatewayAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("gateway starting", "addr", cfg.GatewayAddr, "topic", cfg.KafkaTopic)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
