package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/mahaj/venue-support/pkg/auth"
	"github.com/mahaj/venue-support/pkg/config"
	"github.com/mahaj/venue-support/pkg/db"
	"github.com/mahaj/venue-support/pkg/presence"
	"github.com/mahaj/venue-support/pkg/store"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := config.NewLogger("api", cfg.LogLevel, cfg.LogSink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	issuer, err := auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	srv := NewServer(issuer, store.NewUsers(session), store.NewMessages(session), presence.New(rdb), logger)
	handler := srv.Routes(cfg.CORSOrigins, newMetrics(prometheus.DefaultRegisterer))

	httpSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("api starting", "addr", cfg.APIAddr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
