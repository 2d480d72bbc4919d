package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

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
	logger := config.NewLogger("messaging", cfg.LogLevel, cfg.LogSink)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Schema creation belongs to a migration tool in production. The
	// messaging service owns the tables, so it makes sure they exist.
	sysSession, err := db.NewSession(cfg.ScyllaHosts, "system", logger)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB system keyspace: %v", err)
	}
	if err := db.EnsureKeyspace(sysSession, cfg.Keyspace, 1); err != nil {
		log.Fatalf("Failed to create keyspace: %v", err)
	}
	sysSession.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB %s keyspace: %v", cfg.Keyspace, err)
	}
	defer session.Close()

	if err := db.EnsureSchema(session, logger); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	consumer := NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.ConsumerGroup, store.NewMessages(session), presence.New(rdb), logger)
	defer consumer.Close()

	logger.Info("starting consumer", "topic", cfg.KafkaTopic, "group", cfg.ConsumerGroup)
	consumer.Consume(ctx)
}
