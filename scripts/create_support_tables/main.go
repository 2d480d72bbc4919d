package main

import (
	"errors"
	"flag"
	"log"

	"github.com/mahaj/venue-support/pkg/config"
	"github.com/mahaj/venue-support/pkg/db"
)

func main() {
	replication := flag.Int("replication", 1, "replication factor for a new keyspace")
	flag.Parse()

	cfg, err := config.LoadServer()
	if err != nil && !errors.Is(err, config.ErrMissingSecret) {
		log.Fatal(err)
	}
	logger := config.NewLogger("create-support-tables", cfg.LogLevel, "")

	sys, err := db.NewSession(cfg.ScyllaHosts, "system", logger)
	if err != nil {
		log.Fatal(err)
	}
	if err := db.EnsureKeyspace(sys, cfg.Keyspace, *replication); err != nil {
		log.Fatal(err)
	}
	sys.Close()

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer session.Close()

	if err := db.EnsureSchema(session, logger); err != nil {
		log.Fatal(err)
	}
	log.Printf("Support tables ready in keyspace %s", cfg.Keyspace)
}
