package main

import (
	"errors"
	"flag"
	"log"

	"github.com/mahaj/venue-support/pkg/config"
	"github.com/mahaj/venue-support/pkg/db"
)

func main() {
	table := flag.String("table", "support_messages", "table to drop")
	flag.Parse()

	cfg, err := config.LoadServer()
	if err != nil && !errors.Is(err, config.ErrMissingSecret) {
		log.Fatal(err)
	}

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, config.NewLogger("drop-table", cfg.LogLevel, ""))
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	log.Printf("Dropping table %s...", *table)
	if err := db.DropTable(session, *table); err != nil {
		log.Fatalf("Failed to drop table: %v", err)
	}
	log.Println("Table dropped successfully.")
}
