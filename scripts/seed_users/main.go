package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"github.com/mahaj/venue-support/pkg/config"
	"github.com/mahaj/venue-support/pkg/db"
	"github.com/mahaj/venue-support/pkg/model"
	"github.com/mahaj/venue-support/pkg/snowflake"
	"github.com/mahaj/venue-support/pkg/store"
)

// demo accounts created when no -username is given
var demo = []struct {
	username, password string
	role               model.Role
}{
	{"admin", "admin123", model.RoleAdmin},
	{"staff", "staff123", model.RoleStaff},
	{"alice", "alice123", model.RoleCustomer},
	{"bob", "bob123", model.RoleCustomer},
}

func main() {
	username := flag.String("username", "", "create a single user with this name")
	password := flag.String("password", "", "password for -username")
	role := flag.String("role", "CUSTOMER", "role for -username: CUSTOMER, STAFF or ADMIN")
	flag.Parse()

	cfg, err := config.LoadServer()
	if err != nil && !errors.Is(err, config.ErrMissingSecret) {
		log.Fatal(err)
	}
	logger := config.NewLogger("seed-users", cfg.LogLevel, "")

	session, err := db.NewSession(cfg.ScyllaHosts, cfg.Keyspace, logger)
	if err != nil {
		log.Fatalf("Failed to connect to ScyllaDB: %v", err)
	}
	defer session.Close()

	// node 1023 keeps seeded ids apart from gateway message ids
	node, err := snowflake.NewNode(1023)
	if err != nil {
		log.Fatal(err)
	}
	users := store.NewUsers(session)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	create := func(name, pw string, r model.Role) {
		u, err := users.Create(ctx, node.Generate(), name, pw, r)
		if errors.Is(err, store.ErrExists) {
			log.Printf("%s already exists, skipping", name)
			return
		}
		if err != nil {
			log.Fatalf("Failed to create %s: %v", name, err)
		}
		log.Printf("Created %s (%s) id=%d", u.Username, u.Role, u.ID)
	}

	if *username != "" {
		create(*username, *password, model.ParseRole(*role))
		return
	}
	for _, d := range demo {
		create(d.username, d.password, d.role)
	}
}
