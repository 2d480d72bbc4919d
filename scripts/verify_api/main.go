package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/mahaj/venue-support/pkg/apiclient"
	"github.com/mahaj/venue-support/pkg/conversation"
	"github.com/mahaj/venue-support/pkg/history"
	"github.com/mahaj/venue-support/pkg/model"
	"github.com/mahaj/venue-support/pkg/session"
)

func main() {
	apiAddr := flag.String("api", "http://localhost:8081", "api service address")
	username := flag.String("user", "staff", "username")
	password := flag.String("password", "staff123", "password")
	customer := flag.String("customer", "", "customer id whose history staff should fetch")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	api, err := apiclient.New(apiclient.Options{BaseURL: *apiAddr, Logger: logger})
	if err != nil {
		log.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// 1. Login
	sessions := session.NewStore(session.Session{}, logger)
	s, err := sessions.Login(ctx, api, *username, *password)
	if err != nil {
		log.Fatal("Login failed:", err)
	}
	fmt.Printf("Signed in as %s (%s), id %s\n", s.Username, s.Role, s.UserID)

	// 2. Me
	if s, err = sessions.Hydrate(ctx, api); err != nil {
		log.Fatal("Me failed:", err)
	}
	fmt.Printf("Me: %s (%s)\n", s.Username, s.Role)

	// 3. Recent customers, staff only
	if s.Role.IsStaff() {
		var recent json.RawMessage
		if err := api.Get(ctx, "/support/recent", url.Values{"limit": {"10"}}, s.Token, &recent); err != nil {
			log.Fatal("Recent failed:", err)
		}
		fmt.Printf("Recent: %s\n", recent)
	}

	// 4. History
	conv := conversation.Conversation{Mode: conversation.ModeFor(s.Role), Target: model.Identity(*customer)}
	msgs, err := history.NewLoader(api, history.Options{Limit: 20, Logger: logger}).Load(ctx, conv, s.Token)
	if err != nil {
		log.Fatal("History failed:", err)
	}
	fmt.Printf("History for %s: %d messages\n", conv, len(msgs))
	for _, m := range msgs {
		fmt.Printf("  [%s] %s: %s\n", m.Sender.Role, m.Sender.Name, m.Text)
	}
}
