package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mahaj/venue-support/pkg/auth"
	"github.com/mahaj/venue-support/pkg/model"
	"github.com/mahaj/venue-support/pkg/presence"
	"github.com/mahaj/venue-support/pkg/store"
)

type UserStore interface {
	ByUsername(ctx context.Context, username string) (store.User, error)
	ByID(ctx context.Context, id int64) (store.User, error)
}

type MessageStore interface {
	Recent(ctx context.Context, customerID int64, limit int) ([]model.Envelope, error)
}

type RecentCustomers interface {
	Recent(ctx context.Context, limit int) ([]presence.Customer, error)
}

type Server struct {
	issuer   *auth.Issuer
	users    UserStore
	messages MessageStore
	recent   RecentCustomers
	logger   *slog.Logger
}

func NewServer(issuer *auth.Issuer, users UserStore, messages MessageStore, recent RecentCustomers, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{issuer: issuer, users: users, messages: messages, recent: recent, logger: logger}
}

// Routes builds the public router. m may be nil.
func (s *Server) Routes(origins []string, m *metrics) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "Cache-Control"},
	}))
	if m != nil {
		r.Use(m.instrument)
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Post("/auth/login", s.Login)
	r.Group(func(r chi.Router) {
		r.Use(s.issuer.Middleware)
		r.Get("/auth/me", s.Me)
		r.Get("/support/history", s.History)
		r.Get("/support/recent", s.Recent)
	})

	r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("pong"))
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeDetail is the error body clients read the message from.
func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

// queryLimit reads ?limit, falling back to def and clamping to 1..upper.
func queryLimit(r *http.Request, def, upper int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return def
	}
	if n < 1 {
		return 1
	}
	if n > upper {
		return upper
	}
	return n
}
