// Package session holds the signed-in user and their bearer token, and tells
// subscribers when either changes.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mahaj/venue-support/pkg/apiclient"
	"github.com/mahaj/venue-support/pkg/model"
)

type Session struct {
	UserID   model.Identity `yaml:"user_id,omitempty"`
	Username string         `yaml:"username,omitempty"`
	Role     model.Role     `yaml:"role,omitempty"`
	Token    string         `yaml:"token,omitempty"`
}

func (s Session) Authenticated() bool { return s.Token != "" }

// Sender is how this user appears on messages.
func (s Session) Sender() model.Sender {
	return model.Sender{ID: s.UserID, Name: s.Username, Role: s.Role}
}

type Store struct {
	logger *slog.Logger

	mu     sync.RWMutex
	cur    Session
	nextID int
	subs   map[int]func(Session)
}

func NewStore(initial Session, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	initial.Role = normalizeRole(initial)
	return &Store{logger: logger, cur: initial, subs: make(map[int]func(Session))}
}

func normalizeRole(s Session) model.Role {
	if s.Role == "" {
		return model.RoleCustomer
	}
	return model.ParseRole(string(s.Role))
}

func (st *Store) Snapshot() Session {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.cur
}

// Set replaces the session and notifies subscribers.
func (st *Store) Set(s Session) {
	s.Role = normalizeRole(s)
	st.mu.Lock()
	st.cur = s
	subs := st.subscribers()
	st.mu.Unlock()
	for _, fn := range subs {
		fn(s)
	}
}

// Clear signs the user out.
func (st *Store) Clear() {
	st.Set(Session{})
}

// Subscribe registers fn for every later change. The returned func removes
// it.
func (st *Store) Subscribe(fn func(Session)) (cancel func()) {
	st.mu.Lock()
	id := st.nextID
	st.nextID++
	st.subs[id] = fn
	st.mu.Unlock()
	return func() {
		st.mu.Lock()
		delete(st.subs, id)
		st.mu.Unlock()
	}
}

func (st *Store) subscribers() []func(Session) {
	out := make([]func(Session), 0, len(st.subs))
	for i := 0; i < st.nextID; i++ {
		if fn, ok := st.subs[i]; ok {
			out = append(out, fn)
		}
	}
	return out
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string         `json:"access_token"`
	Role        string         `json:"role"`
	Username    string         `json:"username"`
	UserID      model.Identity `json:"user_id"`
}

type meResponse struct {
	UserID   model.Identity `json:"user_id"`
	Username string         `json:"username"`
	Role     string         `json:"role"`
}

var ErrNoToken = errors.New("session: no token")

// Login exchanges credentials for a token and stores the new session.
func (st *Store) Login(ctx context.Context, api *apiclient.Client, username, password string) (Session, error) {
	var resp loginResponse
	req := loginRequest{Username: strings.TrimSpace(username), Password: password}
	if err := api.Post(ctx, "/auth/login", "", req, &resp); err != nil {
		return Session{}, fmt.Errorf("login: %w", err)
	}
	if resp.AccessToken == "" {
		return Session{}, fmt.Errorf("login: %w", ErrNoToken)
	}
	s := Session{
		UserID:   resp.UserID,
		Username: resp.Username,
		Role:     model.Role(resp.Role),
		Token:    resp.AccessToken,
	}
	if s.Username == "" {
		s.Username = req.Username
	}
	st.Set(s)
	st.logger.Info("signed in", "username", s.Username, "role", st.Snapshot().Role)
	return st.Snapshot(), nil
}

// Hydrate refreshes identity, name and role from /auth/me. A rejected token
// clears the session.
func (st *Store) Hydrate(ctx context.Context, api *apiclient.Client) (Session, error) {
	cur := st.Snapshot()
	if !cur.Authenticated() {
		return Session{}, ErrNoToken
	}
	var me meResponse
	if err := api.Get(ctx, "/auth/me", nil, cur.Token, &me); err != nil {
		var apiErr *apiclient.Error
		if errors.As(err, &apiErr) && (apiErr.Status == 401 || apiErr.Status == 403) {
			st.logger.Info("stored session rejected, signing out", "status", apiErr.Status)
			st.Clear()
		}
		return Session{}, fmt.Errorf("hydrate session: %w", err)
	}
	next := cur
	if !me.UserID.IsZero() {
		next.UserID = me.UserID
	}
	if me.Username != "" {
		next.Username = me.Username
	}
	if me.Role != "" {
		next.Role = model.Role(me.Role)
	}
	st.Set(next)
	return st.Snapshot(), nil
}
