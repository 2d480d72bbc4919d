package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/mahaj/venue-support/pkg/apiclient"
	"github.com/mahaj/venue-support/pkg/auth"
	"github.com/mahaj/venue-support/pkg/conversation"
	"github.com/mahaj/venue-support/pkg/history"
	"github.com/mahaj/venue-support/pkg/model"
	"github.com/mahaj/venue-support/pkg/presence"
	"github.com/mahaj/venue-support/pkg/session"
	"github.com/mahaj/venue-support/pkg/store"
)

type fakeUsers struct {
	byName map[string]store.User
	err    error
}

func newFakeUsers(t *testing.T, users ...store.User) *fakeUsers {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeUsers{byName: make(map[string]store.User)}
	for _, u := range users {
		u.PasswordHash = string(hash)
		f.byName[u.Username] = u
	}
	return f
}

func (f *fakeUsers) ByUsername(ctx context.Context, username string) (store.User, error) {
	if f.err != nil {
		return store.User{}, f.err
	}
	u, ok := f.byName[store.NormalizeUsername(username)]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

func (f *fakeUsers) ByID(ctx context.Context, id int64) (store.User, error) {
	for _, u := range f.byName {
		if u.ID == id {
			u.PasswordHash = ""
			return u, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

type fakeMessages struct {
	mu       sync.Mutex
	threads  map[int64][]model.Envelope
	customer int64
	limit    int
}

func (f *fakeMessages) Recent(ctx context.Context, customerID int64, limit int) ([]model.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customer, f.limit = customerID, limit
	msgs := f.threads[customerID]
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

func (f *fakeMessages) last() (int64, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.customer, f.limit
}

type fakeRecent struct {
	items []presence.Customer
	limit int
}

func (f *fakeRecent) Recent(ctx context.Context, limit int) ([]presence.Customer, error) {
	f.limit = limit
	return f.items, nil
}

type apiHarness struct {
	t        *testing.T
	issuer   *auth.Issuer
	users    *fakeUsers
	messages *fakeMessages
	recent   *fakeRecent
	srv      *httptest.Server
}

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	h := &apiHarness{
		t:      t,
		issuer: issuer,
		users: newFakeUsers(t,
			store.User{ID: 1, Username: "alice", Role: model.RoleCustomer},
			store.User{ID: 9, Username: "sam", Role: model.RoleStaff},
		),
		messages: &fakeMessages{threads: map[int64][]model.Envelope{
			1: {
				{ID: 101, CustomerID: 1, From: model.Sender{ID: "1", Name: "alice", Role: model.RoleCustomer}, Text: "hi", Timestamp: t0},
				{ID: 102, CustomerID: 1, From: model.Sender{ID: "9", Name: "sam", Role: model.RoleStaff}, Text: "hello alice", Timestamp: t0.Add(time.Minute)},
			},
		}},
		recent: &fakeRecent{items: []presence.Customer{
			{UserID: 1, Username: "alice", LastTime: t0, Online: true},
			{UserID: 2, Username: "bob", LastTime: t0.Add(-time.Hour)},
		}},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := NewServer(issuer, h.users, h.messages, h.recent, logger)
	h.srv = httptest.NewServer(srv.Routes([]string{"*"}, newMetrics(prometheus.NewRegistry())))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *apiHarness) token(id int64, role model.Role) string {
	tok, err := h.issuer.GenerateToken(model.IdentityFromInt(id), "x", role)
	if err != nil {
		h.t.Fatal(err)
	}
	return tok
}

func (h *apiHarness) do(method, path, token, body string) (int, map[string]any) {
	h.t.Helper()
	req, err := http.NewRequest(method, h.srv.URL+path, strings.NewReader(body))
	if err != nil {
		h.t.Fatal(err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestLogin(t *testing.T) {
	h := newAPIHarness(t)

	status, body := h.do("POST", "/auth/login", "", `{"username":" Alice ","password":"pw"}`)
	if status != http.StatusOK {
		t.Fatalf("status = %d body = %v", status, body)
	}
	if body["role"] != "CUSTOMER" || body["username"] != "alice" || body["user_id"] != float64(1) {
		t.Fatalf("body = %v", body)
	}
	claims, err := h.issuer.ValidateToken(body["access_token"].(string))
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if claims.UserID != "1" || claims.Role != model.RoleCustomer {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestLoginRejects(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name   string
		body   string
		status int
		detail string
	}{
		{"bad json", `{`, http.StatusBadRequest, "Invalid request body"},
		{"missing password", `{"username":"alice"}`, http.StatusBadRequest, "username and password are required"},
		{"wrong password", `{"username":"alice","password":"nope"}`, http.StatusUnauthorized, "Invalid username or password"},
		{"unknown user", `{"username":"zed","password":"pw"}`, http.StatusUnauthorized, "Invalid username or password"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := h.do("POST", "/auth/login", "", tt.body)
			if status != tt.status || body["detail"] != tt.detail {
				t.Fatalf("got %d %v", status, body)
			}
		})
	}
}

func TestLoginStoreFailure(t *testing.T) {
	h := newAPIHarness(t)
	h.users.err = errors.New("scylla down")
	status, _ := h.do("POST", "/auth/login", "", `{"username":"alice","password":"pw"}`)
	if status != http.StatusInternalServerError {
		t.Fatalf("status = %d", status)
	}
}

func TestMe(t *testing.T) {
	h := newAPIHarness(t)

	// the account role wins over the token's
	status, body := h.do("GET", "/auth/me", h.token(9, model.RoleCustomer), "")
	if status != http.StatusOK || body["role"] != "STAFF" || body["username"] != "sam" {
		t.Fatalf("got %d %v", status, body)
	}

	if status, _ := h.do("GET", "/auth/me", "", ""); status != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d", status)
	}
	if status, _ := h.do("GET", "/auth/me", h.token(55, model.RoleCustomer), ""); status != http.StatusUnauthorized {
		t.Fatalf("deleted user: status = %d", status)
	}
}

func TestHistoryCustomerReadsOwnThread(t *testing.T) {
	h := newAPIHarness(t)

	status, body := h.do("GET", "/support/history?uid=2", h.token(1, model.RoleCustomer), "")
	if status != http.StatusOK {
		t.Fatalf("status = %d %v", status, body)
	}
	customer, limit := h.messages.last()
	if customer != 1 || limit != defaultHistoryLimit {
		t.Fatalf("queried customer %d limit %d", customer, limit)
	}
	items := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("items = %v", items)
	}
	first := items[0].(map[string]any)
	if first["type"] != "msg" || first["text"] != "hi" || first["id"] != float64(101) {
		t.Fatalf("first = %v", first)
	}
}

func TestHistoryStaff(t *testing.T) {
	h := newAPIHarness(t)
	staff := h.token(9, model.RoleStaff)

	status, body := h.do("GET", "/support/history", staff, "")
	if status != http.StatusBadRequest || body["detail"] != "missing customer uid" {
		t.Fatalf("got %d %v", status, body)
	}
	if status, _ := h.do("GET", "/support/history?uid=x", staff, ""); status != http.StatusBadRequest {
		t.Fatalf("bad uid: status = %d", status)
	}

	tests := []struct {
		query string
		limit int
	}{
		{"uid=1&limit=9999", maxHistoryLimit},
		{"uid=1&limit=0", 1},
		{"uid=1&limit=-4", 1},
		{"uid=1&limit=abc", defaultHistoryLimit},
		{"uid=1&limit=25", 25},
	}
	for _, tt := range tests {
		if status, _ := h.do("GET", "/support/history?"+tt.query, staff, ""); status != http.StatusOK {
			t.Fatalf("%s: status = %d", tt.query, status)
		}
		if customer, limit := h.messages.last(); customer != 1 || limit != tt.limit {
			t.Fatalf("%s: customer %d limit %d, want limit %d", tt.query, customer, limit, tt.limit)
		}
	}
}

func TestRecent(t *testing.T) {
	h := newAPIHarness(t)

	if status, body := h.do("GET", "/support/recent", h.token(1, model.RoleCustomer), ""); status != http.StatusForbidden {
		t.Fatalf("customer: got %d %v", status, body)
	}

	status, body := h.do("GET", "/support/recent", h.token(9, model.RoleAdmin), "")
	if status != http.StatusOK {
		t.Fatalf("status = %d", status)
	}
	if h.recent.limit != defaultRecentLimit {
		t.Fatalf("limit = %d", h.recent.limit)
	}
	items := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("items = %v", items)
	}
	if a := items[0].(map[string]any); a["status"] != "online" || a["username"] != "alice" {
		t.Fatalf("first = %v", a)
	}
	if b := items[1].(map[string]any); b["status"] != "offline" {
		t.Fatalf("second = %v", b)
	}

	h.do("GET", "/support/recent?limit=1000", h.token(9, model.RoleStaff), "")
	if h.recent.limit != maxRecentLimit {
		t.Fatalf("limit = %d", h.recent.limit)
	}
}

// The client packages and the API agree on the wire format.
func TestClientRoundTrip(t *testing.T) {
	h := newAPIHarness(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api, err := apiclient.New(apiclient.Options{BaseURL: h.srv.URL, Logger: logger})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	sessions := session.NewStore(session.Session{}, logger)
	s, err := sessions.Login(ctx, api, "sam", "pw")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if s.Role != model.RoleStaff || s.UserID != "9" {
		t.Fatalf("session = %+v", s)
	}
	if _, err := sessions.Hydrate(ctx, api); err != nil {
		t.Fatalf("hydrate: %v", err)
	}

	loader := history.NewLoader(api, history.Options{Logger: logger})
	msgs, err := loader.Load(ctx, conversation.Conversation{Mode: conversation.ModeAsStaff, Target: "1"}, s.Token)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "hi" || msgs[1].Sender.Role != model.RoleStaff {
		t.Fatalf("msgs = %+v", msgs)
	}
	if !msgs[0].Timestamp.Equal(t0) {
		t.Fatalf("ts = %v", msgs[0].Timestamp)
	}

	_, err = loader.Load(ctx, conversation.Conversation{Mode: conversation.ModeAsStaff}, s.Token)
	var apiErr *history.Error
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusBadRequest || apiErr.Message != "missing customer uid" {
		t.Fatalf("err = %v", err)
	}
}
