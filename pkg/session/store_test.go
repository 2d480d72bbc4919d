package session

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mahaj/venue-support/pkg/apiclient"
	"github.com/mahaj/venue-support/pkg/model"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newAPI(t *testing.T, h http.Handler) *apiclient.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	api, err := apiclient.New(apiclient.Options{BaseURL: srv.URL, Logger: discard()})
	if err != nil {
		t.Fatalf("apiclient.New: %v", err)
	}
	return api
}

func TestSubscribeAndCancel(t *testing.T) {
	st := NewStore(Session{}, discard())
	var got []Session
	cancel := st.Subscribe(func(s Session) { got = append(got, s) })

	st.Set(Session{Username: "lan", Token: "t1", Role: "staff"})
	cancel()
	st.Clear()

	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	if got[0].Role != model.RoleStaff {
		t.Fatalf("role not normalized: %q", got[0].Role)
	}
	if st.Snapshot().Authenticated() {
		t.Fatalf("session still authenticated after Clear")
	}
}

func TestNewStoreDefaultsRole(t *testing.T) {
	st := NewStore(Session{Token: "t"}, discard())
	if st.Snapshot().Role != model.RoleCustomer {
		t.Fatalf("role = %q", st.Snapshot().Role)
	}
}

func TestLogin(t *testing.T) {
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req loginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Username != "minh" || req.Password != "pw" {
			t.Errorf("unexpected credentials %+v", req)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"jwt","role":"STAFF","username":"minh","user_id":7}`))
	}))

	st := NewStore(Session{}, discard())
	notified := 0
	st.Subscribe(func(Session) { notified++ })

	s, err := st.Login(context.Background(), api, " minh ", "pw")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if s.Token != "jwt" || s.UserID != "7" || s.Role != model.RoleStaff {
		t.Fatalf("unexpected session %+v", s)
	}
	if notified != 1 {
		t.Fatalf("subscribers notified %d times", notified)
	}
}

func TestHydrateUpdatesFromMe(t *testing.T) {
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer jwt" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user_id":42,"username":"Lan","role":"CUSTOMER"}`))
	}))

	st := NewStore(Session{Username: "old", Token: "jwt"}, discard())
	s, err := st.Hydrate(context.Background(), api)
	if err != nil {
		t.Fatalf("Hydrate: %v", err)
	}
	if s.UserID != "42" || s.Username != "Lan" || s.Token != "jwt" {
		t.Fatalf("unexpected session %+v", s)
	}
}

func TestHydrateClearsRejectedToken(t *testing.T) {
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"detail":"Token expired"}`))
	}))

	st := NewStore(Session{Username: "lan", Token: "expired"}, discard())
	if _, err := st.Hydrate(context.Background(), api); err == nil {
		t.Fatalf("expected error")
	}
	if st.Snapshot().Authenticated() {
		t.Fatalf("rejected session was kept")
	}
}

func TestHydrateKeepsSessionOnServerError(t *testing.T) {
	api := newAPI(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	st := NewStore(Session{Username: "lan", Token: "jwt"}, discard())
	if _, err := st.Hydrate(context.Background(), api); err == nil {
		t.Fatalf("expected error")
	}
	if !st.Snapshot().Authenticated() {
		t.Fatalf("session cleared on a transient failure")
	}
}
