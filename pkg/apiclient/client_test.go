package apiclient

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func newClient(t *testing.T, srv *httptest.Server, timeout time.Duration) *Client {
	t.Helper()
	c, err := New(Options{
		BaseURL: srv.URL,
		Timeout: timeout,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		Now:     func() time.Time { return time.UnixMilli(1700000000000) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestGetSendsAuthAndCacheHeaders(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var out struct {
		OK bool `json:"ok"`
	}
	q := url.Values{"uid": {"42"}}
	if err := newClient(t, srv, 0).Get(context.Background(), "/support/history", q, "tok", &out); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !out.OK {
		t.Fatalf("body not decoded")
	}
	if got.URL.Path != "/support/history" {
		t.Fatalf("path = %q", got.URL.Path)
	}
	if got.Header.Get("Authorization") != "Bearer tok" {
		t.Fatalf("authorization = %q", got.Header.Get("Authorization"))
	}
	if got.Header.Get("Cache-Control") != "no-cache" {
		t.Fatalf("cache-control = %q", got.Header.Get("Cache-Control"))
	}
	if got.URL.Query().Get("_t") != "1700000000000" || got.URL.Query().Get("uid") != "42" {
		t.Fatalf("query = %q", got.URL.RawQuery)
	}
}

func TestNoAuthorizationWithoutToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected authorization header")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	if err := newClient(t, srv, 0).Post(context.Background(), "/auth/logout", "", nil, nil); err != nil {
		t.Fatalf("Post: %v", err)
	}
}

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		body        string
		status      int
		want        string
	}{
		{"detail string", "application/json", `{"detail":"missing customer uid"}`, 400, "missing customer uid"},
		{"detail object", "application/json", `{"detail":{"code":1}}`, 422, `{"code":1}`},
		{"json without detail", "application/json", `{"error":"x"}`, 500, "HTTP 500"},
		{"plain text", "text/plain", "gateway timeout", 504, "gateway timeout"},
		{"empty body", "text/plain", "", 403, "HTTP 403"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.contentType)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			err := newClient(t, srv, 0).Get(context.Background(), "/x", nil, "", nil)
			var apiErr *Error
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if apiErr.Status != tc.status || apiErr.Message != tc.want {
				t.Fatalf("got %d %q, want %d %q", apiErr.Status, apiErr.Message, tc.status, tc.want)
			}
		})
	}
}

func TestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	err := newClient(t, srv, 50*time.Millisecond).Get(context.Background(), "/slow", nil, "", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewRejectsBadScheme(t *testing.T) {
	if _, err := New(Options{BaseURL: "ftp://example.test"}); err == nil {
		t.Fatalf("expected error for ftp scheme")
	}
}
