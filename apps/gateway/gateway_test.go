package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mahaj/venue-support/pkg/auth"
	"github.com/mahaj/venue-support/pkg/model"
	"github.com/mahaj/venue-support/pkg/snowflake"
	"github.com/mahaj/venue-support/pkg/store"
)

type memBroker struct {
	mu        sync.Mutex
	subs      []func(model.Envelope)
	published []model.Envelope
	fail      error
	hold      chan struct{}
	ready     chan struct{}
	once      sync.Once
}

func newMemBroker() *memBroker {
	return &memBroker{ready: make(chan struct{})}
}

func (b *memBroker) Publish(ctx context.Context, env model.Envelope) error {
	b.mu.Lock()
	if b.fail != nil {
		b.mu.Unlock()
		return b.fail
	}
	hold := b.hold
	b.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	b.mu.Lock()
	b.published = append(b.published, env)
	subs := append(([]func(model.Envelope))(nil), b.subs...)
	b.mu.Unlock()
	for _, fn := range subs {
		fn(env)
	}
	return nil
}

func (b *memBroker) Subscribe(ctx context.Context, fn func(model.Envelope)) error {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
	b.once.Do(func() { close(b.ready) })
	<-ctx.Done()
	return nil
}

func (b *memBroker) Close() error { return nil }

func (b *memBroker) setFail(err error) {
	b.mu.Lock()
	b.fail = err
	b.mu.Unlock()
}

// stall makes Publish wait until the returned func is called.
func (b *memBroker) stall() (release func()) {
	hold := make(chan struct{})
	b.mu.Lock()
	b.hold = hold
	b.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(hold) }) }
}

func (b *memBroker) publishedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.published)
}

type fakePresence struct {
	mu    sync.Mutex
	rooms map[int64]map[string]bool
}

func newFakePresence() *fakePresence {
	return &fakePresence{rooms: make(map[int64]map[string]bool)}
}

func (p *fakePresence) Join(ctx context.Context, customerID int64, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rooms[customerID] == nil {
		p.rooms[customerID] = make(map[string]bool)
	}
	p.rooms[customerID][userID] = true
	return nil
}

func (p *fakePresence) Leave(ctx context.Context, customerID int64, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rooms[customerID], userID)
	return nil
}

func (p *fakePresence) has(customerID int64, userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rooms[customerID][userID]
}

type fakeAccounts map[int64]store.User

func (a fakeAccounts) ByID(ctx context.Context, id int64) (store.User, error) {
	u, ok := a[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return u, nil
}

type harness struct {
	t        *testing.T
	issuer   *auth.Issuer
	broker   *memBroker
	presence *fakePresence
	hub      *Hub
	srv      *httptest.Server
}

func newHarness(t *testing.T, sendRate float64, sendBurst int) *harness {
	t.Helper()
	issuer, err := auth.NewIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	accounts := fakeAccounts{
		1: {ID: 1, Username: "alice", Role: model.RoleCustomer},
		2: {ID: 2, Username: "bob", Role: model.RoleCustomer},
		9: {ID: 9, Username: "sam", Role: model.RoleStaff},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatal(err)
	}

	broker := newMemBroker()
	pres := newFakePresence()
	hub := NewHub(broker, pres, node, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	<-broker.ready

	srv := httptest.NewServer(NewGateway(hub, issuer, accounts, sendRate, sendBurst, logger))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return &harness{t: t, issuer: issuer, broker: broker, presence: pres, hub: hub, srv: srv}
}

func (h *harness) url(query string) string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/support/ws?" + query
}

func (h *harness) token(userID int64, role model.Role) string {
	tok, err := h.issuer.GenerateToken(model.IdentityFromInt(userID), "whoever", role)
	if err != nil {
		h.t.Fatal(err)
	}
	return tok
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(h.url(query), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials and waits until the hub has placed the socket in room.
func (h *harness) connect(userID int64, role model.Role, room int64, extra string) *websocket.Conn {
	h.t.Helper()
	conn := h.dial(h.t, "token="+h.token(userID, role)+extra)
	waitFor(h.t, func() bool { return h.presence.has(room, model.IdentityFromInt(userID).String()) })
	return conn
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func say(t *testing.T, conn *websocket.Conn, raw string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) model.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	f, err := model.DecodeFrame(data)
	if err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return f
}

func TestMessageFansOutToWholeRoom(t *testing.T) {
	h := newHarness(t, 100, 100)
	alice := h.connect(1, model.RoleCustomer, 1, "")
	staff := h.connect(9, model.RoleStaff, 1, "&uid=1")

	say(t, alice, `{"text":"  hello  "}`)

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "staff": staff} {
		f := readFrame(t, conn)
		if f.Type != model.FrameMessage || f.Text != "hello" {
			t.Fatalf("%s got %+v", name, f)
		}
		if f.From.ID != "1" || f.From.Name != "alice" || f.From.Role != model.RoleCustomer {
			t.Fatalf("%s sender = %+v", name, f.From)
		}
		if f.ID.IsZero() || f.TS.IsZero() {
			t.Fatalf("%s frame missing id or ts: %+v", name, f)
		}
	}

	if got := h.broker.publishedCount(); got != 1 {
		t.Fatalf("published %d, want 1", got)
	}
}

func TestStaffTakesAccountRole(t *testing.T) {
	h := newHarness(t, 100, 100)
	alice := h.connect(1, model.RoleCustomer, 1, "")
	// token claims CUSTOMER but the account says STAFF
	staff := h.connect(9, model.RoleCustomer, 1, "&uid=1")

	say(t, staff, `{"text":"how can I help?"}`)
	f := readFrame(t, alice)
	if f.From.Role != model.RoleStaff || f.From.Name != "sam" {
		t.Fatalf("sender = %+v", f.From)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	h := newHarness(t, 100, 100)
	alice := h.connect(1, model.RoleCustomer, 1, "")
	bob := h.connect(2, model.RoleCustomer, 2, "")

	say(t, bob, `{"text":"bob here"}`)
	if f := readFrame(t, bob); f.Text != "bob here" {
		t.Fatalf("bob got %+v", f)
	}

	say(t, alice, `{"text":"alice here"}`)
	if f := readFrame(t, alice); f.Text != "alice here" {
		t.Fatalf("alice first frame = %+v, leaked from another room?", f)
	}
}

func TestBlankAndMalformedInputIgnored(t *testing.T) {
	h := newHarness(t, 100, 100)
	alice := h.connect(1, model.RoleCustomer, 1, "")

	say(t, alice, `{"text":"   "}`)
	say(t, alice, `not json`)
	say(t, alice, `{"text":"ok"}`)

	if f := readFrame(t, alice); f.Text != "ok" {
		t.Fatalf("got %+v", f)
	}
	if got := h.broker.publishedCount(); got != 1 {
		t.Fatalf("published %d, want 1", got)
	}
}

func TestPolicyClose(t *testing.T) {
	h := newHarness(t, 100, 100)
	staff := h.token(9, model.RoleStaff)

	tests := []struct {
		name   string
		query  string
		code   int
		notice string
	}{
		{"no token", "", closeInvalidSession, noticeInvalidSession},
		{"bad token", "token=garbage", closeInvalidSession, noticeInvalidSession},
		{"unknown user", "token=" + h.token(77, model.RoleCustomer), closeInvalidSession, noticeUnknownUser},
		{"staff without uid", "token=" + staff, closeForbidden, noticeNoCustomer},
		{"staff with bad uid", "token=" + staff + "&uid=abc", closeForbidden, noticeBadCustomer},
		{"staff with unknown customer", "token=" + staff + "&uid=404", closeForbidden, noticeCustomerNotFound},
		{"staff targeting staff", "token=" + staff + "&uid=9", closeForbidden, noticeCustomerNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := h.dial(t, tt.query)

			f := readFrame(t, conn)
			if f.Type != model.FrameSystem || f.Text != tt.notice {
				t.Fatalf("first frame = %+v", f)
			}

			_, _, err := conn.ReadMessage()
			var ce *websocket.CloseError
			if !errors.As(err, &ce) {
				t.Fatalf("expected close error, got %v", err)
			}
			if ce.Code != tt.code {
				t.Fatalf("close code = %d, want %d", ce.Code, tt.code)
			}
		})
	}
}

func TestThrottledSocketGetsNotice(t *testing.T) {
	h := newHarness(t, 0.001, 1)
	alice := h.connect(1, model.RoleCustomer, 1, "")

	say(t, alice, `{"text":"first"}`)
	say(t, alice, `{"text":"second"}`)

	if f := readFrame(t, alice); f.Text != "first" {
		t.Fatalf("got %+v", f)
	}
	if f := readFrame(t, alice); f.Type != model.FrameSystem || f.Text != noticeThrottled {
		t.Fatalf("got %+v", f)
	}
	if got := h.broker.publishedCount(); got != 1 {
		t.Fatalf("published %d, want 1", got)
	}
}

func TestPublishFailureNotifiesSender(t *testing.T) {
	h := newHarness(t, 100, 100)
	alice := h.connect(1, model.RoleCustomer, 1, "")
	h.broker.setFail(errors.New("broker down"))

	say(t, alice, `{"text":"hello"}`)
	if f := readFrame(t, alice); f.Type != model.FrameSystem || f.Text != noticeNotSent {
		t.Fatalf("got %+v", f)
	}
}

func TestDisconnectLeavesRoom(t *testing.T) {
	h := newHarness(t, 100, 100)
	alice := h.connect(1, model.RoleCustomer, 1, "")
	if got := h.hub.roomSize(1); got != 1 {
		t.Fatalf("room size = %d", got)
	}

	alice.Close()
	waitFor(t, func() bool { return !h.presence.has(1, "1") })
	waitFor(t, func() bool { return h.hub.roomSize(1) == 0 })
}

func TestSlowBrokerDoesNotBlockJoins(t *testing.T) {
	h := newHarness(t, 100, 100)
	release := h.broker.stall()
	t.Cleanup(release)

	alice := h.connect(1, model.RoleCustomer, 1, "")
	say(t, alice, `{"text":"are you there?"}`)

	// the publish is pending; other sockets must still get in
	bob := h.connect(2, model.RoleCustomer, 2, "")
	staff := h.connect(9, model.RoleStaff, 1, "&uid=1")
	if got := h.broker.publishedCount(); got != 0 {
		t.Fatalf("published %d while stalled", got)
	}

	release()
	for name, conn := range map[string]*websocket.Conn{"alice": alice, "staff": staff} {
		if f := readFrame(t, conn); f.Text != "are you there?" {
			t.Fatalf("%s got %+v", name, f)
		}
	}
	say(t, bob, `{"text":"hello"}`)
	if f := readFrame(t, bob); f.Text != "hello" {
		t.Fatalf("bob got %+v", f)
	}
}

func TestRoomMessagesKeepOrder(t *testing.T) {
	h := newHarness(t, 100, 100)
	alice := h.connect(1, model.RoleCustomer, 1, "")

	for _, text := range []string{"one", "two", "three"} {
		say(t, alice, `{"text":"`+text+`"}`)
	}
	for _, want := range []string{"one", "two", "three"} {
		if f := readFrame(t, alice); f.Text != want {
			t.Fatalf("got %q, want %q", f.Text, want)
		}
	}
}
