// Package conversation decides which support thread a chat surface is bound
// to and how to address it on the history API and the live endpoint.
package conversation

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/mahaj/venue-support/pkg/model"
	"github.com/mahaj/venue-support/pkg/session"
)

type Mode string

const (
	// ModeSelf is a customer's own thread with any staff member.
	ModeSelf Mode = "SELF"
	// ModeAsStaff is a staff member serving one specific customer.
	ModeAsStaff Mode = "AS_STAFF"
)

var (
	ErrNotAuthenticated = errors.New("conversation: not signed in")
	ErrNoTarget         = errors.New("conversation: no customer selected")
	ErrForbiddenRole    = errors.New("conversation: role cannot open this conversation")
)

const LivePath = "/support/ws"

type Conversation struct {
	Mode   Mode
	Target model.Identity
}

// ModeFor picks the mode a role chats in.
func ModeFor(role model.Role) Mode {
	if role.IsStaff() {
		return ModeAsStaff
	}
	return ModeSelf
}

// Query returns the history query parameters. uid is set only when serving a
// customer.
func (c Conversation) Query(limit int) url.Values {
	q := url.Values{}
	if c.Mode == ModeAsStaff && !c.Target.IsZero() {
		q.Set("uid", c.Target.String())
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return q
}

// LiveURL builds the live endpoint URL from the gateway base URL. http and
// https bases are mapped to ws and wss.
func (c Conversation) LiveURL(base, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse gateway url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("gateway url %q: unsupported scheme %q", base, u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + LivePath

	q := url.Values{}
	q.Set("token", token)
	if c.Mode == ModeAsStaff && !c.Target.IsZero() {
		q.Set("uid", c.Target.String())
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c Conversation) String() string {
	if c.Mode == ModeAsStaff {
		return fmt.Sprintf("%s(%s)", c.Mode, c.Target)
	}
	return string(c.Mode)
}

// Selector holds the staff target and resolves the binding for the current
// session.
type Selector struct {
	sessions *session.Store

	mu     sync.Mutex
	target model.Identity
}

func NewSelector(sessions *session.Store) *Selector {
	return &Selector{sessions: sessions}
}

// SetTarget sets the customer a staff member serves and reports whether it
// changed.
func (s *Selector) SetTarget(id model.Identity) bool {
	id = model.Identity(strings.TrimSpace(id.String()))
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == id {
		return false
	}
	s.target = id
	return true
}

func (s *Selector) Target() model.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

// Resolve returns the conversation to open, or why none can be opened yet.
// The returned Conversation carries the mode even on ErrNoTarget.
func (s *Selector) Resolve() (Conversation, error) {
	sess := s.sessions.Snapshot()
	if !sess.Authenticated() {
		return Conversation{}, ErrNotAuthenticated
	}
	switch ModeFor(sess.Role) {
	case ModeAsStaff:
		conv := Conversation{Mode: ModeAsStaff, Target: s.Target()}
		if conv.Target.IsZero() {
			return conv, ErrNoTarget
		}
		return conv, nil
	default:
		if sess.Role != model.RoleCustomer {
			return Conversation{}, ErrForbiddenRole
		}
		return Conversation{Mode: ModeSelf}, nil
	}
}
