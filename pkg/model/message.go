package model

import (
	"strings"
	"time"
)

type Role string

const (
	RoleCustomer Role = "CUSTOMER"
	RoleStaff    Role = "STAFF"
	RoleAdmin    Role = "ADMIN"
)

// ParseRole normalizes a role code. Unknown or empty codes map to CUSTOMER,
// the role every account starts with.
func ParseRole(s string) Role {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleStaff:
		return RoleStaff
	case RoleAdmin:
		return RoleAdmin
	default:
		return RoleCustomer
	}
}

// IsStaff reports whether the role serves customers rather than being one.
func (r Role) IsStaff() bool {
	return r == RoleStaff || r == RoleAdmin
}

type Origin string

const (
	OriginHistory     Origin = "history"
	OriginLiveInbound Origin = "live-inbound"
	OriginLocalEcho   Origin = "local-echo"
)

type Sender struct {
	ID   Identity `json:"id,omitempty"`
	Name string   `json:"name"`
	Role Role     `json:"role,omitempty"`
}

// Message is a single transcript entry.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"from"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"ts"`
	Origin    Origin    `json:"origin"`
}

// SameSender matches two senders by identity when both carry one and falls
// back to a case-insensitive display name comparison otherwise. Two accounts
// sharing a display name and lacking identities are indistinguishable here.
func SameSender(a, b Sender) bool {
	if !a.ID.IsZero() && !b.ID.IsZero() {
		return a.ID == b.ID
	}
	an := strings.TrimSpace(a.Name)
	bn := strings.TrimSpace(b.Name)
	if an == "" || bn == "" {
		return false
	}
	return strings.EqualFold(an, bn)
}
