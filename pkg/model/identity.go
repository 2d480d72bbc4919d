package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Identity is an opaque user identifier. The zero value means "no identity".
// On the wire it may arrive as a JSON number, a string or null.
type Identity string

func IdentityFromInt(id int64) Identity {
	if id <= 0 {
		return ""
	}
	return Identity(strconv.FormatInt(id, 10))
}

func (id Identity) IsZero() bool { return id == "" }

func (id Identity) String() string { return string(id) }

// Int64 returns the numeric form of ids issued by the support backend.
func (id Identity) Int64() (int64, error) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("identity %q is not numeric: %w", string(id), err)
	}
	return n, nil
}

func (id *Identity) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = Identity(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	*id = Identity(n.String())
	return nil
}

// MarshalJSON emits numeric identities as numbers so the wire format stays
// compatible with backends that key users by integer id.
func (id Identity) MarshalJSON() ([]byte, error) {
	if id == "" {
		return []byte("null"), nil
	}
	if _, err := strconv.ParseInt(string(id), 10, 64); err == nil {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}
