// Package store persists support messages and accounts in ScyllaDB.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"github.com/mahaj/venue-support/pkg/db"
	"github.com/mahaj/venue-support/pkg/model"
)

var (
	ErrNotFound = errors.New("store: not found")
	ErrExists   = errors.New("store: already exists")
)

type Messages struct {
	db *db.Session
}

func NewMessages(session *db.Session) *Messages {
	return &Messages{db: session}
}

// Save writes one message into its customer's partition.
func (m *Messages) Save(ctx context.Context, e model.Envelope) error {
	query := `INSERT INTO support_messages (customer_id, id, sender_id, sender_name, sender_role, text, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`
	err := m.db.Query(query, e.CustomerID, e.ID, e.From.ID.String(), e.From.Name, string(e.From.Role), e.Text, e.Timestamp).
		WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("save message %d: %w", e.ID, err)
	}
	return nil
}

// Recent returns the newest limit messages of a customer's thread, oldest
// first.
func (m *Messages) Recent(ctx context.Context, customerID int64, limit int) ([]model.Envelope, error) {
	iter := m.db.Query(`SELECT id, sender_id, sender_name, sender_role, text, ts FROM support_messages WHERE customer_id = ? LIMIT ?`, customerID, limit).
		WithContext(ctx).Iter()

	var out []model.Envelope
	var (
		id                       int64
		senderID, name, role, tx string
		ts                       time.Time
	)
	for iter.Scan(&id, &senderID, &name, &role, &tx, &ts) {
		out = append(out, model.Envelope{
			ID:         id,
			CustomerID: customerID,
			From:       model.Sender{ID: model.Identity(senderID), Name: name, Role: model.ParseRole(role)},
			Text:       tx,
			Timestamp:  ts,
		})
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("read history of %d: %w", customerID, err)
	}

	// clustering order is id DESC
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func notFound(err error) bool {
	return errors.Is(err, gocql.ErrNotFound)
}
