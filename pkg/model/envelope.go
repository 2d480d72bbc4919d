package model

import "time"

// Envelope is a support message as the backend publishes and stores it.
// CustomerID names the room: every support thread belongs to one customer.
type Envelope struct {
	ID         int64     `json:"id"`
	CustomerID int64     `json:"customer_id"`
	From       Sender    `json:"from"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"ts"`
}

// Frame is the live channel form of the envelope.
func (e Envelope) Frame() Frame {
	return Frame{
		Type: FrameMessage,
		ID:   IdentityFromInt(e.ID),
		From: e.From,
		Text: e.Text,
		TS:   Timestamp{Time: e.Timestamp},
	}
}

// SystemFrame builds a notice frame sent before a policy close.
func SystemFrame(text string) Frame {
	return Frame{Type: FrameSystem, Text: text}
}
