package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type FrameType string

const (
	FrameMessage FrameType = "msg"
	FrameSystem  FrameType = "system"
)

// OutboundFrame is what a client writes on the live channel.
type OutboundFrame struct {
	Text string `json:"text"`
}

// Frame is an event delivered on the live channel, and also the shape of a
// history item.
type Frame struct {
	Type FrameType `json:"type"`
	ID   Identity  `json:"id,omitempty"`
	From Sender    `json:"from"`
	Text string    `json:"text"`
	TS   Timestamp `json:"ts,omitempty"`
}

// DecodeFrame parses a raw frame. Anything that isn't a JSON object with a
// type is rejected.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	f.From.Role = ParseRole(string(f.From.Role))
	return f, nil
}

// Timestamp tolerates the formats backends actually emit: RFC3339, the
// "2006-01-02 15:04:05" form SQL drivers print, and unix seconds or millis.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return unixAuto(n), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// unixAuto treats values past year 33658 in seconds as milliseconds.
func unixAuto(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		parsed, err := ParseTimestamp(s)
		if err != nil {
			return err
		}
		t.Time = parsed
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	i, err := n.Int64()
	if err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t.Time = unixAuto(i)
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}
