package snowflake

import (
	"errors"
	"testing"
	"time"
)

func TestNodeRange(t *testing.T) {
	if _, err := NewNode(1024); !errors.Is(err, ErrNodeRange) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewNode(-1); !errors.Is(err, ErrNodeRange) {
		t.Fatalf("err = %v", err)
	}
}

func TestIDsIncreaseWithinAndAcrossMillis(t *testing.T) {
	n, _ := NewNode(3)
	clock := int64(1740823200000)
	n.now = func() int64 { return clock }

	prev := n.Generate()
	for i := 0; i < 100; i++ {
		id := n.Generate()
		if id <= prev {
			t.Fatalf("id %d not greater than %d", id, prev)
		}
		prev = id
	}

	clock -= 5 // clock steps back
	if id := n.Generate(); id <= prev {
		t.Fatalf("id went backwards after clock step")
	}
}

func TestTime(t *testing.T) {
	n, _ := NewNode(1)
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	n.now = func() int64 { return at.UnixMilli() }
	if got := Time(n.Generate()); !got.Equal(at) {
		t.Fatalf("Time = %v, want %v", got, at)
	}
}
