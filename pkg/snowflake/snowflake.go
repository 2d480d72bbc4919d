// Package snowflake generates time-ordered 63-bit message ids.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	stepBits        = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	stepMask        = -1 ^ (-1 << stepBits)
	timeShift       = nodeBits + stepBits
	nodeShift       = stepBits
	epoch     int64 = 1704067200000 // 2024-01-01 00:00:00 UTC
)

var ErrNodeRange = errors.New("snowflake: node number must be between 0 and 1023")

type Node struct {
	mu   sync.Mutex
	last int64
	node int64
	step int64
	now  func() int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, ErrNodeRange
	}
	return &Node{node: node, now: func() int64 { return time.Now().UnixMilli() }}, nil
}

// Generate returns the next id. Ids from one node strictly increase even if
// the wall clock steps back.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if now < n.last {
		now = n.last
	}

	if now == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			// sequence exhausted for this millisecond
			for now <= n.last {
				now = n.now()
			}
		}
	} else {
		n.step = 0
	}
	n.last = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time recovers the millisecond an id was generated in.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + epoch)
}
