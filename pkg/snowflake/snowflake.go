// Package snowflake generates time-ordered 63-bit message ids.
package snowflake

import (
	"fmt"
	"sync"
	"time"
)

const (
	nodeBits  = 10
	stepBits  = 12
	nodeMax   = -1 ^ (-1 << nodeBits)
	stepMask  = -1 ^ (-1 << stepBits)
	timeShift = nodeBits + stepBits
	nodeShift = stepBits

	// Epoch is 2024-01-01 00:00:00 UTC in milliseconds.
	Epoch int64 = 1704067200000
)

// Node hands out ids for one process. Ids from the same node are strictly
// increasing, so ordering by id orders messages by creation.
type Node struct {
	mu   sync.Mutex
	now  func() time.Time
	time int64
	node int64
	step int64
}

// NewNode returns a generator for node, which must be in [0, 1023].
func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, fmt.Errorf("snowflake: node %d out of range [0, %d]", node, nodeMax)
	}
	return &Node{node: node, now: time.Now}, nil
}

// Generate returns the next id.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now().UnixMilli()
	if now < n.time {
		// clock went backwards; stay on the last millisecond
		now = n.time
	}

	if n.time == now {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			for now <= n.time {
				now = n.now().UnixMilli()
			}
		}
	} else {
		n.step = 0
	}
	n.time = now

	return ((now - Epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time extracts the creation time encoded in id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + Epoch)
}

// NodeOf extracts the node number encoded in id.
func NodeOf(id int64) int64 {
	return (id >> nodeShift) & nodeMax
}
