package groupcomm

import (
	"context"
	"sync"
)

// NodeChannel is the per-peer mailbox of an operator topology: a FIFO
// of payload lists deposited by OnMessage and drained by the blocking
// receive primitives. The queue is guarded by the owning topology's
// coordination lock; wake is a capacity-1 edge trigger for a taker
// blocked on an empty queue. Each channel has at most one logical
// taker at a time (the collective algorithms enforce this).
type NodeChannel struct {
	peerId string
	mu     *sync.Mutex
	queue  [][][]byte
	wake   chan struct{}
	closed <-chan struct{}
}

func newNodeChannel(peerId string, mu *sync.Mutex, closed <-chan struct{}) *NodeChannel {
	return &NodeChannel{
		peerId: peerId,
		mu:     mu,
		wake:   make(chan struct{}, 1),
		closed: closed,
	}
}

func (c *NodeChannel) PeerId() string {
	return c.peerId
}

// add appends a payload list. The caller must hold the topology lock.
func (c *NodeChannel) add(payloads [][]byte) {
	c.queue = append(c.queue, payloads)
}

// signal wakes a blocked taker. Called outside the lock; the token is
// sticky so a wakeup issued before the taker blocks is not lost.
func (c *NodeChannel) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// hasMessage must be called with the topology lock held.
func (c *NodeChannel) hasMessage() bool {
	return len(c.queue) > 0
}

// HasMessage is the non-blocking peek.
func (c *NodeChannel) HasMessage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.queue) > 0
}

func (c *NodeChannel) depth() int {
	return len(c.queue)
}

// pop removes the oldest payload list. The caller must hold the
// topology lock and have checked hasMessage.
func (c *NodeChannel) pop() [][]byte {
	payloads := c.queue[0]
	c.queue = c.queue[1:]

	return payloads
}

// take blocks until a payload list is available, the context fires or
// the topology closes. Deadlines come from the caller's context; the
// channel itself never times out.
func (c *NodeChannel) take(ctx context.Context) ([][]byte, error) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			payloads := c.pop()
			c.mu.Unlock()
			return payloads, nil
		}
		c.mu.Unlock()

		select {
		case <-c.wake:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.closed:
			return nil, ErrClosed
		}
	}
}
