// Package status carries human-readable progress lines from a download
// session to a consumer that polls at its own cadence.
package status

import (
	"fmt"
	"sync"
)

const defaultCapacity = 1024

// Channel is a bounded, drain-on-read message queue. Messages come out in
// publish order. When the queue is full the oldest message is evicted and the
// next Drain reports how many were lost.
type Channel struct {
	mu       sync.Mutex
	messages []string
	capacity int
	dropped  int
}

// NewChannel creates a Channel holding at most capacity undrained messages.
func NewChannel(capacity int) *Channel {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Channel{capacity: capacity}
}

// Publish appends a message.
func (c *Channel) Publish(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.messages) >= c.capacity {
		c.messages = c.messages[1:]
		c.dropped++
	}
	c.messages = append(c.messages, msg)
}

// Publishf formats and appends a message.
func (c *Channel) Publishf(format string, args ...any) {
	c.Publish(fmt.Sprintf(format, args...))
}

// Drain returns every message published since the previous Drain, or nil if
// there are none.
func (c *Channel) Drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.messages) == 0 && c.dropped == 0 {
		return nil
	}

	out := make([]string, 0, len(c.messages)+1)
	if c.dropped > 0 {
		out = append(out, fmt.Sprintf("%d earlier status messages dropped", c.dropped))
		c.dropped = 0
	}
	out = append(out, c.messages...)
	c.messages = nil
	return out
}

// Len returns the number of undrained messages.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}
