// Package progress carries bulk-load progress events from the single
// producer running the load to the single consumer streaming them out.
package progress

import (
	"sync"

	"github.com/devrev/replicawatch/internal/model"
)

// DefaultBuffer is the number of events a slow consumer may lag behind
const DefaultBuffer = 16

// Channel is a single-producer, single-consumer progress stream. The
// producer calls Send and finally Close; the consumer ranges over Events and
// calls Detach if it stops reading early. After Detach, Send drops events
// instead of blocking.
type Channel struct {
	events     chan model.Progress
	detached   chan struct{}
	detachOnce sync.Once
	closeOnce  sync.Once
}

// NewChannel creates a channel buffering up to buffer events
func NewChannel(buffer int) *Channel {
	if buffer < 0 {
		buffer = 0
	}
	return &Channel{
		events:   make(chan model.Progress, buffer),
		detached: make(chan struct{}),
	}
}

// Send publishes ev. It returns false when the consumer has detached and the
// event was dropped. Send must not be called after Close.
func (c *Channel) Send(ev model.Progress) bool {
	select {
	case <-c.detached:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	case <-c.detached:
		return false
	}
}

// Events returns the receive side. It is closed once the producer calls Close.
func (c *Channel) Events() <-chan model.Progress {
	return c.events
}

// Detach signals that the consumer stopped reading
func (c *Channel) Detach() {
	c.detachOnce.Do(func() { close(c.detached) })
}

// Detached is closed once the consumer has detached
func (c *Channel) Detached() <-chan struct{} {
	return c.detached
}

// IsDetached reports whether the consumer has detached
func (c *Channel) IsDetached() bool {
	select {
	case <-c.detached:
		return true
	default:
		return false
	}
}

// Close ends the stream. Only the producer may call it.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.events) })
}
