package delivery

import (
	"context"
	"sync"
	"time"
)

// Event is the structured payload published to a user's channels when a
// rule fires. Field names match the stream wire format.
type Event struct {
	RuleID     int64     `json:"id"`
	CategoryID int64     `json:"category_id"`
	ItemID     int64     `json:"item_id"`
	ProgressID int64     `json:"progress_id"`
	FiredAt    time.Time `json:"fired_at"`
}

// Channel is a closable FIFO of events with exactly one consumer.
// Send may be called from any number of goroutines; Close is idempotent
// and acts as the end-of-stream sentinel.
type Channel struct {
	events chan Event
	done   chan struct{}
	once   sync.Once
}

func newChannel(buffer int) *Channel {
	if buffer <= 0 {
		buffer = 16
	}
	return &Channel{
		events: make(chan Event, buffer),
		done:   make(chan struct{}),
	}
}

// Send enqueues e, blocking while the buffer is full. It reports false if
// the channel was closed before the event was accepted.
func (c *Channel) Send(e Event) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.events <- e:
		return true
	case <-c.done:
		return false
	}
}

// Close marks the channel ended. Events already queued are still delivered
// before Receive reports closure.
func (c *Channel) Close() {
	c.once.Do(func() { close(c.done) })
}

// Receive returns the next event in FIFO order. ok is false once the
// channel is closed and drained, or when ctx is done.
func (c *Channel) Receive(ctx context.Context) (Event, bool) {
	// Drain queued events ahead of the close sentinel.
	select {
	case e := <-c.events:
		return e, true
	default:
	}
	select {
	case e := <-c.events:
		return e, true
	case <-c.done:
		// A concurrent Send may have slipped in before Close.
		select {
		case e := <-c.events:
			return e, true
		default:
			return Event{}, false
		}
	case <-ctx.Done():
		return Event{}, false
	}
}
