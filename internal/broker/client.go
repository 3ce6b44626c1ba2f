package broker

import (
	"sync"

	"dm-service/internal/models"
)

// DefaultQueueSize bounds the outbound queue of a session.
const DefaultQueueSize = 64

// Client is one subscriber session. Its topic set is owned by the Hub.
type Client struct {
	ID     string
	UserID int

	send      chan models.Envelope
	done      chan struct{}
	closeOnce sync.Once
	topics    map[string]struct{}
}

// NewClient creates a session for userID with a queue of queueSize events.
func NewClient(id string, userID, queueSize int) *Client {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Client{
		ID:     id,
		UserID: userID,
		send:   make(chan models.Envelope, queueSize),
		done:   make(chan struct{}),
		topics: make(map[string]struct{}),
	}
}

// Outbound yields queued events in delivery order.
func (c *Client) Outbound() <-chan models.Envelope {
	return c.send
}

// Done is closed once the session is closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Deliver enqueues env without blocking. It reports false when the queue is
// full; events for a closed session are discarded silently.
func (c *Client) Deliver(env models.Envelope) bool {
	select {
	case <-c.done:
		return true
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Close marks the session closed. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
