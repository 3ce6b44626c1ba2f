package broker

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"

	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/topics"
)

// Publisher hands an envelope to every subscriber of its topic.
type Publisher interface {
	Publish(ctx context.Context, env models.Envelope) error
}

const publishStripes = 64

// Hub routes envelopes to the sessions subscribed on this instance.
//
// Publishes to the same topic are serialised, so every subscriber receives a
// topic's events in publish order. Delivery never blocks: a subscriber whose
// queue is full misses the event.
type Hub struct {
	mu      sync.RWMutex
	rooms   map[string]map[*Client]struct{}
	present map[int]int
	stripes [publishStripes]sync.Mutex
	dropped atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		rooms:   make(map[string]map[*Client]struct{}),
		present: make(map[int]int),
	}
}

// Subscribe binds c to topic. It reports false when c was already subscribed.
func (h *Hub) Subscribe(c *Client, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	added, _ := h.subscribeLocked(c, topic)
	return added
}

// Unsubscribe removes c from topic. It reports false when c was not subscribed.
func (h *Hub) Unsubscribe(c *Client, topic string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed, _ := h.unsubscribeLocked(c, topic)
	return removed
}

// Join subscribes c to the presence topic. first is true when c is the
// member's first present session.
func (h *Hub) Join(c *Client) (first bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, first = h.subscribeLocked(c, topics.Presence)
	return first
}

// Leave unsubscribes c from the presence topic. last is true when the member
// has no present session left.
func (h *Hub) Leave(c *Client) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, last = h.unsubscribeLocked(c, topics.Presence)
	return last
}

// Remove drops every subscription of c. last reports a presence last-leave.
func (h *Hub) Remove(c *Client) (last bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic := range c.topics {
		if _, gone := h.unsubscribeLocked(c, topic); gone {
			last = true
		}
	}
	return last
}

func (h *Hub) subscribeLocked(c *Client, topic string) (added, firstPresence bool) {
	if _, ok := c.topics[topic]; ok {
		return false, false
	}
	room, ok := h.rooms[topic]
	if !ok {
		room = make(map[*Client]struct{})
		h.rooms[topic] = room
	}
	room[c] = struct{}{}
	c.topics[topic] = struct{}{}

	if topic == topics.Presence {
		h.present[c.UserID]++
		if h.present[c.UserID] == 1 {
			firstPresence = true
			h.presenceChangedLocked()
		}
	}
	return true, firstPresence
}

func (h *Hub) unsubscribeLocked(c *Client, topic string) (removed, lastPresence bool) {
	if _, ok := c.topics[topic]; !ok {
		return false, false
	}
	delete(c.topics, topic)
	if room, ok := h.rooms[topic]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(h.rooms, topic)
		}
	}

	if topic == topics.Presence {
		h.present[c.UserID]--
		if h.present[c.UserID] <= 0 {
			delete(h.present, c.UserID)
			lastPresence = true
			h.presenceChangedLocked()
		}
	}
	return true, lastPresence
}

func (h *Hub) presenceChangedLocked() {
	observability.SetPresenceMembers(len(h.present))
}

// Members returns the present member ids in ascending order.
func (h *Hub) Members() []int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := make([]int, 0, len(h.present))
	for userID := range h.present {
		members = append(members, userID)
	}
	sort.Ints(members)
	return members
}

// Subscribers counts the sessions bound to topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[topic])
}

// Dropped counts deliveries lost to full subscriber queues.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// Publish delivers env to the current subscribers of env.Topic.
func (h *Hub) Publish(_ context.Context, env models.Envelope) error {
	stripe := &h.stripes[xxhash.Sum64String(env.Topic)%publishStripes]
	stripe.Lock()
	defer stripe.Unlock()

	h.mu.RLock()
	room := h.rooms[env.Topic]
	targets := make([]*Client, 0, len(room))
	for c := range room {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.Deliver(env) {
			h.dropped.Add(1)
			observability.IncBrokerDropped()
		}
	}
	return nil
}
