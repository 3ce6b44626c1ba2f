package reconcile

import (
	"context"
	"sort"
	"sync"

	"dm-service/internal/models"
	"dm-service/internal/topics"
)

// UnreadCounter is the badge of one session. It is seeded from the server
// and afterwards moves only with unread:delta events on the member's topic.
type UnreadCounter struct {
	mu    sync.Mutex
	topic string
	count int
}

// NewUnreadCounter creates a zeroed badge for userID.
func NewUnreadCounter(userID int) *UnreadCounter {
	return &UnreadCounter{topic: topics.Notification(userID)}
}

// Seed replaces the count with an authoritative value.
func (u *UnreadCounter) Seed(n int) {
	if n < 0 {
		n = 0
	}
	u.mu.Lock()
	u.count = n
	u.mu.Unlock()
}

// Count returns the current badge value.
func (u *UnreadCounter) Count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.count
}

// Apply adds an unread delta. The badge never goes below zero.
func (u *UnreadCounter) Apply(env models.Envelope) bool {
	if env.Topic != u.topic || env.Event != models.EventUnreadDelta {
		return false
	}
	var p models.UnreadDeltaPayload
	if err := env.Decode(&p); err != nil || p.Delta == 0 {
		return false
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	next := u.count + p.Delta
	if next < 0 {
		next = 0
	}
	changed := next != u.count
	u.count = next
	return changed
}

// PresenceSet mirrors the members online, as seen through the presence topic.
type PresenceSet struct {
	mu      sync.Mutex
	members map[int]struct{}
}

// NewPresenceSet creates an empty set.
func NewPresenceSet() *PresenceSet {
	return &PresenceSet{members: make(map[int]struct{})}
}

// Apply folds a snapshot or a single join or leave.
func (p *PresenceSet) Apply(env models.Envelope) bool {
	if env.Topic != topics.Presence {
		return false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	switch env.Event {
	case models.EventPresenceSnapshot:
		var snap models.PresenceSnapshotPayload
		if err := env.Decode(&snap); err != nil {
			return false
		}
		p.members = make(map[int]struct{}, len(snap.Members))
		for _, id := range snap.Members {
			p.members[id] = struct{}{}
		}
		return true
	case models.EventMemberAdded, models.EventMemberRemoved:
		var change models.PresencePayload
		if err := env.Decode(&change); err != nil {
			return false
		}
		_, present := p.members[change.UserID]
		if env.Event == models.EventMemberAdded {
			p.members[change.UserID] = struct{}{}
			return !present
		}
		delete(p.members, change.UserID)
		return present
	}
	return false
}

// Online reports whether userID is present.
func (p *PresenceSet) Online(userID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.members[userID]
	return ok
}

// Members lists the present ids in ascending order.
func (p *PresenceSet) Members() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, 0, len(p.members))
	for id := range p.members {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Session owns the client state of one connection and routes events to it.
type Session struct {
	viewerID int

	Thread   *ThreadView
	Unread   *UnreadCounter
	Presence *PresenceSet
}

// NewSession builds the state for viewerID. sub binds thread topics.
func NewSession(viewerID int, sub Subscriber) *Session {
	return &Session{
		viewerID: viewerID,
		Thread:   NewThreadView(viewerID, sub),
		Unread:   NewUnreadCounter(viewerID),
		Presence: NewPresenceSet(),
	}
}

// Dispatch routes env by topic and reports whether any state changed.
func (s *Session) Dispatch(env models.Envelope) bool {
	switch {
	case env.Topic == topics.Presence:
		return s.Presence.Apply(env)
	case isNotification(env.Topic):
		return s.Unread.Apply(env)
	case topics.IsThreadMember(env.Topic, s.viewerID):
		return s.Thread.Apply(env)
	default:
		return false
	}
}

// Settle dispatches the events already buffered on events without waiting,
// dropping unread deltas: a count seeded just before already includes them.
// Call it right after Unread.Seed and before Run.
func (s *Session) Settle(events <-chan models.Envelope, notify func(models.Envelope)) {
	for {
		select {
		case env, ok := <-events:
			if !ok {
				return
			}
			if env.Event == models.EventUnreadDelta {
				continue
			}
			if s.Dispatch(env) && notify != nil {
				notify(env)
			}
		default:
			return
		}
	}
}

// Run dispatches events until ctx is done or events is closed. notify, when
// set, is called with every event that changed state.
func (s *Session) Run(ctx context.Context, events <-chan models.Envelope, notify func(models.Envelope)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env, ok := <-events:
			if !ok {
				return nil
			}
			if s.Dispatch(env) && notify != nil {
				notify(env)
			}
		}
	}
}

func isNotification(topic string) bool {
	_, ok := topics.ParseNotification(topic)
	return ok
}
