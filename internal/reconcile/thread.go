// Package reconcile folds server events into client-side state: the open
// thread, the unread badge and the presence list.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"

	"dm-service/internal/models"
	"dm-service/internal/topics"
)

// ErrInvalidCounterpart is returned when a view is opened on the viewer itself.
var ErrInvalidCounterpart = errors.New("invalid counterpart")

// Subscriber binds the event stream to thread topics.
type Subscriber interface {
	Subscribe(ctx context.Context, otherID int) error
	Unsubscribe(ctx context.Context, otherID int) error
}

// State of a ThreadView.
type State int

const (
	Idle State = iota
	Subscribed
)

func (s State) String() string {
	if s == Subscribed {
		return "subscribed"
	}
	return "idle"
}

// ThreadView is the message list of the thread currently on screen. It holds
// at most one thread subscription at a time.
type ThreadView struct {
	mu       sync.Mutex
	viewerID int
	sub      Subscriber

	state    State
	otherID  int
	topic    string
	messages []models.MessageSummary
	known    map[string]struct{}
}

// NewThreadView creates an idle view for viewerID.
func NewThreadView(viewerID int, sub Subscriber) *ThreadView {
	return &ThreadView{viewerID: viewerID, sub: sub, known: make(map[string]struct{})}
}

// Open binds the view to the thread with otherID and seeds it with initial.
// Any previous thread is unsubscribed first.
func (v *ThreadView) Open(ctx context.Context, otherID int, initial []models.MessageSummary) error {
	if otherID <= 0 || otherID == v.viewerID {
		return ErrInvalidCounterpart
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if v.state == Subscribed && v.otherID != otherID {
		if err := v.closeLocked(ctx); err != nil {
			return err
		}
	}
	if v.state == Idle {
		if err := v.sub.Subscribe(ctx, otherID); err != nil {
			return err
		}
		v.state = Subscribed
		v.otherID = otherID
		v.topic = topics.Thread(v.viewerID, otherID)
	}

	v.messages = v.messages[:0]
	v.known = make(map[string]struct{}, len(initial))
	for _, m := range initial {
		v.insertLocked(m)
	}
	return nil
}

// Close unsubscribes and clears the view. Closing an idle view is a no-op.
func (v *ThreadView) Close(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.closeLocked(ctx)
}

func (v *ThreadView) closeLocked(ctx context.Context) error {
	if v.state == Idle {
		return nil
	}
	if err := v.sub.Unsubscribe(ctx, v.otherID); err != nil {
		return err
	}
	v.state = Idle
	v.otherID = 0
	v.topic = ""
	v.messages = nil
	v.known = make(map[string]struct{})
	return nil
}

// State reports whether the view is bound to a thread.
func (v *ThreadView) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Topic is the bound thread topic, empty when idle.
func (v *ThreadView) Topic() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.topic
}

// Messages returns a copy of the list in (created, id) order.
func (v *ThreadView) Messages() []models.MessageSummary {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]models.MessageSummary, len(v.messages))
	copy(out, v.messages)
	return out
}

// AppendLocal inserts a message the viewer just sent, ahead of its echo. It
// reports false when the view is idle, the message belongs to another thread
// or it is already present.
func (v *ThreadView) AppendLocal(m models.MessageSummary) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Subscribed || topics.Thread(m.SenderID, m.RecipientID) != v.topic {
		return false
	}
	return v.insertLocked(m)
}

// Merge folds a fetch made after Open subscribed into the list, so nothing
// published between the subscription and the fetch is lost. Known messages
// only pick up a read time they lack. It returns how many messages were added.
func (v *ThreadView) Merge(fetched []models.MessageSummary) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Subscribed {
		return 0
	}

	added := 0
	for _, m := range fetched {
		if topics.Thread(m.SenderID, m.RecipientID) != v.topic {
			continue
		}
		if v.insertLocked(m) {
			added++
			continue
		}
		if m.DateRead == nil {
			continue
		}
		for i := range v.messages {
			if v.messages[i].ID == m.ID && v.messages[i].DateRead == nil {
				at := *m.DateRead
				v.messages[i].DateRead = &at
			}
		}
	}
	return added
}

// Apply folds a thread event into the list and reports whether it changed.
// Events for other topics and events while idle are ignored.
func (v *ThreadView) Apply(env models.Envelope) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != Subscribed || env.Topic != v.topic {
		return false
	}

	switch env.Event {
	case models.EventMessageNew:
		var p models.MessageNewPayload
		if err := env.Decode(&p); err != nil {
			return false
		}
		return v.insertLocked(p.Message)
	case models.EventMessagesRead:
		var p models.MessagesReadPayload
		if err := env.Decode(&p); err != nil {
			return false
		}
		return v.markReadLocked(p)
	}
	return false
}

func (v *ThreadView) insertLocked(m models.MessageSummary) bool {
	if m.ID == "" {
		return false
	}
	if _, ok := v.known[m.ID]; ok {
		return false
	}
	i := sort.Search(len(v.messages), func(i int) bool {
		return before(m, v.messages[i])
	})
	v.messages = append(v.messages, models.MessageSummary{})
	copy(v.messages[i+1:], v.messages[i:])
	v.messages[i] = m
	v.known[m.ID] = struct{}{}
	return true
}

// markReadLocked sets date_read on the listed messages the reader received.
// Unknown ids and already-read messages are left alone.
func (v *ThreadView) markReadLocked(p models.MessagesReadPayload) bool {
	if len(p.MessageIDs) == 0 {
		return false
	}
	ids := make(map[string]struct{}, len(p.MessageIDs))
	for _, id := range p.MessageIDs {
		ids[id] = struct{}{}
	}

	changed := false
	for i := range v.messages {
		m := &v.messages[i]
		if _, ok := ids[m.ID]; !ok || m.DateRead != nil || m.RecipientID != p.ReaderID {
			continue
		}
		at := p.ReadAt
		m.DateRead = &at
		changed = true
	}
	return changed
}

func before(a, b models.MessageSummary) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.Before(b.Created)
	}
	return a.ID < b.ID
}
