package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-service/internal/models"
	"dm-service/internal/topics"
)

type recordingSubscriber struct {
	mu    sync.Mutex
	calls []string
	fail  error
}

func (r *recordingSubscriber) Subscribe(_ context.Context, otherID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail != nil {
		return r.fail
	}
	r.calls = append(r.calls, fmt.Sprintf("sub:%d", otherID))
	return nil
}

func (r *recordingSubscriber) Unsubscribe(_ context.Context, otherID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("unsub:%d", otherID))
	return nil
}

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func msg(id string, from, to int, offset time.Duration) models.MessageSummary {
	return models.MessageSummary{Message: models.Message{
		ID: id, SenderID: from, RecipientID: to, Text: id, Created: base.Add(offset),
	}}
}

func envelope(t *testing.T, topic, event string, data any) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(topic, event, data)
	require.NoError(t, err)
	return env
}

func ids(list []models.MessageSummary) []string {
	out := make([]string, 0, len(list))
	for _, m := range list {
		out = append(out, m.ID)
	}
	return out
}

func TestThreadViewLifecycle(t *testing.T) {
	sub := &recordingSubscriber{}
	view := NewThreadView(1, sub)
	ctx := context.Background()

	assert.Equal(t, Idle, view.State())
	assert.ErrorIs(t, view.Open(ctx, 1, nil), ErrInvalidCounterpart)

	require.NoError(t, view.Open(ctx, 2, []models.MessageSummary{msg("b", 2, 1, time.Second), msg("a", 1, 2, 0)}))
	assert.Equal(t, Subscribed, view.State())
	assert.Equal(t, topics.Thread(1, 2), view.Topic())
	assert.Equal(t, []string{"a", "b"}, ids(view.Messages()))

	// Reopening the same thread refreshes without a second subscription.
	require.NoError(t, view.Open(ctx, 2, []models.MessageSummary{msg("a", 1, 2, 0)}))
	assert.Equal(t, []string{"a"}, ids(view.Messages()))

	// Switching threads unsubscribes first.
	require.NoError(t, view.Open(ctx, 3, nil))
	require.NoError(t, view.Close(ctx))
	require.NoError(t, view.Close(ctx))

	assert.Equal(t, []string{"sub:2", "unsub:2", "sub:3", "unsub:3"}, sub.calls)
	assert.Equal(t, Idle, view.State())
	assert.Empty(t, view.Messages())
}

func TestThreadViewSubscribeFailureStaysIdle(t *testing.T) {
	view := NewThreadView(1, &recordingSubscriber{fail: errors.New("socket closed")})
	require.Error(t, view.Open(context.Background(), 2, nil))
	assert.Equal(t, Idle, view.State())
}

func TestThreadViewDeduplicatesOptimisticAppend(t *testing.T) {
	view := NewThreadView(1, &recordingSubscriber{})
	require.NoError(t, view.Open(context.Background(), 2, nil))

	sent := msg("m1", 1, 2, 0)
	assert.True(t, view.AppendLocal(sent))
	assert.False(t, view.AppendLocal(sent))

	echo := envelope(t, topics.Thread(1, 2), models.EventMessageNew, models.MessageNewPayload{Message: sent})
	assert.False(t, view.Apply(echo))
	assert.Len(t, view.Messages(), 1)

	assert.False(t, view.AppendLocal(msg("x", 1, 3, 0)))
}

func TestThreadViewOrdersConcurrentArrivals(t *testing.T) {
	view := NewThreadView(1, &recordingSubscriber{})
	require.NoError(t, view.Open(context.Background(), 2, nil))
	topic := topics.Thread(1, 2)

	// Arrival order differs from creation order; ties break on id.
	for _, m := range []models.MessageSummary{
		msg("c", 2, 1, 2*time.Second),
		msg("b2", 1, 2, time.Second),
		msg("a", 1, 2, 0),
		msg("b1", 2, 1, time.Second),
	} {
		assert.True(t, view.Apply(envelope(t, topic, models.EventMessageNew, models.MessageNewPayload{Message: m})))
	}
	assert.Equal(t, []string{"a", "b1", "b2", "c"}, ids(view.Messages()))
}

func TestThreadViewIgnoresForeignEvents(t *testing.T) {
	view := NewThreadView(1, &recordingSubscriber{})
	foreign := envelope(t, topics.Thread(1, 3), models.EventMessageNew, models.MessageNewPayload{Message: msg("z", 3, 1, 0)})

	assert.False(t, view.Apply(foreign), "idle view")
	require.NoError(t, view.Open(context.Background(), 2, nil))
	assert.False(t, view.Apply(foreign))
	assert.Empty(t, view.Messages())
}

func TestThreadViewMarksRead(t *testing.T) {
	view := NewThreadView(1, &recordingSubscriber{})
	require.NoError(t, view.Open(context.Background(), 2, []models.MessageSummary{
		msg("out", 1, 2, 0),
		msg("in", 2, 1, time.Second),
	}))
	topic := topics.Thread(1, 2)
	readAt := base.Add(time.Minute)

	changed := view.Apply(envelope(t, topic, models.EventMessagesRead, models.MessagesReadPayload{
		MessageIDs: []string{"out", "scrolled-away"}, ReadAt: readAt, ReaderID: 2,
	}))
	assert.True(t, changed)

	list := view.Messages()
	require.NotNil(t, list[0].DateRead)
	assert.True(t, readAt.Equal(*list[0].DateRead))
	assert.Nil(t, list[1].DateRead)

	// date_read is set once.
	later := envelope(t, topic, models.EventMessagesRead, models.MessagesReadPayload{
		MessageIDs: []string{"out"}, ReadAt: readAt.Add(time.Hour), ReaderID: 2,
	})
	assert.False(t, view.Apply(later))
	assert.True(t, readAt.Equal(*view.Messages()[0].DateRead))
}

func TestUnreadCounter(t *testing.T) {
	badge := NewUnreadCounter(7)
	badge.Seed(2)
	own := topics.Notification(7)

	assert.True(t, badge.Apply(envelope(t, own, models.EventUnreadDelta, models.UnreadDeltaPayload{Delta: 1})))
	assert.Equal(t, 3, badge.Count())

	assert.False(t, badge.Apply(envelope(t, topics.Notification(8), models.EventUnreadDelta, models.UnreadDeltaPayload{Delta: 5})))
	assert.False(t, badge.Apply(envelope(t, own, models.EventMemberAdded, models.PresencePayload{UserID: 1})))

	badge.Apply(envelope(t, own, models.EventUnreadDelta, models.UnreadDeltaPayload{Delta: -10}))
	assert.Zero(t, badge.Count())
}

func TestPresenceSet(t *testing.T) {
	set := NewPresenceSet()

	assert.True(t, set.Apply(envelope(t, topics.Presence, models.EventPresenceSnapshot, models.PresenceSnapshotPayload{Members: []int{4, 2}})))
	assert.Equal(t, []int{2, 4}, set.Members())

	assert.True(t, set.Apply(envelope(t, topics.Presence, models.EventMemberAdded, models.PresencePayload{UserID: 9})))
	assert.False(t, set.Apply(envelope(t, topics.Presence, models.EventMemberAdded, models.PresencePayload{UserID: 9})))
	assert.True(t, set.Apply(envelope(t, topics.Presence, models.EventMemberRemoved, models.PresencePayload{UserID: 2})))
	assert.False(t, set.Online(2))
	assert.True(t, set.Online(9))
	assert.Equal(t, []int{4, 9}, set.Members())
}

func TestSessionRoutesByTopic(t *testing.T) {
	session := NewSession(1, &recordingSubscriber{})
	require.NoError(t, session.Thread.Open(context.Background(), 2, nil))
	session.Unread.Seed(1)

	events := make(chan models.Envelope, 4)
	events <- envelope(t, topics.Presence, models.EventPresenceSnapshot, models.PresenceSnapshotPayload{Members: []int{1, 2}})
	events <- envelope(t, topics.Notification(1), models.EventUnreadDelta, models.UnreadDeltaPayload{Delta: 1})
	events <- envelope(t, topics.Thread(1, 2), models.EventMessageNew, models.MessageNewPayload{Message: msg("m", 2, 1, 0)})
	events <- envelope(t, topics.Thread(1, 2), models.EventMessageNew, models.MessageNewPayload{Message: msg("m", 2, 1, 0)})
	close(events)

	var notified []string
	require.NoError(t, session.Run(context.Background(), events, func(env models.Envelope) {
		notified = append(notified, env.Event)
	}))

	assert.Equal(t, []string{models.EventPresenceSnapshot, models.EventUnreadDelta, models.EventMessageNew}, notified)
	assert.Equal(t, 2, session.Unread.Count())
	assert.Equal(t, []int{1, 2}, session.Presence.Members())
	assert.Equal(t, []string{"m"}, ids(session.Thread.Messages()))
}

func TestSessionRunStopsOnCancel(t *testing.T) {
	session := NewSession(1, &recordingSubscriber{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, session.Run(ctx, make(chan models.Envelope), nil), context.Canceled)
}

func TestThreadViewMergeAfterSubscribing(t *testing.T) {
	view := NewThreadView(1, &recordingSubscriber{})
	require.NoError(t, view.Open(context.Background(), 2, nil))

	// Sent while the fetch was in flight: delivered live, also in the fetch.
	assert.True(t, view.Apply(envelope(t, topics.Thread(1, 2), models.EventMessageNew, models.MessageNewPayload{Message: msg("live", 2, 1, time.Minute)})))

	readAt := base.Add(time.Hour)
	fetchedLive := msg("live", 2, 1, time.Minute)
	fetchedLive.DateRead = &readAt
	fetched := []models.MessageSummary{msg("old", 1, 2, 0), fetchedLive, msg("stray", 3, 1, 0)}

	assert.Equal(t, 1, view.Merge(fetched))
	got := view.Messages()
	assert.Equal(t, []string{"old", "live"}, ids(got))
	require.NotNil(t, got[1].DateRead)
	assert.True(t, readAt.Equal(*got[1].DateRead))

	assert.Zero(t, view.Merge(fetched))
	assert.Zero(t, NewThreadView(1, &recordingSubscriber{}).Merge(fetched), "idle view")
}

func TestSessionSettleDropsDeltasCoveredBySeed(t *testing.T) {
	session := NewSession(1, &recordingSubscriber{})

	events := make(chan models.Envelope, 4)
	events <- envelope(t, topics.Notification(1), models.EventUnreadDelta, models.UnreadDeltaPayload{Delta: 1})
	events <- envelope(t, topics.Presence, models.EventPresenceSnapshot, models.PresenceSnapshotPayload{Members: []int{1, 5}})
	events <- envelope(t, topics.Notification(1), models.EventUnreadDelta, models.UnreadDeltaPayload{Delta: 1})

	// The seed was read after both deltas were persisted.
	session.Unread.Seed(2)
	var notified []string
	session.Settle(events, func(env models.Envelope) { notified = append(notified, env.Event) })

	assert.Equal(t, 2, session.Unread.Count())
	assert.Equal(t, []int{1, 5}, session.Presence.Members())
	assert.Equal(t, []string{models.EventPresenceSnapshot}, notified)
	assert.Empty(t, events)

	// Later deltas still count.
	events <- envelope(t, topics.Notification(1), models.EventUnreadDelta, models.UnreadDeltaPayload{Delta: -1})
	close(events)
	require.NoError(t, session.Run(context.Background(), events, nil))
	assert.Equal(t, 1, session.Unread.Count())
}
