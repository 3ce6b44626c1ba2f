package broker

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dm-service/internal/models"
	"dm-service/internal/topics"
)

func envelope(t *testing.T, topic string, n int) models.Envelope {
	t.Helper()
	env, err := models.NewEnvelope(topic, models.EventUnreadDelta, models.UnreadDeltaPayload{Delta: n})
	require.NoError(t, err)
	return env
}

func drain(c *Client) []models.Envelope {
	var out []models.Envelope
	for {
		select {
		case env := <-c.Outbound():
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestHubSubscribeIsIdempotent(t *testing.T) {
	hub := NewHub()
	c := NewClient("c1", 1, 8)
	topic := topics.Thread(1, 2)

	assert.True(t, hub.Subscribe(c, topic))
	assert.False(t, hub.Subscribe(c, topic))
	assert.Equal(t, 1, hub.Subscribers(topic))

	require.NoError(t, hub.Publish(context.Background(), envelope(t, topic, 1)))
	assert.Len(t, drain(c), 1, "double subscribe must not double deliver")

	assert.True(t, hub.Unsubscribe(c, topic))
	assert.False(t, hub.Unsubscribe(c, topic))
	assert.Zero(t, hub.Subscribers(topic))
	assert.Empty(t, hub.rooms)
}

func TestHubDeliversOnlyToTopicSubscribers(t *testing.T) {
	hub := NewHub()
	a := NewClient("a", 1, 8)
	b := NewClient("b", 3, 8)
	hub.Subscribe(a, topics.Thread(1, 2))
	hub.Subscribe(b, topics.Thread(3, 4))

	require.NoError(t, hub.Publish(context.Background(), envelope(t, topics.Thread(2, 1), 1)))

	assert.Len(t, drain(a), 1)
	assert.Empty(t, drain(b))
}

func TestHubPreservesPublishOrderPerTopic(t *testing.T) {
	hub := NewHub()
	topic := topics.Thread(1, 2)
	subs := []*Client{NewClient("a", 1, 256), NewClient("b", 2, 256)}
	for _, c := range subs {
		hub.Subscribe(c, topic)
	}

	for i := 0; i < 100; i++ {
		require.NoError(t, hub.Publish(context.Background(), envelope(t, topic, i)))
	}

	for _, c := range subs {
		got := drain(c)
		require.Len(t, got, 100)
		for i, env := range got {
			var p models.UnreadDeltaPayload
			require.NoError(t, env.Decode(&p))
			assert.Equal(t, i, p.Delta)
		}
	}
}

func TestHubConcurrentPublishersSeeSameOrder(t *testing.T) {
	hub := NewHub()
	topic := topics.Thread(5, 6)
	a := NewClient("a", 5, 512)
	b := NewClient("b", 6, 512)
	hub.Subscribe(a, topic)
	hub.Subscribe(b, topic)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_ = hub.Publish(context.Background(), envelope(t, topic, w*1000+i))
			}
		}(w)
	}
	wg.Wait()

	seq := func(envs []models.Envelope) []string {
		out := make([]string, 0, len(envs))
		for _, env := range envs {
			out = append(out, string(env.Data))
		}
		return out
	}
	assert.Equal(t, seq(drain(a)), seq(drain(b)))
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	hub := NewHub()
	c := NewClient("slow", 1, 2)
	topic := topics.Notification(1)
	hub.Subscribe(c, topic)

	for i := 0; i < 5; i++ {
		require.NoError(t, hub.Publish(context.Background(), envelope(t, topic, i)))
	}

	assert.Len(t, drain(c), 2)
	assert.Equal(t, uint64(3), hub.Dropped())
}

func TestHubClosedClientIsNotCountedAsDrop(t *testing.T) {
	hub := NewHub()
	c := NewClient("gone", 1, 1)
	hub.Subscribe(c, topics.Notification(1))
	c.Close()
	c.Close()

	require.NoError(t, hub.Publish(context.Background(), envelope(t, topics.Notification(1), 1)))
	assert.Zero(t, hub.Dropped())
}

func TestHubPresenceTransitions(t *testing.T) {
	hub := NewHub()
	first := NewClient("tab1", 7, 4)
	second := NewClient("tab2", 7, 4)

	assert.True(t, hub.Join(first))
	assert.False(t, hub.Join(second), "second session is not a first join")
	assert.False(t, hub.Join(first), "rejoin is a no-op")
	assert.Equal(t, []int{7}, hub.Members())

	assert.False(t, hub.Leave(first))
	assert.False(t, hub.Leave(first), "double leave is a no-op")
	assert.Equal(t, []int{7}, hub.Members())

	hub.Subscribe(second, topics.Notification(7))
	assert.True(t, hub.Remove(second))
	assert.Empty(t, hub.Members())
	assert.Zero(t, hub.Subscribers(topics.Notification(7)))
}

func TestHubMembersSorted(t *testing.T) {
	hub := NewHub()
	for _, id := range []int{9, 3, 5} {
		hub.Join(NewClient(fmt.Sprint(id), id, 1))
	}
	assert.Equal(t, []int{3, 5, 9}, hub.Members())
}

func TestBridgeHandleFeedsHub(t *testing.T) {
	hub := NewHub()
	c := NewClient("c", 1, 4)
	hub.Subscribe(c, topics.Thread(1, 2))
	bridge := &AMQPBridge{hub: hub, log: zap.NewNop()}

	bridge.handle(context.Background(), []byte(`not json`))
	bridge.handle(context.Background(), []byte(`{"event":"message:new"}`))
	assert.Empty(t, drain(c))

	bridge.handle(context.Background(), []byte(`{"topic":"thread.1.2","event":"messages:read","data":{"message_ids":["m1"]}}`))
	got := drain(c)
	require.Len(t, got, 1)
	assert.Equal(t, models.EventMessagesRead, got[0].Event)
}
