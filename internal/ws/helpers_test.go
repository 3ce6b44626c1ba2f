package ws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-service/internal/models"
	"dm-service/internal/topics"
)

func TestOwnPresence(t *testing.T) {
	envelope := func(topic, event string, data any) models.Envelope {
		env, err := models.NewEnvelope(topic, event, data)
		require.NoError(t, err)
		return env
	}

	assert.True(t, ownPresence(envelope(topics.Presence, models.EventMemberAdded, models.PresencePayload{UserID: 1}), 1))
	assert.True(t, ownPresence(envelope(topics.Presence, models.EventMemberRemoved, models.PresencePayload{UserID: 1}), 1))
	assert.False(t, ownPresence(envelope(topics.Presence, models.EventMemberAdded, models.PresencePayload{UserID: 2}), 1))
	assert.False(t, ownPresence(envelope(topics.Presence, models.EventPresenceSnapshot, models.PresenceSnapshotPayload{Members: []int{1}}), 1))
	assert.False(t, ownPresence(envelope(topics.Notification(1), models.EventUnreadDelta, models.UnreadDeltaPayload{Delta: 1}), 1))
}
