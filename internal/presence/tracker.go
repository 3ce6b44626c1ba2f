package presence

import (
	"context"

	"go.uber.org/zap"

	"dm-service/internal/broker"
	"dm-service/internal/events"
	"dm-service/internal/models"
	"dm-service/internal/topics"
)

// Tracker maintains who is online through the shared presence topic.
type Tracker struct {
	hub    *broker.Hub
	events *events.Distributor
	log    *zap.Logger
}

// NewTracker constructs a Tracker. Membership lives in hub; transitions are
// announced through dist.
func NewTracker(hub *broker.Hub, dist *events.Distributor, log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{hub: hub, events: dist, log: log}
}

// Join adds the session to presence and sends it the current member list.
// The first session of a member announces member:added.
func (t *Tracker) Join(ctx context.Context, c *broker.Client) {
	first := t.hub.Join(c)

	snapshot, err := models.NewEnvelope(topics.Presence, models.EventPresenceSnapshot, models.PresenceSnapshotPayload{Members: t.hub.Members()})
	if err == nil && !c.Deliver(snapshot) {
		t.log.Warn("presence snapshot dropped", zap.String("conn_id", c.ID), zap.Int("user_id", c.UserID))
	}

	if first {
		_ = t.events.MemberAdded(ctx, c.UserID)
	}
}

// Leave removes the session from presence. The last session of a member
// announces member:removed.
func (t *Tracker) Leave(ctx context.Context, c *broker.Client) {
	if t.hub.Leave(c) {
		_ = t.events.MemberRemoved(ctx, c.UserID)
	}
}

// Disconnect drops every subscription of a closing session.
func (t *Tracker) Disconnect(ctx context.Context, c *broker.Client) {
	if t.hub.Remove(c) {
		_ = t.events.MemberRemoved(ctx, c.UserID)
	}
}

// Members lists the members present on this instance.
func (t *Tracker) Members() []int {
	return t.hub.Members()
}
