package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dm-service/internal/broker"
	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/topics"
)

// Distributor turns state changes into topic events. A failed publish is
// logged and counted, then returned so the caller may ignore it; it never
// undoes the write that caused it.
type Distributor struct {
	publisher broker.Publisher
	log       *zap.Logger
}

// NewDistributor wraps publisher.
func NewDistributor(publisher broker.Publisher, log *zap.Logger) *Distributor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Distributor{publisher: publisher, log: log}
}

func (d *Distributor) publish(ctx context.Context, topic, event string, data any) error {
	env, err := models.NewEnvelope(topic, event, data)
	if err == nil {
		err = d.publisher.Publish(ctx, env)
	}
	if err != nil {
		observability.IncBrokerPublishFailure(event)
		d.log.Warn("event publish failed", zap.String("topic", topic), zap.String("event", event), zap.Error(err))
	}
	return err
}

// MessageNew announces a stored message on its thread topic.
func (d *Distributor) MessageNew(ctx context.Context, msg models.MessageSummary) error {
	return d.publish(ctx, topics.Thread(msg.SenderID, msg.RecipientID), models.EventMessageNew, models.MessageNewPayload{Message: msg})
}

// MessagesRead announces the ids readerID just read in the thread with otherID.
func (d *Distributor) MessagesRead(ctx context.Context, readerID, otherID int, ids []string, readAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return d.publish(ctx, topics.Thread(readerID, otherID), models.EventMessagesRead, models.MessagesReadPayload{
		MessageIDs: ids,
		ReadAt:     readAt,
		ReaderID:   readerID,
	})
}

// UnreadDelta adjusts the badge of userID. A zero delta is not published.
func (d *Distributor) UnreadDelta(ctx context.Context, userID, delta int) error {
	if delta == 0 {
		return nil
	}
	return d.publish(ctx, topics.Notification(userID), models.EventUnreadDelta, models.UnreadDeltaPayload{Delta: delta})
}

// MemberAdded announces a first join on the presence topic.
func (d *Distributor) MemberAdded(ctx context.Context, userID int) error {
	return d.publish(ctx, topics.Presence, models.EventMemberAdded, models.PresencePayload{UserID: userID})
}

// MemberRemoved announces a last leave on the presence topic.
func (d *Distributor) MemberRemoved(ctx context.Context, userID int) error {
	return d.publish(ctx, topics.Presence, models.EventMemberRemoved, models.PresencePayload{UserID: userID})
}
