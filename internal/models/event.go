package models

import (
	"encoding/json"
	"time"
)

// Event names carried in Envelope.Event.
const (
	EventMessageNew       = "message:new"
	EventMessagesRead     = "messages:read"
	EventUnreadDelta      = "unread:delta"
	EventMemberAdded      = "member:added"
	EventMemberRemoved    = "member:removed"
	EventPresenceSnapshot = "presence:snapshot"
)

// Envelope is the wire format of every event published on a topic.
type Envelope struct {
	Topic  string          `json:"topic"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data"`
	SentAt time.Time       `json:"sent_at"`
}

// NewEnvelope marshals data into an envelope for topic.
func NewEnvelope(topic, event string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Topic: topic, Event: event, Data: raw, SentAt: time.Now().UTC()}, nil
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// MessageNewPayload is the body of message:new.
type MessageNewPayload struct {
	Message MessageSummary `json:"message"`
}

// MessagesReadPayload is the body of messages:read.
type MessagesReadPayload struct {
	MessageIDs []string  `json:"message_ids"`
	ReadAt     time.Time `json:"read_at"`
	ReaderID   int       `json:"reader_id"`
}

// UnreadDeltaPayload is the body of unread:delta. Delta may be negative.
type UnreadDeltaPayload struct {
	Delta int `json:"delta"`
}

// PresencePayload is the body of member:added and member:removed.
type PresencePayload struct {
	UserID int `json:"user_id"`
}

// PresenceSnapshotPayload lists the members present when a session joins.
type PresenceSnapshotPayload struct {
	Members []int `json:"members"`
}
