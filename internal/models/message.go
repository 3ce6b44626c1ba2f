package models

import "time"

// Message represents a direct message between two members.
type Message struct {
	ID               string     `db:"id" json:"id"`
	SenderID         int        `db:"sender_id" json:"sender_id"`
	RecipientID      int        `db:"recipient_id" json:"recipient_id"`
	Text             string     `db:"text" json:"text"`
	Created          time.Time  `db:"created" json:"created"`
	DateRead         *time.Time `db:"date_read" json:"date_read"`
	SenderDeleted    bool       `db:"sender_deleted" json:"sender_deleted"`
	RecipientDeleted bool       `db:"recipient_deleted" json:"recipient_deleted"`
}

// IsParticipant reports whether userID is the sender or the recipient.
func (m Message) IsParticipant(userID int) bool {
	return m.SenderID == userID || m.RecipientID == userID
}

// VisibleTo applies the per-side tombstone rules.
func (m Message) VisibleTo(userID int) bool {
	switch userID {
	case m.SenderID:
		return !m.SenderDeleted
	case m.RecipientID:
		return !m.RecipientDeleted
	}
	return false
}

// Purgeable is true once both sides have deleted the message.
func (m Message) Purgeable() bool {
	return m.SenderDeleted && m.RecipientDeleted
}

// Counterpart returns the other participant of the message.
func (m Message) Counterpart(userID int) int {
	if m.SenderID == userID {
		return m.RecipientID
	}
	return m.SenderID
}

// Container is a single-sided view over a member's messages.
type Container string

const (
	ContainerInbox  Container = "inbox"
	ContainerOutbox Container = "outbox"
)

// ParseContainer validates a container name. An empty name means inbox.
func ParseContainer(s string) (Container, bool) {
	switch Container(s) {
	case "", ContainerInbox:
		return ContainerInbox, true
	case ContainerOutbox:
		return ContainerOutbox, true
	}
	return "", false
}

// Member is the subset of a member profile shown next to messages.
type Member struct {
	UserID    int     `db:"user_id" json:"user_id"`
	FirstName string  `db:"first_name" json:"first_name"`
	LastName  string  `db:"last_name" json:"last_name"`
	Image     *string `db:"image" json:"image"`
}

// MessageSummary is the API view of a message with both participants resolved.
type MessageSummary struct {
	Message
	SenderFirstName    string  `json:"sender_first_name,omitempty"`
	SenderLastName     string  `json:"sender_last_name,omitempty"`
	SenderImage        *string `json:"sender_image,omitempty"`
	RecipientFirstName string  `json:"recipient_first_name,omitempty"`
	RecipientLastName  string  `json:"recipient_last_name,omitempty"`
	RecipientImage     *string `json:"recipient_image,omitempty"`
}

// Summarize attaches member details to a message. Unknown members are left blank.
func Summarize(m Message, members map[int]Member) MessageSummary {
	s := MessageSummary{Message: m}
	if sender, ok := members[m.SenderID]; ok {
		s.SenderFirstName = sender.FirstName
		s.SenderLastName = sender.LastName
		s.SenderImage = sender.Image
	}
	if recipient, ok := members[m.RecipientID]; ok {
		s.RecipientFirstName = recipient.FirstName
		s.RecipientLastName = recipient.LastName
		s.RecipientImage = recipient.Image
	}
	return s
}

// OpenedThread is the result of opening a thread: the visible messages and
// the change applied to the viewer's unread badge.
type OpenedThread struct {
	Messages    []MessageSummary `json:"messages"`
	UnreadDelta int              `json:"unread_delta"`
}
