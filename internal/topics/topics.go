// Package topics names the pub/sub channels used for direct messaging.
package topics

import (
	"strconv"
	"strings"
)

// Presence is the single topic every connected session joins.
const Presence = "presence"

const (
	threadPrefix       = "thread."
	notificationPrefix = "user."
)

// Thread returns the topic shared by the two participants of a conversation.
// The pair is ordered numerically so both sides compute the same name.
func Thread(a, b int) string {
	if a > b {
		a, b = b, a
	}
	return threadPrefix + strconv.Itoa(a) + "." + strconv.Itoa(b)
}

// Notification returns the personal topic of a member.
func Notification(userID int) string {
	return notificationPrefix + strconv.Itoa(userID)
}

// ParseThread extracts the ordered pair from a thread topic.
func ParseThread(topic string) (int, int, bool) {
	rest, ok := strings.CutPrefix(topic, threadPrefix)
	if !ok {
		return 0, 0, false
	}
	left, right, ok := strings.Cut(rest, ".")
	if !ok {
		return 0, 0, false
	}
	a, err := strconv.Atoi(left)
	if err != nil {
		return 0, 0, false
	}
	b, err := strconv.Atoi(right)
	if err != nil || a > b || Thread(a, b) != topic {
		return 0, 0, false
	}
	return a, b, true
}

// ParseNotification extracts the member id from a personal topic.
func ParseNotification(topic string) (int, bool) {
	rest, ok := strings.CutPrefix(topic, notificationPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(rest)
	if err != nil || Notification(id) != topic {
		return 0, false
	}
	return id, true
}

// IsThreadMember reports whether userID is one of the participants of topic.
func IsThreadMember(topic string, userID int) bool {
	a, b, ok := ParseThread(topic)
	return ok && (a == userID || b == userID)
}
