package ws

import (
	"context"
	"time"

	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/topics"
)

// ownPresence reports whether env announces userID joining or leaving. The
// member's own sessions skip it: their snapshot already lists them.
func ownPresence(env models.Envelope, userID int) bool {
	if env.Topic != topics.Presence {
		return false
	}
	if env.Event != models.EventMemberAdded && env.Event != models.EventMemberRemoved {
		return false
	}
	var p models.PresencePayload
	return env.Decode(&p) == nil && p.UserID == userID
}

// publishLifecycle emits a ws_events envelope for the session. Failures are
// counted by the observability package and otherwise ignored.
func publishLifecycle(ctx context.Context, info ConnInfo, event, reason string) {
	observability.IncWSEvent(event)

	var duration int64
	if event != "ws_connect" {
		duration = time.Since(info.ConnectedAt).Milliseconds()
	}
	_ = observability.PublishEvent(ctx, observability.WSRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "dm",
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": duration,
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	}, observability.BuildHeaders(info.RequestID, info.TraceID))
}
