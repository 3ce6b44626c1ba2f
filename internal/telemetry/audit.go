package telemetry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	log         *zap.Logger
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level string `json:"level"`
	Text  string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string, log *zap.Logger) *AuditEmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		log:         log,
	}
}

func (e *AuditEmitter) Emit(ctx context.Context, level, text, requestID string, userID *string) {
	if e == nil || e.publisher == nil {
		return
	}

	e.log.Debug("audit emit", zap.String("level", level), zap.String("request_id", requestID), zap.Stringp("user_id", userID), zap.String("text", text))
	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     requestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level: level,
			Text:  text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		e.log.Warn("audit publish failed", zap.Error(err))
	}
}

// MessageDeleted records a one-sided delete.
func (e *AuditEmitter) MessageDeleted(ctx context.Context, userID int, messageID string) {
	uid := strconv.Itoa(userID)
	e.Emit(ctx, "INFO", fmt.Sprintf("message %s deleted by user %d", messageID, userID), RequestIDFromContext(ctx), &uid)
}

// MessagesPurged records messages removed after both participants deleted them.
// A zero userID marks a background sweep.
func (e *AuditEmitter) MessagesPurged(ctx context.Context, userID int, messageIDs []string) {
	if len(messageIDs) == 0 {
		return
	}
	var uid *string
	if userID > 0 {
		s := strconv.Itoa(userID)
		uid = &s
	}
	e.Emit(ctx, "INFO", fmt.Sprintf("purged %d message(s): %s", len(messageIDs), strings.Join(messageIDs, ",")), RequestIDFromContext(ctx), uid)
}

type requestIDKey struct{}

// WithRequestID stores the request id for audit events emitted further down.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the id stored by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
