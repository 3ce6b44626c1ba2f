package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	keys   []string
	events []AuditEnvelope
	err    error
}

func (p *capturePublisher) Publish(_ context.Context, routingKey string, event any) error {
	p.keys = append(p.keys, routingKey)
	if env, ok := event.(AuditEnvelope); ok {
		p.events = append(p.events, env)
	}
	return p.err
}

func (p *capturePublisher) Close() error { return nil }

func TestMessageDeletedCarriesRequestID(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit.dm-service", "dm-service", "test", nil)

	ctx := WithRequestID(context.Background(), "req-42")
	emitter.MessageDeleted(ctx, 7, "m1")

	require.Len(t, pub.events, 1)
	env := pub.events[0]
	assert.Equal(t, "audit.dm-service", pub.keys[0])
	assert.Equal(t, "audit_log", env.EventType)
	assert.Equal(t, "req-42", env.RequestID)
	require.NotNil(t, env.UserID)
	assert.Equal(t, "7", *env.UserID)
	assert.Contains(t, env.Payload.Text, "m1")
}

func TestMessagesPurged(t *testing.T) {
	pub := &capturePublisher{}
	emitter := NewAuditEmitter(pub, "audit", "dm-service", "test", nil)

	emitter.MessagesPurged(context.Background(), 3, nil)
	assert.Empty(t, pub.events)

	emitter.MessagesPurged(context.Background(), 0, []string{"a", "b"})
	require.Len(t, pub.events, 1)
	assert.Nil(t, pub.events[0].UserID)
	assert.Contains(t, pub.events[0].Payload.Text, "a,b")
}

func TestEmitToleratesFailuresAndNilEmitter(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	emitter := NewAuditEmitter(pub, "audit", "dm-service", "test", nil)
	emitter.Emit(context.Background(), "INFO", "x", "", nil)
	assert.Len(t, pub.events, 1)

	var none *AuditEmitter
	none.MessageDeleted(context.Background(), 1, "m1")
}

func TestInitTracerWithoutEndpoint(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), "", "dm-service", "test", nil)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
