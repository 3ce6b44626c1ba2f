package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	keys    []string
	headers []map[string]string
	err     error
}

func (p *recordingPublisher) PublishJSON(_ context.Context, routingKey string, _ interface{}, headers map[string]string) error {
	p.keys = append(p.keys, routingKey)
	p.headers = append(p.headers, headers)
	return p.err
}

func TestPublishEventUsesDefaultPublisher(t *testing.T) {
	t.Cleanup(func() { SetPublisher(nil) })
	assert.NoError(t, PublishEvent(context.Background(), WSRoutingKey, EventEnvelope{}, nil))

	pub := &recordingPublisher{}
	SetPublisher(pub)
	require.NoError(t, PublishEvent(context.Background(), WSRoutingKey, EventEnvelope{EventName: "ws_connect"}, BuildHeaders("req-1", "")))

	assert.Equal(t, []string{WSRoutingKey}, pub.keys)
	assert.Equal(t, map[string]string{"x-request-id": "req-1"}, pub.headers[0])

	pub.err = assert.AnError
	assert.ErrorIs(t, PublishEvent(context.Background(), WSRoutingKey, EventEnvelope{}, nil), assert.AnError)
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.1")
	assert.Equal(t, "1.2.3.4", IPFromRequest(req))
}

func TestBearerToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", BearerToken(req))

	req.Header.Set("Authorization", "Bearer abc")
	assert.Equal(t, "abc", BearerToken(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Empty(t, BearerToken(req))
}

func TestMetricsEndpointExposesCounters(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(Handler()))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))
	IncMessageSent()

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, `dm_http_requests_total{method="GET",route="/ping",status="204"}`))
	assert.Contains(t, body, "dm_messages_sent_total")
}

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)

	service, method = splitFullMethod("bad")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}
