package observability

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_http_requests_total",
			Help: "Total number of HTTP requests processed by the dm service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dm_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dm_ws_active_connections",
			Help: "Number of active websocket sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
	messagesSentTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_messages_sent_total",
			Help: "Total number of direct messages stored.",
		},
	)
	messagesReadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_messages_read_total",
			Help: "Total number of messages that transitioned to read.",
		},
	)
	messagesPurgedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_messages_purged_total",
			Help: "Total number of fully deleted messages removed from storage.",
		},
		[]string{"path"},
	)
	brokerPublishFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dm_broker_publish_failures_total",
			Help: "Events that could not be handed to the broker.",
		},
		[]string{"event"},
	)
	brokerDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dm_broker_dropped_deliveries_total",
			Help: "Events dropped because a subscriber queue was full.",
		},
	)
	presenceMembers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dm_presence_members",
			Help: "Members currently present on this instance.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
		messagesSentTotal,
		messagesReadTotal,
		messagesPurgedTotal,
		brokerPublishFailuresTotal,
		brokerDroppedTotal,
		presenceMembers,
	)
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}

func IncMessageSent() {
	messagesSentTotal.Inc()
}

func AddMessagesRead(n int) {
	messagesReadTotal.Add(float64(n))
}

// AddMessagesPurged counts purges by path: "delete" or "sweep".
func AddMessagesPurged(path string, n int) {
	messagesPurgedTotal.WithLabelValues(path).Add(float64(n))
}

func IncBrokerPublishFailure(event string) {
	brokerPublishFailuresTotal.WithLabelValues(event).Inc()
}

func IncBrokerDropped() {
	brokerDroppedTotal.Inc()
}

func SetPresenceMembers(n int) {
	presenceMembers.Set(float64(n))
}
