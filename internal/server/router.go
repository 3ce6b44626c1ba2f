// Package server assembles the HTTP surface of dm-service.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"dm-service/internal/auth"
	"dm-service/internal/handlers"
	"dm-service/internal/middleware"
	"dm-service/internal/observability"
	"dm-service/internal/telemetry"
)

// Deps are the collaborators the router mounts.
type Deps struct {
	ServiceName string
	Log         *zap.Logger
	Messages    handlers.MessageService
	Presence    handlers.PresenceLister
	Validator   auth.Validator
	WebSocket   gin.HandlerFunc
	Audit       *telemetry.AuditEmitter
	DebugRoutes bool
}

// NewRouter builds the gin engine with every route and middleware.
func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(d.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(middleware.RequestLogger(d.Log))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(observability.Handler()))

	authMiddleware := middleware.AuthMiddleware(d.Validator)
	handlers.NewMessageHandler(d.Messages, d.Log).Register(router, authMiddleware)
	router.GET("/presence", authMiddleware, handlers.NewPresenceHandler(d.Presence).ListMembers)
	if d.WebSocket != nil {
		router.GET("/ws", d.WebSocket)
	}
	handlers.RegisterDebugRoutes(router, d.Audit, d.DebugRoutes)

	return router
}

// WithCORS wraps h with the CORS policy. No origins means same-origin only.
func WithCORS(h http.Handler, origins []string) http.Handler {
	if len(origins) == 0 {
		return h
	}
	return cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID", "X-Device-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
	}).Handler(h)
}
