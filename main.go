package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dm-service/internal/auth"
	"dm-service/internal/broker"
	"dm-service/internal/config"
	"dm-service/internal/db"
	"dm-service/internal/events"
	grpcserver "dm-service/internal/grpc"
	"dm-service/internal/janitor"
	"dm-service/internal/logger"
	"dm-service/internal/messaging"
	"dm-service/internal/observability"
	"dm-service/internal/presence"
	"dm-service/internal/rabbitmq"
	"dm-service/internal/repositories"
	"dm-service/internal/server"
	"dm-service/internal/telemetry"
	"dm-service/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("failed to load config", zap.Error(err))
	}

	log, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		zap.Must(zap.NewProduction()).Fatal("failed to build logger", zap.Error(err))
	}
	defer log.Sync()
	if cfg.Environment != "development" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.Tracing.OTLPEndpoint, cfg.ServiceName, cfg.Environment, log)
	if err != nil {
		log.Fatal("failed to init tracing", zap.Error(err))
	}

	messages, members, closeStore := openStore(cfg, log)
	defer closeStore()

	hub := broker.NewHub()
	var publisher broker.Publisher = hub
	if cfg.AMQP.URL != "" {
		bridge, err := broker.NewAMQPBridge(cfg.AMQP.URL, cfg.AMQP.EventsExchange, hub, log)
		if err != nil {
			log.Fatal("failed to connect event bridge", zap.Error(err))
		}
		defer bridge.Close()
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("event bridge stopped", zap.Error(err))
				stop()
			}
		}()
		publisher = bridge
	}

	auditPublisher := rabbitmq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.AuditExchange, log)
	defer auditPublisher.Close()
	log.Info("audit publisher ready",
		zap.String("mode", rabbitmq.PublisherMode(auditPublisher)),
		zap.String("noop_reason", rabbitmq.PublisherNoopReason(auditPublisher)))
	observability.SetPublisher(auditPublisher)
	audit := telemetry.NewAuditEmitter(auditPublisher, cfg.AMQP.AuditRoutingKey, cfg.ServiceName, cfg.Environment, log)

	dist := events.NewDistributor(publisher, log)
	tracker := presence.NewTracker(hub, dist, log)
	validator := auth.NewJWTValidator(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	service := messaging.NewService(messages, members, dist, audit, log, messaging.Options{
		SendRPS:   cfg.Messaging.SendRPS,
		SendBurst: cfg.Messaging.SendBurst,
	})

	sweeper, err := janitor.New(messages, cfg.Messaging.PurgeCron, audit, log)
	if err != nil {
		log.Fatal("invalid janitor schedule", zap.Error(err))
	}
	go sweeper.Run(ctx)

	router := server.NewRouter(server.Deps{
		ServiceName: cfg.ServiceName,
		Log:         log,
		Messages:    service,
		Presence:    tracker,
		Validator:   validator,
		WebSocket:   ws.NewHandler(hub, tracker, validator, log).Handle,
		Audit:       audit,
		DebugRoutes: cfg.HTTP.DebugRoutes,
	})
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           server.WithCORS(router, cfg.HTTP.AllowedOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	health := grpcserver.NewHealthServer(cfg.ServiceName, log)
	lis, err := net.Listen("tcp", ":"+cfg.GRPC.HealthPort)
	if err != nil {
		log.Fatal("failed to listen for grpc health", zap.Error(err))
	}
	go func() {
		if err := health.Serve(lis); err != nil {
			log.Error("grpc health server stopped", zap.Error(err))
		}
	}()

	go func() {
		log.Info("http server listening", zap.String("addr", httpServer.Addr), zap.String("store", cfg.Storage.Driver))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	health.SetServing(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", zap.Error(err))
	}
	health.Stop()
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Warn("tracer shutdown failed", zap.Error(err))
	}
}

// openStore opens the configured message store and member directory.
func openStore(cfg config.Config, log *zap.Logger) (repositories.MessageRepository, repositories.MemberDirectory, func()) {
	switch cfg.Storage.Driver {
	case config.DriverPebble:
		pdb, err := db.OpenPebble(cfg.Storage.PebblePath)
		if err != nil {
			log.Fatal("failed to open pebble store", zap.String("path", cfg.Storage.PebblePath), zap.Error(err))
		}
		return repositories.NewPebbleMessageRepo(pdb), repositories.NewPebbleMemberRepo(pdb), func() {
			if err := pdb.Close(); err != nil {
				log.Warn("pebble close failed", zap.Error(err))
			}
		}
	default:
		database, err := db.Connect(cfg.Storage.DSN, log)
		if err != nil {
			log.Fatal("failed to connect to db", zap.Error(err))
		}
		return repositories.NewMessageRepo(database), repositories.NewMemberRepo(database), func() {
			database.Close()
		}
	}
}

