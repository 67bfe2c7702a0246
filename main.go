package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	gorillahandlers "github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"recruit-chat/internal/cache"
	"recruit-chat/internal/config"
	"recruit-chat/internal/db"
	grpcserver "recruit-chat/internal/grpc"
	"recruit-chat/internal/handlers"
	"recruit-chat/internal/messaging"
	"recruit-chat/internal/middleware"
	"recruit-chat/internal/observability"
	"recruit-chat/internal/presence"
	"recruit-chat/internal/rabbitmq"
	"recruit-chat/internal/repositories"
	"recruit-chat/internal/rooms"
	"recruit-chat/internal/session"
	"recruit-chat/internal/telemetry"
	"recruit-chat/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.NewLogger("info", false, "recruit-chat")
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	observability.NewLogger(cfg.LogLevel, cfg.LogPretty, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}

	database, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	var roomCache cache.Cache
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedisCache(ctx, cfg.RedisURL)
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, room cache disabled")
		} else {
			defer rc.Close()
			roomCache = rc
		}
	}

	publisher := rabbitmq.NewPublisher(rabbitmq.Config{
		URL:      cfg.AMQPURL,
		Exchange: cfg.AMQPExchange,
		AppID:    cfg.ServiceName,
	})
	defer publisher.Close()
	mode, reason := rabbitmq.Describe(publisher)
	log.Info().Str("mode", mode).Str("reason", reason).Msg("event publisher ready")
	observability.SetPublisher(publisher, cfg.ServiceName)
	audit := telemetry.NewAuditEmitter(publisher, "audit_events.chat", cfg.ServiceName, cfg.Environment)

	conversationRepo := repositories.NewConversationRepo(database)
	messageRepo := repositories.NewMessageRepo(database)
	receiptRepo := repositories.NewReceiptRepo(database)

	auth := session.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer)
	resolver := rooms.NewResolver(conversationRepo, roomCache, cfg.RoomCacheTTL)
	messages := messaging.NewService(messageRepo, receiptRepo)

	hub := ws.NewHub(presence.NewTracker())
	gateway := ws.NewGateway(hub, resolver, messages, cfg.EventTimeout)
	wsOrigins := cfg.AllowedOrigins
	if cfg.AllowsAnyOrigin() {
		wsOrigins = nil
	}
	chatWS := ws.NewHandler(hub, gateway, auth, audit, wsOrigins)
	conversationHandler := handlers.NewConversationHandler(conversationRepo, messageRepo)

	go messaging.NewReconciler(receiptRepo, cfg.ReconcileInterval).Run(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// middlewares
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(handlers.RequestID())

	authMiddleware := middleware.AuthMiddleware(auth)

	router.GET("/conversations", authMiddleware, conversationHandler.ListConversations)
	router.GET("/conversations/:conversation_id/messages", authMiddleware, conversationHandler.ListMessages)

	router.GET("/ws", chatWS.Handle)

	router.GET("/healthz", handlers.Healthz(database))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.Environment == "development")

	cors := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins(cfg.AllowedOrigins),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Authorization", "Content-Type", "X-Request-ID"}),
	)
	server := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           cors(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	healthServer := grpcserver.NewHealthServer(database)
	go healthServer.Watch(ctx, 15*time.Second)
	go func() {
		if err := healthServer.Serve(net.JoinHostPort("", cfg.GRPCPort)); err != nil {
			log.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		log.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
	hub.Close()
	healthServer.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer shutdown")
	}
}
