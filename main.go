package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"google.golang.org/grpc"

	"fyzo-chat/internal/config"
	"fyzo-chat/internal/db"
	grpcserver "fyzo-chat/internal/grpc"
	"fyzo-chat/internal/handlers"
	"fyzo-chat/internal/identity"
	"fyzo-chat/internal/middleware"
	"fyzo-chat/internal/observability"
	"fyzo-chat/internal/rabbitmq"
	"fyzo-chat/internal/relay"
	"fyzo-chat/internal/repositories"
	"fyzo-chat/internal/service"
	"fyzo-chat/internal/telemetry"
	"fyzo-chat/internal/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger := observability.NewLogger("dev")
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg.Env)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("chat service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("chat service stopped")
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.ServiceName, cfg.OTLPEndpoint, cfg.Env, logger)
	if err != nil {
		return err
	}
	defer shutdownTracer(context.Background())

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("store close failed", "error", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange, logger)
	defer publisher.Close()
	observability.SetPublisher(publisher)
	logger.Info("event publisher ready", "mode", rabbitmq.PublisherMode(publisher), "reason", rabbitmq.PublisherNoopReason(publisher))
	audit := telemetry.NewAuditEmitter(publisher, "audit.chat", cfg.ServiceName, cfg.Env, logger)

	hub := ws.NewHub(logger)
	var broadcaster service.Broadcaster = hub
	var online service.Presence = hub
	var tracker ws.PresenceTracker = ws.LocalPresence{}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		fanout := relay.New(rdb, cfg.RedisChannel, hub, logger)
		go func() {
			if err := fanout.Run(ctx); err != nil {
				logger.Error("relay stopped", "error", err)
			}
		}()
		broadcaster = fanout
		presence := relay.NewPresence(rdb, cfg.RedisPrefix, hub, logger)
		online, tracker = presence, presence
	}

	svc := service.NewChatService(store, broadcaster, online, publisher, logger)
	svc.StoreTimeout = cfg.StoreTimeout
	verifier := identity.NewVerifier(cfg.JWTSecret, store.Directory, cfg.SessionCheck)

	router := newRouter(cfg, logger, store, svc, hub, broadcaster, tracker, verifier, audit)

	grpcSrv := grpcserver.NewServer()
	health := grpcserver.RegisterHealth(grpcSrv, grpcserver.PingFunc(store.Ping), 10*time.Second, logger)
	go health.Run(ctx)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("grpc listen %s: %w", cfg.GRPCAddr, err)
	}
	go func() {
		if err := grpcSrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("grpc server failed", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("chat service starting", "port", cfg.Port, "grpc_addr", cfg.GRPCAddr, "store", store.Driver, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	grpcSrv.GracefulStop()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (repositories.Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	switch cfg.Store {
	case config.StorePostgres:
		database, err := db.Connect(connectCtx, cfg.DBDSN, logger)
		if err != nil {
			return repositories.Store{}, err
		}
		return repositories.NewPostgresBackend(database), nil
	case config.StoreMemory:
		logger.Warn("using in-memory chat store; data is lost on restart")
		return repositories.NewMemoryBackend(repositories.NewMemoryStore()), nil
	default:
		database, err := db.ConnectMongo(connectCtx, cfg.MongoURI, cfg.MongoDB, logger)
		if err != nil {
			return repositories.Store{}, err
		}
		return repositories.NewMongoBackend(database), nil
	}
}

func newRouter(cfg config.Config, logger *slog.Logger, store repositories.Store, svc *service.ChatService, hub *ws.Hub, broadcaster service.Broadcaster, tracker ws.PresenceTracker, verifier *identity.Verifier, audit *telemetry.AuditEmitter) *gin.Engine {
	if cfg.Env == "prod" || cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(observability.HTTPMetricsMiddleware())
	router.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	handlers.RegisterHealthRoutes(router, store.Driver, store.Ping)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, audit, cfg.DebugRoutes)

	api := router.Group("/api/v1/chats", middleware.AuthMiddleware(verifier))
	handlers.NewChatHandler(svc, audit, logger).Register(api)

	chatWS := ws.NewChatWebSocketHandler(hub, svc, broadcaster, verifier, cfg.CORSOrigins, logger).WithPresence(tracker)
	router.GET("/ws", chatWS.Handle)
	return router
}

func corsConfig(origins []string) cors.Config {
	c := cors.DefaultConfig()
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", handlers.ConnectionIDHeader, "X-Request-ID", "X-Device-ID")
	c.ExposeHeaders = []string{"X-Request-ID"}
	for _, o := range origins {
		if o == "*" {
			c.AllowAllOrigins = true
			return c
		}
	}
	c.AllowOrigins = origins
	c.AllowCredentials = true
	return c
}
