// call-service is the HTTP face of the call layer: the session REST API,
// push-backed ringing, and the realtime WebSocket gateway browser clients
// use for signal exchange.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"careconnect-backend/internal/config"
	"careconnect-backend/internal/events"
	callHandler "careconnect-backend/internal/handler/http/call"
	pushHandler "careconnect-backend/internal/handler/http/push"
	wsHandler "careconnect-backend/internal/handler/ws"
	"careconnect-backend/internal/middleware"
	"careconnect-backend/internal/repository/postgres"
	redisrepo "careconnect-backend/internal/repository/redis"
	callService "careconnect-backend/internal/service/call"
	"careconnect-backend/internal/signaling"
	"careconnect-backend/internal/telemetry"
	"careconnect-backend/pkg/audit"
	"careconnect-backend/pkg/constants"
	"careconnect-backend/pkg/database"
	"careconnect-backend/pkg/jwt"
	"careconnect-backend/pkg/logger"
	"careconnect-backend/pkg/metrics"
	"careconnect-backend/pkg/push"
)

const serviceName = "call-service"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger.InitDefault(cfg.Env)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tracerProvider, err := telemetry.InitTracer(serviceName, "1.0.0")
	if err != nil {
		logger.Warn("Tracer init failed, continuing without tracing", zap.Error(err))
	}

	// PostgreSQL: sessions, signals, call history.
	dbPort, _ := strconv.Atoi(cfg.DBPort)
	pg, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:     cfg.DBHost,
		Port:     dbPort,
		User:     cfg.DBUser,
		Password: cfg.DBPass,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	})
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pg.Pool.Close()
	logger.Info("Connected to PostgreSQL")

	// Redis: signal fan-out, directory cache, push tokens, audit trail.
	redisPort, _ := strconv.Atoi(cfg.RedisPort)
	redisClient := database.NewRedisClient(&database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     redisPort,
		Password: cfg.RedisPass,
		DB:       0,
		PoolSize: 10,
		Timeout:  5 * time.Second,
	})
	defer redisClient.Close()
	go redisClient.StartHealthCheck(ctx, 10*time.Second)

	signalStore := signaling.NewStore(pg.Pool, redisClient)
	if err := signalStore.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize signaling schema: %v", err)
	}

	// Repositories
	userRepo := postgres.NewUserRepository(pg.Pool)
	callRepo := postgres.NewCallRepository(pg.Pool)
	directory := redisrepo.NewDirectoryRepository(redisClient, userRepo)
	tokenRepo := redisrepo.NewPushTokenRepository(redisClient)

	// Push notifications (mock provider unless PUSH_PROVIDER says otherwise)
	provider, err := push.NewProvider()
	if err != nil {
		log.Fatalf("Failed to initialize push provider: %v", err)
	}
	pushSvc := push.NewService(provider, tokenRepo)

	publisher := events.NewPublisherFromEnv()
	defer publisher.Close()

	callSvc := callService.NewService(signalStore, callRepo, directory, pushSvc, publisher)
	go callSvc.StartRingSweeper(ctx, 10*time.Second, cfg.RingTimeout)

	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, cfg.JWTDuration)
	auditLog := audit.NewAuditLogger(redisClient)

	callHdlr := callHandler.NewHandler(callSvc, auditLog)
	pushHdlr := pushHandler.NewHandler(pushSvc)
	gateway := wsHandler.NewGateway(signalStore, signalStore, jwtManager)

	appMetrics := metrics.NewMetrics(serviceName)
	prometheusMiddleware := middleware.NewPrometheusMiddleware(appMetrics)

	router := gin.New()
	router.SetTrustedProxies(nil)

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware())
	router.Use(prometheusMiddleware.Handler())
	router.Use(middleware.NewTimeoutMiddleware(nil).Middleware())

	router.GET("/health", middleware.HealthCheck(serviceName))
	router.GET(middleware.GetMetricsPath(), middleware.MetricsHandler())

	// The gateway authenticates itself from the token query parameter.
	router.GET("/ws/calls", gateway.ServeWS)

	revocationChecker := middleware.NewRedisRevocationChecker(redisClient)
	placementLimiter := middleware.NewRateLimiter(redisClient,
		constants.CallPlacementLimit, constants.CallPlacementWindow, "call_placement")

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		v1.POST("/calls", placementLimiter.Middleware(), callHdlr.InitiateCall)
		v1.GET("/calls", callHdlr.GetCallHistory)
		v1.GET("/calls/:id", callHdlr.GetCallStatus)
		v1.POST("/calls/:id/accept", callHdlr.AcceptCall)
		v1.POST("/calls/:id/decline", callHdlr.DeclineCall)
		v1.POST("/calls/:id/end", callHdlr.EndCall)

		v1.POST("/push/tokens", pushHdlr.RegisterToken)
		v1.GET("/push/tokens", pushHdlr.GetTokens)
		v1.DELETE("/push/tokens", pushHdlr.UnregisterToken)
		v1.DELETE("/push/tokens/all", pushHdlr.UnregisterAllTokens)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Call service starting", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down call service")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	if tracerProvider != nil {
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Tracer shutdown failed", zap.Error(err))
		}
	}

	logger.Info("Call service exited")
}
