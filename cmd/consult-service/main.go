// consult-service carries the clinical workflow around calls: symptom
// intake with AI triage, doctor matching, conversations, chat messages,
// attachments, and E2E key bundles.
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
	chatHandler "careconnect-backend/internal/handler/http/chat"
	consultHandler "careconnect-backend/internal/handler/http/consult"
	conversationHandler "careconnect-backend/internal/handler/http/conversation"
	cryptoHandler "careconnect-backend/internal/handler/http/crypto"
	storageHandler "careconnect-backend/internal/handler/http/storage"
	wsHandler "careconnect-backend/internal/handler/ws"
	"careconnect-backend/internal/middleware"
	"careconnect-backend/internal/repository/cassandra"
	"careconnect-backend/internal/repository/postgres"
	redisrepo "careconnect-backend/internal/repository/redis"
	chatService "careconnect-backend/internal/service/chat"
	consultService "careconnect-backend/internal/service/consult"
	conversationService "careconnect-backend/internal/service/conversation"
	cryptoService "careconnect-backend/internal/service/crypto"
	storageService "careconnect-backend/internal/service/storage"
	"careconnect-backend/internal/telemetry"
	"careconnect-backend/internal/triage"
	"careconnect-backend/pkg/audit"
	"careconnect-backend/pkg/constants"
	"careconnect-backend/pkg/database"
	"careconnect-backend/pkg/jwt"
	"careconnect-backend/pkg/logger"
	"careconnect-backend/pkg/metrics"
	"careconnect-backend/pkg/push"
)

const serviceName = "consult-service"

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

	// PostgreSQL: users, conversations, consultations, attachments, keys.
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

	// Cassandra: chat messages.
	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:    cfg.CassandraHosts,
		Keyspace: cfg.CassandraKeyspace,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		log.Fatalf("Failed to connect to Cassandra: %v", err)
	}
	defer cassandraDB.Session.Close()
	logger.Info("Connected to Cassandra")

	// Redis: presence, directory cache, chat fan-out, push tokens, audit.
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

	// MinIO: attachment objects.
	objects, err := storageService.NewObjectStore(ctx,
		cfg.MinIOEndpoint, cfg.MinIOAccessKey, cfg.MinIOSecretKey, cfg.MinIOBucket, cfg.MinIOUseSSL)
	if err != nil {
		log.Fatalf("Failed to connect to MinIO: %v", err)
	}
	logger.Info("Connected to MinIO", zap.String("bucket", cfg.MinIOBucket))

	// Repositories
	userRepo := postgres.NewUserRepository(pg.Pool)
	conversationRepo := postgres.NewConversationRepository(pg.Pool)
	consultationRepo := postgres.NewConsultationRepository(pg.Pool)
	attachmentRepo := postgres.NewAttachmentRepository(pg.Pool)
	keysRepo := postgres.NewKeysRepository(pg.Pool)
	messageRepo := cassandra.NewMessageRepository(cassandraDB.Session)
	presenceRepo := redisrepo.NewPresenceRepository(redisClient)
	directory := redisrepo.NewDirectoryRepository(redisClient, userRepo)
	tokenRepo := redisrepo.NewPushTokenRepository(redisClient)

	// Push notifications
	provider, err := push.NewProvider()
	if err != nil {
		log.Fatalf("Failed to initialize push provider: %v", err)
	}
	pushSvc := push.NewService(provider, tokenRepo)

	publisher := events.NewPublisherFromEnv()
	defer publisher.Close()

	triageClient := triage.NewHTTPClient(cfg.TriageURL, cfg.TriageAPIKey)

	// Services
	consultSvc := consultService.NewService(
		consultationRepo, conversationRepo, triageClient, presenceRepo, directory, pushSvc, publisher)
	conversationSvc := conversationService.NewService(conversationRepo, userRepo)
	chatSvc := chatService.NewService(messageRepo, conversationRepo, directory, pushSvc, presenceRepo, redisClient)
	cryptoSvc := cryptoService.NewService(keysRepo)
	storageSvc := storageService.NewService(attachmentRepo, conversationRepo, objects)

	jwtManager := jwt.NewJWTManager(cfg.JWTSecret, cfg.JWTDuration)
	auditLog := audit.NewAuditLogger(redisClient)

	// Handlers
	consultHdlr := consultHandler.NewHandler(consultSvc, auditLog)
	conversationHdlr := conversationHandler.NewHandler(conversationSvc)
	chatHdlr := chatHandler.NewHandler(chatSvc)
	cryptoHdlr := cryptoHandler.NewHandler(cryptoSvc, auditLog)
	storageHdlr := storageHandler.NewHandler(storageSvc, auditLog)
	chatHub := wsHandler.NewChatHub(redisClient, conversationRepo)

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

	revocationChecker := middleware.NewRedisRevocationChecker(redisClient)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocationChecker))
	{
		v1.POST("/consultations", consultHdlr.CreateConsultation)
		v1.GET("/consultations", consultHdlr.ListConsultations)
		v1.GET("/consultations/:id", consultHdlr.GetConsultation)
		v1.POST("/consultations/:id/close", consultHdlr.CloseConsultation)

		v1.GET("/conversations", conversationHdlr.ListConversations)
		v1.GET("/conversations/:id", conversationHdlr.GetConversation)
		v1.DELETE("/conversations/:id", conversationHdlr.DeleteConversation)

		v1.POST("/messages", chatHdlr.SendMessage)
		v1.GET("/conversations/:id/messages", chatHdlr.GetMessages)
		v1.DELETE("/conversations/:id/messages/:message_id", chatHdlr.DeleteMessage)
		v1.PUT("/presence", chatHdlr.SetPresence)
		v1.POST("/presence/heartbeat", chatHdlr.Heartbeat)

		v1.PUT("/keys", cryptoHdlr.PublishKeys)
		v1.GET("/keys/:user_id", cryptoHdlr.GetKeys)
		v1.DELETE("/keys", cryptoHdlr.DeleteKeys)

		v1.POST("/attachments", storageHdlr.RequestUpload)
		v1.POST("/attachments/:id/complete", storageHdlr.CompleteUpload)
		v1.GET("/attachments/:id/download", storageHdlr.GetDownloadURL)
		v1.DELETE("/attachments/:id", storageHdlr.DeleteAttachment)
		v1.GET("/conversations/:id/attachments", storageHdlr.ListAttachments)

		v1.GET("/ws/chat", chatHub.ServeWS)
	}

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Consult service starting", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down consult service")
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

	logger.Info("Consult service exited")
}
