// care-station is the headless kiosk binary for exam-room devices. It
// watches the registry for calls ringing toward its configured user,
// answers them, and runs the WebRTC peer against real camera and
// microphone capture.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"go.uber.org/zap"

	"careconnect-backend/internal/call"
	"careconnect-backend/internal/config"
	"careconnect-backend/internal/domain"
	"careconnect-backend/internal/repository/postgres"
	redisrepo "careconnect-backend/internal/repository/redis"
	"careconnect-backend/internal/signaling"
	"careconnect-backend/pkg/database"
	"careconnect-backend/pkg/env"
	"careconnect-backend/pkg/jwt"
	"careconnect-backend/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger.InitDefault(cfg.Env)
	defer logger.Sync()

	// The station identity comes from its provisioned token. The backing
	// services verify the signature; the station only needs the claims.
	stationToken := env.GetStringFromFile("STATION_TOKEN", "")
	if stationToken == "" {
		log.Fatal("STATION_TOKEN environment variable is required")
	}
	claims, err := jwt.ExtractClaims(stationToken)
	if err != nil {
		log.Fatalf("Failed to read station token: %v", err)
	}
	selfID := claims.UserID
	logger.Info("Station identity loaded",
		zap.String("user_id", selfID.String()),
		zap.String("display_name", claims.DisplayName))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	redisPort, _ := strconv.Atoi(cfg.RedisPort)
	redisClient := database.NewRedisClient(&database.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     redisPort,
		Password: cfg.RedisPass,
		DB:       0,
		PoolSize: 5,
		Timeout:  5 * time.Second,
	})
	defer redisClient.Close()
	go redisClient.StartHealthCheck(ctx, 10*time.Second)

	signalStore := signaling.NewStore(pg.Pool, redisClient)
	if err := signalStore.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize signaling schema: %v", err)
	}

	userRepo := postgres.NewUserRepository(pg.Pool)
	directory := redisrepo.NewDirectoryRepository(redisClient, userRepo)

	media := pickMediaSource()

	var iceServers []webrtc.ICEServer
	if len(cfg.STUNURLs) > 0 {
		iceServers = []webrtc.ICEServer{{URLs: cfg.STUNURLs}}
	}

	autoAnswer := env.GetBool("STATION_AUTO_ANSWER", true)

	var controller *call.Controller
	controller, err = call.NewController(call.ControllerConfig{
		SelfID:     selfID,
		Registry:   signalStore,
		Channel:    signalStore,
		Media:      media,
		Directory:  directory,
		ICEServers: iceServers,
		OnIncomingCall: func(incoming call.IncomingCall) {
			logger.Info("Incoming call",
				zap.String("session_id", incoming.SessionID.String()),
				zap.String("caller", incoming.CallerName),
				zap.String("call_type", string(incoming.CallType)))
			if !autoAnswer {
				return
			}
			// Hooks must not block; answer from a fresh goroutine.
			go func() {
				answerCtx, answerCancel := context.WithTimeout(ctx, 15*time.Second)
				defer answerCancel()
				if err := controller.AcceptCall(answerCtx); err != nil {
					logger.Error("Failed to answer call",
						zap.String("session_id", incoming.SessionID.String()),
						zap.Error(err))
				}
			}()
		},
		OnCallActive: func(active call.ActiveCall) {
			logger.Info("Call active",
				zap.String("session_id", active.SessionID.String()),
				zap.String("remote", active.RemoteName),
				zap.Bool("initiator", active.Initiator))
		},
		OnCallEnded: func(sessionID uuid.UUID, status domain.CallStatus) {
			logger.Info("Call finished",
				zap.String("session_id", sessionID.String()),
				zap.String("status", string(status)))
		},
		OnRemoteTrack: func(track *webrtc.TrackRemote) {
			logger.Info("Remote track attached",
				zap.String("kind", track.Kind().String()),
				zap.String("codec", track.Codec().MimeType))
		},
		OnConnectionState: func(state webrtc.PeerConnectionState) {
			logger.Info("Peer connection state changed",
				zap.String("state", state.String()))
		},
	})
	if err != nil {
		log.Fatalf("Failed to build call controller: %v", err)
	}

	if err := controller.Start(ctx); err != nil {
		log.Fatalf("Failed to start call controller: %v", err)
	}
	logger.Info("Care station ready, waiting for calls")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down care station")
	cancel()
	if err := controller.Close(); err != nil {
		logger.Warn("Controller close reported an error", zap.Error(err))
	}
	logger.Info("Care station exited")
}

// pickMediaSource prefers real capture and falls back to static tracks so
// the binary still runs on hardware without devices (or in CI).
func pickMediaSource() call.MediaSource {
	if env.GetBool("STATION_STATIC_MEDIA", false) {
		logger.Info("Using static media tracks")
		return call.NewStaticSource()
	}

	media, err := call.NewDeviceSource()
	if err != nil {
		logger.Warn("Device capture unavailable, using static media tracks", zap.Error(err))
		return call.NewStaticSource()
	}
	return media
}
