// Package main runs the live-session coordination server: the REST surface
// for sessions, participant lists and attendance, plus the websocket
// signaling rooms.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/classlive/coordinator/config"
	"github.com/classlive/coordinator/internal/attendance"
	"github.com/classlive/coordinator/internal/auth"
	"github.com/classlive/coordinator/internal/middleware"
	"github.com/classlive/coordinator/internal/realtime"
	"github.com/classlive/coordinator/internal/sessions"
	"github.com/classlive/coordinator/internal/worker"
	"github.com/classlive/coordinator/pkg/database"
	"github.com/classlive/coordinator/pkg/queue"
	"github.com/classlive/coordinator/pkg/redis"
	"github.com/classlive/coordinator/pkg/response"
	"github.com/classlive/coordinator/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	var s3Client *storage.S3
	if cfg.AWS.AccessKeyID != "" {
		s3Cfg := storage.S3Config{
			Region:          cfg.AWS.Region,
			AccessKeyID:     cfg.AWS.AccessKeyID,
			SecretAccessKey: cfg.AWS.SecretAccessKey,
			MediaBucket:     cfg.AWS.MediaBucket,
		}
		s3Client, err = storage.NewS3(ctx, s3Cfg, logger)
		if err != nil {
			logger.Warn("s3 disabled", zap.Error(err))
		}
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret)
	redisPubSub := realtime.NewRedisPubSub(rdb.Client, logger)
	hub := realtime.NewHub(logger, redisPubSub, cfg.Live.HistoryLimit)

	sessionRepo := sessions.NewRepository(pool)
	jobQueue := queue.NewQueue(rdb.Client, logger)
	sessionHandler := sessions.NewHandler(sessionRepo, s3Client, jobQueue, logger)

	attendanceRepo := attendance.NewRepository(pool)
	attendanceHandler := attendance.NewHandler(attendanceRepo, logger)

	harvestProcessor := worker.NewHarvestProcessor(sessionRepo, s3Client, jobQueue, logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger))

	router.GET("/health", func(c *gin.Context) { response.OK(c, gin.H{"status": "ok"}) })

	api := router.Group("")
	api.Use(middleware.JWT(jwtService))
	{
		api.GET("/sessions", sessionHandler.List)
		api.POST("/sessions", middleware.RequireModerator(), sessionHandler.Create)
		api.GET("/sessions/:id", sessionHandler.GetByID)

		api.POST("/sessions/:id/asking", middleware.RequireModerator(), sessionHandler.AddAsking)
		api.DELETE("/sessions/:id/asking", middleware.RequireModerator(), sessionHandler.RemoveAsking)
		api.POST("/sessions/:id/discussion", middleware.RequireModerator(), sessionHandler.AddDiscussion)
		api.DELETE("/sessions/:id/discussion", middleware.RequireModerator(), sessionHandler.RemoveDiscussion)

		api.POST("/sessions/:id/live/start", middleware.RequireModerator(), sessionHandler.StartLive)
		api.POST("/sessions/:id/live/stop", middleware.RequireModerator(), sessionHandler.StopLive)
		api.GET("/sessions/:id/manifest-ready", sessionHandler.ManifestReady)

		api.PUT("/sessions/:id/attendance", attendanceHandler.Push)
		api.GET("/sessions/:id/attendance", middleware.RequireModerator(), attendanceHandler.List)
	}

	// WebSocket (token in query; no Authorization header required)
	claimTTL := time.Duration(cfg.Live.NicknameClaimTTLSec) * time.Second
	router.GET("/ws", realtime.ServeWs(hub, sessionRepo, jwtService.Validate, claimTTL, logger))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// In-process harvest worker; the standalone worker binary covers
	// deployments that scale it separately.
	workerCtx, workerCancel := context.WithCancel(context.Background())
	defer workerCancel()
	go harvestProcessor.Run(workerCtx)

	go func() {
		logger.Info("server listening", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	workerCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
