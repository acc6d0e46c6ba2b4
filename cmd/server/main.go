package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mtchat/mtchat/internal/config"
	"github.com/mtchat/mtchat/internal/handler"
	"github.com/mtchat/mtchat/internal/middleware"
	"github.com/mtchat/mtchat/internal/model"
	"github.com/mtchat/mtchat/internal/presence"
	"github.com/mtchat/mtchat/internal/queue"
	"github.com/mtchat/mtchat/internal/repository"
	"github.com/mtchat/mtchat/internal/storage"
	"github.com/mtchat/mtchat/internal/webhook"
	"github.com/mtchat/mtchat/internal/ws"
)

// notifier adapts a webhook.Dispatcher to queue.Notifier, the final
// step of a debounced notification job.
type notifier struct {
	webhooks *webhook.Dispatcher
}

func (n *notifier) NotifyDialogActivity(dialogID, userID, messageID string) {
	n.webhooks.Dispatch("notification.pending", map[string]string{"dialog_id": dialogID, "user_id": userID, "message_id": messageID})
}

// precondition adapts the dialog and message repositories to
// queue.PreconditionChecker: a job fires only if the recipient is
// still a participant, has not already read the message, and has
// notifications enabled at delivery time — not just at enqueue time.
type precondition struct {
	dialogs  *repository.DialogRepo
	messages *repository.MessageRepo
}

func (p *precondition) ShouldNotify(dialogID, userID, messageID string) bool {
	participant, err := p.dialogs.Participant(dialogID, userID)
	if err != nil || participant == nil {
		return false
	}

	msg, err := p.messages.GetOne(dialogID, messageID)
	if err != nil {
		return false
	}
	if participant.LastReadMessageID != nil {
		lastRead, err := p.messages.GetOne(dialogID, *participant.LastReadMessageID)
		if err == nil && !msg.SentAt.After(lastRead.SentAt) {
			return false
		}
	}

	return participant.NotificationsEnabled
}

func main() {
	// ── Load config ────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// ── Logger ─────────────────────────────────────────
	var logger *zap.Logger
	if cfg.Server.Mode == "release" {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	defer logger.Sync()

	// ── Database ───────────────────────────────────────
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	}
	if cfg.Server.Mode == "debug" {
		gormCfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), gormCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Fatalf("Failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	if err := db.AutoMigrate(model.AllModels()...); err != nil {
		log.Fatalf("Failed to auto-migrate: %v", err)
	}
	logger.Info("Database migrated successfully")

	// ── Redis ──────────────────────────────────────────
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("Failed to parse REDIS_URL: %v", err)
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}

	// ── Repositories ───────────────────────────────────
	dialogRepo := repository.NewDialogRepo(db)
	messageRepo := repository.NewMessageRepo(db)

	// ── Presence ───────────────────────────────────────
	presenceSvc := presence.New(redisClient, logger)

	// ── Hub ────────────────────────────────────────────
	hub := ws.NewHub(logger, dialogRepo, presenceSvc)
	hub.OnDisconnectLast = func(userID string, dialogIDs []string) {
		presenceSvc.MarkOffline(context.Background(), userID)
		isOnline := false
		for _, dialogID := range dialogIDs {
			hub.Publish(dialogID, ws.Event{Type: "presence.update", DialogID: dialogID, UserID: userID, IsOnline: &isOnline})
		}
	}
	go hub.Run()

	// ── Webhooks ───────────────────────────────────────
	webhookDispatcher := webhook.New(cfg.Webhook.URL, cfg.Webhook.Secret, logger)

	// ── Storage ────────────────────────────────────────
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	presigner, err := storage.New(rootCtx, cfg.S3.Endpoint, cfg.S3.Bucket)
	if err != nil {
		log.Fatalf("Failed to initialize S3 presigner: %v", err)
	}

	// ── Notification queue ─────────────────────────────
	notificationQueue := queue.New(redisClient, logger, time.Duration(cfg.Notification.DelaySeconds)*time.Second)
	workerPool := queue.NewWorkerPool(notificationQueue, &precondition{dialogs: dialogRepo, messages: messageRepo}, &notifier{webhooks: webhookDispatcher}, logger, cfg.Notification.Concurrency)
	go workerPool.Run(rootCtx)

	// ── Auto-archive scheduler ─────────────────────────
	archiveScheduler, err := queue.NewArchiveScheduler(dialogRepo, logger, cfg.Archive.Cron, cfg.Archive.AfterDays)
	if err != nil {
		log.Fatalf("Failed to initialize archive scheduler: %v", err)
	}
	go archiveScheduler.Run(rootCtx)

	// ── Gin Router ─────────────────────────────────────
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.CORS(&cfg.CORS))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")

	// ── Management API (admin-token gated) ─────────────
	managementHandler := handler.NewManagementHandler(dialogRepo, hub, webhookDispatcher)
	management := v1.Group("/management")
	management.Use(middleware.AdminAuth(cfg.Admin.APIToken))
	{
		management.POST("/dialogs", managementHandler.Create)
		management.POST("/dialogs/:id/participants", managementHandler.AddParticipant)
		management.DELETE("/dialogs/:id", managementHandler.Delete)
	}

	// ── Chat API (scope-token gated) ────────────────────
	chatHandler := handler.NewChatHandler(dialogRepo, messageRepo, hub, presenceSvc, notificationQueue, webhookDispatcher)
	chat := v1.Group("")
	chat.Use(middleware.ScopeAuth())
	{
		chat.GET("/dialogs", chatHandler.List)
		chat.GET("/dialogs/by-object/:type/:oid", chatHandler.ByObject)
		chat.GET("/dialogs/by-object/:type/:oid/all", chatHandler.ByObjectAll)
		chat.GET("/dialogs/:id", chatHandler.Get)
		chat.POST("/dialogs/:id/join", chatHandler.Join)
		chat.POST("/dialogs/:id/leave", chatHandler.Leave)
		chat.POST("/dialogs/:id/archive", chatHandler.Archive)
		chat.POST("/dialogs/:id/unarchive", chatHandler.Unarchive)
		chat.POST("/dialogs/:id/pin", chatHandler.Pin)
		chat.POST("/dialogs/:id/unpin", chatHandler.Unpin)
		chat.POST("/dialogs/:id/notifications", chatHandler.SetNotifications)
		chat.POST("/dialogs/:id/read", chatHandler.Read)
		chat.GET("/dialogs/:id/messages", chatHandler.ListMessages)
		chat.POST("/dialogs/:id/messages", chatHandler.SendMessage)
		chat.GET("/dialogs/:id/messages/:mid", chatHandler.GetMessage)
		chat.PUT("/dialogs/:id/messages/:mid", chatHandler.EditMessage)
		chat.DELETE("/dialogs/:id/messages/:mid", chatHandler.DeleteMessage)
	}

	uploadHandler := handler.NewUploadHandler(dialogRepo, messageRepo, presigner)
	uploads := v1.Group("")
	uploads.Use(middleware.ScopeAuth())
	{
		uploads.POST("/uploads/presign", uploadHandler.Presign)
		uploads.GET("/attachments/:id/url", uploadHandler.DownloadURL)
	}

	// ── WebSocket ────────────────────────────────────────
	wsHandler := handler.NewWSHandler(hub, presenceSvc, logger)
	r.GET("/ws", wsHandler.Serve)

	// ── Start Server ───────────────────────────────────
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Starting MTChat API server", zap.String("addr", addr), zap.String("mode", cfg.Server.Mode))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server")

	cancel() // stop worker pool and archive scheduler

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
}
