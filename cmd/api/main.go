package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/boostcampwm-2022/web24-Asniti/internal/config"
	"github.com/boostcampwm-2022/web24-Asniti/internal/database"
	"github.com/boostcampwm-2022/web24-Asniti/internal/handler"
	"github.com/boostcampwm-2022/web24-Asniti/internal/middleware"
	"github.com/boostcampwm-2022/web24-Asniti/internal/models"
	"github.com/boostcampwm-2022/web24-Asniti/internal/repository"
	"github.com/boostcampwm-2022/web24-Asniti/internal/router"
	"github.com/boostcampwm-2022/web24-Asniti/internal/service"
	cloud "github.com/boostcampwm-2022/web24-Asniti/pkg/cloudinary"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Channel{}, &models.ChatBucket{}, &models.ChannelReadCursor{}, &models.Attachment{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	natsConn, err := database.ConnectNATS(cfg.NATSURL)
	if err != nil {
		log.Fatalf("failed to connect to nats: %v", err)
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	uploader, err := cloud.New(cloud.Config{
		CloudName: cfg.CloudinaryCloudName,
		APIKey:    cfg.CloudinaryAPIKey,
		APISecret: cfg.CloudinaryAPISecret,
		Folder:    cfg.CloudinaryFolder,
	}, logger)
	if err != nil {
		log.Fatalf("failed to create cloudinary client: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	channelRepo := repository.NewChannelRepository(db)
	cursorRepo := repository.NewReadCursorRepository(db)
	attachmentRepo := repository.NewAttachmentRepository(db)

	bucketCache := service.NewBucketCache(redisClient, cfg.FanoutChannelBase+":chat:bucket", cfg.BucketCacheTTL, logger)
	chatLog := service.NewChatLogService(channelRepo, bucketCache, logger)
	historyService := service.NewChatHistoryService(channelRepo, bucketCache, logger)
	unreadService := service.NewUnreadService(channelRepo, cursorRepo, bucketCache, logger)
	chatService := service.NewChatService(chatLog, redisClient, cfg.FanoutChannelBase, natsConn, validate, logger)
	uploadService := service.NewUploadService(uploader, attachmentRepo, cfg.UploadMaxMB, logger)

	chatHandler := handler.NewChatHandler(chatService, historyService, unreadService, logger)
	uploadHandler := handler.NewUploadHandler(uploadService, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ChatHandler:   chatHandler,
		UploadHandler: uploadHandler,
		JWTMiddleware: middleware.JWTProtected(cfg.JWTSecret),
	})

	fanoutCtx, cancelFanout := context.WithCancel(context.Background())
	defer cancelFanout()
	chatService.Start(fanoutCtx)

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
