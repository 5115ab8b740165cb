package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventpix-backend/config"
	"eventpix-backend/internal/database"
	"eventpix-backend/internal/handlers"
	"eventpix-backend/internal/moderation"
	"eventpix-backend/internal/queue"
	"eventpix-backend/internal/routes"
	"eventpix-backend/internal/services"
	"eventpix-backend/internal/storage"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// 1. Load Configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}

	// 2. Connect to Database
	db, err := database.ConnectDB(cfg)
	if err != nil {
		log.Fatal("Database connection failed: ", err)
	}

	// 3. Connect to Redis
	redisClient, err := database.ConnectRedis(cfg)
	if err != nil {
		log.Fatal("Redis connection failed: ", err)
	}

	// 4. Connect to S3/R2
	s3Client, err := database.ConnectS3(cfg)
	if err != nil {
		log.Fatal("S3 connection failed: ", err)
	}

	// 5. Build the moderation pipeline
	var classifier moderation.Classifier
	if rek, err := moderation.NewRekognitionClassifier(cfg); err != nil {
		log.Fatal("Rekognition setup failed: ", err)
	} else if rek != nil {
		classifier = rek
	}

	policy := moderation.DefaultConfig()
	policy.ConfidenceThreshold = cfg.ModerationThreshold
	policy.AutoReject = cfg.ModerationAutoReject

	queueOpts := queue.DefaultOptions()
	queueOpts.MaxAttempts = cfg.ModerationMaxAttempts
	queueOpts.BackoffBase = cfg.ModerationBackoffBase
	queueOpts.JobTimeout = cfg.ModerationJobTimeout

	jobQueue := queue.NewRedisQueue(redisClient, queueOpts)

	moderator := services.NewModerator(services.ModeratorDeps{
		Queue:      jobQueue,
		Scanner:    moderation.NewService(classifier, policy),
		Photos:     storage.NewGormPhotoStore(db),
		Quarantine: storage.NewS3QuarantineStore(s3Client, db, cfg.S3BucketQuarantine),
		Workers:    cfg.ModerationWorkers,
		JobTimeout: cfg.ModerationJobTimeout,
		WebhookURL: cfg.ModerationWebhookURL,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	moderator.Start(ctx)

	// 6. Initialize Fiber App
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: "Eventpix",
	})

	// 7. Middleware
	app.Use(logger.New())  // Request logging
	app.Use(recover.New()) // Panic recovery
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*", // Allow all for dev, restrict in prod
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, HEAD, PUT, DELETE, PATCH",
	}))

	// 8. Routes
	photoHandler := handlers.NewPhotoHandler(db, s3Client, moderator, cfg)
	moderationHandler := handlers.NewModerationHandler(moderator, redisClient, cfg)
	routes.SetupRoutes(app, cfg, photoHandler, moderationHandler)

	// 9. Start Server
	go func() {
		log.Printf("🚀 Server starting on port %s", cfg.AppPort)
		if err := app.Listen(":" + cfg.AppPort); err != nil {
			log.Fatal("Server failed to start: ", err)
		}
	}()

	<-ctx.Done()
	log.Printf("⚠️  Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = app.ShutdownWithContext(shutdownCtx)
	moderator.Stop(shutdownCtx)
	log.Printf("✅ Shutdown complete")
}
