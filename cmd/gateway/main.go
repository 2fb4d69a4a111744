package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/stemsplit/api/internal/auth"
	"github.com/stemsplit/api/internal/client"
	"github.com/stemsplit/api/internal/config"
	"github.com/stemsplit/api/internal/handler"
	"github.com/stemsplit/api/internal/middleware"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/internal/storage"
	"github.com/stemsplit/api/internal/telemetry"
	"github.com/stemsplit/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	telemetry.SetupLogging(cfg.Server.LogLevel, cfg.Server.IsDevelopment())

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("Redis not available, rate limiting disabled until it is")
	}

	// Initialize object store
	store, err := storage.New(&cfg.Storage)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize object store")
	}
	if err := store.EnsureContainer(ctx); err != nil {
		log.WithError(err).Warn("Object store not ready")
	}

	validate := validator.New()

	// Initialize external clients
	keygenClient := client.NewKeygenClient(&cfg.Keygen)
	if keygenClient.DevMode() {
		log.Warn("KEYGEN_ACCOUNT_ID not set, every non-empty license key is accepted")
	}
	splitterClient := client.NewSplitterClient(&cfg.Splitter)

	signer := auth.NewSessionSigner(cfg.Session.Secret, cfg.Session.ExpiryHours)

	// Initialize services
	licenseService := service.NewLicenseService(keygenClient, signer)
	gatewayService := service.NewGatewayService(splitterClient, store, storage.StoreConfigFrom(&cfg.Storage), cfg.Storage.PresignTTL, validate)
	uploadService := service.NewUploadService(store, cfg.Upload.MaxSize)

	// Initialize handlers
	gatewayHandler := handler.NewGatewayHandler(licenseService, gatewayService, validate, handler.SessionCookie{
		Name:   cfg.Session.CookieName,
		MaxAge: signer.MaxAge(),
		Secure: !cfg.Server.IsDevelopment(),
	})
	uploadHandler := handler.NewUploadHandler(uploadService, filepath.Join(os.TempDir(), "splitter_uploads"))

	// Initialize middleware
	sessions := middleware.NewSessionMiddleware(signer, cfg.Session.CookieName)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app; the body limit leaves room for multipart overhead
	app := fiber.New(fiber.Config{
		ErrorHandler: response.ErrorHandler,
		BodyLimit:    int(cfg.Upload.MaxSize) + 1024*1024,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept",
		AllowCredentials: true,
	}))

	// Health check
	app.Get("/ping", gatewayHandler.Ping)
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"splitter": splitterClient.HealthCheck(c.UserContext()) == nil,
				"redis":    redisClient.Ping(c.UserContext()).Err() == nil,
				"keygen":   !keygenClient.DevMode(),
			},
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(telemetry.Handler()))

	// Public license routes
	app.Post("/api/validate-license", gatewayHandler.ValidateLicense)
	app.Post("/api/logout", gatewayHandler.Logout)

	// API routes
	api := app.Group("/api", sessions.Authenticate())
	api.Post("/upload-audio", rateLimiter.UploadLimit(cfg.RateLimit.UploadPerHour), uploadHandler.Audio)
	api.Post("/split", rateLimiter.SplitLimit(cfg.RateLimit.SplitPerHour), gatewayHandler.Split)
	api.Get("/split/:jobId/status", gatewayHandler.SplitStatus)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down gateway...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.WithField("addr", addr).Info("Gateway starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Fatal("Server error")
	}
}
