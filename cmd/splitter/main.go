package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/stemsplit/api/internal/config"
	"github.com/stemsplit/api/internal/events"
	"github.com/stemsplit/api/internal/executor"
	"github.com/stemsplit/api/internal/handler"
	"github.com/stemsplit/api/internal/registry"
	"github.com/stemsplit/api/internal/separation"
	"github.com/stemsplit/api/internal/service"
	"github.com/stemsplit/api/internal/stems"
	"github.com/stemsplit/api/internal/storage"
	"github.com/stemsplit/api/internal/telemetry"
	ws "github.com/stemsplit/api/internal/websocket"
	"github.com/stemsplit/api/internal/worker"
	"github.com/stemsplit/api/pkg/response"
)

const shutdownGrace = 30 * time.Second

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}
	telemetry.SetupLogging(cfg.Server.LogLevel, cfg.Server.IsDevelopment())

	if err := os.MkdirAll(cfg.Splitter.ScratchDir, 0o755); err != nil {
		log.WithError(err).Fatal("Failed to create scratch directory")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run(ctx)

	notifiers := events.Multi{hub}

	// Job lifecycle events are optional
	var publisher *events.ExchangePublisher
	if cfg.Events.RabbitMQURL != "" {
		publisher, err = events.NewExchangePublisher(cfg.Events.RabbitMQURL, cfg.Events.Exchange)
		if err != nil {
			log.WithError(err).Warn("RabbitMQ not available, job events disabled")
		} else {
			notifiers = append(notifiers, events.NewRabbitNotifier(publisher))
		}
	}

	exec := executor.BinaryExecutor{}
	engine := separation.NewEngine(separation.Config{
		DemucsBin: cfg.Splitter.DemucsBin,
		FFmpegBin: cfg.Splitter.FFmpegBin,
		Model:     cfg.Splitter.Model,
		Device:    cfg.Splitter.Device,
		Shifts:    cfg.Splitter.Shifts,
		Overlap:   cfg.Splitter.Overlap,
	}, exec)
	processor := stems.NewProcessor(stems.Config{FFmpegBin: cfg.Splitter.FFmpegBin}, exec)

	jobs := registry.New()
	splitWorker := worker.NewSplitWorker(worker.Config{
		ScratchDir: cfg.Splitter.ScratchDir,
		Timeouts: worker.Timeouts{
			Download:    cfg.Splitter.DownloadTimeout,
			Separation:  cfg.Splitter.SeparationTimeout,
			PostProcess: cfg.Splitter.PostProcessTimeout,
			Upload:      cfg.Splitter.UploadTimeout,
		},
	}, jobs, storage.NewMinioFactory(), engine, processor, notifiers)

	splitService := service.NewSplitService(service.SplitServiceConfig{
		Workers:       cfg.Splitter.Workers,
		QueueSize:     cfg.Splitter.QueueSize,
		Retention:     cfg.Splitter.Retention,
		SweepInterval: time.Hour,
	}, jobs, splitWorker, validator.New())
	splitService.Start(ctx)

	jobHandler := handler.NewJobHandler(splitService)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: response.ErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${body}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))

	app.Get("/ping", jobHandler.Ping)
	app.Get("/metrics", adaptor.HTTPHandler(telemetry.Handler()))

	app.Post("/jobs", jobHandler.Submit)
	app.Get("/jobs/:jobId/status", jobHandler.Status)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")
		hub.HandleConnection(c, jobID)
	}))

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("Shutting down splitter...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("Server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.WithField("addr", addr).Info("Splitter starting")
	if err := app.Listen(addr); err != nil {
		log.WithError(err).Error("Server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := splitService.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("Running jobs were cancelled")
	}
	stop()

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.WithError(err).Warn("Failed to close RabbitMQ publisher")
		}
	}
}
