package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/profilia/cv-extractor/internal/config"
	"github.com/profilia/cv-extractor/internal/handlers"
	"github.com/profilia/cv-extractor/internal/services"
)

func main() {
	// Load configuration
	cfg := config.Load()

	zapLogger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zapLogger.Info("config loaded")

	// Initialize pipeline services
	validator := services.NewInputValidator(cfg.Limits.MaxPDFBytes, cfg.Limits.StrictPDFCheck)
	rateLimiter := services.NewMemoryRateLimiter(
		cfg.RateLimit.MaxRequests,
		cfg.RateLimit.Window,
		cfg.RateLimit.BlockDuration,
	)
	normalizer := services.NewResponseNormalizer(zapLogger)

	invoker, err := services.NewGeminiInvoker(context.Background(), cfg.Gemini, zapLogger)
	if err != nil {
		zapLogger.Fatal("failed to initialize Gemini", zap.Error(err))
	}
	zapLogger.Info("Gemini initialized", zap.String("model", cfg.Gemini.Model))

	extractor := services.NewExtractorService(validator, rateLimiter, invoker, normalizer, zapLogger)

	// Initialize handlers
	extractHandler := handlers.NewExtractHandler(extractor, zapLogger, cfg.IsDevelopment())

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "CV Extractor API",
		// Base64 inflates the PDF by 4/3; leave headroom so the validator,
		// not the body reader, owns the size decision.
		BodyLimit:    int(cfg.Limits.MaxPDFBytes) * 2,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Gemini.Timeout + 30*time.Second,
		ErrorHandler: customErrorHandler,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} - ${latency} ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: "POST,OPTIONS",
		AllowHeaders: "Content-Type",
	}))

	// Routes
	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now(),
		})
	})

	api.Post("/extract", extractHandler.HandleExtract)

	// Root route
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message": "CV Extractor API",
			"version": "1.0.0",
			"endpoints": []string{
				"POST /api/v1/extract",
				"GET /api/v1/health",
			},
		})
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		zapLogger.Info("shutting down server")
		if err := app.Shutdown(); err != nil {
			zapLogger.Error("server forced to shutdown", zap.Error(err))
		}
	}()

	// Start server
	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	zapLogger.Info("server starting", zap.String("addr", addr))

	if err := app.Listen(addr); err != nil {
		zapLogger.Fatal("failed to start server", zap.Error(err))
	}
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.IsDevelopment() {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
	}

	return c.Status(code).JSON(fiber.Map{
		"message": err.Error(),
	})
}
