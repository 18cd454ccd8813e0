package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ahrdadan/seekr/internal/api"
	"github.com/ahrdadan/seekr/internal/browser"
	"github.com/ahrdadan/seekr/internal/config"
	"github.com/ahrdadan/seekr/internal/logging"
	"github.com/ahrdadan/seekr/internal/nats"
	"github.com/ahrdadan/seekr/internal/queue"
	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

func main() {
	// Parse CLI flags; exits on -help and -version
	cfg := config.ParseFlags()

	log, err := logging.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", config.AppName, err)
		os.Exit(2)
	}

	if err := run(cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// run starts everything cfg asks for and serves until shutdown. Errors are
// returned rather than fatal so that every deferred cleanup runs.
func run(cfg *config.Config, log *slog.Logger) error {
	log.Info("starting", "app", config.AppName, "version", config.Version, "config", cfg.ConfigFile)

	// Browser setup
	chromeBin := cfg.ChromeBin
	if cfg.CDPURL == "" && chromeBin == "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		bin, err := browser.EnsureChrome(ctx, cfg.ChromeRevision, log)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to install Chrome: %w", err)
		}
		chromeBin = bin
	}

	res := resolver.New(
		resolver.WithDefaults(cfg.Resolve),
		resolver.WithLogger(log.With("component", "resolver")),
	)

	browserManager := browser.NewManager(browser.ManagerConfig{
		ControlURL: cfg.CDPURL,
		ChromeBin:  chromeBin,
		Headless:   cfg.Headless,
	}, res, log)

	if err := browserManager.Start(); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	defer func() {
		if err := browserManager.Stop(); err != nil {
			log.Error("failed to stop browser", "error", err)
		}
	}()

	// NATS + JetStream setup
	var queueManager *queue.Manager

	if cfg.WithNats {
		log.Info("connecting to NATS JetStream", "url", cfg.NatsURL)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		natsClient, err := nats.Connect(ctx, nats.Config{
			URL:  cfg.NatsURL,
			Name: config.AppName,
		}, log)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer natsClient.Close()

		queueManager, err = queue.NewManager(natsClient.JetStream(), log)
		if err != nil {
			return fmt.Errorf("failed to create queue manager: %w", err)
		}

		processor := queue.NewProcessor(browserManager, log)
		if err := queueManager.Start(processor); err != nil {
			queueManager.Stop()
			return fmt.Errorf("failed to start queue processor: %w", err)
		}
		defer queueManager.Stop()
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{
		AppName:               config.AppName,
		ErrorHandler:          api.ErrorHandler,
		DisableStartupMessage: true,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New())

	api.SetupRoutes(app, browserManager)

	if queueManager != nil {
		api.SetupJobRoutes(app, queueManager, res.Registry(), api.RouteConfig{
			RateLimitRequests: cfg.RateLimitRequests,
			RateLimitWindow:   cfg.RateLimitWindow,
			BaseURL:           cfg.BaseURL,
			Limits: api.JobLimits{
				MaxTimeout: cfg.MaxJobTimeout,
				MaxRetries: cfg.MaxRetries,
				ResultTTL:  cfg.ResultTTL,
			},
		})
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	go func() {
		<-quit
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("error during shutdown", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.Info("listening",
		"addr", addr,
		"base_url", cfg.BaseURL,
		"cdp", browserManager.GetEndpoint(),
		"queue", cfg.WithNats,
	)

	if err := app.Listen(addr); err != nil {
		return fmt.Errorf("server stopped: %w", err)
	}
	return nil
}
