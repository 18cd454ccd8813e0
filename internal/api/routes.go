package api

import (
	"time"

	"github.com/ahrdadan/seekr/internal/browser"
	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouteConfig holds configuration for routes
type RouteConfig struct {
	RateLimitRequests int           // requests per window
	RateLimitWindow   time.Duration // time window
	BaseURL           string        // Base URL for full URLs in responses
	Limits            JobLimits
}

// DefaultRouteConfig returns default route configuration
func DefaultRouteConfig() RouteConfig {
	return RouteConfig{
		RateLimitRequests: 100,
		RateLimitWindow:   time.Minute,
		BaseURL:           "http://localhost:8000",
		Limits: JobLimits{
			MaxTimeout: 5 * time.Minute,
			MaxRetries: 5,
			ResultTTL:  7 * 24 * time.Hour,
		},
	}
}

// SetupRoutes registers health, metrics and the synchronous browser routes.
func SetupRoutes(app *fiber.App, client browser.Client) {
	handler := NewHandler(client)

	app.Get("/health", handler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	seekr := app.Group("/seekr", requestid.New(), SecurityHeaders(), RequireJSON())
	registerRoutes(seekr, handler)
}

// SetupJobRoutes registers the job queue routes. Call it after SetupRoutes so
// the /seekr middleware runs first.
func SetupJobRoutes(app *fiber.App, q JobQueue, registry *resolver.Registry, cfg RouteConfig) {
	jobHandler := NewJobHandler(q, registry, cfg.Limits, cfg.BaseURL)

	jobs := app.Group("/seekr/jobs")
	jobs.Post("", RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow), jobHandler.CreateJob)
	jobs.Get("/:job_id", jobHandler.GetJobStatus)
	jobs.Get("/:job_id/result", jobHandler.GetJobResult)
	jobs.Post("/:job_id/cancel", jobHandler.CancelJob)
	jobs.Get("/:job_id/events", jobHandler.StreamEvents)

	app.Use("/seekr/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/seekr/ws", websocket.New(jobHandler.HandleWebSocket))
}

func registerRoutes(seekr fiber.Router, handler *Handler) {
	seekr.Get("/browser/status", handler.BrowserStatus)

	// Page operations
	seekr.Post("/page/fetch", handler.FetchPage)
	seekr.Post("/page/screenshot", handler.Screenshot)
	seekr.Post("/page/evaluate", handler.EvaluateScript)
	seekr.Post("/page/links", handler.ExtractLinks)
	seekr.Post("/page/info", handler.GetPageInfo)

	// Element operations, all resolved through the strategy chain
	seekr.Post("/element/click", handler.ClickElement)
	seekr.Post("/element/type", handler.TypeInto)
	seekr.Post("/element/fill", handler.FillForm)
	seekr.Post("/element/wait", handler.WaitFor)
	seekr.Post("/element/scroll", handler.ScrollIntoView)
	seekr.Post("/element/inspect", handler.InspectElement)
}
