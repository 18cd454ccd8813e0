package api

import (
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/ahrdadan/seekr/internal/browser"
	"github.com/ahrdadan/seekr/internal/queue"
	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/gofiber/fiber/v2"
)

// Handler handles API requests
type Handler struct {
	browserManager browser.Client
}

// NewHandler creates a new handler
func NewHandler(browserManager browser.Client) *Handler {
	return &Handler{
		browserManager: browserManager,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ResolutionFailure is the body sent when an element could not be resolved.
type ResolutionFailure struct {
	Target           string              `json:"target"`
	Strategies       []resolver.Strategy `json:"strategies"`
	DeadlineExceeded bool                `json:"deadline_exceeded,omitempty"`
	Trace            []resolver.Attempt  `json:"trace"`
	Snapshot         string              `json:"snapshot,omitempty"` // base64 PNG
}

// NewResolutionFailure converts a resolver error for the wire.
func NewResolutionFailure(err *resolver.ResolutionError) ResolutionFailure {
	out := ResolutionFailure{
		Target:           err.Target,
		Strategies:       err.Strategies,
		DeadlineExceeded: err.DeadlineExceeded,
		Trace:            err.Trace,
	}
	if len(err.Snapshot) > 0 {
		out.Snapshot = base64.StdEncoding.EncodeToString(err.Snapshot)
	}
	return out
}

// ErrorHandler is the custom error handler for Fiber. Resolver and queue
// errors map to their own status codes; everything else is a 500 unless it
// is already a *fiber.Error.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var rerr *resolver.ResolutionError
	if errors.As(err, &rerr) {
		return c.Status(fiber.StatusNotFound).JSON(Response{
			Success: false,
			Error:   err.Error(),
			Data:    NewResolutionFailure(rerr),
		})
	}

	code := fiber.StatusInternalServerError
	var ferr *fiber.Error
	switch {
	case errors.As(err, &ferr):
		code = ferr.Code
	case errors.Is(err, resolver.ErrPreconditionFailed):
		code = fiber.StatusPreconditionFailed
	case errors.Is(err, queue.ErrInvalidJob):
		code = fiber.StatusBadRequest
	case errors.Is(err, queue.ErrJobNotFound):
		code = fiber.StatusNotFound
	case errors.Is(err, queue.ErrJobNotCancelable):
		code = fiber.StatusConflict
	}

	return c.Status(code).JSON(Response{
		Success: false,
		Error:   err.Error(),
	})
}

// bind parses the JSON body into req.
func bind(c *fiber.Ctx, req interface{}) error {
	if err := c.BodyParser(req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
	}
	return nil
}

// HealthCheck returns health status
func (h *Handler) HealthCheck(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// BrowserStatus returns browser status
func (h *Handler) BrowserStatus(c *fiber.Ctx) error {
	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"running":  h.browserManager.IsRunning(),
			"endpoint": h.browserManager.GetEndpoint(),
			"resolver": h.browserManager.Resolver().Defaults(),
		},
	})
}

// RequestOptions represents optional browser settings for a request.
type RequestOptions struct {
	Timeout     int                   `json:"timeout"` // seconds
	WaitForLoad *bool                 `json:"wait_for_load,omitempty"`
	UserAgent   string                `json:"user_agent,omitempty"`
	Headers     map[string]string     `json:"headers,omitempty"`
	Cookies     []browser.CookieParam `json:"cookies,omitempty"`
}

func buildPageOptions(req RequestOptions, defaultWait bool) browser.PageOptions {
	opts := browser.DefaultPageOptions()
	if req.Timeout > 0 {
		opts.Timeout = time.Duration(req.Timeout) * time.Second
	}
	if req.WaitForLoad != nil {
		opts.WaitForLoad = *req.WaitForLoad
	} else {
		opts.WaitForLoad = defaultWait
	}
	opts.UserAgent = req.UserAgent
	opts.Headers = req.Headers
	opts.Cookies = req.Cookies
	return opts
}

// FetchRequest represents a fetch request
type FetchRequest struct {
	URL        string `json:"url"`
	Screenshot bool   `json:"screenshot"`
	RequestOptions
}

// FetchPage fetches a page and returns its content
func (h *Handler) FetchPage(c *fiber.Ctx) error {
	var req FetchRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if req.URL == "" {
		return fiber.NewError(fiber.StatusBadRequest, "URL is required")
	}

	opts := buildPageOptions(req.RequestOptions, false)
	opts.Screenshot = req.Screenshot

	result, err := h.browserManager.FetchPage(c.UserContext(), req.URL, opts)
	if err != nil {
		return err
	}

	response := map[string]interface{}{
		"url":   result.URL,
		"title": result.Title,
		"html":  result.HTML,
		"text":  result.Text,
		"links": result.Links,
	}
	if len(result.Screenshot) > 0 {
		response["screenshot"] = base64.StdEncoding.EncodeToString(result.Screenshot)
	}

	return c.JSON(Response{
		Success: true,
		Data:    response,
	})
}

// ScreenshotRequest represents a screenshot request
type ScreenshotRequest struct {
	URL      string `json:"url"`
	FullPage bool   `json:"full_page"`
	RequestOptions
}

// Screenshot takes a screenshot of a page
func (h *Handler) Screenshot(c *fiber.Ctx) error {
	var req ScreenshotRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if req.URL == "" {
		return fiber.NewError(fiber.StatusBadRequest, "URL is required")
	}

	opts := buildPageOptions(req.RequestOptions, true)
	screenshot, err := h.browserManager.TakeScreenshot(c.UserContext(), req.URL, req.FullPage, opts)
	if err != nil {
		return err
	}

	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"screenshot": base64.StdEncoding.EncodeToString(screenshot),
			"format":     "png",
		},
	})
}

// EvaluateRequest represents a script evaluation request
type EvaluateRequest struct {
	URL    string `json:"url"`
	Script string `json:"script"`
	RequestOptions
}

// EvaluateScript evaluates JavaScript on a page
func (h *Handler) EvaluateScript(c *fiber.Ctx) error {
	var req EvaluateRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if req.URL == "" || req.Script == "" {
		return fiber.NewError(fiber.StatusBadRequest, "URL and script are required")
	}

	opts := buildPageOptions(req.RequestOptions, true)
	result, err := h.browserManager.EvaluateScript(c.UserContext(), req.URL, req.Script, opts)
	if err != nil {
		return err
	}

	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"result": result,
		},
	})
}

// PageRequest is a request that only names a page.
type PageRequest struct {
	URL string `json:"url"`
	RequestOptions
}

// ExtractLinks extracts all links from a page
func (h *Handler) ExtractLinks(c *fiber.Ctx) error {
	var req PageRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if req.URL == "" {
		return fiber.NewError(fiber.StatusBadRequest, "URL is required")
	}

	opts := buildPageOptions(req.RequestOptions, false)
	result, err := h.browserManager.FetchPage(c.UserContext(), req.URL, opts)
	if err != nil {
		return err
	}

	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"url":   result.URL,
			"links": result.Links,
			"count": len(result.Links),
		},
	})
}

// GetPageInfo returns basic page information
func (h *Handler) GetPageInfo(c *fiber.Ctx) error {
	var req PageRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if req.URL == "" {
		return fiber.NewError(fiber.StatusBadRequest, "URL is required")
	}

	opts := buildPageOptions(req.RequestOptions, true)
	result, err := h.browserManager.GetPageInfo(c.UserContext(), req.URL, opts)
	if err != nil {
		return err
	}

	return c.JSON(Response{
		Success: true,
		Data:    result,
	})
}
