package api

import (
	"context"

	"github.com/ahrdadan/seekr/internal/browser"
	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/gofiber/fiber/v2"
)

// ElementRequest names a page and the element to act on. Options override
// the server's resolver defaults field by field.
type ElementRequest struct {
	URL        string              `json:"url"`
	Target     string              `json:"target"`
	Strategies []string            `json:"strategies,omitempty"`
	Options    *resolver.Overrides `json:"options,omitempty"`
	RequestOptions
}

// TypeRequest represents a type-into request
type TypeRequest struct {
	ElementRequest
	Text string `json:"text"`
}

// FieldInput is one field of a fill request.
type FieldInput struct {
	Target     string   `json:"target"`
	Strategies []string `json:"strategies,omitempty"`
	Value      string   `json:"value"`
}

// FillRequest represents a form fill request
type FillRequest struct {
	URL     string              `json:"url"`
	Fields  []FieldInput        `json:"fields"`
	Options *resolver.Overrides `json:"options,omitempty"`
	RequestOptions
}

// ClickElement resolves and clicks an element
func (h *Handler) ClickElement(c *fiber.Ctx) error {
	return h.elementAction(c, "clicked", h.browserManager.ClickElement)
}

// WaitFor resolves an element and reports it
func (h *Handler) WaitFor(c *fiber.Ctx) error {
	return h.elementAction(c, "found", h.browserManager.WaitFor)
}

// ScrollIntoView resolves an element and scrolls to it
func (h *Handler) ScrollIntoView(c *fiber.Ctx) error {
	return h.elementAction(c, "scrolled", h.browserManager.ScrollIntoView)
}

// InspectElement resolves an element, visible or not, and describes it
func (h *Handler) InspectElement(c *fiber.Ctx) error {
	return h.elementAction(c, "found", h.browserManager.InspectElement)
}

// TypeInto resolves an input and types text into it
func (h *Handler) TypeInto(c *fiber.Ctx) error {
	var req TypeRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	target, err := h.elementTarget(req.ElementRequest)
	if err != nil {
		return err
	}

	opts := buildPageOptions(req.RequestOptions, true)
	info, err := h.browserManager.TypeInto(c.UserContext(), req.URL, target, req.Text, opts)
	if err != nil {
		return err
	}

	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"typed":   true,
			"element": info,
		},
	})
}

// FillForm resolves each field in order and types its value
func (h *Handler) FillForm(c *fiber.Ctx) error {
	var req FillRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	if req.URL == "" || len(req.Fields) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "URL and fields are required")
	}

	resolveOpts := req.Options.Apply(h.browserManager.Resolver().Defaults())
	fields := make([]browser.FieldValue, 0, len(req.Fields))
	for _, f := range req.Fields {
		target, err := h.elementTarget(ElementRequest{
			URL:        req.URL,
			Target:     f.Target,
			Strategies: f.Strategies,
		})
		if err != nil {
			return err
		}
		target.Options = resolveOpts
		fields = append(fields, browser.FieldValue{Field: target, Value: f.Value})
	}

	opts := buildPageOptions(req.RequestOptions, true)
	infos, err := h.browserManager.FillForm(c.UserContext(), req.URL, fields, opts)
	if err != nil {
		return err
	}

	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			"filled": true,
			"fields": infos,
		},
	})
}

type elementFunc func(ctx context.Context, url string, target browser.ElementTarget, opts browser.PageOptions) (*browser.ElementInfo, error)

func (h *Handler) elementAction(c *fiber.Ctx, flag string, fn elementFunc) error {
	var req ElementRequest
	if err := bind(c, &req); err != nil {
		return err
	}

	target, err := h.elementTarget(req)
	if err != nil {
		return err
	}

	opts := buildPageOptions(req.RequestOptions, true)
	info, err := fn(c.UserContext(), req.URL, target, opts)
	if err != nil {
		return err
	}

	return c.JSON(Response{
		Success: true,
		Data: map[string]interface{}{
			flag:      true,
			"element": info,
		},
	})
}

// elementTarget validates req and merges its options over the defaults.
// Unknown strategy names are rejected before any browser work starts.
func (h *Handler) elementTarget(req ElementRequest) (browser.ElementTarget, error) {
	if req.URL == "" || req.Target == "" {
		return browser.ElementTarget{}, fiber.NewError(fiber.StatusBadRequest, "URL and target are required")
	}

	res := h.browserManager.Resolver()
	strategies, err := res.Registry().ParseStrategies(req.Strategies)
	if err != nil {
		return browser.ElementTarget{}, fiber.NewError(fiber.StatusBadRequest, err.Error())
	}

	return browser.ElementTarget{
		Target:     req.Target,
		Strategies: strategies,
		Options:    req.Options.Apply(res.Defaults()),
	}, nil
}
