package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahrdadan/seekr/internal/browser"
	"github.com/ahrdadan/seekr/internal/resolver"
)

// Processor runs fetch and interact jobs against a browser client.
type Processor struct {
	client browser.Client
	logger *slog.Logger
}

// NewProcessor creates a new job processor
func NewProcessor(client browser.Client, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{client: client, logger: logger.With("component", "processor")}
}

// InteractResult is the result of an interact job.
type InteractResult struct {
	Action  Action                `json:"action"`
	Element *browser.ElementInfo  `json:"element,omitempty"`
	Fields  []browser.ElementInfo `json:"fields,omitempty"`
}

// Process runs job. Resolution attempts are forwarded to hooks.Attempt as
// they happen.
func (p *Processor) Process(ctx context.Context, job *Job, hooks Hooks) (interface{}, error) {
	req := job.Request
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if p.client == nil || !p.client.IsRunning() {
		return nil, fmt.Errorf("browser not available")
	}

	hooks.stage("initialization")
	hooks.progress(10, "Preparing page options")
	opts := pageOptions(req)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("job timed out: %w", err)
	}

	var (
		result interface{}
		err    error
	)
	switch req.Type {
	case JobTypeFetch:
		result, err = p.fetch(ctx, req, opts, hooks)
	case JobTypeInteract:
		result, err = p.interact(ctx, req, opts, hooks)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("job timed out after %v: %w", job.GetTimeoutDuration(), err)
		}
		return nil, err
	}

	hooks.stage("completed")
	hooks.progress(100, "Job completed")
	return result, nil
}

func (p *Processor) fetch(ctx context.Context, req JobRequest, opts browser.PageOptions, hooks Hooks) (interface{}, error) {
	if req.Script != "" {
		hooks.stage("script_execution")
		hooks.progress(50, "Executing script")
		return p.client.EvaluateScript(ctx, req.URL, req.Script, opts)
	}

	hooks.stage("fetching")
	hooks.progress(50, "Fetching page")
	result, err := p.client.FetchPage(ctx, req.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch page: %w", err)
	}
	return result, nil
}

func (p *Processor) interact(ctx context.Context, req JobRequest, opts browser.PageOptions, hooks Hooks) (interface{}, error) {
	resolveOpts := req.Resolve.Apply(p.client.Resolver().Defaults())
	resolveOpts.OnAttempt = hooks.Attempt

	hooks.stage("resolving")
	hooks.progress(30, fmt.Sprintf("Resolving %s target", req.Action))

	out := &InteractResult{Action: req.Action}
	if req.Action == ActionFill {
		fields, err := p.fields(req.Fields, resolveOpts)
		if err != nil {
			return nil, err
		}
		out.Fields, err = p.client.FillForm(ctx, req.URL, fields, opts)
		if err != nil {
			return nil, err
		}
		return out, nil
	}

	target, err := p.target(req.Target, req.Strategies, resolveOpts)
	if err != nil {
		return nil, err
	}

	switch req.Action {
	case ActionClick:
		out.Element, err = p.client.ClickElement(ctx, req.URL, target, opts)
	case ActionType:
		out.Element, err = p.client.TypeInto(ctx, req.URL, target, req.Text, opts)
	case ActionWait:
		out.Element, err = p.client.WaitFor(ctx, req.URL, target, opts)
	case ActionScroll:
		out.Element, err = p.client.ScrollIntoView(ctx, req.URL, target, opts)
	case ActionInspect:
		out.Element, err = p.client.InspectElement(ctx, req.URL, target, opts)
	}
	if err != nil {
		return nil, err
	}

	p.logger.Debug("interaction done", "action", req.Action, "target", req.Target,
		"strategy", out.Element.Strategy, "attempt", out.Element.Attempt)
	return out, nil
}

func (p *Processor) target(target string, raw []string, opts resolver.Options) (browser.ElementTarget, error) {
	strategies, err := p.client.Resolver().Registry().ParseStrategies(raw)
	if err != nil {
		return browser.ElementTarget{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	return browser.ElementTarget{Target: target, Strategies: strategies, Options: opts}, nil
}

func (p *Processor) fields(reqs []FieldRequest, opts resolver.Options) ([]browser.FieldValue, error) {
	fields := make([]browser.FieldValue, 0, len(reqs))
	for _, f := range reqs {
		target, err := p.target(f.Target, f.Strategies, opts)
		if err != nil {
			return nil, err
		}
		fields = append(fields, browser.FieldValue{Field: target, Value: f.Value})
	}
	return fields, nil
}

func pageOptions(req JobRequest) browser.PageOptions {
	opts := browser.DefaultPageOptions()
	if req.Timeout > 0 {
		opts.Timeout = time.Duration(req.Timeout) * time.Second
	}
	opts.WaitForLoad = req.WaitForLoad
	opts.UserAgent = req.UserAgent
	opts.Headers = req.Headers
	opts.Cookies = req.Cookies
	return opts
}
