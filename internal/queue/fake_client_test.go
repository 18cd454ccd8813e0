package queue

import (
	"context"

	"github.com/ahrdadan/seekr/internal/browser"
	"github.com/ahrdadan/seekr/internal/resolver"
)

// fakeClient records the element calls it receives.
type fakeClient struct {
	running  bool
	resolver *resolver.Resolver

	calls   []string
	targets []browser.ElementTarget
	fields  []browser.FieldValue
	text    string
	err     error
}

var _ browser.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		running:  true,
		resolver: resolver.New(resolver.WithLogger(discardLogger())),
	}
}

func (c *fakeClient) IsRunning() bool              { return c.running }
func (c *fakeClient) GetEndpoint() string          { return "ws://fake" }
func (c *fakeClient) Resolver() *resolver.Resolver { return c.resolver }

func (c *fakeClient) FetchPage(ctx context.Context, url string, opts browser.PageOptions) (*browser.PageResult, error) {
	c.calls = append(c.calls, "fetch")
	return &browser.PageResult{URL: url, Title: "Example"}, c.err
}

func (c *fakeClient) TakeScreenshot(ctx context.Context, url string, fullPage bool, opts browser.PageOptions) ([]byte, error) {
	c.calls = append(c.calls, "screenshot")
	return []byte("png"), c.err
}

func (c *fakeClient) EvaluateScript(ctx context.Context, url string, script string, opts browser.PageOptions) (interface{}, error) {
	c.calls = append(c.calls, "evaluate")
	return "evaluated", c.err
}

func (c *fakeClient) GetPageInfo(ctx context.Context, url string, opts browser.PageOptions) (*browser.PageResult, error) {
	c.calls = append(c.calls, "info")
	return &browser.PageResult{URL: url}, c.err
}

func (c *fakeClient) element(call string, target browser.ElementTarget) (*browser.ElementInfo, error) {
	c.calls = append(c.calls, call)
	c.targets = append(c.targets, target)
	if c.err != nil {
		return nil, c.err
	}
	return &browser.ElementInfo{Tag: "button", Strategy: resolver.StrategyText, Query: target.Target, Attempt: 1}, nil
}

func (c *fakeClient) ClickElement(ctx context.Context, url string, target browser.ElementTarget, opts browser.PageOptions) (*browser.ElementInfo, error) {
	return c.element("click", target)
}

func (c *fakeClient) TypeInto(ctx context.Context, url string, target browser.ElementTarget, text string, opts browser.PageOptions) (*browser.ElementInfo, error) {
	c.text = text
	return c.element("type", target)
}

func (c *fakeClient) FillForm(ctx context.Context, url string, fields []browser.FieldValue, opts browser.PageOptions) ([]browser.ElementInfo, error) {
	c.calls = append(c.calls, "fill")
	c.fields = fields
	if c.err != nil {
		return nil, c.err
	}
	infos := make([]browser.ElementInfo, len(fields))
	for i, f := range fields {
		infos[i] = browser.ElementInfo{Tag: "input", Query: f.Field.Target}
	}
	return infos, nil
}

func (c *fakeClient) WaitFor(ctx context.Context, url string, target browser.ElementTarget, opts browser.PageOptions) (*browser.ElementInfo, error) {
	return c.element("wait", target)
}

func (c *fakeClient) ScrollIntoView(ctx context.Context, url string, target browser.ElementTarget, opts browser.PageOptions) (*browser.ElementInfo, error) {
	return c.element("scroll", target)
}

func (c *fakeClient) InspectElement(ctx context.Context, url string, target browser.ElementTarget, opts browser.PageOptions) (*browser.ElementInfo, error) {
	return c.element("inspect", target)
}
