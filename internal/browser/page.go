package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// PageOptions represents options for page operations
type PageOptions struct {
	Timeout     time.Duration     `json:"timeout"`
	WaitForLoad bool              `json:"wait_for_load"`
	Screenshot  bool              `json:"screenshot"`
	UserAgent   string            `json:"user_agent,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Cookies     []CookieParam     `json:"cookies,omitempty"`
}

// DefaultPageOptions returns default page options
func DefaultPageOptions() PageOptions {
	return PageOptions{
		Timeout:     30 * time.Second,
		WaitForLoad: true,
	}
}

// PageResult represents the result of a page operation
type PageResult struct {
	URL        string   `json:"url"`
	Title      string   `json:"title"`
	HTML       string   `json:"html,omitempty"`
	Text       string   `json:"text,omitempty"`
	Links      []string `json:"links,omitempty"`
	Screenshot []byte   `json:"screenshot,omitempty"`
}

// CookieParam represents cookie parameters sent in requests.
type CookieParam struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	URL      string `json:"url,omitempty"`
	Domain   string `json:"domain,omitempty"`
	Path     string `json:"path,omitempty"`
	Expires  int64  `json:"expires,omitempty"`
	HTTPOnly bool   `json:"http_only,omitempty"`
	Secure   bool   `json:"secure,omitempty"`
}

// ElementTarget describes the element an operation acts on.
type ElementTarget struct {
	Target     string              `json:"target"`
	Strategies []resolver.Strategy `json:"strategies,omitempty"`
	Options    resolver.Options    `json:"-"`
}

// FieldValue pairs a form field with the value typed into it.
type FieldValue struct {
	Field ElementTarget `json:"field"`
	Value string        `json:"value"`
}

// ElementInfo describes a resolved element and how it was found.
type ElementInfo struct {
	Tag        string            `json:"tag"`
	Text       string            `json:"text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Visible    bool              `json:"visible"`
	Strategy   resolver.Strategy `json:"strategy"`
	Query      string            `json:"query"`
	Attempt    int               `json:"attempt"`
}

const describeJS = `() => {
	const s = window.getComputedStyle(this);
	const attributes = {};
	for (const a of this.attributes) attributes[a.name] = a.value;
	return {
		tag: this.tagName.toLowerCase(),
		text: (this.innerText || this.textContent || '').trim().slice(0, 500),
		attributes,
		visible: s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0',
	};
}`

// FetchPage fetches a page and returns its content
func (m *Manager) FetchPage(ctx context.Context, url string, opts PageOptions) (*PageResult, error) {
	var result *PageResult
	err := m.withPage(ctx, url, opts, func(page *rod.Page) error {
		result = &PageResult{URL: url}

		if info, err := page.Info(); err == nil {
			result.Title = info.Title
		}
		if html, err := page.HTML(); err == nil {
			result.HTML = html
		}
		if text, err := page.Eval(`() => document.body ? document.body.innerText : ''`); err == nil {
			result.Text = text.Value.Str()
		}
		if links, err := extractLinks(page); err == nil {
			result.Links = links
		}
		if opts.Screenshot {
			if shot, err := page.Screenshot(true, nil); err == nil {
				result.Screenshot = shot
			}
		}
		return nil
	})
	return result, err
}

// TakeScreenshot takes a screenshot of a page
func (m *Manager) TakeScreenshot(ctx context.Context, url string, fullPage bool, opts PageOptions) ([]byte, error) {
	var shot []byte
	err := m.withPage(ctx, url, opts, func(page *rod.Page) error {
		var err error
		shot, err = page.Screenshot(fullPage, nil)
		if err != nil {
			return fmt.Errorf("failed to take screenshot: %w", err)
		}
		return nil
	})
	return shot, err
}

// EvaluateScript evaluates JavaScript on a page
func (m *Manager) EvaluateScript(ctx context.Context, url string, script string, opts PageOptions) (interface{}, error) {
	var value interface{}
	err := m.withPage(ctx, url, opts, func(page *rod.Page) error {
		res, err := page.Eval(script)
		if err != nil {
			return fmt.Errorf("failed to evaluate script: %w", err)
		}
		value = res.Value.Val()
		return nil
	})
	return value, err
}

// GetPageInfo returns basic page information
func (m *Manager) GetPageInfo(ctx context.Context, url string, opts PageOptions) (*PageResult, error) {
	var result *PageResult
	err := m.withPage(ctx, url, opts, func(page *rod.Page) error {
		info, err := page.Info()
		if err != nil {
			return fmt.Errorf("failed to read page info: %w", err)
		}
		result = &PageResult{URL: info.URL, Title: info.Title}
		return nil
	})
	return result, err
}

// ClickElement resolves target and clicks it.
func (m *Manager) ClickElement(ctx context.Context, url string, target ElementTarget, opts PageOptions) (*ElementInfo, error) {
	return m.withElement(ctx, url, target, opts, func(el *rod.Element) error {
		if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
			return fmt.Errorf("failed to click element: %w", err)
		}
		return nil
	})
}

// TypeInto resolves target, clears it and types text.
func (m *Manager) TypeInto(ctx context.Context, url string, target ElementTarget, text string, opts PageOptions) (*ElementInfo, error) {
	return m.withElement(ctx, url, target, opts, func(el *rod.Element) error {
		return typeInto(el, text)
	})
}

// FillForm resolves each field in order and types its value.
func (m *Manager) FillForm(ctx context.Context, url string, fields []FieldValue, opts PageOptions) ([]ElementInfo, error) {
	infos := make([]ElementInfo, 0, len(fields))
	err := m.withPage(ctx, url, opts, func(page *rod.Page) error {
		doc := NewDocument(page)
		for _, f := range fields {
			el, info, err := m.resolve(page.GetContext(), doc, f.Field)
			if err != nil {
				return fmt.Errorf("field %q: %w", f.Field.Target, err)
			}
			if err := typeInto(el, f.Value); err != nil {
				return fmt.Errorf("field %q: %w", f.Field.Target, err)
			}
			infos = append(infos, *info)
		}
		return nil
	})
	return infos, err
}

// WaitFor resolves target and reports it without acting on it.
func (m *Manager) WaitFor(ctx context.Context, url string, target ElementTarget, opts PageOptions) (*ElementInfo, error) {
	return m.withElement(ctx, url, target, opts, nil)
}

// ScrollIntoView resolves target and scrolls it into the viewport.
func (m *Manager) ScrollIntoView(ctx context.Context, url string, target ElementTarget, opts PageOptions) (*ElementInfo, error) {
	return m.withElement(ctx, url, target, opts, func(el *rod.Element) error {
		if err := el.ScrollIntoView(); err != nil {
			return fmt.Errorf("failed to scroll element into view: %w", err)
		}
		return nil
	})
}

// InspectElement resolves target regardless of visibility and describes it.
func (m *Manager) InspectElement(ctx context.Context, url string, target ElementTarget, opts PageOptions) (*ElementInfo, error) {
	target.Options.RequireVisible = false
	return m.withElement(ctx, url, target, opts, nil)
}

func (m *Manager) withPage(ctx context.Context, url string, opts PageOptions, fn func(page *rod.Page) error) error {
	ctx, cancel := withTimeout(ctx, opts.Timeout)
	defer cancel()

	page, err := m.OpenPage(ctx, url, opts)
	if err != nil {
		return err
	}
	defer page.Close()

	return fn(page)
}

// withElement opens url, resolves target, describes the element and then
// runs act. The description is taken first since act may navigate away.
func (m *Manager) withElement(ctx context.Context, url string, target ElementTarget, opts PageOptions, act func(el *rod.Element) error) (*ElementInfo, error) {
	var info *ElementInfo
	err := m.withPage(ctx, url, opts, func(page *rod.Page) error {
		el, described, err := m.resolve(page.GetContext(), NewDocument(page), target)
		if err != nil {
			return err
		}
		info = described
		if act == nil {
			return nil
		}
		return act(el)
	})
	if err != nil {
		return nil, err
	}
	return info, nil
}

func (m *Manager) resolve(ctx context.Context, doc *Document, target ElementTarget) (*rod.Element, *ElementInfo, error) {
	match, err := m.resolver.Resolve(ctx, doc, target.Target, target.Strategies, target.Options)
	if err != nil {
		return nil, nil, err
	}

	el, err := rodElement(match)
	if err != nil {
		return nil, nil, err
	}
	info := &ElementInfo{
		Strategy: match.Strategy,
		Query:    match.Query,
		Attempt:  match.Attempt,
	}
	if err := describe(el, info); err != nil {
		m.logger.Warn("failed to describe element", "target", target.Target, "error", err)
	}
	return el, info, nil
}

func describe(el *rod.Element, info *ElementInfo) error {
	res, err := el.Eval(describeJS)
	if err != nil {
		return err
	}
	data, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, info)
}

// rodElement unwraps a match produced over a rod Document.
func rodElement(match *resolver.Match) (*rod.Element, error) {
	el, ok := match.Element.(*Element)
	if !ok || el == nil || el.el == nil {
		return nil, fmt.Errorf("resolved element %T is not backed by rod", match.Element)
	}
	return el.el, nil
}

// textInput is the part of *rod.Element typing needs.
type textInput interface {
	SelectAllText() error
	Input(text string) error
}

// typeInto replaces the element's current value with text. Elements without
// selectable text are typed into as is.
func typeInto(el textInput, text string) error {
	if err := el.SelectAllText(); err == nil {
		if err := el.Input(""); err != nil {
			return fmt.Errorf("failed to clear input: %w", err)
		}
	}
	if err := el.Input(text); err != nil {
		return fmt.Errorf("failed to input text: %w", err)
	}
	return nil
}

func extractLinks(page *rod.Page) ([]string, error) {
	result, err := page.Eval(`() => {
		return Array.from(document.querySelectorAll('a')).map(a => a.href).filter(href => href);
	}`)
	if err != nil {
		return nil, err
	}

	var links []string
	for _, v := range result.Value.Arr() {
		if str := v.Str(); str != "" {
			links = append(links, str)
		}
	}
	return links, nil
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func applyPageOptions(page *rod.Page, targetURL string, opts PageOptions) error {
	if opts.UserAgent != "" {
		if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: opts.UserAgent}); err != nil {
			return fmt.Errorf("failed to set user agent: %w", err)
		}
	}

	if len(opts.Headers) > 0 {
		pairs := make([]string, 0, len(opts.Headers)*2)
		for key, value := range opts.Headers {
			pairs = append(pairs, key, value)
		}
		if _, err := page.SetExtraHeaders(pairs); err != nil {
			return fmt.Errorf("failed to set headers: %w", err)
		}
	}

	if len(opts.Cookies) > 0 {
		if err := page.SetCookies(toCookieParams(targetURL, opts.Cookies)); err != nil {
			return fmt.Errorf("failed to set cookies: %w", err)
		}
	}

	return nil
}

func toCookieParams(targetURL string, cookies []CookieParam) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	parsedURL, _ := url.Parse(targetURL)

	for _, cookie := range cookies {
		param := &proto.NetworkCookieParam{
			Name:     cookie.Name,
			Value:    cookie.Value,
			URL:      cookie.URL,
			Domain:   cookie.Domain,
			Path:     cookie.Path,
			Secure:   cookie.Secure,
			HTTPOnly: cookie.HTTPOnly,
		}
		if cookie.Expires > 0 {
			param.Expires = proto.TimeSinceEpoch(cookie.Expires)
		}
		if param.URL == "" && param.Domain == "" && parsedURL != nil {
			param.URL = parsedURL.String()
		}
		params = append(params, param)
	}

	return params
}
