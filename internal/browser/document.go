package browser

import (
	"context"
	"fmt"

	"github.com/ahrdadan/seekr/internal/resolver"
	"github.com/go-rod/rod"
)

// markTextJS marks the innermost element of the first subtree whose text
// contains the needle.
const markTextJS = `(attr, text) => {
	let node = document.body || document.documentElement;
	if (!node || !(node.textContent || '').includes(text)) return false;
	for (;;) {
		const next = Array.from(node.children).find(c => (c.textContent || '').includes(text));
		if (!next) break;
		node = next;
	}
	node.setAttribute(attr, '');
	return true;
}`

const unmarkJS = `(attr) => {
	document.querySelectorAll('[' + attr + ']').forEach(el => el.removeAttribute(attr));
}`

const computedStyleJS = `() => {
	const s = window.getComputedStyle(this);
	return { display: s.display, visibility: s.visibility, opacity: s.opacity };
}`

var (
	_ resolver.Document = (*Document)(nil)
	_ resolver.Element  = (*Element)(nil)
)

// Document adapts a rod page to resolver.Document.
type Document struct {
	page *rod.Page
}

// NewDocument wraps page. A nil page yields a detached document.
func NewDocument(page *rod.Page) *Document {
	return &Document{page: page}
}

// Attached reports whether a page is present.
func (d *Document) Attached() bool {
	return d != nil && d.page != nil
}

// QueryCSS runs a single, non-waiting CSS query.
func (d *Document) QueryCSS(ctx context.Context, selector string) (resolver.Element, bool, error) {
	has, el, err := d.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, false, fmt.Errorf("css query %q failed: %w", selector, err)
	}
	if !has {
		return nil, false, nil
	}
	return d.wrap(el), true, nil
}

// QueryXPath returns the first XPath match without waiting.
func (d *Document) QueryXPath(ctx context.Context, expr string) (resolver.Element, bool, error) {
	has, el, err := d.page.Context(ctx).HasX(expr)
	if err != nil {
		return nil, false, fmt.Errorf("xpath query %q failed: %w", expr, err)
	}
	if !has {
		return nil, false, nil
	}
	return d.wrap(el), true, nil
}

// MarkText tags the first element containing text with attr.
func (d *Document) MarkText(ctx context.Context, attr, text string) (bool, error) {
	res, err := d.page.Context(ctx).Eval(markTextJS, attr, text)
	if err != nil {
		return false, fmt.Errorf("text scan failed: %w", err)
	}
	return res.Value.Bool(), nil
}

// Unmark strips attr from the document.
func (d *Document) Unmark(ctx context.Context, attr string) error {
	if _, err := d.page.Context(ctx).Eval(unmarkJS, attr); err != nil {
		return fmt.Errorf("failed to remove %s: %w", attr, err)
	}
	return nil
}

// Snapshot captures a viewport PNG.
func (d *Document) Snapshot(ctx context.Context) ([]byte, error) {
	data, err := d.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to take screenshot: %w", err)
	}
	return data, nil
}

// wrap rebinds the element to the page's own context so it outlives the
// per-query context used to find it.
func (d *Document) wrap(el *rod.Element) *Element {
	return &Element{el: el.Context(d.page.GetContext())}
}

// Element adapts a rod element to resolver.Element.
type Element struct {
	el *rod.Element
}

// ComputedStyle reads display, visibility and opacity.
func (e *Element) ComputedStyle(ctx context.Context) (resolver.Style, error) {
	res, err := e.el.Context(ctx).Eval(computedStyleJS)
	if err != nil {
		return resolver.Style{}, err
	}
	return resolver.Style{
		Display:    res.Value.Get("display").Str(),
		Visibility: res.Value.Get("visibility").Str(),
		Opacity:    res.Value.Get("opacity").Str(),
	}, nil
}

// Rod returns the underlying rod element.
func (e *Element) Rod() *rod.Element {
	return e.el
}
