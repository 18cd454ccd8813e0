package resolver

import "context"

// Document is the live page the resolver queries. Implementations wrap a
// browser driver; every method is a driver round trip.
type Document interface {
	// Attached reports whether a page is currently loaded.
	Attached() bool
	// QueryCSS returns the first node matching selector without waiting.
	QueryCSS(ctx context.Context, selector string) (Element, bool, error)
	// QueryXPath returns the first node matching expr without waiting.
	QueryXPath(ctx context.Context, expr string) (Element, bool, error)
	// MarkText sets attr on the first, innermost element whose text contains
	// text and reports whether one was found.
	MarkText(ctx context.Context, attr, text string) (bool, error)
	// Unmark removes attr from every element carrying it.
	Unmark(ctx context.Context, attr string) error
	// Snapshot captures the page for human inspection.
	Snapshot(ctx context.Context) ([]byte, error)
}

// Element is an opaque handle to a located node. It is only valid until the
// next navigation or DOM replacement.
type Element interface {
	ComputedStyle(ctx context.Context) (Style, error)
}

// Style is the subset of computed style the visibility check reads.
type Style struct {
	Display    string `json:"display"`
	Visibility string `json:"visibility"`
	Opacity    string `json:"opacity"`
}

// Visible reports whether the style makes the node meaningfully present.
func (s Style) Visible() bool {
	return s.Display != "none" && s.Visibility != "hidden" && s.Opacity != "0"
}
