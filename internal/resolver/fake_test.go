package resolver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"
)

type fakeNode struct {
	name     string
	style    Style
	styleErr error
}

func (n *fakeNode) ComputedStyle(ctx context.Context) (Style, error) {
	return n.style, n.styleErr
}

var (
	shown  = Style{Display: "block", Visibility: "visible", Opacity: "1"}
	hidden = Style{Display: "none", Visibility: "visible", Opacity: "1"}
)

// fakeDoc is an in-memory Document. Nodes registered in css, xpath or text
// become visible to queries once appearAfter[query] lookups have happened.
type fakeDoc struct {
	detached bool

	css         map[string]*fakeNode
	xpath       map[string]*fakeNode
	text        map[string]*fakeNode
	appearAfter map[string]int
	seen        map[string]int

	marks map[string]*fakeNode

	cssErr       error
	markErr      error
	markErrAfter bool
	markedQuery  error
	markedPanic  interface{}
	unmarkErr    error
	snapshot     []byte
	snapshotErr  error

	log []string
}

func newFakeDoc() *fakeDoc {
	return &fakeDoc{
		css:         map[string]*fakeNode{},
		xpath:       map[string]*fakeNode{},
		text:        map[string]*fakeNode{},
		appearAfter: map[string]int{},
		seen:        map[string]int{},
		marks:       map[string]*fakeNode{},
		snapshot:    []byte("png"),
	}
}

func (d *fakeDoc) Attached() bool { return !d.detached }

func (d *fakeDoc) lookup(set map[string]*fakeNode, q string) (*fakeNode, bool) {
	d.seen[q]++
	n, ok := set[q]
	if !ok || d.seen[q] <= d.appearAfter[q] {
		return nil, false
	}
	return n, true
}

func (d *fakeDoc) QueryCSS(ctx context.Context, selector string) (Element, bool, error) {
	d.log = append(d.log, "css:"+selector)
	if strings.HasPrefix(selector, "["+MarkerPrefix) {
		if d.markedPanic != nil {
			panic(d.markedPanic)
		}
		if d.markedQuery != nil {
			return nil, false, d.markedQuery
		}
		n, ok := d.marks[strings.Trim(selector, "[]")]
		if !ok {
			return nil, false, nil
		}
		return n, true, nil
	}
	if d.cssErr != nil {
		return nil, false, d.cssErr
	}
	n, ok := d.lookup(d.css, selector)
	if !ok {
		return nil, false, nil
	}
	return n, true, nil
}

func (d *fakeDoc) QueryXPath(ctx context.Context, expr string) (Element, bool, error) {
	d.log = append(d.log, "xpath:"+expr)
	n, ok := d.lookup(d.xpath, expr)
	if !ok {
		return nil, false, nil
	}
	return n, true, nil
}

func (d *fakeDoc) MarkText(ctx context.Context, attr, text string) (bool, error) {
	d.log = append(d.log, "text:"+text)
	if d.markErr != nil && !d.markErrAfter {
		return false, d.markErr
	}
	n, ok := d.lookup(d.text, text)
	if ok {
		d.marks[attr] = n
	}
	if d.markErr != nil {
		return false, d.markErr
	}
	return ok, nil
}

func (d *fakeDoc) Unmark(ctx context.Context, attr string) error {
	d.log = append(d.log, "unmark")
	if d.unmarkErr != nil {
		return d.unmarkErr
	}
	delete(d.marks, attr)
	return nil
}

func (d *fakeDoc) Snapshot(ctx context.Context) ([]byte, error) {
	if d.snapshotErr != nil {
		return nil, d.snapshotErr
	}
	return d.snapshot, nil
}

var errDriver = errors.New("cdp: connection reset")

// newTestResolver returns a resolver that records sleeps instead of waiting.
func newTestResolver(opts ...Option) (*Resolver, *[]time.Duration) {
	var sleeps []time.Duration
	opts = append([]Option{WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	r := New(opts...)
	r.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return r, &sleeps
}

func collect(opts *Options) *[]Attempt {
	var got []Attempt
	opts.OnAttempt = func(a Attempt) { got = append(got, a) }
	return &got
}
