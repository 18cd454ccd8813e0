package browser

import (
	"context"

	"github.com/ahrdadan/seekr/internal/resolver"
)

var _ Client = (*Manager)(nil)

// Client defines the browser operations used by the API handlers and the
// job processor.
type Client interface {
	IsRunning() bool
	GetEndpoint() string
	Resolver() *resolver.Resolver

	FetchPage(ctx context.Context, url string, opts PageOptions) (*PageResult, error)
	TakeScreenshot(ctx context.Context, url string, fullPage bool, opts PageOptions) ([]byte, error)
	EvaluateScript(ctx context.Context, url string, script string, opts PageOptions) (interface{}, error)
	GetPageInfo(ctx context.Context, url string, opts PageOptions) (*PageResult, error)

	ClickElement(ctx context.Context, url string, target ElementTarget, opts PageOptions) (*ElementInfo, error)
	TypeInto(ctx context.Context, url string, target ElementTarget, text string, opts PageOptions) (*ElementInfo, error)
	FillForm(ctx context.Context, url string, fields []FieldValue, opts PageOptions) ([]ElementInfo, error)
	WaitFor(ctx context.Context, url string, target ElementTarget, opts PageOptions) (*ElementInfo, error)
	ScrollIntoView(ctx context.Context, url string, target ElementTarget, opts PageOptions) (*ElementInfo, error)
	InspectElement(ctx context.Context, url string, target ElementTarget, opts PageOptions) (*ElementInfo, error)
}
