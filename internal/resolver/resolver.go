package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ahrdadan/seekr/internal/metrics"
	"github.com/google/uuid"
)

const (
	// MarkerPrefix prefixes the temporary attribute used by the text scan.
	MarkerPrefix = "data-seekr-mark-"

	cleanupTimeout  = 5 * time.Second
	snapshotTimeout = 5 * time.Second
)

// Resolver locates a single element using an ordered list of strategies,
// retrying each with exponential backoff.
//
// A Resolver holds no per-call state and may be shared, but calls against
// the same Document must be serialized by the caller.
type Resolver struct {
	registry  *Registry
	defaults  Options
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	newMarker func() string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithRegistry replaces the built-in strategy registry.
func WithRegistry(reg *Registry) Option {
	return func(r *Resolver) { r.registry = reg }
}

// WithDefaults sets the process-wide default options.
func WithDefaults(opts Options) Option {
	return func(r *Resolver) { r.defaults = opts }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// New creates a Resolver.
func New(opts ...Option) *Resolver {
	r := &Resolver{
		registry: NewRegistry(),
		defaults: DefaultOptions(),
		logger:   slog.Default(),
		sleep:    sleepContext,
		newMarker: func() string {
			return MarkerPrefix + uuid.NewString()
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Defaults returns a copy of the process-wide default options.
func (r *Resolver) Defaults() Options {
	return r.defaults
}

// Registry returns the strategy registry.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

type state int

const (
	stateIdle state = iota
	stateTrying
	stateFound
	stateExhausted
)

// Resolve returns the first element that one of strategies finds (and, if
// required, that is visible). Strategies are tried in order; each one is
// retried up to opts.MaxRetries times before moving to the next.
//
// It returns ErrPreconditionFailed if doc is not attached, or a
// *ResolutionError carrying the full attempt trace when every strategy is
// exhausted or the deadline set by opts.Timeout passes.
func (r *Resolver) Resolve(ctx context.Context, doc Document, target string, strategies []Strategy, opts Options) (*Match, error) {
	if doc == nil || !doc.Attached() {
		return nil, ErrPreconditionFailed
	}
	if len(strategies) == 0 {
		strategies = DefaultStrategies
	}
	opts = opts.normalize()

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	began := time.Now()
	rec := &recorder{observe: opts.OnAttempt}
	tried := make([]Strategy, 0, len(strategies))

	var (
		st    = stateIdle
		next  int
		match *Match
	)
	for {
		switch st {
		case stateIdle:
			st = stateTrying

		case stateTrying:
			if next >= len(strategies) || ctx.Err() != nil {
				st = stateExhausted
				continue
			}
			s := strategies[next]
			tried = append(tried, s)
			if m, ok := r.tryStrategy(ctx, doc, target, s, opts, rec); ok {
				match = m
				st = stateFound
				continue
			}
			next++

		case stateFound:
			elapsed := time.Since(began)
			metrics.Resolutions.WithLabelValues("found").Inc()
			metrics.ResolveDuration.WithLabelValues("found").Observe(elapsed.Seconds())
			r.logger.Debug("element resolved",
				"target", target,
				"strategy", match.Strategy,
				"attempt", match.Attempt,
				"attempts_total", len(rec.attempts),
				"elapsed", elapsed)
			return match, nil

		case stateExhausted:
			deadline := errors.Is(ctx.Err(), context.DeadlineExceeded)
			rerr := rec.failure(target, tried, r.snapshot(ctx, doc), deadline)
			elapsed := time.Since(began)
			metrics.Resolutions.WithLabelValues("not_found").Inc()
			metrics.ResolveDuration.WithLabelValues("not_found").Observe(elapsed.Seconds())
			r.logger.Info("element resolution failed",
				"target", target,
				"strategies", len(tried),
				"attempts_total", len(rerr.Trace),
				"deadline_exceeded", deadline,
				"elapsed", elapsed)
			return nil, rerr
		}
	}
}

// tryStrategy runs the retry/backoff loop for one strategy.
func (r *Resolver) tryStrategy(ctx context.Context, doc Document, target string, s Strategy, opts Options, rec *recorder) (*Match, bool) {
	query, kind, ok := r.registry.Translate(s, target)
	if !ok {
		rec.record(Attempt{
			Strategy: s,
			Outcome:  OutcomeError,
			Message:  fmt.Sprintf("unknown strategy: %s", s),
		})
		return nil, false
	}

	for i := 0; i < opts.MaxRetries; i++ {
		if ctx.Err() != nil {
			return nil, false
		}

		started := time.Now()
		el, outcome, msg := r.attempt(ctx, doc, query, kind, opts.RequireVisible)
		a := Attempt{
			Strategy: s,
			Query:    query,
			Index:    i,
			Outcome:  outcome,
			Message:  msg,
			Duration: time.Since(started),
		}

		if outcome == OutcomeSuccess {
			rec.record(a)
			return &Match{Element: el, Strategy: s, Query: query, Attempt: i}, true
		}

		last := i == opts.MaxRetries-1
		if !last {
			a.Delay = opts.Delay(i)
		}
		rec.record(a)
		if last {
			break
		}
		if err := r.sleep(ctx, a.Delay); err != nil {
			return nil, false
		}
	}

	r.logger.Debug("strategy exhausted", "strategy", s, "query", query, "attempts", opts.MaxRetries)
	return nil, false
}

// attempt performs one locate and, when required, one visibility check. It
// never returns an error: failures are folded into the outcome.
func (r *Resolver) attempt(ctx context.Context, doc Document, query string, kind Kind, requireVisible bool) (el Element, outcome Outcome, msg string) {
	defer func() {
		if p := recover(); p != nil {
			el, outcome, msg = nil, OutcomeError, fmt.Sprintf("driver panic: %v", p)
		}
	}()

	el, found, err := r.locate(ctx, doc, query, kind)
	if err != nil {
		return nil, OutcomeError, err.Error()
	}
	if !found {
		return nil, OutcomeNotFound, fmt.Sprintf("no %s match for %s", kind, query)
	}
	if !requireVisible {
		return el, OutcomeSuccess, "found"
	}

	style, err := el.ComputedStyle(ctx)
	if err != nil {
		return nil, OutcomeError, fmt.Sprintf("failed to compute style: %v", err)
	}
	if !style.Visible() {
		return nil, OutcomeNotVisible, fmt.Sprintf("found but hidden (display=%s visibility=%s opacity=%s)",
			style.Display, style.Visibility, style.Opacity)
	}
	return el, OutcomeSuccess, "found visible"
}

func (r *Resolver) locate(ctx context.Context, doc Document, query string, kind Kind) (Element, bool, error) {
	switch kind {
	case KindCSS:
		return doc.QueryCSS(ctx, query)
	case KindXPath:
		return doc.QueryXPath(ctx, query)
	case KindText:
		return r.locateText(ctx, doc, query)
	default:
		return nil, false, fmt.Errorf("unsupported locator kind: %s", kind)
	}
}

// locateText marks the first element containing text, re-queries it by the
// marker and always removes the marker before returning.
func (r *Resolver) locateText(ctx context.Context, doc Document, text string) (el Element, found bool, err error) {
	attr := r.newMarker()
	found, release, err := markScope(ctx, doc, attr, text)
	defer func() {
		if rerr := release(); rerr != nil {
			r.logger.Warn("failed to remove text marker", "attr", attr, "error", rerr)
			if err == nil {
				el, found, err = nil, false, fmt.Errorf("failed to remove text marker: %w", rerr)
			}
		}
	}()
	if err != nil {
		return nil, false, fmt.Errorf("failed to scan text: %w", err)
	}
	if !found {
		return nil, false, nil
	}
	return doc.QueryCSS(ctx, "["+attr+"]")
}

// markScope acquires the text marker. The returned release must be called on
// every exit path, including when err is non-nil, since the driver may have
// applied the marker before failing.
func markScope(ctx context.Context, doc Document, attr, text string) (bool, func() error, error) {
	release := func() error {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()
		return doc.Unmark(cctx, attr)
	}
	found, err := doc.MarkText(ctx, attr, text)
	return found, release, err
}

func (r *Resolver) snapshot(ctx context.Context, doc Document) []byte {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()

	data, err := doc.Snapshot(sctx)
	if err != nil {
		r.logger.Warn("failed to capture page snapshot", "error", err)
		return nil
	}
	return data
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
