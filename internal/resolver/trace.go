package resolver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ahrdadan/seekr/internal/metrics"
)

var (
	// ErrPreconditionFailed is returned when no document is attached.
	ErrPreconditionFailed = errors.New("resolver: no document attached")
	// ErrResolutionFailed is matched by every *ResolutionError.
	ErrResolutionFailed = errors.New("resolver: element not found")
)

// Outcome is the result of one attempt.
type Outcome string

const (
	OutcomeSuccess    Outcome = "success"
	OutcomeNotFound   Outcome = "not_found"
	OutcomeNotVisible Outcome = "not_visible"
	OutcomeError      Outcome = "error"
)

// Attempt records one locate/validate round for one strategy.
type Attempt struct {
	Strategy Strategy      `json:"strategy"`
	Query    string        `json:"query"`
	Index    int           `json:"attempt"`
	Outcome  Outcome       `json:"outcome"`
	Message  string        `json:"message"`
	Delay    time.Duration `json:"delay_ns,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

func (a Attempt) String() string {
	s := fmt.Sprintf("%s#%d %s: %s", a.Strategy, a.Index, a.Outcome, a.Message)
	if a.Delay > 0 {
		s += fmt.Sprintf(" (retry in %s)", a.Delay)
	}
	return s
}

// Match is the winning strategy/attempt pair of a successful Resolve.
type Match struct {
	Element  Element
	Strategy Strategy
	Query    string
	Attempt  int
}

// ResolutionError is returned when every strategy was exhausted.
type ResolutionError struct {
	Target           string
	Strategies       []Strategy
	Trace            []Attempt
	Snapshot         []byte
	DeadlineExceeded bool
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "element %q not found after %d attempts", e.Target, len(e.Trace))
	if e.DeadlineExceeded {
		b.WriteString(" (deadline exceeded)")
	}
	names := make([]string, len(e.Strategies))
	for i, s := range e.Strategies {
		names[i] = string(s)
	}
	fmt.Fprintf(&b, "; strategies [%s]", strings.Join(names, ", "))
	for _, a := range e.Trace {
		b.WriteString("; ")
		b.WriteString(a.String())
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error { return ErrResolutionFailed }

// recorder accumulates the trace of one Resolve call.
type recorder struct {
	attempts []Attempt
	observe  func(Attempt)
}

func (r *recorder) record(a Attempt) {
	r.attempts = append(r.attempts, a)
	metrics.ResolveAttempts.WithLabelValues(string(a.Strategy), string(a.Outcome)).Inc()
	if r.observe != nil {
		r.observe(a)
	}
}

func (r *recorder) failure(target string, strategies []Strategy, snapshot []byte, deadline bool) *ResolutionError {
	trace := make([]Attempt, len(r.attempts))
	copy(trace, r.attempts)
	return &ResolutionError{
		Target:           target,
		Strategies:       strategies,
		Trace:            trace,
		Snapshot:         snapshot,
		DeadlineExceeded: deadline,
	}
}
