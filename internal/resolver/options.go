package resolver

import (
	"math"
	"time"
)

// Default resolution settings.
const (
	DefaultMaxRetries    = 3
	DefaultInitialDelay  = 100 * time.Millisecond
	DefaultMaxDelay      = 2 * time.Second
	DefaultBackoffFactor = 1.5
	DefaultTimeout       = 15 * time.Second

	// MaxRetriesLimit caps attempts per strategy whatever the caller asks for.
	MaxRetriesLimit = 50
)

// Options controls a single Resolve call.
type Options struct {
	// Timeout bounds the whole call, across all strategies. Zero disables the deadline.
	Timeout        time.Duration `json:"timeout" yaml:"timeout"`
	RequireVisible bool          `json:"visible" yaml:"visible"`
	MaxRetries     int           `json:"max_retries" yaml:"max_retries"`
	InitialDelay   time.Duration `json:"initial_delay" yaml:"initial_delay"`
	MaxDelay       time.Duration `json:"max_delay" yaml:"max_delay"`
	BackoffFactor  float64       `json:"backoff_factor" yaml:"backoff_factor"`

	// OnAttempt, when set, observes every attempt as soon as it is recorded.
	OnAttempt func(Attempt) `json:"-" yaml:"-"`
}

// DefaultOptions returns the built-in defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:        DefaultTimeout,
		RequireVisible: true,
		MaxRetries:     DefaultMaxRetries,
		InitialDelay:   DefaultInitialDelay,
		MaxDelay:       DefaultMaxDelay,
		BackoffFactor:  DefaultBackoffFactor,
	}
}

// normalize clamps values that would make the retry loop meaningless.
func (o Options) normalize() Options {
	if o.MaxRetries < 1 {
		o.MaxRetries = 1
	}
	if o.MaxRetries > MaxRetriesLimit {
		o.MaxRetries = MaxRetriesLimit
	}
	if o.InitialDelay < 0 {
		o.InitialDelay = 0
	}
	if o.MaxDelay < 0 {
		o.MaxDelay = 0
	}
	if o.BackoffFactor <= 0 {
		o.BackoffFactor = 1
	}
	return o
}

// Delay returns the pause taken after the failed attempt with the given
// 0-based index: min(InitialDelay * BackoffFactor^attempt, MaxDelay).
func (o Options) Delay(attempt int) time.Duration {
	d := float64(o.InitialDelay) * math.Pow(o.BackoffFactor, float64(attempt))
	switch {
	case math.IsNaN(d) || d <= 0:
		// 0 * +Inf when the factor overflows with no initial delay
		return 0
	case math.IsInf(d, 1) || d > float64(o.MaxDelay):
		return o.MaxDelay
	}
	return time.Duration(d)
}
