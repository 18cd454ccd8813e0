package resolver

import "time"

// Overrides is the wire form of Options used by API requests and queued
// jobs. Nil fields keep the base value.
type Overrides struct {
	TimeoutMS      *int     `json:"timeout_ms,omitempty"`
	Visible        *bool    `json:"visible,omitempty"`
	MaxRetries     *int     `json:"max_retries,omitempty"`
	InitialDelayMS *int     `json:"initial_delay_ms,omitempty"`
	MaxDelayMS     *int     `json:"max_delay_ms,omitempty"`
	BackoffFactor  *float64 `json:"backoff_factor,omitempty"`
}

// Apply returns base with every set field replaced.
func (o *Overrides) Apply(base Options) Options {
	if o == nil {
		return base
	}
	if o.TimeoutMS != nil {
		base.Timeout = time.Duration(*o.TimeoutMS) * time.Millisecond
	}
	if o.Visible != nil {
		base.RequireVisible = *o.Visible
	}
	if o.MaxRetries != nil {
		base.MaxRetries = *o.MaxRetries
	}
	if o.InitialDelayMS != nil {
		base.InitialDelay = time.Duration(*o.InitialDelayMS) * time.Millisecond
	}
	if o.MaxDelayMS != nil {
		base.MaxDelay = time.Duration(*o.MaxDelayMS) * time.Millisecond
	}
	if o.BackoffFactor != nil {
		base.BackoffFactor = *o.BackoffFactor
	}
	return base
}
