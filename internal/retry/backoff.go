package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy controls whether and how failed requests are retried.
type Policy struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	MaxRetries    int           `json:"max_retries" yaml:"max_retries"`
	InitialDelay  time.Duration `json:"initial_delay" yaml:"initial_delay"`
	BackoffFactor float64       `json:"backoff_factor" yaml:"backoff_factor"`
	MaxDelay      time.Duration `json:"max_delay" yaml:"max_delay"`
	JitterEnabled bool          `json:"jitter_enabled" yaml:"jitter_enabled"`
	JitterRatio   float64       `json:"jitter_ratio" yaml:"jitter_ratio"`
}

// DefaultPolicy returns the retry policy used when the caller supplies none.
func DefaultPolicy() Policy {
	return Policy{
		Enabled:       true,
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		BackoffFactor: 2.0,
		MaxDelay:      30 * time.Second,
		JitterEnabled: true,
		JitterRatio:   0.2,
	}
}

// Backoff computes retry delays for a policy. The random source is
// injectable so jittered delays stay deterministic under test.
type Backoff struct {
	policy Policy
	rng    *rand.Rand
}

// BackoffOption customises a Backoff.
type BackoffOption func(*Backoff)

// WithRand injects the random source used for jitter.
func WithRand(rng *rand.Rand) BackoffOption {
	return func(b *Backoff) {
		if rng != nil {
			b.rng = rng
		}
	}
}

// NewBackoff constructs a Backoff for the given policy.
func NewBackoff(policy Policy, opts ...BackoffOption) *Backoff {
	b := &Backoff{
		policy: policy,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Policy returns the policy the Backoff was built with.
func (b *Backoff) Policy() Policy {
	return b.policy
}

// Delay returns the sleep before retry number attempt. Attempt 0 is the
// delay before the second overall request. The result is capped at
// MaxDelay before jitter, perturbed by at most ±MaxDelay*JitterRatio, and
// rounded to whole milliseconds, never below zero.
func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	p := b.policy
	base := float64(p.InitialDelay) * math.Pow(p.BackoffFactor, float64(attempt))
	if max := float64(p.MaxDelay); base > max {
		base = max
	}
	if p.JitterEnabled && p.JitterRatio > 0 {
		jitter := base * p.JitterRatio
		base += (b.rng.Float64()*2 - 1) * jitter
	}
	if base < 0 {
		base = 0
	}
	ms := math.Round(base / float64(time.Millisecond))
	return time.Duration(ms) * time.Millisecond
}
