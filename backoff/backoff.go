// Package backoff provides retry delay strategies for failed distributed
// jobs. All strategies are stateless and safe for concurrent use.
package backoff

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"
)

// DefaultDelay is the constant retry delay used when none is configured.
const DefaultDelay = 5 * time.Second

// Strategy computes the delay before a retry.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	Delay(attempt int) time.Duration
}

// Func adapts a plain function to Strategy.
type Func func(attempt int) time.Duration

// Delay calls f.
func (f Func) Delay(attempt int) time.Duration { return f(attempt) }

// ──────────────────────────────────────────────────
// Constant
// ──────────────────────────────────────────────────

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration { return c.Interval }

// ──────────────────────────────────────────────────
// Linear
// ──────────────────────────────────────────────────

// Linear grows as min(Initial * attempt, Max).
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

// NewLinear creates a linear strategy.
func NewLinear(initial, maxDelay time.Duration) *Linear {
	return &Linear{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * attempt, capped at Max.
func (l *Linear) Delay(attempt int) time.Duration {
	return capAt(l.Initial*time.Duration(attempt), l.Max)
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles each attempt: min(Initial * 2^(attempt-1), Max).
// With Jitter set, the result is drawn uniformly from [0, that value]
// so that many workers failing together do not retry in lockstep.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// NewExponential creates an exponential strategy without jitter.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// NewExponentialWithJitter creates an exponential strategy with full jitter.
func NewExponentialWithJitter(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay, Jitter: true}
}

// Delay returns the (optionally jittered) exponential delay.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
	}
	return time.Duration(base)
}

// ──────────────────────────────────────────────────
// Parsing
// ──────────────────────────────────────────────────

// Parse builds a strategy from a compact description, as used by the
// distributed backend's backoff config field:
//
//	constant:5s
//	linear:1s:1m
//	exponential:1s:5m
//	jitter:1s:5m
func Parse(s string) (Strategy, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	durations := make([]time.Duration, 0, len(parts)-1)
	for _, p := range parts[1:] {
		d, err := time.ParseDuration(p)
		if err != nil {
			return nil, fmt.Errorf("backoff: parse %q: %w", s, err)
		}
		durations = append(durations, d)
	}

	switch kind := strings.ToLower(parts[0]); {
	case kind == "constant" && len(durations) == 1:
		return NewConstant(durations[0]), nil
	case kind == "linear" && len(durations) == 2:
		return NewLinear(durations[0], durations[1]), nil
	case kind == "exponential" && len(durations) == 2:
		return NewExponential(durations[0], durations[1]), nil
	case kind == "jitter" && len(durations) == 2:
		return NewExponentialWithJitter(durations[0], durations[1]), nil
	default:
		return nil, fmt.Errorf("backoff: parse %q: unknown strategy", s)
	}
}

func capAt(d, maxDelay time.Duration) time.Duration {
	if maxDelay > 0 && d > maxDelay {
		return maxDelay
	}
	return d
}
