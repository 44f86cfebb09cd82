package delay

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Spec is a timing value from a task document: absent, a fixed number of
// milliseconds, or a [min, max] millisecond range
type Spec struct {
	Min    float64
	Max    float64
	Ranged bool
	set    bool
}

// Fixed returns a Spec that always resolves to ms milliseconds
func Fixed(ms float64) Spec {
	return Spec{Min: ms, Max: ms, set: true}
}

// Range returns a Spec sampled uniformly from [min, max] milliseconds
func Range(min, max float64) Spec {
	if max < min {
		min, max = max, min
	}
	return Spec{Min: min, Max: max, Ranged: true, set: true}
}

// IsZero reports whether the spec was never set
func (s Spec) IsZero() bool {
	return !s.set
}

// Active reports whether the spec can resolve to a non-zero wait
func (s Spec) Active() bool {
	return s.set && (s.Max > 0 || s.Min > 0)
}

// Or returns s when set, otherwise fallback
func (s Spec) Or(fallback Spec) Spec {
	if s.set {
		return s
	}
	return fallback
}

func (s Spec) String() string {
	switch {
	case !s.set:
		return "none"
	case s.Ranged:
		return fmt.Sprintf("[%g, %g]ms", s.Min, s.Max)
	default:
		return fmt.Sprintf("%gms", s.Min)
	}
}

// Resolver turns specs into durations using an injected random source
type Resolver struct {
	rng *rand.Rand
}

func NewResolver(rng *rand.Rand) *Resolver {
	return &Resolver{rng: rng}
}

// Resolve returns the wait duration for spec
func (r *Resolver) Resolve(spec Spec) time.Duration {
	if !spec.set {
		return 0
	}
	ms := spec.Min
	if spec.Ranged {
		ms = r.Uniform(spec.Min, spec.Max)
	}
	return Millis(ms)
}

// Uniform samples a float in [min, max]
func (r *Resolver) Uniform(min, max float64) float64 {
	return min + r.rng.Float64()*(max-min)
}

// Between samples a duration in [min, max] milliseconds
func (r *Resolver) Between(minMs, maxMs float64) time.Duration {
	return Millis(r.Uniform(minMs, maxMs))
}

// Millis converts fractional milliseconds to a Duration
func Millis(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

// Sleeper blocks for a duration; tests substitute a virtual clock
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// RealSleeper waits on a timer, returning early when ctx is done
type RealSleeper struct{}

func (RealSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// NewRand seeds a PCG source; seed 0 picks a time-based seed
func NewRand(seed uint64) *rand.Rand {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}
