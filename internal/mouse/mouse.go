package mouse

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/v0xg/stepflow/internal/delay"
	"github.com/v0xg/stepflow/internal/driver"
)

const (
	// fallback start region when no cursor position is known yet
	fallbackMin = 100
	fallbackMax = 400

	minSteps = 20
	maxSteps = 40

	idleRadius = 5.0
)

// Curve is a cubic Bezier from Start to End
type Curve struct {
	Start driver.Point
	C1    driver.Point
	C2    driver.Point
	End   driver.Point
}

// At evaluates the curve at t in [0, 1]
func (c Curve) At(t float64) driver.Point {
	u := 1 - t
	a := u * u * u
	b := 3 * u * u * t
	d := 3 * u * t * t
	e := t * t * t
	return driver.Point{
		X: a*c.Start.X + b*c.C1.X + d*c.C2.X + e*c.End.X,
		Y: a*c.Start.Y + b*c.C1.Y + d*c.C2.Y + e*c.End.Y,
	}
}

// Sample returns n+1 equally spaced points; the ends are exactly Start and End
func (c Curve) Sample(n int) []driver.Point {
	if n < 1 {
		n = 1
	}
	pts := make([]driver.Point, n+1)
	for i := 0; i <= n; i++ {
		pts[i] = c.At(float64(i) / float64(n))
	}
	pts[0] = c.Start
	pts[n] = c.End
	return pts
}

// Humanizer produces pointer motion that looks hand-driven
type Humanizer struct {
	rng    *rand.Rand
	delays *delay.Resolver
	sleep  delay.Sleeper
}

func New(rng *rand.Rand, sleeper delay.Sleeper) *Humanizer {
	return &Humanizer{rng: rng, delays: delay.NewResolver(rng), sleep: sleeper}
}

// randInt returns an int in [min, max]
func (h *Humanizer) randInt(min, max int) int {
	return min + h.rng.IntN(max-min+1)
}

// StartPoint returns from, or a random point in the fallback region
func (h *Humanizer) StartPoint(from *driver.Point) driver.Point {
	if from != nil {
		return *from
	}
	return driver.Point{
		X: float64(h.randInt(fallbackMin, fallbackMax)),
		Y: float64(h.randInt(fallbackMin, fallbackMax)),
	}
}

// NewCurve bends a path between two points with jittered control points
func (h *Humanizer) NewCurve(from, to driver.Point) Curve {
	dx, dy := to.X-from.X, to.Y-from.Y
	f1 := h.delays.Uniform(0.2, 0.5)
	f2 := h.delays.Uniform(0.5, 0.8)
	return Curve{
		Start: from,
		C1: driver.Point{
			X: from.X + dx*f1 + float64(h.randInt(-50, 50)),
			Y: from.Y + dy*f1 + float64(h.randInt(-50, 50)),
		},
		C2: driver.Point{
			X: from.X + dx*f2 + float64(h.randInt(-30, 30)),
			Y: from.Y + dy*f2 + float64(h.randInt(-30, 30)),
		},
		End: to,
	}
}

// SampleCount returns n when positive, otherwise a random count in [20, 40]
func (h *Humanizer) SampleCount(n int) int {
	if n > 0 {
		return n
	}
	return h.randInt(minSteps, maxSteps)
}

// stepPause is slow near the ends of the path and fast in the middle
func (h *Humanizer) stepPause(t float64) time.Duration {
	speed := 2 + 6*math.Sin(t*math.Pi)
	return delay.Millis(h.delays.Uniform(5, 20) / math.Max(speed/5, 0.5))
}

// Move walks the pointer from the cursor to target along a Bezier path and
// returns the new cursor position
func (h *Humanizer) Move(ctx context.Context, m driver.Mouse, from *driver.Point, to driver.Point, steps int) (driver.Point, error) {
	curve := h.NewCurve(h.StartPoint(from), to)
	n := h.SampleCount(steps)
	for i, p := range curve.Sample(n) {
		if err := m.MouseMove(ctx, p); err != nil {
			return p, err
		}
		if err := h.sleep.Sleep(ctx, h.stepPause(float64(i)/float64(n))); err != nil {
			return p, err
		}
	}
	return to, nil
}

// Idle makes a few small moves around the cursor so it is never perfectly still
func (h *Humanizer) Idle(ctx context.Context, m driver.Mouse, at *driver.Point) (*driver.Point, error) {
	if at == nil {
		return nil, nil
	}
	last := *at
	for i := h.randInt(1, 3); i > 0; i-- {
		last = driver.Point{
			X: at.X + h.delays.Uniform(-idleRadius, idleRadius),
			Y: at.Y + h.delays.Uniform(-idleRadius, idleRadius),
		}
		if err := m.MouseMove(ctx, last); err != nil {
			return at, err
		}
		if err := h.Pause(ctx, 50, 150); err != nil {
			return &last, err
		}
	}
	return &last, nil
}

// Aim picks a point in the inner 30-70% of each box dimension
func (h *Humanizer) Aim(box driver.Box) driver.Point {
	return driver.Point{
		X: box.X + box.Width*h.delays.Uniform(0.3, 0.7),
		Y: box.Y + box.Height*h.delays.Uniform(0.3, 0.7),
	}
}

// Pause sleeps a random duration in [minMs, maxMs]
func (h *Humanizer) Pause(ctx context.Context, minMs, maxMs float64) error {
	return h.sleep.Sleep(ctx, h.delays.Between(minMs, maxMs))
}
