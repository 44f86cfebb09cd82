package executor

import (
	"context"
	"math/rand/v2"
	"strings"

	"github.com/v0xg/stepflow/internal/delay"
	"github.com/v0xg/stepflow/internal/driver"
	"github.com/v0xg/stepflow/internal/logger"
	"github.com/v0xg/stepflow/internal/mouse"
	"github.com/v0xg/stepflow/internal/task"
)

// Options configures execution behavior
type Options struct {
	Timing  task.Timing
	Rand    *rand.Rand    // nil seeds from the clock
	Sleeper delay.Sleeper // nil sleeps in real time
	Logger  logger.Logger
	Log     *Log // nil starts an empty log
}

// Executor interprets a step tree against one page. It is not safe for
// concurrent use; run one Executor per task.
type Executor struct {
	page   driver.Page
	timing task.Timing
	delays *delay.Resolver
	mouse  *mouse.Humanizer
	sleep  delay.Sleeper
	log    *Log
	logger logger.Logger
}

func New(page driver.Page, opts Options) *Executor {
	rng := opts.Rand
	if rng == nil {
		rng = delay.NewRand(0)
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = delay.RealSleeper{}
	}
	l := opts.Logger
	if l == nil {
		l = logger.NewNopLogger()
	}
	log := opts.Log
	if log == nil {
		log = NewLog(l)
	}
	return &Executor{
		page:   page,
		timing: opts.Timing,
		delays: delay.NewResolver(rng),
		mouse:  mouse.New(rng, sleeper),
		sleep:  sleeper,
		log:    log,
		logger: l,
	}
}

// Log returns the execution log
func (e *Executor) Log() *Log {
	return e.log
}

// Run executes steps in order and returns the final cursor position. The
// first fatal error aborts the rest of the tree.
func (e *Executor) Run(ctx context.Context, steps []task.Step) (*driver.Point, error) {
	return e.runSteps(ctx, steps, "", nil)
}

// runSteps interprets one sequence, threading the cursor through each step
func (e *Executor) runSteps(ctx context.Context, steps []task.Step, parent string, cur *driver.Point) (*driver.Point, error) {
	for i, s := range steps {
		path := task.StepPath(parent, i)
		e.log.Add("%s", strings.TrimSpace("step "+path+": "+string(s.Action)+" "+s.Selector))

		next, err := e.runStep(ctx, s, path, cur)
		cur = next
		if err != nil {
			return cur, wrapStep(path, s.Action, err)
		}
	}
	return cur, nil
}

// runStep walks one step through pre-delay, precondition, frame
// resolution, dispatch and post-delay
func (e *Executor) runStep(ctx context.Context, s task.Step, path string, cur *driver.Point) (*driver.Point, error) {
	before := s.DelayBefore.Or(e.timing.StepDelay)
	if before.Active() {
		wait := e.delays.Resolve(before)
		if e.timing.HumanMouse && cur != nil {
			moved, err := e.mouse.Idle(ctx, e.page, cur)
			if err != nil {
				return cur, err
			}
			cur = moved
		}
		if err := e.sleep.Sleep(ctx, wait); err != nil {
			return cur, err
		}
	}

	if s.WaitFor != "" {
		if _, err := e.page.WaitForSelector(ctx, s.WaitFor, s.Timeout()); err != nil {
			return cur, err
		}
	}

	scope, framed, err := e.target(ctx, s)
	if err != nil {
		return cur, err
	}

	cur, err = e.dispatch(ctx, s, path, scope, framed, cur)
	if err != nil {
		return cur, err
	}

	if s.DelayAfter.Active() {
		if err := e.sleep.Sleep(ctx, e.delays.Resolve(s.DelayAfter)); err != nil {
			return cur, err
		}
	}
	return cur, nil
}

// human reports whether pointer actions should use simulated motion
func (e *Executor) human(s task.Step, framed bool) bool {
	return e.timing.HumanMouse && !s.Force && !framed
}

// moveAndClick glides to a random point inside the element and clicks it.
// Elements without a layout box get a plain click.
func (e *Executor) moveAndClick(ctx context.Context, s task.Step, cur *driver.Point) (*driver.Point, error) {
	el, err := e.page.WaitForSelector(ctx, s.Selector, s.Timeout())
	if err != nil {
		return cur, err
	}
	box, err := el.BoundingBox(ctx)
	if err != nil {
		return cur, err
	}
	if box == nil {
		return cur, e.page.Click(ctx, s.Selector, s.Timeout(), false)
	}

	target := e.mouse.Aim(*box)
	if _, err := e.mouse.Move(ctx, e.page, cur, target, 0); err != nil {
		return cur, err
	}
	if err := e.mouse.Pause(ctx, 50, 150); err != nil {
		return &target, err
	}
	return &target, e.page.MouseClick(ctx, target)
}

// moveTo glides to the element's center without clicking
func (e *Executor) moveTo(ctx context.Context, s task.Step, cur *driver.Point) (*driver.Point, error) {
	el, err := e.page.WaitForSelector(ctx, s.Selector, s.Timeout())
	if err != nil {
		return cur, err
	}
	box, err := el.BoundingBox(ctx)
	if err != nil {
		return cur, err
	}
	if box == nil {
		return cur, e.page.Hover(ctx, s.Selector, s.Timeout())
	}
	pos, err := e.mouse.Move(ctx, e.page, cur, box.Center(), 0)
	return &pos, err
}
