package executor

import (
	"context"

	"github.com/v0xg/stepflow/internal/driver"
	"github.com/v0xg/stepflow/internal/task"
)

// loop runs the child sequence count times
func (e *Executor) loop(ctx context.Context, s task.Step, path string, cur *driver.Point) (*driver.Point, error) {
	count := *s.Count
	for i := 1; i <= count; i++ {
		e.log.Add("  loop %d/%d", i, count)
		var err error
		if cur, err = e.runSteps(ctx, s.Steps, path, cur); err != nil {
			return cur, err
		}
	}
	return cur, nil
}

// retryUntil repeats the child sequence until its condition holds. A failed
// attempt costs one try, except failures caused by the page navigating
// away, which count as success. Running out of attempts is fatal.
func (e *Executor) retryUntil(ctx context.Context, s task.Step, path string, cur *driver.Point) (*driver.Point, error) {
	attempts := s.Attempts()
	for i := 1; i <= attempts; i++ {
		e.log.Add("  retry %d/%d", i, attempts)

		passed, next, err := e.attempt(ctx, s, path, cur)
		cur = next
		if err != nil {
			if ctx.Err() != nil {
				return cur, ctx.Err()
			}
			if driver.IsNavigationError(err) {
				e.log.Add("  page navigated, treating as passed")
				return cur, nil
			}
			e.log.Add("  attempt failed: %v", err)
			e.logger.Debug("retry_until attempt failed", "step", path, "attempt", i, "error", err)
			continue
		}
		if passed {
			e.log.Add("  condition met, continuing")
			if len(s.OnSuccess) > 0 {
				return e.runSteps(ctx, s.OnSuccess, path, cur)
			}
			return cur, nil
		}
	}
	e.log.Add("  all %d attempts failed, giving up", attempts)
	return cur, &RetryExhaustedError{Selector: s.Selector, Attempts: attempts}
}

// attempt runs one retry_until try and evaluates its condition
func (e *Executor) attempt(ctx context.Context, s task.Step, path string, cur *driver.Point) (bool, *driver.Point, error) {
	if len(s.Steps) > 0 {
		var err error
		if cur, err = e.runSteps(ctx, s.Steps, path, cur); err != nil {
			return false, cur, err
		}
	}
	if err := e.sleep.Sleep(ctx, e.delays.Resolve(s.RetryDelay.Or(task.DefaultRetryDelay))); err != nil {
		return false, cur, err
	}

	if s.JSCondition != "" {
		res, err := e.page.Evaluate(ctx, s.JSCondition)
		if err != nil {
			return false, cur, err
		}
		return truthy(res), cur, nil
	}
	el, err := e.page.QuerySelector(ctx, s.Selector)
	if err != nil {
		return false, cur, err
	}
	return el != nil, cur, nil
}

// ifExists runs the child sequence only when the selector is present now
func (e *Executor) ifExists(ctx context.Context, s task.Step, path string, cur *driver.Point) (*driver.Point, error) {
	el, err := e.page.QuerySelector(ctx, s.Selector)
	if err != nil {
		return cur, err
	}
	if el == nil {
		e.log.Add("  element not found, skipped")
		return cur, nil
	}
	return e.runSteps(ctx, s.Steps, path, cur)
}
