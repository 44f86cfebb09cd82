package executor

import (
	"context"

	"github.com/v0xg/stepflow/internal/driver"
	"github.com/v0xg/stepflow/internal/task"
)

// frameScoped lists the actions that have a locator form inside a frame
var frameScoped = map[task.Kind]bool{
	task.Click:   true,
	task.Fill:    true,
	task.Type:    true,
	task.Press:   true,
	task.Check:   true,
	task.Uncheck: true,
	task.Select:  true,
	task.Hover:   true,
	task.Focus:   true,
}

// target picks where element operations for s go: the frame named by
// s.Frame, or the top-level page. framed is true for a frame.
func (e *Executor) target(ctx context.Context, s task.Step) (scope driver.Scope, framed bool, err error) {
	if s.Frame == "" || !frameScoped[s.Action] {
		return e.page, false, nil
	}
	scope, err = e.page.Frame(ctx, s.Frame, s.Timeout())
	if err != nil {
		return nil, false, err
	}
	return scope, true, nil
}
