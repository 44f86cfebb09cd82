package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cast"

	"github.com/v0xg/stepflow/internal/capture"
	"github.com/v0xg/stepflow/internal/delay"
	"github.com/v0xg/stepflow/internal/driver"
	"github.com/v0xg/stepflow/internal/task"
)

// dispatch routes a step to its action handler
func (e *Executor) dispatch(ctx context.Context, s task.Step, path string, scope driver.Scope, framed bool, cur *driver.Point) (*driver.Point, error) {
	if err := requireFields(s); err != nil {
		return cur, err
	}
	timeout := s.Timeout()

	switch s.Action {
	case task.Click:
		switch {
		case framed:
			return cur, scope.Click(ctx, s.Selector, timeout, s.Force)
		case e.human(s, framed):
			return e.moveAndClick(ctx, s, cur)
		default:
			return cur, e.page.Click(ctx, s.Selector, timeout, s.Force)
		}

	case task.Fill:
		if framed {
			return cur, scope.Fill(ctx, s.Selector, s.Text(), timeout)
		}
		if e.human(s, framed) {
			var err error
			if cur, err = e.moveAndClick(ctx, s, cur); err != nil {
				return cur, err
			}
		}
		if err := e.mouse.Pause(ctx, 200, 500); err != nil {
			return cur, err
		}
		return cur, e.page.Fill(ctx, s.Selector, s.Text(), timeout)

	case task.Type:
		return e.typeText(ctx, s, scope, framed, cur)

	case task.Press:
		return cur, scope.Press(ctx, s.Selector, s.Key, timeout)

	case task.Check:
		return cur, scope.Check(ctx, s.Selector, timeout)

	case task.Uncheck:
		return cur, scope.Uncheck(ctx, s.Selector, timeout)

	case task.Select:
		return cur, scope.SelectOption(ctx, s.Selector, s.SelectValues(), timeout)

	case task.Hover:
		switch {
		case framed:
			return cur, scope.Hover(ctx, s.Selector, timeout)
		case e.human(s, framed):
			return e.moveTo(ctx, s, cur)
		default:
			return cur, e.page.Hover(ctx, s.Selector, timeout)
		}

	case task.Focus:
		return cur, scope.Focus(ctx, s.Selector, timeout)

	case task.Scroll:
		_, err := e.page.Evaluate(ctx, scrollScript(s))
		return cur, err

	case task.MouseMove:
		pos, err := e.mouse.Move(ctx, e.page, cur, driver.Point{X: *s.X, Y: *s.Y}, s.MoveSteps)
		return &pos, err

	case task.Wait:
		_, err := e.page.WaitForSelector(ctx, s.Selector, timeout)
		return cur, err

	case task.Sleep:
		return cur, e.sleep.Sleep(ctx, e.delays.Resolve(s.Duration))

	case task.Screenshot:
		return cur, e.screenshot(ctx, s)

	case task.ClickPos:
		return e.clickPos(ctx, s, cur)

	case task.JS:
		res, err := e.page.Evaluate(ctx, s.Script)
		if err != nil {
			e.log.Add("  js error: %v", err)
			return cur, nil
		}
		e.log.Add("  js result: %s", formatResult(res))
		return cur, nil

	case task.Upload:
		return cur, e.page.SetInputFiles(ctx, s.Selector, s.Files, timeout)

	case task.Goto:
		return cur, e.page.Navigate(ctx, s.URL, timeout)

	case task.Back:
		return cur, e.page.GoBack(ctx)

	case task.Forward:
		return cur, e.page.GoForward(ctx)

	case task.Reload:
		return cur, e.page.Reload(ctx)

	case task.WaitURL:
		return cur, e.page.WaitForURL(ctx, URLPattern(s.Pattern), timeout)

	case task.Loop:
		return e.loop(ctx, s, path, cur)

	case task.RetryUntil:
		return e.retryUntil(ctx, s, path, cur)

	case task.IfExists:
		return e.ifExists(ctx, s, path, cur)

	default:
		e.log.Add("  unknown action: %s", s.Action)
		e.logger.Warn("Skipping unknown action", "action", s.Action, "step", path)
		return cur, nil
	}
}

// typeText focuses the field with a click, then types. A ranged type_delay
// types one character at a time with a fresh pause after each.
func (e *Executor) typeText(ctx context.Context, s task.Step, scope driver.Scope, framed bool, cur *driver.Point) (*driver.Point, error) {
	var err error
	switch {
	case framed:
		err = scope.Click(ctx, s.Selector, s.Timeout(), false)
	case e.human(s, framed):
		cur, err = e.moveAndClick(ctx, s, cur)
	default:
		err = e.page.Click(ctx, s.Selector, s.Timeout(), false)
	}
	if err != nil {
		return cur, err
	}
	if err := e.mouse.Pause(ctx, 200, 500); err != nil {
		return cur, err
	}

	pace := s.TypeDelay.Or(task.DefaultTypeDelay)
	if !pace.Ranged {
		return cur, e.page.Type(ctx, s.Text(), delay.Millis(pace.Min))
	}
	for _, ch := range s.Text() {
		if err := e.page.Type(ctx, string(ch), 0); err != nil {
			return cur, err
		}
		if err := e.sleep.Sleep(ctx, e.delays.Resolve(pace)); err != nil {
			return cur, err
		}
	}
	return cur, nil
}

// clickPos clicks coordinates computed by a script. A failing script or a
// result without numeric x and y makes the step a no-op.
func (e *Executor) clickPos(ctx context.Context, s task.Step, cur *driver.Point) (*driver.Point, error) {
	res, err := e.page.Evaluate(ctx, s.JS)
	if err != nil {
		e.log.Add("  click_pos script failed: %v", err)
		return cur, nil
	}
	pt, ok := toPoint(res)
	if !ok {
		e.log.Add("  click_pos: no coordinates, skipped")
		return cur, nil
	}
	if e.timing.HumanMouse {
		if _, err := e.mouse.Move(ctx, e.page, cur, pt, 0); err != nil {
			return cur, err
		}
		if err := e.mouse.Pause(ctx, 50, 150); err != nil {
			return cur, err
		}
	}
	if err := e.page.MouseClick(ctx, pt); err != nil {
		return cur, err
	}
	e.log.Add("  clicked at (%g, %g)", pt.X, pt.Y)
	return &pt, nil
}

func (e *Executor) screenshot(ctx context.Context, s task.Step) error {
	path := s.Path
	if path == "" {
		path = task.DefaultScreenshotPath
	}
	data, err := e.page.Screenshot(ctx)
	if err != nil {
		return err
	}
	return capture.Save(data, path, s.MaxWidth)
}

// toPoint reads {x, y} from a script result
func toPoint(v any) (driver.Point, bool) {
	m, ok := v.(map[string]any)
	if !ok {
		return driver.Point{}, false
	}
	xv, xok := m["x"]
	yv, yok := m["y"]
	if !xok || !yok || xv == nil || yv == nil {
		return driver.Point{}, false
	}
	x, err := cast.ToFloat64E(xv)
	if err != nil {
		return driver.Point{}, false
	}
	y, err := cast.ToFloat64E(yv)
	if err != nil {
		return driver.Point{}, false
	}
	return driver.Point{X: x, Y: y}, true
}

func scrollScript(s task.Step) string {
	if s.Selector != "" {
		sel, _ := json.Marshal(s.Selector)
		return fmt.Sprintf("document.querySelector(%s).scrollIntoView()", sel)
	}
	y := float64(task.DefaultScrollY)
	if s.Y != nil {
		y = *s.Y
	}
	return fmt.Sprintf("window.scrollBy(0, %g)", y)
}

// URLPattern turns a bare fragment such as "/checkout" into "**/checkout**";
// globs and absolute URLs are used as given
func URLPattern(p string) string {
	if !strings.Contains(p, "*") && !strings.Contains(p, "http") {
		return "**" + p + "**"
	}
	return p
}

func formatResult(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	if v == nil {
		return "null"
	}
	return cast.ToString(v)
}

// truthy applies script truthiness to an evaluation result
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		f, err := cast.ToFloat64E(t)
		if err != nil {
			return true
		}
		return f != 0
	}
}

// selectorActions need a selector to do anything
var selectorActions = map[task.Kind]bool{
	task.Click: true, task.Fill: true, task.Type: true, task.Press: true,
	task.Check: true, task.Uncheck: true, task.Select: true, task.Hover: true,
	task.Focus: true, task.Wait: true, task.Upload: true, task.IfExists: true,
}

// requireFields reports the first field s needs but lacks
func requireFields(s task.Step) error {
	missing := func(field string) error {
		return &MissingFieldError{Action: s.Action, Field: field}
	}
	if strings.TrimSpace(string(s.Action)) == "" {
		return missing("action")
	}
	if selectorActions[s.Action] && s.Selector == "" {
		return missing("selector")
	}
	switch s.Action {
	case task.Fill, task.Type:
		if s.Value == nil {
			return missing("value")
		}
	case task.Select:
		if len(s.SelectValues()) == 0 {
			return missing("value")
		}
	case task.Press:
		if s.Key == "" {
			return missing("key")
		}
	case task.MouseMove:
		if s.X == nil {
			return missing("x")
		}
		if s.Y == nil {
			return missing("y")
		}
	case task.Sleep:
		if s.Duration.IsZero() {
			return missing("duration")
		}
	case task.ClickPos:
		if s.JS == "" {
			return missing("js")
		}
	case task.JS:
		if s.Script == "" {
			return missing("script")
		}
	case task.Upload:
		if len(s.Files) == 0 {
			return missing("files")
		}
	case task.Goto:
		if s.URL == "" {
			return missing("url")
		}
	case task.WaitURL:
		if s.Pattern == "" {
			return missing("pattern")
		}
	case task.Loop:
		if s.Count == nil {
			return missing("count")
		}
	case task.RetryUntil:
		if s.Selector == "" && s.JSCondition == "" {
			return missing("selector")
		}
	}
	return nil
}
