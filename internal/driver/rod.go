package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/proto"
)

// RodPage implements Page on top of a Rod page
type RodPage struct {
	page *rod.Page
}

// NewRodPage wraps an existing Rod page
func NewRodPage(page *rod.Page) *RodPage {
	return &RodPage{page: page}
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) BoundingBox(ctx context.Context) (*Box, error) {
	shape, err := e.el.Context(ctx).Shape()
	if noLayout(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rect := shape.Box()
	if rect == nil || (rect.Width == 0 && rect.Height == 0) {
		return nil, nil
	}
	return &Box{X: rect.X, Y: rect.Y, Width: rect.Width, Height: rect.Height}, nil
}

// withTimeout scopes the page to ctx bounded by timeout
func (r *RodPage) withTimeout(ctx context.Context, timeout time.Duration) (*rod.Page, context.Context, context.CancelFunc) {
	if timeout <= 0 {
		c, cancel := context.WithCancel(ctx)
		return r.page.Context(c), c, cancel
	}
	c, cancel := context.WithTimeout(ctx, timeout)
	return r.page.Context(c), c, cancel
}

// element waits for selector and returns it bound to the wait context
func (r *RodPage) element(ctx context.Context, selector string, timeout time.Duration) (*rod.Element, context.CancelFunc, error) {
	p, c, cancel := r.withTimeout(ctx, timeout)
	el, err := p.Element(selector)
	if err != nil {
		cancel()
		return nil, nil, wrapWait(c, selector, err)
	}
	return el, cancel, nil
}

func wrapWait(ctx context.Context, selector string, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("waiting for %q: %w", selector, ErrTimeout)
	}
	return fmt.Errorf("waiting for %q: %w", selector, err)
}

func (r *RodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	p, c, cancel := r.withTimeout(ctx, timeout)
	defer cancel()

	wait := p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	wait()
	if errors.Is(c.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("navigate to %s: %w", url, ErrTimeout)
	}
	return nil
}

func (r *RodPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (Element, error) {
	el, cancel, err := r.element(ctx, selector, timeout)
	if err != nil {
		return nil, err
	}
	cancel()
	return &rodElement{el: el.Context(ctx)}, nil
}

func (r *RodPage) QuerySelector(ctx context.Context, selector string) (Element, error) {
	has, el, err := r.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, err
	}
	if !has {
		return nil, nil
	}
	return &rodElement{el: el}, nil
}

// noLayout reports the error the browser gives for elements that are not
// rendered, such as display:none, which have no content quads
func noLayout(err error) bool {
	return err != nil && strings.Contains(err.Error(), "Could not compute content quads")
}

// Evaluate runs script as a global script, so statement lists such as
// "var a = 1; a + 1" work and the last expression is the result. Promises
// are awaited.
func (r *RodPage) Evaluate(ctx context.Context, script string) (any, error) {
	res, err := evaluateRequest(script).Call(r.page.Context(ctx))
	if err != nil {
		return nil, err
	}
	if res.ExceptionDetails != nil {
		return nil, &rod.EvalError{RuntimeExceptionDetails: res.ExceptionDetails}
	}
	if res.Result == nil {
		return nil, nil
	}
	return res.Result.Value.Val(), nil
}

func evaluateRequest(script string) proto.RuntimeEvaluate {
	return proto.RuntimeEvaluate{
		Expression:    script,
		ReturnByValue: true,
		AwaitPromise:  true,
		UserGesture:   true,
	}
}

func (r *RodPage) MouseMove(ctx context.Context, p Point) error {
	return r.page.Context(ctx).Mouse.MoveTo(proto.Point{X: p.X, Y: p.Y})
}

func (r *RodPage) MouseClick(ctx context.Context, p Point) error {
	m := r.page.Context(ctx).Mouse
	if err := m.MoveTo(proto.Point{X: p.X, Y: p.Y}); err != nil {
		return err
	}
	return m.Click(proto.InputMouseButtonLeft, 1)
}

func (r *RodPage) Click(ctx context.Context, selector string, timeout time.Duration, force bool) error {
	return clickIn(r, ctx, selector, timeout, force)
}

func (r *RodPage) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	return fillIn(r, ctx, selector, value, timeout)
}

func (r *RodPage) Press(ctx context.Context, selector, key string, timeout time.Duration) error {
	el, cancel, err := r.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	if err := el.Focus(); err != nil {
		return fmt.Errorf("focus %q: %w", selector, err)
	}
	return pressKey(r.page.Context(ctx).Keyboard, key)
}

func (r *RodPage) Check(ctx context.Context, selector string, timeout time.Duration) error {
	return setChecked(r, ctx, selector, true, timeout)
}

func (r *RodPage) Uncheck(ctx context.Context, selector string, timeout time.Duration) error {
	return setChecked(r, ctx, selector, false, timeout)
}

func (r *RodPage) SelectOption(ctx context.Context, selector string, values []string, timeout time.Duration) error {
	el, cancel, err := r.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	defer cancel()

	byValue := make([]string, len(values))
	for i, v := range values {
		byValue[i] = fmt.Sprintf(`option[value=%q]`, v)
	}
	if err := el.Select(byValue, true, rod.SelectorTypeCSSSector); err == nil {
		return nil
	}
	if err := el.Select(values, true, rod.SelectorTypeText); err != nil {
		return fmt.Errorf("select %v in %q: %w", values, selector, err)
	}
	return nil
}

func (r *RodPage) Hover(ctx context.Context, selector string, timeout time.Duration) error {
	el, cancel, err := r.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	return el.Hover()
}

func (r *RodPage) Focus(ctx context.Context, selector string, timeout time.Duration) error {
	el, cancel, err := r.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	return el.Focus()
}

func (r *RodPage) Type(ctx context.Context, text string, delay time.Duration) error {
	p := r.page.Context(ctx)
	for i, ch := range text {
		if i > 0 && delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}
		if err := typeRune(p, ch); err != nil {
			return fmt.Errorf("type %q: %w", ch, err)
		}
	}
	return nil
}

// typeRune sends key events for keys on the US layout and inserts anything else
func typeRune(p *rod.Page, ch rune) error {
	switch {
	case ch == '\n':
		return p.Keyboard.Type(input.Enter)
	case ch == '\t':
		return p.Keyboard.Type(input.Tab)
	case ch < unicode.MaxASCII && unicode.IsPrint(ch):
		return p.Keyboard.Type(input.Key(ch))
	default:
		return p.InsertText(string(ch))
	}
}

func (r *RodPage) SetInputFiles(ctx context.Context, selector string, files []string, timeout time.Duration) error {
	el, cancel, err := r.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	return el.SetFiles(files)
}

func (r *RodPage) GoBack(ctx context.Context) error {
	return r.page.Context(ctx).NavigateBack()
}

func (r *RodPage) GoForward(ctx context.Context) error {
	return r.page.Context(ctx).NavigateForward()
}

func (r *RodPage) Reload(ctx context.Context) error {
	return r.page.Context(ctx).Reload()
}

func (r *RodPage) WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error {
	re, err := CompileURLGlob(pattern)
	if err != nil {
		return fmt.Errorf("url pattern %q: %w", pattern, err)
	}
	p, c, cancel := r.withTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		// the target may be mid-navigation; keep polling
		if info, err := p.Info(); err == nil && re.MatchString(info.URL) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-c.Done():
			if errors.Is(c.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("waiting for url %q: %w", pattern, ErrTimeout)
			}
			return c.Err()
		}
	}
}

func (r *RodPage) Screenshot(ctx context.Context) ([]byte, error) {
	return r.page.Context(ctx).Screenshot(false, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
}

func (r *RodPage) Frame(ctx context.Context, selector string, timeout time.Duration) (Scope, error) {
	el, cancel, err := r.element(ctx, selector, timeout)
	if err != nil {
		return nil, err
	}
	defer cancel()
	frame, err := el.Frame()
	if err != nil {
		return nil, fmt.Errorf("frame %q: %w", selector, err)
	}
	return &rodFrame{inner: &RodPage{page: frame}}, nil
}

// rodFrame restricts a frame document to the Scope subset
type rodFrame struct {
	inner *RodPage
}

func (f *rodFrame) Click(ctx context.Context, selector string, timeout time.Duration, force bool) error {
	return f.inner.Click(ctx, selector, timeout, force)
}

func (f *rodFrame) Fill(ctx context.Context, selector, value string, timeout time.Duration) error {
	return f.inner.Fill(ctx, selector, value, timeout)
}

func (f *rodFrame) Press(ctx context.Context, selector, key string, timeout time.Duration) error {
	return f.inner.Press(ctx, selector, key, timeout)
}

func (f *rodFrame) Check(ctx context.Context, selector string, timeout time.Duration) error {
	return f.inner.Check(ctx, selector, timeout)
}

func (f *rodFrame) Uncheck(ctx context.Context, selector string, timeout time.Duration) error {
	return f.inner.Uncheck(ctx, selector, timeout)
}

func (f *rodFrame) SelectOption(ctx context.Context, selector string, values []string, timeout time.Duration) error {
	return f.inner.SelectOption(ctx, selector, values, timeout)
}

func (f *rodFrame) Hover(ctx context.Context, selector string, timeout time.Duration) error {
	return f.inner.Hover(ctx, selector, timeout)
}

func (f *rodFrame) Focus(ctx context.Context, selector string, timeout time.Duration) error {
	return f.inner.Focus(ctx, selector, timeout)
}

func clickIn(r *RodPage, ctx context.Context, selector string, timeout time.Duration, force bool) error {
	el, cancel, err := r.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	if force {
		// skip the visibility and interactability waits
		_, err := el.Eval(`() => this.click()`)
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func fillIn(r *RodPage, ctx context.Context, selector, value string, timeout time.Duration) error {
	el, cancel, err := r.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	if _, err := el.Eval(`() => { this.value = ''; this.dispatchEvent(new Event('input', {bubbles: true})) }`); err != nil {
		return fmt.Errorf("clear %q: %w", selector, err)
	}
	if value == "" {
		return nil
	}
	return el.Input(value)
}

func setChecked(r *RodPage, ctx context.Context, selector string, want bool, timeout time.Duration) error {
	el, cancel, err := r.element(ctx, selector, timeout)
	if err != nil {
		return err
	}
	defer cancel()
	prop, err := el.Property("checked")
	if err != nil {
		return err
	}
	if prop.Bool() == want {
		return nil
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"space":      input.Key(' '),
	"arrowup":    input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"shift":      input.ShiftLeft,
	"control":    input.ControlLeft,
	"ctrl":       input.ControlLeft,
	"alt":        input.AltLeft,
	"meta":       input.MetaLeft,
}

// lookupKey resolves a key name such as "Enter" or a single character
func lookupKey(name string) (input.Key, error) {
	if k, ok := namedKeys[strings.ToLower(name)]; ok {
		return k, nil
	}
	if r := []rune(name); len(r) == 1 && r[0] < unicode.MaxASCII && unicode.IsPrint(r[0]) {
		return input.Key(r[0]), nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

// pressKey presses a key or a "+" separated chord such as "Control+A"
func pressKey(kb *rod.Keyboard, combo string) error {
	parts := strings.Split(combo, "+")
	if combo == "+" {
		parts = []string{"+"}
	}
	keys := make([]input.Key, 0, len(parts))
	for _, p := range parts {
		k, err := lookupKey(p)
		if err != nil {
			return err
		}
		keys = append(keys, k)
	}
	mods, last := keys[:len(keys)-1], keys[len(keys)-1]
	for _, m := range mods {
		if err := kb.Press(m); err != nil {
			return err
		}
	}
	err := kb.Type(last)
	for i := len(mods) - 1; i >= 0; i-- {
		if rerr := kb.Release(mods[i]); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
