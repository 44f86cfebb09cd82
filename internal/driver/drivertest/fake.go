// Package drivertest provides an in-memory page driver that records every
// call, for exercising the interpreter without a browser.
package drivertest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/v0xg/stepflow/internal/driver"
)

// Page is a recording fake implementing driver.Page
type Page struct {
	mu sync.Mutex

	// Elements maps present selectors to their box; a nil box means the
	// element exists but has no layout
	Elements map[string]*driver.Box
	// Exists overrides the Elements lookup when set
	Exists func(selector string) bool
	// Eval answers Evaluate calls
	Eval func(script string) (any, error)
	// Fail injects an error for an operation, keyed "op" or "op selector"
	Fail map[string]error
	URL  string
	PNG  []byte

	calls  []string
	moves  []driver.Point
	clicks []driver.Point
}

// NewPage returns a fake with the given selectors present
func NewPage(present ...string) *Page {
	p := &Page{Elements: map[string]*driver.Box{}, Fail: map[string]error{}}
	for _, s := range present {
		p.Elements[s] = &driver.Box{X: 100, Y: 100, Width: 80, Height: 20}
	}
	return p
}

// Calls returns the recorded operations in order
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Moves returns every pointer move issued
func (p *Page) Moves() []driver.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]driver.Point(nil), p.moves...)
}

// Clicks returns every coordinate click issued
func (p *Page) Clicks() []driver.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]driver.Point(nil), p.clicks...)
}

// CountPrefix counts recorded calls starting with prefix
func (p *Page) CountPrefix(prefix string) int {
	n := 0
	for _, c := range p.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (p *Page) record(op string, args ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	call := strings.TrimSpace(op + " " + strings.Join(args, " "))
	p.calls = append(p.calls, call)
	if err, ok := p.Fail[call]; ok {
		return err
	}
	if err, ok := p.Fail[op]; ok {
		return err
	}
	return nil
}

func (p *Page) present(selector string) bool {
	if p.Exists != nil {
		return p.Exists(selector)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.Elements[selector]
	return ok
}

func (p *Page) need(selector string) error {
	if !p.present(selector) {
		return fmt.Errorf("waiting for %q: %w", selector, driver.ErrTimeout)
	}
	return nil
}

type element struct {
	box *driver.Box
}

func (e element) BoundingBox(context.Context) (*driver.Box, error) {
	return e.box, nil
}

func (p *Page) element(selector string) driver.Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	return element{box: p.Elements[selector]}
}

func (p *Page) Navigate(_ context.Context, url string, _ time.Duration) error {
	if err := p.record("navigate", url); err != nil {
		return err
	}
	p.mu.Lock()
	p.URL = url
	p.mu.Unlock()
	return nil
}

func (p *Page) WaitForSelector(_ context.Context, selector string, _ time.Duration) (driver.Element, error) {
	if err := p.record("wait", selector); err != nil {
		return nil, err
	}
	if err := p.need(selector); err != nil {
		return nil, err
	}
	return p.element(selector), nil
}

func (p *Page) QuerySelector(_ context.Context, selector string) (driver.Element, error) {
	if err := p.record("query", selector); err != nil {
		return nil, err
	}
	if !p.present(selector) {
		return nil, nil
	}
	return p.element(selector), nil
}

func (p *Page) Evaluate(_ context.Context, script string) (any, error) {
	if err := p.record("eval", script); err != nil {
		return nil, err
	}
	if p.Eval == nil {
		return nil, nil
	}
	return p.Eval(script)
}

func (p *Page) MouseMove(_ context.Context, pt driver.Point) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves = append(p.moves, pt)
	return nil
}

func (p *Page) MouseClick(_ context.Context, pt driver.Point) error {
	p.mu.Lock()
	p.clicks = append(p.clicks, pt)
	p.mu.Unlock()
	return p.record("mouse.click")
}

func (p *Page) Click(_ context.Context, selector string, _ time.Duration, force bool) error {
	op := "click"
	if force {
		op = "click!"
	}
	if err := p.record(op, selector); err != nil {
		return err
	}
	return p.need(selector)
}

func (p *Page) Fill(_ context.Context, selector, value string, _ time.Duration) error {
	if err := p.record("fill", selector, value); err != nil {
		return err
	}
	return p.need(selector)
}

func (p *Page) Press(_ context.Context, selector, key string, _ time.Duration) error {
	if err := p.record("press", selector, key); err != nil {
		return err
	}
	return p.need(selector)
}

func (p *Page) Check(_ context.Context, selector string, _ time.Duration) error {
	if err := p.record("check", selector); err != nil {
		return err
	}
	return p.need(selector)
}

func (p *Page) Uncheck(_ context.Context, selector string, _ time.Duration) error {
	if err := p.record("uncheck", selector); err != nil {
		return err
	}
	return p.need(selector)
}

func (p *Page) SelectOption(_ context.Context, selector string, values []string, _ time.Duration) error {
	if err := p.record("select", selector, strings.Join(values, ",")); err != nil {
		return err
	}
	return p.need(selector)
}

func (p *Page) Hover(_ context.Context, selector string, _ time.Duration) error {
	if err := p.record("hover", selector); err != nil {
		return err
	}
	return p.need(selector)
}

func (p *Page) Focus(_ context.Context, selector string, _ time.Duration) error {
	if err := p.record("focus", selector); err != nil {
		return err
	}
	return p.need(selector)
}

func (p *Page) Type(_ context.Context, text string, delay time.Duration) error {
	return p.record("type", text, delay.String())
}

func (p *Page) SetInputFiles(_ context.Context, selector string, files []string, _ time.Duration) error {
	if err := p.record("upload", selector, strings.Join(files, ",")); err != nil {
		return err
	}
	return p.need(selector)
}

func (p *Page) GoBack(context.Context) error    { return p.record("back") }
func (p *Page) GoForward(context.Context) error { return p.record("forward") }
func (p *Page) Reload(context.Context) error    { return p.record("reload") }

func (p *Page) WaitForURL(_ context.Context, pattern string, _ time.Duration) error {
	if err := p.record("wait_url", pattern); err != nil {
		return err
	}
	p.mu.Lock()
	url := p.URL
	p.mu.Unlock()
	if !driver.MatchURL(pattern, url) {
		return fmt.Errorf("waiting for url %q: %w", pattern, driver.ErrTimeout)
	}
	return nil
}

func (p *Page) Screenshot(context.Context) ([]byte, error) {
	if err := p.record("screenshot"); err != nil {
		return nil, err
	}
	return p.PNG, nil
}

func (p *Page) Frame(_ context.Context, selector string, _ time.Duration) (driver.Scope, error) {
	if err := p.record("frame", selector); err != nil {
		return nil, err
	}
	if err := p.need(selector); err != nil {
		return nil, err
	}
	return &frame{page: p, selector: selector}, nil
}

// frame records scoped calls on the parent page as "frame[sel] op ..."
type frame struct {
	page     *Page
	selector string
}

func (f *frame) op(name string) string {
	return "frame[" + f.selector + "] " + name
}

func (f *frame) Click(_ context.Context, selector string, _ time.Duration, force bool) error {
	name := "click"
	if force {
		name = "click!"
	}
	return f.page.record(f.op(name), selector)
}

func (f *frame) Fill(_ context.Context, selector, value string, _ time.Duration) error {
	return f.page.record(f.op("fill"), selector, value)
}

func (f *frame) Press(_ context.Context, selector, key string, _ time.Duration) error {
	return f.page.record(f.op("press"), selector, key)
}

func (f *frame) Check(_ context.Context, selector string, _ time.Duration) error {
	return f.page.record(f.op("check"), selector)
}

func (f *frame) Uncheck(_ context.Context, selector string, _ time.Duration) error {
	return f.page.record(f.op("uncheck"), selector)
}

func (f *frame) SelectOption(_ context.Context, selector string, values []string, _ time.Duration) error {
	return f.page.record(f.op("select"), selector, strings.Join(values, ","))
}

func (f *frame) Hover(_ context.Context, selector string, _ time.Duration) error {
	return f.page.record(f.op("hover"), selector)
}

func (f *frame) Focus(_ context.Context, selector string, _ time.Duration) error {
	return f.page.record(f.op("focus"), selector)
}

// Sleeper records requested sleeps and returns immediately
type Sleeper struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *Sleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Sleeps returns the recorded durations
func (s *Sleeper) Sleeps() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

// Total sums the recorded durations
func (s *Sleeper) Total() time.Duration {
	var t time.Duration
	for _, d := range s.Sleeps() {
		t += d
	}
	return t
}

// Session is a driver.Session around a fake page
type Session struct {
	FakePage *Page
	Closed   bool
}

func (s *Session) Page() driver.Page { return s.FakePage }

func (s *Session) Close() error {
	s.Closed = true
	return nil
}

// Launcher hands out Session values for the fake page
type Launcher struct {
	FakePage *Page
	Err      error

	mu       sync.Mutex
	Launched []driver.LaunchOptions
	Sessions []*Session
}

func (l *Launcher) Launch(_ context.Context, opts driver.LaunchOptions) (driver.Session, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Launched = append(l.Launched, opts)
	if l.Err != nil {
		return nil, l.Err
	}
	s := &Session{FakePage: l.FakePage}
	l.Sessions = append(l.Sessions, s)
	return s, nil
}
