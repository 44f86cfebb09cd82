package driver

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Point is a viewport coordinate in CSS pixels
type Point struct {
	X float64
	Y float64
}

// Box is an element's bounding box in viewport coordinates
type Box struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Center returns the middle of the box
func (b Box) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Element is a handle to a DOM node found by a selector
type Element interface {
	// BoundingBox returns nil when the element has no layout box
	BoundingBox(ctx context.Context) (*Box, error)
}

// Mouse moves and clicks the page pointer
type Mouse interface {
	MouseMove(ctx context.Context, p Point) error
	MouseClick(ctx context.Context, p Point) error
}

// Scope is the locator-style subset of page operations. An embedded frame
// exposes only this subset.
type Scope interface {
	Click(ctx context.Context, selector string, timeout time.Duration, force bool) error
	Fill(ctx context.Context, selector, value string, timeout time.Duration) error
	Press(ctx context.Context, selector, key string, timeout time.Duration) error
	Check(ctx context.Context, selector string, timeout time.Duration) error
	Uncheck(ctx context.Context, selector string, timeout time.Duration) error
	SelectOption(ctx context.Context, selector string, values []string, timeout time.Duration) error
	Hover(ctx context.Context, selector string, timeout time.Duration) error
	Focus(ctx context.Context, selector string, timeout time.Duration) error
}

// Page is the full capability surface the interpreter drives
type Page interface {
	Scope
	Mouse

	Navigate(ctx context.Context, url string, timeout time.Duration) error
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) (Element, error)
	// QuerySelector does not wait; it returns nil when nothing matches
	QuerySelector(ctx context.Context, selector string) (Element, error)
	Evaluate(ctx context.Context, script string) (any, error)

	// Type sends text to the focused element with delay between characters
	Type(ctx context.Context, text string, delay time.Duration) error

	SetInputFiles(ctx context.Context, selector string, files []string, timeout time.Duration) error
	GoBack(ctx context.Context) error
	GoForward(ctx context.Context) error
	Reload(ctx context.Context) error
	WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error
	// Screenshot returns PNG bytes of the viewport
	Screenshot(ctx context.Context) ([]byte, error)

	Frame(ctx context.Context, selector string, timeout time.Duration) (Scope, error)
}

// ErrTimeout is wrapped by driver errors caused by an expired wait
var ErrTimeout = errors.New("timeout")

var navigationMarkers = []string{"navigation", "destroyed", "closed"}

// IsNavigationError reports whether err looks like the page navigated away,
// was torn down, or closed while an operation was in flight
func IsNavigationError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range navigationMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
