package driver

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNavigationError(t *testing.T) {
	t.Run("Should match teardown signatures case-insensitively", func(t *testing.T) {
		assert.True(t, IsNavigationError(errors.New("Execution context was destroyed")))
		assert.True(t, IsNavigationError(errors.New("Target closed")))
		assert.True(t, IsNavigationError(fmt.Errorf("eval: %w", errors.New("Navigation interrupted"))))
	})

	t.Run("Should not match other failures", func(t *testing.T) {
		assert.False(t, IsNavigationError(nil))
		assert.False(t, IsNavigationError(errors.New("element not found")))
	})
}

func TestMatchURL(t *testing.T) {
	cases := []struct {
		pattern string
		url     string
		want    bool
	}{
		{"**checkout**", "https://shop.example.com/checkout/step1", true},
		{"**checkout**", "https://shop.example.com/cart", false},
		{"https://example.com/*", "https://example.com/home", true},
		{"https://example.com/*", "https://example.com/a/b", false},
		{"https://example.com/**", "https://example.com/a/b", true},
		{"https://example.com/page?", "https://example.com/page1", true},
		{"https://example.com/a.b", "https://example.com/aXb", false},
	}
	for _, tc := range cases {
		t.Run(tc.pattern+" "+tc.url, func(t *testing.T) {
			assert.Equal(t, tc.want, MatchURL(tc.pattern, tc.url))
		})
	}
}

func TestBoxCenter(t *testing.T) {
	b := Box{X: 10, Y: 20, Width: 100, Height: 40}
	assert.Equal(t, Point{X: 60, Y: 40}, b.Center())
}

func TestRodLauncher_UnsupportedEngine(t *testing.T) {
	_, err := RodLauncher{}.Launch(t.Context(), LaunchOptions{Engine: "camoufox"})
	assert.ErrorIs(t, err, ErrUnsupportedEngine)
}

func TestResolveBin(t *testing.T) {
	t.Run("Should pass explicit binary paths through", func(t *testing.T) {
		assert.Equal(t, "/opt/browsers/chrome", resolveBin("/opt/browsers/chrome"))
	})
}

func TestLookupKey(t *testing.T) {
	t.Run("Should resolve named keys case-insensitively", func(t *testing.T) {
		k, err := lookupKey("Enter")
		assert.NoError(t, err)
		assert.Equal(t, namedKeys["enter"], k)
	})

	t.Run("Should resolve single printable characters", func(t *testing.T) {
		k, err := lookupKey("a")
		assert.NoError(t, err)
		assert.EqualValues(t, 'a', k)
	})

	t.Run("Should reject unknown names", func(t *testing.T) {
		_, err := lookupKey("Hyper")
		assert.Error(t, err)
	})
}

func TestNoLayout(t *testing.T) {
	t.Run("Should recognise elements without content quads", func(t *testing.T) {
		err := fmt.Errorf("shape: %w", errors.New("{-32000 Could not compute content quads. }"))
		assert.True(t, noLayout(err))
	})

	t.Run("Should leave other failures alone", func(t *testing.T) {
		assert.False(t, noLayout(nil))
		assert.False(t, noLayout(errors.New("Node is detached from document")))
	})
}

func TestEvaluateRequest(t *testing.T) {
	t.Run("Should send statement lists unwrapped and return by value", func(t *testing.T) {
		req := evaluateRequest("var a = 1; a + 1")
		assert.Equal(t, "var a = 1; a + 1", req.Expression)
		assert.True(t, req.ReturnByValue)
		assert.True(t, req.AwaitPromise)
	})
}
