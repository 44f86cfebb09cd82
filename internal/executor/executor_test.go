package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/v0xg/stepflow/internal/delay"
	"github.com/v0xg/stepflow/internal/driver"
	"github.com/v0xg/stepflow/internal/driver/drivertest"
	"github.com/v0xg/stepflow/internal/task"
)

// parseSteps decodes a YAML step list the same way task documents are
func parseSteps(t *testing.T, stepsYAML string) []task.Step {
	t.Helper()
	tk, err := task.Load(task.FromBytes([]byte("name: test\nsteps:\n"+stepsYAML)), nil)
	require.NoError(t, err)
	return tk.Steps
}

func newExecutor(page *drivertest.Page, timing task.Timing) (*Executor, *drivertest.Sleeper) {
	sleeper := &drivertest.Sleeper{}
	return New(page, Options{Timing: timing, Rand: delay.NewRand(1), Sleeper: sleeper}), sleeper
}

func countEntries(entries []string, prefix string) int {
	n := 0
	for _, e := range entries {
		if strings.HasPrefix(e, prefix) {
			n++
		}
	}
	return n
}

func TestExecutor_Loop(t *testing.T) {
	t.Run("Should repeat the body count times with ordered markers", func(t *testing.T) {
		page := drivertest.NewPage()
		exec, _ := newExecutor(page, task.Timing{})
		steps := parseSteps(t, `
  - action: loop
    count: 3
    steps:
      - action: js
        script: "1 + 1"
`)
		_, err := exec.Run(context.Background(), steps)
		require.NoError(t, err)

		entries := exec.Log().Entries()
		var markers []string
		for _, e := range entries {
			if strings.HasPrefix(e, "  loop ") {
				markers = append(markers, e)
			}
		}
		assert.Equal(t, []string{"  loop 1/3", "  loop 2/3", "  loop 3/3"}, markers)
		assert.Equal(t, 3, countEntries(entries, "step 1.1: js"))
		assert.Equal(t, 3, page.CountPrefix("eval 1 + 1"))
	})

	t.Run("Should thread the cursor across iterations", func(t *testing.T) {
		page := drivertest.NewPage()
		exec, _ := newExecutor(page, task.Timing{})
		steps := parseSteps(t, `
  - action: loop
    count: 2
    steps:
      - action: mouse_move
        x: 10
        y: 20
        steps: 4
`)
		cur, err := exec.Run(context.Background(), steps)
		require.NoError(t, err)
		require.NotNil(t, cur)
		assert.Equal(t, driver.Point{X: 10, Y: 20}, *cur)

		moves := page.Moves()
		require.Len(t, moves, 10)
		// the second pass starts where the first ended
		assert.Equal(t, driver.Point{X: 10, Y: 20}, moves[5])
	})

	t.Run("Should run zero times for a zero count", func(t *testing.T) {
		page := drivertest.NewPage()
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: loop
    count: 0
    steps:
      - action: reload
`))
		require.NoError(t, err)
		assert.Zero(t, page.CountPrefix("reload"))
	})
}

func TestExecutor_IfExists(t *testing.T) {
	steps := `
  - action: if_exists
    selector: "#banner"
    steps:
      - action: click
        selector: "#close"
      - action: reload
`

	t.Run("Should skip the body when the selector is absent", func(t *testing.T) {
		page := drivertest.NewPage("#close")
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, steps))
		require.NoError(t, err)

		assert.Equal(t, []string{"query #banner"}, page.Calls())
		assert.Equal(t, 1, countEntries(exec.Log().Entries(), "  element not found, skipped"))
	})

	t.Run("Should run the body once when the selector is present", func(t *testing.T) {
		page := drivertest.NewPage("#banner", "#close")
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, steps))
		require.NoError(t, err)

		assert.Equal(t, []string{"query #banner", "click #close", "reload"}, page.Calls())
		assert.Zero(t, countEntries(exec.Log().Entries(), "  element not found"))
	})
}

func TestExecutor_RetryUntil(t *testing.T) {
	t.Run("Should stop after the first passing attempt and run on_success once", func(t *testing.T) {
		page := drivertest.NewPage("#ok")
		calls := 0
		page.Eval = func(script string) (any, error) {
			calls++
			return calls >= 2, nil
		}
		exec, sleeper := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: retry_until
    max_retries: 3
    js_condition: "window.done"
    retry_delay: [10, 20]
    on_success:
      - action: click
        selector: "#ok"
`))
		require.NoError(t, err)

		entries := exec.Log().Entries()
		assert.Equal(t, 2, countEntries(entries, "  retry "))
		assert.Equal(t, 1, countEntries(entries, "  condition met"))
		assert.Equal(t, 1, page.CountPrefix("click #ok"))
		for _, d := range sleeper.Sleeps() {
			assert.GreaterOrEqual(t, d, 10*time.Millisecond)
			assert.LessOrEqual(t, d, 20*time.Millisecond)
		}
	})

	t.Run("Should fail naming the selector when attempts run out", func(t *testing.T) {
		page := drivertest.NewPage("#ok")
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: retry_until
    selector: "#done"
    max_retries: 2
    on_success:
      - action: click
        selector: "#ok"
  - action: reload
`))
		var exhausted *RetryExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Equal(t, "#done", exhausted.Selector)
		assert.Contains(t, err.Error(), "#done")

		assert.Equal(t, 2, countEntries(exec.Log().Entries(), "  retry "))
		assert.Zero(t, page.CountPrefix("click #ok"))
		assert.Zero(t, page.CountPrefix("reload"))
	})

	t.Run("Should treat navigation failures as success", func(t *testing.T) {
		page := drivertest.NewPage()
		page.Fail["click #pay"] = errors.New("Execution context was destroyed, most likely because of a navigation")
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: retry_until
    selector: "#receipt"
    steps:
      - action: click
        selector: "#pay"
  - action: reload
`))
		require.NoError(t, err)
		entries := exec.Log().Entries()
		assert.Equal(t, 1, countEntries(entries, "  retry "))
		assert.Equal(t, 1, countEntries(entries, "  page navigated"))
		assert.Equal(t, 1, page.CountPrefix("reload"))
	})

	t.Run("Should absorb other failures and try again", func(t *testing.T) {
		page := drivertest.NewPage("#receipt")
		attempts := 0
		page.Exists = func(sel string) bool {
			if sel == "#pay" {
				attempts++
				return attempts > 1
			}
			return sel == "#receipt"
		}
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: retry_until
    selector: "#receipt"
    steps:
      - action: click
        selector: "#pay"
`))
		require.NoError(t, err)
		entries := exec.Log().Entries()
		assert.Equal(t, 2, countEntries(entries, "  retry "))
		assert.Equal(t, 1, countEntries(entries, "  attempt failed"))
	})

	t.Run("Should make no attempts when max_retries is zero", func(t *testing.T) {
		page := drivertest.NewPage("#done", "#pay")
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: retry_until
    selector: "#done"
    max_retries: 0
    steps:
      - action: click
        selector: "#pay"
`))
		var exhausted *RetryExhaustedError
		require.ErrorAs(t, err, &exhausted)
		assert.Zero(t, countEntries(exec.Log().Entries(), "  retry "))
		assert.Empty(t, page.Calls())
	})
}

func TestExecutor_UnknownAction(t *testing.T) {
	page := drivertest.NewPage("#a", "#b")
	exec, _ := newExecutor(page, task.Timing{})
	_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: click
    selector: "#a"
  - action: frobnicate
  - action: click
    selector: "#b"
`))
	require.NoError(t, err)
	assert.Equal(t, []string{"click #a", "click #b"}, page.Calls())
	assert.Contains(t, exec.Log().Entries(), "  unknown action: frobnicate")
}

func TestExecutor_EveryKindHasAHandler(t *testing.T) {
	for _, kind := range task.Kinds {
		t.Run(string(kind), func(t *testing.T) {
			page := drivertest.NewPage("#a")
			page.URL = "https://example.com/done"
			page.Eval = func(string) (any, error) {
				return map[string]any{"x": 1.0, "y": 2.0}, nil
			}
			one, x, y := 1, 3.0, 4.0
			value := "v"
			s := task.Step{
				Action:      kind,
				Selector:    "#a",
				Value:       &value,
				Key:         "Enter",
				X:           &x,
				Y:           &y,
				MoveSteps:   2,
				Duration:    delay.Fixed(1),
				Path:        filepath.Join(t.TempDir(), "shot.png"),
				JS:          "coords()",
				Script:      "1",
				Files:       []string{"a.txt"},
				URL:         "https://example.com",
				Pattern:     "/done",
				Count:       &one,
				JSCondition: "true",
			}
			exec, _ := newExecutor(page, task.Timing{})
			_, err := exec.Run(context.Background(), []task.Step{s})
			require.NoError(t, err)
			for _, entry := range exec.Log().Entries() {
				assert.NotContains(t, entry, "unknown action")
			}
		})
	}
}

func TestExecutor_StepNumbering(t *testing.T) {
	page := drivertest.NewPage("#a")
	exec, _ := newExecutor(page, task.Timing{})
	_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: reload
  - action: loop
    count: 1
    steps:
      - action: click
        selector: "#a"
      - action: if_exists
        selector: "#a"
        steps:
          - action: back
`))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"step 1: reload",
		"step 2: loop",
		"  loop 1/1",
		"step 2.1: click #a",
		"step 2.2: if_exists #a",
		"step 2.2.1: back",
	}, exec.Log().Entries())
}

func TestExecutor_FatalErrors(t *testing.T) {
	t.Run("Should abort on a missing required field", func(t *testing.T) {
		page := drivertest.NewPage()
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: loop
    count: 1
    steps:
      - action: goto
  - action: reload
`))
		var missing *MissingFieldError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "url", missing.Field)

		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, "1.1", stepErr.Path)
		assert.Zero(t, page.CountPrefix("reload"))
	})

	t.Run("Should run earlier siblings before failing on a step without an action", func(t *testing.T) {
		page := drivertest.NewPage("#a")
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), []task.Step{
			{Action: task.Reload},
			{Selector: "#a"},
			{Action: task.Back},
		})
		var missing *MissingFieldError
		require.ErrorAs(t, err, &missing)
		assert.Equal(t, "action", missing.Field)

		var stepErr *StepError
		require.ErrorAs(t, err, &stepErr)
		assert.Equal(t, "2", stepErr.Path)
		assert.Equal(t, []string{"reload"}, page.Calls())
	})

	t.Run("Should abort when a wait times out", func(t *testing.T) {
		page := drivertest.NewPage()
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: click
    selector: "#late"
    wait_for: "#spinner-gone"
  - action: reload
`))
		assert.ErrorIs(t, err, driver.ErrTimeout)
		assert.Zero(t, page.CountPrefix("click"))
		assert.Zero(t, page.CountPrefix("reload"))
	})
}

func TestExecutor_HumanMouse(t *testing.T) {
	human := task.Timing{HumanMouse: true}

	t.Run("Should glide into the element and click inside it", func(t *testing.T) {
		page := drivertest.NewPage("#buy")
		exec, _ := newExecutor(page, human)
		cur, err := exec.Run(context.Background(), parseSteps(t, `
  - action: click
    selector: "#buy"
`))
		require.NoError(t, err)
		require.NotNil(t, cur)

		assert.NotEmpty(t, page.Moves())
		clicks := page.Clicks()
		require.Len(t, clicks, 1)
		assert.Equal(t, *cur, clicks[0])
		// box is 100,100 80x20; aim stays within the inner 30-70%
		assert.InDelta(t, 140, cur.X, 16)
		assert.InDelta(t, 110, cur.Y, 4)
		assert.Zero(t, page.CountPrefix("click #buy"))
	})

	t.Run("Should click directly when forced", func(t *testing.T) {
		page := drivertest.NewPage("#buy")
		exec, _ := newExecutor(page, human)
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: click
    selector: "#buy"
    force: true
`))
		require.NoError(t, err)
		assert.Empty(t, page.Moves())
		assert.Equal(t, 1, page.CountPrefix("click! #buy"))
	})

	t.Run("Should skip the glide for forced pointer actions", func(t *testing.T) {
		cases := []struct {
			step  string
			calls []string
		}{
			{"action: fill\n    value: x", []string{"fill #a x"}},
			{"action: type\n    value: x", []string{"click #a", "type x 100ms"}},
			{"action: hover", []string{"hover #a"}},
		}
		for _, tc := range cases {
			page := drivertest.NewPage("#a")
			exec, _ := newExecutor(page, human)
			_, err := exec.Run(context.Background(), parseSteps(t, `
  - `+tc.step+`
    selector: "#a"
    force: true
`))
			require.NoError(t, err, tc.step)
			assert.Empty(t, page.Moves(), tc.step)
			assert.Empty(t, page.Clicks(), tc.step)
			assert.Equal(t, tc.calls, page.Calls(), tc.step)
		}
	})

	t.Run("Should never move the pointer inside a frame", func(t *testing.T) {
		page := drivertest.NewPage("#pay-frame")
		exec, _ := newExecutor(page, human)
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: click
    frame: "#pay-frame"
    selector: "#card"
  - action: type
    frame: "#pay-frame"
    selector: "#cvc"
    value: "123"
`))
		require.NoError(t, err)
		assert.Empty(t, page.Moves())
		assert.Equal(t, []string{
			"frame #pay-frame",
			"frame[#pay-frame] click #card",
			"frame #pay-frame",
			"frame[#pay-frame] click #cvc",
			"type 123 100ms",
		}, page.Calls())
	})

	t.Run("Should hover at the element center", func(t *testing.T) {
		page := drivertest.NewPage("#menu")
		exec, _ := newExecutor(page, human)
		cur, err := exec.Run(context.Background(), parseSteps(t, `
  - action: hover
    selector: "#menu"
`))
		require.NoError(t, err)
		assert.Equal(t, driver.Point{X: 140, Y: 110}, *cur)
	})

	t.Run("Should jitter the idle pointer during pre-step delays", func(t *testing.T) {
		page := drivertest.NewPage()
		exec, sleeper := newExecutor(page, task.Timing{HumanMouse: true, StepDelay: delay.Fixed(500)})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: mouse_move
    x: 300
    y: 300
    steps: 5
  - action: reload
`))
		require.NoError(t, err)
		moves := page.Moves()
		// 6 path samples, then 1-3 idle moves before the reload
		require.Greater(t, len(moves), 6)
		for _, m := range moves[6:] {
			assert.InDelta(t, 300, m.X, 5)
			assert.InDelta(t, 300, m.Y, 5)
		}
		assert.Contains(t, sleeper.Sleeps(), 500*time.Millisecond)
	})
}

func TestExecutor_Delays(t *testing.T) {
	t.Run("Should prefer step delays over the default", func(t *testing.T) {
		page := drivertest.NewPage()
		exec, sleeper := newExecutor(page, task.Timing{StepDelay: delay.Fixed(500)})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: reload
  - action: reload
    delay_before: 50
    delay_after: 70
  - action: reload
    delay_before: 0
`))
		require.NoError(t, err)
		assert.Equal(t, []time.Duration{
			500 * time.Millisecond,
			50 * time.Millisecond,
			70 * time.Millisecond,
		}, sleeper.Sleeps())
	})

	t.Run("Should sleep for ranged durations inside the range", func(t *testing.T) {
		page := drivertest.NewPage()
		exec, sleeper := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: sleep
    duration: [100, 200]
`))
		require.NoError(t, err)
		require.Len(t, sleeper.Sleeps(), 1)
		d := sleeper.Sleeps()[0]
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 200*time.Millisecond)
	})
}

func TestExecutor_Type(t *testing.T) {
	t.Run("Should type one character at a time for ranged pacing", func(t *testing.T) {
		page := drivertest.NewPage("#name")
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: type
    selector: "#name"
    value: "abc"
    type_delay: [50, 150]
`))
		require.NoError(t, err)
		assert.Equal(t, []string{"click #name", "type a 0s", "type b 0s", "type c 0s"}, page.Calls())
	})

	t.Run("Should type in one call with a constant delay", func(t *testing.T) {
		page := drivertest.NewPage("#name")
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: type
    selector: "#name"
    value: "abc"
    type_delay: 30
`))
		require.NoError(t, err)
		assert.Equal(t, []string{"click #name", "type abc 30ms"}, page.Calls())
	})
}

func TestExecutor_Scripts(t *testing.T) {
	t.Run("Should skip click_pos when the script fails", func(t *testing.T) {
		page := drivertest.NewPage()
		page.Eval = func(string) (any, error) { return nil, errors.New("ReferenceError: nope") }
		exec, _ := newExecutor(page, task.Timing{})
		cur, err := exec.Run(context.Background(), parseSteps(t, `
  - action: click_pos
    js: "nope()"
`))
		require.NoError(t, err)
		assert.Nil(t, cur)
		assert.Empty(t, page.Clicks())
	})

	t.Run("Should click the computed coordinates and update the cursor", func(t *testing.T) {
		page := drivertest.NewPage()
		page.Eval = func(string) (any, error) { return map[string]any{"x": 12.5, "y": 40}, nil }
		exec, _ := newExecutor(page, task.Timing{})
		cur, err := exec.Run(context.Background(), parseSteps(t, `
  - action: click_pos
    js: "pos()"
`))
		require.NoError(t, err)
		assert.Equal(t, driver.Point{X: 12.5, Y: 40}, *cur)
		assert.Equal(t, []driver.Point{{X: 12.5, Y: 40}}, page.Clicks())
		assert.Contains(t, exec.Log().Entries(), "  clicked at (12.5, 40)")
	})

	t.Run("Should log js results and errors without failing", func(t *testing.T) {
		page := drivertest.NewPage()
		page.Eval = func(script string) (any, error) {
			if script == "bad" {
				return nil, errors.New("SyntaxError")
			}
			return map[string]any{"ok": true}, nil
		}
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: js
    script: bad
  - action: js
    script: good
`))
		require.NoError(t, err)
		entries := exec.Log().Entries()
		assert.Contains(t, entries, "  js error: SyntaxError")
		assert.Contains(t, entries, `  js result: {"ok":true}`)
	})

	t.Run("Should scroll an element into view or the window by an offset", func(t *testing.T) {
		page := drivertest.NewPage()
		exec, _ := newExecutor(page, task.Timing{})
		_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: scroll
    selector: "#footer"
  - action: scroll
  - action: scroll
    y: -200
`))
		require.NoError(t, err)
		assert.Equal(t, []string{
			`eval document.querySelector("#footer").scrollIntoView()`,
			"eval window.scrollBy(0, 500)",
			"eval window.scrollBy(0, -200)",
		}, page.Calls())
	})
}

func TestExecutor_Navigation(t *testing.T) {
	page := drivertest.NewPage("#file")
	page.URL = "https://shop.example.com/checkout/done"
	exec, _ := newExecutor(page, task.Timing{})
	_, err := exec.Run(context.Background(), parseSteps(t, `
  - action: wait_url
    pattern: /checkout/
  - action: upload
    selector: "#file"
    files: [a.pdf, b.pdf]
  - action: back
  - action: forward
  - action: goto
    url: https://shop.example.com/account
`))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"wait_url **/checkout/**",
		"upload #file a.pdf,b.pdf",
		"back",
		"forward",
		"navigate https://shop.example.com/account",
	}, page.Calls())
}

func TestExecutor_Screenshot(t *testing.T) {
	page := drivertest.NewPage()
	page.PNG = []byte("png-bytes")
	exec, _ := newExecutor(page, task.Timing{})
	path := filepath.Join(t.TempDir(), "out", "shot.png")
	_, err := exec.Run(context.Background(), []task.Step{{Action: task.Screenshot, Path: path}})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestURLPattern(t *testing.T) {
	assert.Equal(t, "**/checkout**", URLPattern("/checkout"))
	assert.Equal(t, "https://a.test/*", URLPattern("https://a.test/*"))
	assert.Equal(t, "https://a.test/x", URLPattern("https://a.test/x"))
}

func TestTruthy(t *testing.T) {
	for _, v := range []any{true, 1.0, "x", []any{1}, map[string]any{"a": 1}} {
		assert.True(t, truthy(v), v)
	}
	for _, v := range []any{nil, false, 0.0, "", []any{}, map[string]any{}} {
		assert.False(t, truthy(v), v)
	}
}
