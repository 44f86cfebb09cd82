// Package runner stands up a browser session for a task document, drives the
// step interpreter against it and reports the outcome with the execution log.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/v0xg/stepflow/internal/capture"
	"github.com/v0xg/stepflow/internal/delay"
	"github.com/v0xg/stepflow/internal/driver"
	"github.com/v0xg/stepflow/internal/executor"
	"github.com/v0xg/stepflow/internal/logger"
	"github.com/v0xg/stepflow/internal/task"
)

const (
	DefaultNavigationTimeout = 60 * time.Second
	DefaultErrorScreenshot   = "error.png"
)

// errNoURL is returned for documents without a target url
var errNoURL = errors.New("task has no url")

// Options configures a Runner
type Options struct {
	Launcher driver.Launcher // nil launches Chromium through Rod
	Logger   logger.Logger   // nil uses the logger carried by the Run context

	// ErrorScreenshot is where the page is captured after a failure
	ErrorScreenshot   string
	NavigationTimeout time.Duration

	// Seed feeds the random source of each run; 0 seeds from the clock
	Seed    uint64
	Sleeper delay.Sleeper

	// Headless overrides the document's browser.headless when set
	Headless *bool
	Width    int
	Height   int
}

// Runner executes task documents. A Runner is safe for concurrent use; each
// Run owns its own session, cursor, log and random source.
type Runner struct {
	opts Options
}

func New(opts Options) *Runner {
	if opts.Launcher == nil {
		opts.Launcher = driver.RodLauncher{}
	}
	if opts.ErrorScreenshot == "" {
		opts.ErrorScreenshot = DefaultErrorScreenshot
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = DefaultNavigationTimeout
	}
	return &Runner{opts: opts}
}

// Run loads the task from src with vars layered over its own, executes it
// and reports whether every step completed. It never panics; any failure is
// recorded as the last log entry.
func (r *Runner) Run(ctx context.Context, src task.Source, vars map[string]any) (ok bool, entries []string) {
	base := r.opts.Logger
	if base == nil {
		base = logger.FromContext(ctx)
	}
	l := base.With("run", uuid.NewString(), "task", src.String())
	ctx = logger.ContextWithLogger(ctx, l)
	log := executor.NewLog(l)

	defer func() {
		if p := recover(); p != nil {
			log.Add("execution error: %v", p)
			l.Error("Task panicked", "panic", p)
			ok, entries = false, log.Entries()
		}
	}()

	t, err := task.Load(src, vars)
	if err == nil && t.URL == "" {
		err = errNoURL
	}
	if err != nil {
		log.Add("execution error: %v", err)
		l.Error("Failed to load task", "error", err)
		return false, log.Entries()
	}
	log.Add("task: %s", t.Name)
	log.Add("target: %s", t.URL)

	session, err := r.opts.Launcher.Launch(ctx, r.launchOptions(t.Browser))
	if err != nil {
		log.Add("execution error: %v", err)
		l.Error("Failed to launch browser", "error", err)
		return false, log.Entries()
	}
	defer func() {
		if err := session.Close(); err != nil {
			l.Warn("Failed to close browser", "error", err)
		}
	}()

	page := session.Page()
	if err := r.execute(ctx, t, page, log, l); err != nil {
		log.Add("execution error: %v", err)
		l.Error("Task failed", "error", err)
		r.captureFailure(ctx, page, l)
		return false, log.Entries()
	}
	l.Info("Task completed", "entries", log.Len())
	return true, log.Entries()
}

// execute navigates to the target and interprets the steps. Driver panics
// surface as errors so the failure screenshot still runs.
func (r *Runner) execute(ctx context.Context, t *task.Task, page driver.Page, log *executor.Log, l logger.Logger) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	if err := page.Navigate(ctx, t.URL, r.opts.NavigationTimeout); err != nil {
		return fmt.Errorf("open %s: %w", t.URL, err)
	}
	log.Add("page loaded")

	exec := executor.New(page, executor.Options{
		Timing:  t.Timing,
		Rand:    delay.NewRand(r.opts.Seed),
		Sleeper: r.opts.Sleeper,
		Logger:  l,
		Log:     log,
	})
	if _, err := exec.Run(ctx, t.Steps); err != nil {
		return err
	}
	log.Add("all steps completed")
	return nil
}

// captureFailure saves a screenshot of the failed page; errors are only logged
func (r *Runner) captureFailure(ctx context.Context, page driver.Page, l logger.Logger) {
	data, err := page.Screenshot(ctx)
	if err == nil {
		err = capture.Save(data, r.opts.ErrorScreenshot, 0)
	}
	if err != nil {
		l.Warn("Failed to capture error screenshot", "path", r.opts.ErrorScreenshot, "error", err)
		return
	}
	l.Info("Saved error screenshot", "path", r.opts.ErrorScreenshot)
}

func (r *Runner) launchOptions(b task.Browser) driver.LaunchOptions {
	headless := b.Headless
	if r.opts.Headless != nil {
		headless = *r.opts.Headless
	}
	return driver.LaunchOptions{
		Engine:      b.Engine,
		Headless:    headless,
		Channel:     b.Channel,
		Incognito:   b.Incognito,
		UserDataDir: b.UserDataDir,
		SlowMotion:  time.Duration(b.SlowMoMs) * time.Millisecond,
		Width:       r.opts.Width,
		Height:      r.opts.Height,
	}
}
