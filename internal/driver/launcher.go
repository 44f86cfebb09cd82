package driver

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrUnsupportedEngine is returned for engines Rod cannot drive
var ErrUnsupportedEngine = errors.New("unsupported browser engine")

// LaunchOptions configures the browser session
type LaunchOptions struct {
	Engine      string
	Headless    bool
	Channel     string // chrome, msedge, chromium, or a path to a binary
	Incognito   bool
	UserDataDir string // persistent profile; cookies and logins survive runs
	SlowMotion  time.Duration
	Width       int
	Height      int
}

// Session owns a browser and the page steps run against
type Session interface {
	Page() Page
	Close() error
}

// Launcher starts browser sessions
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// RodLauncher starts Chromium-family browsers through Rod
type RodLauncher struct{}

// RodSession wraps the Rod browser and page for reuse
type RodSession struct {
	launcher   *launcher.Launcher
	browser    *rod.Browser
	page       *RodPage
	persistent bool
}

// Page returns the session page
func (s *RodSession) Page() Page {
	return s.page
}

// Close cleans up browser resources
func (s *RodSession) Close() error {
	var err error
	if s.browser != nil {
		err = s.browser.Close()
	}
	if s.launcher != nil {
		if s.persistent {
			s.launcher.Kill()
		} else {
			// waits for exit and removes the temporary profile
			s.launcher.Cleanup()
		}
	}
	return err
}

var supportedEngines = map[string]bool{
	"":           true,
	"chromium":   true,
	"chrome":     true,
	"patchright": true,
}

var channelBinaries = map[string][]string{
	"chrome":   {"google-chrome", "google-chrome-stable", "chrome"},
	"msedge":   {"microsoft-edge", "microsoft-edge-stable", "msedge"},
	"chromium": {"chromium", "chromium-browser"},
}

// resolveBin picks the browser binary for a channel, falling back to Rod's lookup
func resolveBin(channel string) string {
	if strings.ContainsAny(channel, `/\`) {
		return channel
	}
	for _, name := range channelBinaries[strings.ToLower(channel)] {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	path, _ := launcher.LookPath()
	return path
}

// Launch starts a browser and opens the page steps will drive
func (RodLauncher) Launch(ctx context.Context, opts LaunchOptions) (Session, error) {
	if !supportedEngines[strings.ToLower(opts.Engine)] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEngine, opts.Engine)
	}
	if opts.Width == 0 {
		opts.Width = 1280
	}
	if opts.Height == 0 {
		opts.Height = 800
	}

	l := launcher.New().Context(ctx).Headless(opts.Headless)
	if bin := resolveBin(opts.Channel); bin != "" {
		l = l.Bin(bin)
	}
	if opts.UserDataDir != "" {
		l = l.UserDataDir(opts.UserDataDir)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().Context(ctx).ControlURL(u)
	if opts.SlowMotion > 0 {
		browser = browser.SlowMotion(opts.SlowMotion)
	}
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	session := &RodSession{launcher: l, browser: browser, persistent: opts.UserDataDir != ""}

	page, err := openPage(browser, opts)
	if err != nil {
		_ = session.Close()
		return nil, err
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Width,
		Height:            opts.Height,
		DeviceScaleFactor: 1,
	}); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("set viewport: %w", err)
	}
	session.page = NewRodPage(page)
	return session, nil
}

// openPage reuses the profile's first tab in persistent mode, otherwise opens a new one
func openPage(browser *rod.Browser, opts LaunchOptions) (*rod.Page, error) {
	if opts.UserDataDir != "" {
		if pages, err := browser.Pages(); err == nil && len(pages) > 0 {
			return pages.First(), nil
		}
	} else if opts.Incognito {
		inc, err := browser.Incognito()
		if err != nil {
			return nil, fmt.Errorf("incognito context: %w", err)
		}
		browser = inc
	}
	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	return page, nil
}
