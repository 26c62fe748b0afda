// Package headless renders pages in a real browser as a last-resort fetch
// path for targets that block every plain-HTTP disguise.
package headless

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// Engine launches a headless browser per render. Launching per call is
// slower than keeping a warm browser but leaves no long-lived fingerprint
// (cookies, TLS session cache) between attempts.
type Engine struct {
	launcherURL string // optional remote launcher URL
}

// NewEngine creates a headless render engine.
func NewEngine() *Engine {
	return &Engine{}
}

// NewRemoteEngine creates an engine backed by a remote rod launcher.
func NewRemoteEngine(launcherURL string) *Engine {
	return &Engine{launcherURL: launcherURL}
}

// Render opens pageURL in a headless browser, waits for the DOM to settle
// and returns the rendered HTML.
func (e *Engine) Render(ctx context.Context, pageURL string) ([]byte, error) {
	page, cleanup, err := e.openPage(pageURL)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	page = page.Context(ctx)
	timedPage := page.Timeout(30 * time.Second)
	if err := timedPage.WaitStable(time.Second); err == nil {
		_ = timedPage.WaitDOMStable(2*time.Second, 0.1)
	}

	htmlContent, err := page.HTML()
	if err != nil {
		return nil, fmt.Errorf("headless: get page HTML: %w", err)
	}
	return []byte(htmlContent), nil
}

func (e *Engine) openPage(pageURL string) (*rod.Page, func(), error) {
	var l *launcher.Launcher
	if e.launcherURL != "" {
		l = launcher.MustNewManaged(e.launcherURL)
	} else {
		l = launcher.New().Headless(true).Logger(io.Discard)
	}
	if bin := os.Getenv("ROD_BROWSER_BIN"); bin != "" {
		l = l.Bin(bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("headless: launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("headless: connect browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		browser.Close()
		return nil, nil, fmt.Errorf("headless: open page: %w", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:  1920,
		Height: 1080,
	})
	if err != nil {
		browser.Close()
		return nil, nil, fmt.Errorf("headless: set viewport: %w", err)
	}

	cleanup := func() {
		page.Close()
		browser.Close()
		l.Cleanup()
	}
	return page, cleanup, nil
}
