// Package harness provides the playwright fixtures shared by the scenario suites:
// browser runtime, identity provider login, run-scoped storage state cache,
// per-test browser contexts and scenario tagging.
package harness

import (
	"errors"
	"fmt"
	"log"

	"github.com/playwright-community/playwright-go"

	"github.com/umputun/commons-uitest/settings"
)

// Browser is the part of playwright.Browser the fixtures use.
type Browser interface {
	NewContext(options ...playwright.BrowserNewContextOptions) (playwright.BrowserContext, error)
}

// Runtime owns the playwright driver and the single browser reused by all tests.
type Runtime struct {
	PW      *playwright.Playwright
	Browser playwright.Browser
}

// Launch starts playwright and the browser selected by opts.
func Launch(opts settings.BrowserOptions) (*Runtime, error) {
	name := opts.Name
	if name == "" {
		name = "chromium"
	}

	if opts.Install {
		if err := playwright.Install(&playwright.RunOptions{Browsers: []string{name}}); err != nil {
			return nil, fmt.Errorf("failed to install playwright %s: %w", name, err)
		}
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	var bt playwright.BrowserType
	switch name {
	case "chromium":
		bt = pw.Chromium
	case "firefox":
		bt = pw.Firefox
	case "webkit":
		bt = pw.WebKit
	default:
		_ = pw.Stop()
		return nil, fmt.Errorf("unsupported browser %q", name)
	}

	launch := playwright.BrowserTypeLaunchOptions{Headless: playwright.Bool(!opts.Headed)}
	if opts.SlowMo > 0 {
		launch.SlowMo = playwright.Float(float64(opts.SlowMo.Milliseconds()))
	}
	browser, err := bt.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch %s: %w", name, err)
	}
	log.Printf("[INFO] launched %s %s, headless=%v", name, browser.Version(), !opts.Headed)
	return &Runtime{PW: pw, Browser: browser}, nil
}

// Close shuts the browser down and stops the driver. Closing the browser closes all its contexts.
func (r *Runtime) Close() error {
	var errs []error
	if r.Browser != nil {
		if err := r.Browser.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close browser: %w", err))
		}
	}
	if r.PW != nil {
		if err := r.PW.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop playwright: %w", err))
		}
	}
	return errors.Join(errs...)
}
