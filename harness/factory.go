package harness

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/umputun/commons-uitest/settings"
)

// Factory makes isolated browser contexts for tests, one per test.
type Factory struct {
	browser  Browser
	states   *StateCache
	timeout  time.Duration
	selector Selector
}

// FactoryOpts customize Factory.
type FactoryOpts struct {
	Timeout  time.Duration // default timeout for page operations, playwright default if zero
	Selector Selector      // scenario selection, everything runs if empty
}

// NewFactory makes a factory on top of browser and the shared state cache.
func NewFactory(browser Browser, states *StateCache, opts FactoryOpts) *Factory {
	return &Factory{browser: browser, states: states, timeout: opts.Timeout, selector: opts.Selector}
}

// Session is a browser context with a single page, owned by one test.
type Session struct {
	Role    settings.Role
	Page    playwright.Page
	Context playwright.BrowserContext

	closeOnce sync.Once
	closeErr  error
}

// Close closes the page and then the context. Repeated calls return the first result.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		if err := s.Page.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close page: %w", err))
		}
		if err := s.Context.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close context: %w", err))
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

// Open makes a session for the role. Empty role means anonymous.
func (f *Factory) Open(role settings.Role) (*Session, error) {
	role, err := settings.ParseRole(string(role))
	if err != nil {
		return nil, err
	}

	statePath, err := f.states.State(role)
	if err != nil {
		return nil, err
	}

	bctx, err := f.browser.NewContext(contextOptions(statePath))
	if err != nil {
		return nil, fmt.Errorf("failed to make context for %s: %w", role, err)
	}
	if f.timeout > 0 {
		bctx.SetDefaultTimeout(float64(f.timeout.Milliseconds()))
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("failed to open page for %s: %w", role, err)
	}
	return &Session{Role: role, Page: page, Context: bctx}, nil
}

// PageAs returns a page seen by a user of the role, closed when the test ends.
// The test is skipped if the role has no credentials configured and fails on an unknown role.
func (f *Factory) PageAs(t testing.TB, role settings.Role) playwright.Page {
	t.Helper()
	sess, err := f.Open(role)

	var missing *MissingCredentialsError
	switch {
	case errors.As(err, &missing):
		t.Skip(missing.Error())
	case errors.Is(err, settings.ErrUnknownRole):
		t.Fatalf("%v", err)
	case err != nil:
		t.Fatalf("failed to set up page as %s: %v", role, err)
	}

	t.Cleanup(func() {
		if err := sess.Close(); err != nil {
			t.Logf("failed to close %s session: %v", sess.Role, err)
		}
	})
	return sess.Page
}

// Run runs fn with a page of the scenario role if the scenario matches the selector,
// otherwise the test is skipped.
func (f *Factory) Run(t *testing.T, sc Scenario, fn func(t *testing.T, page playwright.Page)) {
	t.Helper()
	if !f.selector.Match(sc) {
		t.Skipf("deselected by E2E_TAGS=%s", f.selector)
	}
	fn(t, f.PageAs(t, sc.Role))
}
