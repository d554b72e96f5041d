package harness

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"

	"github.com/umputun/commons-uitest/settings"
)

// MissingCredentialsError reported for an authenticated role without configured credentials.
type MissingCredentialsError struct {
	Role settings.Role
	Keys settings.CredentialKeys
}

func (e *MissingCredentialsError) Error() string {
	return fmt.Sprintf("missing credentials for %s; set %s and %s", e.Role, e.Keys.Username, e.Keys.Password)
}

// StateCache logs in each authenticated role at most once per run and keeps the
// resulting storage state file for contexts created later. Safe for concurrent use.
type StateCache struct {
	browser  Browser
	settings settings.Settings
	login    LoginFunc
	dir      string
	ownDir   bool

	mu      sync.Mutex
	entries map[settings.Role]*stateEntry
}

type stateEntry struct {
	once sync.Once
	path string
	err  error
}

// StateCacheOpts customize StateCache.
type StateCacheOpts struct {
	Login LoginFunc // defaults to Login
	Dir   string    // state files directory, a temp dir removed on Close if empty
}

// NewStateCache makes a cache for the given browser and settings.
func NewStateCache(browser Browser, st settings.Settings, opts StateCacheOpts) (*StateCache, error) {
	res := &StateCache{
		browser:  browser,
		settings: st,
		login:    opts.Login,
		dir:      opts.Dir,
		entries:  map[settings.Role]*stateEntry{},
	}
	if res.login == nil {
		res.login = Login
	}

	if res.dir == "" {
		dir, err := os.MkdirTemp("", "commons-uitest-state-")
		if err != nil {
			return nil, fmt.Errorf("failed to make state dir: %w", err)
		}
		res.dir, res.ownDir = dir, true
	} else if err := os.MkdirAll(res.dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to make state dir %s: %w", res.dir, err)
	}
	return res, nil
}

// State returns the storage state file for the role. Anonymous role has no state and
// gets an empty path. Roles without credentials get *MissingCredentialsError.
// The first call for a role performs the login, later calls return the memoized
// result, including a failed one.
func (c *StateCache) State(role settings.Role) (string, error) {
	if !role.RequiresLogin() {
		if role != settings.Tier1 {
			return "", fmt.Errorf("%w: %q", settings.ErrUnknownRole, role)
		}
		return "", nil
	}

	creds, _ := c.settings.Credentials(role)
	if !creds.Complete() {
		keys, _ := settings.KeysFor(role)
		return "", &MissingCredentialsError{Role: role, Keys: keys}
	}

	c.mu.Lock()
	entry, ok := c.entries[role]
	if !ok {
		entry = &stateEntry{}
		c.entries[role] = entry
	}
	c.mu.Unlock()

	entry.once.Do(func() {
		entry.path, entry.err = c.authenticate(role, creds)
	})
	return entry.path, entry.err
}

// Warm logs in every role with configured credentials. Roles without credentials are skipped.
func (c *StateCache) Warm() (map[settings.Role]string, error) {
	res := map[settings.Role]string{}
	var errs []error
	for _, role := range settings.AuthenticatedRoles() {
		path, err := c.State(role)
		var missing *MissingCredentialsError
		switch {
		case errors.As(err, &missing):
			log.Printf("[INFO] %v", missing)
		case err != nil:
			errs = append(errs, err)
		default:
			res[role] = path
		}
	}
	return res, errors.Join(errs...)
}

// Dir returns the directory state files are written to.
func (c *StateCache) Dir() string { return c.dir }

// Close removes state files if the cache made its own temp dir.
func (c *StateCache) Close() error {
	if !c.ownDir {
		return nil
	}
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("failed to remove state dir %s: %w", c.dir, err)
	}
	return nil
}

func (c *StateCache) authenticate(role settings.Role, creds settings.Credentials) (path string, err error) {
	st := time.Now()
	bctx, err := c.browser.NewContext()
	if err != nil {
		return "", fmt.Errorf("failed to make login context for %s: %w", role, err)
	}
	defer func() {
		if cerr := bctx.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close login context for %s: %w", role, cerr)
		}
	}()

	page, err := bctx.NewPage()
	if err != nil {
		return "", fmt.Errorf("failed to open login page for %s: %w", role, err)
	}
	if err = c.login(page, c.settings.BaseURL, creds); err != nil {
		return "", fmt.Errorf("login as %s failed: %w", role, err)
	}

	path = filepath.Join(c.dir, fmt.Sprintf("%s-%s.json", role, uuid.NewString()))
	if _, err = bctx.StorageState(path); err != nil {
		return "", fmt.Errorf("failed to save storage state for %s: %w", role, err)
	}

	size := "unknown size"
	if fi, serr := os.Stat(path); serr == nil {
		size = humanize.Bytes(uint64(fi.Size())) //nolint:gosec // size is never negative
	}
	log.Printf("[INFO] logged in as %s (%s) in %v, state %s, %s", role, role.Description(),
		time.Since(st).Truncate(time.Millisecond), path, size)
	return path, nil
}

// contextOptions returns context options seeded with the storage state, if any.
func contextOptions(statePath string) playwright.BrowserNewContextOptions {
	opts := playwright.BrowserNewContextOptions{}
	if statePath != "" {
		opts.StorageStatePath = playwright.String(statePath)
	}
	return opts
}
