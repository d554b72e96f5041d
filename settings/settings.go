// Package settings loads the target data commons location, tier credentials and
// browser options from the environment. An optional local env file can pre-populate
// the environment for developer runs, CI is expected to set real env vars.
package settings

import (
	"errors"
	"fmt"
	"log"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/umputun/go-flags"
)

// Settings is the validated configuration of a test run.
type Settings struct {
	BaseURL string `long:"base-url" env:"BASE_URL" description:"data commons base url"`

	Tier2Username Secret `long:"tier2-username" env:"USER_TIER2_USERNAME" description:"registered user name"`
	Tier2Password Secret `long:"tier2-password" env:"USER_TIER2_PASSWORD" description:"registered user password"`
	Tier3Username Secret `long:"tier3-username" env:"USER_TIER3_USERNAME" description:"privileged user name"`
	Tier3Password Secret `long:"tier3-password" env:"USER_TIER3_PASSWORD" description:"privileged user password"`

	Browser BrowserOptions `no-flag:"true"`
}

// BrowserOptions control the playwright runtime. They come from E2E_* variables,
// an empty variable is the same as an unset one.
type BrowserOptions struct {
	Name    string        // E2E_BROWSER, chromium (default), firefox or webkit
	Headed  bool          // E2E_HEADED, show browser window
	SlowMo  time.Duration // E2E_SLOWMO, delay between browser operations
	Timeout time.Duration // E2E_TIMEOUT, default wait timeout, playwright default if zero
	Install bool          // E2E_INSTALL, install browser binaries before the run
	Tags    string        // E2E_TAGS, scenario selector, i.e. smoke,!auth0
}

var browserNames = []string{"chromium", "firefox", "webkit"}

// Credentials is a username/password pair of a role.
type Credentials struct {
	Username Secret
	Password Secret
}

// Complete is true when both parts are set.
func (c Credentials) Complete() bool { return c.Username.IsSet() && c.Password.IsSet() }

// Load reads envFile (if it exists) into the environment and builds settings from it.
// Variables already present in the environment win unless override is set.
func Load(envFile string, override bool) (Settings, error) {
	if err := loadEnvFile(envFile, override); err != nil {
		return Settings{}, err
	}

	var s Settings
	p := flags.NewParser(&s, flags.IgnoreUnknown)
	if _, err := p.ParseArgs([]string{}); err != nil {
		return Settings{}, fmt.Errorf("failed to read settings from environment: %w", err)
	}
	browser, err := browserFromEnv()
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings from environment: %w", err)
	}
	s.Browser = browser
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// FromEnv is Load with ENV_FILE (default .env) and ENV_FILE_OVERRIDE taken from the environment.
func FromEnv() (Settings, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	return Load(envFile, strings.EqualFold(os.Getenv("ENV_FILE_OVERRIDE"), "true"))
}

func loadEnvFile(envFile string, override bool) error {
	if envFile == "" {
		return nil
	}
	if _, err := os.Stat(envFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[DEBUG] env file %s not found, using process environment only", envFile)
			return nil
		}
		return fmt.Errorf("failed to access env file %s: %w", envFile, err)
	}

	load := godotenv.Load
	if override {
		load = godotenv.Overload
	}
	if err := load(envFile); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", envFile, err)
	}
	log.Printf("[DEBUG] loaded env file %s, override=%v", envFile, override)
	return nil
}

// browserFromEnv reads browser options strictly, any malformed value is an error
func browserFromEnv() (BrowserOptions, error) {
	res := BrowserOptions{Name: "chromium", Tags: strings.TrimSpace(os.Getenv("E2E_TAGS"))}
	if v := strings.TrimSpace(os.Getenv("E2E_BROWSER")); v != "" {
		res.Name = strings.ToLower(v)
	}
	if !slices.Contains(browserNames, res.Name) {
		return BrowserOptions{}, fmt.Errorf("invalid E2E_BROWSER %q, expected one of %s", res.Name, strings.Join(browserNames, ", "))
	}

	var err error
	if res.Headed, err = envBool("E2E_HEADED"); err != nil {
		return BrowserOptions{}, err
	}
	if res.Install, err = envBool("E2E_INSTALL"); err != nil {
		return BrowserOptions{}, err
	}
	if res.SlowMo, err = envDuration("E2E_SLOWMO"); err != nil {
		return BrowserOptions{}, err
	}
	if res.Timeout, err = envDuration("E2E_TIMEOUT"); err != nil {
		return BrowserOptions{}, err
	}
	return res, nil
}

func envBool(key string) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, nil
	}
	res, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q, expected true or false", key, v)
	}
	return res, nil
}

func envDuration(key string) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, nil
	}
	res, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q, expected a duration like 5s", key, v)
	}
	if res < 0 {
		return 0, fmt.Errorf("invalid %s %q, must not be negative", key, v)
	}
	return res, nil
}

// Validate checks the base url and credential mapping.
func (s Settings) Validate() error {
	if s.BaseURL == "" {
		return errors.New("BASE_URL is required")
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid BASE_URL %q: %w", s.BaseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid BASE_URL %q: scheme must be http or https", s.BaseURL)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid BASE_URL %q: no host", s.BaseURL)
	}
	return checkCoverage(s)
}

// Credentials returns credentials of the role. The second value is false for roles
// without a credential slot, i.e. the anonymous one.
func (s Settings) Credentials(r Role) (Credentials, bool) {
	switch r {
	case Tier2:
		return Credentials{Username: s.Tier2Username, Password: s.Tier2Password}, true
	case Tier3:
		return Credentials{Username: s.Tier3Username, Password: s.Tier3Password}, true
	default:
		return Credentials{}, false
	}
}

// Secrets returns plaintext of all configured credentials, for log masking.
func (s Settings) Secrets() []string {
	res := []string{}
	for _, v := range []Secret{s.Tier2Username, s.Tier2Password, s.Tier3Username, s.Tier3Password} {
		if v.IsSet() {
			res = append(res, v.Value())
		}
	}
	return res
}

// URL joins the base url with a path.
func (s Settings) URL(path string) string {
	return strings.TrimSuffix(s.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}
