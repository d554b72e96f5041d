// Package portal implements a stand-in data commons: the frontend pages the scenario suites
// look at and a separate identity provider widget the login helper drives. It renders the
// same DOM contract as a Gen3 commons with Auth0 Lock, enough for the harness to run against it.
package portal

import (
	"bytes"
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/didip/tollbooth/v8"
	"github.com/didip/tollbooth/v8/limiter"
	"github.com/go-pkgz/lcw/v2"
	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"
	"golang.org/x/crypto/bcrypt"

	"github.com/umputun/commons-uitest/settings"
)

//go:embed templates/* assets/* docs/*
var content embed.FS

// Config defines the portal and its identity provider.
type Config struct {
	Listen     string        // commons listen address
	IdPListen  string        // identity provider listen address
	BaseURL    string        // public url of the commons
	IdPURL     string        // public url of the identity provider
	Users      []User        // accounts the identity provider accepts
	SessionTTL time.Duration // session lifetime, 24h if zero
	LoginRate  float64       // widget submissions per second per client, 10 if zero
	Version    string        // version shown in footer and app info headers
}

// User is an account of the identity provider.
type User struct {
	Email    string
	Password string
	Role     settings.Role
}

// ParseUser parses "tier:email:password", the form used on the command line.
func ParseUser(s string) (User, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
		return User{}, fmt.Errorf("invalid user %q, expected tier:email:password", s)
	}
	role, err := settings.ParseRole(parts[0])
	if err != nil {
		return User{}, err
	}
	if !role.RequiresLogin() {
		return User{}, fmt.Errorf("user %s can't have role %s", parts[1], role)
	}
	return User{Email: parts[1], Password: parts[2], Role: role}, nil
}

// Portal is the stand-in commons with its identity provider.
type Portal struct {
	Config

	baseURL *url.URL
	idpURL  *url.URL

	accounts  map[string]account // by normalized email
	dummyHash []byte

	sessions lcw.LoadingCache[session] // by session id
	codes    lcw.LoadingCache[session] // authorization codes, single use
	codesMu  sync.Mutex                // serializes code redemption

	pages     map[string]*template.Template
	widget    *template.Template
	docs      template.HTML
	chromaCSS []byte

	attemptsMu sync.Mutex
	attempts   map[string]int
}

type account struct {
	hash   []byte
	role   settings.Role
	userID string
}

// session is what the commons knows about a logged in user.
type session struct {
	Email  string        `json:"username"`
	UserID string        `json:"user_id"`
	Role   settings.Role `json:"role"`
}

// New makes a portal for cfg. Passwords are kept as bcrypt hashes only.
func New(cfg Config) (*Portal, error) {
	res := &Portal{Config: cfg, accounts: map[string]account{}, attempts: map[string]int{}}
	if res.SessionTTL == 0 {
		res.SessionTTL = 24 * time.Hour
	}
	if res.LoginRate == 0 {
		res.LoginRate = 10
	}

	var err error
	if res.baseURL, err = parseBase(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if res.idpURL, err = parseBase(cfg.IdPURL); err != nil {
		return nil, fmt.Errorf("invalid identity provider url: %w", err)
	}

	for _, u := range cfg.Users {
		email := normalizeEmail(u.Email)
		if _, dup := res.accounts[email]; dup {
			return nil, fmt.Errorf("duplicate user %s", u.Email)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password of %s: %w", u.Email, err)
		}
		res.accounts[email] = account{hash: hash, role: u.Role, userID: UserID(email)}
	}
	if res.dummyHash, err = bcrypt.GenerateFromPassword([]byte("not-a-password"), bcrypt.DefaultCost); err != nil {
		return nil, fmt.Errorf("failed to make dummy hash: %w", err)
	}

	so := lcw.NewOpts[session]()
	if res.sessions, err = lcw.NewExpirableCache(so.MaxKeys(10000), so.TTL(res.SessionTTL)); err != nil {
		return nil, fmt.Errorf("failed to make session cache: %w", err)
	}
	co := lcw.NewOpts[session]()
	if res.codes, err = lcw.NewExpirableCache(co.MaxKeys(1000), co.TTL(time.Minute)); err != nil {
		return nil, fmt.Errorf("failed to make code cache: %w", err)
	}

	if err = res.parseTemplates(); err != nil {
		return nil, err
	}
	if err = res.renderDocs(); err != nil {
		return nil, err
	}
	return res, nil
}

// UserID returns the identity provider user id for email, "auth0|" and 24 hex chars.
func UserID(email string) string {
	sum := sha256.Sum256([]byte(normalizeEmail(email)))
	return "auth0|" + hex.EncodeToString(sum[:])[:24]
}

// LoginAttempts returns how many times the widget form was submitted for email.
func (p *Portal) LoginAttempts(email string) int {
	p.attemptsMu.Lock()
	defer p.attemptsMu.Unlock()
	return p.attempts[normalizeEmail(email)]
}

// Handler returns the commons routes.
func (p *Portal) Handler() http.Handler {
	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Trace, rest.RealIP, rest.Recoverer(lgr.Default()))
	router.Use(rest.Throttle(1000))
	router.Use(rest.SizeLimit(64 * 1024))
	router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	router.Use(rest.AppInfo("commons-uitest", "umputun", p.Version), rest.Ping)

	router.HandleFunc("GET /{$}", p.handleHome)
	router.HandleFunc("GET /login", p.handleLoginPage)
	router.HandleFunc("GET /login/callback", p.handleCallback)
	router.HandleFunc("POST /logout", p.handleLogout)
	router.HandleFunc("GET /DD", p.handleDictionary)
	router.HandleFunc("GET /explorer", p.handleExplorer)
	router.HandleFunc("GET /query", p.handleQuery)
	router.HandleFunc("GET /analysis", p.handleAnalysis)
	router.HandleFunc("GET /workspace", p.handleWorkspace)
	router.HandleFunc("GET /identity", p.handleIdentity)
	router.HandleFunc("GET /library", p.handleLibrary)
	router.HandleFunc("GET /docs", p.handleDocs)
	router.HandleFunc("GET /user/user", p.handleUserInfo)
	router.HandleFunc("GET /assets/portal.css", p.handleAsset("assets/portal.css", "text/css"))
	router.HandleFunc("GET /assets/chroma.css", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/css")
		_, _ = w.Write(p.chromaCSS)
	})
	return router
}

// IdPHandler returns the identity provider routes. Widget submissions are rate limited per client.
func (p *Portal) IdPHandler() http.Handler {
	router := routegroup.New(http.NewServeMux())
	router.Use(rest.Trace, rest.RealIP, rest.Recoverer(lgr.Default()))
	router.Use(rest.SizeLimit(64 * 1024))
	router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	router.Use(rest.AppInfo("commons-uitest-idp", "umputun", p.Version), rest.Ping)

	lmt := tollbooth.NewLimiter(p.LoginRate, nil)
	lmt.SetIPLookup(limiter.IPLookup{Name: "RemoteAddr"})
	lmt.SetMessage("too many login attempts")

	router.HandleFunc("GET /authorize", p.handleAuthorize)
	router.Handle("POST /authorize", tollbooth.HTTPMiddleware(lmt)(http.HandlerFunc(p.handleAuthorizeSubmit)))
	router.HandleFunc("GET /assets/portal.css", p.handleAsset("assets/portal.css", "text/css"))
	return router
}

// Run starts the commons and the identity provider and blocks until ctx is canceled or a server fails.
func (p *Portal) Run(ctx context.Context) error {
	servers := []*http.Server{
		{Addr: p.Listen, Handler: p.Handler(), ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second},
		{Addr: p.IdPListen, Handler: p.IdPHandler(), ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout: 10 * time.Second, WriteTimeout: 30 * time.Second},
	}

	serverErrors := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			log.Printf("[INFO] starting server on %s", srv.Addr)
			serverErrors <- srv.ListenAndServe()
		}()
	}
	log.Printf("[INFO] commons at %s, identity provider at %s, %d users", p.BaseURL, p.IdPURL, len(p.accounts))

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		log.Printf("[DEBUG] server shutdown initiated")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	var errs []error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("graceful shutdown of %s failed: %w", srv.Addr, err))
		}
	}
	if err := errors.Join(p.sessions.Close(), p.codes.Close()); err != nil {
		errs = append(errs, err)
	}
	if runErr != nil {
		return runErr
	}
	if len(errs) == 0 {
		log.Printf("[INFO] server shutdown completed")
	}
	return errors.Join(errs...)
}

func (p *Portal) parseTemplates() error {
	layout, err := template.ParseFS(content, "templates/layout.html")
	if err != nil {
		return fmt.Errorf("failed to parse layout template: %w", err)
	}

	names, err := fs.Glob(content, "templates/page_*.html")
	if err != nil {
		return fmt.Errorf("failed to list page templates: %w", err)
	}
	p.pages = make(map[string]*template.Template, len(names))
	for _, name := range names {
		tmpl, err := template.Must(layout.Clone()).ParseFS(content, name)
		if err != nil {
			return fmt.Errorf("failed to parse template %s: %w", name, err)
		}
		key := strings.TrimSuffix(strings.TrimPrefix(name, "templates/page_"), ".html")
		p.pages[key] = tmpl
	}

	if p.widget, err = template.ParseFS(content, "templates/widget.html"); err != nil {
		return fmt.Errorf("failed to parse widget template: %w", err)
	}
	return nil
}

func (p *Portal) handleAsset(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fs.ReadFile(content, name)
		if err != nil {
			http.Error(w, "asset not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", contentType)
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	}
}

func parseBase(s string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSuffix(s, "/"))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("scheme of %q must be http or https", s)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("no host in %q", s)
	}
	return u, nil
}

func normalizeEmail(email string) string { return strings.ToLower(strings.TrimSpace(email)) }
