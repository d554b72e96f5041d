package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/umputun/go-flags"

	"github.com/umputun/commons-uitest/harness"
	"github.com/umputun/commons-uitest/portal"
	"github.com/umputun/commons-uitest/settings"
)

type options struct {
	Serve   serveCmd   `command:"serve" description:"run the stand-in data commons and its identity provider"`
	Login   loginCmd   `command:"login" description:"log in every configured tier and keep the storage states"`
	Markers markersCmd `command:"markers" description:"list scenario markers"`

	Dbg bool `long:"dbg" env:"DEBUG" description:"debug mode"`
}

type serveCmd struct {
	Listen     string        `long:"listen" env:"LISTEN" default:":8080" description:"commons listen address"`
	IdPListen  string        `long:"idp-listen" env:"IDP_LISTEN" default:":8081" description:"identity provider listen address"`
	URL        string        `long:"url" env:"PORTAL_URL" default:"http://localhost:8080" description:"public url of the commons"`
	IdPURL     string        `long:"idp-url" env:"IDP_URL" default:"http://127.0.0.1:8081" description:"public url of the identity provider"`
	Users      []string      `long:"user" env:"USERS" env-delim:"," description:"account as tier:email:password, repeatable"`
	SessionTTL time.Duration `long:"session-ttl" env:"SESSION_TTL" default:"24h" description:"session lifetime"`
	LoginRate  float64       `long:"login-rate" env:"LOGIN_RATE" default:"10" description:"widget submissions per second per client"`
}

type loginCmd struct {
	Out string `long:"out" env:"STATE_DIR" default:"state" description:"directory to keep storage states in"`
}

type markersCmd struct{}

var opts options

var revision = "unknown"

func main() {
	fmt.Printf("commons-uitest %s\n", versionInfo())

	p := flags.NewParser(&opts, flags.Default)
	p.CommandHandler = func(cmd flags.Commander, args []string) error {
		setupLog(opts.Dbg)
		return cmd.Execute(args)
	}
	if _, err := p.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

// Execute runs the portal until interrupted.
func (c *serveCmd) Execute(_ []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return c.run(ctx)
}

func (c *serveCmd) run(ctx context.Context) error {
	users := make([]portal.User, 0, len(c.Users))
	passwords := make([]string, 0, len(c.Users))
	for _, s := range c.Users {
		u, err := portal.ParseUser(s)
		if err != nil {
			return err
		}
		users = append(users, u)
		passwords = append(passwords, u.Password)
	}
	setupLog(opts.Dbg, passwords...)
	if len(users) == 0 {
		log.Printf("[WARN] no users configured, only anonymous browsing will work")
	}

	p, err := portal.New(portal.Config{
		Listen:     c.Listen,
		IdPListen:  c.IdPListen,
		BaseURL:    c.URL,
		IdPURL:     c.IdPURL,
		Users:      users,
		SessionTTL: c.SessionTTL,
		LoginRate:  c.LoginRate,
		Version:    versionInfo(),
	})
	if err != nil {
		return fmt.Errorf("failed to make portal: %w", err)
	}
	return p.Run(ctx)
}

// Execute logs in each tier with credentials from the environment and keeps storage
// states in the output directory for inspection or reuse.
func (c *loginCmd) Execute(_ []string) error {
	st, err := settings.FromEnv()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	setupLog(opts.Dbg, st.Secrets()...)

	rt, err := harness.Launch(st.Browser)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			log.Printf("[WARN] %v", err)
		}
	}()

	cache, err := harness.NewStateCache(rt.Browser, st, harness.StateCacheOpts{Dir: c.Out})
	if err != nil {
		return err
	}
	states, err := cache.Warm()
	for _, role := range settings.AuthenticatedRoles() {
		path, ok := states[role]
		if !ok {
			continue
		}
		size := "unknown size"
		if fi, serr := os.Stat(path); serr == nil {
			size = humanize.Bytes(uint64(fi.Size())) //nolint:gosec // size is never negative
		}
		fmt.Printf("%s\t%s\t%s\n", role, path, size)
	}
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if len(states) == 0 {
		log.Printf("[WARN] no tier has credentials configured, nothing to keep")
	}
	return nil
}

// Execute prints the scenario markers with descriptions.
func (c *markersCmd) Execute(_ []string) error {
	markers := harness.Markers()
	for _, tag := range harness.SortedMarkers() {
		fmt.Printf("%s: %s\n", tag, markers[tag])
	}
	return nil
}

func setupLog(dbg bool, secrets ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.CallerFile, lgr.CallerFunc, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	if len(secrets) > 0 {
		logOpts = append(logOpts, lgr.Secret(secrets...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}

func versionInfo() string {
	if revision != "unknown" {
		return revision
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}
