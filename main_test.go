package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/umputun/go-flags"
)

func TestVersionInfo(t *testing.T) {
	// this will return either "dev" or the actual version
	version := versionInfo()
	assert.NotEmpty(t, version, "version should not be empty")

	orig := revision
	defer func() { revision = orig }()
	revision = "v1.2.3-abc"
	assert.Equal(t, "v1.2.3-abc", versionInfo())
}

func TestSetupLog(t *testing.T) {
	defer setupLog(false)

	out := captureStdout(t, func() {
		setupLog(false, "alice-pass")
		log.Printf("[INFO] login with alice-pass")
	})
	assert.NotContains(t, out, "alice-pass", "secret must be masked")
	assert.Contains(t, out, "login with")

	setupLog(true)
	setupLog(false, "secret1", "secret2")
}

func TestParseCommandLineArgs(t *testing.T) {
	origOpts := opts
	defer func() { opts = origOpts }()

	tests := []struct {
		name   string
		args   []string
		check  func(t *testing.T, o options)
		errStr string
	}{
		{
			name: "serve defaults",
			args: []string{"serve"},
			check: func(t *testing.T, o options) {
				assert.Equal(t, ":8080", o.Serve.Listen)
				assert.Equal(t, ":8081", o.Serve.IdPListen)
				assert.Equal(t, "http://localhost:8080", o.Serve.URL)
				assert.Equal(t, "http://127.0.0.1:8081", o.Serve.IdPURL)
				assert.Equal(t, 24*time.Hour, o.Serve.SessionTTL)
				assert.InDelta(t, 10.0, o.Serve.LoginRate, 0.001)
				assert.Empty(t, o.Serve.Users)
				assert.False(t, o.Dbg)
			},
		},
		{
			name: "serve with users",
			args: []string{"--dbg", "serve", "--listen", ":9090", "--user", "tier2:a@example.com:p1",
				"--user", "tier3:b@example.com:p2", "--session-ttl", "1h"},
			check: func(t *testing.T, o options) {
				assert.Equal(t, ":9090", o.Serve.Listen)
				assert.Equal(t, []string{"tier2:a@example.com:p1", "tier3:b@example.com:p2"}, o.Serve.Users)
				assert.Equal(t, time.Hour, o.Serve.SessionTTL)
				assert.True(t, o.Dbg)
			},
		},
		{
			name: "login out dir",
			args: []string{"login", "--out", "/tmp/states"},
			check: func(t *testing.T, o options) {
				assert.Equal(t, "/tmp/states", o.Login.Out)
			},
		},
		{name: "no command", args: []string{}, errStr: "command"},
		{name: "unknown flag", args: []string{"serve", "--blah"}, errStr: "unknown flag"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			opts = options{}
			p := flags.NewParser(&opts, flags.PassDoubleDash|flags.HelpFlag)
			p.CommandHandler = func(flags.Commander, []string) error { return nil } // parse only
			_, err := p.ParseArgs(tc.args)
			if tc.errStr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errStr)
				return
			}
			require.NoError(t, err)
			tc.check(t, opts)
		})
	}
}

func TestMarkersCmd(t *testing.T) {
	out := captureStdout(t, func() {
		require.NoError(t, (&markersCmd{}).Execute(nil))
	})
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 6)
	assert.Equal(t, "auth0: depends on details of Auth0 configuration", lines[0])
	assert.Contains(t, out, "role:tier2: run test as tier2 (registered user)")
	assert.Contains(t, out, "smoke: is the data commons live")
}

func TestServeCmd(t *testing.T) {
	ports := make([]int, 2)
	for i := range ports {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		ports[i] = listener.Addr().(*net.TCPAddr).Port
		require.NoError(t, listener.Close())
	}

	cmd := &serveCmd{
		Listen:     fmt.Sprintf("127.0.0.1:%d", ports[0]),
		IdPListen:  fmt.Sprintf("127.0.0.1:%d", ports[1]),
		URL:        fmt.Sprintf("http://127.0.0.1:%d", ports[0]),
		IdPURL:     fmt.Sprintf("http://localhost:%d", ports[1]),
		Users:      []string{"tier2:alice@example.com:alice-pass"},
		SessionTTL: time.Hour,
		LoginRate:  5,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- cmd.run(ctx) }()

	client := &http.Client{Timeout: 5 * time.Second}
	require.Eventually(t, func() bool {
		resp, err := client.Get(cmd.URL + "/ping")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 3*time.Second, 50*time.Millisecond)

	t.Run("homepage", func(t *testing.T) {
		resp, err := client.Get(cmd.URL)
		require.NoError(t, err)
		defer func() {
			if err := resp.Body.Close(); err != nil {
				t.Logf("failed to close body: %v", err)
			}
		}()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), ">Login</button>")
	})

	t.Run("widget", func(t *testing.T) {
		resp, err := client.Get(cmd.IdPURL + "/authorize?redirect_uri=" + cmd.URL + "/login/callback")
		require.NoError(t, err)
		defer func() {
			if err := resp.Body.Close(); err != nil {
				t.Logf("failed to close body: %v", err)
			}
		}()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Contains(t, string(body), "Email address")
	})

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(7 * time.Second):
		t.Fatal("server did not shut down within expected time")
	}
}

func TestServeCmd_BadUser(t *testing.T) {
	cmd := &serveCmd{URL: "http://localhost:8080", IdPURL: "http://127.0.0.1:8081", Users: []string{"tier2-no-colons"}}
	err := cmd.run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected tier:email:password")
}

func TestLoginCmd_BadSettings(t *testing.T) {
	t.Setenv("ENV_FILE", t.TempDir()+"/missing.env")
	t.Setenv("BASE_URL", "")
	err := (&loginCmd{Out: t.TempDir()}).Execute(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BASE_URL is required")
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	orig := os.Stdout
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()
	require.NoError(t, w.Close())
	out, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(out)
}
