// ABOUTME: Tests for the launcher CLI: exit-code mapping, flag handling and the call subcommand
// ABOUTME: call runs against an in-process fake backend

package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abigmiu/codex-monitor-webui/internal/acquire"
	"github.com/abigmiu/codex-monitor-webui/internal/config"
	"github.com/abigmiu/codex-monitor-webui/internal/fakebackend"
	"github.com/abigmiu/codex-monitor-webui/internal/supervisor"
	"github.com/abigmiu/codex-monitor-webui/internal/target"
)

// isolate keeps the developer's own config and environment out of a test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	for _, key := range []string{
		config.EnvConfig, config.EnvToken, config.EnvDaemonToken,
		target.EnvBackendURL, acquire.EnvBackendBin, acquire.EnvCacheDir,
	} {
		t.Setenv(key, "")
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(t.Context())
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, 0},
		{"plain", errors.New("boom"), 1},
		{"usage", usageErrorf("bad flag"), 2},
		{"wrapped usage", fmt.Errorf("run: %w", usageErrorf("bad")), 2},
		{"child exit", &supervisor.ExitError{Code: 7, Err: errors.New("backend exited")}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestArgumentErrorsExitWithUsageCode(t *testing.T) {
	isolate(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"bogus"}},
		{"unknown flag", []string{"run", "--nope"}},
		{"bad flag value", []string{"run", "--frontend-port", "abc"}},
		{"exclusive modes", []string{"run", "--backend-only", "--frontend-only"}},
		{"token and no-token", []string{"run", "--token", "t", "--no-token"}},
		{"port out of range", []string{"run", "--frontend-port", "70000"}},
		{"extra args", []string{"version", "extra"}},
		{"prune without keep", []string{"cache", "prune"}},
		{"call without method", []string{"call"}},
		{"call with bad json", []string{"call", "ping", "{nope"}},
		{"bad log level", []string{"run", "--log-level", "loud"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, exitUsage, exitCode(err), err.Error())
		})
	}
}

func TestInvalidConfigFileIsFailure(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("frontend:\n  port: 70000\n"), 0o600))

	for _, args := range [][]string{
		{"run", "--config", path},
		{"call", "ping", "--config", path, "--backend-url", "127.0.0.1:1"},
	} {
		t.Run(args[0], func(t *testing.T) {
			_, err := execute(t, args...)
			require.ErrorContains(t, err, "validating config")
			assert.Equal(t, exitFailure, exitCode(err))
		})
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func newBackend(t *testing.T, token string) string {
	t.Helper()
	backend := fakebackend.New(fakebackend.Options{
		Token:      token,
		Workspaces: []fakebackend.Workspace{{ID: "ws-1", Name: "demo", Path: t.TempDir()}},
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	srv := httptest.NewServer(backend)
	t.Cleanup(func() {
		backend.Close()
		srv.Close()
	})
	return srv.URL
}

func TestCallPrintsResult(t *testing.T) {
	isolate(t)
	url := newBackend(t, "")

	out, err := execute(t, "call", "ping", "--backend-url", url, "--log-level", "error")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, out)
}

func TestCallWithParamsAndEnvToken(t *testing.T) {
	isolate(t)
	url := newBackend(t, "tok")
	t.Setenv(config.EnvToken, "tok")
	t.Setenv(target.EnvBackendURL, url)

	out, err := execute(t, "call", "connect_workspace", `{"id":"ws-1"}`, "--log-level", "error")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true}`, out)
}

func TestCallBackendErrorIsFailure(t *testing.T) {
	isolate(t)
	url := newBackend(t, "")

	_, err := execute(t, "call", "nope", "--backend-url", url, "--log-level", "error")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method: nope")
	assert.Equal(t, exitFailure, exitCode(err))
}

func TestResolveReportsSource(t *testing.T) {
	isolate(t)
	t.Setenv(acquire.EnvBackendBin, "/opt/backend/codex_monitor_web")

	out, err := execute(t, "resolve", "--log-level", "error")
	require.NoError(t, err)
	assert.Contains(t, out, "source:  env")
	assert.Contains(t, out, "command: /opt/backend/codex_monitor_web")
}

func TestBackendArgs(t *testing.T) {
	cfg := config.Default()
	cfg.Backend.Listen = "127.0.0.1:5000"
	cfg.Backend.DataDir = "/data"
	cfg.Backend.Args = []string{"--verbose"}

	assert.Equal(t,
		[]string{"--listen", "127.0.0.1:5000", "--data-dir", "/data", "--token", "t", "--verbose"},
		backendArgs(cfg, "t"))
	assert.Equal(t,
		[]string{"--listen", "127.0.0.1:5000", "--data-dir", "/data", "--verbose"},
		backendArgs(cfg, ""))
}

func TestDialableAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1:4732", dialableAddr("0.0.0.0:4732"))
	assert.Equal(t, "127.0.0.1:4732", dialableAddr(":4732"))
	assert.Equal(t, "[::1]:4732", dialableAddr("[::]:4732"))
	assert.Equal(t, "10.0.0.2:80", dialableAddr("10.0.0.2:80"))
}

func TestFrontendEnv(t *testing.T) {
	cfg := config.Default()
	tgt, err := target.Resolve(target.Inputs{Override: "127.0.0.1:4732"})
	require.NoError(t, err)

	env := frontendEnv(cfg, tgt, "tok")
	assert.Contains(t, env, target.EnvBackendURL+"=http://127.0.0.1:4732")
	assert.Contains(t, env, "HOST=127.0.0.1")
	assert.Contains(t, env, "PORT=4173")
	assert.Contains(t, env, config.EnvToken+"=tok")

	assert.NotContains(t, frontendEnv(cfg, tgt, ""), config.EnvToken+"=")
}
