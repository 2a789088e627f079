package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/caarlos0/env/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SairamVarma07/Vytara-AI-Frontend/apiclient"
	"github.com/SairamVarma07/Vytara-AI-Frontend/tui"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, rest, err := loadConfig([]string{"whoami"}, env.Options{Environment: map[string]string{}}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"whoami"}, rest)
	assert.Equal(t, apiclient.DefaultBaseURL, cfg.ServerURL)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
	assert.Equal(t, 3, cfg.UploadTimeoutMultiplier)
	assert.Equal(t, 0, cfg.MaxRetries)
	assert.Equal(t, "default", cfg.Profile)
	assert.Equal(t, backendFile, cfg.StoreBackend)
	assert.Equal(t, 720*time.Hour, cfg.RedisTTL)
	assert.True(t, strings.HasSuffix(cfg.TokenFile, "tokens.json"), cfg.TokenFile)
	assert.Contains(t, filepath.Base(cfg.SessionFile), "vytara-session-")
	assert.True(t, cfg.isPlaintext())
}

func TestLoadConfig_Priority(t *testing.T) {
	environ := map[string]string{
		"API_BASE_URL":              "https://staging.vytara.app/api",
		"API_TIMEOUT":               "4s",
		"HTTP_MAX_RETRIES":          "2",
		"PROFILE":                   "staging",
		"AUTH_TOKEN_KEY":            "custom_token",
		"STORE_BACKEND":             "redis",
		"REDIS_DB":                  "3",
		"TOKEN_FILE":                "/tmp/from-env.json",
		"UPLOAD_TIMEOUT_MULTIPLIER": "5",
	}
	args := []string{"-server-url", "https://api.vytara.app/api", "-timeout", "2s", "get", "/tasks"}

	cfg, rest, err := loadConfig(args, env.Options{Environment: environ}, io.Discard)
	require.NoError(t, err)

	assert.Equal(t, []string{"get", "/tasks"}, rest)
	assert.Equal(t, "https://api.vytara.app/api", cfg.ServerURL, "flag beats env")
	assert.Equal(t, 2*time.Second, cfg.Timeout, "flag beats env")
	assert.Equal(t, "staging", cfg.Profile, "env beats default")
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, 5, cfg.UploadTimeoutMultiplier)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, "/tmp/from-env.json", cfg.TokenFile)
	assert.Equal(t, "custom_token", cfg.storeKeys().AccessToken)
	assert.False(t, cfg.isPlaintext())
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		environ     map[string]string
		args        []string
		errContains string
	}{
		{
			name:        "bad scheme",
			environ:     map[string]string{"API_BASE_URL": "ftp://example.com"},
			errContains: "URL scheme must be http or https",
		},
		{
			name:        "missing host",
			args:        []string{"-server-url", "https://"},
			errContains: "URL must include a host",
		},
		{
			name:        "unparsable timeout",
			environ:     map[string]string{"API_TIMEOUT": "soon"},
			errContains: "invalid environment",
		},
		{
			name:        "zero timeout",
			args:        []string{"-timeout", "0s"},
			errContains: "timeout must be positive",
		},
		{
			name:        "multiplier below one",
			environ:     map[string]string{"UPLOAD_TIMEOUT_MULTIPLIER": "0"},
			errContains: "UPLOAD_TIMEOUT_MULTIPLIER must be at least 1",
		},
		{
			name:        "negative retries",
			environ:     map[string]string{"HTTP_MAX_RETRIES": "-1"},
			errContains: "HTTP_MAX_RETRIES cannot be negative",
		},
		{
			name:        "unknown backend",
			args:        []string{"-store", "sqlite"},
			errContains: "unknown store backend",
		},
		{
			name:        "bad log level",
			environ:     map[string]string{"LOG_LEVEL": "loud"},
			errContains: "invalid LOG_LEVEL",
		},
		{
			name:        "unknown flag",
			args:        []string{"-nope"},
			errContains: "flag provided but not defined",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			environ := tt.environ
			if environ == nil {
				environ = map[string]string{}
			}
			_, _, err := loadConfig(tt.args, env.Options{Environment: environ}, io.Discard)
			if err == nil {
				t.Fatalf("loadConfig() expected error containing %q", tt.errContains)
			}
			if !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("loadConfig() error = %v, want error containing %q", err, tt.errContains)
			}
		})
	}
}

func TestParseProfileArgs(t *testing.T) {
	got, err := parseProfileArgs([]string{"fullName=Ada Lovelace", "waterGoal=10", "phone=0412 345 678", "bio="})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"fullName":  "Ada Lovelace",
		"waterGoal": float64(10),
		"phone":     "0412 345 678",
		"bio":       "",
	}, got)

	for _, bad := range [][]string{{"noequals"}, {"=value"}, {"proteinGoal=lots"}} {
		_, err := parseProfileArgs(bad)
		require.Error(t, err, bad)
		assert.True(t, apiclient.IsKind(err, apiclient.KindValidation))
	}
}

func TestCallbackQuery(t *testing.T) {
	tests := []struct {
		raw   string
		token string
		err   string
	}{
		{raw: "http://localhost:5173/oauth2/redirect?token=abc&refreshToken=r", token: "abc"},
		{raw: "?token=abc", token: "abc"},
		{raw: "token=abc&refreshToken=r", token: "abc"},
		{raw: "error=access_denied", err: "access_denied"},
	}
	for _, tt := range tests {
		q, err := callbackQuery(tt.raw)
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.token, q.Get("token"), tt.raw)
		assert.Equal(t, tt.err, q.Get("error"), tt.raw)
	}

	_, err := callbackQuery("token=%zz")
	assert.Error(t, err)
}

// fakeAPI serves the endpoints the CLI uses.
type fakeAPI struct {
	mu           sync.Mutex
	validToken   string
	refreshOK    bool
	refreshCalls atomic.Int32
}

func (f *fakeAPI) setValidToken(tok string, refreshOK bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.validToken = tok
	f.refreshOK = refreshOK
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	valid, refreshOK := f.validToken, f.refreshOK
	f.mu.Unlock()
	authed := r.Header.Get("Authorization") == "Bearer "+valid

	writeJSON := func(status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	user := map[string]any{"id": 7, "email": "ada@vytara.test", "fullName": "Ada"}

	switch r.URL.Path {
	case "/auth/login":
		writeJSON(http.StatusOK, map[string]any{"success": true, "data": map[string]any{
			"accessToken": "access-1", "refreshToken": "refresh-1", "user": user,
		}})
	case "/auth/refresh":
		f.refreshCalls.Add(1)
		if !refreshOK {
			writeJSON(http.StatusForbidden, map[string]string{"message": "refresh token revoked"})
			return
		}
		f.setValidToken("access-2", true)
		writeJSON(http.StatusOK, map[string]any{"data": map[string]string{"accessToken": "access-2"}})
	case "/auth/logout":
		w.WriteHeader(http.StatusNoContent)
	case "/user/profile":
		if !authed {
			writeJSON(http.StatusUnauthorized, map[string]string{"message": "expired"})
			return
		}
		writeJSON(http.StatusOK, map[string]any{"success": true, "data": user})
	case "/tasks":
		if !authed {
			writeJSON(http.StatusUnauthorized, map[string]string{"message": "expired"})
			return
		}
		writeJSON(http.StatusOK, map[string]any{"success": true, "data": []map[string]any{{"id": 1, "title": "Log breakfast"}}})
	default:
		http.NotFound(w, r)
	}
}

func testConfig(t *testing.T, serverURL string) *Config {
	t.Helper()
	dir := t.TempDir()
	return &Config{
		ServerURL:               serverURL,
		Timeout:                 2 * time.Second,
		UploadTimeoutMultiplier: 3,
		Profile:                 "test",
		StoreBackend:            backendFile,
		TokenFile:               filepath.Join(dir, "tokens.json"),
		SessionFile:             filepath.Join(dir, "session.json"),
		LogLevel:                "debug",
	}
}

type cliResult struct {
	err    error
	stdout string
	stderr string
}

func runCLI(t *testing.T, cfg *Config, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(tui.NewPlainDisplayer(&stderr), cfg, args, zerolog.Nop(), strings.NewReader(""), &stdout)
	return cliResult{err: err, stdout: stdout.String(), stderr: stderr.String()}
}

func TestCLI_LoginWhoamiLogout(t *testing.T) {
	api := &fakeAPI{validToken: "access-1"}
	srv := httptest.NewServer(api)
	defer srv.Close()
	cfg := testConfig(t, srv.URL)

	res := runCLI(t, cfg, "login", "-email", "ada@vytara.test", "-password", "secret")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "WARNING: Using HTTP instead of HTTPS")
	assert.Contains(t, res.stderr, "Signed in as Ada (ephemeral session).")

	_, err := os.Stat(cfg.TokenFile)
	assert.True(t, os.IsNotExist(err), "an ephemeral login leaves the durable tier alone")

	res = runCLI(t, cfg, "whoami")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "Found a stored session for Ada.")
	assert.Contains(t, res.stderr, "Email: ada@vytara.test")
	assert.Contains(t, res.stderr, "Session: ephemeral")

	res = runCLI(t, cfg, "logout")
	require.NoError(t, res.err)
	assert.Contains(t, res.stderr, "Signed out. Local credentials removed.")

	res = runCLI(t, cfg, "whoami")
	require.ErrorIs(t, res.err, errNotSignedIn)
	assert.Contains(t, res.stderr, "Not signed in.")
}

func TestCLI_RememberedLoginWritesTokenFile(t *testing.T) {
	api := &fakeAPI{validToken: "access-1"}
	srv := httptest.NewServer(api)
	defer srv.Close()
	cfg := testConfig(t, srv.URL)

	res := runCLI(t, cfg, "login", "-email", "ada@vytara.test", "-password", "secret", "-remember")
	require.NoError(t, res.err)

	data, err := os.ReadFile(cfg.TokenFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"vytara_auth_token": "access-1"`)
	assert.Contains(t, res.stderr, "Session: remembered")
}

func TestCLI_GetPrintsDataToStdout(t *testing.T) {
	api := &fakeAPI{validToken: "access-2", refreshOK: true}
	srv := httptest.NewServer(api)
	defer srv.Close()
	cfg := testConfig(t, srv.URL)
	cfg.MetricsFile = filepath.Join(t.TempDir(), "vytara.prom")

	require.NoError(t, runCLI(t, cfg, "login", "-email", "a@b.c", "-password", "x").err)

	// access-1 is stale, so the call refreshes once and replays
	res := runCLI(t, cfg, "get", "/tasks")
	require.NoError(t, res.err)
	assert.JSONEq(t, `[{"id":1,"title":"Log breakfast"}]`, res.stdout)
	assert.Contains(t, res.stderr, "Access token refreshed.")
	assert.Equal(t, int32(1), api.refreshCalls.Load())

	metrics, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `vytara_client_token_refreshes_total{result="success"} 1`)
}

func TestCLI_SessionExpired(t *testing.T) {
	api := &fakeAPI{validToken: "access-1"}
	srv := httptest.NewServer(api)
	defer srv.Close()
	cfg := testConfig(t, srv.URL)

	require.NoError(t, runCLI(t, cfg, "login", "-email", "a@b.c", "-password", "x", "-remember").err)
	api.setValidToken("rotated", false)

	res := runCLI(t, cfg, "get", "/tasks")
	require.ErrorIs(t, res.err, apiclient.ErrSessionExpired)
	assert.Contains(t, res.stderr, "Your session has expired. Run `vytara login` to sign in again.")
	assert.NotContains(t, res.stderr, "Error:")
	assert.Empty(t, res.stdout)

	data, err := os.ReadFile(cfg.TokenFile)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "access-1", "expiry clears the durable tier")
}

func TestCLI_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	api := &fakeAPI{validToken: "access-1"}
	srv := httptest.NewServer(api)
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.StoreBackend = backendRedis
	cfg.RedisAddr = mr.Addr()
	cfg.RedisTTL = time.Hour

	res := runCLI(t, cfg, "login", "-email", "a@b.c", "-password", "x", "-remember")
	require.NoError(t, res.err)

	tok, err := mr.Get("vytara:test:vytara_auth_token")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok)
	assert.Equal(t, time.Hour, mr.TTL("vytara:test:vytara_auth_token"))

	require.NoError(t, runCLI(t, cfg, "logout").err)
	assert.False(t, mr.Exists("vytara:test:vytara_auth_token"))
}

func TestCLI_Errors(t *testing.T) {
	api := &fakeAPI{validToken: "access-1"}
	srv := httptest.NewServer(api)
	defer srv.Close()
	cfg := testConfig(t, srv.URL)

	tests := []struct {
		name        string
		args        []string
		errContains string
		exitCode    int
	}{
		{name: "no command", args: nil, errContains: "no command given", exitCode: 1},
		{name: "unknown command", args: []string{"dance"}, errContains: "unknown command", exitCode: 1},
		{name: "login without password", args: []string{"login", "-email", "a@b.c"}, errContains: "Email and password are required.", exitCode: 2},
		{name: "signup without terms", args: []string{"signup", "-email", "a@b.c", "-password", "x", "-name", "A"}, errContains: "agree to the terms", exitCode: 2},
		{name: "upload signed out", args: []string{"upload", "x.png"}, errContains: "not signed in", exitCode: 1},
		{name: "request bad json", args: []string{"request", "-X", "POST", "/tasks", "{"}, errContains: "not valid JSON", exitCode: 2},
		{name: "oauth error", args: []string{"oauth-callback", "?error=access_denied"}, errContains: "access_denied", exitCode: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := runCLI(t, cfg, tt.args...)
			require.Error(t, res.err)
			assert.Contains(t, res.err.Error(), tt.errContains)
			assert.Equal(t, tt.exitCode, exitCode(res.err))
		})
	}
	assert.Equal(t, 0, exitCode(nil))
}

func TestCLI_OAuthURL(t *testing.T) {
	cfg := testConfig(t, "https://api.vytara.app/api")
	res := runCLI(t, cfg, "oauth-url")
	require.NoError(t, res.err)
	assert.Equal(t, "https://api.vytara.app/api/oauth2/authorization/google\n", res.stdout)
	assert.NotContains(t, res.stderr, "WARNING")
}
