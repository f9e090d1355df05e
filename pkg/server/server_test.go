package server

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-dev/maestro/pkg/auth"
	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/ratelimit"
	"github.com/maestro-dev/maestro/pkg/sandbox"
	"github.com/maestro-dev/maestro/pkg/tools"
)

func newTestServer(t *testing.T, mutate func(*config.AuthConfig, *config.RateLimitConfig)) *Server {
	t.Helper()
	workspace := t.TempDir()

	toolsCfg := config.ToolsConfig{}
	toolsCfg.SetDefaults()
	sandboxCfg := config.SandboxConfig{}
	sandboxCfg.SetDefaults()

	registry, err := tools.NewLocalRegistry(toolsCfg, workspace, sandbox.NewProcessRunner(sandboxCfg, workspace), nil)
	require.NoError(t, err)

	authCfg := config.AuthConfig{Enabled: true, Token: "sesame"}
	rateCfg := config.RateLimitConfig{}
	rateCfg.SetDefaults()
	if mutate != nil {
		mutate(&authCfg, &rateCfg)
	}

	authn, err := auth.NewAuthenticator(context.Background(), authCfg, nil)
	require.NoError(t, err)

	health := NewHealthChecker(time.Minute)

	return New(config.ServerConfig{Host: "127.0.0.1", Port: 0}, Deps{
		Session:   func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusSwitchingProtocols) },
		Webhook:   http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusAccepted) }),
		Tools:     registry,
		Auth:      authn,
		RateLimit: ratelimit.NewLimiter(rateCfg, nil),
		Health:    health,
	})
}

func do(h http.Handler, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(s.Handler(), "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestHealthReportsFailingProbe(t *testing.T) {
	health := NewHealthChecker(time.Minute)
	health.Register("llm", func(context.Context) error { return fmt.Errorf("connection refused") })
	health.Register("embedder", func(context.Context) error { return nil })

	rec := httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "llm")
	assert.NotContains(t, rec.Body.String(), "embedder")
}

func TestHealthCachesVerdict(t *testing.T) {
	healthy := false
	health := NewHealthChecker(time.Minute)
	health.Register("llm", func(context.Context) error {
		if healthy {
			return nil
		}
		return fmt.Errorf("down")
	})

	rec := httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// The probe recovers but the cached verdict still stands.
	healthy = true
	rec = httptest.NewRecorder()
	health.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCommandRequiresAuth(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(s.Handler(), "POST", "/commands/list_dir", "", "{}")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(s.Handler(), "POST", "/commands/list_dir", "wrong", "{}")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCommandExecutesTool(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(s.Handler(), "POST", "/commands/write_file", "sesame",
		`{"path":"notes.txt","content":"hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"success":true`)

	rec = do(s.Handler(), "POST", "/commands/read_file", "sesame", `{"path":"notes.txt"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "hello")
}

func TestCommandErrorTaxonomy(t *testing.T) {
	s := newTestServer(t, nil)

	rec := do(s.Handler(), "POST", "/commands/no_such_tool", "sesame", "{}")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_input")

	rec = do(s.Handler(), "POST", "/commands/write_file", "sesame",
		`{"path":".env","content":"SECRET=1"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_permitted")

	rec = do(s.Handler(), "POST", "/commands/write_file", "sesame", "not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRateLimitOnCommands(t *testing.T) {
	s := newTestServer(t, func(_ *config.AuthConfig, rl *config.RateLimitConfig) {
		rl.Enabled = true
		rl.RequestsPerHour = 2
	})

	for i := 0; i < 2; i++ {
		rec := do(s.Handler(), "POST", "/commands/list_dir", "sesame", "{}")
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	rec := do(s.Handler(), "POST", "/commands/list_dir", "sesame", "{}")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Health stays reachable regardless of the budget.
	rec = do(s.Handler(), "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
