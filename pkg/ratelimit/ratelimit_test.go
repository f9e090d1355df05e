package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/maestro-dev/maestro/pkg/config"
)

func TestAllowExhaustsBudget(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{Enabled: true, RequestsPerHour: 5}, nil)

	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("alice"), "request %d within budget", i+1)
	}
	assert.False(t, l.Allow("alice"), "budget exhausted")
}

func TestBucketsAreIndependent(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{Enabled: true, RequestsPerHour: 2}, nil)

	assert.True(t, l.Allow("alice"))
	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
	assert.True(t, l.Allow("bob"))
}

func TestDisabledAlwaysAllows(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{RequestsPerHour: 1}, nil)

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("alice"))
	}
}

func TestMiddlewareRejectsWith429(t *testing.T) {
	l := NewLimiter(config.RateLimitConfig{Enabled: true, RequestsPerHour: 1}, nil)
	handler := l.Middleware(func(*http.Request) string { return "alice" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/session", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/session", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRemoteHostKey(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.1.2.3:54321"
	assert.Equal(t, "10.1.2.3", RemoteHostKey(req))
}

// fixedStore approves a scripted sequence regardless of principal.
type fixedStore struct{ allow []bool }

func (s *fixedStore) Take(string) bool {
	if len(s.allow) == 0 {
		return false
	}
	v := s.allow[0]
	s.allow = s.allow[1:]
	return v
}

func TestCustomStore(t *testing.T) {
	l := NewLimiterWithStore(config.RateLimitConfig{Enabled: true},
		&fixedStore{allow: []bool{true, false}}, nil)

	assert.True(t, l.Allow("alice"))
	assert.False(t, l.Allow("alice"))
}
