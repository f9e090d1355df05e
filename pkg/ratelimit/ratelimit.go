// Package ratelimit enforces a per-principal request budget over the
// HTTP surface.
package ratelimit

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/observability"
)

// idleEviction drops buckets not seen for this long.
const idleEviction = 2 * time.Hour

// KeyFunc extracts the rate-limit key from a request.
type KeyFunc func(r *http.Request) string

// RemoteHostKey keys on the client address, the fallback when no
// authenticated principal exists.
func RemoteHostKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Store holds per-principal buckets. Implementations must be safe for
// concurrent use.
type Store interface {
	// Take consumes one token from the principal's bucket, reporting
	// whether the budget allowed it.
	Take(principal string) bool
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// MemoryStore keeps token buckets in process memory. Each bucket
// holds a full hour's budget and refills continuously.
type MemoryStore struct {
	perHour int

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastPrune time.Time
}

func NewMemoryStore(requestsPerHour int) *MemoryStore {
	return &MemoryStore{
		perHour:   requestsPerHour,
		buckets:   make(map[string]*bucket),
		lastPrune: time.Now(),
	}
}

func (s *MemoryStore) Take(principal string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.buckets[principal]
	if !ok {
		per := time.Hour / time.Duration(s.perHour)
		b = &bucket{limiter: rate.NewLimiter(rate.Every(per), s.perHour)}
		s.buckets[principal] = b
	}
	b.lastSeen = time.Now()
	s.pruneLocked()
	return b.limiter.Allow()
}

// pruneLocked evicts idle buckets at most once a minute.
func (s *MemoryStore) pruneLocked() {
	now := time.Now()
	if now.Sub(s.lastPrune) < time.Minute {
		return
	}
	s.lastPrune = now
	for key, b := range s.buckets {
		if now.Sub(b.lastSeen) > idleEviction {
			delete(s.buckets, key)
		}
	}
}

// Limiter applies a Store-backed budget to requests.
type Limiter struct {
	enabled bool
	store   Store
	logger  *slog.Logger
}

func NewLimiter(cfg config.RateLimitConfig, logger *slog.Logger) *Limiter {
	return NewLimiterWithStore(cfg, NewMemoryStore(cfg.RequestsPerHour), logger)
}

func NewLimiterWithStore(cfg config.RateLimitConfig, store Store, logger *slog.Logger) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Limiter{
		enabled: cfg.Enabled,
		store:   store,
		logger:  logger.With("component", "ratelimit"),
	}
}

// Allow consumes one token from the principal's bucket.
func (l *Limiter) Allow(principal string) bool {
	if !l.enabled {
		return true
	}
	return l.store.Take(principal)
}

// Middleware rejects over-budget requests with 429. The key function
// decides whose bucket a request draws from.
func (l *Limiter) Middleware(key KeyFunc) func(http.Handler) http.Handler {
	if key == nil {
		key = RemoteHostKey
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := key(r)
			if !l.Allow(principal) {
				observability.GetGlobalMetrics().RecordRateLimitRejection(r.Context(), principal)
				l.logger.Warn("request over budget", "principal", principal, "path", r.URL.Path)
				w.Header().Set("Retry-After", "60")
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
