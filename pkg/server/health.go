package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// probeTimeout bounds one dependency probe.
const probeTimeout = 5 * time.Second

// Probe checks one dependency. A nil return means healthy.
type Probe func(ctx context.Context) error

// HealthChecker runs registered dependency probes and caches the
// combined verdict so health polling cannot hammer upstreams.
type HealthChecker struct {
	ttl time.Duration

	mu      sync.Mutex
	probes  map[string]Probe
	checked time.Time
	failed  map[string]string
}

func NewHealthChecker(ttl time.Duration) *HealthChecker {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &HealthChecker{ttl: ttl, probes: make(map[string]Probe)}
}

// Register adds a named dependency probe.
func (h *HealthChecker) Register(name string, probe Probe) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.probes[name] = probe
}

// check runs all probes, reusing the cached result while fresh.
func (h *HealthChecker) check(ctx context.Context) map[string]string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if time.Since(h.checked) < h.ttl {
		return h.failed
	}

	failed := make(map[string]string)
	for name, probe := range h.probes {
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		if err := probe(probeCtx); err != nil {
			failed[name] = err.Error()
		}
		cancel()
	}
	h.checked = time.Now()
	h.failed = failed
	return failed
}

// ServeHTTP reports 200 when every dependency probe passes and 503
// naming the failing ones otherwise.
func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	failed := h.check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if len(failed) > 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]any{"status": "degraded", "failed": failed})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
}
