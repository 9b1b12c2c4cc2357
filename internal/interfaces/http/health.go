package http

import (
	"context"
	"net/http"
	"runtime"
	"sync"
	"time"
)

const checkTimeout = 2 * time.Second

// Check probes one dependency. A nil return means the dependency is
// reachable.
type Check func(ctx context.Context) error

// HealthHandler reports service liveness plus per-dependency checks.
type HealthHandler struct {
	mu        sync.Mutex
	checks    map[string]Check
	startTime time.Time
	version   string
}

// NewHealthHandler creates a health handler stamped with the build
// version.
func NewHealthHandler(version string) *HealthHandler {
	return &HealthHandler{
		checks:    make(map[string]Check),
		startTime: time.Now(),
		version:   version,
	}
}

// AddCheck registers a named dependency probe.
func (h *HealthHandler) AddCheck(name string, check Check) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// HealthResponse is the health endpoint payload. Status is "ok" when
// every check passes, "degraded" otherwise.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Uptime    string            `json:"uptime"`
	Version   string            `json:"version"`
	System    SystemInfo        `json:"system"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// SystemInfo carries runtime-level details.
type SystemInfo struct {
	GoVersion     string `json:"goVersion"`
	NumGoroutines int    `json:"numGoroutines"`
	MemAllocBytes uint64 `json:"memAllocBytes"`
}

// ServeHTTP runs every registered check and reports aggregate health.
// Degraded responses use 503 so load balancers can react.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	response := HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		System: SystemInfo{
			GoVersion:     runtime.Version(),
			NumGoroutines: runtime.NumGoroutine(),
			MemAllocBytes: mem.Alloc,
		},
	}

	if results := h.runChecks(r.Context()); len(results) > 0 {
		response.Checks = results
		for _, result := range results {
			if result != "pass" {
				response.Status = "degraded"
				break
			}
		}
	}

	status := http.StatusOK
	if response.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	writeJSON(w, status, response)
}

func (h *HealthHandler) runChecks(ctx context.Context) map[string]string {
	h.mu.Lock()
	checks := make(map[string]Check, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.Unlock()

	results := make(map[string]string, len(checks))
	for name, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		if err := check(checkCtx); err != nil {
			results[name] = "fail: " + err.Error()
		} else {
			results[name] = "pass"
		}
		cancel()
	}
	return results
}
