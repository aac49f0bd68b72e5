package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

// storePingTimeout bounds the database round trip made by the readiness
// and detailed health checks.
const storePingTimeout = 2 * time.Second

// HealthChecker provides health check endpoints for Kubernetes probes.
type HealthChecker struct {
	// ready indicates whether the server is ready to receive traffic
	ready atomic.Bool
	// serverContext provides access to dependencies for health checks
	serverContext *ServerContext
	// startTime tracks when the server started
	startTime time.Time
}

// NewHealthChecker creates a new HealthChecker. The server starts as
// ready; callers flip it off while bootstrap work is still running.
func NewHealthChecker(sc *ServerContext) *HealthChecker {
	h := &HealthChecker{
		serverContext: sc,
		startTime:     time.Now(),
	}
	h.ready.Store(true)
	return h
}

// SetReady sets the readiness state of the server.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady returns whether the server is ready to receive traffic.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// HealthResponse represents the JSON response for health endpoints.
type HealthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// DetailedHealthResponse carries the full operational picture: probe
// results plus per-subsystem status.
type DetailedHealthResponse struct {
	Status             string                      `json:"status"`
	Version            string                      `json:"version,omitempty"`
	Uptime             string                      `json:"uptime"`
	ActiveSubprocesses int                         `json:"active_subprocesses"`
	Store              *StoreHealthStatus          `json:"store,omitempty"`
	DNS                *DNSHealthStatus            `json:"dns,omitempty"`
	Instrumentation    *InstrumentationHealthCheck `json:"instrumentation,omitempty"`
}

// StoreHealthStatus reports whether the persistent catalog answers.
type StoreHealthStatus struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}

// DNSHealthStatus reports whether instance hostnames are published.
type DNSHealthStatus struct {
	Enabled bool `json:"enabled"`
}

// InstrumentationHealthCheck reports the instrumentation state.
type InstrumentationHealthCheck struct {
	Enabled     bool   `json:"enabled"`
	MetricsPath string `json:"metrics_path,omitempty"`
}

// LivenessHandler returns an HTTP handler for the /healthz endpoint.
// Liveness probes indicate whether the process should be restarted, so
// this is nothing more than proof the server can still answer.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)

		response := HealthResponse{
			Status: "ok",
		}
		if h.serverContext != nil {
			response.Version = h.serverContext.Version()
		}

		_ = json.NewEncoder(w).Encode(response)
	})
}

// ReadinessHandler returns an HTTP handler for the /readyz endpoint.
// Readiness probes indicate whether the server should receive traffic:
// it must be marked ready, not shutting down, and able to reach its
// store.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		checks := make(map[string]string)
		allOk := true

		if !h.ready.Load() {
			checks["ready"] = "not ready"
			allOk = false
		} else {
			checks["ready"] = "ok"
		}

		if h.serverContext != nil && h.serverContext.IsShutdown() {
			checks["shutdown"] = "shutting down"
			allOk = false
		} else {
			checks["shutdown"] = "ok"
		}

		if h.serverContext != nil && h.serverContext.Store() != nil {
			if err := h.pingStore(r.Context()); err != nil {
				checks["store"] = "unreachable"
				allOk = false
			} else {
				checks["store"] = "ok"
			}
		}

		response := HealthResponse{
			Checks: checks,
		}

		if allOk {
			response.Status = "ok"
			w.WriteHeader(http.StatusOK)
		} else {
			response.Status = "not ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		_ = json.NewEncoder(w).Encode(response)
	})
}

// RegisterHealthEndpoints registers health check endpoints on the given mux.
func (h *HealthChecker) RegisterHealthEndpoints(mux *http.ServeMux) {
	mux.Handle("/healthz", h.LivenessHandler())
	mux.Handle("/readyz", h.ReadinessHandler())
	mux.Handle("/healthz/detailed", h.DetailedHealthHandler())
}

// DetailedHealthHandler returns an HTTP handler for the
// /healthz/detailed endpoint, which adds per-subsystem status to the
// probe result.
func (h *HealthChecker) DetailedHealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		response := DetailedHealthResponse{
			Status: "ok",
			Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
		}

		if h.serverContext != nil {
			response.Version = h.serverContext.Version()
			response.ActiveSubprocesses = h.serverContext.ActiveSubprocesses()
			response.Store = h.getStoreStatus(r.Context())
			response.DNS = &DNSHealthStatus{Enabled: h.serverContext.DNSEnabled()}
			response.Instrumentation = h.getInstrumentationStatus()
		}

		if !h.ready.Load() {
			response.Status = "not ready"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else if h.serverContext != nil && h.serverContext.IsShutdown() {
			response.Status = "shutting down"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else if response.Store != nil && !response.Store.Reachable {
			response.Status = "degraded"
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}

		_ = json.NewEncoder(w).Encode(response)
	})
}

// pingStore checks the catalog database with a bounded round trip.
func (h *HealthChecker) pingStore(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, storePingTimeout)
	defer cancel()
	return h.serverContext.Store().Ping(pingCtx)
}

// getStoreStatus returns the persistent store's health status.
func (h *HealthChecker) getStoreStatus(ctx context.Context) *StoreHealthStatus {
	if h.serverContext.Store() == nil {
		return nil
	}
	if err := h.pingStore(ctx); err != nil {
		return &StoreHealthStatus{Reachable: false, Error: err.Error()}
	}
	return &StoreHealthStatus{Reachable: true}
}

// getInstrumentationStatus returns instrumentation health status.
func (h *HealthChecker) getInstrumentationStatus() *InstrumentationHealthCheck {
	provider := h.serverContext.InstrumentationProvider()
	if provider == nil || !provider.Enabled() {
		return &InstrumentationHealthCheck{Enabled: false}
	}
	return &InstrumentationHealthCheck{
		Enabled:     true,
		MetricsPath: provider.MetricsPath(),
	}
}
