package server

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"
)

const (
	healthStatusOK       = "ok"
	healthStatusNotReady = "not ready"
)

// HealthChecker serves liveness and readiness endpoints. Readiness flips
// off during shutdown so load balancers drain traffic first.
type HealthChecker struct {
	ready     atomic.Bool
	server    *Server
	startTime time.Time
}

// NewHealthChecker creates a health checker for the server. The server
// starts ready.
func NewHealthChecker(s *Server) *HealthChecker {
	h := &HealthChecker{
		server:    s,
		startTime: time.Now(),
	}
	h.ready.Store(true)
	return h
}

// SetReady flips the readiness state.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
}

// HealthResponse is the JSON body of the health endpoints.
type HealthResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime,omitempty"`
	Authorized bool   `json:"authorized"`
	Sessions   int    `json:"sessions"`
}

func (h *HealthChecker) snapshot() HealthResponse {
	resp := HealthResponse{
		Status: healthStatusOK,
		Uptime: time.Since(h.startTime).Truncate(time.Second).String(),
	}
	if h.server != nil {
		resp.Authorized = h.server.manager.Current() != nil
		resp.Sessions = h.server.router.SessionCount()
	}
	if !h.ready.Load() {
		resp.Status = healthStatusNotReady
	}
	return resp
}

// LivenessHandler reports that the process is running.
func (h *HealthChecker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: healthStatusOK})
	})
}

// ReadinessHandler reports whether the server should receive traffic,
// with token and session detail for operators.
func (h *HealthChecker) ReadinessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		resp := h.snapshot()
		w.Header().Set("Content-Type", "application/json")
		if resp.Status != healthStatusOK {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// RegisterEndpoints mounts the health endpoints: the configured route
// serves the readiness detail, /healthz stays a bare liveness probe.
func (h *HealthChecker) RegisterEndpoints(mux *http.ServeMux, route string) {
	mux.Handle(route, h.ReadinessHandler())
	mux.Handle("/healthz", h.LivenessHandler())
}
