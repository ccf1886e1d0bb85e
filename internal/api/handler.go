// Package api provides shared HTTP helpers and the health endpoint.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// Pinger checks a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GatewayChecker reports whether the tool gateway is configured.
type GatewayChecker interface {
	Configured(ctx context.Context) bool
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status            string `json:"status"`
	Database          string `json:"database"`
	GatewayConfigured bool   `json:"gateway_configured"`
}

// HealthHandler reports database reachability and whether the gateway is
// configured. Only the database decides the status code.
type HealthHandler struct {
	db      Pinger
	gateway GatewayChecker
	timeout time.Duration
}

// NewHealthHandler creates a HealthHandler. gateway may be nil.
func NewHealthHandler(db Pinger, gateway GatewayChecker) *HealthHandler {
	return &HealthHandler{db: db, gateway: gateway, timeout: 3 * time.Second}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if err := h.db.Ping(ctx); err != nil {
		resp.Status, resp.Database = "degraded", err.Error()
		status = http.StatusServiceUnavailable
	}
	if h.gateway != nil {
		resp.GatewayConfigured = h.gateway.Configured(ctx)
	}
	JSON(w, status, resp)
}
