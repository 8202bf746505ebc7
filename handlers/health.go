package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/upb/llm-resilience/app"
)

// HealthCheck returns a simple liveness handler
func HealthCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}
}

// ReadinessCheck reports ready once at least one provider is usable or a
// cloud fallback is configured; the daemon can still answer status queries
// either way.
func ReadinessCheck(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"status": "ready",
			"checks": map[string]string{},
		}
		checks := response["checks"].(map[string]string)

		usable := 0
		for _, ph := range deps.Health.Snapshot() {
			if ph.Status.IsUsable() {
				usable++
			}
		}
		switch {
		case usable > 0:
			checks["providers"] = "usable"
		case len(deps.Config.Fallback.CloudProviders) > 0:
			checks["providers"] = "cloud_only"
		default:
			response["status"] = "not_ready"
			checks["providers"] = "none_usable"
		}

		w.Header().Set("Content-Type", "application/json")
		if response["status"] == "ready" {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(response)
	}
}

// StatusHandler returns application status information
func StatusHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]interface{}{
			"version":     "0.1.0",
			"environment": deps.Config.Environment,
			"strategy":    string(deps.Engine.Strategy()),
			"providers":   deps.Probes.IDs(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}
