package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-resilience/app"
	"github.com/upb/llm-resilience/fallback"
	"github.com/upb/llm-resilience/health"
	"github.com/upb/llm-resilience/modelcache"
	"github.com/upb/llm-resilience/provider"
	"github.com/upb/llm-resilience/selection"
	"github.com/upb/llm-resilience/utils"
)

// providerHealthView is the wire shape of one snapshot entry.
type providerHealthView struct {
	Provider        string `json:"provider"`
	State           string `json:"state"`
	Reason          string `json:"reason,omitempty"`
	LatencyMS       int64  `json:"latency_ms"`
	ModelsAvailable int    `json:"models_available"`
	Usable          bool   `json:"usable"`
	Info            string `json:"info,omitempty"`
}

func toHealthView(id provider.ID, status health.Status) providerHealthView {
	return providerHealthView{
		Provider:        id.String(),
		State:           status.State.String(),
		Reason:          status.Reason,
		LatencyMS:       status.Latency.Milliseconds(),
		ModelsAvailable: status.ModelsAvailable,
		Usable:          status.IsUsable(),
		Info:            status.Info,
	}
}

// HealthSnapshotHandler returns the current health of every provider,
// healthiest first.
func HealthSnapshotHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := deps.Health.Snapshot()
		views := make([]providerHealthView, 0, len(snapshot))
		for _, ph := range snapshot {
			views = append(views, toHealthView(ph.ID, ph.Status))
		}
		_ = utils.WriteOK(w, views)
	}
}

// ForceCheckHandler re-probes providers immediately. With a ?provider=
// query only that provider is checked; otherwise all of them are.
func ForceCheckHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if name := r.URL.Query().Get("provider"); name != "" {
			id := provider.ID(name)
			status, err := deps.Health.ForceCheck(r.Context(), id)
			if err != nil {
				if errors.Is(err, health.ErrUnknownProvider) {
					_ = utils.WriteNotFound(w, err.Error())
					return
				}
				_ = utils.WriteInternalServerError(w, err.Error())
				return
			}
			_ = utils.WriteOK(w, toHealthView(id, status))
			return
		}

		results := deps.Health.ForceCheckAll(r.Context())
		views := make([]providerHealthView, 0, len(results))
		for id, status := range results {
			views = append(views, toHealthView(id, status))
		}
		_ = utils.WriteOK(w, views)
	}
}

// MetricsHandler returns per-provider performance metrics plus the
// cross-provider summary.
func MetricsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		all := deps.Performance.AllMetrics()
		metrics := make(map[string]interface{}, len(all))
		for id, m := range all {
			metrics[id.String()] = map[string]interface{}{
				"total_requests":       m.TotalRequests,
				"successful_requests":  m.SuccessfulRequests,
				"failed_requests":      m.FailedRequests,
				"success_rate":         m.SuccessRate(),
				"avg_response_time_ms": m.AvgResponseTime.Milliseconds(),
				"min_response_time_ms": m.MinResponseTime.Milliseconds(),
				"max_response_time_ms": m.MaxResponseTime.Milliseconds(),
				"throughput_rps":       m.Throughput,
				"memory_usage_mb":      m.MemoryUsageMB,
				"last_updated":         m.LastUpdated,
			}
		}
		_ = utils.WriteOK(w, map[string]interface{}{
			"providers": metrics,
			"summary":   deps.Performance.Summarize(),
		})
	}
}

// RecommendationsHandler returns threshold-driven optimization suggestions,
// most urgent first.
func RecommendationsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteOK(w, deps.Performance.Recommendations())
	}
}

// BenchmarkHandler compares provider metrics against the configured
// targets.
func BenchmarkHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteOK(w, deps.Performance.Benchmark())
	}
}

// CacheStatsHandler returns model cache occupancy and hit rates.
func CacheStatsHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = utils.WriteOK(w, deps.Cache.Stats())
	}
}

// selectRequest is the body of POST /api/v1/select.
type selectRequest struct {
	ModelID             string `json:"model_id"`
	RequiresStreaming   bool   `json:"requires_streaming"`
	RequiresTools       bool   `json:"requires_tools"`
	ConsecutiveFailures int    `json:"consecutive_failures" validate:"gte=0"`
}

// SelectHandler runs one provider selection and commits the outcome.
// Manual-selection outcomes map to 409 with the options in the details;
// no-provider outcomes map to 503 with the attempted providers.
func SelectHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req selectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			_ = utils.WriteBadRequest(w, "invalid request body", nil)
			return
		}
		if err := utils.ValidateStruct(&req); err != nil {
			details := make(map[string]interface{})
			for field, msg := range utils.GetValidationFields(err) {
				details[field] = msg
			}
			_ = utils.WriteBadRequest(w, "invalid request", details)
			return
		}

		start := time.Now()
		sel, err := deps.Selector.SelectProvider(fallback.Context{
			ModelID:             req.ModelID,
			RequiresStreaming:   req.RequiresStreaming,
			RequiresTools:       req.RequiresTools,
			ConsecutiveFailures: req.ConsecutiveFailures,
		})
		if err != nil {
			var manual *selection.ManualSelectionError
			if errors.As(err, &manual) {
				_ = utils.WriteConflict(w, manual.Reason, map[string]interface{}{
					"options": manual.Options,
				})
				return
			}
			var noProvider *selection.NoProviderError
			if errors.As(err, &noProvider) {
				attempted := make([]string, len(noProvider.Attempted))
				for i, id := range noProvider.Attempted {
					attempted[i] = id.String()
				}
				_ = utils.WriteServiceUnavailable(w, noProvider.Reason, map[string]interface{}{
					"attempted": attempted,
				})
				return
			}
			_ = utils.WriteInternalServerError(w, err.Error())
			return
		}

		deps.Logger.Debug("selection served",
			zap.String("selection_id", sel.ID.String()),
			zap.String("provider", sel.Provider.String()),
			zap.Duration("took", time.Since(start)))
		_ = utils.WriteOK(w, sel)
	}
}

// modelLoadRequest is the body of POST /api/v1/models/load.
type modelLoadRequest struct {
	Provider  string `json:"provider" validate:"required"`
	Model     string `json:"model" validate:"required"`
	SizeBytes int64  `json:"size_bytes" validate:"gt=0"`
}

// ModelLoadHandler reserves cache space for a model before the caller loads
// it, returning whether it was already resident, which models to unload, and
// preload suggestions. A model too large for the cache budget maps to 409.
func ModelLoadHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req modelLoadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			_ = utils.WriteBadRequest(w, "invalid request body", nil)
			return
		}
		if err := utils.ValidateStruct(&req); err != nil {
			details := make(map[string]interface{})
			for field, msg := range utils.GetValidationFields(err) {
				details[field] = msg
			}
			_ = utils.WriteBadRequest(w, "invalid request", details)
			return
		}

		load, err := deps.Selector.LoadModel(provider.ID(req.Provider), req.Model, req.SizeBytes)
		if err != nil {
			if errors.Is(err, modelcache.ErrCacheExhausted) {
				_ = utils.WriteConflict(w, err.Error(), nil)
				return
			}
			_ = utils.WriteInternalServerError(w, err.Error())
			return
		}
		_ = utils.WriteOK(w, load)
	}
}

// RecommendedProvidersHandler lists providers worth trying for a model.
func RecommendedProvidersHandler(deps *app.Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ids := deps.Selector.RecommendedProviders(r.URL.Query().Get("model"))
		out := make([]string, len(ids))
		for i, id := range ids {
			out[i] = id.String()
		}
		_ = utils.WriteOK(w, out)
	}
}
