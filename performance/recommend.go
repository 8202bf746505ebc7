package performance

import (
	"fmt"
	"sort"
	"time"

	"github.com/upb/llm-resilience/provider"
)

// RecommendationType names the subsystem an optimization targets.
type RecommendationType string

const (
	RecNetwork           RecommendationType = "network"
	RecProviderSelection RecommendationType = "provider_selection"
	RecMemory            RecommendationType = "memory"
	RecModelLoading      RecommendationType = "model_loading"
)

// Priority orders recommendations, higher is more urgent.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Recommendation is one threshold-driven optimization suggestion.
type Recommendation struct {
	Provider        provider.ID        `json:"provider"`
	Type            RecommendationType `json:"type"`
	Description     string             `json:"description"`
	SuggestedAction string             `json:"suggested_action"`
	ExpectedImpact  string             `json:"expected_impact"`
	Priority        Priority           `json:"priority"`
}

// Recommendations compares every provider's metrics against the alert
// thresholds and returns suggestions ordered most urgent first. Output is
// deterministic: providers are visited in ID order and the sort is stable.
func (m *Monitor) Recommendations() []Recommendation {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]provider.ID, 0, len(m.metrics))
	for id := range m.metrics {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var out []Recommendation
	for _, id := range ids {
		metrics := m.metrics[id]

		if metrics.AvgResponseTime > m.thresholds.MaxResponseTime {
			out = append(out, Recommendation{
				Provider: id,
				Type:     RecNetwork,
				Description: fmt.Sprintf("average response time %s exceeds the %s threshold",
					metrics.AvgResponseTime.Round(time.Millisecond), m.thresholds.MaxResponseTime),
				SuggestedAction: "check network latency to the provider or reduce request payload sizes",
				ExpectedImpact:  "lower end-to-end request latency",
				Priority:        PriorityHigh,
			})
		}

		if metrics.TotalRequests > 0 && metrics.SuccessRate() < m.thresholds.MinSuccessRate {
			out = append(out, Recommendation{
				Provider: id,
				Type:     RecProviderSelection,
				Description: fmt.Sprintf("success rate %.1f%% is below the %.1f%% threshold",
					metrics.SuccessRate()*100, m.thresholds.MinSuccessRate*100),
				SuggestedAction: "shift traffic to a healthier provider or investigate recurring failures",
				ExpectedImpact:  "fewer failed requests",
				Priority:        PriorityCritical,
			})
		}

		if metrics.MemoryUsageMB > m.thresholds.MaxMemoryUsageMB {
			out = append(out, Recommendation{
				Provider: id,
				Type:     RecMemory,
				Description: fmt.Sprintf("memory usage %dMB exceeds the %dMB threshold",
					metrics.MemoryUsageMB, m.thresholds.MaxMemoryUsageMB),
				SuggestedAction: "unload idle models or shrink the model cache budget",
				ExpectedImpact:  "reduced memory pressure on the host",
				Priority:        PriorityMedium,
			})
		}

		if metrics.ModelLoadingTime > m.thresholds.MaxModelLoadingTime {
			out = append(out, Recommendation{
				Provider: id,
				Type:     RecModelLoading,
				Description: fmt.Sprintf("model loading took %s, above the %s threshold",
					metrics.ModelLoadingTime.Round(time.Millisecond), m.thresholds.MaxModelLoadingTime),
				SuggestedAction: "preload frequently used models or keep them resident",
				ExpectedImpact:  "faster first-token latency after model switches",
				Priority:        PriorityMedium,
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority > out[j].Priority })
	return out
}

// Comparison relates one provider's metrics to the benchmark targets.
// Ratios at or above 1.0 meet the target.
type Comparison struct {
	Provider          provider.ID `json:"provider"`
	ResponseTimeRatio float64     `json:"response_time_ratio"`
	SuccessRateRatio  float64     `json:"success_rate_ratio"`
	ThroughputRatio   float64     `json:"throughput_ratio"`
	MeetsTargets      bool        `json:"meets_targets"`
}

// Score is the weighted composite of the three ratios: response time and
// success rate weigh 0.4 each, throughput 0.2.
func (c Comparison) Score() float64 {
	return 0.4*c.ResponseTimeRatio + 0.4*c.SuccessRateRatio + 0.2*c.ThroughputRatio
}

// BenchmarkReport compares all providers against the configured targets.
type BenchmarkReport struct {
	GeneratedAt  time.Time                  `json:"generated_at"`
	Comparisons  map[provider.ID]Comparison `json:"comparisons"`
	OverallScore float64                    `json:"overall_score"`
}

// Benchmark builds a report over every provider with recorded metrics. The
// overall score is the mean of the per-provider composite scores.
func (m *Monitor) Benchmark() BenchmarkReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	report := BenchmarkReport{
		GeneratedAt: time.Now(),
		Comparisons: make(map[provider.ID]Comparison, len(m.metrics)),
	}

	var totalScore float64
	for id, metrics := range m.metrics {
		c := Comparison{
			Provider:          id,
			ResponseTimeRatio: ratioInverse(m.targets.ResponseTime, metrics.AvgResponseTime),
			SuccessRateRatio:  metrics.SuccessRate() / m.targets.SuccessRate,
			ThroughputRatio:   metrics.Throughput / m.targets.Throughput,
		}
		c.MeetsTargets = c.ResponseTimeRatio >= 1 && c.SuccessRateRatio >= 1 && c.ThroughputRatio >= 1
		report.Comparisons[id] = c
		totalScore += c.Score()
	}
	if len(report.Comparisons) > 0 {
		report.OverallScore = totalScore / float64(len(report.Comparisons))
	}
	return report
}

// ratioInverse scores lower-is-better values: target over actual. A
// provider with no recorded latency is treated as exactly on target.
func ratioInverse(target, actual time.Duration) float64 {
	if actual == 0 {
		return 1
	}
	return float64(target) / float64(actual)
}
