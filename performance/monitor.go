// Package performance tracks request measurements per provider and derives
// metrics, optimization recommendations, and benchmark reports from them.
package performance

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-resilience/config"
	"github.com/upb/llm-resilience/provider"
)

// RequestKind classifies what a measurement timed.
type RequestKind string

const (
	KindInference      RequestKind = "inference"
	KindHealthCheck    RequestKind = "health_check"
	KindModelDiscovery RequestKind = "model_discovery"
	KindModelLoading   RequestKind = "model_loading"
)

// Measurement is one timed operation against a provider.
type Measurement struct {
	Provider      provider.ID
	Kind          RequestKind
	Model         string
	Start         time.Time
	End           time.Time
	Success       bool
	ResponseBytes int64
}

// Duration is the elapsed time of the measured operation.
func (m Measurement) Duration() time.Duration {
	return m.End.Sub(m.Start)
}

// Metrics is the accumulated view of one provider. Counters are all-time;
// the average response time is a running mean over every recorded request,
// deliberately distinct from the health monitor's windowed probe average.
type Metrics struct {
	Provider           provider.ID
	TotalRequests      uint64
	SuccessfulRequests uint64
	FailedRequests     uint64
	AvgResponseTime    time.Duration
	MinResponseTime    time.Duration
	MaxResponseTime    time.Duration

	// Throughput approximates requests/sec as total requests over a
	// fixed 60s horizon rather than a sliding window.
	Throughput float64

	// ModelLoadingTime is the duration of the most recent successful
	// model load, zero if none was observed.
	ModelLoadingTime time.Duration

	// MemoryUsageMB is reported by the caller via SetMemoryUsage,
	// zero if never reported.
	MemoryUsageMB int64

	LastUpdated time.Time
}

// SuccessRate is the fraction of requests that succeeded, in [0, 1].
func (m *Metrics) SuccessRate() float64 {
	if m.TotalRequests == 0 {
		return 0
	}
	return float64(m.SuccessfulRequests) / float64(m.TotalRequests)
}

// throughputHorizon is the fixed window the throughput approximation
// divides by.
const throughputHorizon = 60.0

// Monitor accumulates measurements. The raw log is bounded; per-provider
// metrics are running aggregates and never dropped.
type Monitor struct {
	mu              sync.RWMutex
	maxMeasurements int
	thresholds      config.AlertThresholds
	targets         config.BenchmarkTargets
	metrics         map[provider.ID]*Metrics
	measurements    []Measurement
	logger          *zap.Logger
}

// NewMonitor creates a monitor with the given performance configuration.
func NewMonitor(cfg config.PerformanceConfig, logger *zap.Logger) *Monitor {
	return &Monitor{
		maxMeasurements: cfg.MaxMeasurements,
		thresholds:      cfg.Thresholds,
		targets:         cfg.Targets,
		metrics:         make(map[provider.ID]*Metrics),
		logger:          logger,
	}
}

// Record folds one measurement into the log and the provider's metrics.
func (m *Monitor) Record(meas Measurement) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.measurements) >= m.maxMeasurements && m.maxMeasurements > 0 {
		copy(m.measurements, m.measurements[1:])
		m.measurements = m.measurements[:len(m.measurements)-1]
	}
	m.measurements = append(m.measurements, meas)

	metrics, ok := m.metrics[meas.Provider]
	if !ok {
		metrics = &Metrics{Provider: meas.Provider}
		m.metrics[meas.Provider] = metrics
	}

	metrics.TotalRequests++
	if meas.Success {
		metrics.SuccessfulRequests++
	} else {
		metrics.FailedRequests++
	}

	d := meas.Duration()
	if metrics.TotalRequests == 1 {
		metrics.AvgResponseTime = d
		metrics.MinResponseTime = d
		metrics.MaxResponseTime = d
	} else {
		n := time.Duration(metrics.TotalRequests)
		metrics.AvgResponseTime = (metrics.AvgResponseTime*(n-1) + d) / n
		if d < metrics.MinResponseTime {
			metrics.MinResponseTime = d
		}
		if d > metrics.MaxResponseTime {
			metrics.MaxResponseTime = d
		}
	}

	if meas.Kind == KindModelLoading && meas.Success {
		metrics.ModelLoadingTime = d
	}

	metrics.Throughput = float64(metrics.TotalRequests) / throughputHorizon
	metrics.LastUpdated = time.Now()

	m.logger.Debug("measurement recorded",
		zap.String("provider", meas.Provider.String()),
		zap.String("kind", string(meas.Kind)),
		zap.Bool("success", meas.Success),
		zap.Duration("duration", d))
}

// SetMemoryUsage records externally observed memory usage for a provider.
func (m *Monitor) SetMemoryUsage(id provider.ID, usageMB int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	metrics, ok := m.metrics[id]
	if !ok {
		metrics = &Metrics{Provider: id}
		m.metrics[id] = metrics
	}
	metrics.MemoryUsageMB = usageMB
	metrics.LastUpdated = time.Now()
}

// Metrics returns a copy of one provider's metrics.
func (m *Monitor) Metrics(id provider.ID) (Metrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	metrics, ok := m.metrics[id]
	if !ok {
		return Metrics{}, false
	}
	return *metrics, true
}

// AllMetrics returns a copy of every provider's metrics.
func (m *Monitor) AllMetrics() map[provider.ID]Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[provider.ID]Metrics, len(m.metrics))
	for id, metrics := range m.metrics {
		out[id] = *metrics
	}
	return out
}

// MeasurementCount returns how many raw measurements are retained.
func (m *Monitor) MeasurementCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.measurements)
}

// Summary aggregates metrics across all providers.
type Summary struct {
	Providers          int           `json:"providers"`
	TotalRequests      uint64        `json:"total_requests"`
	OverallSuccessRate float64       `json:"overall_success_rate"`
	AvgResponseTime    time.Duration `json:"avg_response_time"`
	MeasurementCount   int           `json:"measurement_count"`
	GeneratedAt        time.Time     `json:"generated_at"`
}

// Summarize produces a cross-provider summary. The average response time is
// the mean of the per-provider averages, not weighted by request volume.
func (m *Monitor) Summarize() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		Providers:        len(m.metrics),
		MeasurementCount: len(m.measurements),
		GeneratedAt:      time.Now(),
	}

	var successful uint64
	var totalAvg time.Duration
	for _, metrics := range m.metrics {
		s.TotalRequests += metrics.TotalRequests
		successful += metrics.SuccessfulRequests
		totalAvg += metrics.AvgResponseTime
	}
	if s.TotalRequests > 0 {
		s.OverallSuccessRate = float64(successful) / float64(s.TotalRequests)
	}
	if len(m.metrics) > 0 {
		s.AvgResponseTime = totalAvg / time.Duration(len(m.metrics))
	}
	return s
}
