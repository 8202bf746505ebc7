package health

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-resilience/provider"
)

// historyLimit bounds the per-provider check history. Older entries are
// dropped as new ones arrive.
const historyLimit = 10

// Default probe schedule for providers without explicit configuration.
const (
	DefaultProbeInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// ProbeSchedule is the per-provider check cadence.
type ProbeSchedule struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (s ProbeSchedule) withDefaults() ProbeSchedule {
	if s.Interval <= 0 {
		s.Interval = DefaultProbeInterval
	}
	if s.Timeout <= 0 {
		s.Timeout = DefaultProbeTimeout
	}
	return s
}

// CheckResult is one observation in a provider's history.
type CheckResult struct {
	Timestamp time.Time
	Success   bool
	Latency   time.Duration
	Error     string
}

// Record is the accumulated health state of one provider.
type Record struct {
	Status               Status
	LastChecked          time.Time
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	History              []CheckResult
	AvgLatency           time.Duration
}

// SuccessRate is the fraction of successful checks in the current history
// window. It is 0 when no checks have run.
func (r *Record) SuccessRate() float64 {
	if len(r.History) == 0 {
		return 0
	}
	ok := 0
	for _, c := range r.History {
		if c.Success {
			ok++
		}
	}
	return float64(ok) / float64(len(r.History))
}

// IsConsistentlyFailing reports whether the provider has failed at least
// threshold checks in a row.
func (r *Record) IsConsistentlyFailing(threshold int) bool {
	return r.ConsecutiveFailures >= threshold
}

// IsConsistentlyHealthy reports whether the provider has succeeded at least
// threshold checks in a row.
func (r *Record) IsConsistentlyHealthy(threshold int) bool {
	return r.ConsecutiveSuccesses >= threshold
}

func (r *Record) clone() Record {
	out := *r
	out.History = make([]CheckResult, len(r.History))
	copy(out.History, r.History)
	return out
}

// ProviderHealth pairs a provider with its current status in a snapshot.
type ProviderHealth struct {
	ID     provider.ID
	Status Status
}

// Monitor schedules probes and maintains per-provider health records.
// Probes run outside the monitor's lock; only the bookkeeping that follows
// a check is serialized.
type Monitor struct {
	mu        sync.RWMutex
	records   map[provider.ID]*Record
	registry  *Registry
	schedules map[provider.ID]ProbeSchedule
	logger    *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMonitor creates a monitor over the given probe registry. schedules may
// be nil; providers without an entry use the default cadence.
func NewMonitor(registry *Registry, schedules map[provider.ID]ProbeSchedule, logger *zap.Logger) *Monitor {
	if schedules == nil {
		schedules = make(map[provider.ID]ProbeSchedule)
	}
	return &Monitor{
		records:   make(map[provider.ID]*Record),
		registry:  registry,
		schedules: schedules,
		logger:    logger,
	}
}

// Start runs an immediate check of every registered provider, then launches
// one probe loop per provider. It returns after the initial checks complete.
func (m *Monitor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for _, id := range m.registry.IDs() {
		schedule := m.scheduleFor(id)
		if _, err := m.check(runCtx, id, schedule.Timeout); err != nil {
			m.logger.Warn("initial health check failed",
				zap.String("provider", id.String()),
				zap.Error(err))
		}

		m.wg.Add(1)
		go m.probeLoop(runCtx, id, schedule)
	}

	m.logger.Info("health monitor started",
		zap.Int("providers", len(m.registry.IDs())))
}

// Stop cancels all probe loops and waits for them to exit.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("health monitor stopped")
}

func (m *Monitor) probeLoop(ctx context.Context, id provider.ID, schedule ProbeSchedule) {
	defer m.wg.Done()
	ticker := time.NewTicker(schedule.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.check(ctx, id, schedule.Timeout); err != nil {
				m.logger.Warn("health check error",
					zap.String("provider", id.String()),
					zap.Error(err))
			}
		}
	}
}

func (m *Monitor) scheduleFor(id provider.ID) ProbeSchedule {
	s, ok := m.schedules[id]
	if !ok {
		return ProbeSchedule{}.withDefaults()
	}
	return s.withDefaults()
}

// check runs one probe without holding the monitor lock, then folds the
// outcome into the provider's record.
func (m *Monitor) check(ctx context.Context, id provider.ID, timeout time.Duration) (Status, error) {
	probe, err := m.registry.Get(id)
	if err != nil {
		return Status{}, err
	}

	checkCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	status, probeErr := probe.Check(checkCtx)
	latency := time.Since(start)
	if probeErr != nil {
		status = Unhealthy(fmt.Sprintf("health check failed: %v", probeErr), latency)
	}

	m.record(id, status)
	return status, nil
}

// record applies one observation to a provider's record: counters roll,
// history is appended and trimmed to the window, and the windowed average
// latency is recomputed.
func (m *Monitor) record(id provider.ID, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		rec = &Record{}
		m.records[id] = rec
	}

	success := status.IsUsable()
	if success {
		rec.ConsecutiveSuccesses++
		rec.ConsecutiveFailures = 0
	} else {
		rec.ConsecutiveFailures++
		rec.ConsecutiveSuccesses = 0
	}

	now := time.Now()
	rec.History = append(rec.History, CheckResult{
		Timestamp: now,
		Success:   success,
		Latency:   status.Latency,
		Error:     status.Reason,
	})
	if len(rec.History) > historyLimit {
		rec.History = rec.History[len(rec.History)-historyLimit:]
	}

	var total time.Duration
	for _, c := range rec.History {
		total += c.Latency
	}
	rec.AvgLatency = total / time.Duration(len(rec.History))

	rec.Status = status
	rec.LastChecked = now

	if !success {
		m.logger.Warn("provider unhealthy",
			zap.String("provider", id.String()),
			zap.String("reason", status.Reason),
			zap.Int("consecutive_failures", rec.ConsecutiveFailures))
	} else {
		m.logger.Debug("provider check ok",
			zap.String("provider", id.String()),
			zap.String("state", status.State.String()),
			zap.Duration("latency", status.Latency))
	}
}

// Snapshot returns the current status of every tracked provider, ordered
// healthiest first and by ID within the same state.
func (m *Monitor) Snapshot() []ProviderHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ProviderHealth, 0, len(m.records))
	for id, rec := range m.records {
		out = append(out, ProviderHealth{ID: id, Status: rec.Status})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Status.State != out[j].Status.State {
			return out[i].Status.State < out[j].Status.State
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ForceCheck probes one provider immediately, outside its schedule. It
// returns ErrUnknownProvider when no probe is registered for the ID.
func (m *Monitor) ForceCheck(ctx context.Context, id provider.ID) (Status, error) {
	return m.check(ctx, id, m.scheduleFor(id).Timeout)
}

// ForceCheckAll probes every registered provider immediately and returns
// the resulting status per provider.
func (m *Monitor) ForceCheckAll(ctx context.Context) map[provider.ID]Status {
	out := make(map[provider.ID]Status)
	for _, id := range m.registry.IDs() {
		status, err := m.check(ctx, id, m.scheduleFor(id).Timeout)
		if err != nil {
			status = Unhealthy(fmt.Sprintf("check failed: %v", err), 0)
		}
		out[id] = status
	}
	return out
}

// IsUsable reports whether a provider can serve requests. Providers that
// have never been checked are not usable.
func (m *Monitor) IsUsable(id provider.ID) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	return ok && rec.Status.IsUsable()
}

// Info returns a copy of the full health record for a provider.
func (m *Monitor) Info(id provider.ID) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}
