package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/upb/llm-resilience/provider"
)

var (
	// ErrUnknownProvider is returned when an operation names a provider
	// that has no registered probe.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrProbeAlreadyRegistered is returned when a probe is registered
	// twice for the same provider.
	ErrProbeAlreadyRegistered = errors.New("probe already registered")
)

// Probe checks the availability of a single provider. An error return means
// the probe mechanism itself failed; the monitor records it as an unhealthy
// observation. Probes classify reachable-but-impaired providers themselves
// by returning a Degraded or Unhealthy status with a nil error.
type Probe interface {
	Check(ctx context.Context) (Status, error)
}

// Registry holds the probes the monitor schedules, keyed by provider ID.
type Registry struct {
	mu     sync.RWMutex
	probes map[provider.ID]Probe
}

// NewRegistry creates an empty probe registry.
func NewRegistry() *Registry {
	return &Registry{probes: make(map[provider.ID]Probe)}
}

// Register adds a probe for a provider.
func (r *Registry) Register(id provider.ID, p Probe) error {
	if p == nil {
		return fmt.Errorf("nil probe for %s", id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.probes[id]; exists {
		return fmt.Errorf("%w: %s", ErrProbeAlreadyRegistered, id)
	}
	r.probes[id] = p
	return nil
}

// Get returns the probe registered for a provider.
func (r *Registry) Get(id provider.ID) (Probe, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.probes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, id)
	}
	return p, nil
}

// IDs returns the registered provider IDs in sorted order.
func (r *Registry) IDs() []provider.ID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]provider.ID, 0, len(r.probes))
	for id := range r.probes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// MockProbe is a scripted probe for tests and local experiments. Each Check
// consumes the next scripted result; the last one repeats once the script
// runs out.
type MockProbe struct {
	mu     sync.Mutex
	script []MockResult
	pos    int
	checks int
}

// MockResult is one scripted probe outcome.
type MockResult struct {
	Status Status
	Err    error
}

// NewMockProbe creates a probe that replays the given results in order.
func NewMockProbe(script ...MockResult) *MockProbe {
	if len(script) == 0 {
		script = []MockResult{{Status: Healthy(0, 1)}}
	}
	return &MockProbe{script: script}
}

// Check implements Probe.
func (m *MockProbe) Check(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res := m.script[m.pos]
	if m.pos < len(m.script)-1 {
		m.pos++
	}
	m.checks++
	return res.Status, res.Err
}

// Checks returns how many times the probe has run.
func (m *MockProbe) Checks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checks
}
