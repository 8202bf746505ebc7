// Package health probes providers and keeps a bounded history of results
// per provider, exposing usability snapshots to the fallback engine.
package health

import "time"

// State is the coarse availability of a provider. The numeric order matters:
// snapshots sort Healthy before Degraded before Unhealthy.
type State int

const (
	StateHealthy State = iota
	StateDegraded
	StateUnhealthy
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateDegraded:
		return "degraded"
	case StateUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Status is one classified probe outcome. Info carries optional free-form
// detail from the probe, such as the runtime version a local server reports.
type Status struct {
	State           State
	Reason          string
	Latency         time.Duration
	ModelsAvailable int
	Info            string
}

// Healthy builds a healthy status.
func Healthy(latency time.Duration, modelsAvailable int) Status {
	return Status{State: StateHealthy, Latency: latency, ModelsAvailable: modelsAvailable}
}

// Degraded builds a degraded status. Degraded providers are still usable.
func Degraded(reason string, latency time.Duration, modelsAvailable int) Status {
	return Status{State: StateDegraded, Reason: reason, Latency: latency, ModelsAvailable: modelsAvailable}
}

// Unhealthy builds an unhealthy status.
func Unhealthy(reason string, latency time.Duration) Status {
	return Status{State: StateUnhealthy, Reason: reason, Latency: latency}
}

// IsUsable reports whether a provider with this status can serve requests.
// Degraded counts as usable; only Unhealthy is excluded.
func (s Status) IsUsable() bool {
	return s.State != StateUnhealthy
}
