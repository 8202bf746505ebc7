package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-resilience/provider"
)

func newTestMonitor(t *testing.T, probes map[provider.ID]Probe) *Monitor {
	t.Helper()
	registry := NewRegistry()
	for id, p := range probes {
		require.NoError(t, registry.Register(id, p))
	}
	return NewMonitor(registry, nil, zap.NewNop())
}

func repeat(res MockResult, n int) []MockResult {
	out := make([]MockResult, n)
	for i := range out {
		out[i] = res
	}
	return out
}

func TestMonitorRecordUpdates(t *testing.T) {
	ctx := context.Background()
	ollama := provider.Local("ollama")

	t.Run("consecutive counters roll over", func(t *testing.T) {
		script := append(
			repeat(MockResult{Status: Healthy(10*time.Millisecond, 2)}, 2),
			repeat(MockResult{Status: Unhealthy("connection refused", 0)}, 3)...,
		)
		m := newTestMonitor(t, map[provider.ID]Probe{ollama: NewMockProbe(script...)})

		for i := 0; i < 2; i++ {
			_, err := m.ForceCheck(ctx, ollama)
			require.NoError(t, err)
		}
		rec, ok := m.Info(ollama)
		require.True(t, ok)
		assert.Equal(t, 2, rec.ConsecutiveSuccesses)
		assert.Equal(t, 0, rec.ConsecutiveFailures)

		for i := 0; i < 3; i++ {
			_, err := m.ForceCheck(ctx, ollama)
			require.NoError(t, err)
		}
		rec, _ = m.Info(ollama)
		assert.Equal(t, 0, rec.ConsecutiveSuccesses)
		assert.Equal(t, 3, rec.ConsecutiveFailures)
		assert.True(t, rec.IsConsistentlyFailing(3))
		assert.False(t, rec.IsConsistentlyHealthy(1))
	})

	t.Run("degraded counts as success", func(t *testing.T) {
		m := newTestMonitor(t, map[provider.ID]Probe{
			ollama: NewMockProbe(MockResult{Status: Degraded("no models installed", time.Millisecond, 0)}),
		})
		_, err := m.ForceCheck(ctx, ollama)
		require.NoError(t, err)

		rec, _ := m.Info(ollama)
		assert.Equal(t, 1, rec.ConsecutiveSuccesses)
		assert.True(t, m.IsUsable(ollama))
	})

	t.Run("history bounded at ten entries", func(t *testing.T) {
		m := newTestMonitor(t, map[provider.ID]Probe{
			ollama: NewMockProbe(MockResult{Status: Healthy(time.Millisecond, 1)}),
		})
		for i := 0; i < 15; i++ {
			_, err := m.ForceCheck(ctx, ollama)
			require.NoError(t, err)
		}
		rec, _ := m.Info(ollama)
		assert.Len(t, rec.History, 10)
	})

	t.Run("average latency recomputed over window", func(t *testing.T) {
		m := newTestMonitor(t, map[provider.ID]Probe{
			ollama: NewMockProbe(
				MockResult{Status: Healthy(100*time.Millisecond, 1)},
				MockResult{Status: Healthy(200*time.Millisecond, 1)},
				MockResult{Status: Healthy(300*time.Millisecond, 1)},
			),
		})
		for i := 0; i < 3; i++ {
			_, err := m.ForceCheck(ctx, ollama)
			require.NoError(t, err)
		}
		rec, _ := m.Info(ollama)
		assert.Equal(t, 200*time.Millisecond, rec.AvgLatency)
	})

	t.Run("success rate over window", func(t *testing.T) {
		m := newTestMonitor(t, map[provider.ID]Probe{
			ollama: NewMockProbe(
				MockResult{Status: Healthy(time.Millisecond, 1)},
				MockResult{Status: Unhealthy("timeout", 0)},
			),
		})
		_, err := m.ForceCheck(ctx, ollama)
		require.NoError(t, err)
		_, err = m.ForceCheck(ctx, ollama)
		require.NoError(t, err)

		rec, _ := m.Info(ollama)
		assert.InDelta(t, 0.5, rec.SuccessRate(), 1e-9)
	})

	t.Run("probe error recorded as unhealthy", func(t *testing.T) {
		m := newTestMonitor(t, map[provider.ID]Probe{
			ollama: NewMockProbe(MockResult{Err: errors.New("dial tcp: refused")}),
		})
		status, err := m.ForceCheck(ctx, ollama)
		require.NoError(t, err)
		assert.Equal(t, StateUnhealthy, status.State)
		assert.Contains(t, status.Reason, "health check failed")
		assert.False(t, m.IsUsable(ollama))
	})
}

func TestMonitorForceCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown provider", func(t *testing.T) {
		m := newTestMonitor(t, nil)
		_, err := m.ForceCheck(ctx, provider.Local("ghost"))
		assert.ErrorIs(t, err, ErrUnknownProvider)
	})

	t.Run("force check all", func(t *testing.T) {
		a := provider.Local("ollama")
		b := provider.Local("lmstudio")
		m := newTestMonitor(t, map[provider.ID]Probe{
			a: NewMockProbe(MockResult{Status: Healthy(time.Millisecond, 1)}),
			b: NewMockProbe(MockResult{Status: Unhealthy("down", 0)}),
		})
		results := m.ForceCheckAll(ctx)
		require.Len(t, results, 2)
		assert.Equal(t, StateHealthy, results[a].State)
		assert.Equal(t, StateUnhealthy, results[b].State)
	})
}

func TestMonitorSnapshot(t *testing.T) {
	ctx := context.Background()
	healthy := provider.Local("ollama")
	degraded := provider.Local("lmstudio")
	down := provider.Local("vllm")

	m := newTestMonitor(t, map[provider.ID]Probe{
		down:     NewMockProbe(MockResult{Status: Unhealthy("down", 0)}),
		healthy:  NewMockProbe(MockResult{Status: Healthy(time.Millisecond, 1)}),
		degraded: NewMockProbe(MockResult{Status: Degraded("slow response", time.Second, 1)}),
	})
	m.ForceCheckAll(ctx)

	snap := m.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, healthy, snap[0].ID)
	assert.Equal(t, degraded, snap[1].ID)
	assert.Equal(t, down, snap[2].ID)
}

func TestMonitorUnknownProviderNotUsable(t *testing.T) {
	m := newTestMonitor(t, nil)
	assert.False(t, m.IsUsable(provider.Local("never-checked")))
}

func TestMonitorInfoReturnsCopy(t *testing.T) {
	ctx := context.Background()
	ollama := provider.Local("ollama")
	m := newTestMonitor(t, map[provider.ID]Probe{
		ollama: NewMockProbe(MockResult{Status: Healthy(time.Millisecond, 1)}),
	})
	_, err := m.ForceCheck(ctx, ollama)
	require.NoError(t, err)

	rec, ok := m.Info(ollama)
	require.True(t, ok)
	require.Len(t, rec.History, 1)
	rec.History[0].Success = false

	fresh, _ := m.Info(ollama)
	assert.True(t, fresh.History[0].Success)
}

func TestMonitorStartStop(t *testing.T) {
	ollama := provider.Local("ollama")
	probe := NewMockProbe(MockResult{Status: Healthy(time.Millisecond, 1)})
	registry := NewRegistry()
	require.NoError(t, registry.Register(ollama, probe))

	m := NewMonitor(registry, map[provider.ID]ProbeSchedule{
		ollama: {Interval: 10 * time.Millisecond, Timeout: time.Second},
	}, zap.NewNop())

	m.Start(context.Background())
	assert.True(t, m.IsUsable(ollama), "initial check should run synchronously")

	time.Sleep(60 * time.Millisecond)
	m.Stop()

	assert.Greater(t, probe.Checks(), 1, "probe loop should keep checking")
}
