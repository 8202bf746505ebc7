package fallback

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/upb/llm-resilience/config"
	"github.com/upb/llm-resilience/health"
	"github.com/upb/llm-resilience/provider"
)

var (
	ollama   = provider.Local("ollama")
	lmstudio = provider.Local("lmstudio")
)

func newEngine(t *testing.T, cfg config.FallbackConfig, models map[provider.ID][]string) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, models, zap.NewNop())
	require.NoError(t, err)
	return e
}

func gracefulConfig() config.FallbackConfig {
	return config.FallbackConfig{
		Strategy:           "graceful",
		CloudProviders:     []string{"openai", "anthropic"},
		MaxRetries:         3,
		DecisionTimeout:    10 * time.Second,
		AutoReturnToLocal:  true,
		LocalRecoveryDelay: 60 * time.Second,
	}
}

func healthyLocal(id provider.ID) health.ProviderHealth {
	return health.ProviderHealth{ID: id, Status: health.Healthy(50*time.Millisecond, 3)}
}

func degradedLocal(id provider.ID) health.ProviderHealth {
	return health.ProviderHealth{ID: id, Status: health.Degraded("slow response", 3*time.Second, 1)}
}

func unhealthyLocal(id provider.ID) health.ProviderHealth {
	return health.ProviderHealth{ID: id, Status: health.Unhealthy("connection refused", 0)}
}

func TestParseStrategy(t *testing.T) {
	for _, s := range []string{"none", "manual", "immediate", "graceful", "Graceful"} {
		_, err := ParseStrategy(s)
		assert.NoError(t, err, s)
	}
	_, err := ParseStrategy("panic")
	assert.Error(t, err)
}

func TestDecideNone(t *testing.T) {
	cfg := gracefulConfig()
	cfg.Strategy = "none"
	e := newEngine(t, cfg, nil)

	t.Run("uses usable local", func(t *testing.T) {
		d := e.Decide(Context{ModelID: "llama3"}, []health.ProviderHealth{healthyLocal(ollama)})
		assert.Equal(t, DecisionUseLocal, d.Kind)
		assert.Equal(t, ollama, d.Provider)
	})

	t.Run("never falls back to cloud", func(t *testing.T) {
		d := e.Decide(Context{ModelID: "llama3"}, []health.ProviderHealth{unhealthyLocal(ollama), unhealthyLocal(lmstudio)})
		assert.Equal(t, DecisionNoProvider, d.Kind)
		assert.Equal(t, []provider.ID{ollama, lmstudio}, d.Attempted)
	})
}

func TestDecideManual(t *testing.T) {
	manualConfig := func() config.FallbackConfig {
		cfg := gracefulConfig()
		cfg.Strategy = "manual"
		return cfg
	}

	t.Run("usable local used automatically", func(t *testing.T) {
		e := newEngine(t, manualConfig(), nil)
		d := e.Decide(Context{}, []health.ProviderHealth{healthyLocal(ollama)})
		assert.Equal(t, DecisionUseLocal, d.Kind)
		assert.Equal(t, ollama, d.Provider)
	})

	t.Run("degraded local is still usable", func(t *testing.T) {
		e := newEngine(t, manualConfig(), nil)
		d := e.Decide(Context{}, []health.ProviderHealth{degradedLocal(ollama)})
		assert.Equal(t, DecisionUseLocal, d.Kind)
	})

	t.Run("no usable match lists degraded locals and clouds", func(t *testing.T) {
		e := newEngine(t, manualConfig(), map[provider.ID][]string{ollama: {"llama3"}})
		d := e.Decide(Context{ModelID: "gemma"}, []health.ProviderHealth{degradedLocal(ollama)})
		require.Equal(t, DecisionRequireManual, d.Kind)
		assert.Equal(t, []string{"local:ollama", "cloud:openai", "cloud:anthropic"}, d.Options)
	})

	t.Run("unhealthy locals list only clouds", func(t *testing.T) {
		e := newEngine(t, manualConfig(), nil)
		d := e.Decide(Context{}, []health.ProviderHealth{unhealthyLocal(ollama)})
		require.Equal(t, DecisionRequireManual, d.Kind)
		assert.Equal(t, []string{"cloud:openai", "cloud:anthropic"}, d.Options)
	})
}

func TestDecideImmediate(t *testing.T) {
	cfg := gracefulConfig()
	cfg.Strategy = "immediate"

	t.Run("usable local still wins", func(t *testing.T) {
		e := newEngine(t, cfg, nil)
		d := e.Decide(Context{}, []health.ProviderHealth{healthyLocal(ollama)})
		assert.Equal(t, DecisionUseLocal, d.Kind)
		assert.Equal(t, ollama, d.Provider)
	})

	t.Run("cloud immediately when local unusable", func(t *testing.T) {
		e := newEngine(t, cfg, nil)
		d := e.Decide(Context{}, []health.ProviderHealth{unhealthyLocal(ollama)})
		require.Equal(t, DecisionUseCloud, d.Kind)
		assert.Equal(t, provider.Cloud("openai"), d.Provider)
	})

	t.Run("nothing configured nothing served", func(t *testing.T) {
		noCloud := cfg
		noCloud.CloudProviders = nil
		e := newEngine(t, noCloud, nil)
		d := e.Decide(Context{}, []health.ProviderHealth{unhealthyLocal(ollama)})
		require.Equal(t, DecisionNoProvider, d.Kind)
		assert.Equal(t, []provider.ID{ollama}, d.Attempted)
	})
}

func TestDecideGraceful(t *testing.T) {
	e := newEngine(t, gracefulConfig(), nil)

	t.Run("stays local inside retry budget", func(t *testing.T) {
		d := e.Decide(Context{ConsecutiveFailures: 2}, []health.ProviderHealth{healthyLocal(ollama)})
		assert.Equal(t, DecisionUseLocal, d.Kind)
		assert.Equal(t, ollama, d.Provider)
	})

	t.Run("budget boundary is strict", func(t *testing.T) {
		d := e.Decide(Context{ConsecutiveFailures: 3}, []health.ProviderHealth{healthyLocal(ollama)})
		require.Equal(t, DecisionUseCloud, d.Kind)
		assert.Equal(t, provider.Cloud("openai"), d.Provider)
		require.NotNil(t, d.LocalStatus)
		assert.Equal(t, "local providers failed after 3 retries", d.Reason)
	})

	t.Run("no usable local goes to cloud", func(t *testing.T) {
		d := e.Decide(Context{ConsecutiveFailures: 1}, []health.ProviderHealth{unhealthyLocal(ollama)})
		require.Equal(t, DecisionUseCloud, d.Kind)
		assert.Equal(t, "local providers failed after 1 retries", d.Reason)
		require.NotNil(t, d.LocalStatus)
		assert.Equal(t, health.StateUnhealthy, d.LocalStatus.State)
	})

	t.Run("degraded local still counts as usable", func(t *testing.T) {
		d := e.Decide(Context{ConsecutiveFailures: 0}, []health.ProviderHealth{degradedLocal(ollama)})
		assert.Equal(t, DecisionUseLocal, d.Kind)
	})

	t.Run("budget spent with no cloud means no provider", func(t *testing.T) {
		cfg := gracefulConfig()
		cfg.CloudProviders = nil
		noCloud := newEngine(t, cfg, nil)
		d := noCloud.Decide(Context{ConsecutiveFailures: 5}, []health.ProviderHealth{healthyLocal(ollama)})
		require.Equal(t, DecisionNoProvider, d.Kind)
		assert.Equal(t, []provider.ID{ollama}, d.Attempted)
	})

	t.Run("nothing available reports everything attempted", func(t *testing.T) {
		cfg := gracefulConfig()
		cfg.CloudProviders = []string{"groq"}
		restricted := newEngine(t, cfg, nil)
		d := restricted.Decide(Context{RequiresTools: true}, []health.ProviderHealth{unhealthyLocal(ollama)})
		require.Equal(t, DecisionNoProvider, d.Kind)
		assert.Equal(t, []provider.ID{ollama, provider.Cloud("groq")}, d.Attempted)
	})
}

func TestModelMatching(t *testing.T) {
	e := newEngine(t, gracefulConfig(), map[provider.ID][]string{
		ollama: {"llama3", "mistral:latest"},
	})

	tests := []struct {
		model string
		want  DecisionKind
	}{
		{"llama3", DecisionUseLocal},
		{"llama3:latest", DecisionUseLocal},
		{"llama3:8b", DecisionUseLocal},
		{"mistral", DecisionUseLocal},
		{"mistral:latest", DecisionUseLocal},
		{"", DecisionUseLocal},
		{"gemma", DecisionUseCloud},
	}
	for _, tt := range tests {
		t.Run("model "+tt.model, func(t *testing.T) {
			d := e.Decide(Context{ModelID: tt.model}, []health.ProviderHealth{healthyLocal(ollama)})
			assert.Equal(t, tt.want, d.Kind)
		})
	}
}

func TestCloudCapabilityFiltering(t *testing.T) {
	t.Run("unknown vendor excluded when tools required", func(t *testing.T) {
		cfg := gracefulConfig()
		cfg.CloudProviders = []string{"groq", "openai"}
		e := newEngine(t, cfg, nil)
		d := e.Decide(Context{RequiresTools: true}, nil)
		require.Equal(t, DecisionUseCloud, d.Kind)
		assert.Equal(t, provider.Cloud("openai"), d.Provider)
	})

	t.Run("unknown vendor allowed otherwise", func(t *testing.T) {
		cfg := gracefulConfig()
		cfg.CloudProviders = []string{"groq", "openai"}
		e := newEngine(t, cfg, nil)
		d := e.Decide(Context{}, nil)
		require.Equal(t, DecisionUseCloud, d.Kind)
		assert.Equal(t, provider.Cloud("groq"), d.Provider)
	})
}

func TestShouldReturnToLocal(t *testing.T) {
	e := newEngine(t, gracefulConfig(), nil)
	cloud := provider.Cloud("openai")
	healthySnap := []health.ProviderHealth{healthyLocal(ollama)}

	t.Run("returns after recovery delay with healthy local", func(t *testing.T) {
		id, ok := e.ShouldReturnToLocal(cloud, healthySnap, 61*time.Second)
		require.True(t, ok)
		assert.Equal(t, ollama, id)
	})

	t.Run("waits out the recovery delay", func(t *testing.T) {
		_, ok := e.ShouldReturnToLocal(cloud, healthySnap, 59*time.Second)
		assert.False(t, ok)
	})

	t.Run("degraded local does not qualify", func(t *testing.T) {
		_, ok := e.ShouldReturnToLocal(cloud, []health.ProviderHealth{degradedLocal(ollama)}, 2*time.Minute)
		assert.False(t, ok)
	})

	t.Run("only applies while on cloud", func(t *testing.T) {
		_, ok := e.ShouldReturnToLocal(ollama, healthySnap, 2*time.Minute)
		assert.False(t, ok)
	})

	t.Run("disabled by configuration", func(t *testing.T) {
		cfg := gracefulConfig()
		cfg.AutoReturnToLocal = false
		disabled := newEngine(t, cfg, nil)
		_, ok := disabled.ShouldReturnToLocal(cloud, healthySnap, 2*time.Minute)
		assert.False(t, ok)
	})
}
