// Package selection owns the active-provider state machine. It asks the
// health monitor for a snapshot, lets the fallback engine decide, and
// commits the outcome, handling cloud recovery hysteresis along the way.
package selection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/upb/llm-resilience/fallback"
	"github.com/upb/llm-resilience/health"
	"github.com/upb/llm-resilience/modelcache"
	"github.com/upb/llm-resilience/performance"
	"github.com/upb/llm-resilience/provider"
)

var (
	// ErrManualRequired is returned when the strategy needs the caller to
	// pick a provider. The concrete error carries the options.
	ErrManualRequired = errors.New("manual provider selection required")

	// ErrNoProvider is returned when no provider can serve the request.
	// The concrete error carries the providers that were considered.
	ErrNoProvider = errors.New("no provider available")
)

// ManualSelectionError asks the caller to choose among Options.
type ManualSelectionError struct {
	Reason  string
	Options []string
}

func (e *ManualSelectionError) Error() string {
	return fmt.Sprintf("%s: options [%s]", e.Reason, strings.Join(e.Options, ", "))
}

func (e *ManualSelectionError) Is(target error) bool {
	return target == ErrManualRequired
}

// NoProviderError reports that every considered provider was unusable.
type NoProviderError struct {
	Reason    string
	Attempted []provider.ID
}

func (e *NoProviderError) Error() string {
	attempted := make([]string, len(e.Attempted))
	for i, id := range e.Attempted {
		attempted[i] = id.String()
	}
	return fmt.Sprintf("%s: attempted [%s]", e.Reason, strings.Join(attempted, ", "))
}

func (e *NoProviderError) Is(target error) bool {
	return target == ErrNoProvider
}

// Selection is one committed provider choice.
type Selection struct {
	ID         uuid.UUID     `json:"id"`
	Provider   provider.ID   `json:"provider"`
	Type       provider.Type `json:"type"`
	Reason     string        `json:"reason"`
	IsFallback bool          `json:"is_fallback"`
}

// Selector coordinates the health monitor, fallback engine, performance
// monitor, and model cache. Concurrent SelectProvider calls are safe; when
// they race, the last commit wins.
type Selector struct {
	mu           sync.Mutex
	current      provider.ID
	lastFallback time.Time

	healthMon *health.Monitor
	engine    *fallback.Engine
	perf      *performance.Monitor
	cache     *modelcache.Cache
	usage     *modelcache.UsageTracker
	logger    *zap.Logger
}

// NewSelector wires a selector over its collaborators.
func NewSelector(healthMon *health.Monitor, engine *fallback.Engine, perf *performance.Monitor, cache *modelcache.Cache, usage *modelcache.UsageTracker, logger *zap.Logger) *Selector {
	return &Selector{
		healthMon: healthMon,
		engine:    engine,
		perf:      perf,
		cache:     cache,
		usage:     usage,
		logger:    logger,
	}
}

// SelectProvider picks the provider for the next request. The recovery
// check runs first and bypasses the engine: once the hysteresis allows it,
// traffic returns to a healthy local provider directly. RequireManual and
// NoProvider outcomes surface as typed errors and leave the current
// selection untouched.
func (s *Selector) SelectProvider(reqCtx fallback.Context) (Selection, error) {
	snapshot := s.healthMon.Snapshot()

	s.mu.Lock()
	current := s.current
	lastFallback := s.lastFallback
	s.mu.Unlock()

	// commit stores a non-zero fallback time with every cloud provider, so
	// being on the cloud is the only precondition the recovery check needs.
	if current.IsCloud() {
		if local, ok := s.engine.ShouldReturnToLocal(current, snapshot, time.Since(lastFallback)); ok {
			s.commit(local, time.Time{})
			sel := Selection{
				ID:       uuid.New(),
				Provider: local,
				Type:     provider.TypeLocal,
				Reason:   "local provider recovered",
			}
			s.logger.Info("returned to local provider",
				zap.String("selection_id", sel.ID.String()),
				zap.String("provider", local.String()))
			return sel, nil
		}
	}

	decision := s.engine.Decide(reqCtx, snapshot)
	switch decision.Kind {
	case fallback.DecisionUseLocal:
		s.commit(decision.Provider, time.Time{})
		return Selection{
			ID:       uuid.New(),
			Provider: decision.Provider,
			Type:     provider.TypeLocal,
			Reason:   decision.Reason,
		}, nil

	case fallback.DecisionUseCloud:
		// The recovery clock starts at the moment traffic leaves local;
		// staying on the cloud must not keep pushing it forward.
		fellBack := lastFallback
		if !current.IsCloud() {
			fellBack = time.Now()
		}
		s.commit(decision.Provider, fellBack)
		sel := Selection{
			ID:         uuid.New(),
			Provider:   decision.Provider,
			Type:       provider.TypeCloud,
			Reason:     decision.Reason,
			IsFallback: true,
		}
		s.logger.Info("falling back to cloud provider",
			zap.String("selection_id", sel.ID.String()),
			zap.String("provider", decision.Provider.String()),
			zap.String("reason", decision.Reason))
		return sel, nil

	case fallback.DecisionRequireManual:
		return Selection{}, &ManualSelectionError{Reason: decision.Reason, Options: decision.Options}

	default:
		return Selection{}, &NoProviderError{Reason: decision.Reason, Attempted: decision.Attempted}
	}
}

func (s *Selector) commit(id provider.ID, lastFallback time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = id
	s.lastFallback = lastFallback
}

// CurrentProvider returns the active provider, if any selection has been
// committed yet.
func (s *Selector) CurrentProvider() (provider.ID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.current != ""
}

// RecordSuccess feeds a successful request into the performance monitor and
// counts the model use for preload suggestions.
func (s *Selector) RecordSuccess(id provider.ID, model string, duration time.Duration) {
	end := time.Now()
	s.perf.Record(performance.Measurement{
		Provider: id,
		Kind:     performance.KindInference,
		Model:    model,
		Start:    end.Add(-duration),
		End:      end,
		Success:  true,
	})
	if model != "" {
		s.usage.RecordUsage(modelcache.Key{Provider: id, Model: model})
	}
}

// RecordFailure feeds a failed request into the performance monitor.
func (s *Selector) RecordFailure(id provider.ID, model string, duration time.Duration, err error) {
	end := time.Now()
	s.perf.Record(performance.Measurement{
		Provider: id,
		Kind:     performance.KindInference,
		Model:    model,
		Start:    end.Add(-duration),
		End:      end,
		Success:  false,
	})
	s.logger.Debug("request failure recorded",
		zap.String("provider", id.String()),
		zap.Error(err))
}

// ModelLoad is the outcome of preparing a model on a provider.
type ModelLoad struct {
	Provider provider.ID `json:"provider"`
	Model    string      `json:"model"`

	// Cached reports a cache hit: the model is already resident and no
	// load is needed.
	Cached bool `json:"cached"`

	// Evicted names the models whose space was reclaimed to fit this one.
	// The caller is responsible for unloading them.
	Evicted []string `json:"evicted,omitempty"`

	// Preload suggests frequently co-used models of the same provider
	// worth loading while the provider is warm.
	Preload []string `json:"preload,omitempty"`
}

// LoadModel prepares a model for serving: it checks the cache, reserves
// space on a miss (evicting least recently used models to fit), counts the
// usage, and reports the outcome as a model-loading measurement. When the
// model cannot fit at all, the cache is left untouched and the error is
// returned.
func (s *Selector) LoadModel(id provider.ID, model string, sizeBytes int64) (ModelLoad, error) {
	key := modelcache.Key{Provider: id, Model: model}
	start := time.Now()

	hit, evicted, err := s.cache.GetOrReserve(key, sizeBytes)
	end := time.Now()
	s.perf.Record(performance.Measurement{
		Provider: id,
		Kind:     performance.KindModelLoading,
		Model:    model,
		Start:    start,
		End:      end,
		Success:  err == nil,
	})
	if err != nil {
		return ModelLoad{}, fmt.Errorf("loading model %s: %w", key, err)
	}

	s.usage.RecordUsage(key)
	load := ModelLoad{
		Provider: id,
		Model:    model,
		Cached:   hit,
		Preload:  s.usage.RelatedModels(id, model),
	}
	for _, k := range evicted {
		load.Evicted = append(load.Evicted, k.Model)
	}
	if !hit {
		s.logger.Info("model load reserved",
			zap.String("key", key.String()),
			zap.Int64("size_bytes", sizeBytes),
			zap.Strings("evicted", load.Evicted))
	}
	return load, nil
}

// ForceRefresh re-probes every provider immediately, outside the regular
// schedule, and returns the refreshed snapshot.
func (s *Selector) ForceRefresh(ctx context.Context) ([]health.ProviderHealth, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.healthMon.ForceCheckAll(ctx)
	return s.healthMon.Snapshot(), nil
}

// RecommendedProviders lists providers worth trying for a model: usable
// locals from the current snapshot first, then the configured cloud
// providers in order.
func (s *Selector) RecommendedProviders(modelID string) []provider.ID {
	snapshot := s.healthMon.Snapshot()
	reqCtx := fallback.Context{ModelID: modelID}

	var out []provider.ID
	for _, ph := range snapshot {
		if ph.ID.IsLocal() && ph.Status.IsUsable() && s.engine.SupportsModel(ph.ID, modelID) {
			out = append(out, ph.ID)
		}
	}
	out = append(out, s.engine.CloudProviderIDs(reqCtx)...)
	return out
}
