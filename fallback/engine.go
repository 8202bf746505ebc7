// Package fallback decides which provider should serve a request based on
// the configured strategy and the current health snapshot. The engine holds
// no mutable state; given the same inputs it always returns the same
// decision.
package fallback

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/upb/llm-resilience/config"
	"github.com/upb/llm-resilience/health"
	"github.com/upb/llm-resilience/provider"
)

// Strategy selects how aggressively the engine moves traffic to the cloud.
type Strategy string

const (
	// StrategyNone never falls back: local providers or nothing.
	StrategyNone Strategy = "none"
	// StrategyManual uses usable locals automatically and otherwise asks
	// the caller to choose.
	StrategyManual Strategy = "manual"
	// StrategyImmediate moves to the cloud as soon as no usable local
	// remains, with no retry budget.
	StrategyImmediate Strategy = "immediate"
	// StrategyGraceful stays local until the retry budget is exhausted.
	StrategyGraceful Strategy = "graceful"
)

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(s)) {
	case StrategyNone, StrategyManual, StrategyImmediate, StrategyGraceful:
		return Strategy(strings.ToLower(s)), nil
	default:
		return "", fmt.Errorf("unknown fallback strategy %q", s)
	}
}

// Context carries the request attributes a decision depends on.
type Context struct {
	ModelID             string
	RequiresStreaming   bool
	RequiresTools       bool
	PreviousProvider    provider.ID
	ConsecutiveFailures int
}

// DecisionKind enumerates the possible outcomes of Decide.
type DecisionKind int

const (
	DecisionUseLocal DecisionKind = iota
	DecisionUseCloud
	DecisionRequireManual
	DecisionNoProvider
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionUseLocal:
		return "use_local"
	case DecisionUseCloud:
		return "use_cloud"
	case DecisionRequireManual:
		return "require_manual"
	case DecisionNoProvider:
		return "no_provider"
	default:
		return "unknown"
	}
}

// Decision is the outcome of one pass through the engine.
type Decision struct {
	Kind     DecisionKind
	Provider provider.ID
	Reason   string

	// LocalStatus carries the best local provider's status when the
	// decision is to use the cloud despite a local being present.
	LocalStatus *health.Status

	// Options lists choices for the caller when manual selection is
	// required, rendered as namespaced provider IDs.
	Options []string

	// Attempted lists the providers considered when none qualified.
	Attempted []provider.ID
}

// Engine evaluates fallback decisions. Construct it once from configuration
// and share it; Decide and ShouldReturnToLocal are safe for concurrent use.
type Engine struct {
	strategy        Strategy
	cloudProviders  []string
	maxRetries      int
	autoReturn      bool
	recoveryDelay   time.Duration
	preferredModels map[provider.ID][]string
	logger          *zap.Logger
}

// NewEngine builds an engine from fallback configuration. preferredModels
// maps each local provider to the models it should be considered for; an
// absent or empty list means the provider serves any model.
func NewEngine(cfg config.FallbackConfig, preferredModels map[provider.ID][]string, logger *zap.Logger) (*Engine, error) {
	strategy, err := ParseStrategy(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	if preferredModels == nil {
		preferredModels = make(map[provider.ID][]string)
	}
	return &Engine{
		strategy:        strategy,
		cloudProviders:  cfg.CloudProviders,
		maxRetries:      cfg.MaxRetries,
		autoReturn:      cfg.AutoReturnToLocal,
		recoveryDelay:   cfg.LocalRecoveryDelay,
		preferredModels: preferredModels,
		logger:          logger,
	}, nil
}

// Strategy returns the configured strategy.
func (e *Engine) Strategy() Strategy {
	return e.strategy
}

// Decide picks a provider for the request. The snapshot is expected in
// monitor order, healthiest first, so the first usable local candidate is
// also the best one.
func (e *Engine) Decide(reqCtx Context, snapshot []health.ProviderHealth) Decision {
	local, localFound := e.bestLocal(reqCtx.ModelID, snapshot)

	var decision Decision
	switch e.strategy {
	case StrategyNone:
		decision = e.decideNone(local, localFound, snapshot)
	case StrategyManual:
		decision = e.decideManual(reqCtx, local, localFound, snapshot)
	case StrategyImmediate:
		decision = e.decideImmediate(reqCtx, local, localFound, snapshot)
	case StrategyGraceful:
		decision = e.decideGraceful(reqCtx, local, localFound, snapshot)
	}

	e.logger.Debug("fallback decision",
		zap.String("strategy", string(e.strategy)),
		zap.String("decision", decision.Kind.String()),
		zap.String("provider", decision.Provider.String()),
		zap.String("model", reqCtx.ModelID),
		zap.Int("consecutive_failures", reqCtx.ConsecutiveFailures))
	return decision
}

func (e *Engine) decideNone(local health.ProviderHealth, localFound bool, snapshot []health.ProviderHealth) Decision {
	if localFound {
		return Decision{
			Kind:     DecisionUseLocal,
			Provider: local.ID,
			Reason:   "local provider available",
		}
	}
	return Decision{
		Kind:      DecisionNoProvider,
		Reason:    "no usable local provider and fallback is disabled",
		Attempted: localIDs(snapshot),
	}
}

func (e *Engine) decideManual(reqCtx Context, local health.ProviderHealth, localFound bool, snapshot []health.ProviderHealth) Decision {
	if localFound {
		return Decision{
			Kind:     DecisionUseLocal,
			Provider: local.ID,
			Reason:   "usable local provider available",
		}
	}

	// No usable match: offer degraded locals alongside the configured
	// clouds and let the caller choose.
	options := make([]string, 0, len(snapshot)+len(e.cloudProviders))
	for _, ph := range snapshot {
		if ph.ID.IsLocal() && ph.Status.State == health.StateDegraded {
			options = append(options, ph.ID.String())
		}
	}
	for _, name := range e.cloudProviders {
		options = append(options, provider.Cloud(name).String())
	}
	return Decision{
		Kind:    DecisionRequireManual,
		Reason:  "no usable local provider, manual selection required",
		Options: options,
	}
}

func (e *Engine) decideImmediate(reqCtx Context, local health.ProviderHealth, localFound bool, snapshot []health.ProviderHealth) Decision {
	if localFound {
		return Decision{
			Kind:     DecisionUseLocal,
			Provider: local.ID,
			Reason:   "usable local provider available",
		}
	}
	if cloud, ok := e.selectCloud(reqCtx); ok {
		return Decision{
			Kind:     DecisionUseCloud,
			Provider: cloud,
			Reason:   "no usable local provider, immediate cloud fallback",
		}
	}
	return Decision{
		Kind:      DecisionNoProvider,
		Reason:    "no usable local provider and no cloud provider qualifies",
		Attempted: e.attempted(snapshot),
	}
}

func (e *Engine) decideGraceful(reqCtx Context, local health.ProviderHealth, localFound bool, snapshot []health.ProviderHealth) Decision {
	if localFound && reqCtx.ConsecutiveFailures < e.maxRetries {
		return Decision{
			Kind:     DecisionUseLocal,
			Provider: local.ID,
			Reason: fmt.Sprintf("local provider within retry budget (%d/%d failures)",
				reqCtx.ConsecutiveFailures, e.maxRetries),
		}
	}

	if cloud, ok := e.selectCloud(reqCtx); ok {
		d := Decision{
			Kind:     DecisionUseCloud,
			Provider: cloud,
			Reason:   fmt.Sprintf("local providers failed after %d retries", reqCtx.ConsecutiveFailures),
		}
		if localFound {
			status := local.Status
			d.LocalStatus = &status
		} else if first, ok := firstLocal(snapshot); ok {
			status := first.Status
			d.LocalStatus = &status
		}
		return d
	}
	return Decision{
		Kind:      DecisionNoProvider,
		Reason:    "no usable local provider and no cloud provider qualifies",
		Attempted: e.attempted(snapshot),
	}
}

// ShouldReturnToLocal checks the recovery hysteresis: traffic moves back
// from the cloud only after the recovery delay has elapsed and a local
// provider is fully healthy, not merely degraded.
func (e *Engine) ShouldReturnToLocal(current provider.ID, snapshot []health.ProviderHealth, elapsed time.Duration) (provider.ID, bool) {
	if !e.autoReturn || !current.IsCloud() || elapsed < e.recoveryDelay {
		return "", false
	}
	for _, ph := range snapshot {
		if ph.ID.IsLocal() && ph.Status.State == health.StateHealthy {
			e.logger.Info("local provider recovered, returning from cloud",
				zap.String("from", current.String()),
				zap.String("to", ph.ID.String()),
				zap.Duration("elapsed", elapsed))
			return ph.ID, true
		}
	}
	return "", false
}

// bestLocal returns the healthiest usable local provider that can serve the
// model. The snapshot is already ordered healthiest first.
func (e *Engine) bestLocal(modelID string, snapshot []health.ProviderHealth) (health.ProviderHealth, bool) {
	for _, ph := range snapshot {
		if ph.ID.IsLocal() && ph.Status.IsUsable() && e.supportsModel(ph.ID, modelID) {
			return ph, true
		}
	}
	return health.ProviderHealth{}, false
}

// supportsModel reports whether a local provider is configured to serve the
// model. An empty preferred list means the provider serves anything. Names
// match exactly or by prefix once a ":latest" tag is stripped, so
// "llama3:latest" matches a preference for "llama3".
func (e *Engine) supportsModel(id provider.ID, modelID string) bool {
	prefs := e.preferredModels[id]
	if modelID == "" || len(prefs) == 0 {
		return true
	}
	model := strings.TrimSuffix(modelID, ":latest")
	for _, pref := range prefs {
		p := strings.TrimSuffix(pref, ":latest")
		if model == p || strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}

// selectCloud picks the first configured cloud provider whose declared
// capabilities satisfy the request. Unrecognized vendors are assumed
// capable unless the request needs tool calling.
func (e *Engine) selectCloud(reqCtx Context) (provider.ID, bool) {
	if ids := e.CloudProviderIDs(reqCtx); len(ids) > 0 {
		return ids[0], true
	}
	return "", false
}

// SupportsModel reports whether a local provider is configured for the
// model, using the same matching rules Decide applies.
func (e *Engine) SupportsModel(id provider.ID, modelID string) bool {
	return e.supportsModel(id, modelID)
}

// CloudProviderIDs returns the configured cloud providers that satisfy the
// request's feature needs, in configured order.
func (e *Engine) CloudProviderIDs(reqCtx Context) []provider.ID {
	var out []provider.ID
	for _, name := range e.cloudProviders {
		caps, known := provider.CloudCapabilities(name)
		if known {
			if reqCtx.RequiresTools && !caps.Tools {
				continue
			}
			if reqCtx.RequiresStreaming && !caps.Streaming {
				continue
			}
		} else if reqCtx.RequiresTools {
			continue
		}
		out = append(out, provider.Cloud(name))
	}
	return out
}

func (e *Engine) attempted(snapshot []health.ProviderHealth) []provider.ID {
	out := localIDs(snapshot)
	for _, name := range e.cloudProviders {
		out = append(out, provider.Cloud(name))
	}
	return out
}

// firstLocal returns the healthiest local provider in the snapshot, usable
// or not, so cloud decisions can report what the local side looked like.
func firstLocal(snapshot []health.ProviderHealth) (health.ProviderHealth, bool) {
	for _, ph := range snapshot {
		if ph.ID.IsLocal() {
			return ph, true
		}
	}
	return health.ProviderHealth{}, false
}

func localIDs(snapshot []health.ProviderHealth) []provider.ID {
	out := make([]provider.ID, 0, len(snapshot))
	for _, ph := range snapshot {
		if ph.ID.IsLocal() {
			out = append(out, ph.ID)
		}
	}
	return out
}
