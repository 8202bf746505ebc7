// Package app wires the resilience engine's components together. It is the
// central dependency injection point for the daemon and for embedders that
// want the whole stack preassembled.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/upb/llm-resilience/config"
	"github.com/upb/llm-resilience/fallback"
	"github.com/upb/llm-resilience/health"
	"github.com/upb/llm-resilience/modelcache"
	"github.com/upb/llm-resilience/performance"
	"github.com/upb/llm-resilience/provider"
	"github.com/upb/llm-resilience/selection"
)

// Dependencies holds every component of the resilience engine.
type Dependencies struct {
	Config *config.Config
	Logger *zap.Logger

	Probes      *health.Registry
	Health      *health.Monitor
	Engine      *fallback.Engine
	Performance *performance.Monitor
	Cache       *modelcache.Cache
	Usage       *modelcache.UsageTracker
	Selector    *selection.Selector
}

// NewDependencies builds the full component graph from configuration.
// Every enabled local provider gets an HTTP probe against its endpoint.
func NewDependencies(cfg *config.Config, logger *zap.Logger) (*Dependencies, error) {
	probes := health.NewRegistry()
	schedules := make(map[provider.ID]health.ProbeSchedule)
	preferredModels := make(map[provider.ID][]string)

	for name, pc := range cfg.Providers {
		if !pc.Enabled {
			logger.Info("provider disabled, skipping probe",
				zap.String("provider", name))
			continue
		}
		id := provider.Local(name)
		probe := health.NewOllamaProbe(pc.Endpoint, pc.HealthCheck.Timeout, logger)
		if err := probes.Register(id, probe); err != nil {
			return nil, fmt.Errorf("registering probe for %s: %w", id, err)
		}
		schedules[id] = health.ProbeSchedule{
			Interval: pc.HealthCheck.Interval,
			Timeout:  pc.HealthCheck.Timeout,
		}
		if len(pc.PreferredModels) > 0 {
			preferredModels[id] = pc.PreferredModels
		}
	}

	monitor := health.NewMonitor(probes, schedules, logger)

	engine, err := fallback.NewEngine(cfg.Fallback, preferredModels, logger)
	if err != nil {
		return nil, fmt.Errorf("building fallback engine: %w", err)
	}

	perf := performance.NewMonitor(cfg.Performance, logger)
	cache := modelcache.New(cfg.Cache.MaxSizeMB*1024*1024, cfg.Cache.TTL, logger)
	usage := modelcache.NewUsageTracker()
	selector := selection.NewSelector(monitor, engine, perf, cache, usage, logger)

	return &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Probes:      probes,
		Health:      monitor,
		Engine:      engine,
		Performance: perf,
		Cache:       cache,
		Usage:       usage,
		Selector:    selector,
	}, nil
}

// Start launches background work: the health monitor's probe loops. The
// initial round of checks completes before Start returns.
func (d *Dependencies) Start(ctx context.Context) {
	d.Health.Start(ctx)
	d.Logger.Info("resilience engine started",
		zap.String("strategy", string(d.Engine.Strategy())),
		zap.Int("providers", len(d.Probes.IDs())))
}

// Shutdown stops background work and flushes the logger.
func (d *Dependencies) Shutdown() {
	d.Health.Stop()
	d.Logger.Info("resilience engine stopped")
	_ = d.Logger.Sync()
}
