package modelcache

import (
	"sort"
	"sync"

	"github.com/upb/llm-resilience/provider"
)

// preloadThreshold is how often a model must have been used before it is
// suggested for preloading.
const preloadThreshold = 5

// maxRelatedModels caps how many suggestions RelatedModels returns.
const maxRelatedModels = 3

// UsageTracker counts model usage to drive preload suggestions. It only
// observes; it never influences cache or selection decisions.
type UsageTracker struct {
	mu     sync.Mutex
	counts map[Key]uint64
}

// NewUsageTracker creates an empty tracker.
func NewUsageTracker() *UsageTracker {
	return &UsageTracker{counts: make(map[Key]uint64)}
}

// RecordUsage notes one use of a model.
func (t *UsageTracker) RecordUsage(key Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counts[key]++
}

// UsageCount returns how often a model has been used.
func (t *UsageTracker) UsageCount(key Key) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[key]
}

// RelatedModels suggests other frequently used models of the same provider
// worth preloading alongside the given one. Only models used more than the
// preload threshold qualify; the top three are returned, most used first,
// ties broken by name for a stable order.
func (t *UsageTracker) RelatedModels(id provider.ID, model string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	type candidate struct {
		model string
		count uint64
	}
	var candidates []candidate
	for key, count := range t.counts {
		if key.Provider != id || key.Model == model || count <= preloadThreshold {
			continue
		}
		candidates = append(candidates, candidate{model: key.Model, count: count})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].model < candidates[j].model
	})

	if len(candidates) > maxRelatedModels {
		candidates = candidates[:maxRelatedModels]
	}
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.model
	}
	return out
}
