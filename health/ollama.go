package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// slowResponseThreshold is the probe latency above which a reachable Ollama
// instance is classified degraded rather than healthy.
const slowResponseThreshold = 2 * time.Second

// OllamaProbe checks an Ollama server by listing its installed models.
type OllamaProbe struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewOllamaProbe creates a probe against the given base endpoint
// (for example http://localhost:11434). The timeout bounds each check.
func NewOllamaProbe(endpoint string, timeout time.Duration, logger *zap.Logger) *OllamaProbe {
	return &OllamaProbe{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
	} `json:"models"`
}

// Check implements Probe. Transport failures and non-200 responses are
// classified Unhealthy, not returned as errors: the probe ran fine, the
// provider is down.
func (p *OllamaProbe) Check(ctx context.Context) (Status, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/api/tags", nil)
	if err != nil {
		return Status{}, fmt.Errorf("building probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		p.logger.Debug("ollama probe failed",
			zap.String("endpoint", p.endpoint),
			zap.Error(err))
		return Unhealthy(fmt.Sprintf("connection failed: %v", err), latency), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Unhealthy(fmt.Sprintf("unexpected status %d", resp.StatusCode), latency), nil
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return Unhealthy(fmt.Sprintf("malformed response: %v", err), latency), nil
	}

	switch {
	case len(tags.Models) == 0:
		return Degraded("no models installed", latency, 0), nil
	case latency > slowResponseThreshold:
		return Degraded(fmt.Sprintf("slow response (%s)", latency.Round(time.Millisecond)), latency, len(tags.Models)), nil
	default:
		status := Healthy(latency, len(tags.Models))
		status.Info = fmt.Sprintf("%d models installed", len(tags.Models))
		return status, nil
	}
}
