package harvester

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/reviewdeck/harvester/internal/metrics"
	"github.com/reviewdeck/harvester/models"
)

// classifierClient talks to the external review classifier. Calls are
// synchronous batch requests; a semaphore caps how many run at once so a
// burst of page fetches cannot overload the model server.
type classifierClient struct {
	baseURL string
	model   string
	client  *http.Client
	sem     chan struct{}
}

func newClassifierClient(baseURL, model string, timeout time.Duration, maxConcurrent int) *classifierClient {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &classifierClient{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
		sem:     make(chan struct{}, maxConcurrent),
	}
}

// classify sends one batch and returns one verdict per item, in item order
func (c *classifierClient) classify(ctx context.Context, items []models.ClassifyItem) ([]models.Verdict, error) {
	if len(items) == 0 {
		return nil, nil
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	defer func() {
		metrics.ClassifyDuration.Observe(time.Since(start).Seconds())
	}()

	payload, err := json.Marshal(models.ClassifyRequest{Model: c.model, Items: items})
	if err != nil {
		return nil, fmt.Errorf("failed to encode classify request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/classify", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to build classify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.ClassifierCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.ClassifierCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("classifier returned status %d", resp.StatusCode)
	}

	var parsed models.ClassifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		metrics.ClassifierCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to decode classify response: %w", err)
	}
	if len(parsed.Results) != len(items) {
		metrics.ClassifierCalls.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("classifier returned %d results for %d items", len(parsed.Results), len(items))
	}

	metrics.ClassifierCalls.WithLabelValues("ok").Inc()
	return parsed.Results, nil
}
