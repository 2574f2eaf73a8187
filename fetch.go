package harvester

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/reviewdeck/harvester/internal/metrics"
	"github.com/reviewdeck/harvester/models"
)

// maxResponseBytes caps how much of a page body is read
const maxResponseBytes = 10 * 1024 * 1024

// hostLimiter returns the politeness limiter for a host, creating it on first use
func (h *Harvester) hostLimiter(host string) *rate.Limiter {
	h.limiterMu.Lock()
	defer h.limiterMu.Unlock()

	if lim, ok := h.limiters[host]; ok {
		return lim
	}
	lim := rate.NewLimiter(rate.Limit(h.config.HostRPS), h.config.HostBurst)
	h.limiters[host] = lim
	return lim
}

// fetchPage issues a plain HTTP GET for a URL. Transient failures (network
// errors, 429, 5xx) are retried with exponential backoff up to
// Config.FetchRetries extra attempts. The result carries the error instead
// of returning it so per-source tasks can degrade without branching.
func (h *Harvester) fetchPage(ctx context.Context, targetURL string) models.FetchResult {
	result := models.FetchResult{URL: targetURL}

	parsed, err := url.Parse(targetURL)
	if err != nil {
		result.Err = fmt.Errorf("invalid URL: %w", err)
		return result
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		result.Err = fmt.Errorf("URL must be http or https")
		return result
	}

	start := time.Now()
	defer func() {
		metrics.FetchDuration.WithLabelValues("false").Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	for attempt := 0; attempt <= h.config.FetchRetries; attempt++ {
		if attempt > 0 {
			delay := h.config.RetryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				result.Err = ctx.Err()
				return result
			}
		}

		if err := h.hostLimiter(parsed.Host).Wait(ctx); err != nil {
			result.Err = err
			return result
		}

		body, status, err := h.doFetch(ctx, targetURL)
		if err != nil {
			lastErr = err
			continue
		}
		if shouldRetryStatus(status) {
			lastErr = fmt.Errorf("HTTP error: %d", status)
			continue
		}
		if status != http.StatusOK {
			result.Err = fmt.Errorf("HTTP error: %d", status)
			return result
		}

		result.HTML = body
		return result
	}

	result.Err = lastErr
	return result
}

// doFetch performs one GET attempt and returns the body and status code
func (h *Harvester) doFetch(ctx context.Context, targetURL string) (string, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, targetURL, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", h.config.UserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}

	return string(body), resp.StatusCode, nil
}

// shouldRetryStatus reports whether a status code is worth another attempt
func shouldRetryStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}
