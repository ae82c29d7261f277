// Package probe implements the HTTP readiness probing the lifecycle engine
// runs against freshly started runtime containers.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/arenabench/arena/pkg/errdefs"
)

// Result represents the outcome of a single probe attempt.
type Result struct {
	Healthy   bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Config controls the probe loop.
type Config struct {
	// Timeout is the per-attempt request timeout.
	Timeout time.Duration

	// Interval is the pause between attempts.
	Interval time.Duration

	// Attempts is the maximum number of probes before giving up.
	Attempts int
}

// DefaultConfig matches the engine contract: 5s per request, 2s between
// requests, 30 attempts (~65s ceiling).
func DefaultConfig() Config {
	return Config{
		Timeout:  5 * time.Second,
		Interval: 2 * time.Second,
		Attempts: 30,
	}
}

// HTTPChecker performs a GET against a fixed URL. Any 2xx response is
// healthy; any error or other status is a miss.
type HTTPChecker struct {
	URL    string
	Client *http.Client
}

// NewHTTPChecker creates a checker for url with the given per-request
// timeout.
func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		URL:    url,
		Client: &http.Client{Timeout: timeout},
	}
}

// Check performs one probe attempt.
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return Result{
			Message:   fmt.Sprintf("request failed: %v", err),
			CheckedAt: start,
			Duration:  time.Since(start),
		}
	}
	defer resp.Body.Close()

	healthy := resp.StatusCode >= 200 && resp.StatusCode < 300
	return Result{
		Healthy:   healthy,
		Message:   fmt.Sprintf("HTTP %d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		CheckedAt: start,
		Duration:  time.Since(start),
	}
}

// WaitHealthy probes url until it answers 2xx, the attempt budget is
// exhausted, or ctx is canceled. It returns the number of attempts made;
// exhaustion returns an error wrapping errdefs.ErrHealth carrying the
// last miss.
func WaitHealthy(ctx context.Context, url string, cfg Config) (int, error) {
	checker := NewHTTPChecker(url, cfg.Timeout)

	var last Result
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt, err
		}

		last = checker.Check(ctx)
		if last.Healthy {
			return attempt, nil
		}

		if attempt < cfg.Attempts {
			select {
			case <-time.After(cfg.Interval):
			case <-ctx.Done():
				return attempt, ctx.Err()
			}
		}
	}

	return cfg.Attempts, fmt.Errorf("%w: %s not healthy after %d attempts (last: %s)",
		errdefs.ErrHealth, url, cfg.Attempts, last.Message)
}
