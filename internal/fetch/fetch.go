// Package fetch retrieves single pages through a headless browser engine
// (chromedp) with a plain net/http fallback, honoring robots.txt and the
// configured timeout and retry policy.
package fetch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// Result is the outcome of one fetch attempt.
type Result struct {
	FinalURL   string
	HTML       string
	Status     model.ScraperStatus
	HTTPStatus int
}

// Fetcher fetches one URL and reports the final landed URL, the rendered
// HTML, and a scraper status. Implementations must be safe for concurrent
// use.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) Result
}

// Client wraps an engine with robots.txt checking and transient-failure
// retries. It is the fetch entry point used by the crawler.
type Client struct {
	engine     Fetcher
	robots     *RobotsCache
	maxRetries int
	retryDelay time.Duration
}

// NewClient builds a fetch client from configuration. robots may be nil
// when robots respect is disabled.
func NewClient(engine Fetcher, robots *RobotsCache, cfg config.ScraperConfig) *Client {
	return &Client{
		engine:     engine,
		robots:     robots,
		maxRetries: cfg.MaxRetries,
		retryDelay: time.Duration(cfg.RetryDelaySeconds) * time.Second,
	}
}

// Fetch fetches pageURL, consulting robots policy first and retrying
// transient network failures with a fixed delay.
func (c *Client) Fetch(ctx context.Context, pageURL string) Result {
	if c.robots != nil && !c.robots.Allowed(ctx, pageURL) {
		zap.L().Info("fetch: disallowed by robots.txt", zap.String("url", pageURL))
		return Result{FinalURL: pageURL, Status: model.StatusRobotsDisallowed}
	}

	var res Result
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return Result{FinalURL: pageURL, Status: model.StatusTimeout}
		}

		res = c.engine.Fetch(ctx, pageURL)
		if !retriable(res.Status) {
			return res
		}

		if attempt < c.maxRetries {
			zap.L().Warn("fetch: transient failure, retrying",
				zap.String("url", pageURL),
				zap.String("status", string(res.Status)),
				zap.Int("attempt", attempt+1),
			)
			timer := time.NewTimer(c.retryDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return res
			case <-timer.C:
			}
		}
	}
	return res
}

// retriable statuses are transient network conditions; access denials,
// missing content and robots blocks terminate immediately.
func retriable(s model.ScraperStatus) bool {
	return s == model.StatusNetworkError || s == model.StatusTimeout
}
