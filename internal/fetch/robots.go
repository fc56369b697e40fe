package fetch

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// RobotsCache fetches and caches per-host robots.txt policies for one run.
// A host's policy is populated exactly once under a per-host lock; lookups
// afterwards are read-mostly.
type RobotsCache struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	hosts map[string]*hostPolicy
}

type hostPolicy struct {
	once  sync.Once
	group *robotstxt.Group
}

// NewRobotsCache creates a robots policy cache consulting robots.txt with
// the given user agent.
func NewRobotsCache(userAgent string) *RobotsCache {
	return &RobotsCache{
		client:    &http.Client{Timeout: 10 * time.Second},
		userAgent: userAgent,
		hosts:     make(map[string]*hostPolicy),
	}
}

// Allowed reports whether pageURL may be fetched. Unreachable or invalid
// robots.txt means allowed.
func (r *RobotsCache) Allowed(ctx context.Context, pageURL string) bool {
	u, err := url.Parse(pageURL)
	if err != nil || u.Host == "" {
		return true
	}

	r.mu.Lock()
	policy, ok := r.hosts[u.Host]
	if !ok {
		policy = &hostPolicy{}
		r.hosts[u.Host] = policy
	}
	r.mu.Unlock()

	policy.once.Do(func() {
		policy.group = r.fetchPolicy(ctx, u.Scheme, u.Host)
	})

	if policy.group == nil {
		return true
	}
	return policy.group.Test(u.Path)
}

func (r *RobotsCache) fetchPolicy(ctx context.Context, scheme, host string) *robotstxt.Group {
	robotsURL := scheme + "://" + host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		zap.L().Debug("robots: fetch failed, assuming allowed",
			zap.String("url", robotsURL),
			zap.Error(err),
		)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return nil
	}

	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		zap.L().Debug("robots: parse failed, assuming allowed",
			zap.String("url", robotsURL),
			zap.Error(err),
		)
		return nil
	}
	return robots.FindGroup(r.userAgent)
}
