// Package scraper implements the per-site crawl: a score-ordered link
// queue with page budgets and a high-priority bypass, link scoring, page
// classification, and cleaned-text persistence.
package scraper

import (
	"container/heap"
	"context"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/fetch"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/urlnorm"
)

// ProcessedClaimer is the shared pathful-processed cache. ClaimPathful
// returns true when the caller is the first to take ownership of the
// pathful URL.
type ProcessedClaimer interface {
	ClaimPathful(pathfulURL string) bool
}

// SiteResult is the outcome of crawling one seed URL and its internal
// links.
type SiteResult struct {
	// SeedURL is the pathful actually crawled; it differs from the input
	// seed when a DNS-error fallback succeeded.
	SeedURL string
	// EntryURL is the canonical landed URL of the seed, empty when the
	// seed never landed.
	EntryURL string
	Pages    []model.ScrapedPage
	// Statuses maps each attempted pathful canonical URL to its status.
	Statuses map[string]model.ScraperStatus
	// Status is the best status across attempted pathfuls.
	Status model.ScraperStatus
}

// Crawler drives fetches for one site at a time through a shared fetch
// client. Safe for concurrent use across distinct sites.
type Crawler struct {
	client  *fetch.Client
	scorer  *LinkScorer
	cache   ProcessedClaimer
	cfg     config.ScraperConfig
	textDir string
	nameLen int

	// politeness delay between fetches within one site
	perSiteRate rate.Limit
}

// NewCrawler creates a crawler writing cleaned page text under textDir.
func NewCrawler(client *fetch.Client, cache ProcessedClaimer, cfg config.ScraperConfig, textDir string, companyNameMaxLen int) *Crawler {
	return &Crawler{
		client:      client,
		scorer:      NewLinkScorer(cfg),
		cache:       cache,
		cfg:         cfg,
		textDir:     textDir,
		nameLen:     companyNameMaxLen,
		perSiteRate: rate.Every(500 * time.Millisecond),
	}
}

// SetFetchInterval overrides the politeness delay between fetches within
// one site.
func (c *Crawler) SetFetchInterval(interval time.Duration) {
	if interval > 0 {
		c.perSiteRate = rate.Every(interval)
	}
}

// CrawlSite crawls the seed pathful URL, applying DNS-error fallbacks to
// the seed when enabled. companyName labels saved text files.
func (c *Crawler) CrawlSite(ctx context.Context, seedPathful, companyName string) *SiteResult {
	result := c.crawlOnce(ctx, seedPathful, companyName)
	if result.Status != model.StatusDNSError || !c.cfg.EnableDNSErrorFallbacks {
		return result
	}

	for _, fallbackSeed := range dnsFallbackSeeds(seedPathful) {
		zap.L().Info("crawler: DNS error on seed, trying fallback",
			zap.String("seed", seedPathful),
			zap.String("fallback", fallbackSeed),
		)
		fbResult := c.crawlOnce(ctx, fallbackSeed, companyName)
		// Merge attempt records so the journey sees every pathful tried.
		for k, v := range result.Statuses {
			if _, ok := fbResult.Statuses[k]; !ok {
				fbResult.Statuses[k] = v
			}
		}
		if fbResult.Status != model.StatusDNSError {
			return fbResult
		}
		result = fbResult
	}
	return result
}

// crawlOnce runs the scoring-priority crawl loop for one seed.
func (c *Crawler) crawlOnce(ctx context.Context, seedPathful, companyName string) *SiteResult {
	result := &SiteResult{
		SeedURL:  seedPathful,
		Statuses: make(map[string]model.ScraperStatus),
	}

	queue := &linkQueue{}
	heap.Init(queue)
	heap.Push(queue, queueItem{url: seedPathful, depth: 0, score: 100})

	queued := map[string]bool{seedPathful: true}
	visited := make(map[string]bool)
	pagesFetched := 0
	bypassFetched := 0

	limiter := rate.NewLimiter(c.perSiteRate, 1)

	for queue.Len() > 0 {
		if ctx.Err() != nil {
			result.recordStatus(seedPathful, model.StatusTimeout)
			break
		}

		item := heap.Pop(queue).(queueItem)

		// Page budget with high-priority bypass.
		if c.cfg.MaxPagesPerDomain > 0 && pagesFetched >= c.cfg.MaxPagesPerDomain {
			if item.score < c.cfg.ScoreThresholdForLimitBypass {
				zap.L().Debug("crawler: budget reached, discarding",
					zap.String("url", item.url),
					zap.Int("score", item.score),
				)
				continue
			}
			if bypassFetched >= c.cfg.MaxHighPriorityPagesAfterLimit {
				continue
			}
		}

		// The pathful-processed cache is consulted before fetching: a hit
		// means another crawl owns this page.
		if c.cache != nil && !c.cache.ClaimPathful(item.url) {
			result.recordStatus(item.url, model.StatusAlreadyProcessed)
			if item.depth == 0 {
				return result
			}
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			result.recordStatus(item.url, model.StatusTimeout)
			break
		}

		res := c.client.Fetch(ctx, item.url)

		if res.Status != model.StatusSuccess {
			result.recordStatus(item.url, res.Status)
			// A failed seed abandons the site; deeper failures are
			// recorded and the crawl continues.
			if item.depth == 0 {
				return result
			}
			continue
		}

		landed := urlnorm.CanonicalizePathful(res.FinalURL)
		result.recordStatus(item.url, model.StatusSuccess)

		if item.depth == 0 && result.EntryURL == "" {
			result.EntryURL = landed
		}

		pagesFetched++
		if c.cfg.MaxPagesPerDomain > 0 && pagesFetched > c.cfg.MaxPagesPerDomain &&
			item.score >= c.cfg.ScoreThresholdForLimitBypass {
			bypassFetched++
		}

		// Redirects are deduplicated on the landed URL, not the requested
		// one.
		if visited[landed] {
			continue
		}
		visited[landed] = true

		if landed != item.url && c.cache != nil && !c.cache.ClaimPathful(landed) {
			result.recordStatus(landed, model.StatusAlreadyProcessed)
			continue
		}

		pageType := ClassifyPage(landed)
		textPath, err := c.saveCleanedText(res.HTML, landed, companyName)
		if err != nil {
			zap.L().Error("crawler: failed to save cleaned text",
				zap.String("url", landed),
				zap.Error(err),
			)
			continue
		}

		result.Pages = append(result.Pages, model.ScrapedPage{
			SourceURL: item.url,
			LandedURL: landed,
			TextPath:  textPath,
			PageType:  pageType,
		})
		result.recordStatus(landed, model.StatusSuccess)

		if item.depth < c.cfg.MaxDepthInternalLinks {
			links := c.scorer.ScoreLinks(res.HTML, landed)
			added := 0
			for _, link := range links {
				if queued[link.URL] || visited[link.URL] {
					continue
				}
				queued[link.URL] = true
				heap.Push(queue, queueItem{url: link.URL, depth: item.depth + 1, score: link.Score})
				added++
			}
			if added > 0 {
				zap.L().Debug("crawler: queued internal links",
					zap.String("from", landed),
					zap.Int("count", added),
				)
			}
		}
	}

	return result
}

func (r *SiteResult) recordStatus(pathful string, status model.ScraperStatus) {
	if prev, ok := r.Statuses[pathful]; ok {
		r.Statuses[pathful] = model.BetterStatus(prev, status)
	} else {
		r.Statuses[pathful] = status
	}
	if r.Status == "" {
		r.Status = status
	} else {
		r.Status = model.BetterStatus(r.Status, status)
	}
}

// saveCleanedText writes the cleaned page text under
// {textDir}/{safe_host}/{company}__{urlname}_cleaned.txt.
func (c *Crawler) saveCleanedText(html, landedURL, companyName string) (string, error) {
	cleaned := CleanHTML(html)

	host := ""
	if u, err := url.Parse(landedURL); err == nil {
		host = u.Hostname()
	}
	dir := filepath.Join(c.textDir, SafeHostDir(host))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := SafeCompanyName(companyName, c.nameLen) + "__" + SafeURLName(landedURL) + "_cleaned.txt"
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(cleaned), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// dnsFallbackSeeds generates alternative seeds for a DNS-failed seed:
// hyphen simplification (tail first, then head), then a .de → .com swap.
func dnsFallbackSeeds(seedPathful string) []string {
	u, err := url.Parse(seedPathful)
	if err != nil || u.Host == "" {
		return nil
	}

	host := u.Hostname()
	var hosts []string

	if idx := strings.Index(host, "-"); idx >= 0 {
		// Registrable label is everything up to the first dot.
		label, rest, found := strings.Cut(host, ".")
		if found && strings.Contains(label, "-") {
			parts := strings.SplitN(label, "-", 2)
			tail := parts[1] + "." + rest
			head := parts[0] + "." + rest
			hosts = append(hosts, tail, head)
		}
	}

	if strings.HasSuffix(host, ".de") {
		hosts = append(hosts, strings.TrimSuffix(host, ".de")+".com")
	}

	seen := map[string]bool{host: true}
	var seeds []string
	for _, h := range hosts {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		alt := *u
		alt.Host = h
		seeds = append(seeds, alt.String())
	}
	return seeds
}

// queueItem is one queued link with its crawl depth and score.
type queueItem struct {
	url   string
	depth int
	score int
}

// linkQueue is a deterministic max-heap: higher score first, then lower
// depth, then shorter URL, then lexicographic.
type linkQueue []queueItem

func (q linkQueue) Len() int { return len(q) }

func (q linkQueue) Less(i, j int) bool {
	if q[i].score != q[j].score {
		return q[i].score > q[j].score
	}
	if q[i].depth != q[j].depth {
		return q[i].depth < q[j].depth
	}
	if len(q[i].url) != len(q[j].url) {
		return len(q[i].url) < len(q[j].url)
	}
	return q[i].url < q[j].url
}

func (q linkQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *linkQueue) Push(x any) { *q = append(*q, x.(queueItem)) }

func (q *linkQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
