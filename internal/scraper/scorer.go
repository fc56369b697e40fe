package scraper

import (
	"net/url"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/urlnorm"
)

// ScoredLink is an internal link considered worth queueing.
type ScoredLink struct {
	URL   string
	Score int
}

// LinkScorer extracts same-host outbound links from a page and scores them
// by tiered keyword rules. Tiers are max-combined: the highest matching
// tier wins.
type LinkScorer struct {
	targetKeywords   []string
	criticalKeywords []string
	highKeywords     []string
	excludePatterns  []string
	maxSegments      int
	minScore         int
}

// NewLinkScorer builds a scorer from scraper configuration.
func NewLinkScorer(cfg config.ScraperConfig) *LinkScorer {
	return &LinkScorer{
		targetKeywords:   lowerAll(cfg.TargetLinkKeywords),
		criticalKeywords: lowerAll(cfg.CriticalPriorityKeywords),
		highKeywords:     lowerAll(cfg.HighPriorityKeywords),
		excludePatterns:  lowerAll(cfg.ExcludeLinkPathPatterns),
		maxSegments:      cfg.MaxKeywordPathSegments,
		minScore:         cfg.MinScoreToQueue,
	}
}

// ScoreLinks parses the HTML of a fetched page and returns candidate
// internal links scoring at or above the queue threshold, ordered by
// score descending with ties broken by shorter then lexicographic URL.
func (s *LinkScorer) ScoreLinks(html, baseURL string) []ScoredLink {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		zap.L().Debug("scorer: html parse failed", zap.String("base", baseURL), zap.Error(err))
		return nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	baseHost := strings.ToLower(strings.TrimPrefix(base.Hostname(), "www."))

	best := make(map[string]int)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}

		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := urlnorm.CanonicalizePathful(base.ResolveReference(ref).String())

		linkURL, err := url.Parse(abs)
		if err != nil {
			return
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return
		}
		if strings.ToLower(strings.TrimPrefix(linkURL.Hostname(), "www.")) != baseHost {
			return
		}

		anchorText := strings.ToLower(strings.TrimSpace(sel.Text()))
		score := s.scoreLink(linkURL, abs, anchorText)
		if score < s.minScore {
			return
		}
		if prev, ok := best[abs]; !ok || score > prev {
			best[abs] = score
		}
	})

	links := make([]ScoredLink, 0, len(best))
	for u, score := range best {
		links = append(links, ScoredLink{URL: u, Score: score})
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Score != links[j].Score {
			return links[i].Score > links[j].Score
		}
		if len(links[i].URL) != len(links[j].URL) {
			return len(links[i].URL) < len(links[j].URL)
		}
		return links[i].URL < links[j].URL
	})
	return links
}

// scoreLink applies the tier rules to one candidate. Returns 0 when the
// link fails the hard-exclusion or initial keyword gate.
func (s *LinkScorer) scoreLink(linkURL *url.URL, absLower, anchorText string) int {
	pathLower := strings.ToLower(linkURL.Path)

	for _, pattern := range s.excludePatterns {
		if pattern != "" && strings.Contains(pathLower, pattern) {
			return 0
		}
	}

	// Initial gate: a general target keyword must occur in the anchor text
	// or the URL.
	hrefLower := strings.ToLower(absLower)
	gate := false
	for _, kw := range s.targetKeywords {
		if strings.Contains(anchorText, kw) || strings.Contains(hrefLower, kw) {
			gate = true
			break
		}
	}
	if !gate {
		return 0
	}

	segments := pathSegments(pathLower)
	numSegments := len(segments)
	score := 0

	// T1: critical keyword as an exact path segment.
	for _, kw := range s.criticalKeywords {
		if containsSegment(segments, kw) {
			score = max(score, 100-s.segmentPenalty(numSegments, 20))
			break
		}
	}

	// T2: high-priority keyword as an exact path segment.
	if score < 90 {
		for _, kw := range s.highKeywords {
			if containsSegment(segments, kw) {
				score = max(score, 90-s.segmentPenalty(numSegments, 20))
				break
			}
		}
	}

	// T3: any priority keyword as a segment, weighted by how early in the
	// path it appears.
	if score < 80 {
		priority := append(append([]string{}, s.criticalKeywords...), s.highKeywords...)
	outer:
		for _, kw := range priority {
			for i, seg := range segments {
				if seg == kw {
					score = max(score, 80-5*i-s.segmentPenalty(numSegments, 15))
					break outer
				}
			}
		}
	}

	// T4: target keyword as a substring of any segment.
	if score < 50 {
		for _, kw := range s.targetKeywords {
			for _, seg := range segments {
				if strings.Contains(seg, kw) {
					score = max(score, 50)
					break
				}
			}
		}
	}

	// T5: target keyword only in the anchor text.
	if score < 40 {
		for _, kw := range s.targetKeywords {
			if strings.Contains(anchorText, kw) {
				score = max(score, 40)
				break
			}
		}
	}

	return score
}

// segmentPenalty is the deduction for paths deeper than the configured
// segment budget, capped per tier.
func (s *LinkScorer) segmentPenalty(numSegments, limit int) int {
	if numSegments <= s.maxSegments {
		return 0
	}
	penalty := (numSegments - s.maxSegments) * 5
	if penalty > limit {
		penalty = limit
	}
	return penalty
}

func pathSegments(path string) []string {
	var segs []string
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		if seg != "" {
			segs = append(segs, seg)
		}
	}
	return segs
}

func containsSegment(segments []string, kw string) bool {
	for _, seg := range segments {
		if seg == kw {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
