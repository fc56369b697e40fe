// Package urlnorm canonicalizes heterogeneous input URLs into the two
// forms the pipeline keys on: the pathful canonical URL (scheme + host +
// path + query) and the base canonical URL (scheme + host).
package urlnorm

import (
	"context"
	"net"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// Resolver performs DNS A-record lookups for TLD probing. *net.Resolver
// satisfies it; tests substitute a map-backed fake.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Normalizer canonicalizes raw input URLs, probing TLDs when the host
// lacks one.
type Normalizer struct {
	resolver Resolver
	tlds     []string
}

// New creates a Normalizer probing the given TLDs in order.
func New(resolver Resolver, probingTLDs []string) *Normalizer {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Normalizer{resolver: resolver, tlds: probingTLDs}
}

// Result carries the canonical forms derived from one input URL.
type Result struct {
	PathfulURL  string
	BaseURL     string
	Status      model.DeterminationStatus
	ProbeWarned bool
}

var (
	hostWhitespaceRe = regexp.MustCompile(`\s+`)
	tldSuffixRe      = regexp.MustCompile(`\.[a-zA-Z]{2,}$`)
	ipLiteralRe      = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)
)

// Normalize canonicalizes a raw input URL string. On determination
// failures the returned Result carries the failure status and empty
// canonical forms; the scraper is never invoked for such rows.
func (n *Normalizer) Normalize(ctx context.Context, raw string) Result {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Result{Status: model.DeterminationEmptyInput}
	}

	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil {
		return Result{Status: model.DeterminationInvalidURL}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Result{Status: model.DeterminationUnsupported}
	}

	host := strings.ToLower(hostWhitespaceRe.ReplaceAllString(u.Hostname(), ""))
	host = strings.TrimPrefix(host, "www.")
	if host == "" || host == "localhost" {
		return Result{Status: model.DeterminationInvalidURL}
	}
	if ipLiteralRe.MatchString(host) && net.ParseIP(host) == nil {
		return Result{Status: model.DeterminationInvalidURL}
	}

	res := Result{Status: model.DeterminationOK}

	if !hasTLD(host) && net.ParseIP(host) == nil {
		probed, ok := n.probeTLD(ctx, host)
		if ok {
			host = probed
		} else {
			zap.L().Warn("urlnorm: TLD probing exhausted, keeping host unchanged",
				zap.String("host", host),
			)
			res.ProbeWarned = true
		}
	}

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	netloc := host
	if port != "" {
		netloc = host + ":" + port
	}

	path := normalizePath(u.Path)
	query := normalizeQuery(u.RawQuery)

	pathful := scheme + "://" + netloc + path
	if query != "" {
		pathful += "?" + query
	}

	res.PathfulURL = pathful
	res.BaseURL = scheme + "://" + netloc
	return res
}

// CanonicalizePathful re-normalizes an already-absolute URL, for landed
// URLs reported by the fetcher and links found during crawling.
func CanonicalizePathful(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.TrimSpace(raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	host = strings.TrimPrefix(host, "www.")

	port := u.Port()
	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}
	netloc := host
	if port != "" {
		netloc = host + ":" + port
	}

	path := normalizePath(u.Path)
	query := normalizeQuery(u.RawQuery)

	out := scheme + "://" + netloc + path
	if query != "" {
		out += "?" + query
	}
	return out
}

// BaseOf reduces a pathful canonical URL to its base canonical form.
func BaseOf(pathful string) string {
	u, err := url.Parse(pathful)
	if err != nil || u.Host == "" {
		return pathful
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host)
}

// commonIndexFiles are dropped from path ends during normalization so that
// /index.html and / land on the same canonical entry.
var commonIndexFiles = []string{
	"index.html", "index.htm", "index.php",
	"default.html", "default.htm", "index.asp", "default.asp",
}

func normalizePath(path string) string {
	for _, index := range commonIndexFiles {
		if strings.HasSuffix(path, "/"+index) {
			path = strings.TrimSuffix(path, index)
			break
		}
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		path = "/"
	}
	return path
}

// ignoredQueryParams never affect page identity.
var ignoredQueryParams = map[string]bool{"fallback": true}

func normalizeQuery(rawQuery string) string {
	if rawQuery == "" {
		return ""
	}
	params := strings.Split(rawQuery, "&")
	var kept []string
	for _, p := range params {
		key := p
		if idx := strings.Index(p, "="); idx >= 0 {
			key = p[:idx]
		}
		if ignoredQueryParams[strings.ToLower(key)] {
			continue
		}
		kept = append(kept, p)
	}
	sort.Strings(kept)
	return strings.Join(kept, "&")
}

// hasTLD reports whether host ends with a dot followed by two or more
// letters.
func hasTLD(host string) bool {
	return tldSuffixRe.MatchString(host)
}

// probeTLD synthesizes host.tld for each configured TLD and resolves it,
// adopting the first that answers.
func (n *Normalizer) probeTLD(ctx context.Context, host string) (string, bool) {
	base := strings.TrimSuffix(host, ".")
	for _, tld := range n.tlds {
		candidate := base + "." + strings.TrimPrefix(tld, ".")
		if _, err := n.resolver.LookupHost(ctx, candidate); err == nil {
			zap.L().Info("urlnorm: TLD probe succeeded",
				zap.String("host", base),
				zap.String("resolved", candidate),
			)
			return candidate, true
		}
	}
	return "", false
}
