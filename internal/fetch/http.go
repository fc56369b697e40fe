package fetch

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/html/charset"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// maxRedirects bounds redirect chains before reporting Error_MaxRedirects.
const maxRedirects = 10

// HTTPFetcher fetches pages with plain net/http. It cannot execute
// JavaScript; it serves as the engine when no browser is available and as
// the deterministic engine in tests.
type HTTPFetcher struct {
	client    *http.Client
	userAgent string
}

// NewHTTPFetcher creates an HTTP fetcher with the configured timeouts.
func NewHTTPFetcher(cfg config.ScraperConfig) *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: time.Duration(cfg.NavigationTimeoutMs) * time.Millisecond,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return errTooManyRedirects
				}
				return nil
			},
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent: cfg.UserAgent,
	}
}

var errTooManyRedirects = errors.New("fetch: too many redirects")

// Fetch retrieves pageURL, following redirects and decoding the body to
// UTF-8 based on the declared charset.
func (h *HTTPFetcher) Fetch(ctx context.Context, pageURL string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return Result{FinalURL: pageURL, Status: model.StatusInvalidURL}
	}
	req.Header.Set("User-Agent", h.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := h.client.Do(req)
	if err != nil {
		return Result{FinalURL: pageURL, Status: classifyHTTPError(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	finalURL := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	if status := statusFromHTTP(resp.StatusCode); status != model.StatusSuccess {
		return Result{FinalURL: finalURL, Status: status, HTTPStatus: resp.StatusCode}
	}

	reader, err := charset.NewReader(io.LimitReader(resp.Body, 2<<20), resp.Header.Get("Content-Type"))
	if err != nil {
		return Result{FinalURL: finalURL, Status: model.StatusGenericError, HTTPStatus: resp.StatusCode}
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return Result{FinalURL: finalURL, Status: model.StatusNetworkError, HTTPStatus: resp.StatusCode}
	}

	return Result{
		FinalURL:   finalURL,
		HTML:       string(body),
		Status:     model.StatusSuccess,
		HTTPStatus: resp.StatusCode,
	}
}

func classifyHTTPError(err error) model.ScraperStatus {
	if errors.Is(err, errTooManyRedirects) {
		return model.StatusMaxRedirects
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return model.StatusDNSError
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return model.StatusTimeout
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return model.StatusTimeout
	}

	return model.StatusNetworkError
}
