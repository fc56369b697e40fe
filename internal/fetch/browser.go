package fetch

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// BrowserFetcher renders pages in headless Chromium via chromedp. One
// allocator is shared; each fetch opens a fresh tab. A weighted semaphore
// bounds concurrently open tabs, so a worker holds one pool slot per fetch
// and releases it immediately after.
type BrowserFetcher struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	slots       *semaphore.Weighted

	navTimeout  time.Duration
	pageTimeout time.Duration
	idleWait    time.Duration

	closeOnce sync.Once
}

// NewBrowserFetcher launches the shared browser allocator. poolSize bounds
// concurrent tabs.
func NewBrowserFetcher(cfg config.ScraperConfig, poolSize int) *BrowserFetcher {
	if poolSize <= 0 {
		poolSize = 1
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(cfg.UserAgent),
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &BrowserFetcher{
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		slots:       semaphore.NewWeighted(int64(poolSize)),
		navTimeout:  time.Duration(cfg.NavigationTimeoutMs) * time.Millisecond,
		pageTimeout: time.Duration(cfg.PageTimeoutMs) * time.Millisecond,
		idleWait:    time.Duration(cfg.NetworkIdleTimeoutMs) * time.Millisecond,
	}
}

// Close tears down the shared browser.
func (b *BrowserFetcher) Close() {
	b.closeOnce.Do(b.allocCancel)
}

// Fetch navigates to pageURL in a new tab and returns the final landed URL
// after all HTTP and JS redirects, the rendered HTML, and a status.
func (b *BrowserFetcher) Fetch(ctx context.Context, pageURL string) Result {
	if err := b.slots.Acquire(ctx, 1); err != nil {
		return Result{FinalURL: pageURL, Status: model.StatusTimeout}
	}
	defer b.slots.Release(1)

	tabCtx, cancelTab := chromedp.NewContext(b.allocCtx)
	defer cancelTab()

	navCtx, cancelNav := context.WithTimeout(tabCtx, b.navTimeout)
	defer cancelNav()

	// Propagate the caller's cancellation into the tab.
	stop := context.AfterFunc(ctx, cancelNav)
	defer stop()

	// Capture the HTTP status of the main document response.
	var mainStatus int64
	var statusMu sync.Mutex
	chromedp.ListenTarget(navCtx, func(ev any) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		statusMu.Lock()
		if mainStatus == 0 {
			mainStatus = resp.Response.Status
		}
		statusMu.Unlock()
	})

	actions := []chromedp.Action{
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
	}
	if b.idleWait > 0 {
		// Bounded settle wait for late JS redirects and injected content,
		// in place of a true network-idle signal.
		actions = append(actions, chromedp.Sleep(b.idleWait))
	}

	err := chromedp.Run(navCtx, actions...)

	// Page operations (location, DOM serialization) run under their own
	// timeout once navigation settled.
	var html, landed string
	if err == nil {
		pageCtx, cancelPage := context.WithTimeout(navCtx, b.pageTimeout)
		err = chromedp.Run(pageCtx,
			chromedp.Location(&landed),
			chromedp.OuterHTML("html", &html),
		)
		cancelPage()
	}

	statusMu.Lock()
	httpStatus := int(mainStatus)
	statusMu.Unlock()

	if err != nil {
		status := classifyBrowserError(err, ctx)
		zap.L().Debug("fetch: browser navigation failed",
			zap.String("url", pageURL),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return Result{FinalURL: pageURL, Status: status, HTTPStatus: httpStatus}
	}

	if status := statusFromHTTP(httpStatus); status != model.StatusSuccess {
		return Result{FinalURL: landed, Status: status, HTTPStatus: httpStatus}
	}

	if landed == "" {
		landed = pageURL
	}
	return Result{FinalURL: landed, HTML: html, Status: model.StatusSuccess, HTTPStatus: httpStatus}
}

// classifyBrowserError maps Chromium net errors onto scraper statuses.
func classifyBrowserError(err error, callerCtx context.Context) model.ScraperStatus {
	msg := err.Error()
	switch {
	case callerCtx.Err() != nil:
		return model.StatusTimeout
	case strings.Contains(msg, "net::ERR_NAME_NOT_RESOLVED"):
		return model.StatusDNSError
	case strings.Contains(msg, "net::ERR_TOO_MANY_REDIRECTS"):
		return model.StatusMaxRedirects
	case strings.Contains(msg, "net::ERR_CONNECTION_REFUSED"),
		strings.Contains(msg, "net::ERR_CONNECTION_RESET"),
		strings.Contains(msg, "net::ERR_CONNECTION_CLOSED"),
		strings.Contains(msg, "net::ERR_ADDRESS_UNREACHABLE"):
		return model.StatusNetworkError
	case strings.Contains(msg, "context deadline exceeded"),
		strings.Contains(msg, "net::ERR_TIMED_OUT"):
		return model.StatusTimeout
	default:
		return model.StatusGenericError
	}
}

// statusFromHTTP maps an HTTP status code onto a scraper status. A zero
// code (no document response observed) is treated as success since the
// navigation itself succeeded.
func statusFromHTTP(code int) model.ScraperStatus {
	switch {
	case code == 0:
		return model.StatusSuccess
	case code >= 200 && code < 400:
		return model.StatusSuccess
	case code == 401 || code == 403 || code == 407 || code == 451:
		return model.StatusAccessDenied
	case code == 404 || code == 410:
		return model.StatusContentNotFound
	case code >= 400:
		return model.StatusGenericError
	default:
		return model.StatusSuccess
	}
}
