package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

func httpConfig() config.ScraperConfig {
	return config.ScraperConfig{
		UserAgent:           "test-agent",
		NavigationTimeoutMs: 5000,
		MaxRetries:          0,
		RetryDelaySeconds:   0,
	}
}

func TestHTTPFetcherSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html><body>Kontakt: +49 30 12345678</body></html>"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(httpConfig())
	res := f.Fetch(context.Background(), srv.URL)

	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, 200, res.HTTPStatus)
	assert.Contains(t, res.HTML, "+49 30 12345678")
	assert.Equal(t, srv.URL, res.FinalURL)
}

func TestHTTPFetcherFollowsRedirects(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/landed", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/landed", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>here</body></html>"))
	})

	f := NewHTTPFetcher(httpConfig())
	res := f.Fetch(context.Background(), srv.URL+"/")

	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, srv.URL+"/landed", res.FinalURL)
}

func TestHTTPFetcherStatusMapping(t *testing.T) {
	tests := []struct {
		code int
		want model.ScraperStatus
	}{
		{403, model.StatusAccessDenied},
		{401, model.StatusAccessDenied},
		{404, model.StatusContentNotFound},
		{410, model.StatusContentNotFound},
		{500, model.StatusGenericError},
	}

	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.code)
		}))

		f := NewHTTPFetcher(httpConfig())
		res := f.Fetch(context.Background(), srv.URL)
		assert.Equal(t, tt.want, res.Status, "status code %d", tt.code)
		srv.Close()
	}
}

func TestHTTPFetcherRedirectLoop(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusFound)
	})

	f := NewHTTPFetcher(httpConfig())
	res := f.Fetch(context.Background(), srv.URL+"/")
	assert.Equal(t, model.StatusMaxRedirects, res.Status)
}

func TestHTTPFetcherConnectionRefused(t *testing.T) {
	f := NewHTTPFetcher(httpConfig())
	res := f.Fetch(context.Background(), "http://127.0.0.1:1/")
	assert.Equal(t, model.StatusNetworkError, res.Status)
}

func TestClientRetriesTransient(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	// flakyEngine fails once with a network error, then delegates.
	inner := NewHTTPFetcher(httpConfig())
	engine := &flakyEngine{inner: inner}

	cfg := httpConfig()
	cfg.MaxRetries = 2
	cfg.RetryDelaySeconds = 0
	client := NewClient(engine, nil, cfg)

	res := client.Fetch(context.Background(), srv.URL)
	assert.Equal(t, model.StatusSuccess, res.Status)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 2, engine.calls)
}

type flakyEngine struct {
	inner Fetcher
	calls int
}

func (f *flakyEngine) Fetch(ctx context.Context, pageURL string) Result {
	f.calls++
	if f.calls == 1 {
		return Result{FinalURL: pageURL, Status: model.StatusNetworkError}
	}
	return f.inner.Fetch(ctx, pageURL)
}

func TestClientDoesNotRetryAccessDenied(t *testing.T) {
	engine := &deniedEngine{}
	cfg := httpConfig()
	cfg.MaxRetries = 3
	client := NewClient(engine, nil, cfg)

	res := client.Fetch(context.Background(), "http://example.com/")
	assert.Equal(t, model.StatusAccessDenied, res.Status)
	assert.Equal(t, 1, engine.calls)
}

type deniedEngine struct{ calls int }

func (d *deniedEngine) Fetch(_ context.Context, pageURL string) Result {
	d.calls++
	return Result{FinalURL: pageURL, Status: model.StatusAccessDenied, HTTPStatus: 403}
}

func TestRobotsDisallow(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	robotsFetches := 0
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		robotsFetches++
		_, _ = w.Write([]byte("User-agent: *\nDisallow: /private/\n"))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>ok</html>"))
	})

	robots := NewRobotsCache("*")
	client := NewClient(NewHTTPFetcher(httpConfig()), robots, httpConfig())

	res := client.Fetch(context.Background(), srv.URL+"/private/page")
	assert.Equal(t, model.StatusRobotsDisallowed, res.Status)

	res = client.Fetch(context.Background(), srv.URL+"/public")
	assert.Equal(t, model.StatusSuccess, res.Status)

	// robots.txt is fetched once per host per run.
	assert.Equal(t, 1, robotsFetches)
}

func TestRobotsUnreachableMeansAllowed(t *testing.T) {
	robots := NewRobotsCache("*")
	assert.True(t, robots.Allowed(context.Background(), "http://127.0.0.1:1/anything"))
}

func TestStatusFromHTTP(t *testing.T) {
	assert.Equal(t, model.StatusSuccess, statusFromHTTP(0))
	assert.Equal(t, model.StatusSuccess, statusFromHTTP(200))
	assert.Equal(t, model.StatusSuccess, statusFromHTTP(301))
	assert.Equal(t, model.StatusAccessDenied, statusFromHTTP(403))
	assert.Equal(t, model.StatusContentNotFound, statusFromHTTP(404))
	assert.Equal(t, model.StatusGenericError, statusFromHTTP(500))
}

func TestClassifyBrowserError(t *testing.T) {
	require.Equal(t, model.StatusDNSError,
		classifyBrowserError(errNamed("page load error net::ERR_NAME_NOT_RESOLVED"), context.Background()))
	require.Equal(t, model.StatusNetworkError,
		classifyBrowserError(errNamed("page load error net::ERR_CONNECTION_REFUSED"), context.Background()))
	require.Equal(t, model.StatusMaxRedirects,
		classifyBrowserError(errNamed("page load error net::ERR_TOO_MANY_REDIRECTS"), context.Background()))
	require.Equal(t, model.StatusTimeout,
		classifyBrowserError(errNamed("context deadline exceeded"), context.Background()))
	require.Equal(t, model.StatusGenericError,
		classifyBrowserError(errNamed("something else entirely"), context.Background()))
}

type errNamed string

func (e errNamed) Error() string { return string(e) }
