package pipeline

import (
	"context"
	"encoding/json"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/extractor"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/fetch"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/journey"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/llm"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/outcome"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/scraper"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/store"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/urlnorm"
)

// scriptedEngine serves canned fetch results.
type scriptedEngine struct {
	mu    sync.Mutex
	pages map[string]fetch.Result
	calls map[string]int
}

func (s *scriptedEngine) Fetch(_ context.Context, pageURL string) fetch.Result {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[pageURL]++
	s.mu.Unlock()

	if res, ok := s.pages[pageURL]; ok {
		return res
	}
	return fetch.Result{FinalURL: pageURL, Status: model.StatusContentNotFound, HTTPStatus: 404}
}

func ok(finalURL, html string) fetch.Result {
	return fetch.Result{FinalURL: finalURL, HTML: html, Status: model.StatusSuccess, HTTPStatus: 200}
}

// echoClient answers every prompt by echoing the candidate numbers it
// finds, with per-number verdicts. mutate optionally rewrites the echoed
// number to simulate identity mismatches.
type echoClient struct {
	verdicts map[string][2]string // number → {type, classification}
	mutate   func(number string) string

	mu    sync.Mutex
	calls int
}

var promptNumberRe = regexp.MustCompile(`"number": "([^"]+)"`)

func (e *echoClient) Complete(_ context.Context, prompt string) (string, model.TokenUsage, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	var outs []map[string]string
	for _, m := range promptNumberRe.FindAllStringSubmatch(prompt, -1) {
		number := m[1]
		typ, classification := "Main Line", "Primary"
		if v, ok := e.verdicts[number]; ok {
			typ, classification = v[0], v[1]
		}
		if e.mutate != nil {
			number = e.mutate(number)
		}
		outs = append(outs, map[string]string{
			"number":         number,
			"type":           typ,
			"classification": classification,
		})
	}
	data, _ := json.Marshal(outs)
	return string(data), model.TokenUsage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		Scraper: config.ScraperConfig{
			TargetLinkKeywords:             []string{"contact", "about", "impressum", "kontakt"},
			CriticalPriorityKeywords:       []string{"impressum", "kontakt", "contact"},
			HighPriorityKeywords:           []string{"about", "legal"},
			MaxKeywordPathSegments:         3,
			MaxPagesPerDomain:              20,
			MinScoreToQueue:                40,
			ScoreThresholdForLimitBypass:   80,
			MaxHighPriorityPagesAfterLimit: 5,
			MaxDepthInternalLinks:          1,
			SnippetChars:                   300,
			MaxIdenticalNumbersPerPage:     3,
			EnableDNSErrorFallbacks:        true,
		},
		LLM: config.LLMConfig{
			CandidateChunkSize:         10,
			MaxChunksPerURL:            10,
			MaxRetriesOnNumberMismatch: 1,
		},
		Phone: config.PhoneConfig{
			TargetCountryCodes: []string{"DE", "CH", "AT"},
			DefaultRegionCode:  "DE",
		},
		Pipeline: config.PipelineConfig{MaxConcurrentDomains: 2},
	}
}

func newTestPipeline(t *testing.T, engine fetch.Fetcher, client llm.Client) (*Pipeline, *journey.Tracker) {
	t.Helper()
	cfg := testConfig()

	st := store.NewMemory()
	fetchClient := fetch.NewClient(engine, nil, cfg.Scraper)
	crawler := scraper.NewCrawler(fetchClient, st, cfg.Scraper, t.TempDir(), 25)
	crawler.SetFetchInterval(time.Millisecond)

	regex := extractor.New(cfg.Scraper.SnippetChars, cfg.Scraper.MaxIdenticalNumbersPerPage)

	template, err := llm.LoadPromptTemplate("")
	require.NoError(t, err)
	llmx := llm.NewExtractor(client, template, cfg.LLM, "")

	tracker := journey.NewTracker()
	normalizer := urlnorm.New(nil, nil)

	return New(cfg, normalizer, crawler, regex, llmx, st, tracker, "20260101_120000"), tracker
}

// Happy path with a redirect: the contact page yields one consolidated
// number under the landed canonical base.
func TestRunHappyPathWithRedirect(t *testing.T) {
	engine := &scriptedEngine{pages: map[string]fetch.Result{
		"http://example.com/": ok("https://www.example.com/",
			`<html><body><a href="/contact">Contact</a></body></html>`),
		"https://example.com/contact": ok("https://www.example.com/contact",
			`<html><body>Call us: +49 30 12345678</body></html>`),
	}}
	client := &echoClient{}

	p, _ := newTestPipeline(t, engine, client)
	data, err := p.Run(context.Background(), []model.InputRow{
		{ID: 1, CompanyName: "ExampleCorp", GivenURL: "http://example.com"},
	})
	require.NoError(t, err)

	require.Len(t, data.Rows, 1)
	row := data.Rows[0]
	assert.Equal(t, outcome.ReasonContactExtracted, row.OutcomeReason)
	assert.Equal(t, outcome.FaultNone, row.FaultCategory)
	assert.Equal(t, "https://example.com", row.Mapping.BaseURL)

	// The pre-redirect base was migrated away: one domain only.
	require.Len(t, data.Domains, 1)
	d := data.DomainsByBase["https://example.com"]
	require.NotNil(t, d)
	require.Len(t, d.Eligible, 1)
	assert.Equal(t, "+493012345678", d.Eligible[0].Number)
	assert.Equal(t, "https://example.com/contact", d.Eligible[0].Sources[0].SourceURL)

	assert.Equal(t, outcome.DomainReasonContactExtracted, d.Journey.FinalOutcomeReason)
	assert.Equal(t, 1, data.Metrics.LLMCalls)
	assert.Equal(t, int64(120), data.Metrics.TokenUsage.TotalTokens)
}

// Two rows with distinct pathfuls under one base: the site is crawled
// once at page level, and both rows succeed.
func TestRunDuplicateBaseBothRowsSucceed(t *testing.T) {
	engine := &scriptedEngine{pages: map[string]fetch.Result{
		"https://shop.example/": ok("https://shop.example/",
			`<html><body><a href="/kontakt">Kontakt</a></body></html>`),
		"https://shop.example/kontakt": ok("https://shop.example/kontakt",
			`<html><body>Tel +49 30 12345678</body></html>`),
		"https://shop.example/home": ok("https://shop.example/home",
			`<html><body><a href="/kontakt">Kontakt</a> Welcome</body></html>`),
	}}
	client := &echoClient{}

	p, _ := newTestPipeline(t, engine, client)
	data, err := p.Run(context.Background(), []model.InputRow{
		{ID: 1, CompanyName: "CompanyA", GivenURL: "https://shop.example"},
		{ID: 2, CompanyName: "CompanyB", GivenURL: "https://shop.example/home"},
	})
	require.NoError(t, err)

	require.Len(t, data.Rows, 2)
	assert.Equal(t, outcome.ReasonContactExtracted, data.Rows[0].OutcomeReason)
	assert.Equal(t, outcome.ReasonContactExtracted, data.Rows[1].OutcomeReason)

	// The contact page was fetched exactly once despite two seeds.
	assert.Equal(t, 1, engine.calls["https://shop.example/kontakt"])

	d := data.DomainsByBase["https://shop.example"]
	require.NotNil(t, d)
	assert.ElementsMatch(t, []string{"CompanyA", "CompanyB"}, d.Journey.InputCompanyNames)
	require.Len(t, d.Eligible, 1)
}

// Two rows with the same pathful: the second row observes
// AlreadyProcessed and is classified a canonical duplicate.
func TestRunIdenticalPathfulIsDuplicate(t *testing.T) {
	engine := &scriptedEngine{pages: map[string]fetch.Result{
		"https://shop.example/": ok("https://shop.example/",
			`<html><body>Tel +49 30 12345678 <a href="/kontakt">Kontakt</a></body></html>`),
		"https://shop.example/kontakt": ok("https://shop.example/kontakt",
			`<html><body>Tel +49 30 12345678</body></html>`),
	}}
	client := &echoClient{}

	p, _ := newTestPipeline(t, engine, client)
	data, err := p.Run(context.Background(), []model.InputRow{
		{ID: 1, CompanyName: "CompanyA", GivenURL: "https://shop.example"},
		{ID: 2, CompanyName: "CompanyB", GivenURL: "https://shop.example/"},
	})
	require.NoError(t, err)

	require.Len(t, data.Rows, 2)
	assert.Equal(t, outcome.ReasonContactExtracted, data.Rows[0].OutcomeReason)
	assert.Equal(t, outcome.ReasonCanonicalDuplicate, data.Rows[1].OutcomeReason)
	assert.Equal(t, 1, engine.calls["https://shop.example/"])
}

// A persistently mismatching model yields error-substitute items that
// consolidation filters out.
func TestRunPersistentMismatchEndsNoneRelevant(t *testing.T) {
	engine := &scriptedEngine{pages: map[string]fetch.Result{
		"https://example.com/": ok("https://example.com/",
			`<html><body>Tel +49 30 12345678</body></html>`),
	}}
	client := &echoClient{mutate: func(number string) string { return number + "9" }}

	p, _ := newTestPipeline(t, engine, client)
	data, err := p.Run(context.Background(), []model.InputRow{
		{ID: 1, CompanyName: "X", GivenURL: "https://example.com"},
	})
	require.NoError(t, err)

	require.Len(t, data.Rows, 1)
	assert.Equal(t, outcome.ReasonLLMNoneRelevant, data.Rows[0].OutcomeReason)
	assert.Equal(t, outcome.FaultLLM, data.Rows[0].FaultCategory)

	// Initial call plus one mismatch retry.
	assert.Equal(t, 2, client.calls)
}

func TestRunInvalidURLShortCircuits(t *testing.T) {
	engine := &scriptedEngine{pages: map[string]fetch.Result{}}
	client := &echoClient{}

	p, _ := newTestPipeline(t, engine, client)
	data, err := p.Run(context.Background(), []model.InputRow{
		{ID: 1, CompanyName: "Bad", GivenURL: "ftp://example.com"},
		{ID: 2, CompanyName: "Empty", GivenURL: "   "},
	})
	require.NoError(t, err)

	require.Len(t, data.Rows, 2)
	assert.Equal(t, outcome.ReasonInputUnsupportedScheme, data.Rows[0].OutcomeReason)
	assert.Equal(t, outcome.ReasonInputURLInvalid, data.Rows[1].OutcomeReason)
	assert.Empty(t, engine.calls)
	require.Len(t, data.Failures, 2)
	assert.Equal(t, "URL_Validation", data.Failures[0].Stage)
}

func TestRunScrapeFailureRecorded(t *testing.T) {
	engine := &scriptedEngine{pages: map[string]fetch.Result{
		"https://down.example/": {FinalURL: "https://down.example/", Status: model.StatusDNSError},
	}}
	client := &echoClient{}

	p, _ := newTestPipeline(t, engine, client)
	data, err := p.Run(context.Background(), []model.InputRow{
		{ID: 1, CompanyName: "Down GmbH", GivenURL: "https://down.example"},
	})
	require.NoError(t, err)

	require.Len(t, data.Rows, 1)
	assert.Equal(t, outcome.ReasonAllFailedNetwork, data.Rows[0].OutcomeReason)
	assert.Equal(t, outcome.FaultWebsite, data.Rows[0].FaultCategory)

	require.NotEmpty(t, data.Failures)
	assert.Equal(t, "Scraping", data.Failures[0].Stage)
}

func TestRunNoRegexCandidates(t *testing.T) {
	engine := &scriptedEngine{pages: map[string]fetch.Result{
		"https://quiet.example/": ok("https://quiet.example/",
			`<html><body>We prefer email.</body></html>`),
	}}
	client := &echoClient{}

	p, _ := newTestPipeline(t, engine, client)
	data, err := p.Run(context.Background(), []model.InputRow{
		{ID: 1, CompanyName: "Quiet", GivenURL: "https://quiet.example"},
	})
	require.NoError(t, err)

	assert.Equal(t, outcome.ReasonNoRegexCandidates, data.Rows[0].OutcomeReason)
	assert.Zero(t, client.calls)
}

func TestRunEmptyInput(t *testing.T) {
	engine := &scriptedEngine{pages: map[string]fetch.Result{}}
	client := &echoClient{}

	p, _ := newTestPipeline(t, engine, client)
	data, err := p.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Empty(t, data.Rows)
	assert.Empty(t, data.Domains)
	assert.Zero(t, data.Metrics.TotalInputRows)
}
