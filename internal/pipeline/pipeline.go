// Package pipeline orchestrates the two-pass run: Pass 1 gathers raw data
// once per canonical site (crawl, regex extraction, model extraction,
// consolidation); Pass 2 joins the results back onto input rows and
// assembles the report data.
package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/consolidate"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/extractor"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/journey"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/llm"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/outcome"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/report"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/scraper"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/store"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/urlnorm"
)

// Pipeline wires the run-scoped components together. All shared state
// (caches, journeys, buffers) is owned here and handed to components as
// explicit parameters.
type Pipeline struct {
	cfg        *config.Config
	normalizer *urlnorm.Normalizer
	crawler    *scraper.Crawler
	regex      *extractor.Extractor
	llmx       *llm.Extractor
	st         store.Store
	tracker    *journey.Tracker

	runID string

	mu           sync.Mutex
	rowStates    map[int]*rowState
	candidates   map[string][]model.PhoneCandidateItem // keyed by final base
	hints        map[string][]string                   // target country hints per base
	consolidated map[string][]model.ConsolidatedNumber
	failures     []report.FailureEntry
	metrics      report.Metrics
}

// rowState is the per-row working record of Pass 1.
type rowState struct {
	row     model.InputRow
	mapping model.CanonicalMapping
	// claimLost marks a row whose initial pathful was already owned by
	// another row when its turn came.
	claimLost bool
}

// New assembles a pipeline from its components.
func New(cfg *config.Config, normalizer *urlnorm.Normalizer, crawler *scraper.Crawler, regex *extractor.Extractor, llmx *llm.Extractor, st store.Store, tracker *journey.Tracker, runID string) *Pipeline {
	return &Pipeline{
		cfg:          cfg,
		normalizer:   normalizer,
		crawler:      crawler,
		regex:        regex,
		llmx:         llmx,
		st:           st,
		tracker:      tracker,
		runID:        runID,
		rowStates:    make(map[int]*rowState),
		candidates:   make(map[string][]model.PhoneCandidateItem),
		hints:        make(map[string][]string),
		consolidated: make(map[string][]model.ConsolidatedNumber),
	}
}

// NewRunID derives a run identifier from the wall clock.
func NewRunID(now time.Time) string {
	return now.Format("20060102_150405")
}

// Run executes both passes over the input rows and returns the assembled
// report data.
func (p *Pipeline) Run(ctx context.Context, rows []model.InputRow) (*report.RunData, error) {
	started := time.Now()
	p.metrics.TotalInputRows = len(rows)

	passOneStart := time.Now()
	p.passOne(ctx, rows)
	p.metrics.PassOneDuration = time.Since(passOneStart)

	passTwoStart := time.Now()
	data := p.passTwo(rows)
	p.metrics.PassTwoDuration = time.Since(passTwoStart)
	p.metrics.TotalDuration = time.Since(started)

	data.Metrics = p.metrics
	return data, nil
}

// passOne normalizes rows, crawls each un-claimed pathful grouped by
// pre-crawl base domain, then runs extraction and consolidation once per
// final base domain.
func (p *Pipeline) passOne(ctx context.Context, rows []model.InputRow) {
	// Normalize in row order; DNS probing makes this a suspension point.
	groups := make(map[string][]*rowState)
	var groupOrder []string

	for _, row := range rows {
		rs := &rowState{row: row}
		res := p.normalizer.Normalize(ctx, row.GivenURL)
		rs.mapping = model.CanonicalMapping{
			RowID:       row.ID,
			PathfulURL:  res.PathfulURL,
			BaseURL:     res.BaseURL,
			Status:      res.Status,
			ProbeWarned: res.ProbeWarned,
		}

		p.mu.Lock()
		p.rowStates[row.ID] = rs
		p.mu.Unlock()

		if res.Status != model.DeterminationOK {
			p.recordFailure(row, "URL_Validation", string(res.Status), map[string]any{
				"given_url": row.GivenURL,
			}, "")
			continue
		}

		p.tracker.RecordInputRow(res.BaseURL, row.ID, row.CompanyName, row.GivenURL)
		p.addHints(res.BaseURL, row.TargetCountryCodes)

		if _, ok := groups[res.BaseURL]; !ok {
			groupOrder = append(groupOrder, res.BaseURL)
		}
		groups[res.BaseURL] = append(groups[res.BaseURL], rs)
	}

	// Crawl groups concurrently; within a group, row pathfuls are
	// sequential so queue discipline stays deterministic.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.maxWorkers())
	for _, base := range groupOrder {
		group := groups[base]
		g.Go(func() error {
			defer p.recoverRowPanic(group)
			p.crawlGroup(gctx, base, group)
			return nil
		})
	}
	_ = g.Wait()

	// Model extraction and consolidation once per final base domain.
	bases := p.tracker.Domains()
	g2, g2ctx := errgroup.WithContext(ctx)
	g2.SetLimit(p.maxWorkers())
	for _, base := range bases {
		g2.Go(func() error {
			p.extractDomain(g2ctx, base)
			return nil
		})
	}
	_ = g2.Wait()

	p.metrics.DomainsProcessed = len(bases)
}

// crawlGroup processes all rows sharing one pre-crawl base domain. When
// the first landed seed moves the canonical base (redirects), the group's
// journey is migrated to the landed base and everything after records
// there.
func (p *Pipeline) crawlGroup(ctx context.Context, preBase string, group []*rowState) {
	groupBase := preBase
	landed := false

	for _, rs := range group {
		pathful := rs.mapping.PathfulURL

		site := p.crawler.CrawlSite(ctx, pathful, rs.row.CompanyName)

		if site.Status == model.StatusAlreadyProcessed && len(site.Pages) == 0 {
			rs.claimLost = true
			p.tracker.RecordPathfulAttempt(groupBase, pathful, model.StatusAlreadyProcessed)
			rs.mapping.BaseURL = groupBase
			zap.L().Debug("pipeline: pathful already processed",
				zap.Int("row", rs.row.ID),
				zap.String("pathful", pathful),
			)
			continue
		}

		if !landed && site.EntryURL != "" {
			landed = true
			if finalBase := urlnorm.BaseOf(site.EntryURL); finalBase != groupBase {
				p.tracker.Migrate(groupBase, finalBase)
				p.migrateHints(groupBase, finalBase)
				groupBase = finalBase
			}
		}
		rs.mapping.BaseURL = groupBase

		for pf, status := range site.Statuses {
			p.tracker.RecordPathfulAttempt(groupBase, pf, status)
		}

		if site.Status != model.StatusSuccess && len(site.Pages) == 0 {
			p.recordFailure(rs.row, "Scraping", string(site.Status), map[string]any{
				"seed": site.SeedURL,
			}, pathful)
			continue
		}

		p.mu.Lock()
		p.metrics.RowsProcessed++
		p.metrics.PagesScraped += len(site.Pages)
		p.mu.Unlock()

		for _, page := range site.Pages {
			p.tracker.RecordScrapedPage(groupBase, page.PageType)

			items, err := p.regex.ExtractFromFile(page.TextPath, page.LandedURL, rs.row.CompanyName, rs.row.TargetCountryCodes)
			if err != nil {
				p.recordFailure(rs.row, "Regex_Extraction", "Regex_Extraction_FileReadError", map[string]any{
					"text_path": page.TextPath,
				}, page.LandedURL)
				continue
			}
			p.tracker.RecordRegexExtraction(groupBase, len(items))

			p.mu.Lock()
			p.candidates[groupBase] = append(p.candidates[groupBase], items...)
			p.metrics.RegexCandidates += len(items)
			p.mu.Unlock()
		}
	}

	// Rows handled before the migration point point at the final base too.
	for _, rs := range group {
		rs.mapping.BaseURL = groupBase
	}
}

// migrateHints moves buffered country hints to the migrated base key.
func (p *Pipeline) migrateHints(from, to string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if hints, ok := p.hints[from]; ok {
		p.hints[to] = append(p.hints[to], hints...)
		delete(p.hints, from)
	}
	if items, ok := p.candidates[from]; ok {
		p.candidates[to] = append(p.candidates[to], items...)
		delete(p.candidates, from)
	}
}

// extractDomain runs the model pass and consolidation for one final base
// domain.
func (p *Pipeline) extractDomain(ctx context.Context, base string) {
	p.mu.Lock()
	items := p.candidates[base]
	hints := append(append([]string(nil), p.hints[base]...), p.cfg.Phone.TargetCountryCodes...)
	p.mu.Unlock()

	j := p.tracker.Get(base)
	if j == nil {
		return
	}

	var consolidated []model.ConsolidatedNumber
	if len(items) > 0 {
		result := p.llmx.ExtractForDomain(ctx, base, items)
		p.tracker.RecordLLMResult(base, result.CallsMade, len(result.Outputs), result.Usage, result.Errors)

		p.mu.Lock()
		p.metrics.LLMCalls += result.CallsMade
		p.metrics.RawNumbers += len(result.Outputs)
		p.metrics.TokenUsage.Add(result.Usage)
		p.mu.Unlock()

		if len(result.Errors) > 0 {
			p.recordDomainFailure(base, j, "LLM_Processing", result.Errors)
		}

		p.saveRawOutputs(base, result.Outputs)

		cres := consolidate.Consolidate(result.Outputs, dedupeHints(hints), p.cfg.Phone.DefaultRegionCode)
		consolidated = cres.Numbers
	}

	p.tracker.RecordConsolidation(base, consolidated)

	p.mu.Lock()
	p.metrics.Consolidated += len(consolidated)
	eligible := consolidate.EligibleNumbers(consolidated)
	p.metrics.EligibleNumbers += len(eligible)
	p.mu.Unlock()

	reason, fault := outcome.ClassifyDomain(p.tracker.Get(base), len(eligible))
	p.tracker.SetOutcome(base, reason, fault)

	p.mu.Lock()
	p.consolidated[base] = consolidated
	p.mu.Unlock()
}

// saveRawOutputs caches raw outputs grouped by their source pathful URL.
func (p *Pipeline) saveRawOutputs(base string, outputs []model.PhoneNumberLLMOutput) {
	byPathful := make(map[string][]model.PhoneNumberLLMOutput)
	for _, out := range outputs {
		byPathful[out.SourceURL] = append(byPathful[out.SourceURL], out)
	}
	for pathful, group := range byPathful {
		if err := p.st.SaveRawOutputs(pathful, group); err != nil {
			zap.L().Warn("pipeline: failed to cache raw outputs",
				zap.String("base", base),
				zap.String("pathful", pathful),
				zap.Error(err),
			)
		}
	}
}

// passTwo joins Pass 1 results with input rows, finalizes outcomes, and
// assembles the report data.
func (p *Pipeline) passTwo(rows []model.InputRow) *report.RunData {
	data := &report.RunData{
		RunID:         p.runID,
		GeneratedAt:   time.Now(),
		DomainsByBase: make(map[string]*report.DomainData),
	}

	for _, base := range p.tracker.Domains() {
		j := p.tracker.Get(base)
		consolidated := p.consolidated[base]
		data.Domains = append(data.Domains, report.DomainData{
			Base:         base,
			Journey:      j,
			Consolidated: consolidated,
			Eligible:     consolidate.EligibleNumbers(consolidated),
			RawOutputs:   p.rawOutputsFor(j),
		})
	}
	for i := range data.Domains {
		data.DomainsByBase[data.Domains[i].Base] = &data.Domains[i]
	}

	for _, row := range rows {
		rs := p.rowStates[row.ID]
		if rs == nil {
			continue
		}

		base := rs.mapping.BaseURL
		j := p.tracker.Get(base)
		eligibleCount := 0
		if dd := data.DomainsByBase[base]; dd != nil {
			eligibleCount = len(dd.Eligible)
		}

		duplicate := rs.claimLost && j != nil && j.OverallStatus() == model.StatusSuccess

		reason, fault := outcome.ClassifyRow(outcome.RowState{
			Determination: rs.mapping.Status,
			HasBase:       base != "",
			Duplicate:     duplicate,
			Journey:       j,
			EligibleCount: eligibleCount,
		})

		normalizedGiven := ""
		if row.GivenPhoneNumber != "" {
			hints := append(append([]string(nil), row.TargetCountryCodes...), p.cfg.Phone.TargetCountryCodes...)
			if e164, ok := consolidate.NormalizeE164(row.GivenPhoneNumber, dedupeHints(hints), p.cfg.Phone.DefaultRegionCode); ok {
				normalizedGiven = e164
			}
		}

		data.Rows = append(data.Rows, report.RowData{
			Row:                  row,
			Mapping:              rs.mapping,
			NormalizedGivenPhone: normalizedGiven,
			OutcomeReason:        reason,
			FaultCategory:        fault,
			LLMErrorSummary:      p.llmErrorSummary(j, fault),
		})
	}

	data.Failures = p.failures
	return data
}

// rawOutputsFor reloads the cached raw outputs for every pathful the
// domain attempted.
func (p *Pipeline) rawOutputsFor(j *journey.Journey) []model.PhoneNumberLLMOutput {
	if j == nil {
		return nil
	}
	var outputs []model.PhoneNumberLLMOutput
	seen := make(map[string]bool)
	for _, pathful := range j.PathfulsAttempted() {
		if seen[pathful] {
			continue
		}
		seen[pathful] = true
		cached, ok, err := p.st.GetRawOutputs(pathful)
		if err != nil {
			zap.L().Warn("pipeline: raw output cache read failed",
				zap.String("pathful", pathful),
				zap.Error(err),
			)
			continue
		}
		if ok {
			outputs = append(outputs, cached...)
		}
	}
	return outputs
}

func (p *Pipeline) llmErrorSummary(j *journey.Journey, fault string) string {
	if j == nil || fault != outcome.FaultLLM || !j.LLMErrorEncountered {
		return ""
	}
	if len(j.LLMErrorMessages) == 0 {
		return ""
	}
	summary := j.LLMErrorMessages[0]
	if len(j.LLMErrorMessages) > 1 {
		summary += fmt.Sprintf(" (+%d more)", len(j.LLMErrorMessages)-1)
	}
	return summary
}

func (p *Pipeline) addHints(base string, codes []string) {
	if len(codes) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hints[base] = append(p.hints[base], codes...)
}

func (p *Pipeline) maxWorkers() int {
	if n := p.cfg.Pipeline.MaxConcurrentDomains; n > 0 {
		return n
	}
	return 5
}

func (p *Pipeline) recordFailure(row model.InputRow, stage, reason string, details map[string]any, pathful string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, report.FailureEntry{
		Timestamp:  time.Now(),
		RowID:      strconv.Itoa(row.ID),
		Company:    row.CompanyName,
		GivenURL:   row.GivenURL,
		Stage:      stage,
		Reason:     reason,
		Details:    details,
		PathfulURL: pathful,
	})
}

func (p *Pipeline) recordDomainFailure(base string, j *journey.Journey, stage string, errors []string) {
	rowID := ""
	company := ""
	givenURL := ""
	if len(j.InputRowIDs) > 0 {
		rowID = strconv.Itoa(j.InputRowIDs[0])
	}
	if len(j.InputCompanyNames) > 0 {
		company = j.InputCompanyNames[0]
	}
	if len(j.InputGivenURLs) > 0 {
		givenURL = j.InputGivenURLs[0]
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, report.FailureEntry{
		Timestamp:  time.Now(),
		RowID:      rowID,
		Company:    company,
		GivenURL:   givenURL,
		Stage:      stage,
		Reason:     "LLM_Processing_Error",
		Details:    map[string]any{"errors": errors},
		PathfulURL: base,
	})
}

// recoverRowPanic converts an unexpected panic in a domain worker into a
// failure-log entry; the run continues.
func (p *Pipeline) recoverRowPanic(group []*rowState) {
	if r := recover(); r != nil {
		zap.L().Error("pipeline: unhandled panic in domain worker",
			zap.Any("panic", r),
		)
		for _, rs := range group {
			p.recordFailure(rs.row, "RowProcessing_Pass1_UnhandledException", "Internal", map[string]any{
				"panic": fmt.Sprint(r),
			}, rs.mapping.PathfulURL)
		}
	}
}

func dedupeHints(hints []string) []string {
	seen := make(map[string]bool, len(hints))
	var out []string
	for _, h := range hints {
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
