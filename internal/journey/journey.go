// Package journey accumulates per-canonical-domain processing state: the
// pathfuls attempted, scraping statuses, extraction and consolidation
// counters, and the final domain outcome.
package journey

import (
	"sort"
	"sync"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// Journey is the append-only record for one canonical base domain.
// Mutations happen through the Tracker during Pass 1; Pass 2 reads only.
type Journey struct {
	BaseURL string

	InputRowIDs       []int
	InputCompanyNames []string
	InputGivenURLs    []string

	PathfulStatuses map[string]model.ScraperStatus
	pathfulOrder    []string

	PagesByType map[model.PageType]int

	RegexFoundAnyCandidate bool
	RegexCandidateCount    int

	LLMCallMade          bool
	LLMErrorEncountered  bool
	LLMErrorMessages     []string
	RawLLMNumberCount    int
	TokenUsage           model.TokenUsage

	ConsolidatedNumberCount int
	ConsolidatedTypeCounts  map[string]int

	FinalOutcomeReason   string
	PrimaryFaultCategory string
}

// PathfulsAttempted returns the attempted pathful URLs in first-seen order.
func (j *Journey) PathfulsAttempted() []string {
	return append([]string(nil), j.pathfulOrder...)
}

// OverallStatus derives the domain status as the best pathful status.
func (j *Journey) OverallStatus() model.ScraperStatus {
	var best model.ScraperStatus
	for _, s := range j.PathfulStatuses {
		if best == "" {
			best = s
		} else {
			best = model.BetterStatus(best, s)
		}
	}
	return best
}

// TotalPagesScraped sums scraped page counts across types.
func (j *Journey) TotalPagesScraped() int {
	total := 0
	for _, n := range j.PagesByType {
		total += n
	}
	return total
}

// Tracker owns the journeys of a run, one per canonical base domain.
// Writes within one domain are serialized by the per-tracker lock.
type Tracker struct {
	mu       sync.Mutex
	journeys map[string]*Journey
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{journeys: make(map[string]*Journey)}
}

func (t *Tracker) journey(base string) *Journey {
	j, ok := t.journeys[base]
	if !ok {
		j = &Journey{
			BaseURL:                base,
			PathfulStatuses:        make(map[string]model.ScraperStatus),
			PagesByType:            make(map[model.PageType]int),
			ConsolidatedTypeCounts: make(map[string]int),
		}
		t.journeys[base] = j
	}
	return j
}

// RecordInputRow associates an input row with the domain.
func (t *Tracker) RecordInputRow(base string, rowID int, companyName, givenURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := t.journey(base)
	j.InputRowIDs = append(j.InputRowIDs, rowID)
	j.InputCompanyNames = appendUnique(j.InputCompanyNames, companyName)
	j.InputGivenURLs = appendUnique(j.InputGivenURLs, givenURL)
}

// RecordPathfulAttempt records a fetch attempt and its status. Repeated
// attempts keep the better status.
func (t *Tracker) RecordPathfulAttempt(base, pathful string, status model.ScraperStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := t.journey(base)
	if prev, ok := j.PathfulStatuses[pathful]; ok {
		j.PathfulStatuses[pathful] = model.BetterStatus(prev, status)
		return
	}
	j.PathfulStatuses[pathful] = status
	j.pathfulOrder = append(j.pathfulOrder, pathful)
}

// RecordScrapedPage counts a retained page by its classification.
func (t *Tracker) RecordScrapedPage(base string, pageType model.PageType) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.journey(base).PagesByType[pageType]++
}

// RecordRegexExtraction records the regex pass over a domain's pages.
func (t *Tracker) RecordRegexExtraction(base string, candidateCount int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := t.journey(base)
	j.RegexCandidateCount += candidateCount
	if candidateCount > 0 {
		j.RegexFoundAnyCandidate = true
	}
}

// RecordLLMResult records the model pass for a domain.
func (t *Tracker) RecordLLMResult(base string, callsMade int, rawCount int, usage model.TokenUsage, errors []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := t.journey(base)
	if callsMade > 0 {
		j.LLMCallMade = true
	}
	j.RawLLMNumberCount += rawCount
	j.TokenUsage.Add(usage)
	if len(errors) > 0 {
		j.LLMErrorEncountered = true
		j.LLMErrorMessages = append(j.LLMErrorMessages, errors...)
	}
}

// RecordConsolidation records the consolidated contact set for a domain.
func (t *Tracker) RecordConsolidation(base string, numbers []model.ConsolidatedNumber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := t.journey(base)
	j.ConsolidatedNumberCount = len(numbers)
	for _, n := range numbers {
		for _, typ := range n.Types() {
			j.ConsolidatedTypeCounts[typ]++
		}
	}
}

// SetOutcome finalizes the domain outcome fields.
func (t *Tracker) SetOutcome(base, reason, faultCategory string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	j := t.journey(base)
	j.FinalOutcomeReason = reason
	j.PrimaryFaultCategory = faultCategory
}

// Migrate folds the journey recorded under one base domain into another
// and forgets the old key. Used when the seed fetch lands on a different
// canonical base than the one derived from the input URL.
func (t *Tracker) Migrate(from, to string) {
	if from == to {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	src, ok := t.journeys[from]
	if !ok {
		return
	}
	dst := t.journey(to)

	for _, id := range src.InputRowIDs {
		found := false
		for _, existing := range dst.InputRowIDs {
			if existing == id {
				found = true
				break
			}
		}
		if !found {
			dst.InputRowIDs = append(dst.InputRowIDs, id)
		}
	}
	for _, name := range src.InputCompanyNames {
		dst.InputCompanyNames = appendUnique(dst.InputCompanyNames, name)
	}
	for _, u := range src.InputGivenURLs {
		dst.InputGivenURLs = appendUnique(dst.InputGivenURLs, u)
	}
	for _, pf := range src.pathfulOrder {
		status := src.PathfulStatuses[pf]
		if prev, ok := dst.PathfulStatuses[pf]; ok {
			dst.PathfulStatuses[pf] = model.BetterStatus(prev, status)
			continue
		}
		dst.PathfulStatuses[pf] = status
		dst.pathfulOrder = append(dst.pathfulOrder, pf)
	}
	for pt, n := range src.PagesByType {
		dst.PagesByType[pt] += n
	}
	dst.RegexCandidateCount += src.RegexCandidateCount
	dst.RegexFoundAnyCandidate = dst.RegexFoundAnyCandidate || src.RegexFoundAnyCandidate
	dst.LLMCallMade = dst.LLMCallMade || src.LLMCallMade
	dst.LLMErrorEncountered = dst.LLMErrorEncountered || src.LLMErrorEncountered
	dst.LLMErrorMessages = append(dst.LLMErrorMessages, src.LLMErrorMessages...)
	dst.RawLLMNumberCount += src.RawLLMNumberCount
	dst.TokenUsage.Add(src.TokenUsage)

	delete(t.journeys, from)
}

// Get returns the journey for a base domain, or nil when unknown.
func (t *Tracker) Get(base string) *Journey {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.journeys[base]
}

// Domains returns all tracked base domains, sorted.
func (t *Tracker) Domains() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.journeys))
	for base := range t.journeys {
		out = append(out, base)
	}
	sort.Strings(out)
	return out
}

func appendUnique(list []string, v string) []string {
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
