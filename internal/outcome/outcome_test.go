package outcome

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/journey"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// buildJourney assembles a journey snapshot through the tracker.
func buildJourney(t *testing.T, mutate func(tr *journey.Tracker)) *journey.Journey {
	t.Helper()
	tr := journey.NewTracker()
	mutate(tr)
	return tr.Get("https://example.com")
}

const base = "https://example.com"

func successfulJourney(t *testing.T, mutate func(tr *journey.Tracker)) *journey.Journey {
	return buildJourney(t, func(tr *journey.Tracker) {
		tr.RecordInputRow(base, 1, "ExampleCorp", "http://example.com")
		tr.RecordPathfulAttempt(base, base+"/", model.StatusSuccess)
		tr.RecordScrapedPage(base, model.PageTypeContact)
		if mutate != nil {
			mutate(tr)
		}
	})
}

func TestClassifyRowOrder(t *testing.T) {
	tests := []struct {
		name       string
		state      RowState
		wantReason string
		wantFault  string
	}{
		{
			name:       "invalid input URL",
			state:      RowState{Determination: model.DeterminationInvalidURL},
			wantReason: ReasonInputURLInvalid,
			wantFault:  FaultInputData,
		},
		{
			name:       "unsupported scheme",
			state:      RowState{Determination: model.DeterminationUnsupported},
			wantReason: ReasonInputUnsupportedScheme,
			wantFault:  FaultInputData,
		},
		{
			name:       "max redirects",
			state:      RowState{Determination: model.DeterminationMaxRedirects},
			wantReason: ReasonSkippedMaxRedirects,
			wantFault:  FaultWebsite,
		},
		{
			name:       "no base canonical",
			state:      RowState{Determination: model.DeterminationOK},
			wantReason: ReasonNoCanonicalDetermined,
			wantFault:  FaultUnknown,
		},
		{
			name: "duplicate of successful base",
			state: RowState{
				Determination: model.DeterminationOK,
				HasBase:       true,
				Duplicate:     true,
				Journey:       successfulJourney(t, nil),
				EligibleCount: 2,
			},
			wantReason: ReasonCanonicalDuplicate,
			wantFault:  FaultPipeline,
		},
		{
			name: "all network failures",
			state: RowState{
				Determination: model.DeterminationOK,
				HasBase:       true,
				Journey: buildJourney(t, func(tr *journey.Tracker) {
					tr.RecordPathfulAttempt(base, base+"/", model.StatusDNSError)
					tr.RecordPathfulAttempt(base, base+"/kontakt", model.StatusTimeout)
				}),
			},
			wantReason: ReasonAllFailedNetwork,
			wantFault:  FaultWebsite,
		},
		{
			name: "all access denied",
			state: RowState{
				Determination: model.DeterminationOK,
				HasBase:       true,
				Journey: buildJourney(t, func(tr *journey.Tracker) {
					tr.RecordPathfulAttempt(base, base+"/", model.StatusRobotsDisallowed)
				}),
			},
			wantReason: ReasonAllFailedAccessDenied,
			wantFault:  FaultWebsite,
		},
		{
			name: "all content not found",
			state: RowState{
				Determination: model.DeterminationOK,
				HasBase:       true,
				Journey: buildJourney(t, func(tr *journey.Tracker) {
					tr.RecordPathfulAttempt(base, base+"/", model.StatusContentNotFound)
				}),
			},
			wantReason: ReasonAllContentNotFound,
			wantFault:  FaultWebsite,
		},
		{
			name: "pages scraped but none relevant",
			state: RowState{
				Determination: model.DeterminationOK,
				HasBase:       true,
				Journey: buildJourney(t, func(tr *journey.Tracker) {
					tr.RecordPathfulAttempt(base, base+"/weird", model.StatusSuccess)
					tr.RecordScrapedPage(base, model.PageTypeUnknown)
				}),
			},
			wantReason: ReasonNoRelevantPages,
			wantFault:  FaultWebsite,
		},
		{
			name: "no regex candidates",
			state: RowState{
				Determination: model.DeterminationOK,
				HasBase:       true,
				Journey:       successfulJourney(t, nil),
			},
			wantReason: ReasonNoRegexCandidates,
			wantFault:  FaultPipeline,
		},
		{
			name: "llm errors with no raw numbers",
			state: RowState{
				Determination: model.DeterminationOK,
				HasBase:       true,
				Journey: successfulJourney(t, func(tr *journey.Tracker) {
					tr.RecordRegexExtraction(base, 3)
					tr.RecordLLMResult(base, 1, 0, model.TokenUsage{}, []string{"chunk 0: boom"})
				}),
			},
			wantReason: ReasonLLMError,
			wantFault:  FaultLLM,
		},
		{
			name: "llm returned nothing",
			state: RowState{
				Determination: model.DeterminationOK,
				HasBase:       true,
				Journey: successfulJourney(t, func(tr *journey.Tracker) {
					tr.RecordRegexExtraction(base, 3)
					tr.RecordLLMResult(base, 1, 0, model.TokenUsage{}, nil)
				}),
			},
			wantReason: ReasonLLMNoNumbers,
			wantFault:  FaultLLM,
		},
		{
			name: "numbers found but none relevant",
			state: RowState{
				Determination: model.DeterminationOK,
				HasBase:       true,
				Journey: successfulJourney(t, func(tr *journey.Tracker) {
					tr.RecordRegexExtraction(base, 3)
					tr.RecordLLMResult(base, 1, 3, model.TokenUsage{}, nil)
				}),
				EligibleCount: 0,
			},
			wantReason: ReasonLLMNoneRelevant,
			wantFault:  FaultLLM,
		},
		{
			name: "contact extracted",
			state: RowState{
				Determination: model.DeterminationOK,
				HasBase:       true,
				Journey: successfulJourney(t, func(tr *journey.Tracker) {
					tr.RecordRegexExtraction(base, 3)
					tr.RecordLLMResult(base, 1, 3, model.TokenUsage{}, nil)
				}),
				EligibleCount: 2,
			},
			wantReason: ReasonContactExtracted,
			wantFault:  FaultNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, fault := ClassifyRow(tt.state)
			assert.Equal(t, tt.wantReason, reason)
			assert.Equal(t, tt.wantFault, fault)
		})
	}
}

// Classification is total: every state yields exactly one non-empty reason
// with a mapped fault category.
func TestClassifyRowTotal(t *testing.T) {
	states := []RowState{
		{},
		{Determination: model.DeterminationOK},
		{Determination: model.DeterminationOK, HasBase: true},
		{Determination: model.DeterminationOK, HasBase: true, Journey: successfulJourney(t, nil)},
		{Determination: "bogus-status", HasBase: true},
	}

	for i, s := range states {
		reason, fault := ClassifyRow(s)
		assert.NotEmpty(t, reason, "state %d", i)
		assert.NotEmpty(t, fault, "state %d", i)
	}
}

func TestClassifyDomain(t *testing.T) {
	j := successfulJourney(t, func(tr *journey.Tracker) {
		tr.RecordRegexExtraction(base, 3)
		tr.RecordLLMResult(base, 1, 3, model.TokenUsage{}, nil)
	})

	reason, fault := ClassifyDomain(j, 1)
	assert.Equal(t, DomainReasonContactExtracted, reason)
	assert.Equal(t, FaultNone, fault)

	reason, fault = ClassifyDomain(j, 0)
	assert.Equal(t, DomainReasonLLMNoneRelevant, reason)
	assert.Equal(t, FaultLLM, fault)

	reason, fault = ClassifyDomain(nil, 0)
	assert.Equal(t, DomainReasonNoPathfuls, reason)
	assert.Equal(t, FaultWebsite, fault)
}

func TestClassifyDomainFailureSets(t *testing.T) {
	j := buildJourney(t, func(tr *journey.Tracker) {
		tr.RecordPathfulAttempt(base, base+"/", model.StatusDNSError)
	})
	reason, _ := ClassifyDomain(j, 0)
	assert.Equal(t, DomainReasonAllFailedNetwork, reason)
}

func TestFaultCategoryFallbacks(t *testing.T) {
	assert.Equal(t, FaultWebsite, FaultCategoryFor("Scraping_SomethingNew"))
	assert.Equal(t, FaultLLM, FaultCategoryFor("LLM_SomethingNew"))
	assert.Equal(t, FaultUnknown, FaultCategoryFor("Entirely_Novel"))
}
