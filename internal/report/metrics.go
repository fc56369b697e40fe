package report

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/journey"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/outcome"
)

// Metrics accumulates run-level counters. The orchestrator fills the
// stage counters and durations; outcome and attrition tallies are derived
// from the report data at write time.
type Metrics struct {
	TotalInputRows   int
	RowsProcessed    int
	DomainsProcessed int

	PagesScraped   int
	RegexCandidates int
	LLMCalls        int
	RawNumbers      int
	Consolidated    int
	EligibleNumbers int

	TokenUsage model.TokenUsage

	PassOneDuration time.Duration
	PassTwoDuration time.Duration
	TotalDuration   time.Duration
}

func (w *Writer) writeRunMetrics(data *RunData) error {
	m := data.Metrics

	outcomeCounts := make(map[string]int)
	faultCounts := make(map[string]int)
	for _, rd := range data.Rows {
		outcomeCounts[rd.OutcomeReason]++
		if rd.OutcomeReason != outcome.ReasonContactExtracted {
			faultCounts[rd.FaultCategory]++
		}
	}

	pagesByType := make(map[string]int)
	for _, d := range data.Domains {
		if d.Journey == nil {
			continue
		}
		for pt, n := range d.Journey.PagesByType {
			pagesByType[string(pt)] += n
		}
	}

	failuresByStage := make(map[string]int)
	for _, f := range data.Failures {
		failuresByStage[f.Stage]++
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Run Metrics: %s\n\n", data.RunID)
	fmt.Fprintf(&b, "Generated: %s\n\n", data.GeneratedAt.Format(time.RFC3339))

	b.WriteString("## Counts by Stage\n\n")
	fmt.Fprintf(&b, "- Input rows: %d\n", m.TotalInputRows)
	fmt.Fprintf(&b, "- Rows processed: %d\n", m.RowsProcessed)
	fmt.Fprintf(&b, "- Canonical domains processed: %d\n", m.DomainsProcessed)
	fmt.Fprintf(&b, "- Pages scraped: %d\n", m.PagesScraped)
	fmt.Fprintf(&b, "- Regex candidates: %d\n", m.RegexCandidates)
	fmt.Fprintf(&b, "- LLM calls: %d\n", m.LLMCalls)
	fmt.Fprintf(&b, "- Raw LLM numbers: %d\n", m.RawNumbers)
	fmt.Fprintf(&b, "- Consolidated numbers: %d\n", m.Consolidated)
	fmt.Fprintf(&b, "- Eligible contact numbers: %d\n\n", m.EligibleNumbers)

	b.WriteString("## Pages Scraped by Type\n\n")
	for _, key := range sortedKeys(pagesByType) {
		fmt.Fprintf(&b, "- %s: %d\n", key, pagesByType[key])
	}
	b.WriteString("\n")

	b.WriteString("## Durations\n\n")
	fmt.Fprintf(&b, "- Pass 1 (gather): %s\n", m.PassOneDuration.Round(time.Millisecond))
	fmt.Fprintf(&b, "- Pass 2 (report): %s\n", m.PassTwoDuration.Round(time.Millisecond))
	fmt.Fprintf(&b, "- Total: %s\n\n", m.TotalDuration.Round(time.Millisecond))

	b.WriteString("## LLM Token Usage\n\n")
	fmt.Fprintf(&b, "- Prompt tokens: %d\n", m.TokenUsage.PromptTokens)
	fmt.Fprintf(&b, "- Completion tokens: %d\n", m.TokenUsage.CompletionTokens)
	fmt.Fprintf(&b, "- Total tokens: %d\n", m.TokenUsage.TotalTokens)
	if m.LLMCalls > 0 {
		fmt.Fprintf(&b, "- Average tokens per call: %d\n", m.TokenUsage.TotalTokens/int64(m.LLMCalls))
	}
	b.WriteString("\n")

	b.WriteString("## Row Outcomes\n\n")
	for _, key := range sortedKeys(outcomeCounts) {
		fmt.Fprintf(&b, "- %s: %d\n", key, outcomeCounts[key])
	}
	b.WriteString("\n")

	b.WriteString("## Attrition by Fault Category\n\n")
	if len(faultCounts) == 0 {
		b.WriteString("- none\n")
	}
	for _, key := range sortedKeys(faultCounts) {
		fmt.Fprintf(&b, "- %s: %d\n", key, faultCounts[key])
	}
	b.WriteString("\n")

	b.WriteString("## Failures by Stage\n\n")
	if len(failuresByStage) == 0 {
		b.WriteString("- none\n")
	}
	for _, key := range sortedKeys(failuresByStage) {
		fmt.Fprintf(&b, "- %s: %d\n", key, failuresByStage[key])
	}

	path := w.path("Run_Metrics.md")
	return eris.Wrapf(os.WriteFile(path, []byte(b.String()), 0o644), "report: write %s", path)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatPageTypeCounts(j *journey.Journey) string {
	counts := make(map[string]int, len(j.PagesByType))
	for pt, n := range j.PagesByType {
		counts[string(pt)] = n
	}
	return formatTypeCounts(counts)
}

func formatTypeCounts(counts map[string]int) string {
	var parts []string
	for _, key := range sortedKeys(counts) {
		parts = append(parts, fmt.Sprintf("%s: %d", key, counts[key]))
	}
	return strings.Join(parts, ", ")
}
