// Package report emits the run's tabular reports, the run metrics
// document, the failure log, and the attrition report. Writers are
// idempotent given the same inputs.
package report

import (
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/journey"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/outcome"
)

// RowData is the per-input-row view the writer consumes.
type RowData struct {
	Row                  model.InputRow
	Mapping              model.CanonicalMapping
	NormalizedGivenPhone string
	OutcomeReason        string
	FaultCategory        string
	LLMErrorSummary      string
}

// DomainData is the per-base-canonical-domain view the writer consumes.
type DomainData struct {
	Base         string
	Journey      *journey.Journey
	Consolidated []model.ConsolidatedNumber
	Eligible     []model.ConsolidatedNumber
	RawOutputs   []model.PhoneNumberLLMOutput
}

// FailureEntry is one failure-log line.
type FailureEntry struct {
	Timestamp  time.Time
	RowID      string
	Company    string
	GivenURL   string
	Stage      string
	Reason     string
	Details    map[string]any
	PathfulURL string
}

// RunData aggregates everything the writer needs for one run.
type RunData struct {
	RunID         string
	GeneratedAt   time.Time
	Rows          []RowData
	Domains       []DomainData
	DomainsByBase map[string]*DomainData
	Failures      []FailureEntry
	Metrics       Metrics
}

// Writer emits all reports for one run under the run directory.
type Writer struct {
	dir             string
	summaryFileName string
}

// NewWriter creates a report writer targeting dir. summaryTemplate is the
// configured output workbook name template with a {run_id} placeholder.
func NewWriter(dir, summaryTemplate, runID string) *Writer {
	name := strings.ReplaceAll(summaryTemplate, "{run_id}", runID)
	if name == "" {
		name = "phone_validation_output_" + runID + ".xlsx"
	}
	return &Writer{dir: dir, summaryFileName: name}
}

// WriteAll writes every report. Individual report failures are logged and
// collected; the first error is returned after all writers ran.
func (w *Writer) WriteAll(data *RunData) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return eris.Wrapf(err, "report: create dir %s", w.dir)
	}

	var firstErr error
	record := func(name string, err error) {
		if err != nil {
			zap.L().Error("report: write failed", zap.String("report", name), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	record("pipeline_summary", w.writeSummaryReport(data))
	record("llm_extractions", w.writeLLMExtractionsReport(data))
	record("final_contacts", w.writeFinalContactsReport(data))
	record("processed_contacts", w.writeProcessedContactsReport(data))
	record("row_attrition", w.writeAttritionReport(data))
	record("domain_summary", w.writeDomainSummaryReport(data))
	record("run_metrics", w.writeRunMetrics(data))
	record("failed_rows", w.writeFailedRows(data))

	return firstErr
}

// rowScrapingStatus derives the summary-report ScrapingStatus cell for a
// row from its determination and domain journey.
func rowScrapingStatus(rd RowData, domains map[string]*DomainData) string {
	switch rd.Mapping.Status {
	case model.DeterminationInvalidURL, model.DeterminationEmptyInput:
		return string(model.StatusInvalidURL)
	case model.DeterminationUnsupported:
		return string(model.StatusInvalidURL)
	case model.DeterminationMaxRedirects:
		return string(model.StatusMaxRedirects)
	}
	d := domains[rd.Mapping.BaseURL]
	if d == nil || d.Journey == nil {
		return string(model.StatusGenericError)
	}
	status := d.Journey.OverallStatus()
	if status == "" {
		return string(model.StatusGenericError)
	}
	return string(status)
}

// originalNumberStatus is the documented best-effort mapping for the
// input-provided phone number.
func originalNumberStatus(rd RowData, eligible []model.ConsolidatedNumber) string {
	if strings.TrimSpace(rd.Row.GivenPhoneNumber) == "" {
		return "Not Provided"
	}
	if rd.NormalizedGivenPhone == "" {
		return "Unverified"
	}
	for _, n := range eligible {
		if n.Number == rd.NormalizedGivenPhone {
			return "Verified"
		}
	}
	if len(eligible) > 0 {
		return "Corrected"
	}
	return "Unverified"
}

func overallVerificationStatus(reason string) string {
	switch {
	case reason == outcome.ReasonContactExtracted:
		return "Contacts_Found"
	case strings.HasPrefix(reason, "Scraping_"),
		reason == outcome.ReasonInputURLInvalid,
		reason == outcome.ReasonInputUnsupportedScheme,
		reason == outcome.ReasonSkippedMaxRedirects:
		return "Scraping_Failed"
	default:
		return "No_Contacts_Found"
	}
}

// domainLabel extracts the bare domain label from a base canonical URL,
// e.g. "https://www.example.com" → "example".
func domainLabel(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return base
	}
	host := strings.TrimPrefix(u.Hostname(), "www.")
	if idx := strings.Index(host, "."); idx > 0 {
		return host[:idx]
	}
	return host
}

func joinInts(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}

func (w *Writer) path(name string) string {
	return filepath.Join(w.dir, name)
}
