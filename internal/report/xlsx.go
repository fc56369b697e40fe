package report

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/consolidate"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/outcome"
)

// topContactsPerRow caps the Top_Number_k triplets in the summary report
// and the PhoneNumber_k pairs in the contacts report.
const topContactsPerRow = 3

// writeSheet creates a single-sheet workbook with the given header and
// rows.
func writeSheet(path, sheetName string, header []any, rows [][]any) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return eris.Wrapf(err, "report: rename sheet %s", sheetName)
	}

	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return eris.Wrap(err, "report: write header")
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return eris.Wrap(err, "report: cell name")
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return eris.Wrapf(err, "report: write row %d", i+2)
		}
	}

	return eris.Wrapf(f.SaveAs(path), "report: save %s", path)
}

func (w *Writer) writeSummaryReport(data *RunData) error {
	header := []any{
		"InputRowID", "CompanyName", "GivenURL", "GivenPhoneNumber",
		"NormalizedGivenPhoneNumber", "Description", "CanonicalEntryURL",
		"ScrapingStatus", "Original_Number_Status", "Overall_VerificationStatus",
		"Top_Number_1", "Top_Type_1", "Top_SourceURL_1",
		"Top_Number_2", "Top_Type_2", "Top_SourceURL_2",
		"Top_Number_3", "Top_Type_3", "Top_SourceURL_3",
		"Final_Row_Outcome_Reason", "Determined_Fault_Category",
		"TargetCountryCodes", "RunID",
	}

	rows := make([][]any, 0, len(data.Rows))
	for _, rd := range data.Rows {
		var eligible []any
		var eligibleNumbers = topNumbersFor(rd, data.DomainsByBase)
		for i := 0; i < topContactsPerRow; i++ {
			if i < len(eligibleNumbers) {
				n := eligibleNumbers[i]
				src := ""
				if len(n.Sources) > 0 {
					src = n.Sources[0].SourceURL
				}
				eligible = append(eligible, n.Number, consolidate.BestType(n), src)
			} else {
				eligible = append(eligible, "", "", "")
			}
		}

		row := []any{
			rd.Row.ID, rd.Row.CompanyName, rd.Row.GivenURL, rd.Row.GivenPhoneNumber,
			rd.NormalizedGivenPhone, rd.Row.Description, rd.Mapping.BaseURL,
			rowScrapingStatus(rd, data.DomainsByBase),
			originalNumberStatus(rd, topNumbersFor(rd, data.DomainsByBase)),
			overallVerificationStatus(rd.OutcomeReason),
		}
		row = append(row, eligible...)
		row = append(row,
			rd.OutcomeReason, rd.FaultCategory,
			strings.Join(rd.Row.TargetCountryCodes, ","), data.RunID,
		)
		rows = append(rows, row)
	}

	return writeSheet(w.path(w.summaryFileName), "Pipeline_Summary", header, rows)
}

func topNumbersFor(rd RowData, domains map[string]*DomainData) []model.ConsolidatedNumber {
	d := domains[rd.Mapping.BaseURL]
	if d == nil {
		return nil
	}
	return d.Eligible
}

func (w *Writer) writeLLMExtractionsReport(data *RunData) error {
	header := []any{
		"CompanyName", "Number", "LLM_Type", "LLM_Classification",
		"LLM_Source_URL", "ScrapingStatus", "TargetCountryCodes", "RunID",
	}

	var rows [][]any
	for _, rd := range data.Rows {
		d := data.DomainsByBase[rd.Mapping.BaseURL]
		if d == nil {
			continue
		}
		status := rowScrapingStatus(rd, data.DomainsByBase)
		for _, out := range d.RawOutputs {
			rows = append(rows, []any{
				rd.Row.CompanyName, out.Number, out.Type, out.Classification,
				out.SourceURL, status,
				strings.Join(rd.Row.TargetCountryCodes, ","), data.RunID,
			})
		}
	}

	return writeSheet(w.path("All_LLM_Extractions_Report.xlsx"), "All_LLM_Extractions", header, rows)
}

func (w *Writer) writeFinalContactsReport(data *RunData) error {
	header := []any{
		"CompanyName", "GivenURL", "CanonicalEntryURL", "ScrapingStatus",
		"PhoneNumber_1", "SourceURL_1",
		"PhoneNumber_2", "SourceURL_2",
		"PhoneNumber_3", "SourceURL_3",
	}

	var rows [][]any
	for _, d := range data.Domains {
		if d.Journey == nil {
			continue
		}

		companyLabel := d.Base
		for _, name := range d.Journey.InputCompanyNames {
			companyLabel += " - " + name
		}

		status := ""
		if s := d.Journey.OverallStatus(); s != "" {
			status = string(s)
		}

		row := []any{
			companyLabel,
			strings.Join(d.Journey.InputGivenURLs, ", "),
			d.Base,
			status,
		}

		for i := 0; i < topContactsPerRow; i++ {
			if i < len(d.Eligible) {
				n := d.Eligible[i]
				src := ""
				if len(n.Sources) > 0 {
					src = n.Sources[0].SourceURL
				}
				row = append(row, formatContactCell(n), src)
			} else {
				row = append(row, "", "")
			}
		}
		rows = append(rows, row)
	}

	return writeSheet(w.path("Final_Contacts_Report.xlsx"), "Final_Contacts", header, rows)
}

// formatContactCell renders "{E164} ({TypesCsv}) [{CompaniesCsv}]".
func formatContactCell(n model.ConsolidatedNumber) string {
	types := strings.Join(n.Types(), ", ")
	companies := strings.Join(n.Companies(), ", ")
	return fmt.Sprintf("%s (%s) [%s]", n.Number, types, companies)
}

func (w *Writer) writeProcessedContactsReport(data *RunData) error {
	header := []any{
		"Company Name", "URL", "Number", "Number Type", "Number Found At",
	}

	var rows [][]any
	for _, d := range data.Domains {
		for _, n := range d.Eligible {
			src := ""
			if len(n.Sources) > 0 {
				src = n.Sources[0].SourceURL
			}
			rows = append(rows, []any{
				domainLabel(d.Base), d.Base, n.Number, consolidate.BestType(n), src,
			})
		}
	}

	return writeSheet(w.path("Final_Processed_Contacts_Report.xlsx"), "Final_Processed_Contacts", header, rows)
}

func (w *Writer) writeAttritionReport(data *RunData) error {
	header := []any{
		"InputRowID", "CompanyName", "GivenURL", "Derived_Input_CanonicalURL",
		"Final_Processed_Canonical_Domain", "Link_To_Canonical_Domain_Outcome",
		"Final_Row_Outcome_Reason", "Determined_Fault_Category",
		"Relevant_Canonical_URLs", "LLM_Error_Detail_Summary",
		"Input_CompanyName_Total_Count", "Input_CanonicalURL_Total_Count",
		"Is_Input_CompanyName_Duplicate", "Is_Input_CanonicalURL_Duplicate",
		"Is_Input_Row_Considered_Duplicate", "Timestamp_Of_Determination",
	}

	nameCounts := make(map[string]int)
	urlCounts := make(map[string]int)
	for _, rd := range data.Rows {
		if rd.Row.CompanyName != "" {
			nameCounts[rd.Row.CompanyName]++
		}
		if rd.Mapping.BaseURL != "" {
			urlCounts[rd.Mapping.BaseURL]++
		}
	}

	timestamp := data.GeneratedAt.Format("2006-01-02 15:04:05")

	var rows [][]any
	for _, rd := range data.Rows {
		if rd.OutcomeReason == outcome.ReasonContactExtracted {
			continue
		}

		domainOutcome := ""
		if d := data.DomainsByBase[rd.Mapping.BaseURL]; d != nil && d.Journey != nil {
			domainOutcome = d.Journey.FinalOutcomeReason
		}

		nameCount := nameCounts[rd.Row.CompanyName]
		urlCount := urlCounts[rd.Mapping.BaseURL]
		nameDup := nameCount > 1
		urlDup := rd.Mapping.BaseURL != "" && urlCount > 1

		rows = append(rows, []any{
			rd.Row.ID, rd.Row.CompanyName, rd.Row.GivenURL, rd.Mapping.PathfulURL,
			rd.Mapping.BaseURL, domainOutcome,
			rd.OutcomeReason, rd.FaultCategory,
			relevantCanonicalURLs(rd, data.DomainsByBase), rd.LLMErrorSummary,
			nameCount, urlCount,
			boolCell(nameDup), boolCell(urlDup),
			boolCell(nameDup && urlDup),
			timestamp,
		})
	}

	return writeSheet(w.path("Row_Attrition_Report.xlsx"), "Row_Attrition", header, rows)
}

func relevantCanonicalURLs(rd RowData, domains map[string]*DomainData) string {
	d := domains[rd.Mapping.BaseURL]
	if d == nil || d.Journey == nil {
		return ""
	}
	return strings.Join(d.Journey.PathfulsAttempted(), ", ")
}

func boolCell(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func (w *Writer) writeDomainSummaryReport(data *RunData) error {
	header := []any{
		"Canonical_Domain", "Input_Row_IDs", "Input_CompanyNames", "Input_GivenURLs",
		"Pathful_URLs_Attempted_List", "Overall_Scraper_Status_For_Domain",
		"Total_Pages_Scraped_For_Domain", "Scraped_Pages_Details_Aggregated",
		"Regex_Candidates_Found_For_Any_Pathful", "LLM_Calls_Made_For_Domain",
		"LLM_Total_Raw_Numbers_Extracted", "LLM_Total_Consolidated_Numbers_Found",
		"LLM_Consolidated_Number_Types_Summary",
		"LLM_Processing_Error_Encountered_For_Domain", "LLM_Error_Messages_Aggregated",
		"Final_Domain_Outcome_Reason", "Primary_Fault_Category_For_Domain",
	}

	var rows [][]any
	for _, d := range data.Domains {
		j := d.Journey
		if j == nil {
			continue
		}

		rows = append(rows, []any{
			d.Base,
			joinInts(j.InputRowIDs),
			strings.Join(j.InputCompanyNames, ", "),
			strings.Join(j.InputGivenURLs, ", "),
			strings.Join(j.PathfulsAttempted(), ", "),
			string(j.OverallStatus()),
			j.TotalPagesScraped(),
			formatPageTypeCounts(j),
			boolCell(j.RegexFoundAnyCandidate),
			boolCell(j.LLMCallMade),
			j.RawLLMNumberCount,
			j.ConsolidatedNumberCount,
			formatTypeCounts(j.ConsolidatedTypeCounts),
			boolCell(j.LLMErrorEncountered),
			strings.Join(j.LLMErrorMessages, "; "),
			j.FinalOutcomeReason,
			j.PrimaryFaultCategory,
		})
	}

	return writeSheet(w.path("Canonical_Domain_Processing_Summary.xlsx"), "Canonical_Domain_Summary", header, rows)
}
