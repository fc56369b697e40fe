package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
)

func (w *Writer) writeFailedRows(data *RunData) error {
	path := w.path("Failed_Rows.csv")
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	defer func() { _ = f.Close() }()

	cw := csv.NewWriter(f)
	defer cw.Flush()

	header := []string{
		"log_timestamp", "input_row_identifier", "CompanyName", "GivenURL",
		"stage_of_failure", "error_reason", "error_details",
		"Associated_Pathful_Canonical_URL",
	}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "report: write failures header")
	}

	for _, entry := range data.Failures {
		details := "{}"
		if len(entry.Details) > 0 {
			if raw, err := json.Marshal(entry.Details); err == nil {
				details = string(raw)
			}
		}
		record := []string{
			entry.Timestamp.Format(time.RFC3339),
			entry.RowID,
			entry.Company,
			entry.GivenURL,
			entry.Stage,
			entry.Reason,
			details,
			entry.PathfulURL,
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "report: write failure record")
		}
	}

	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush failures")
}
