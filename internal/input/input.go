// Package input reads the company input table from an XLSX workbook with
// header aliasing, row-range selection, and the consecutive-empty-row
// termination heuristic.
package input

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// Profile names a set of header aliases for an input file layout.
type Profile struct {
	Name    string
	Aliases map[string][]string
}

// profiles holds the known input file layouts. The default profile covers
// the common English and German header spellings.
var profiles = map[string]Profile{
	"default": {
		Name: "default",
		Aliases: map[string][]string{
			"CompanyName":        {"companyname", "company name", "company", "firma", "name"},
			"GivenURL":           {"givenurl", "url", "website", "webseite", "web"},
			"GivenPhoneNumber":   {"givenphonenumber", "phone", "phonenumber", "phone number", "telefon", "telefonnummer", "number"},
			"Description":        {"description", "beschreibung"},
			"TargetCountryCodes": {"targetcountrycodes", "target country codes", "countrycodes", "countries"},
		},
	},
}

// LookupProfile resolves a profile by name, falling back to the default.
func LookupProfile(name string) Profile {
	if p, ok := profiles[strings.ToLower(strings.TrimSpace(name))]; ok {
		return p
	}
	zap.L().Warn("input: unknown profile, using default", zap.String("profile", name))
	return profiles["default"]
}

// Options configures reading the input table.
type Options struct {
	ProfileName              string
	Range                    config.RowRange
	ConsecutiveEmptyRowsStop int
}

// ReadRows loads input rows from the workbook's first sheet. Row IDs are
// 1-indexed positions among the data rows (header excluded), stable across
// range selection.
func ReadRows(path string, opts Options) ([]model.InputRow, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "input: open %s", path)
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("input: %s has no sheets", path)
	}
	sheet := f.Sheets[0]

	profile := LookupProfile(opts.ProfileName)

	var rows []model.InputRow
	var columns map[string]int
	emptyStreak := 0
	dataRow := 0

	for i, row := range sheet.Rows {
		cells := rowToStrings(row)

		if i == 0 {
			columns = mapColumns(cells, profile)
			if _, ok := columns["CompanyName"]; !ok {
				return nil, eris.Errorf("input: no CompanyName column found in %s", path)
			}
			if _, ok := columns["GivenURL"]; !ok {
				return nil, eris.Errorf("input: no GivenURL column found in %s", path)
			}
			continue
		}

		dataRow++

		if isBlank(cells) {
			emptyStreak++
			if opts.ConsecutiveEmptyRowsStop > 0 && opts.Range.OpenEnded() &&
				emptyStreak >= opts.ConsecutiveEmptyRowsStop {
				zap.L().Info("input: stopping at consecutive empty rows",
					zap.Int("row", dataRow),
					zap.Int("streak", emptyStreak),
				)
				break
			}
			continue
		}
		emptyStreak = 0

		if !opts.Range.Contains(dataRow) {
			continue
		}

		rows = append(rows, model.InputRow{
			ID:                 dataRow,
			CompanyName:        cellAt(cells, columns, "CompanyName"),
			GivenURL:           cellAt(cells, columns, "GivenURL"),
			GivenPhoneNumber:   cellAt(cells, columns, "GivenPhoneNumber"),
			Description:        cellAt(cells, columns, "Description"),
			TargetCountryCodes: splitCodes(cellAt(cells, columns, "TargetCountryCodes")),
		})
	}

	zap.L().Info("input: loaded rows",
		zap.String("path", path),
		zap.Int("count", len(rows)),
	)
	return rows, nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}

func mapColumns(header []string, profile Profile) map[string]int {
	columns := make(map[string]int)
	for idx, raw := range header {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		for canonical, aliases := range profile.Aliases {
			if _, taken := columns[canonical]; taken {
				continue
			}
			for _, alias := range aliases {
				if name == alias {
					columns[canonical] = idx
					break
				}
			}
		}
	}
	return columns
}

func cellAt(cells []string, columns map[string]int, key string) string {
	idx, ok := columns[key]
	if !ok || idx >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[idx])
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func splitCodes(raw string) []string {
	if raw == "" {
		return nil
	}
	var codes []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			codes = append(codes, part)
		}
	}
	return codes
}
