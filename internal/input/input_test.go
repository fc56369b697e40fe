package input

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/config"
)

func writeWorkbook(t *testing.T, rows [][]string) string {
	t.Helper()

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Sheet1")
	require.NoError(t, err)

	for _, row := range rows {
		r := sheet.AddRow()
		for _, cell := range row {
			r.AddCell().SetString(cell)
		}
	}

	path := filepath.Join(t.TempDir(), "input.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestReadRows(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"Company Name", "URL", "Phone Number", "Description", "Target Country Codes"},
		{"Muster GmbH", "muster.de", "+49 30 12345678", "a company", "DE, AT"},
		{"Beispiel AG", "https://beispiel.ch", "", "", ""},
	})

	rows, err := ReadRows(path, Options{ProfileName: "default"})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, 1, rows[0].ID)
	assert.Equal(t, "Muster GmbH", rows[0].CompanyName)
	assert.Equal(t, "muster.de", rows[0].GivenURL)
	assert.Equal(t, "+49 30 12345678", rows[0].GivenPhoneNumber)
	assert.Equal(t, []string{"DE", "AT"}, rows[0].TargetCountryCodes)

	assert.Equal(t, 2, rows[1].ID)
	assert.Equal(t, "Beispiel AG", rows[1].CompanyName)
	assert.Empty(t, rows[1].GivenPhoneNumber)
}

func TestReadRowsGermanAliases(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"Firma", "Webseite", "Telefonnummer"},
		{"Muster GmbH", "muster.de", "030 111"},
	})

	rows, err := ReadRows(path, Options{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Muster GmbH", rows[0].CompanyName)
	assert.Equal(t, "muster.de", rows[0].GivenURL)
	assert.Equal(t, "030 111", rows[0].GivenPhoneNumber)
}

func TestReadRowsMissingRequiredColumn(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"Company Name", "Phone"},
		{"Muster GmbH", "030 111"},
	})

	_, err := ReadRows(path, Options{})
	assert.Error(t, err)
}

func TestReadRowsRange(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"CompanyName", "GivenURL"},
		{"One", "one.de"},
		{"Two", "two.de"},
		{"Three", "three.de"},
		{"Four", "four.de"},
	})

	rows, err := ReadRows(path, Options{Range: config.RowRange{Start: 2, End: 3}})
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Row IDs stay stable under range selection.
	assert.Equal(t, 2, rows[0].ID)
	assert.Equal(t, "Two", rows[0].CompanyName)
	assert.Equal(t, 3, rows[1].ID)
}

func TestReadRowsStopsOnConsecutiveEmpty(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"CompanyName", "GivenURL"},
		{"One", "one.de"},
		{"", ""},
		{"", ""},
		{"", ""},
		{"Ghost", "ghost.de"}, // past the stop point
	})

	rows, err := ReadRows(path, Options{ConsecutiveEmptyRowsStop: 3})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "One", rows[0].CompanyName)
}

func TestReadRowsEmptyStreakResets(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"CompanyName", "GivenURL"},
		{"One", "one.de"},
		{"", ""},
		{"Two", "two.de"},
		{"", ""},
		{"", ""},
	})

	rows, err := ReadRows(path, Options{ConsecutiveEmptyRowsStop: 3})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestReadRowsBoundedRangeIgnoresEmptyStop(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"CompanyName", "GivenURL"},
		{"One", "one.de"},
		{"", ""},
		{"", ""},
		{"", ""},
		{"Five", "five.de"},
	})

	// With a bounded range the empty-row heuristic does not apply.
	rows, err := ReadRows(path, Options{Range: config.RowRange{End: 5}, ConsecutiveEmptyRowsStop: 3})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestReadRowsEmptyTable(t *testing.T) {
	path := writeWorkbook(t, [][]string{
		{"CompanyName", "GivenURL"},
	})

	rows, err := ReadRows(path, Options{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}
