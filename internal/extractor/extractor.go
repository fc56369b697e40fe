// Package extractor locates phone-like patterns in cleaned page text and
// emits candidate items with bounded context snippets for the language
// model.
package extractor

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// phonePatterns recognize international and regional phone forms:
// optional +NN or 00NN country prefix, digit groups separated by spaces,
// hyphens, dots, slashes, or parenthesized area codes. Ordered from most
// to least specific; matches are deduplicated by position.
var phonePatterns = []*regexp.Regexp{
	// International: +49 30 1234567, 0049 (0)30 12 34 56-78
	regexp.MustCompile(`(?:\+|00)\d{1,3}[\s./-]*(?:\(0\))?[\s./-]*\d(?:[\s./-]*\d{1,6}){1,5}`),
	// Parenthesized area code: (030) 123 45 67
	regexp.MustCompile(`\(0\d{1,5}\)[\s./-]*\d(?:[\s./-]*\d{1,6}){1,5}`),
	// Domestic with separators: 030/1234567, 0711 12 34 56
	regexp.MustCompile(`\b0\d{1,5}[\s./-]+\d(?:[\s./-]*\d{1,6}){1,5}\b`),
}

// minCandidateDigits filters out matches too short to be dialable.
const minCandidateDigits = 6

// Extractor finds phone number candidates in cleaned text files.
type Extractor struct {
	snippetChars        int
	maxIdenticalPerPage int
}

// New creates an Extractor. snippetChars is the total context window split
// evenly around each match.
func New(snippetChars, maxIdenticalPerPage int) *Extractor {
	if snippetChars <= 0 {
		snippetChars = 300
	}
	if maxIdenticalPerPage <= 0 {
		maxIdenticalPerPage = 3
	}
	return &Extractor{
		snippetChars:        snippetChars,
		maxIdenticalPerPage: maxIdenticalPerPage,
	}
}

// ExtractFromFile reads a cleaned-text file and extracts candidates.
// A read failure is surfaced so the caller can record it and continue with
// the next page.
func (e *Extractor) ExtractFromFile(textPath, sourceURL, companyName string, countryHints []string) ([]model.PhoneCandidateItem, error) {
	data, err := os.ReadFile(textPath)
	if err != nil {
		return nil, eris.Wrapf(err, "extractor: read %s", textPath)
	}
	return e.Extract(string(data), sourceURL, companyName, countryHints), nil
}

// Extract scans cleaned text and emits candidate items in page order,
// capping identical numbers per page.
func (e *Extractor) Extract(text, sourceURL, companyName string, countryHints []string) []model.PhoneCandidateItem {
	type match struct {
		start, end int
	}

	var matches []match
	covered := make([]bool, len(text))
	for _, re := range phonePatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if loc[0] < len(covered) && covered[loc[0]] {
				continue
			}
			matches = append(matches, match{start: loc[0], end: loc[1]})
			for i := loc[0]; i < loc[1] && i < len(covered); i++ {
				covered[i] = true
			}
		}
	}

	// Restore page order across pattern passes.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].start < matches[j-1].start; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}

	identicalCount := make(map[string]int)
	half := e.snippetChars / 2

	var items []model.PhoneCandidateItem
	for _, m := range matches {
		raw := strings.TrimSpace(text[m.start:m.end])
		digits := digitsOf(raw)
		if len(digits) < minCandidateDigits {
			continue
		}

		identicalCount[digits]++
		if identicalCount[digits] > e.maxIdenticalPerPage {
			zap.L().Debug("extractor: identical number cap reached",
				zap.String("number", raw),
				zap.String("source", sourceURL),
			)
			continue
		}

		snipStart := m.start - half
		if snipStart < 0 {
			snipStart = 0
		}
		snipEnd := m.end + half
		if snipEnd > len(text) {
			snipEnd = len(text)
		}

		items = append(items, model.PhoneCandidateItem{
			CompanyName:  companyName,
			SourceURL:    sourceURL,
			Number:       raw,
			Snippet:      text[snipStart:snipEnd],
			CountryHints: countryHints,
		})
	}

	return items
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
