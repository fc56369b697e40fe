// Package consolidate deduplicates raw model outputs into the per-domain
// contact set: E.164 normalization, source aggregation, best-classification
// selection, and deterministic ordering.
package consolidate

import (
	"sort"
	"strings"

	"github.com/nyaruka/phonenumbers"
	"go.uber.org/zap"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// classificationPriority orders classifications from most to least
// relevant. Unlisted values (including Error_*) rank last.
var classificationPriority = map[string]int{
	"Primary":       0,
	"Secondary":     1,
	"Support":       2,
	"Low-Relevance": 3,
	"Non-Business":  4,
}

// typePriority orders number types for tie-breaking and top-contact
// selection. Unlisted types rank between Info-Hotline and
// Non-Priority-Country Contact.
var typePriority = map[string]int{
	"Main Line":                    0,
	"Sales":                        1,
	"Customer Service":             2,
	"Support":                      3,
	"Info-Hotline":                 4,
	"Non-Priority-Country Contact": 6,
	"Unknown":                      7,
}

const defaultTypePriority = 5

// excludedTypes never appear in the contact-focused reports.
var excludedTypes = map[string]bool{
	"Unknown": true,
	"Fax":     true,
	"Mobile":  true,
	"Date":    true,
	"ID":      true,
}

// ClassificationRank returns the priority rank of a classification; lower
// is better.
func ClassificationRank(classification string) int {
	if p, ok := classificationPriority[classification]; ok {
		return p
	}
	if strings.HasPrefix(classification, "Error_") {
		return 5
	}
	return 6
}

// TypeRank returns the priority rank of a number type; lower is better.
func TypeRank(numberType string) int {
	if p, ok := typePriority[numberType]; ok {
		return p
	}
	return defaultTypePriority
}

// NormalizeE164 parses a number string into E.164, trying the country
// hints in order and falling back to the default region. Returns false
// when no region yields a valid number.
func NormalizeE164(number string, hints []string, defaultRegion string) (string, bool) {
	if strings.TrimSpace(number) == "" {
		return "", false
	}

	regions := make([]string, 0, len(hints)+1)
	for _, h := range hints {
		if h = strings.ToUpper(strings.TrimSpace(h)); h != "" {
			regions = append(regions, h)
		}
	}
	if defaultRegion != "" {
		regions = append(regions, strings.ToUpper(defaultRegion))
	}

	for _, region := range regions {
		parsed, err := phonenumbers.Parse(number, region)
		if err != nil {
			continue
		}
		if phonenumbers.IsValidNumber(parsed) {
			return phonenumbers.Format(parsed, phonenumbers.E164), true
		}
	}
	return "", false
}

// Result carries the consolidated numbers for one base canonical domain.
type Result struct {
	Numbers []model.ConsolidatedNumber
	// FilteredAllOut is set when the input was non-empty but nothing
	// survived normalization.
	FilteredAllOut bool
	DroppedCount   int
}

// Consolidate merges the union of a domain's raw model outputs into a
// deduplicated, sorted contact list. hints are the domain's target country
// codes in preference order.
func Consolidate(outputs []model.PhoneNumberLLMOutput, hints []string, defaultRegion string) *Result {
	res := &Result{}
	if len(outputs) == 0 {
		return res
	}

	type aggregate struct {
		number         string
		classification string
		bestType       string
		sources        map[string]*model.ConsolidatedSource
		order          []string
	}

	byNumber := make(map[string]*aggregate)
	var numberOrder []string

	for _, out := range outputs {
		e164, ok := NormalizeE164(out.Number, hints, defaultRegion)
		if !ok {
			zap.L().Debug("consolidate: dropping unparsable number",
				zap.String("number", out.Number),
				zap.String("source", out.SourceURL),
			)
			res.DroppedCount++
			continue
		}

		agg, ok := byNumber[e164]
		if !ok {
			agg = &aggregate{
				number:         e164,
				classification: out.Classification,
				bestType:       out.Type,
				sources:        make(map[string]*model.ConsolidatedSource),
			}
			byNumber[e164] = agg
			numberOrder = append(numberOrder, e164)
		} else {
			if ClassificationRank(out.Classification) < ClassificationRank(agg.classification) ||
				(ClassificationRank(out.Classification) == ClassificationRank(agg.classification) &&
					TypeRank(out.Type) < TypeRank(agg.bestType)) {
				agg.classification = out.Classification
			}
			if TypeRank(out.Type) < TypeRank(agg.bestType) {
				agg.bestType = out.Type
			}
		}

		key := out.SourceURL + "\x00" + out.CompanyName
		if src, ok := agg.sources[key]; ok {
			src.Occurrences++
			if TypeRank(out.Type) < TypeRank(src.Type) {
				src.Type = out.Type
			}
		} else {
			agg.sources[key] = &model.ConsolidatedSource{
				SourceURL:   out.SourceURL,
				Type:        out.Type,
				CompanyName: out.CompanyName,
				Occurrences: 1,
			}
			agg.order = append(agg.order, key)
		}
	}

	if len(byNumber) == 0 {
		res.FilteredAllOut = true
		return res
	}

	for _, e164 := range numberOrder {
		agg := byNumber[e164]
		num := model.ConsolidatedNumber{
			Number:         agg.number,
			Classification: agg.classification,
		}
		for _, key := range agg.order {
			num.Sources = append(num.Sources, *agg.sources[key])
		}
		res.Numbers = append(res.Numbers, num)
	}

	sort.SliceStable(res.Numbers, func(i, j int) bool {
		ci, cj := ClassificationRank(res.Numbers[i].Classification), ClassificationRank(res.Numbers[j].Classification)
		if ci != cj {
			return ci < cj
		}
		ti, tj := bestTypeRank(res.Numbers[i]), bestTypeRank(res.Numbers[j])
		if ti != tj {
			return ti < tj
		}
		return res.Numbers[i].Number < res.Numbers[j].Number
	})

	return res
}

// bestTypeRank is the best type priority among a number's sources.
func bestTypeRank(n model.ConsolidatedNumber) int {
	best := defaultTypePriority + 10
	for _, s := range n.Sources {
		if r := TypeRank(s.Type); r < best {
			best = r
		}
	}
	return best
}

// BestType returns the highest-priority source type of a consolidated
// number.
func BestType(n model.ConsolidatedNumber) string {
	best := ""
	bestRank := defaultTypePriority + 10
	for _, s := range n.Sources {
		if r := TypeRank(s.Type); r < bestRank {
			bestRank = r
			best = s.Type
		}
	}
	return best
}

// Eligible reports whether a consolidated number qualifies for the
// contact-focused reports: relevant classification and at least one source
// type outside the excluded set.
func Eligible(n model.ConsolidatedNumber) bool {
	if n.Classification == "Non-Business" || strings.HasPrefix(n.Classification, "Error_") {
		return false
	}
	for _, s := range n.Sources {
		if !excludedTypes[s.Type] {
			return true
		}
	}
	return false
}

// EligibleNumbers filters a consolidated list to report-eligible entries,
// preserving order.
func EligibleNumbers(numbers []model.ConsolidatedNumber) []model.ConsolidatedNumber {
	var out []model.ConsolidatedNumber
	for _, n := range numbers {
		if Eligible(n) {
			out = append(out, n)
		}
	}
	return out
}
