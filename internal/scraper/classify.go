package scraper

import (
	"net/url"
	"strings"

	"github.com/EmiliosRichards/phone-validation-pipeline/internal/model"
)

// Ordered keyword lists for page classification; the first matching list
// wins.
var (
	contactKeywords = []string{"kontakt", "contact", "ansprechpartner"}
	imprintKeywords = []string{"impressum", "imprint"}
	legalKeywords   = []string{"legal", "datenschutz", "privacy", "agb", "terms"}
	generalKeywords = []string{"about", "ueber-uns", "unternehmen", "team", "karriere", "jobs", "standorte", "service"}
)

// ClassifyPage assigns a page type from the final landed URL. Deterministic
// and pure.
func ClassifyPage(landedURL string) model.PageType {
	if landedURL == "" {
		return model.PageTypeUnknown
	}

	u, err := url.Parse(strings.ToLower(landedURL))
	if err != nil {
		return model.PageTypeUnknown
	}
	path := u.Path

	for _, kw := range contactKeywords {
		if strings.Contains(path, kw) {
			return model.PageTypeContact
		}
	}
	for _, kw := range imprintKeywords {
		if strings.Contains(path, kw) {
			return model.PageTypeImprint
		}
	}
	for _, kw := range legalKeywords {
		if strings.Contains(path, kw) {
			return model.PageTypeLegal
		}
	}
	for _, kw := range generalKeywords {
		if strings.Contains(path, kw) {
			return model.PageTypeGeneral
		}
	}

	if path == "" || path == "/" {
		return model.PageTypeHomepage
	}
	return model.PageTypeUnknown
}
