package scraper

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var whitespaceRe = regexp.MustCompile(`\s+`)

// CleanHTML strips markup, scripts and styles from a page and returns the
// visible text with whitespace collapsed to single spaces.
func CleanHTML(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fallbackStrip(html)
	}

	doc.Find("script, style, noscript, template").Remove()

	text := doc.Text()
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

var tagRe = regexp.MustCompile(`<[^>]+>`)

// fallbackStrip removes tags with a regex when the document fails to parse.
func fallbackStrip(html string) string {
	text := tagRe.ReplaceAllString(html, " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
