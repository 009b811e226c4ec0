// Package sanitize trims player pages down to the parts a sandbox needs.
package sanitize

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultAllowList holds the script src hints that are kept by default.
var DefaultAllowList = []string{"jquery", "player", "fasel"}

// strippedTags never carry the manifest and are expensive or unsafe to load.
const strippedTags = "link, style, img, iframe"

// Markup removes link, style, img and iframe elements plus every external
// script whose src contains none of the allowList substrings. Inline scripts
// are kept. On a parse failure the input is returned unchanged with the error.
func Markup(markup string, allowList []string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return markup, fmt.Errorf("failed to parse HTML: %w", err)
	}

	doc.Find(strippedTags).Remove()
	doc.Find("script[src]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		src, _ := s.Attr("src")
		return !Allowed(src, allowList)
	}).Remove()

	out, err := doc.Html()
	if err != nil {
		return markup, fmt.Errorf("failed to render HTML: %w", err)
	}
	return out, nil
}

// Allowed reports whether a script src matches one of the allow-list hints.
// Matching is a case-insensitive substring test.
func Allowed(src string, allowList []string) bool {
	src = strings.ToLower(src)
	for _, hint := range allowList {
		if hint = strings.ToLower(strings.TrimSpace(hint)); hint != "" && strings.Contains(src, hint) {
			return true
		}
	}
	return false
}
