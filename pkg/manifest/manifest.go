// Package manifest finds and cleans HLS manifest URLs in page markup.
package manifest

import (
	"regexp"
	"strings"
)

// Pattern matches an http(s) URL whose path contains ".m3u8", ending at the
// first whitespace or quote.
var Pattern = regexp.MustCompile(`https?://[^\s"']+\.m3u8[^\s"']*`)

// Scan returns the first manifest URL in markup with backslash escapes
// removed, or "" when there is none.
func Scan(markup string) string {
	match := Pattern.FindString(markup)
	if match == "" {
		return ""
	}
	return strings.ReplaceAll(match, `\`, "")
}

// Find returns the first raw pattern match in markup without unescaping.
func Find(markup string) string {
	return Pattern.FindString(markup)
}

// Normalize truncates raw at the first quote, comma or backslash.
func Normalize(raw string) string {
	if idx := strings.IndexAny(raw, `"',\`); idx >= 0 {
		return raw[:idx]
	}
	return raw
}

// Looks reports whether s contains a manifest extension.
func Looks(s string) bool {
	return strings.Contains(s, ".m3u8")
}
