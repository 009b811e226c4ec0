// Package urlutil resolves script and resource references found in player pages.
package urlutil

import (
	"net/url"
	"strings"
)

// ResolveURL resolves a potentially relative reference against the page URL.
// It works on the raw strings so player hosts that rely on unusual characters
// in paths keep their original encoding.
func ResolveURL(ref string, pageURL string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return pageURL
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}

	// Protocol-relative: //cdn.example.com/player.js
	if strings.HasPrefix(ref, "//") {
		scheme := "https"
		if parsed, err := url.Parse(pageURL); err == nil && parsed.Scheme != "" {
			scheme = parsed.Scheme
		}
		return scheme + ":" + ref
	}

	if strings.HasPrefix(ref, "/") {
		if origin := Origin(pageURL); origin != "" {
			return origin + ref
		}
		return ref
	}

	base := pageURL
	if idx := strings.IndexAny(base, "?#"); idx > 0 {
		base = base[:idx]
	}
	pathStart := 0
	if idx := strings.Index(base, "://"); idx >= 0 {
		pathStart = idx + 3
	}
	if lastSlash := strings.LastIndex(base, "/"); lastSlash >= pathStart {
		base = base[:lastSlash+1]
	} else {
		base += "/"
	}

	for strings.HasPrefix(ref, "../") {
		ref = ref[3:]
		trimmed := strings.TrimSuffix(base, "/")
		if lastSlash := strings.LastIndex(trimmed, "/"); lastSlash >= pathStart {
			base = trimmed[:lastSlash+1]
		}
	}
	ref = strings.TrimPrefix(ref, "./")

	return base + ref
}

// Origin returns scheme://host of a URL, or "" if it cannot be parsed.
func Origin(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}
	return parsed.Scheme + "://" + parsed.Host
}

// Hostname returns the lowercase host of a URL without its port.
func Hostname(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Hostname())
}

// MatchesDomain reports whether the URL's host equals one of domains or is a
// subdomain of it.
func MatchesDomain(rawURL string, domains []string) bool {
	host := Hostname(rawURL)
	if host == "" {
		return false
	}
	for _, d := range domains {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "."))
		if d == "" {
			continue
		}
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
