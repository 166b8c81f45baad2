// Package media finds remote media links in markdown text and decides which
// downloaded resources are acceptable assets.
package media

import (
	"regexp"
	"strings"
)

// urlPattern matches http(s) URLs made of word characters and !?/-_=.&%;:,
var urlPattern = regexp.MustCompile(`https?://[\w!?/\-_=.&%;:,]+`)

// DefaultSkipPrefixes lists share and search endpoints that never point at media.
var DefaultSkipPrefixes = []string{
	"https://twitter.com/intent/tweet",
	"https://twitter.com/share",
	"https://search.yahoo.co.jp/search",
}

// ExtractURLs returns every URL occurrence in text, in order of appearance.
// Repeated URLs are returned once per occurrence.
func ExtractURLs(text string) []string {
	return urlPattern.FindAllString(text, -1)
}

// ShouldSkip reports whether url starts with one of the given prefixes.
func ShouldSkip(url string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix != "" && strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
