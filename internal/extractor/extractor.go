// Package extractor pulls proxy-configuration URIs out of free text.
package extractor

import "regexp"

// Schemes are the URI prefixes recognised by Extract.
var Schemes = []string{"vless", "trojan", "ss"}

// configPattern stops a match at the first '#' or whitespace, counting Unicode
// separators (NBSP, U+2028, ...), NEL and the ASCII file/group/record/unit
// separators as whitespace. Nothing after the scheme is validated.
var configPattern = regexp.MustCompile(`(?:vless|trojan|ss)://[^\s\p{Z}\x{85}\x{1c}-\x{1f}#]+`)

// Extract returns every non-overlapping config URI in text, left to right.
// Repeats are kept; deduplication belongs to the store.
func Extract(text string) []string {
	return configPattern.FindAllString(text, -1)
}

// Scheme returns the scheme of a URI produced by Extract, or "" if it has none
// of the supported prefixes.
func Scheme(uri string) string {
	m := schemePattern.FindStringSubmatch(uri)
	if m == nil {
		return ""
	}
	return m[1]
}

var schemePattern = regexp.MustCompile(`^(vless|trojan|ss)://`)
