// Package clean turns raw submitted fields into the values the classifier and the
// store see.
package clean

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// MaxTitleLength is counted in runes.
const MaxTitleLength = 200

// Normalize cleans a title and body. It never fails: anything unusable is replaced
// rather than rejected, and rejection is left to the classifier.
func Normalize(rawTitle, rawBody, displayName string, maxRaw int) (title, body string) {
	return Title(rawTitle, displayName), Body(rawBody, maxRaw)
}

// Title replaces control characters with spaces, substitutes a placeholder for an
// empty title and truncates to MaxTitleLength.
func Title(raw, displayName string) string {
	t := strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return ' '
		}
		return r
	}, strings.ToValidUTF8(raw, "�"))
	t = norm.NFC.String(t)
	if strings.TrimSpace(t) == "" {
		t = "Unnamed " + displayName + " Paste"
	}
	return truncate(t, MaxTitleLength)
}

// Body normalizes CRLF line endings, truncates to maxRaw runes and blanks NULs.
func Body(raw string, maxRaw int) string {
	b := strings.ToValidUTF8(raw, "�")
	b = strings.ReplaceAll(b, "\r\n", "\n")
	b = truncate(b, maxRaw)
	return strings.ReplaceAll(b, "\x00", " ")
}
func truncate(s string, n int) string {
	if n < 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
