package chat

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxNameRunes = 32
	maxTextRunes = 10000

	maxFileNameRunes = 255
)

// display names never carry markup
var namePolicy = bluemonday.StrictPolicy()

// SanitizeName strips markup and control characters from a display name.
// Empty results become "anon". No minimum length is enforced.
func SanitizeName(name string) string {
	stripped := html.UnescapeString(namePolicy.Sanitize(name))
	clean := sanitizeString(stripped, maxNameRunes)
	if clean == "" {
		return "anon"
	}
	return clean
}

// SanitizeText removes control characters from message text and caps its length.
func SanitizeText(text string) string {
	return sanitizeString(text, maxTextRunes)
}

// sanitizeString removes control characters except tab and newline, drops
// replacement characters and truncates to maxLen runes.
func sanitizeString(s string, maxLen int) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			continue
		}
		if r == unicode.ReplacementChar {
			continue
		}
		if n == maxLen {
			break
		}
		b.WriteRune(r)
		n++
	}
	return strings.TrimSpace(b.String())
}
