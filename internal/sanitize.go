package internal

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const maxSanitizedLength = 512

// SanitizeString makes user input safe to put into a log line.
// Control characters are replaced and the result is truncated.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	if len(s) > maxSanitizedLength {
		cut := maxSanitizedLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}
