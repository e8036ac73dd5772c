package transcript

import (
	"strings"
	"unicode/utf8"
)

// Truncate caps text at maxChars characters. When a sentence boundary exists
// within the last 20% of the window it cuts there instead of mid-sentence;
// either way the result never splits a UTF-8 rune. maxChars <= 0 means no
// truncation.
func Truncate(text string, maxChars int) string {
	if maxChars <= 0 || len(text) <= maxChars {
		return text
	}

	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	window := text[:cut]

	floor := maxChars - maxChars/5
	if idx := lastSentenceEnd(window); idx >= floor {
		return strings.TrimSpace(window[:idx+1])
	}
	return strings.TrimSpace(window)
}

// lastSentenceEnd returns the index of the last sentence-terminating
// punctuation in s, or -1.
func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		switch s[i] {
		case '.', '!', '?':
			return i
		}
	}
	return -1
}
