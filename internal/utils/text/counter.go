// Package text provides utilities for text processing and analysis shared
// by the summarization pipeline: rune-accurate length checks, word counting
// against the summary word target, and sentence extraction for the
// extractive fallback.
package text

import "strings"

// CountRunes counts the number of Unicode characters (runes) in the given text.
// This function correctly handles multi-byte characters including accented
// scripts and emoji by counting runes instead of bytes.
//
// Examples:
//
//	CountRunes("hello")          // returns 5 (ASCII text)
//	CountRunes("héllo")          // returns 5 (accented text)
//	CountRunes("Hello👋")         // returns 6 (text with emoji)
//	CountRunes("")               // returns 0 (empty string)
func CountRunes(text string) int {
	return len([]rune(text))
}

// CountWords counts whitespace-separated words, the unit the summary
// length target is expressed in.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// FirstSentence returns the text up to and including the first sentence
// terminator, or the whole text when none is found. Used by the extractive
// summary fallback.
func FirstSentence(text string) string {
	trimmed := strings.TrimSpace(text)
	for i, r := range trimmed {
		if r == '.' || r == '!' || r == '?' {
			return strings.TrimSpace(trimmed[:i+1])
		}
	}
	return trimmed
}
