package distill

import (
	"strings"
	"unicode/utf8"
)

// charsPerToken is the estimation ratio for English-leaning web content.
const charsPerToken = 4

// wordsPerMinute is the adult silent-reading average used for the
// reading-time metric.
const wordsPerMinute = 225

// EstimateTokens estimates the token count of text without a tokenizer
// dependency: rune count over charsPerToken, minimum 1 for non-empty
// input.
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	est := n / charsPerToken
	if est < 1 {
		return 1
	}
	return est
}

// CountWords counts whitespace-separated words.
func CountWords(text string) int {
	return len(strings.Fields(text))
}

// ReadingTimeMinutes estimates reading time, minimum 1 minute for
// non-empty content.
func ReadingTimeMinutes(words int) int {
	if words == 0 {
		return 0
	}
	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		return 1
	}
	return minutes
}
