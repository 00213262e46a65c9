package llm

import "strings"

const (
	charsPerToken      = 4
	wordBoundaryCutoff = 0.8
	truncationSuffix   = "..."
)

// EstimateTokens approximates the token count of a text. Roughly four
// characters per token, which holds well enough for budgeting prompts.
func EstimateTokens(text string) int {
	return len(text)/charsPerToken + 1
}

// TruncateToTokens shortens text to fit within maxTokens. The cut prefers
// the last word boundary when it lands deep enough into the budget,
// otherwise it cuts mid-word.
func TruncateToTokens(text string, maxTokens int) string {
	maxChars := maxTokens * charsPerToken
	if len(text) <= maxChars {
		return text
	}

	cut := text[:maxChars]
	if idx := strings.LastIndexByte(cut, ' '); idx >= int(float64(maxChars)*wordBoundaryCutoff) {
		cut = cut[:idx]
	}

	return cut + truncationSuffix
}
