// Package normalize implements multi-stage text normalization for ingested posts.
//
// Normalization extracts URLs, collapses whitespace and punctuation runs, and
// strips invisible characters. It is a pure transformation: it never fails past
// its boundary and re-normalizing already-normalized text is a no-op.
package normalize

import (
	"regexp"
	"strings"
)

var (
	urlPattern        = regexp.MustCompile(`(?i)https?://(?:[-\w.])+(?::\d+)?(?:/(?:[\w/_.~-])*(?:\?(?:[\w&=%.-])*)?(?:#(?:[\w.-])*)?)?`)
	whitespacePattern = regexp.MustCompile(`\s+`)
	punctRunPattern   = regexp.MustCompile(`([.!?])(?:[.!?]){2,}`)
	invisiblePattern  = regexp.MustCompile("[\u200B-\u200F\uFEFF]")
)

// Result holds the normalized text and the first URL found in the input.
type Result struct {
	Text string
	URL  string
}

// Normalize cleans raw post text and extracts the first embedded URL.
//
// All URL occurrences are removed from the body, whitespace runs (including
// newlines) collapse to a single space, runs of three or more repeated
// sentence punctuation collapse to one, and zero-width characters are
// stripped. A panic inside any stage degrades to a plain trim of the input.
func Normalize(raw string) (res Result) {
	if raw == "" {
		return Result{}
	}

	defer func() {
		if r := recover(); r != nil {
			res = Result{Text: strings.TrimSpace(raw)}
		}
	}()

	if url := urlPattern.FindString(raw); url != "" {
		res.URL = url
	}

	text := urlPattern.ReplaceAllString(raw, "")
	text = invisiblePattern.ReplaceAllString(text, "")
	text = whitespacePattern.ReplaceAllString(text, " ")
	text = punctRunPattern.ReplaceAllString(text, "$1")
	res.Text = strings.TrimSpace(text)

	return res
}

// ExtractURLs returns every URL occurrence in order of appearance.
func ExtractURLs(text string) []string {
	if text == "" {
		return nil
	}

	return urlPattern.FindAllString(text, -1)
}
