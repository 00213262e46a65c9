// Package language classifies post text into a 2-letter ISO 639-1 code.
//
// Detection is a script-ratio heuristic with an English stopword check. It is
// pure, never errors, and falls back conservatively: too-short input is
// "unknown", low-alphabetic input (URLs, numeric noise) defaults to "en".
package language

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Unknown is returned when the input is too short or ambiguous to classify.
const Unknown = "unknown"

const (
	defaultCode = "en"

	minDetectRunes = 3
	minSafeRunes   = 5

	// Inputs below this alphabetic density are treated as noise and skip the
	// classifier entirely.
	minAlphaRatio = 0.3

	cyrillicThreshold = 0.3
	latinThreshold    = 0.5
	greekThreshold    = 0.2

	englishStopwordMin   = 1
	englishStopwordRatio = 0.08
)

var codeSeparator = regexp.MustCompile(`[_-]`)

// Detector quirks canonicalized to ISO 639-1.
var codeAliases = map[string]string{
	"ua": "uk",
}

var englishStopwords = map[string]struct{}{
	"the": {}, "and": {}, "of": {}, "to": {}, "in": {}, "is": {}, "for": {}, "on": {}, "with": {},
	"as": {}, "by": {}, "from": {}, "at": {}, "that": {}, "this": {}, "be": {}, "are": {}, "was": {},
	"were": {}, "has": {}, "have": {}, "will": {}, "its": {}, "it": {},
}

// Detect returns a 2-letter language code for the text, or Unknown when the
// text is shorter than 3 runes. Classifier misses default to "en".
func Detect(text string) string {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minDetectRunes {
		return Unknown
	}

	if alphabeticRatio(trimmed) < minAlphaRatio {
		return defaultCode
	}

	code := classify(trimmed)
	if code == "" {
		return defaultCode
	}

	return NormalizeCode(code)
}

// DetectSafe is the stricter variant used on the ingestion path. Very short
// input that the raw detector would default to "en" is collapsed to Unknown
// to avoid false confidence.
func DetectSafe(text string) string {
	trimmed := strings.TrimSpace(text)
	if utf8.RuneCountInString(trimmed) < minDetectRunes {
		return Unknown
	}

	code := Detect(text)
	if code == defaultCode && utf8.RuneCountInString(trimmed) < minSafeRunes {
		return Unknown
	}

	return code
}

// NormalizeCode canonicalizes a detector result to a 2-letter lowercase code,
// handling locale suffixes ("en_US", "en-GB") and known detector quirks.
func NormalizeCode(code string) string {
	normalized := strings.ToLower(strings.TrimSpace(code))
	if normalized == "" {
		return defaultCode
	}

	normalized = codeSeparator.Split(normalized, 2)[0]
	if len(normalized) > 2 {
		normalized = normalized[:2]
	}

	if alias, ok := codeAliases[normalized]; ok {
		return alias
	}

	return normalized
}

func alphabeticRatio(text string) float64 {
	total := 0
	alpha := 0

	for _, r := range text {
		total++

		if unicode.IsLetter(r) {
			alpha++
		}
	}

	if total == 0 {
		return 0
	}

	return float64(alpha) / float64(total)
}

// classify returns a language code based on script ratios, or "" when the
// script mix is inconclusive.
func classify(text string) string {
	latinCount, cyrillicCount, greekCount, totalLetters, hasUkrainian := countScriptRunes(text)
	if totalLetters == 0 {
		return ""
	}

	cyrillicRatio := float64(cyrillicCount) / float64(totalLetters)
	latinRatio := float64(latinCount) / float64(totalLetters)
	greekRatio := float64(greekCount) / float64(totalLetters)

	if cyrillicRatio >= cyrillicThreshold {
		if hasUkrainian {
			return "uk"
		}

		return "ru"
	}

	if greekRatio >= greekThreshold {
		return "el"
	}

	if latinRatio >= latinThreshold {
		if isLikelyEnglish(text) {
			return "en"
		}

		return ""
	}

	return ""
}

func countScriptRunes(text string) (latinCount, cyrillicCount, greekCount, totalLetters int, hasUkrainian bool) {
	for _, r := range text {
		if !unicode.IsLetter(r) {
			continue
		}

		totalLetters++

		switch {
		case isCyrillic(r):
			cyrillicCount++

			if isUkrainianLetter(r) {
				hasUkrainian = true
			}
		case isGreek(r):
			greekCount++
		case isLatin(r):
			latinCount++
		}
	}

	return
}

func isCyrillic(r rune) bool {
	return (r >= 0x0400 && r <= 0x04FF) ||
		(r >= 0x0500 && r <= 0x052F) // Cyrillic Supplement
}

func isLatin(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') ||
		(r >= 0x00C0 && r <= 0x00FF) || // Latin-1 Supplement
		(r >= 0x0100 && r <= 0x017F) // Latin Extended-A
}

func isGreek(r rune) bool {
	return (r >= 0x0370 && r <= 0x03FF) ||
		(r >= 0x1F00 && r <= 0x1FFF) // Greek Extended
}

func isUkrainianLetter(r rune) bool {
	switch r {
	case 'і', 'ї', 'є', 'ґ', 'І', 'Ї', 'Є', 'Ґ':
		return true
	default:
		return false
	}
}

func isLikelyEnglish(text string) bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	if len(words) == 0 {
		return false
	}

	matches := 0

	for _, w := range words {
		if _, ok := englishStopwords[w]; ok {
			matches++
		}
	}

	if matches < englishStopwordMin {
		return false
	}

	return float64(matches)/float64(len(words)) >= englishStopwordRatio
}
