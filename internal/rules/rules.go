// Package rules evaluates filter and alert rules against post text.
//
// Three rule kinds are supported:
//   - Keyword: comma-separated terms, case-insensitive substring match
//   - Regex: case-insensitive pattern match
//   - Language: post's detected language equals the rule's code
package rules

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"
)

const (
	KindKeyword  = "keyword"
	KindRegex    = "regex"
	KindLanguage = "language"
)

// Pattern is a compiled rule pattern. Implementations are the only
// three rule kinds; the unexported method keeps the set closed.
type Pattern interface {
	matches(m *Matcher, text, textLang string) bool
}

// Keyword matches when any of its terms occurs in the text.
type Keyword struct {
	Terms []string
}

func (k Keyword) matches(m *Matcher, text, _ string) bool {
	folded := m.caser.String(text)

	for _, term := range k.Terms {
		if term != "" && strings.Contains(folded, m.caser.String(term)) {
			return true
		}
	}

	return false
}

// Regex matches when the compiled expression finds the text. An
// expression that failed to compile never matches.
type Regex struct {
	expr  *regexp.Regexp
	src   string
	valid bool
}

func (r Regex) matches(m *Matcher, text, _ string) bool {
	if !r.valid {
		m.logger.Warn().Str("pattern", r.src).Msg("skipping invalid regex rule")

		return false
	}

	return r.expr.MatchString(text)
}

// Source returns the original regex source text.
func (r Regex) Source() string { return r.src }

// LanguageEquals matches when the post's detected language equals Code.
type LanguageEquals struct {
	Code string
}

func (l LanguageEquals) matches(_ *Matcher, _, textLang string) bool {
	return l.Code != "" && strings.EqualFold(l.Code, textLang)
}

// Compile builds a Pattern from a stored rule kind and pattern string.
// Unknown kinds and invalid regexes compile to patterns that never match.
func Compile(kind, pattern string) Pattern {
	switch kind {
	case KindRegex:
		expr, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return Regex{src: pattern}
		}

		return Regex{expr: expr, src: pattern, valid: true}
	case KindLanguage:
		return LanguageEquals{Code: strings.ToLower(strings.TrimSpace(pattern))}
	case KindKeyword:
		fallthrough
	default:
		var terms []string
		for _, t := range strings.Split(pattern, ",") {
			if t = strings.TrimSpace(t); t != "" {
				terms = append(terms, t)
			}
		}

		return Keyword{Terms: terms}
	}
}

// Rule is an active filter or alert rule loaded from storage.
type Rule struct {
	ID         string
	Name       string
	Pattern    Pattern
	PatternSrc string
	Language   string
	Recipients string
}

// Matcher evaluates rules against post text.
type Matcher struct {
	caser  cases.Caser
	logger *zerolog.Logger
}

// NewMatcher creates a Matcher.
func NewMatcher(logger *zerolog.Logger) *Matcher {
	return &Matcher{
		caser:  cases.Fold(),
		logger: logger,
	}
}

// Matches evaluates one rule. A rule with a language scope only applies
// when the post's detected language equals that scope.
func (m *Matcher) Matches(text, textLang string, rule Rule) bool {
	if rule.Language != "" && !strings.EqualFold(rule.Language, textLang) {
		return false
	}

	if rule.Pattern == nil {
		return false
	}

	return rule.Pattern.matches(m, text, textLang)
}

// FirstMatch evaluates rules in order and returns the first one that
// matches, short-circuiting the rest. Used for filter exclusion.
func (m *Matcher) FirstMatch(text, textLang string, ruleSet []Rule) (Rule, bool) {
	for _, rule := range ruleSet {
		if m.Matches(text, textLang, rule) {
			return rule, true
		}
	}

	return Rule{}, false
}

// MatchAll evaluates every rule and returns all that match. Used for
// alert attribution where several rules may fire on one post.
func (m *Matcher) MatchAll(text, textLang string, ruleSet []Rule) []Rule {
	var matched []Rule

	for _, rule := range ruleSet {
		if m.Matches(text, textLang, rule) {
			matched = append(matched, rule)
		}
	}

	return matched
}
