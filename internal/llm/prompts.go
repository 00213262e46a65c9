package llm

import (
	"fmt"
	"strings"
)

const summaryPromptTemplate = `You are a news analyst preparing a briefing from Telegram channel posts.
Write the briefing in %s.

Structure the output as Markdown:
# [Headline capturing the main story of the period]
## Key Developments
- The most important items, one bullet each, most significant first.
## What Changed
- New facts or shifts compared to what was previously known.

Be factual and concise. Do not invent details that are not in the posts.
Attribute claims to their source channel when sources disagree.`

const mergePromptTemplate = `You are a news analyst. Below are several partial briefings covering
different subsets of the same reporting period. Merge them into one
coherent briefing in %s, deduplicating overlapping items and keeping
the same Markdown structure:
# [Headline]
## Key Developments
## What Changed

Do not add information that is absent from the partial briefings.`

const alertClassifierPrompt = `You are a monitoring assistant. Decide whether the post below matches the
alert intent. Answer with strict JSON only, no prose:
{"matched": true|false, "reason": "one short sentence"}`

// SummaryMessages builds the chat turns for summarizing one chunk of posts.
func SummaryMessages(targetLang string, posts []string) []Message {
	var sb strings.Builder
	for i, p := range posts {
		fmt.Fprintf(&sb, "[%d] %s\n\n", i+1, p)
	}

	return []Message{
		{Role: RoleSystem, Content: fmt.Sprintf(summaryPromptTemplate, langName(targetLang))},
		{Role: RoleUser, Content: sb.String()},
	}
}

// MergeMessages builds the chat turns for merging per-chunk briefings.
func MergeMessages(targetLang string, partials []string) []Message {
	var sb strings.Builder
	for i, p := range partials {
		fmt.Fprintf(&sb, "--- Partial briefing %d ---\n%s\n\n", i+1, p)
	}

	return []Message{
		{Role: RoleSystem, Content: fmt.Sprintf(mergePromptTemplate, langName(targetLang))},
		{Role: RoleUser, Content: sb.String()},
	}
}

// ClassifierMessages builds the chat turns for the semantic alert check.
func ClassifierMessages(ruleDescription, postText string) []Message {
	user := fmt.Sprintf("Alert intent: %s\n\nPost:\n%s", ruleDescription, postText)

	return []Message{
		{Role: RoleSystem, Content: alertClassifierPrompt},
		{Role: RoleUser, Content: user},
	}
}

var languageNames = map[string]string{
	"en": "English",
	"ru": "Russian",
	"uk": "Ukrainian",
	"de": "German",
	"fr": "French",
	"es": "Spanish",
	"el": "Greek",
}

func langName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}

	if code == "" {
		return "English"
	}

	return code
}
