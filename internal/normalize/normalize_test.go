package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		wantText string
		wantURL  string
	}{
		{
			name:     "empty input",
			input:    "",
			wantText: "",
		},
		{
			name:     "url extracted and removed",
			input:    "Hello   world! Check https://example.com",
			wantText: "Hello world! Check",
			wantURL:  "https://example.com",
		},
		{
			name:     "first of several urls wins",
			input:    "see https://first.example.com and http://second.example.com too",
			wantText: "see and too",
			wantURL:  "https://first.example.com",
		},
		{
			name:     "url with path and query",
			input:    "read https://news.example.com/articles/42?ref=tg#top now",
			wantText: "read now",
			wantURL:  "https://news.example.com/articles/42?ref=tg#top",
		},
		{
			name:     "whitespace and newlines collapsed",
			input:    "  Multiple    spaces\n\nand\tnewlines  ",
			wantText: "Multiple spaces and newlines",
		},
		{
			name:     "punctuation runs collapsed",
			input:    "Breaking news!!!! Really???? Yes...",
			wantText: "Breaking news! Really? Yes.",
		},
		{
			name:     "double punctuation kept",
			input:    "What?? No way!!",
			wantText: "What?? No way!!",
		},
		{
			name:     "zero width characters stripped",
			input:    "zero\u200bwidth\ufeffgone",
			wantText: "zerowidthgone",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.input)
			assert.Equal(t, tt.wantText, got.Text)
			assert.Equal(t, tt.wantURL, got.URL)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"Hello   world! Check https://example.com",
		"Breaking!!!! What​ is\n\n happening???",
		"  plain already-normalized text  ",
	}

	for _, input := range inputs {
		once := Normalize(input)
		twice := Normalize(once.Text)
		assert.Equal(t, once.Text, twice.Text, "re-normalizing %q changed the text", input)
		assert.Empty(t, twice.URL)
	}
}

func TestExtractURLs(t *testing.T) {
	urls := ExtractURLs("a https://one.example.com b http://two.example.com/x")
	assert.Equal(t, []string{"https://one.example.com", "http://two.example.com/x"}, urls)

	assert.Nil(t, ExtractURLs(""))
	assert.Empty(t, ExtractURLs("no links here"))
}
