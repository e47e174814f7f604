package similarity

import (
	"regexp"
	"strings"
)

var (
	htmlTagPattern  = regexp.MustCompile(`<[^>]*>`)
	bbcodePattern   = regexp.MustCompile(`\[/?[a-zA-Z][^\]]*\]`)
	markdownPattern = regexp.MustCompile(`(\*{1,2}|_{1,2}|~~)`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)
)

var punctuationReplacer = strings.NewReplacer(
	"“", `"`, // left double quote
	"”", `"`, // right double quote
	"‘", "'", // left single quote
	"’", "'", // right single quote
	"–", "-", // en dash
	"—", "-", // em dash
	"…", "...",
	" ", " ", // non-breaking space
)

// Normalize prepares text for similarity scoring: inline markup is stripped
// (printf-style placeholders like %s and %1$d survive because none of the
// markup patterns can match them), whitespace runs collapse to single spaces,
// typographic quotes and dashes fold to their ASCII forms and the result is
// lowercased. Deterministic: equal inputs always normalize identically.
func Normalize(text string) string {
	s := htmlTagPattern.ReplaceAllString(text, " ")
	s = bbcodePattern.ReplaceAllString(s, " ")
	s = markdownPattern.ReplaceAllString(s, "")
	s = punctuationReplacer.Replace(s)
	s = whitespaceRuns.ReplaceAllString(s, " ")
	s = strings.TrimSpace(s)
	return strings.ToLower(s)
}

// Tokenize splits normalized text into words.
func Tokenize(normalized string) []string {
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}
