package text

import (
	"regexp"
	"strings"
)

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	// Conservative allow-list: word characters, whitespace and common punctuation.
	// Everything else tends to be extraction noise (control chars, box drawing,
	// mangled unicode) that hurts both embedding quality and pattern matching.
	disallowedRe = regexp.MustCompile(`[^\w\s.,!?;:()\[\]{}-]`)
	newlinesRe   = regexp.MustCompile(`\n+`)
	spacesRe     = regexp.MustCompile(` +`)
)

// Clean normalizes extracted text before chunking: whitespace runs collapse
// to single spaces, characters outside the allow-list become spaces, and
// consecutive newlines merge. Clean is idempotent.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	text = whitespaceRe.ReplaceAllString(text, " ")
	text = disallowedRe.ReplaceAllString(text, " ")
	text = newlinesRe.ReplaceAllString(text, "\n")
	text = spacesRe.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
