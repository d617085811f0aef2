package dataset

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	numberedRe = regexp.MustCompile(`(?m)^\d+\.\s*`)
	bulletRe   = regexp.MustCompile(`(?m)^\s*[•\-]\s+`)
	headerRe   = regexp.MustCompile(`(?m)^#{1,6}\s*`)
	strongRe   = regexp.MustCompile(`(\*\*|__)(.*?)(\*\*|__)`)
	emphRe     = regexp.MustCompile(`(\*|_)([^*_]*?)(\*|_)`)
	markupRe   = regexp.MustCompile("[#*_~`\\[\\]]")
	spaceRe    = regexp.MustCompile(`\s+`)
)

// CleanDescription strips markdown left over from generated descriptions
// (list markers, headers, emphasis) and collapses whitespace.
func CleanDescription(text string) string {
	text = norm.NFKC.String(text)
	text = numberedRe.ReplaceAllString(text, "")
	text = bulletRe.ReplaceAllString(text, "")
	text = headerRe.ReplaceAllString(text, "")
	text = strongRe.ReplaceAllString(text, "$2")
	text = emphRe.ReplaceAllString(text, "$2")
	text = markupRe.ReplaceAllString(text, "")
	text = spaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
