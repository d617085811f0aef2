// Package summarizer shortens long test descriptions for display.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

var (
	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+`)
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
)

// Excerpter ranks sentences by word frequency (stopwords filtered) and keeps
// the best ones in their original order.
type Excerpter struct {
	stopwords map[string]struct{}
	maxChars  int
}

// NewExcerpter creates an excerpter. maxChars caps the excerpt length in
// runes; zero disables the cap.
func NewExcerpter(maxChars int) *Excerpter {
	return &Excerpter{stopwords: defaultStopwords(), maxChars: maxChars}
}

// Excerpt returns at most maxSentences sentences of text.
func (e *Excerpter) Excerpt(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 2
	}
	text = strings.TrimSpace(text)
	sentences := sentencePattern.FindAllString(text, -1)
	if len(sentences) <= maxSentences {
		return e.clip(text)
	}

	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range tokens(sent) {
			if _, ok := e.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := tokens(sent)
		sum := 0.0
		for _, tok := range toks {
			sum += freq[tok]
		}
		if len(toks) > 0 && maxF > 0 {
			// normalise by length so long sentences don't dominate
			sum /= maxF * math.Sqrt(float64(len(toks)))
		}
		scores[i] = scored{i, sum}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	selected := make([]int, maxSentences)
	for i := range selected {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, maxSentences)
	for _, idx := range selected {
		out = append(out, strings.TrimSpace(sentences[idx]))
	}
	return e.clip(strings.Join(out, " "))
}

func (e *Excerpter) clip(s string) string {
	if e.maxChars <= 0 || utf8.RuneCountInString(s) <= e.maxChars {
		return s
	}
	r := []rune(s)
	cut := strings.TrimSpace(string(r[:e.maxChars]))
	if i := strings.LastIndexByte(cut, ' '); i > e.maxChars/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

func tokens(text string) []string {
	return tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "should", "now",
		"test", "tests", "testing", "may", "also", "used", "help", "helps",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
