// Package analyzer shrinks scraped source text to fit a prompt budget while
// keeping the sentences that talk about the query.
package analyzer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxRunes is the source budget handed to the rewrite prompt.
const DefaultMaxRunes = 60000

type sentence struct {
	text      string
	lower     string
	paragraph int
	runes     int
}

// Condense returns text unchanged when it fits in maxRunes. Otherwise it keeps
// sentences mentioning any word of query first, then fills the remaining
// budget with other sentences, preserving the original order and paragraph
// breaks.
func Condense(text, query string, maxRunes int) string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	if utf8.RuneCountInString(text) <= maxRunes {
		return text
	}

	sentences := splitSentences(text)
	terms := queryTerms(query)
	keep := make([]bool, len(sentences))
	budget := maxRunes

	pick := func(match bool) {
		for i, s := range sentences {
			if keep[i] || containsAny(s.lower, terms) != match {
				continue
			}
			// +1 for the joining separator.
			if s.runes+1 > budget {
				continue
			}
			keep[i] = true
			budget -= s.runes + 1
		}
	}
	if len(terms) > 0 {
		pick(true)
	}
	pick(false)

	var b strings.Builder
	prev := -1
	for i, s := range sentences {
		if !keep[i] {
			continue
		}
		switch {
		case prev == -1:
		case s.paragraph != prev:
			b.WriteByte('\n')
		default:
			b.WriteByte(' ')
		}
		b.WriteString(s.text)
		prev = s.paragraph
	}
	if b.Len() == 0 {
		return truncateRunes(text, maxRunes)
	}
	return b.String()
}

// queryTerms lower-cases the words of query and trims inflection endings so
// "погода" also matches "погоды".
func queryTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsDigit(r) })
		if w == "" {
			continue
		}
		if n := utf8.RuneCountInString(w); n > 5 {
			w = truncateRunes(w, n-2)
		}
		terms = append(terms, w)
	}
	return terms
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}

// splitSentences splits every line of text on '.', '!' and '?', keeping the
// delimiter with its sentence.
func splitSentences(text string) []sentence {
	out := make([]sentence, 0, len(text)/50+1)
	for p, line := range strings.Split(text, "\n") {
		start := 0
		add := func(end int) {
			if s := strings.TrimSpace(line[start:end]); s != "" {
				out = append(out, sentence{
					text:      s,
					lower:     strings.ToLower(s),
					paragraph: p,
					runes:     utf8.RuneCountInString(s),
				})
			}
			start = end
		}
		for i, r := range line {
			if r == '.' || r == '!' || r == '?' {
				add(i + 1)
			}
		}
		if start < len(line) {
			add(len(line))
		}
	}
	return out
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
