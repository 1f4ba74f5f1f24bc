// Package topic measures how much of a text is about a configured set of
// terms. The corpus builder uses it to keep one recurring subject from
// dominating the sample, and the acceptance filter uses it to reject
// freshly generated text that is mostly about that subject.
package topic

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)

// maxSuffix is how many trailing characters a word may have beyond a term
// and still count as that term ("latte" matches "lattes", "brew" matches
// "brewing").
const maxSuffix = 3

// Tokenize lower-cases text, strips punctuation and diacritics, and splits
// it into words.
func Tokenize(text string) []string {
	// transform chains carry state; build one per call.
	fold := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	bare := strings.ToLower(nonTokenChars.ReplaceAllString(text, " "))
	folded, _, err := transform.String(fold, bare)
	if err != nil {
		slog.Warn("unicode normalization error", "error", err)
		folded = bare
	}
	return strings.Fields(folded)
}

// Matcher reports the share of a text's words that match its terms.
type Matcher struct {
	terms []string
}

// NewMatcher builds a Matcher over terms. Terms are tokenized the same way
// as text, so multi-word terms contribute each of their words.
func NewMatcher(terms []string) *Matcher {
	seen := make(map[string]bool)
	m := &Matcher{}
	for _, term := range terms {
		for _, tok := range Tokenize(term) {
			if !seen[tok] {
				seen[tok] = true
				m.terms = append(m.terms, tok)
			}
		}
	}
	return m
}

// Empty reports whether the matcher has no terms. A nil Matcher is empty.
func (m *Matcher) Empty() bool {
	return m == nil || len(m.terms) == 0
}

// Fraction returns matching words / total words, or 0 for text with no words.
func (m *Matcher) Fraction(text string) float64 {
	if m.Empty() {
		return 0
	}
	words := Tokenize(text)
	if len(words) == 0 {
		return 0
	}
	hits := 0
	for _, w := range words {
		if m.matches(w) {
			hits++
		}
	}
	return float64(hits) / float64(len(words))
}

// Exceeds reports whether the matching fraction of text is strictly above
// threshold.
func (m *Matcher) Exceeds(text string, threshold float64) bool {
	if m.Empty() {
		return false
	}
	return m.Fraction(text) > threshold
}

func (m *Matcher) matches(word string) bool {
	for _, term := range m.terms {
		if word == term {
			return true
		}
		if strings.HasPrefix(word, term) && len(word)-len(term) <= maxSuffix {
			return true
		}
	}
	return false
}
