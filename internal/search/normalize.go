package search

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var arabicFolds = strings.NewReplacer(
	"أ", "ا",
	"إ", "ا",
	"آ", "ا",
	"ٱ", "ا",
	"ى", "ي",
	"ـ", "",
)

// Normalize folds a name for comparison: diacritics and tashkeel removed,
// alef forms and alef maqsura unified, tatweel dropped, lower-cased.
func Normalize(s string) string {
	s = arabicFolds.Replace(strings.TrimSpace(s))

	// Transformers keep state, so each call builds its own chain.
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if stripped, _, err := transform.String(stripMarks, s); err == nil {
		s = stripped
	}
	s = arabicFolds.Replace(s)
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// NormalizeTerms validates and normalizes raw query terms. A term holding
// whitespace is split into several terms.
func NormalizeTerms(raw []string) ([]string, error) {
	var terms []string
	for _, r := range raw {
		terms = append(terms, strings.Fields(Normalize(r))...)
	}
	if len(terms) == 0 {
		return nil, fmt.Errorf("%w: at least one name term is required", ErrInvalidInput)
	}
	if len(terms) > MaxTerms {
		return nil, fmt.Errorf("%w: at most %d name terms are allowed", ErrInvalidInput, MaxTerms)
	}
	for _, t := range terms {
		if utf8.RuneCountInString(t) < MinTermRunes {
			return nil, fmt.Errorf("%w: term %q is shorter than %d characters", ErrInvalidInput, t, MinTermRunes)
		}
	}
	return terms, nil
}

func normalizeAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = Normalize(n)
	}
	return out
}
