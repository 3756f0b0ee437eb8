// Package similarity provides the string and numeric comparators shared by the
// stage matchers and the result normalizer.
package similarity

import (
	"math"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// toleranceSlack absorbs float rounding at tolerance boundaries (e.g. 3.3 vs 3.0 at 10%).
const toleranceSlack = 1e-9

// fold strips diacritics and case-folds s. A new transformer and caser are
// built per call because neither is safe for concurrent use.
func fold(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return cases.Fold().String(out)
}

// Normalize folds s and keeps only letters and digits, so "TUD-100c 936/V2"
// and "tud100C936v2" compare equal.
func Normalize(s string) string {
	folded := fold(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// EqualFold reports whether a and b are equal after trimming and case folding.
// Empty strings never match.
func EqualFold(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}
	return fold(a) == fold(b)
}

// Ratio returns the normalized edit-distance similarity of a and b in [0,1]:
// 1 - distance/max(len). Empty input on either side yields 0.
func Ratio(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1
	}
	longest := utf8.RuneCountInString(na)
	if n := utf8.RuneCountInString(nb); n > longest {
		longest = n
	}
	d := levenshtein.Distance(na, nb, nil)
	return Clamp(1-float64(d)/float64(longest), 0, 1)
}

// Tokens splits s into a set of normalized words.
func Tokens(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.FieldsFunc(fold(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[w] = true
	}
	return set
}

// RelativeDiff returns |ref-v| / |ref|. Two zeros are identical; a zero
// reference against a non-zero value is infinitely different.
func RelativeDiff(ref, v float64) float64 {
	if ref == 0 {
		if v == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs(ref-v) / math.Abs(ref)
}

// WithinTolerance reports whether v is within tol (a fraction) of ref.
func WithinTolerance(ref, v, tol float64) bool {
	return RelativeDiff(ref, v) <= tol+toleranceSlack
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
