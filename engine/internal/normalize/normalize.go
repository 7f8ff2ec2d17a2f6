// Package normalize implements the canonical name-normalisation form used
// for equality and prefix/substring matching across the Athlete Matcher and
// RaceResult persistence (spec §3): lowercase, Unicode NFD, strip combining
// marks, strip non-alphanumeric/whitespace, collapse whitespace.
package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var stripMarks = runes.Remove(runes.In(unicode.Mn))

// Name normalises a display name into its canonical comparison form. It is
// idempotent: Name(Name(x)) == Name(x).
func Name(s string) string {
	t := transform.Chain(norm.NFD, stripMarks, norm.NFC)
	decomposed, _, err := transform.String(t, s)
	if err != nil {
		decomposed = s
	}
	decomposed = strings.ToLower(decomposed)

	var b strings.Builder
	b.Grow(len(decomposed))
	lastWasSpace := false
	for _, r := range decomposed {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastWasSpace = false
		case unicode.IsSpace(r):
			if !lastWasSpace && b.Len() > 0 {
				b.WriteRune(' ')
				lastWasSpace = true
			}
		default:
			// non-alphanumeric, non-whitespace: dropped entirely
		}
	}
	return strings.TrimSpace(b.String())
}
