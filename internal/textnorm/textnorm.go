// Package textnorm prepares raw memorial text for pattern matching.
package textnorm

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var (
	upper = cases.Upper(language.BrazilianPortuguese)

	// NFKC would fold º to o and ″ to ′′, which the coordinate patterns need.
	compose = norm.NFC

	spaceReplacer = strings.NewReplacer(
		"\r\n", "\n",
		"\r", "\n",
		"\u00a0", " ",
		"\u2007", " ",
		"\u202f", " ",
		"\t", " ",
	)
)

// Normalize uppercases text using Brazilian Portuguese rules, composes
// accents, unifies line endings and non-breaking spaces. Degree, minute and
// second marks, quotes and hyphens are left untouched.
func Normalize(text string) string {
	if text == "" {
		return ""
	}
	s := compose.String(text)
	s = spaceReplacer.Replace(s)
	return upper.String(s)
}

// Fold removes accents and uppercases s; used for lookups such as state
// names where "PARANÁ" and "PARANA" must match.
func Fold(s string) string {
	decomposed := norm.NFD.String(strings.TrimSpace(s))
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if r >= 0x0300 && r <= 0x036f {
			continue
		}
		b.WriteRune(r)
	}
	return upper.String(b.String())
}
