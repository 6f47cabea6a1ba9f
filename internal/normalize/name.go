// Package normalize canonicalizes provider and catalog identity strings
// (card numbers, stamp tokens, display names) so they can be compared.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var multiSpaceRe = regexp.MustCompile(`\s+`)

// DisplayName standardizes a display name for fuzzy comparison by:
//  1. Decomposing and stripping diacritics ("Poké" → "Poke")
//  2. Converting to lowercase
//  3. Collapsing whitespace runs into single spaces
func DisplayName(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, value)
	if err != nil {
		stripped = value
	}

	stripped = strings.ToLower(stripped)
	stripped = multiSpaceRe.ReplaceAllString(stripped, " ")
	return strings.TrimSpace(stripped)
}

var (
	trailingParenRe  = regexp.MustCompile(`\s*\([^()]*\)\s*$`)
	trailingNumberRe = regexp.MustCompile(`\s+-\s+#?[0-9A-Za-z]*[0-9]+(/[0-9A-Za-z]+)?\s*$`)
)

// StripVariantSuffix removes trailing parentheticals, a known trailing
// pattern phrase, and a trailing " - 4/102" number suffix from a card name.
func StripVariantSuffix(name string) string {
	out := strings.TrimSpace(name)
	for {
		prev := out
		out = trailingParenRe.ReplaceAllString(out, "")
		out = trailingNumberRe.ReplaceAllString(out, "")
		if _, base, ok := trailingStampPhrase(out); ok {
			out = base
		}
		out = strings.TrimSpace(out)
		if out == prev {
			break
		}
	}
	return out
}
