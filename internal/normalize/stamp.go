package normalize

import (
	"regexp"
	"strings"
)

// knownStamps maps normalized pattern phrases to their fixed tokens.
// Longer phrases must come first so "master ball pattern" wins over "master ball".
var knownStamps = []struct {
	phrase string
	token  string
}{
	{"energy symbol pattern", "ENERGY_SYMBOL_PATTERN"},
	{"master ball pattern", "MASTER_BALL_PATTERN"},
	{"poke ball pattern", "POKE_BALL_PATTERN"},
	{"pokeball pattern", "POKE_BALL_PATTERN"},
	{"energy symbol", "ENERGY_SYMBOL_PATTERN"},
	{"master ball", "MASTER_BALL_PATTERN"},
	{"poke ball", "POKE_BALL_PATTERN"},
	{"pokeball", "POKE_BALL_PATTERN"},
}

// nonStampWords are parenthetical contents that describe finish or edition,
// not a stamp.
var nonStampWords = map[string]bool{
	"holo":             true,
	"holofoil":         true,
	"non holo":         true,
	"reverse holo":     true,
	"reverse holofoil": true,
	"1st edition":      true,
	"first edition":    true,
	"unlimited":        true,
	"normal":           true,
}

var (
	lastParenRe  = regexp.MustCompile(`\(([^()]*)\)\s*$`)
	numberLikeRe = regexp.MustCompile(`^#?[0-9A-Za-z]*[0-9]+(/[0-9A-Za-z]+)?$`)
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9]+`)
)

// StampToken extracts a stamp/pattern token from a card name or label.
// Known phrases map to fixed tokens whether parenthetical or trailing;
// unrecognized parentheticals fall back to a generic UPPER_SNAKE token;
// unrecognized trailing text is not a stamp and yields nil.
func StampToken(raw string) *string {
	name := DisplayName(raw)
	if name == "" {
		return nil
	}

	if m := lastParenRe.FindStringSubmatch(name); m != nil {
		inner := strings.TrimSpace(m[1])
		if tok := knownStampToken(inner); tok != "" {
			return &tok
		}
		if inner == "" || numberLikeRe.MatchString(inner) || nonStampWords[inner] {
			// Look past a non-stamp parenthetical, e.g. "Pikachu (Master Ball) (4/102)".
			rest := strings.TrimSpace(lastParenRe.ReplaceAllString(name, ""))
			if rest == name {
				return nil
			}
			return StampToken(rest)
		}
		tok := snakeToken(inner)
		if tok == "" {
			return nil
		}
		return &tok
	}

	if tok, _, ok := trailingStampPhrase(name); ok {
		return &tok
	}
	return nil
}

// knownStampToken returns the fixed token for a phrase, tolerating a
// "pattern" suffix and punctuation.
func knownStampToken(phrase string) string {
	p := strings.TrimSpace(nonAlnumRe.ReplaceAllString(DisplayName(phrase), " "))
	for _, ks := range knownStamps {
		if p == ks.phrase {
			return ks.token
		}
	}
	return ""
}

// trailingStampPhrase detects a known pattern phrase at the end of a name.
// Returns the token, the original name with the phrase's words removed, and
// whether one was found.
func trailingStampPhrase(name string) (string, string, bool) {
	lower := DisplayName(name)
	for _, ks := range knownStamps {
		if !strings.HasSuffix(lower, ks.phrase) {
			continue
		}
		cut := len(lower) - len(ks.phrase)
		if cut == 0 || lower[cut-1] != ' ' {
			// A name that is only the phrase (the "Master Ball" trainer) is not stamped.
			continue
		}
		words := strings.Fields(name)
		n := len(strings.Fields(ks.phrase))
		if n > len(words) {
			n = len(words)
		}
		base := strings.Join(words[:len(words)-n], " ")
		base = strings.TrimSpace(strings.TrimRight(base, "- "))
		if base == "" {
			continue
		}
		return ks.token, base, true
	}
	return "", "", false
}

func snakeToken(s string) string {
	t := strings.Trim(nonAlnumRe.ReplaceAllString(DisplayName(s), "_"), "_")
	return strings.ToUpper(t)
}
