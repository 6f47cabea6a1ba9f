package normalize

import "strings"

// CardNumber reduces a printed card number to its digits-only canonical form:
// "004/102" → "4", "#25" → "25", "000" → "0". Returns "" when no digits remain.
// CardNumber(CardNumber(x)) == CardNumber(x) for all x.
func CardNumber(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimLeft(s, "#")
	if i := strings.Index(s, "/"); i >= 0 {
		s = s[:i]
	}

	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := strings.TrimLeft(b.String(), "0")
	if digits == "" && b.Len() > 0 {
		return "0"
	}
	return digits
}
