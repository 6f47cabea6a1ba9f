package normalize

import (
	"strings"

	"github.com/sells-group/cardsync/internal/model"
)

// Finish maps a provider printing label ("Holofoil", "Reverse Holofoil",
// "1st Edition Normal", ...) to an internal finish.
func Finish(label string) model.Finish {
	l := DisplayName(label)
	switch {
	case l == "":
		return model.FinishUnknown
	case strings.Contains(l, "reverse"):
		return model.FinishReverseHolo
	case strings.Contains(l, "cosmos"), strings.Contains(l, "cracked ice"), strings.Contains(l, "etched"):
		return model.FinishAltHolo
	case strings.Contains(l, "non-holo"), strings.Contains(l, "non holo"), strings.Contains(l, "normal"):
		return model.FinishNonHolo
	case strings.Contains(l, "holo"), strings.Contains(l, "foil"):
		return model.FinishHolo
	case l == "unlimited", l == "1st edition", l == "first edition":
		// Older sets label the non-holo printing by edition alone.
		return model.FinishNonHolo
	default:
		return model.FinishUnknown
	}
}

// Edition maps a provider printing label to an internal edition. Labels
// that do not mention an edition map to UNKNOWN.
func Edition(label string) model.Edition {
	l := DisplayName(label)
	switch {
	case strings.Contains(l, "1st edition"), strings.Contains(l, "first edition"):
		return model.EditionFirstEdition
	case strings.Contains(l, "unlimited"):
		return model.EditionUnlimited
	default:
		return model.EditionUnknown
	}
}

// Language maps a provider language label to a short code. Empty means English.
func Language(label string) string {
	switch DisplayName(label) {
	case "", "english", "en":
		return "EN"
	case "japanese", "ja", "jp":
		return "JA"
	case "korean", "ko", "kr":
		return "KO"
	case "chinese", "zh", "simplified chinese", "traditional chinese":
		return "ZH"
	case "french", "fr":
		return "FR"
	case "german", "de":
		return "DE"
	case "italian", "it":
		return "IT"
	case "spanish", "es":
		return "ES"
	case "portuguese", "pt":
		return "PT"
	default:
		return strings.ToUpper(strings.TrimSpace(label))
	}
}

// Condition is the normalized condition grade of a raw provider variant.
type Condition int

const (
	ConditionUnknown Condition = iota
	ConditionDamaged
	ConditionHeavilyPlayed
	ConditionModeratelyPlayed
	ConditionLightlyPlayed
	ConditionNearMint
)

// ParseCondition maps provider condition labels ("Near Mint", "NM", "Lightly Played") to a Condition.
func ParseCondition(label string) Condition {
	switch DisplayName(label) {
	case "near mint", "nm", "mint", "near mint or better":
		return ConditionNearMint
	case "lightly played", "lp", "excellent":
		return ConditionLightlyPlayed
	case "moderately played", "mp", "played":
		return ConditionModeratelyPlayed
	case "heavily played", "hp", "poor":
		return ConditionHeavilyPlayed
	case "damaged", "dmg":
		return ConditionDamaged
	default:
		return ConditionUnknown
	}
}
