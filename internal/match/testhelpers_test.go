package match

import (
	"go.uber.org/zap"

	"github.com/sells-group/cardsync/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func strPtr(s string) *string { return &s }

func floatPtr(f float64) *float64 { return &f }

func variant(id, printing, condition string) model.ProviderVariant {
	return model.ProviderVariant{
		ID:        id,
		Printing:  printing,
		Condition: condition,
		Language:  "English",
		Price:     floatPtr(10),
	}
}

func charizardCanon() model.CanonicalCard {
	return model.CanonicalCard{Slug: "charizard-base-4", Name: "Charizard", SetName: "Base Set", CardNumber: "4"}
}

func charizardPrinting() model.Printing {
	return model.Printing{
		ID:            "base1-4-holo",
		CanonicalSlug: "charizard-base-4",
		CardNumber:    "4",
		Finish:        model.FinishHolo,
		Edition:       model.EditionUnknown,
		Language:      "EN",
	}
}
