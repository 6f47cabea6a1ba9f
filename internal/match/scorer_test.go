package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cardsync/internal/model"
)

func TestDefaultWeights_Ordering(t *testing.T) {
	w := DefaultWeights()
	assert.Greater(t, w.Number, w.Finish)
	assert.Greater(t, w.Finish, w.Stamp)
	assert.GreaterOrEqual(t, w.Stamp, w.BaseNoStamp)
	assert.Greater(t, w.BaseNoStamp, w.NameExact)
	assert.Greater(t, w.NameExact, w.NameContains)
	assert.Greater(t, w.NameContains, w.ConditionNM)
	assert.Greater(t, w.ConditionNM, w.ConditionLP)
	assert.Greater(t, w.ConditionLP, w.ConditionMP)
	assert.Greater(t, w.ConditionMP, w.ConditionHP)
	assert.GreaterOrEqual(t, w.ConditionHP, w.Language)
	assert.Greater(t, w.Finish, w.Edition)
	assert.Equal(t, w.Number+w.Finish+w.Stamp+w.NameExact+w.ConditionNM+w.Language, w.MaxScore)
}

func TestScore_FullMatch(t *testing.T) {
	s := NewScorer(DefaultWeights())
	canon := charizardCanon()
	card := &model.ProviderCard{ID: "c1", Name: "Charizard", Number: "004/102"}
	v := variant("v1", "Holofoil", "Near Mint")

	c, ok := s.Score(card, &v, charizardPrinting(), &canon)
	require.True(t, ok)
	assert.Equal(t, 100+40+20+15+6+1, c.Score)
	assert.Equal(t, []string{ReasonNumber, ReasonFinish, ReasonBaseNoStamp, ReasonNameExact, "condition_nm", ReasonLanguage}, c.Reasons)
	assert.Empty(t, c.Rejections)
}

func TestScore_EditionBonus(t *testing.T) {
	s := NewScorer(DefaultWeights())
	canon := charizardCanon()
	card := &model.ProviderCard{ID: "c1", Name: "Charizard", Number: "4"}
	first := charizardPrinting()
	first.Edition = model.EditionFirstEdition

	labelled := variant("v-1st", "1st Edition Holofoil", "Near Mint")
	c, ok := s.Score(card, &labelled, first, &canon)
	require.True(t, ok)
	assert.Contains(t, c.Reasons, ReasonEdition)
	assert.Equal(t, 100+40+10+20+15+6+1, c.Score)
	assert.InDelta(t, 1.0, s.Confidence(c.Score), 0.0001)

	plain := variant("v-plain", "Holofoil", "Near Mint")
	c, ok = s.Score(card, &plain, first, &canon)
	require.True(t, ok)
	assert.NotContains(t, c.Reasons, ReasonEdition)
	assert.Equal(t, 100+40+20+15+6+1, c.Score)

	// Unknown printing edition neither rejects nor rewards.
	c, ok = s.Score(card, &labelled, charizardPrinting(), &canon)
	require.True(t, ok)
	assert.NotContains(t, c.Reasons, ReasonEdition)
}

func TestWeights_Validate(t *testing.T) {
	require.NoError(t, DefaultWeights().Validate())

	tests := []struct {
		name   string
		mutate func(w *Weights)
		want   string
	}{
		{"finish above number", func(w *Weights) { w.Number, w.Finish = 1, 500 }, "number (1) must exceed finish (500)"},
		{"stamp above finish", func(w *Weights) { w.Stamp = 45 }, "finish (40) must exceed stamp (45)"},
		{"edition at finish", func(w *Weights) { w.Edition = 40 }, "edition (40)"},
		{"negative edition", func(w *Weights) { w.Edition = -1 }, "edition (-1)"},
		{"base above stamp", func(w *Weights) { w.BaseNoStamp = 30 }, "stamp (25) must be at least base_no_stamp (30)"},
		{"contains above exact", func(w *Weights) { w.NameContains = 15 }, "name_exact (15) must exceed name_contains (15)"},
		{"condition above name", func(w *Weights) { w.ConditionNM = 9 }, "name_contains (8) must exceed condition_nm (9)"},
		{"condition order", func(w *Weights) { w.ConditionLP = 1 }, "condition_lp (1) must exceed condition_mp (2)"},
		{"zero language", func(w *Weights) { w.Language = 0 }, "language (0)"},
		{"zero max score", func(w *Weights) { w.MaxScore = 0 }, "max_score must be > 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := DefaultWeights()
			tt.mutate(&w)
			err := w.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestScore_HardRejections(t *testing.T) {
	s := NewScorer(DefaultWeights())
	canon := charizardCanon()

	stamped := charizardPrinting()
	stamped.Stamp = strPtr("MASTER_BALL_PATTERN")

	first := charizardPrinting()
	first.Edition = model.EditionFirstEdition

	tests := []struct {
		name     string
		printing model.Printing
		card     model.ProviderCard
		variant  model.ProviderVariant
		reject   string
	}{
		{
			name:     "number mismatch",
			printing: charizardPrinting(),
			card:     model.ProviderCard{ID: "c", Name: "Charizard", Number: "5/102"},
			variant:  variant("v", "Holofoil", "Near Mint"),
			reject:   RejectNumber,
		},
		{
			name:     "finish mismatch",
			printing: charizardPrinting(),
			card:     model.ProviderCard{ID: "c", Name: "Charizard", Number: "4/102"},
			variant:  variant("v", "Normal", "Near Mint"),
			reject:   RejectFinish,
		},
		{
			name:     "stamp differs",
			printing: stamped,
			card:     model.ProviderCard{ID: "c", Name: "Charizard (Poke Ball)", Number: "4/102"},
			variant:  variant("v", "Holofoil", "Near Mint"),
			reject:   RejectStamp,
		},
		{
			name:     "printing stamped, provider plain",
			printing: stamped,
			card:     model.ProviderCard{ID: "c", Name: "Charizard", Number: "4/102"},
			variant:  variant("v", "Holofoil", "Near Mint"),
			reject:   RejectStamp,
		},
		{
			name:     "provider stamped, printing plain",
			printing: charizardPrinting(),
			card:     model.ProviderCard{ID: "c", Name: "Charizard (Master Ball)", Number: "4/102"},
			variant:  variant("v", "Holofoil", "Near Mint"),
			reject:   RejectUnexpectStamp,
		},
		{
			name:     "non english",
			printing: charizardPrinting(),
			card:     model.ProviderCard{ID: "c", Name: "Charizard", Number: "4/102"},
			variant:  model.ProviderVariant{ID: "v", Printing: "Holofoil", Condition: "Near Mint", Language: "Japanese"},
			reject:   RejectLanguage,
		},
		{
			name:     "edition mismatch",
			printing: first,
			card:     model.ProviderCard{ID: "c", Name: "Charizard", Number: "4/102"},
			variant:  variant("v", "Unlimited Holofoil", "Near Mint"),
			reject:   RejectEdition,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := s.Score(&tt.card, &tt.variant, tt.printing, &canon)
			assert.False(t, ok)
			assert.Zero(t, c.Score, "rejected candidates never carry a score")
			assert.Contains(t, c.Rejections, tt.reject)
		})
	}
}

func TestScore_UnknownFinishAndNumberAreNotRejected(t *testing.T) {
	s := NewScorer(DefaultWeights())
	canon := charizardCanon()
	p := charizardPrinting()
	p.Finish = model.FinishUnknown
	p.CardNumber = ""

	card := &model.ProviderCard{ID: "c", Name: "Charizard", Number: "4/102"}
	v := variant("v", "Reverse Holofoil", "Lightly Played")
	c, ok := s.Score(card, &v, p, &canon)
	require.True(t, ok)
	assert.Equal(t, 20+15+4+1, c.Score)
}

func TestScore_StampMatch(t *testing.T) {
	s := NewScorer(DefaultWeights())
	canon := model.CanonicalCard{Slug: "eevee", Name: "Eevee"}
	p := model.Printing{ID: "p", CanonicalSlug: "eevee", CardNumber: "55", Finish: model.FinishReverseHolo, Stamp: strPtr("POKE_BALL_PATTERN")}
	card := &model.ProviderCard{ID: "c", Name: "Eevee (Poke Ball Pattern)", Number: "055/131"}
	v := variant("v", "Reverse Holofoil", "Near Mint")

	c, ok := s.Score(card, &v, p, &canon)
	require.True(t, ok)
	assert.Contains(t, c.Reasons, ReasonStamp)
	assert.Contains(t, c.Reasons, ReasonNameExact)
	assert.Equal(t, 100+40+25+15+6+1, c.Score)
	assert.InDelta(t, 1.0, s.Confidence(c.Score), 0.0001)
}

func TestScore_NameContainsAndSubject(t *testing.T) {
	s := NewScorer(DefaultWeights())
	canon := model.CanonicalCard{Slug: "pika", Name: "Pikachu ex", Subject: "Pikachu"}
	p := model.Printing{ID: "p", CanonicalSlug: "pika", CardNumber: "63", Finish: model.FinishHolo}

	exactSubject := &model.ProviderCard{ID: "a", Name: "Pikachu - 063/198", Number: "063/198"}
	v := variant("v", "Holofoil", "Near Mint")
	c, ok := s.Score(exactSubject, &v, p, &canon)
	require.True(t, ok)
	assert.Contains(t, c.Reasons, ReasonNameExact)

	contains := &model.ProviderCard{ID: "b", Name: "Pikachu ex Full Art", Number: "63"}
	c, ok = s.Score(contains, &v, p, &canon)
	require.True(t, ok)
	assert.Contains(t, c.Reasons, ReasonNameContains)
}

func TestScore_ConditionOrdering(t *testing.T) {
	s := NewScorer(DefaultWeights())
	canon := charizardCanon()
	card := &model.ProviderCard{ID: "c", Name: "Charizard", Number: "4"}

	var scores []int
	for _, cond := range []string{"Near Mint", "Lightly Played", "Moderately Played", "Heavily Played", "Damaged"} {
		v := variant("v", "Holofoil", cond)
		c, ok := s.Score(card, &v, charizardPrinting(), &canon)
		require.True(t, ok)
		scores = append(scores, c.Score)
	}
	for i := 1; i < len(scores); i++ {
		assert.Greater(t, scores[i-1], scores[i])
	}
}

func TestProximity_IgnoresRejections(t *testing.T) {
	s := NewScorer(DefaultWeights())
	canon := charizardCanon()
	card := &model.ProviderCard{ID: "c", Name: "Charizard", Number: "4/102"}
	v := variant("v", "Normal", "Near Mint")

	c := s.Proximity(card, &v, charizardPrinting(), &canon)
	assert.Equal(t, []string{RejectFinish}, c.Rejections)
	assert.Equal(t, 100+20+15+6+1, c.Score)
}

func TestNewScorer_Defaults(t *testing.T) {
	s := NewScorer(Weights{})
	assert.Equal(t, DefaultWeights(), s.Weights())

	custom := NewScorer(Weights{Number: 10, Finish: 5, Stamp: 3, BaseNoStamp: 2, NameExact: 1})
	assert.Equal(t, 10+5+3+1, custom.Weights().MaxScore)
	assert.Equal(t, 0.0, custom.Confidence(0))
	assert.Equal(t, 1.0, custom.Confidence(1000))
}
