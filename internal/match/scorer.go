// Package match scores provider candidates against internal printings and
// resolves one outcome per printing.
package match

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cardsync/internal/model"
	"github.com/sells-group/cardsync/internal/normalize"
)

// Match reason and rejection tags recorded on candidates.
const (
	ReasonNumber        = "number_match"
	ReasonFinish        = "finish_match"
	ReasonEdition       = "edition_match"
	ReasonStamp         = "stamp_match"
	ReasonBaseNoStamp   = "base_variant_no_stamp"
	ReasonNameExact     = "name_exact"
	ReasonNameContains  = "name_contains"
	ReasonCondition     = "condition_"
	ReasonLanguage      = "language_en"
	ReasonManualRepair  = "manual_repair"
	RejectNumber        = "number_mismatch"
	RejectFinish        = "finish_mismatch"
	RejectEdition       = "edition_mismatch"
	RejectStamp         = "stamp_mismatch"
	RejectUnexpectStamp = "unexpected_stamp"
	RejectLanguage      = "language_not_english"
)

// Weights are the additive scoring weights. Only their relative order is a
// contract: Number > Finish > Stamp >= BaseNoStamp > NameExact > NameContains >
// ConditionNM > ConditionLP > ConditionMP > ConditionHP >= Language, with
// Edition below Finish. MaxScore leaves the edition bonus out; confidence
// clamps at 1.
type Weights struct {
	Number       int `yaml:"number" mapstructure:"number"`
	Finish       int `yaml:"finish" mapstructure:"finish"`
	Edition      int `yaml:"edition" mapstructure:"edition"`
	Stamp        int `yaml:"stamp" mapstructure:"stamp"`
	BaseNoStamp  int `yaml:"base_no_stamp" mapstructure:"base_no_stamp"`
	NameExact    int `yaml:"name_exact" mapstructure:"name_exact"`
	NameContains int `yaml:"name_contains" mapstructure:"name_contains"`
	ConditionNM  int `yaml:"condition_nm" mapstructure:"condition_nm"`
	ConditionLP  int `yaml:"condition_lp" mapstructure:"condition_lp"`
	ConditionMP  int `yaml:"condition_mp" mapstructure:"condition_mp"`
	ConditionHP  int `yaml:"condition_hp" mapstructure:"condition_hp"`
	Language     int `yaml:"language" mapstructure:"language"`
	MaxScore     int `yaml:"max_score" mapstructure:"max_score"`
}

// DefaultWeights returns the tuned default weights.
func DefaultWeights() Weights {
	return Weights{
		Number:       100,
		Finish:       40,
		Edition:      10,
		Stamp:        25,
		BaseNoStamp:  20,
		NameExact:    15,
		NameContains: 8,
		ConditionNM:  6,
		ConditionLP:  4,
		ConditionMP:  2,
		ConditionHP:  1,
		Language:     1,
		MaxScore:     187,
	}
}

// Validate checks the ordering contract.
func (w Weights) Validate() error {
	var errs []string
	order := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Sprintf(format, args...))
		}
	}
	order(w.Number > w.Finish, "number (%d) must exceed finish (%d)", w.Number, w.Finish)
	order(w.Finish > w.Stamp, "finish (%d) must exceed stamp (%d)", w.Finish, w.Stamp)
	order(w.Finish > w.Edition && w.Edition >= 0, "edition (%d) must be in [0, finish)", w.Edition)
	order(w.Stamp >= w.BaseNoStamp, "stamp (%d) must be at least base_no_stamp (%d)", w.Stamp, w.BaseNoStamp)
	order(w.BaseNoStamp > w.NameExact, "base_no_stamp (%d) must exceed name_exact (%d)", w.BaseNoStamp, w.NameExact)
	order(w.NameExact > w.NameContains, "name_exact (%d) must exceed name_contains (%d)", w.NameExact, w.NameContains)
	order(w.NameContains > w.ConditionNM, "name_contains (%d) must exceed condition_nm (%d)", w.NameContains, w.ConditionNM)
	order(w.ConditionNM > w.ConditionLP, "condition_nm (%d) must exceed condition_lp (%d)", w.ConditionNM, w.ConditionLP)
	order(w.ConditionLP > w.ConditionMP, "condition_lp (%d) must exceed condition_mp (%d)", w.ConditionLP, w.ConditionMP)
	order(w.ConditionMP > w.ConditionHP, "condition_mp (%d) must exceed condition_hp (%d)", w.ConditionMP, w.ConditionHP)
	order(w.ConditionHP >= w.Language && w.Language > 0, "language (%d) must be in (0, condition_hp]", w.Language)
	order(w.MaxScore > 0, "max_score must be > 0")
	if len(errs) > 0 {
		return eris.Errorf("match: weights: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Candidate is one provider variant scored against one printing.
type Candidate struct {
	Card       *model.ProviderCard
	Variant    *model.ProviderVariant
	Score      int
	Reasons    []string
	Rejections []string
}

// Sample converts a candidate into its serializable failure-detail form.
func (c Candidate) Sample() model.CandidateSample {
	return model.CandidateSample{
		ProviderCardID:    c.Card.ID,
		ProviderVariantID: c.Variant.ID,
		Name:              c.Card.Name,
		Number:            c.Card.Number,
		Printing:          c.Variant.Printing,
		Condition:         c.Variant.Condition,
		Score:             c.Score,
		Reasons:           c.Reasons,
		Rejections:        c.Rejections,
	}
}

// Scorer computes candidate scores for printings.
type Scorer struct {
	w Weights
}

// NewScorer creates a Scorer. Zero-valued weights fall back to DefaultWeights.
func NewScorer(w Weights) *Scorer {
	if w == (Weights{}) {
		w = DefaultWeights()
	}
	if w.MaxScore <= 0 {
		w.MaxScore = w.Number + w.Finish + max(w.Stamp, w.BaseNoStamp) + w.NameExact + w.ConditionNM + w.Language
	}
	return &Scorer{w: w}
}

// Weights returns the scorer's weights.
func (s *Scorer) Weights() Weights {
	return s.w
}

// Confidence normalizes a score to [0, 1] against MaxScore.
func (s *Scorer) Confidence(score int) float64 {
	if score <= 0 {
		return 0
	}
	c := float64(score) / float64(s.w.MaxScore)
	if c > 1 {
		return 1
	}
	return c
}

// Score evaluates one provider variant against a printing. It returns false
// if any hard rejection applies; rejected candidates never carry a score.
func (s *Scorer) Score(card *model.ProviderCard, v *model.ProviderVariant, p model.Printing, canon *model.CanonicalCard) (Candidate, bool) {
	c := s.evaluate(card, v, p, canon)
	if len(c.Rejections) > 0 {
		return Candidate{Card: card, Variant: v, Rejections: c.Rejections}, false
	}
	return c, true
}

// Proximity scores a candidate while ignoring hard rejections, recording the
// rejection reasons alongside. Used to rank near-misses for debugging.
func (s *Scorer) Proximity(card *model.ProviderCard, v *model.ProviderVariant, p model.Printing, canon *model.CanonicalCard) Candidate {
	return s.evaluate(card, v, p, canon)
}

func (s *Scorer) evaluate(card *model.ProviderCard, v *model.ProviderVariant, p model.Printing, canon *model.CanonicalCard) Candidate {
	c := Candidate{Card: card, Variant: v}

	// Number.
	printingNum := normalize.CardNumber(p.CardNumber)
	if printingNum != "" {
		if normalize.CardNumber(card.Number) == printingNum {
			c.Score += s.w.Number
			c.Reasons = append(c.Reasons, ReasonNumber)
		} else {
			c.Rejections = append(c.Rejections, RejectNumber)
		}
	}

	// Finish.
	variantFinish := normalize.Finish(v.Printing)
	if p.Finish.Known() {
		if variantFinish == p.Finish {
			c.Score += s.w.Finish
			c.Reasons = append(c.Reasons, ReasonFinish)
		} else {
			c.Rejections = append(c.Rejections, RejectFinish)
		}
	}

	// Edition, only when both sides say something.
	if ve := normalize.Edition(v.Printing); p.Edition.Known() && ve.Known() {
		if ve == p.Edition {
			c.Score += s.w.Edition
			c.Reasons = append(c.Reasons, ReasonEdition)
		} else {
			c.Rejections = append(c.Rejections, RejectEdition)
		}
	}

	// Stamp.
	cardStamp := normalize.StampToken(card.Name)
	switch {
	case p.HasStamp() && cardStamp != nil && strings.EqualFold(*p.Stamp, *cardStamp):
		c.Score += s.w.Stamp
		c.Reasons = append(c.Reasons, ReasonStamp)
	case p.HasStamp():
		c.Rejections = append(c.Rejections, RejectStamp)
	case cardStamp != nil:
		c.Rejections = append(c.Rejections, RejectUnexpectStamp)
	default:
		c.Score += s.w.BaseNoStamp
		c.Reasons = append(c.Reasons, ReasonBaseNoStamp)
	}

	// Name.
	if canon != nil {
		switch nameMatch(normalize.DisplayName(normalize.StripVariantSuffix(card.Name)), canonicalNames(canon)) {
		case ReasonNameExact:
			c.Score += s.w.NameExact
			c.Reasons = append(c.Reasons, ReasonNameExact)
		case ReasonNameContains:
			c.Score += s.w.NameContains
			c.Reasons = append(c.Reasons, ReasonNameContains)
		}
	}

	// Condition.
	if bonus, tag := s.conditionBonus(v.Condition); bonus > 0 {
		c.Score += bonus
		c.Reasons = append(c.Reasons, ReasonCondition+tag)
	}

	// Language.
	if normalize.Language(v.Language) == "EN" {
		c.Score += s.w.Language
		c.Reasons = append(c.Reasons, ReasonLanguage)
	} else {
		c.Rejections = append(c.Rejections, RejectLanguage)
	}

	return c
}

func (s *Scorer) conditionBonus(label string) (int, string) {
	switch normalize.ParseCondition(label) {
	case normalize.ConditionNearMint:
		return s.w.ConditionNM, "nm"
	case normalize.ConditionLightlyPlayed:
		return s.w.ConditionLP, "lp"
	case normalize.ConditionModeratelyPlayed:
		return s.w.ConditionMP, "mp"
	case normalize.ConditionHeavilyPlayed:
		return s.w.ConditionHP, "hp"
	default:
		return 0, ""
	}
}

// nameMatch compares a normalized provider name against candidate names,
// preferring an exact match on any name over a containment match.
func nameMatch(provName string, names []string) string {
	if provName == "" {
		return ""
	}
	for _, want := range names {
		if provName == want {
			return ReasonNameExact
		}
	}
	for _, want := range names {
		if strings.Contains(provName, want) || strings.Contains(want, provName) {
			return ReasonNameContains
		}
	}
	return ""
}

// canonicalNames returns the normalized names a provider name may match,
// exact name first, then subject.
func canonicalNames(canon *model.CanonicalCard) []string {
	var names []string
	if n := normalize.DisplayName(normalize.StripVariantSuffix(canon.Name)); n != "" {
		names = append(names, n)
	}
	if canon.Subject != "" {
		if n := normalize.DisplayName(canon.Subject); n != "" && (len(names) == 0 || names[0] != n) {
			names = append(names, n)
		}
	}
	return names
}
