package match

import (
	"sort"

	"go.uber.org/zap"

	"github.com/sells-group/cardsync/internal/model"
	"github.com/sells-group/cardsync/internal/normalize"
)

// OutcomeKind classifies the resolution of one printing.
type OutcomeKind string

const (
	OutcomeMatched          OutcomeKind = "MATCHED"
	OutcomeAmbiguous        OutcomeKind = "AMBIGUOUS"
	OutcomeNoMatch          OutcomeKind = "NO_MATCH"
	OutcomeMissingCanonical OutcomeKind = "MISSING_CANONICAL"
)

// Reason strings attached to non-matched outcomes.
const (
	ReasonTiedTopScore    = "top candidates tie on score"
	ReasonVariantClaimed  = "variant_claimed_by_multiple_printings"
	ReasonRepairNotInPool = "manual repair target not in provider pool"
	ReasonRepairNoVariant = "manual repair target has no variant with the listed finishes"
)

const (
	maxRejectedSamples     = 5
	maxAmbiguousCandidates = 3
)

// Outcome is the resolution of one printing for one run.
type Outcome struct {
	Kind       OutcomeKind
	Printing   model.Printing
	Canonical  *model.CanonicalCard
	Match      *Candidate  // set when Kind == MATCHED
	Confidence float64     // set when Kind == MATCHED
	Manual     bool        // resolved by the manual repair table
	Top        []Candidate // AMBIGUOUS: top candidates
	Rejected   []Candidate // NO_MATCH: nearest rejected candidates
	Reason     string
}

// Failure converts a non-matched outcome into its typed failure. Returns nil
// for MATCHED outcomes.
func (o Outcome) Failure() *model.Failure {
	var f model.Failure
	switch o.Kind {
	case OutcomeMatched:
		return nil
	case OutcomeMissingCanonical:
		f = model.NewMissingCanonical(o.Printing.ID, o.Printing.CanonicalSlug)
	case OutcomeAmbiguous:
		f = model.NewAmbiguousMatch(o.Printing.ID, o.Reason, samples(o.Top))
	case OutcomeNoMatch:
		f = model.NewNoProviderMatch(o.Printing.ID, samples(o.Rejected))
		if o.Reason != "" {
			f.Message = o.Reason
		}
	}
	return &f
}

func samples(cs []Candidate) []model.CandidateSample {
	out := make([]model.CandidateSample, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Sample())
	}
	return out
}

// Resolver picks one outcome per printing from a shared provider card pool.
type Resolver struct {
	scorer  *Scorer
	repairs Repairs
}

// NewResolver creates a Resolver. repairs may be nil.
func NewResolver(scorer *Scorer, repairs Repairs) *Resolver {
	return &Resolver{scorer: scorer, repairs: repairs}
}

// Resolve produces exactly one outcome per printing, in input order.
func (r *Resolver) Resolve(printings []model.Printing, canonicals map[string]model.CanonicalCard, cards []model.ProviderCard) []Outcome {
	log := zap.L().With(zap.String("component", "match.resolver"))

	pool := make([]*model.ProviderCard, len(cards))
	byID := make(map[string]*model.ProviderCard, len(cards))
	buckets := make(map[string][]*model.ProviderCard)
	for i := range cards {
		c := &cards[i]
		pool[i] = c
		byID[c.ID] = c
		n := normalize.CardNumber(c.Number)
		buckets[n] = append(buckets[n], c)
	}

	outcomes := make([]Outcome, 0, len(printings))
	for _, p := range printings {
		canon, ok := canonicals[p.CanonicalSlug]
		if !ok {
			outcomes = append(outcomes, Outcome{Kind: OutcomeMissingCanonical, Printing: p})
			continue
		}

		if rep, ok := r.repairs[p.ID]; ok {
			o := r.applyRepair(p, &canon, rep, byID)
			log.Info("manual repair applied",
				zap.String("printing_id", p.ID),
				zap.String("provider_card_id", rep.ProviderCardID),
				zap.String("outcome", string(o.Kind)),
			)
			outcomes = append(outcomes, o)
			continue
		}

		bucket := pool
		if n := normalize.CardNumber(p.CardNumber); n != "" {
			bucket = buckets[n]
		}
		outcomes = append(outcomes, r.resolveOne(p, &canon, bucket, pool))
	}

	r.guardConflicts(outcomes)
	return outcomes
}

func (r *Resolver) resolveOne(p model.Printing, canon *model.CanonicalCard, bucket, pool []*model.ProviderCard) Outcome {
	var survivors []Candidate
	for _, card := range bucket {
		for i := range card.Variants {
			if c, ok := r.scorer.Score(card, &card.Variants[i], p, canon); ok {
				survivors = append(survivors, c)
			}
		}
	}

	if len(survivors) == 0 {
		near := bucket
		if len(near) == 0 {
			near = pool
		}
		return Outcome{
			Kind:      OutcomeNoMatch,
			Printing:  p,
			Canonical: canon,
			Rejected:  r.nearestRejected(p, canon, near),
		}
	}

	SortCandidates(survivors)
	if len(survivors) > 1 &&
		survivors[0].Score == survivors[1].Score &&
		survivors[0].Variant.ID != survivors[1].Variant.ID {
		top := survivors[:min(maxAmbiguousCandidates, len(survivors))]
		return Outcome{
			Kind:      OutcomeAmbiguous,
			Printing:  p,
			Canonical: canon,
			Top:       append([]Candidate(nil), top...),
			Reason:    ReasonTiedTopScore,
		}
	}

	best := survivors[0]
	return Outcome{
		Kind:       OutcomeMatched,
		Printing:   p,
		Canonical:  canon,
		Match:      &best,
		Confidence: r.scorer.Confidence(best.Score),
	}
}

// nearestRejected ranks every variant in cards by proximity and keeps the
// closest few for operator debugging.
func (r *Resolver) nearestRejected(p model.Printing, canon *model.CanonicalCard, cards []*model.ProviderCard) []Candidate {
	var near []Candidate
	for _, card := range cards {
		for i := range card.Variants {
			near = append(near, r.scorer.Proximity(card, &card.Variants[i], p, canon))
		}
	}
	SortCandidates(near)
	if len(near) > maxRejectedSamples {
		near = near[:maxRejectedSamples]
	}
	return near
}

func (r *Resolver) applyRepair(p model.Printing, canon *model.CanonicalCard, rep Repair, byID map[string]*model.ProviderCard) Outcome {
	card, ok := byID[rep.ProviderCardID]
	if !ok {
		return Outcome{Kind: OutcomeNoMatch, Printing: p, Canonical: canon, Manual: true, Reason: ReasonRepairNotInPool}
	}

	allowed := make(map[model.Finish]bool, len(rep.Finishes))
	for _, f := range rep.Finishes {
		allowed[f] = true
	}

	var best *Candidate
	var bestRank normalize.Condition
	for i := range card.Variants {
		v := &card.Variants[i]
		if normalize.Language(v.Language) != "EN" {
			continue
		}
		if len(allowed) > 0 && !allowed[normalize.Finish(v.Printing)] {
			continue
		}
		rank := normalize.ParseCondition(v.Condition)
		if best == nil || rank > bestRank || (rank == bestRank && v.ID < best.Variant.ID) {
			reasons := []string{ReasonManualRepair}
			if rep.Note != "" {
				reasons = append(reasons, rep.Note)
			}
			best = &Candidate{Card: card, Variant: v, Score: r.scorer.Weights().MaxScore, Reasons: reasons}
			bestRank = rank
		}
	}
	if best == nil {
		return Outcome{Kind: OutcomeNoMatch, Printing: p, Canonical: canon, Manual: true, Reason: ReasonRepairNoVariant}
	}
	return Outcome{Kind: OutcomeMatched, Printing: p, Canonical: canon, Match: best, Confidence: 1, Manual: true}
}

// guardConflicts demotes every MATCHED outcome whose provider variant is
// also claimed by another printing in the same run.
func (r *Resolver) guardConflicts(outcomes []Outcome) {
	claims := make(map[string][]int)
	for i, o := range outcomes {
		if o.Kind == OutcomeMatched {
			claims[o.Match.Variant.ID] = append(claims[o.Match.Variant.ID], i)
		}
	}
	for variantID, idx := range claims {
		if len(idx) < 2 {
			continue
		}
		zap.L().Warn("provider variant claimed by multiple printings",
			zap.String("component", "match.resolver"),
			zap.String("provider_variant_id", variantID),
			zap.Int("claimants", len(idx)),
		)
		for _, i := range idx {
			o := &outcomes[i]
			o.Top = []Candidate{*o.Match}
			o.Kind = OutcomeAmbiguous
			o.Reason = ReasonVariantClaimed
			o.Match = nil
			o.Confidence = 0
		}
	}
}

// SortCandidates orders candidates by score descending, then provider
// variant id ascending.
func SortCandidates(cs []Candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Score != cs[j].Score {
			return cs[i].Score > cs[j].Score
		}
		return cs[i].Variant.ID < cs[j].Variant.ID
	})
}
