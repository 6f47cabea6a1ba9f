package backfill

import (
	"github.com/sells-group/cardsync/internal/model"
)

// maxSamples bounds both the failure and mapping samples.
const maxSamples = 25

// Report accumulates typed failures and mapping samples for one run.
type Report struct {
	counts    map[model.FailureKind]int
	failures  []model.Failure
	mappings  []MappingSample
	hard      int
	firstHard string
	firstAny  string
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{counts: make(map[model.FailureKind]int)}
}

// Add counts a failure and keeps it as a sample while there is room.
func (r *Report) Add(f model.Failure) {
	r.counts[f.Kind]++
	if f.Kind.Hard() {
		r.hard++
	}
	if len(r.failures) < maxSamples {
		r.failures = append(r.failures, f)
	}

	msg := string(f.Kind) + ": " + f.Message
	if f.PrintingID != "" {
		msg = string(f.Kind) + " (" + f.PrintingID + "): " + f.Message
	}
	if r.firstAny == "" {
		r.firstAny = msg
	}
	if f.Kind.Hard() && r.firstHard == "" {
		r.firstHard = msg
	}
}

// AddAll adds each failure in order.
func (r *Report) AddAll(fs []model.Failure) {
	for _, f := range fs {
		r.Add(f)
	}
}

// AddMapping keeps a successful mapping while there is room.
func (r *Report) AddMapping(s MappingSample) {
	if len(r.mappings) < maxSamples {
		r.mappings = append(r.mappings, s)
	}
}

// Count returns the number of failures of one kind.
func (r *Report) Count(k model.FailureKind) int { return r.counts[k] }

// HardFailures returns the number of hard failures.
func (r *Report) HardFailures() int { return r.hard }

// FirstError is the first hard failure, or the first failure of any kind
// when the run had no hard failures.
func (r *Report) FirstError() string {
	if r.firstHard != "" {
		return r.firstHard
	}
	return r.firstAny
}

// apply copies the report into a result.
func (r *Report) apply(res *Result) {
	res.ErrorCounts = make(map[model.FailureKind]int, len(r.counts))
	for k, n := range r.counts {
		res.ErrorCounts[k] = n
	}
	res.FailureSamples = append([]model.Failure{}, r.failures...)
	res.MappingSamples = append([]MappingSample{}, r.mappings...)
	res.FirstError = r.FirstError()
	res.Counts.Ambiguous = r.counts[model.FailureAmbiguous]
	res.Counts.NoMatch = r.counts[model.FailureNoMatch]
	res.Counts.PayloadInvalid = r.counts[model.FailurePayloadInvalid]
	res.Counts.HardFailures = r.hard
	res.OK = r.hard == 0
}
