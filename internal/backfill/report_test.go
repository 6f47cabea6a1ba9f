package backfill

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/cardsync/internal/model"
)

func TestReport_CountsAndSamples(t *testing.T) {
	r := NewReport()
	for i := range 30 {
		r.Add(model.NewNoProviderMatch(fmt.Sprintf("p%d", i), nil))
	}
	r.Add(model.NewFetchFailed("base-set", "all", "http 500"))
	for i := range 30 {
		r.AddMapping(MappingSample{PrintingID: fmt.Sprintf("m%d", i)})
	}

	res := &Result{}
	r.apply(res)

	assert.Equal(t, 30, res.ErrorCounts[model.FailureNoMatch])
	assert.Equal(t, 1, res.ErrorCounts[model.FailureFetch])
	assert.Len(t, res.FailureSamples, maxSamples)
	assert.Len(t, res.MappingSamples, maxSamples)
	assert.Equal(t, 30, res.Counts.NoMatch)
	assert.Equal(t, 1, res.Counts.HardFailures)
	assert.False(t, res.OK)
	assert.Equal(t, "PROVIDER_FETCH_FAILED: http 500", res.FirstError)
}

func TestReport_SoftOnly(t *testing.T) {
	r := NewReport()
	r.AddAll([]model.Failure{
		model.NewAmbiguousMatch("p1", "top candidates tie on score", nil),
		model.NewPayloadInvalid("p2", "v2", []string{"price"}),
	})

	res := &Result{}
	r.apply(res)

	assert.True(t, res.OK)
	assert.Zero(t, r.HardFailures())
	assert.Equal(t, 1, res.Counts.Ambiguous)
	assert.Equal(t, 1, res.Counts.PayloadInvalid)
	assert.Equal(t, "AMBIGUOUS_PROVIDER_MATCH (p1): top candidates tie on score", res.FirstError)
}

func TestReport_Empty(t *testing.T) {
	res := &Result{}
	NewReport().apply(res)
	assert.True(t, res.OK)
	assert.Empty(t, res.FirstError)
	assert.NotNil(t, res.ErrorCounts)
	assert.NotNil(t, res.FailureSamples)
}
