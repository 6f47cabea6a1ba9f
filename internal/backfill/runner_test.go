package backfill

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cardsync/internal/model"
	"github.com/sells-group/cardsync/internal/provider"
	"github.com/sells-group/cardsync/internal/store"
)

func TestRunBackfill_EmptySetKey(t *testing.T) {
	h := newHarness(t, catalogSeed(1), &fakeProvider{cards: 1})
	_, err := h.runner.RunBackfill(context.Background(), "", DefaultOptions())
	require.Error(t, err)
}

func TestRunBackfill_MatchesAndPersists(t *testing.T) {
	h := newHarness(t, catalogSeed(10), &fakeProvider{cards: 10})

	res, err := h.runner.RunBackfill(context.Background(), "base1", DefaultOptions())
	require.NoError(t, err)

	assert.True(t, res.OK, res.FirstError)
	assert.Equal(t, StageFinished, res.Stage)
	assert.Empty(t, res.FailedStage)
	assert.Equal(t, "run-001", res.RunID)
	assert.Equal(t, "base-set-pokemon", res.ProviderSetID)
	assert.Equal(t, provider.WindowAll, res.ProviderWindowRequested)
	assert.Equal(t, provider.WindowAll, res.ProviderWindowUsed)
	assert.Empty(t, res.RecentWindowError)

	assert.Equal(t, 10, res.Counts.PrintingsSelected)
	assert.Equal(t, 10, res.Counts.ProviderCards)
	assert.Equal(t, 10, res.Counts.Matched)
	assert.Equal(t, int64(10), res.Counts.MappingUpserts)
	assert.Equal(t, int64(10), res.Counts.LatestPriceWrites)
	assert.Equal(t, int64(50), res.Counts.HistoryPointsWritten)
	assert.Equal(t, int64(10), res.Counts.MetricRowsWritten)
	assert.Zero(t, res.Counts.HardFailures)
	assert.Empty(t, res.FailureSamples)
	assert.Len(t, res.MappingSamples, 10)
	assert.Equal(t, "v1-holo", res.MappingSamples[0].ProviderVariantID)

	counts := h.counts(t)
	assert.Equal(t, int64(10), counts["provider_mappings"])
	assert.Equal(t, int64(10), counts["provider_latest_prices"])
	assert.Equal(t, int64(50), counts["provider_price_history"])
	assert.Equal(t, int64(10), counts["provider_variant_metrics"])
	assert.Equal(t, int64(10), counts["metric_refresh_queue"])
	assert.Equal(t, int64(6), counts["provider_page_archive"])
	assert.Equal(t, int64(1), counts["provider_backfill_runs"])

	rec, err := h.store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFinished, rec.Status)
	assert.Equal(t, 10, rec.Matched)
	assert.Contains(t, string(rec.Summary), `"provider_window_used":"all"`)
}

func TestRunBackfill_RerunIsIdempotent(t *testing.T) {
	h := newHarness(t, catalogSeed(10), &fakeProvider{cards: 10})
	ctx := context.Background()

	first, err := h.runner.RunBackfill(ctx, "base1", DefaultOptions())
	require.NoError(t, err)
	require.True(t, first.OK)
	before := h.counts(t)

	second, err := h.runner.RunBackfill(ctx, "base1", DefaultOptions())
	require.NoError(t, err)
	require.True(t, second.OK)
	after := h.counts(t)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Zero(t, second.Counts.HistoryPointsWritten)
	for _, table := range []string{"provider_mappings", "provider_latest_prices", "provider_price_history", "provider_variant_metrics", "metric_refresh_queue"} {
		assert.Equal(t, before[table], after[table], table)
	}
	assert.Equal(t, int64(2), after["provider_backfill_runs"])
}

func TestRunBackfill_DryRunWritesNothing(t *testing.T) {
	h := newHarness(t, catalogSeed(10), &fakeProvider{cards: 10})
	opts := DefaultOptions()
	opts.DryRun = true

	res, err := h.runner.RunBackfill(context.Background(), "base1", opts)
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.True(t, res.DryRun)
	assert.Equal(t, 10, res.Counts.Matched)
	assert.Zero(t, res.Counts.MappingUpserts)
	assert.Nil(t, res.Persist)
	for table, n := range h.counts(t) {
		assert.Zero(t, n, table)
	}
}

func TestRunBackfill_BroadWindowFailsFallsBack(t *testing.T) {
	h := newHarness(t, catalogSeed(10), &fakeProvider{cards: 10, fail: map[string]bool{"allTime": true}})

	res, err := h.runner.RunBackfill(context.Background(), "base1", DefaultOptions())
	require.NoError(t, err)

	assert.True(t, res.OK, res.FirstError)
	assert.Equal(t, provider.WindowAll, res.ProviderWindowRequested)
	assert.Equal(t, provider.Window365d, res.ProviderWindowUsed)
	require.Len(t, res.WindowAttempts, 2)
	assert.False(t, res.WindowAttempts[0].OK)
	assert.Equal(t, 500, res.WindowAttempts[0].HTTPStatus)
	assert.True(t, res.WindowAttempts[1].OK)
	assert.Equal(t, 10, res.Counts.Matched)
	assert.Empty(t, res.ErrorCounts)

	// One failed page, three pages at 365d, three at 7d.
	assert.Equal(t, int64(7), h.counts(t)["provider_page_archive"])
}

func TestRunBackfill_AllWindowsFail(t *testing.T) {
	prov := &fakeProvider{cards: 10, fail: map[string]bool{"90d": true, "30d": true}}
	h := newHarness(t, catalogSeed(10), prov)
	opts := DefaultOptions()
	opts.Aggressive = false

	res, err := h.runner.RunBackfill(context.Background(), "base1", opts)
	require.NoError(t, err)

	assert.False(t, res.OK)
	assert.Equal(t, StageFinished, res.Stage)
	assert.Equal(t, StageFetching, res.FailedStage)
	assert.Equal(t, provider.Window90d, res.ProviderWindowRequested)
	assert.Empty(t, res.ProviderWindowUsed)
	assert.Len(t, res.WindowAttempts, 2)
	assert.Equal(t, 1, res.ErrorCounts[model.FailureFetch])
	assert.Equal(t, 1, res.Counts.HardFailures)
	assert.Contains(t, res.FirstError, string(model.FailureFetch))

	counts := h.counts(t)
	assert.Zero(t, counts["provider_mappings"])
	assert.Equal(t, int64(1), counts["provider_backfill_runs"])

	rec, err := h.store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, rec.Status)
	assert.False(t, rec.OK)

	var summary map[string]any
	require.NoError(t, json.Unmarshal(rec.Summary, &summary))
	assert.Equal(t, "FINISHED", summary["stage"])
	assert.Equal(t, "FETCHING", summary["failed_stage"])
}

func TestRunBackfill_MissingCanonicalAborts(t *testing.T) {
	seed := catalogSeed(3)
	seed.Canonicals = seed.Canonicals[:2]
	prov := &fakeProvider{cards: 3}
	h := newHarness(t, seed, prov)

	res, err := h.runner.RunBackfill(context.Background(), "base1", DefaultOptions())
	require.NoError(t, err)

	assert.False(t, res.OK)
	assert.Equal(t, StageFinished, res.Stage)
	assert.Equal(t, StagePrecondition, res.FailedStage)
	assert.Equal(t, 1, res.ErrorCounts[model.FailureMissingCanonical])
	require.Len(t, res.FailureSamples, 1)
	assert.Equal(t, "base1-03", res.FailureSamples[0].PrintingID)
	assert.Zero(t, prov.Requests())
	assert.Equal(t, int64(1), h.counts(t)["provider_backfill_runs"])
}

func TestRunBackfill_NoPrintings(t *testing.T) {
	h := newHarness(t, catalogSeed(2), &fakeProvider{cards: 2})

	res, err := h.runner.RunBackfill(context.Background(), "jungle", DefaultOptions())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, 1, res.ErrorCounts[model.FailureMissingCanonical])
}

func TestRunBackfill_UnmappedSet(t *testing.T) {
	seed := catalogSeed(2)
	seed.SetMappings = nil
	prov := &fakeProvider{cards: 2}
	h := newHarness(t, seed, prov)

	res, err := h.runner.RunBackfill(context.Background(), "base1", DefaultOptions())
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, StageFinished, res.Stage)
	assert.Equal(t, StagePrecondition, res.FailedStage)
	assert.Equal(t, 1, res.ErrorCounts[model.FailureFetch])
	assert.Zero(t, prov.Requests())

	opts := DefaultOptions()
	opts.ProviderSetIDOverride = "base-set-pokemon"
	res, err = h.runner.RunBackfill(context.Background(), "base1", opts)
	require.NoError(t, err)
	assert.True(t, res.OK, res.FirstError)
	assert.Equal(t, "base-set-pokemon", res.ProviderSetID)
	assert.Equal(t, 2, res.Counts.Matched)
}

func TestRunBackfill_RecentWindowFailureIsWarning(t *testing.T) {
	h := newHarness(t, catalogSeed(4), &fakeProvider{cards: 4, fail: map[string]bool{"7d": true}})

	res, err := h.runner.RunBackfill(context.Background(), "base1", DefaultOptions())
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.NotEmpty(t, res.RecentWindowError)
	assert.Empty(t, res.ErrorCounts)
	// Only the primary window's three points per variant.
	assert.Equal(t, int64(12), res.Counts.HistoryPointsWritten)
}

func TestRunBackfill_PayloadInvalidIsSoft(t *testing.T) {
	h := newHarness(t, catalogSeed(4), &fakeProvider{cards: 4, noStats: map[int]bool{2: true}})

	res, err := h.runner.RunBackfill(context.Background(), "base1", DefaultOptions())
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, 4, res.Counts.Matched)
	assert.Equal(t, 1, res.Counts.PayloadInvalid)
	assert.Equal(t, int64(4), res.Counts.MappingUpserts)
	assert.Equal(t, int64(3), res.Counts.MetricRowsWritten)
	assert.Contains(t, res.FirstError, "base1-02")
}

func TestRunBackfill_AmbiguousIsSoft(t *testing.T) {
	h := newHarness(t, catalogSeed(3), &fakeProvider{cards: 3, dupHolo: map[int]bool{1: true}})

	res, err := h.runner.RunBackfill(context.Background(), "base1", DefaultOptions())
	require.NoError(t, err)

	assert.True(t, res.OK)
	assert.Equal(t, 2, res.Counts.Matched)
	assert.Equal(t, 1, res.Counts.Ambiguous)
	require.Len(t, res.FailureSamples, 1)
	assert.Equal(t, model.FailureAmbiguous, res.FailureSamples[0].Kind)
	assert.Equal(t, int64(2), h.counts(t)["provider_mappings"])
}

func TestRunBackfill_NoVariantAttachedTwice(t *testing.T) {
	h := newHarness(t, catalogSeed(10), &fakeProvider{cards: 10})
	res, err := h.runner.RunBackfill(context.Background(), "base1", DefaultOptions())
	require.NoError(t, err)

	seen := map[string]string{}
	for _, m := range res.MappingSamples {
		prev, dup := seen[m.ProviderVariantID]
		assert.False(t, dup, "%s mapped to %s and %s", m.ProviderVariantID, prev, m.PrintingID)
		seen[m.ProviderVariantID] = m.PrintingID
	}
}

func TestDefaultOptions(t *testing.T) {
	o := DefaultOptions()
	assert.Equal(t, "EN", o.Language)
	assert.True(t, o.Aggressive)
	assert.False(t, o.DryRun)
}

func TestResult_Status(t *testing.T) {
	assert.Equal(t, model.RunStatusFinished, (&Result{OK: true}).Status())
	assert.Equal(t, model.RunStatusFailed, (&Result{}).Status())
}

var _ store.Store = (*store.SQLiteStore)(nil)
