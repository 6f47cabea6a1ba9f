// Package persist turns resolved matches into datastore rows and writes them
// in idempotent, chunked batches.
package persist

import (
	"sort"
	"time"

	"github.com/sells-group/cardsync/internal/model"
)

// historyHorizon is the lookback used for the per-variant 30 day point count.
const historyHorizon = 30 * 24 * time.Hour

// Match is one MATCHED printing ready for persistence.
type Match struct {
	Printing   model.Printing
	Canonical  model.CanonicalCard
	Card       *model.ProviderCard
	Variant    *model.ProviderVariant
	Confidence float64
	Reasons    []string
}

// Rows is the deduplicated write set of one run.
type Rows struct {
	Mappings     []model.MappingRow
	LatestPrices []model.LatestPriceRow
	History      []model.HistoryPoint
	Metrics      []model.VariantMetricRow
	Keys         []model.MetricKey

	// Failures holds PROVIDER_PAYLOAD_INVALID entries found while building.
	Failures []model.Failure
}

// Builder assembles rows for one provider.
type Builder struct {
	Provider      string
	PrimaryWindow string
	RecentWindow  string
	AsOf          time.Time
}

// Build converts matches into rows. recent holds variants from the recent
// window fetch keyed by provider variant id; it may be nil.
//
// A variant without a price gets only its mapping row. A priced variant
// without rolling statistics gets every row except the metric row. Both
// cases are reported as PROVIDER_PAYLOAD_INVALID.
func (b Builder) Build(matches []Match, recent map[string]model.ProviderVariant) Rows {
	var out Rows
	asOf := b.AsOf.UTC()

	mappings := make(map[string]model.MappingRow)
	latest := make(map[string]model.LatestPriceRow)
	history := make(map[string]model.HistoryPoint)
	metrics := make(map[string]model.VariantMetricRow)
	keys := make(map[model.MetricKey]struct{})

	for _, m := range matches {
		if m.Variant == nil || m.Card == nil {
			continue
		}
		p := m.Printing
		v := *m.Variant

		mr := model.MappingRow{
			Provider:          b.Provider,
			MappingType:       model.MappingTypePrinting,
			PrintingID:        p.ID,
			ProviderCardID:    m.Card.ID,
			ProviderVariantID: v.ID,
			Confidence:        m.Confidence,
			MatchReasons:      m.Reasons,
			UpdatedAt:         asOf,
		}
		mappings[mr.Provider+"|"+mr.MappingType+"|"+mr.PrintingID] = mr

		current := v
		rv, hasRecent := recent[v.ID]
		if hasRecent && rv.Price != nil && rv.LastUpdated > current.LastUpdated {
			current = rv
		}

		if current.Price == nil {
			out.Failures = append(out.Failures, model.NewPayloadInvalid(p.ID, v.ID, missingFields(current)))
			continue
		}

		ref := model.VariantRef(p.ID, b.Provider, model.GradeRaw)
		observed := asOf
		if current.LastUpdated > 0 {
			observed = time.Unix(current.LastUpdated, 0).UTC()
		}
		lr := model.LatestPriceRow{
			ProviderVariantID: v.ID,
			Provider:          b.Provider,
			Grade:             model.GradeRaw,
			PriceType:         model.PriceTypeMarket,
			Price:             *current.Price,
			ObservedAt:        observed,
			PrintingID:        p.ID,
			CanonicalSlug:     p.CanonicalSlug,
		}
		lk := lr.ProviderVariantID + "|" + lr.Provider + "|" + lr.Grade + "|" + lr.PriceType
		if prev, ok := latest[lk]; !ok || lr.ObservedAt.After(prev.ObservedAt) {
			latest[lk] = lr
		}

		recentSeen := make(map[int64]struct{})
		addHistory := func(points []model.PricePoint, window string) {
			for _, pt := range points {
				if pt.Timestamp <= 0 {
					continue
				}
				hp := model.HistoryPoint{
					Provider:     b.Provider,
					VariantRef:   ref,
					Timestamp:    time.Unix(pt.Timestamp, 0).UTC(),
					SourceWindow: window,
					Price:        pt.Price,
				}
				history[historyKey(hp)] = hp
				if !asOf.IsZero() && hp.Timestamp.After(asOf.Add(-historyHorizon)) && !hp.Timestamp.After(asOf) {
					recentSeen[pt.Timestamp] = struct{}{}
				}
			}
		}
		addHistory(v.PriceHistory, b.PrimaryWindow)
		if hasRecent && b.RecentWindow != "" && b.RecentWindow != b.PrimaryWindow {
			addHistory(rv.PriceHistory, b.RecentWindow)
		}

		keys[model.MetricKey{CanonicalSlug: p.CanonicalSlug, VariantRef: ref, Provider: b.Provider, Grade: model.GradeRaw}] = struct{}{}

		stats := current
		if !stats.HasAnalytics() && v.HasAnalytics() {
			stats = v
		}
		if !stats.HasAnalytics() {
			out.Failures = append(out.Failures, model.NewPayloadInvalid(p.ID, v.ID, missingFields(stats)))
			continue
		}
		vm := model.VariantMetricRow{
			CanonicalSlug:           p.CanonicalSlug,
			PrintingID:              p.ID,
			Provider:                b.Provider,
			Grade:                   model.GradeRaw,
			TrendSlope7d:            stats.TrendSlope7d,
			CovPrice30d:             stats.CovPrice30d,
			PriceRelativeTo30dRange: stats.PriceRelativeTo30dRange,
			MinPrice30d:             stats.MinPrice30d,
			MaxPrice30d:             stats.MaxPrice30d,
			HistoryPoints30d:        len(recentSeen),
			AsOf:                    asOf,
		}
		metrics[vm.CanonicalSlug+"|"+vm.PrintingID+"|"+vm.Provider+"|"+vm.Grade] = vm
	}

	out.Mappings = sortedValues(mappings)
	out.LatestPrices = sortedValues(latest)
	out.History = sortedValues(history)
	out.Metrics = sortedValues(metrics)
	out.Keys = make([]model.MetricKey, 0, len(keys))
	for k := range keys {
		out.Keys = append(out.Keys, k)
	}
	sort.Slice(out.Keys, func(i, j int) bool { return out.Keys[i].VariantRef < out.Keys[j].VariantRef })
	return out
}

func historyKey(hp model.HistoryPoint) string {
	return hp.Provider + "|" + hp.VariantRef + "|" + hp.Timestamp.Format(time.RFC3339) + "|" + hp.SourceWindow
}

// missingFields lists the required payload fields absent from v.
func missingFields(v model.ProviderVariant) []string {
	var out []string
	if v.Price == nil {
		out = append(out, "price")
	}
	if v.TrendSlope7d == nil {
		out = append(out, "trendSlope7d")
	}
	if v.CovPrice30d == nil {
		out = append(out, "covPrice30d")
	}
	if v.PriceRelativeTo30dRange == nil {
		out = append(out, "priceRelativeTo30dRange")
	}
	return out
}

// sortedValues returns map values ordered by key for deterministic batches.
func sortedValues[T any](m map[string]T) []T {
	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	out := make([]T, 0, len(m))
	for _, k := range ks {
		out = append(out, m[k])
	}
	return out
}
