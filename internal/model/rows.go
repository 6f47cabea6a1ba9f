package model

import (
	"fmt"
	"time"
)

const (
	// GradeRaw is the grade used for ungraded (raw) provider prices.
	GradeRaw = "RAW"
	// PriceTypeMarket is the price type of the provider's market price.
	PriceTypeMarket = "MARKET"
	// MappingTypePrinting maps an internal printing to a provider variant.
	MappingTypePrinting = "printing"
)

// VariantRef returns the stable key identifying one (printing, provider, grade) price cohort.
func VariantRef(printingID, provider, grade string) string {
	return fmt.Sprintf("%s::%s::%s", printingID, provider, grade)
}

// MappingRow links a printing to a provider variant. Unique on (provider, mapping_type, printing_id).
type MappingRow struct {
	Provider          string    `json:"provider"`
	MappingType       string    `json:"mapping_type"`
	PrintingID        string    `json:"printing_id"`
	ProviderCardID    string    `json:"provider_card_id"`
	ProviderVariantID string    `json:"provider_variant_id"`
	Confidence        float64   `json:"confidence"`
	MatchReasons      []string  `json:"match_reasons"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LatestPriceRow is the newest observed price. Unique on (provider_variant_id, provider, grade, price_type).
type LatestPriceRow struct {
	ProviderVariantID string    `json:"provider_variant_id"`
	Provider          string    `json:"provider"`
	Grade             string    `json:"grade"`
	PriceType         string    `json:"price_type"`
	Price             float64   `json:"price"`
	ObservedAt        time.Time `json:"observed_at"`
	PrintingID        string    `json:"printing_id"`
	CanonicalSlug     string    `json:"canonical_slug"`
}

// HistoryPoint is one append-only price observation. Unique on (provider, variant_ref, ts, source_window).
type HistoryPoint struct {
	Provider     string    `json:"provider"`
	VariantRef   string    `json:"variant_ref"`
	Timestamp    time.Time `json:"ts"`
	SourceWindow string    `json:"source_window"`
	Price        float64   `json:"price"`
}

// VariantMetricRow carries provider-supplied rolling statistics.
// Unique on (canonical_slug, printing_id, provider, grade).
type VariantMetricRow struct {
	CanonicalSlug           string    `json:"canonical_slug"`
	PrintingID              string    `json:"printing_id"`
	Provider                string    `json:"provider"`
	Grade                   string    `json:"grade"`
	TrendSlope7d            *float64  `json:"trend_slope_7d"`
	CovPrice30d             *float64  `json:"cov_price_30d"`
	PriceRelativeTo30dRange *float64  `json:"price_relative_to_30d_range"`
	MinPrice30d             *float64  `json:"min_price_30d"`
	MaxPrice30d             *float64  `json:"max_price_30d"`
	HistoryPoints30d        int       `json:"history_points_30d"`
	AsOf                    time.Time `json:"as_of"`
}

// MetricKey identifies one cohort whose derived signals need recomputation.
type MetricKey struct {
	CanonicalSlug string `json:"canonical_slug"`
	VariantRef    string `json:"variant_ref"`
	Provider      string `json:"provider"`
	Grade         string `json:"grade"`
}

// PageArchive is the forensic record of one provider page fetch.
type PageArchive struct {
	RunID         string    `json:"run_id"`
	Provider      string    `json:"provider"`
	ProviderSetID string    `json:"provider_set_id"`
	Window        string    `json:"window"`
	Page          int       `json:"page"`
	HTTPStatus    int       `json:"http_status"`
	OK            bool      `json:"ok"`
	Error         string    `json:"error,omitempty"`
	BodySample    string    `json:"body_sample"`
	Truncated     bool      `json:"truncated"`
	FetchedAt     time.Time `json:"fetched_at"`
}
