package model

// PricePoint is one provider-supplied historical price observation.
type PricePoint struct {
	Price     float64 `json:"p"`
	Timestamp int64   `json:"t"` // unix seconds
}

// ProviderVariant is one priced cohort (printing × condition × language) of a provider card.
type ProviderVariant struct {
	ID                      string       `json:"id"`
	Printing                string       `json:"printing"`
	Condition               string       `json:"condition"`
	Language                string       `json:"language,omitempty"`
	Price                   *float64     `json:"price"`
	LastUpdated             int64        `json:"lastUpdated"`
	PriceHistory            []PricePoint `json:"priceHistory,omitempty"`
	TrendSlope7d            *float64     `json:"trendSlope7d,omitempty"`
	CovPrice30d             *float64     `json:"covPrice30d,omitempty"`
	PriceRelativeTo30dRange *float64     `json:"priceRelativeTo30dRange,omitempty"`
	MinPrice30d             *float64     `json:"minPrice30d,omitempty"`
	MaxPrice30d             *float64     `json:"maxPrice30d,omitempty"`
}

// HasAnalytics returns true if the rolling statistics needed for a metric row are present.
func (v ProviderVariant) HasAnalytics() bool {
	return v.TrendSlope7d != nil && v.CovPrice30d != nil && v.PriceRelativeTo30dRange != nil
}

// ProviderCard is a card as the external provider catalogs it.
type ProviderCard struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Number   string            `json:"number"`
	SetID    string            `json:"set,omitempty"`
	Rarity   string            `json:"rarity,omitempty"`
	Variants []ProviderVariant `json:"variants"`
}
