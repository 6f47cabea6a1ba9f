package model

// Finish is the surface treatment of a physical printing.
type Finish string

const (
	FinishNonHolo     Finish = "NON_HOLO"
	FinishHolo        Finish = "HOLO"
	FinishReverseHolo Finish = "REVERSE_HOLO"
	FinishAltHolo     Finish = "ALT_HOLO"
	FinishUnknown     Finish = "UNKNOWN"
)

// Known returns true if the finish carries information (is not UNKNOWN or empty).
func (f Finish) Known() bool {
	return f != "" && f != FinishUnknown
}

// Edition is the print run of a physical printing.
type Edition string

const (
	EditionUnlimited    Edition = "UNLIMITED"
	EditionFirstEdition Edition = "FIRST_EDITION"
	EditionUnknown      Edition = "UNKNOWN"
)

// Known returns true if the edition carries information.
func (e Edition) Known() bool {
	return e != "" && e != EditionUnknown
}

// Printing is one physical variant of a canonical card. Read-only to the pipeline.
type Printing struct {
	ID            string  `json:"id"`
	CanonicalSlug string  `json:"canonical_slug"`
	CardNumber    string  `json:"card_number"`
	Finish        Finish  `json:"finish"`
	Edition       Edition `json:"edition"`
	Stamp         *string `json:"stamp,omitempty"`
	Language      string  `json:"language"`
	SetCode       string  `json:"set_code,omitempty"`
	SetName       string  `json:"set_name,omitempty"`
}

// HasStamp returns true if the printing carries a stamp/pattern token.
func (p Printing) HasStamp() bool {
	return p.Stamp != nil && *p.Stamp != ""
}

// CanonicalCard is the provider-agnostic identity of a card.
type CanonicalCard struct {
	Slug       string `json:"slug"`
	Name       string `json:"name"`
	Subject    string `json:"subject,omitempty"`
	SetName    string `json:"set_name"`
	CardNumber string `json:"card_number"`
}
