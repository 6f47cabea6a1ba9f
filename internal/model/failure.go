package model

import "sort"

// FailureKind is the closed taxonomy of per-run failures.
type FailureKind string

const (
	FailureMissingCanonical FailureKind = "MISSING_CANONICAL_PRINTING"
	FailureNoMatch          FailureKind = "NO_PROVIDER_MATCH"
	FailureAmbiguous        FailureKind = "AMBIGUOUS_PROVIDER_MATCH"
	FailureFetch            FailureKind = "PROVIDER_FETCH_FAILED"
	FailurePayloadInvalid   FailureKind = "PROVIDER_PAYLOAD_INVALID"
	FailureUpsert           FailureKind = "DB_UPSERT_FAILED"
)

// AllFailureKinds returns every failure kind in taxonomy order.
func AllFailureKinds() []FailureKind {
	return []FailureKind{
		FailureMissingCanonical,
		FailureNoMatch,
		FailureAmbiguous,
		FailureFetch,
		FailurePayloadInvalid,
		FailureUpsert,
	}
}

// Hard reports whether a failure of this kind marks the run unsuccessful.
func (k FailureKind) Hard() bool {
	switch k {
	case FailureMissingCanonical, FailureFetch, FailureUpsert:
		return true
	case FailureNoMatch, FailureAmbiguous, FailurePayloadInvalid:
		return false
	default:
		return true
	}
}

// Failure is one typed failure with operator-facing detail.
type Failure struct {
	Kind       FailureKind    `json:"kind"`
	PrintingID string         `json:"printing_id,omitempty"`
	Message    string         `json:"message"`
	Detail     map[string]any `json:"detail,omitempty"`
}

// NewMissingCanonical reports a printing whose canonical card row is not loaded.
func NewMissingCanonical(printingID, slug string) Failure {
	return Failure{
		Kind:       FailureMissingCanonical,
		PrintingID: printingID,
		Message:    "canonical card row missing for printing",
		Detail:     map[string]any{"canonical_slug": slug},
	}
}

// NewNoProviderMatch reports a printing with no surviving candidate.
func NewNoProviderMatch(printingID string, samples []CandidateSample) Failure {
	return Failure{
		Kind:       FailureNoMatch,
		PrintingID: printingID,
		Message:    "no provider candidate survived rejection",
		Detail:     map[string]any{"rejected": samples},
	}
}

// NewAmbiguousMatch reports a printing whose top candidates tie.
func NewAmbiguousMatch(printingID, reason string, top []CandidateSample) Failure {
	return Failure{
		Kind:       FailureAmbiguous,
		PrintingID: printingID,
		Message:    reason,
		Detail:     map[string]any{"top": top},
	}
}

// NewFetchFailed reports a provider fetch that could not be completed.
func NewFetchFailed(providerSetID, window, msg string) Failure {
	return Failure{
		Kind:    FailureFetch,
		Message: msg,
		Detail:  map[string]any{"provider_set_id": providerSetID, "window": window},
	}
}

// NewPayloadInvalid reports a matched variant missing required fields.
func NewPayloadInvalid(printingID, variantID string, missing []string) Failure {
	sort.Strings(missing)
	return Failure{
		Kind:       FailurePayloadInvalid,
		PrintingID: printingID,
		Message:    "provider variant missing required fields",
		Detail:     map[string]any{"provider_variant_id": variantID, "missing": missing},
	}
}

// NewUpsertFailed reports a failed datastore write.
func NewUpsertFailed(table, printingID, msg string) Failure {
	return Failure{
		Kind:       FailureUpsert,
		PrintingID: printingID,
		Message:    msg,
		Detail:     map[string]any{"table": table},
	}
}

// CandidateSample is the serializable view of a scored candidate kept in failure detail.
type CandidateSample struct {
	ProviderCardID    string   `json:"provider_card_id"`
	ProviderVariantID string   `json:"provider_variant_id"`
	Name              string   `json:"name"`
	Number            string   `json:"number"`
	Printing          string   `json:"printing"`
	Condition         string   `json:"condition"`
	Score             int      `json:"score"`
	Reasons           []string `json:"reasons,omitempty"`
	Rejections        []string `json:"rejections,omitempty"`
}
