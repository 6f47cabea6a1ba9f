package backfill

import (
	"time"

	"github.com/sells-group/cardsync/internal/model"
	"github.com/sells-group/cardsync/internal/persist"
	"github.com/sells-group/cardsync/internal/provider"
)

// Stage is a step of the run state machine.
type Stage string

const (
	StageStarted      Stage = "STARTED"
	StagePrecondition Stage = "PRECONDITION"
	StageFetching     Stage = "FETCHING"
	StageMatching     Stage = "MATCHING"
	StagePersisting   Stage = "PERSISTING"
	StageFinished     Stage = "FINISHED"
)

// Options controls a single backfill run.
type Options struct {
	Language              string `json:"language"`
	Aggressive            bool   `json:"aggressive"`
	DryRun                bool   `json:"dry_run"`
	ProviderSetIDOverride string `json:"provider_set_id_override,omitempty"`
}

// DefaultOptions returns English, aggressive, non-dry-run options.
func DefaultOptions() Options {
	return Options{Language: "EN", Aggressive: true}
}

// Counts are the numeric totals of a run.
type Counts struct {
	PrintingsSelected    int   `json:"printings_selected"`
	ProviderCards        int   `json:"provider_cards"`
	Matched              int   `json:"matched"`
	ManualRepairs        int   `json:"manual_repairs"`
	MappingUpserts       int64 `json:"mapping_upserts"`
	LatestPriceWrites    int64 `json:"latest_price_writes"`
	HistoryPointsWritten int64 `json:"history_points_written"`
	MetricRowsWritten    int64 `json:"metric_rows_written"`
	Ambiguous            int   `json:"ambiguous"`
	NoMatch              int   `json:"no_match"`
	PayloadInvalid       int   `json:"payload_invalid"`
	HardFailures         int   `json:"hard_failures"`
}

// MappingSample is a successful mapping kept for operator review.
type MappingSample struct {
	PrintingID        string   `json:"printing_id"`
	ProviderCardID    string   `json:"provider_card_id"`
	ProviderVariantID string   `json:"provider_variant_id"`
	Confidence        float64  `json:"confidence"`
	Reasons           []string `json:"reasons,omitempty"`
	Manual            bool     `json:"manual,omitempty"`
}

// Result is the structured outcome of one backfill run. It is also the
// run record summary.
type Result struct {
	OK            bool   `json:"ok"`
	RunID         string `json:"run_id"`
	Provider      string `json:"provider"`
	SetKey        string `json:"set_key"`
	Language      string `json:"language"`
	ProviderSetID string `json:"provider_set_id,omitempty"`
	DryRun        bool   `json:"dry_run"`
	Stage         Stage  `json:"stage"`
	FailedStage   Stage  `json:"failed_stage,omitempty"`

	ProviderWindowRequested provider.Window          `json:"provider_window_requested,omitempty"`
	ProviderWindowUsed      provider.Window          `json:"provider_window_used,omitempty"`
	WindowAttempts          []provider.WindowAttempt `json:"window_attempts,omitempty"`
	RecentWindowError       string                   `json:"recent_window_error,omitempty"`

	Counts         Counts                    `json:"counts"`
	ErrorCounts    map[model.FailureKind]int `json:"error_counts"`
	FailureSamples []model.Failure           `json:"failure_samples"`
	MappingSamples []MappingSample           `json:"mapping_samples"`
	FirstError     string                    `json:"first_error,omitempty"`

	Persist *persist.Result `json:"persist,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Status maps the result onto the run record status.
func (r *Result) Status() model.RunStatus {
	if r.OK {
		return model.RunStatusFinished
	}
	return model.RunStatusFailed
}
