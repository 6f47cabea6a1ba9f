package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the terminal state of a backfill run.
type RunStatus string

const (
	RunStatusFinished RunStatus = "finished"
	RunStatusFailed   RunStatus = "failed"
)

// RunRecord is the audit row written once per backfill invocation.
type RunRecord struct {
	ID            string          `json:"id"`
	Provider      string          `json:"provider"`
	SetKey        string          `json:"set_key"`
	ProviderSetID string          `json:"provider_set_id"`
	Status        RunStatus       `json:"status"`
	OK            bool            `json:"ok"`
	Matched       int             `json:"matched"`
	HardFailures  int             `json:"hard_failures"`
	Summary       json.RawMessage `json:"summary"`
	StartedAt     time.Time       `json:"started_at"`
	FinishedAt    time.Time       `json:"finished_at"`
}
