package entity

import "time"

// Status is the terminal outcome of one per-source ingestion run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusEmpty   Status = "empty"
	StatusFailed  Status = "failed"
)

// IngestionResult is returned by every per-source pipeline run. It is
// surfaced to logs, metrics and the HTTP API, never stored as domain data.
type IngestionResult struct {
	RunID            string        `json:"run_id"`
	SourceID         string        `json:"source_id"`
	Status           Status        `json:"status"`
	Attempted        int           `json:"attempted"`
	Persisted        int           `json:"persisted"`
	Skipped          int           `json:"skipped"`
	Duplicates       int           `json:"duplicates"`
	RejectedRows     int           `json:"rejected_rows"`
	CoercionWarnings int           `json:"coercion_warnings"`
	Error            string        `json:"error,omitempty"`
	ErrorType        string        `json:"error_type,omitempty"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}

// Fail marks the result failed with a classified error.
func (r *IngestionResult) Fail(err error) {
	r.Status = StatusFailed
	r.Error = err.Error()
	r.ErrorType = ErrorType(err)
}

// PersistOutcome counts what happened to a batch handed to the persistence layer.
type PersistOutcome struct {
	Attempted  int
	Written    int
	Skipped    int
	Duplicates int
}
