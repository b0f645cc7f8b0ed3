package models

import "time"

// FailureKind classifies why a job ended in the failed state.
type FailureKind string

const (
	FailureTimeout       FailureKind = "timeout"
	FailureProviderError FailureKind = "provider_error"
	FailureEmptyResponse FailureKind = "empty_response"
	FailureCancelled     FailureKind = "cancelled"
	FailureInternal      FailureKind = "internal"
)

// FailureLog is an append-only diagnostic row written whenever a job fails.
// The most recent row for a job describes its current failure.
type FailureLog struct {
	ID           int64       `db:"id"            json:"id"`
	JobID        string      `db:"job_id"        json:"job_id"`
	OwnerID      string      `db:"owner_id"      json:"owner_id"`
	Kind         FailureKind `db:"kind"          json:"kind"`
	ErrorMessage string      `db:"error_message" json:"error_message"`
	ErrorDetail  string      `db:"error_detail"  json:"error_detail,omitempty"`
	CreatedAt    time.Time   `db:"created_at"    json:"created_at"`
}
