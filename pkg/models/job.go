package models

import (
	"time"
)

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Valid reports whether s is one of the four known states.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further automatic transition leaves s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusPending:    {JobStatusProcessing},
	JobStatusProcessing: {JobStatusCompleted, JobStatusFailed},
	JobStatusFailed:     {JobStatusPending},
}

// CanTransition reports whether from -> to is a legal edge of the job state machine.
// completed is absorbing; failed only leaves through an explicit retry.
func CanTransition(from, to JobStatus) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// BatchProgress counts finished parts of a multi-part job.
type BatchProgress struct {
	CompletedParts int `json:"completed_parts"`
	TotalParts     int `json:"total_parts"`
}

// Job is one request to analyze a declaration payload. Jobs are created pending,
// picked up by a worker, and end completed (with result text) or failed (with at
// least one FailureLog row).
type Job struct {
	ID              string         `db:"id"               json:"job_id"`
	OwnerID         string         `db:"owner_id"         json:"owner_id"`
	InputRefs       []string       `db:"input_refs"       json:"input_refs"`
	InputPayload    string         `db:"input_payload"    json:"-"`
	Status          JobStatus      `db:"status"           json:"status"`
	BatchProgress   *BatchProgress `db:"-"                json:"batch_progress,omitempty"`
	BatchRef        *string        `db:"batch_ref"        json:"-"`
	ResultText      *string        `db:"result_text"      json:"result_text,omitempty"`
	ArtifactURL     *string        `db:"artifact_url"     json:"artifact_url,omitempty"`
	CancelRequested bool           `db:"cancel_requested" json:"cancel_requested"`
	CreatedAt       time.Time      `db:"created_at"       json:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"       json:"updated_at"`
}

// PartStatus tracks a single chunk inside a multi-part job.
type PartStatus string

const (
	PartStatusPending   PartStatus = "pending"
	PartStatusSucceeded PartStatus = "succeeded"
	PartStatusErrored   PartStatus = "errored"
)
