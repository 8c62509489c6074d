package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job is a unit of asynchronous work (spec §3 "Job").
type Job struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	Type          string          `json:"type" db:"type"`
	Priority      int             `json:"priority" db:"priority"`
	Payload       json.RawMessage `json:"payload" db:"payload"`
	Status        JobStatus       `json:"status" db:"status"`
	RetryCount    int             `json:"retry_count" db:"retry_count"`
	MaxRetries    int             `json:"max_retries" db:"max_retries"`
	NextRetryAt   *time.Time      `json:"next_retry_at,omitempty" db:"next_retry_at"`
	ParentJobID   *uuid.UUID      `json:"parent_job_id,omitempty" db:"parent_job_id"`
	DependsOn     []uuid.UUID     `json:"depends_on,omitempty" db:"-"`
	ProgressCur   int             `json:"progress_current" db:"progress_current"`
	ProgressTotal int             `json:"progress_total" db:"progress_total"`
	ProgressMsg   string          `json:"progress_message" db:"progress_message"`
	ErrorMessage  *string         `json:"error_message,omitempty" db:"error_message"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}

// Runnable reports whether j may be picked up by a worker right now,
// given the completion status of its dependencies (spec §4.L
// "Selection"). The caller is responsible for having already checked
// that every id in DependsOn maps to a completed job.
func (j *Job) Runnable(now time.Time, depsCompleted bool) bool {
	if j.Status != JobPending {
		return false
	}
	if j.NextRetryAt != nil && j.NextRetryAt.After(now) {
		return false
	}
	return depsCompleted
}

// JobHistory is the terminal-state row a Job migrates to (spec §3
// Job lifecycle, §4.L "History").
type JobHistory struct {
	Job
	DurationMs int64 `json:"duration_ms" db:"duration_ms"`
}

// ProgressReport is the ephemeral payload handlers publish via
// UpdateProgress (spec §4.L "Progress reporting").
type ProgressReport struct {
	JobID   uuid.UUID `json:"job_id"`
	Current int       `json:"current"`
	Total   int       `json:"total"`
	Message string    `json:"message"`
	Detail  string    `json:"detail,omitempty"`
}

// ScanProgress is the progress-counter block tracked on a library-scan
// parent job (spec §4.F).
type ScanProgress struct {
	DirectoriesTotal    int       `json:"directories_total"`
	DirectoriesQueued   int       `json:"directories_queued"`
	DirectoriesScanned  int       `json:"directories_scanned"`
	AssetsCached        int       `json:"assets_cached"`
	Phase               ScanPhase `json:"phase"`
}

// DirectoryScanComplete reports whether the discovery phase has scanned
// at least as many directories as it counted, i.e. every child has
// finished (spec §4.F). A zero DirectoriesTotal never reports complete.
func (p *ScanProgress) DirectoryScanComplete() bool {
	return p.DirectoriesTotal > 0 && p.DirectoriesScanned >= p.DirectoriesTotal
}
