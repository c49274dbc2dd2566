// Package uploader implements the upload scheduler: once a request is
// approved, each of its output files becomes a persistent upload job
// pushed to the external Jobs site by a bounded worker pool with
// exponential backoff. When the last output file reports uploaded the
// request transitions to RELEASED.
package uploader

import "time"

// JobState is the lifecycle state of a single upload job.
type JobState string

const (
	// JobPending: waiting for a worker (possibly backing off).
	JobPending JobState = "PENDING"
	// JobRunning: claimed by a worker, an attempt is in flight.
	JobRunning JobState = "RUNNING"
	// JobSucceeded: the Jobs site accepted the file.
	JobSucceeded JobState = "SUCCEEDED"
	// JobFailed: attempts exhausted, deadline passed, or the Jobs site
	// rejected the file permanently. Only re-release revives it.
	JobFailed JobState = "FAILED"
)

// Job is one persistent upload task: push one file snapshot of one
// approved request to the Jobs site. Jobs survive restarts; on startup
// the scheduler resumes every unfinished job of every APPROVED request.
type Job struct {
	ID        string `gorm:"primaryKey" json:"id"`
	RequestID string `gorm:"uniqueIndex:idx_upload_request_relpath" json:"request_id"`
	Relpath   string `gorm:"uniqueIndex:idx_upload_request_relpath" json:"relpath"`

	Workspace   string `json:"workspace"`
	Group       string `json:"group"`
	ContentHash string `json:"content_hash"`
	Size        int64  `json:"size"`
	ReleasedBy  string `json:"released_by"`

	State    JobState `gorm:"index" json:"state"`
	Attempts int      `json:"attempts"`

	// NextAttemptAt delays retries; a job is claimable once it has
	// passed. ClaimedUntil fences concurrent workers: a RUNNING job
	// whose claim expired is treated as abandoned and may be reclaimed.
	NextAttemptAt time.Time  `gorm:"index" json:"next_attempt_at"`
	ClaimedUntil  *time.Time `json:"claimed_until,omitempty"`

	// DeadlineAt bounds the job's total lifetime; past it the job fails
	// regardless of remaining attempts.
	DeadlineAt time.Time `json:"deadline_at"`

	LastError string `json:"last_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName keeps the table name decoupled from the package name.
func (Job) TableName() string {
	return "upload_jobs"
}
