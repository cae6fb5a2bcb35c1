package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the status of a maintenance job
type JobStatus string

const (
	JobStatusPending JobStatus = "PENDING"
	JobStatusRunning JobStatus = "RUNNING"
	JobStatusSuccess JobStatus = "SUCCESS"
	JobStatusFailed  JobStatus = "FAILED"
)

// JobKind names the maintenance task a job performs for one business
type JobKind string

const (
	// JobReconcileRelations heals the owner and member relations of a business
	JobReconcileRelations JobKind = "RECONCILE_RELATIONS"
	// JobRecomputeSummary rebuilds the current year's annual budget summary
	JobRecomputeSummary JobKind = "RECOMPUTE_SUMMARY"
)

// AllJobKinds returns every kind a sweep submits, in execution order
func AllJobKinds() []JobKind {
	return []JobKind{JobReconcileRelations, JobRecomputeSummary}
}

// Job is one maintenance task for one business. A job is owned by a single
// worker at a time.
type Job struct {
	ID          uuid.UUID
	BusinessID  string
	Kind        JobKind
	Status      JobStatus
	Error       string
	StartedAt   *time.Time
	CompletedAt *time.Time
	RetryCount  int
	MaxRetries  int
}

// NewJob creates a pending job
func NewJob(businessID string, kind JobKind, maxRetries int) *Job {
	return &Job{
		ID:         uuid.New(),
		BusinessID: businessID,
		Kind:       kind,
		Status:     JobStatusPending,
		MaxRetries: maxRetries,
	}
}

// Start marks the job as running
func (j *Job) Start(now time.Time) {
	j.Status = JobStatusRunning
	j.StartedAt = &now
	j.Error = ""
}

// Complete marks the job as successful
func (j *Job) Complete(now time.Time) {
	j.Status = JobStatusSuccess
	j.CompletedAt = &now
}

// Fail marks the job as failed
func (j *Job) Fail(now time.Time, err string) {
	j.Status = JobStatusFailed
	j.CompletedAt = &now
	j.Error = err
}

// ShouldRetry returns true if the job should be retried
func (j *Job) ShouldRetry() bool {
	return j.Status == JobStatusFailed && j.RetryCount < j.MaxRetries
}

// PrepareRetry counts the attempt and resets the job to pending
func (j *Job) PrepareRetry() {
	j.RetryCount++
	j.Status = JobStatusPending
	j.Error = ""
}

// JobExecutor runs a single job
type JobExecutor interface {
	Execute(ctx context.Context, job *Job) error
}
