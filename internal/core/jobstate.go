package core

import (
	"context"
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of an ImportJob.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobParsing   JobStatus = "parsing"
	JobImporting JobStatus = "importing"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobPending, JobParsing, JobImporting, JobCompleted, JobFailed:
		return true
	}
	return false
}

// jobMachine applies state transitions to a job, persisting each one before
// it becomes visible on the in-memory job.
type jobMachine struct {
	jobs JobStore
	now  func() time.Time
}

// apply runs mutate on a copy of job, writes the copy, and only then copies
// it back, so a failed write leaves job unchanged.
func (m *jobMachine) apply(ctx context.Context, job *ImportJob, mutate func(*ImportJob)) error {
	next := *job
	mutate(&next)
	if err := m.jobs.UpdateJob(ctx, &next); err != nil {
		return fmt.Errorf("persist job %s as %s: %w", job.ID, next.Status, err)
	}
	*job = next
	return nil
}

// Begin moves a job into parsing and stamps started_at. A job found in
// parsing or importing was interrupted mid-run and is started over.
func (m *jobMachine) Begin(ctx context.Context, job *ImportJob) error {
	switch job.Status {
	case JobPending, JobParsing, JobImporting:
	default:
		return fmt.Errorf("begin job %s from %s: %w", job.ID, job.Status, ErrInvalidTransition)
	}
	now := m.now()
	return m.apply(ctx, job, func(j *ImportJob) {
		j.Status = JobParsing
		j.StartedAt = &now
		j.TotalRows = nil
		j.ProcessedRows = 0
		j.ErrorMessage = nil
		j.FinishedAt = nil
	})
}

// Counted records total_rows after the count pass and moves to importing.
func (m *jobMachine) Counted(ctx context.Context, job *ImportJob, total int) error {
	if job.Status != JobParsing {
		return fmt.Errorf("import job %s from %s: %w", job.ID, job.Status, ErrInvalidTransition)
	}
	return m.apply(ctx, job, func(j *ImportJob) {
		j.Status = JobImporting
		j.TotalRows = &total
		j.ProcessedRows = 0
	})
}

// Complete marks an importing job completed and stamps finished_at.
func (m *jobMachine) Complete(ctx context.Context, job *ImportJob) error {
	if job.Status != JobImporting {
		return fmt.Errorf("complete job %s from %s: %w", job.ID, job.Status, ErrInvalidTransition)
	}
	now := m.now()
	return m.apply(ctx, job, func(j *ImportJob) {
		j.Status = JobCompleted
		j.FinishedAt = &now
	})
}

// Fail marks any non-terminal job failed with cause as its error_message.
func (m *jobMachine) Fail(ctx context.Context, job *ImportJob, cause error) error {
	if job.Status.Terminal() {
		return fmt.Errorf("fail job %s from %s: %w", job.ID, job.Status, ErrInvalidTransition)
	}
	msg := "unknown error"
	if cause != nil && cause.Error() != "" {
		msg = cause.Error()
	}
	now := m.now()
	return m.apply(ctx, job, func(j *ImportJob) {
		j.Status = JobFailed
		j.ErrorMessage = &msg
		j.FinishedAt = &now
	})
}
