package config

// JobStatus is the lifecycle state of a render job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusQueued     JobStatus = "QUEUED"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
	JobStatusCancelled  JobStatus = "CANCELLED"
)

// Machine-readable error codes written to jobs and returned by the API.
const (
	ErrCodeValidation    = "ValidationError"
	ErrCodeTimeout       = "Timeout"
	ErrCodeProcessError  = "ProcessError"
	ErrCodeOutputMissing = "OutputMissing"
	ErrCodeStorage       = "StorageError"
	ErrCodeNotFound      = "NotFound"
	ErrCodeInvalidState  = "InvalidState"
)

// IsTerminal reports whether a job in this status will never change again.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether a job in this status may still be cancelled.
// Once a worker has claimed the job the render run is not interruptible.
func (s JobStatus) Cancellable() bool {
	return s == JobStatusPending || s == JobStatusQueued
}
