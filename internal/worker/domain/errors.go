package domain

import "errors"

var (
	// ErrJobNotFound is returned when no status exists for a job id
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidJob is returned when a submission fails validation
	ErrInvalidJob = errors.New("invalid job")

	// ErrDurationExceeded is returned when the source is longer than the configured ceiling
	ErrDurationExceeded = errors.New("video too long")

	// ErrRetrievalFailed is returned when the source audio cannot be fetched
	ErrRetrievalFailed = errors.New("retrieval failed")

	// ErrSeparationFailed is returned when stem separation fails
	ErrSeparationFailed = errors.New("separation failed")

	// ErrAnalysisFailed marks a tempo/key estimation failure. It never aborts a job.
	ErrAnalysisFailed = errors.New("analysis failed")

	// ErrWorkerStopped is returned when submitting to a worker that has been stopped
	ErrWorkerStopped = errors.New("worker stopped")
)

// JobError records which pipeline stage a job failed in
type JobError struct {
	Stage string
	Err   error
}

func (e *JobError) Error() string {
	return e.Err.Error()
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// NewJobError wraps err with the stage it happened in
func NewJobError(stage string, err error) error {
	if err == nil {
		return nil
	}
	return &JobError{Stage: stage, Err: err}
}

// StageOf returns the stage recorded in err, or "" when err is not a JobError
func StageOf(err error) string {
	var jobErr *JobError
	if errors.As(err, &jobErr) {
		return jobErr.Stage
	}
	return ""
}
