package jobx

import "github.com/Abraxas-365/jobrelay/pkg/errx"

var jobxErrors = errx.NewRegistry("JOBX")

var (
	ErrInvalidJob        = jobxErrors.Register("INVALID_JOB", errx.TypeValidation, 400, "Invalid job definition")
	ErrInvalidPriority   = jobxErrors.Register("INVALID_PRIORITY", errx.TypeValidation, 400, "Priority must be 0 (low), 1 (normal) or 2 (high)")
	ErrInvalidStatus     = jobxErrors.Register("INVALID_STATUS", errx.TypeValidation, 400, "Unrecognized job status")
	ErrInvalidEvent      = jobxErrors.Register("INVALID_EVENT", errx.TypeValidation, 400, "Malformed queue event")
	ErrJobNotFound       = jobxErrors.Register("JOB_NOT_FOUND", errx.TypeNotFound, 404, "Job not found")
	ErrResultNotFound    = jobxErrors.Register("RESULT_NOT_FOUND", errx.TypeNotFound, 404, "Job result not found")
	ErrHealthNotFound    = jobxErrors.Register("HEALTH_NOT_FOUND", errx.TypeNotFound, 404, "Worker health record not found")
	ErrInvalidTransition = jobxErrors.Register("INVALID_TRANSITION", errx.TypeConflict, 409, "Job is already in a different terminal state")
	ErrExecutionFailed   = jobxErrors.Register("EXECUTION_FAILED", errx.TypeExternal, 502, "Job executor reported a failure")
	ErrExecutionTimeout  = jobxErrors.Register("EXECUTION_TIMEOUT", errx.TypeExternal, 504, "Job executor exceeded its timeout")
	ErrAlreadyRunning    = jobxErrors.Register("ALREADY_RUNNING", errx.TypeConflict, 409, "Worker is already running")
	ErrShutdownTimeout   = jobxErrors.Register("SHUTDOWN_TIMEOUT", errx.TypeInternal, 500, "Graceful shutdown timed out")
)

// NewError builds an error from one of this package's codes. Backends use it
// so callers can match on jobx codes regardless of the store.
func NewError(code *errx.ErrorCode) *errx.Error {
	return jobxErrors.New(code)
}

// WrapError builds an error from code with cause attached.
func WrapError(code *errx.ErrorCode, cause error) *errx.Error {
	return jobxErrors.NewWithCause(code, cause)
}
