package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is wrapped by every ConfigurationError
	ErrInvalidConfig = errors.New("invalid worker configuration")

	// ErrAlreadyStarted is returned when Start is called on a running worker
	ErrAlreadyStarted = errors.New("worker already started")

	// ErrNotStarted is returned when Stop is called before Start
	ErrNotStarted = errors.New("worker not started")

	// ErrDrainTimeout is returned by Stop when in-flight jobs did not finish in time
	ErrDrainTimeout = errors.New("timed out draining in-flight jobs")

	// ErrJobNotActivated is returned by gateways when a job is not currently leased,
	// typically because the lease expired or the job was already reported
	ErrJobNotActivated = errors.New("job not activated")

	// ErrVariableNotFound is returned by the typed variable accessors
	ErrVariableNotFound = errors.New("variable not found")
)

// ActivationError reports a failed ActivateJobs call. The scheduler recovers
// from it and tries again on the next cycle.
type ActivationError struct {
	JobType string
	Err     error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("failed to activate jobs of type %q: %v", e.JobType, e.Err)
}

func (e *ActivationError) Unwrap() error {
	return e.Err
}

// ReportOp names the remote call that failed while reporting an outcome
type ReportOp string

const (
	ReportOpComplete ReportOp = "CompleteJob"
	ReportOpFail     ReportOp = "FailJob"
)

// ReportingError reports a failed CompleteJob or FailJob call. It is
// terminal for the job: the call is not retried and the broker re-offers
// the job once its lease expires.
type ReportingError struct {
	Key int64
	Op  ReportOp
	Err error
}

func (e *ReportingError) Error() string {
	return fmt.Sprintf("failed to report job %d via %s: %v", e.Key, e.Op, e.Err)
}

func (e *ReportingError) Unwrap() error {
	return e.Err
}

// HandlerFault describes why a handler invocation was converted into an
// Unhandled outcome
type HandlerFault struct {
	Key    int64
	Reason string
	Panic  any
	Stack  []byte
}

func (e *HandlerFault) Error() string {
	return fmt.Sprintf("job %d handler fault: %s", e.Key, e.Reason)
}

// ConfigurationError is returned at construction time; a worker built from
// an invalid configuration never starts
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%v: %s %s", ErrInvalidConfig, e.Field, e.Reason)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrInvalidConfig
}

// VariableError wraps failures of the typed variable accessors
type VariableError struct {
	Name string
	Err  error
}

func (e *VariableError) Error() string {
	return fmt.Sprintf("variable %q: %v", e.Name, e.Err)
}

func (e *VariableError) Unwrap() error {
	return e.Err
}
