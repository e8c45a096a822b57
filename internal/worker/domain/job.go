package domain

import (
	"time"

	"github.com/spf13/cast"
)

// Job represents a job leased from the broker for worker processing
type Job struct {
	Key           int64
	Type          string
	Worker        string
	Retries       int32
	Deadline      time.Time
	Variables     map[string]any
	CustomHeaders map[string]string
}

// ActivationRequest describes a single activation call to the broker
type ActivationRequest struct {
	JobType           string
	Worker            string
	MaxJobsToActivate int
	Timeout           time.Duration
}

// Variable returns the raw value of a job variable
func (j *Job) Variable(name string) (any, bool) {
	if j.Variables == nil {
		return nil, false
	}
	v, ok := j.Variables[name]
	return v, ok
}

// String returns a variable coerced to a string
func (j *Job) String(name string) (string, error) {
	v, ok := j.Variable(name)
	if !ok {
		return "", &VariableError{Name: name, Err: ErrVariableNotFound}
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return "", &VariableError{Name: name, Err: err}
	}
	return s, nil
}

// Int returns a variable coerced to an int64.
// JSON numbers decode as float64, msgpack as sized ints; both are accepted.
func (j *Job) Int(name string) (int64, error) {
	v, ok := j.Variable(name)
	if !ok {
		return 0, &VariableError{Name: name, Err: ErrVariableNotFound}
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, &VariableError{Name: name, Err: err}
	}
	return n, nil
}

// Bool returns a variable coerced to a bool
func (j *Job) Bool(name string) (bool, error) {
	v, ok := j.Variable(name)
	if !ok {
		return false, &VariableError{Name: name, Err: ErrVariableNotFound}
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return false, &VariableError{Name: name, Err: err}
	}
	return b, nil
}

// Expired reports whether the lease deadline has passed at the given time.
// The engine never acts on this; it is informational for handlers.
func (j *Job) Expired(now time.Time) bool {
	return !j.Deadline.IsZero() && now.After(j.Deadline)
}

// NewJob describes a job to be created on a broker
type NewJob struct {
	Type          string
	Retries       int32
	Variables     map[string]any
	CustomHeaders map[string]string
}
