package domain

import "fmt"

// FaultPolicy decides what happens to a job whose handler crashed
type FaultPolicy string

const (
	// FaultPolicyReportAsFailure sends FailJob, consuming one retry
	FaultPolicyReportAsFailure FaultPolicy = "report_as_failure"
	// FaultPolicyDropAndLetLeaseExpire sends nothing; the broker re-offers
	// the job after the lease times out
	FaultPolicyDropAndLetLeaseExpire FaultPolicy = "drop_and_let_lease_expire"
)

// ParseFaultPolicy converts a config string into a FaultPolicy.
// An empty string selects FaultPolicyReportAsFailure.
func ParseFaultPolicy(s string) (FaultPolicy, error) {
	switch FaultPolicy(s) {
	case "", FaultPolicyReportAsFailure:
		return FaultPolicyReportAsFailure, nil
	case FaultPolicyDropAndLetLeaseExpire:
		return FaultPolicyDropAndLetLeaseExpire, nil
	default:
		return "", fmt.Errorf("unknown fault policy %q", s)
	}
}

// PollMode selects the scheduling policy of the poll loop
type PollMode string

const (
	// PollModeInterval polls on a fixed cadence
	PollModeInterval PollMode = "interval"
	// PollModeContinuous polls again as soon as capacity frees
	PollModeContinuous PollMode = "continuous"
)

// ParsePollMode converts a config string into a PollMode.
// An empty string selects PollModeInterval.
func ParsePollMode(s string) (PollMode, error) {
	switch PollMode(s) {
	case "", PollModeInterval:
		return PollModeInterval, nil
	case PollModeContinuous:
		return PollModeContinuous, nil
	default:
		return "", fmt.Errorf("unknown poll mode %q", s)
	}
}

// State is the poll scheduler state
type State string

const (
	StateIdle        State = "idle"
	StatePolling     State = "polling"
	StateDispatching State = "dispatching"
	StateStopping    State = "stopping"
	StateStopped     State = "stopped"
)
