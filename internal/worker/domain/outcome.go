package domain

import "fmt"

// OutcomeKind tags the variant held by an Outcome
type OutcomeKind int

// The zero OutcomeKind is deliberately invalid so that an unset Outcome
// is never mistaken for a completion.
const (
	OutcomeComplete OutcomeKind = iota + 1
	OutcomeFail
	OutcomeUnhandled
)

// String returns the lower-case name of the kind
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeComplete:
		return "complete"
	case OutcomeFail:
		return "fail"
	case OutcomeUnhandled:
		return "unhandled"
	default:
		return fmt.Sprintf("invalid(%d)", int(k))
	}
}

// Outcome is the result of handling one job. Exactly one outcome is
// produced per activated job and it is consumed once by the reporter.
type Outcome struct {
	Kind OutcomeKind

	// Variables are sent with CompleteJob; nil means no update
	Variables map[string]any

	// ErrorMessage is sent with FailJob for Fail and Unhandled outcomes
	ErrorMessage string
}

// Complete builds a successful outcome with optional updated variables
func Complete(variables map[string]any) Outcome {
	return Outcome{Kind: OutcomeComplete, Variables: variables}
}

// Fail builds an explicit business failure
func Fail(message string) Outcome {
	if message == "" {
		message = "job failed"
	}
	return Outcome{Kind: OutcomeFail, ErrorMessage: message}
}

// Unhandled builds the outcome used when a handler crashed or misbehaved
func Unhandled(reason string) Outcome {
	if reason == "" {
		reason = "job handler fault"
	}
	return Outcome{Kind: OutcomeUnhandled, ErrorMessage: reason}
}

// Valid reports whether the outcome holds a known variant
func (o Outcome) Valid() bool {
	switch o.Kind {
	case OutcomeComplete, OutcomeFail, OutcomeUnhandled:
		return true
	default:
		return false
	}
}
