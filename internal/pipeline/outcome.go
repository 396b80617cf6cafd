package pipeline

import (
	"errors"
	"fmt"

	"plan-overlay/internal/alignment"
)

// State is a step of the orchestrator state machine.
type State int

const (
	NotStarted State = iota
	PrimaryAttempted
	Succeeded
	PrimaryFailed
	FallbackAttempted
	BothFailed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case PrimaryAttempted:
		return "primary_attempted"
	case Succeeded:
		return "succeeded"
	case PrimaryFailed:
		return "primary_failed"
	case FallbackAttempted:
		return "fallback_attempted"
	case BothFailed:
		return "both_failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Outcome is the result of one orchestrated alignment: exactly one of
// Success, EstimationFailure or CollaboratorFailure.
type Outcome interface {
	// Err is nil for Success and the surfaced error otherwise.
	Err() error
	// Trace lists the states visited, starting with NotStarted.
	Trace() []State
	outcome()
}

// Success carries a usable aligned pair. A low inlier ratio is still a
// Success; it is only logged.
type Success struct {
	Result alignment.Result
	States []State
}

// EstimationFailure means no path produced a transform. Reason is the
// primary aligner's error; Fallback is the fallback's own error, if it ran.
type EstimationFailure struct {
	Reason   error
	Fallback error
	States   []State
}

// CollaboratorFailure means an external collaborator failed. It is never
// retried by the orchestrator.
type CollaboratorFailure struct {
	Reason error
	States []State
}

func (s Success) Err() error { return nil }

func (s Success) Trace() []State { return s.States }

func (f EstimationFailure) Trace() []State { return f.States }

func (f CollaboratorFailure) Trace() []State { return f.States }

func (Success) outcome()             {}
func (EstimationFailure) outcome()   {}
func (CollaboratorFailure) outcome() {}

func (f EstimationFailure) Err() error {
	if f.Reason == nil {
		return errors.New("alignment failed")
	}
	return fmt.Errorf("alignment failed: %w", f.Reason)
}

func (f CollaboratorFailure) Err() error {
	if f.Reason == nil {
		return errors.New("alignment collaborator failed")
	}
	return fmt.Errorf("alignment collaborator failed: %w", f.Reason)
}

// Final returns the last state visited.
func Final(o Outcome) State {
	trace := o.Trace()
	if len(trace) == 0 {
		return NotStarted
	}
	return trace[len(trace)-1]
}
