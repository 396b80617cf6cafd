// Package alignerr defines the error classes shared by the alignment engine.
//
// Leaf packages wrap one of the sentinels below; only the pipeline inspects
// the class (via errors.Is) to decide between fallback and propagation.
package alignerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInput marks malformed inputs (wrong shape, undecodable bytes). Always fatal.
	ErrInput = errors.New("input error")
	// ErrEstimation marks insufficient matches/inliers or no admissible model.
	// Recoverable by switching to the fallback aligner.
	ErrEstimation = errors.New("estimation failure")
	// ErrCollaborator marks failures of an external collaborator (network, auth).
	// Always fatal; never downgraded to "nothing found".
	ErrCollaborator = errors.New("collaborator error")
)

// Input returns an ErrInput-classed error.
func Input(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInput, fmt.Sprintf(format, args...))
}

// Estimation returns an ErrEstimation-classed error.
func Estimation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEstimation, fmt.Sprintf(format, args...))
}

// Collaborator wraps err as an ErrCollaborator-classed error for the named operation.
func Collaborator(operation string, err error) error {
	operation = strings.TrimSpace(operation)
	if operation == "" {
		operation = "collaborator call"
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCollaborator, operation, err)
	}
	return fmt.Errorf("%w: %s", ErrCollaborator, operation)
}

// Class returns the sentinel err belongs to, or nil if it is unclassified.
func Class(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCollaborator):
		return ErrCollaborator
	case errors.Is(err, ErrInput):
		return ErrInput
	case errors.Is(err, ErrEstimation):
		return ErrEstimation
	default:
		return nil
	}
}
