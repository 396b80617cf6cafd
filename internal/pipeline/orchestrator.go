// Package pipeline orchestrates a revision comparison: the feature aligner
// runs first, the grid-callout aligner is tried only when it cannot estimate
// a transform, and the aligned pair is rendered as an overlay.
package pipeline

import (
	"context"
	"image"
	"log/slog"

	"plan-overlay/internal/alignerr"
	"plan-overlay/internal/alignment"
	"plan-overlay/internal/gridalign"
	"plan-overlay/internal/vision"

	"github.com/google/uuid"
)

// Input is one drawing revision. Raw holds the encoded file bytes; without
// them the grid fallback cannot run.
type Input struct {
	Image *image.RGBA
	Raw   []byte
}

// Orchestrator holds the explicit parameters of both alignment paths.
type Orchestrator struct {
	Primary  alignment.Params
	Fallback gridalign.Params
	// FallbackEnabled gates the grid path; Detector must also be set.
	FallbackEnabled bool
	Detector        vision.LabelDetector
	// LowConfidenceWarn logs a warning when the primary inlier ratio is below
	// it. It never rejects an alignment.
	LowConfidenceWarn float64
	Logger            *slog.Logger
}

// Align runs the state machine
//
//	NotStarted -> PrimaryAttempted -> Succeeded
//	                              \-> PrimaryFailed -> FallbackAttempted -> Succeeded | BothFailed
//
// Only an estimation failure moves to the fallback. Collaborator failures are
// returned as CollaboratorFailure at once. Input errors, and any error that is
// not classified, are returned as the error value with a nil Outcome.
func (o *Orchestrator) Align(ctx context.Context, old, new Input) (Outcome, error) {
	logger := o.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("run_id", uuid.NewString())
	trace := []State{NotStarted}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trace = append(trace, PrimaryAttempted)
	res, primaryErr := alignment.SIFTAlign(old.Image, new.Image, o.Primary)
	if primaryErr == nil {
		trace = append(trace, Succeeded)
		o.logPrimary(logger, res.Stats)
		return Success{Result: res, States: trace}, nil
	}

	switch alignerr.Class(primaryErr) {
	case alignerr.ErrEstimation:
	case alignerr.ErrCollaborator:
		logger.Error("primary alignment collaborator failure", "error", primaryErr)
		return CollaboratorFailure{Reason: primaryErr, States: trace}, nil
	default:
		return nil, primaryErr
	}

	trace = append(trace, PrimaryFailed)
	logger.Warn("primary alignment failed", "method", alignment.MethodSIFT, "reason", primaryErr)

	if reason := o.fallbackUnavailable(old, new); reason != "" {
		logger.Info("grid fallback skipped", "reason", reason)
		return EstimationFailure{Reason: primaryErr, States: trace}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trace = append(trace, FallbackAttempted)
	logger.Info("attempting grid fallback")

	fb := o.Fallback
	if fb.Logger == nil {
		fb.Logger = logger
	}
	res, fallbackErr := gridalign.GridAlign(ctx,
		gridalign.Input{Image: old.Image, Raw: old.Raw},
		gridalign.Input{Image: new.Image, Raw: new.Raw},
		o.Detector, fb)
	if fallbackErr == nil {
		trace = append(trace, Succeeded)
		logger.Info("grid alignment succeeded",
			"h_matches", deref(res.Stats.HMatches),
			"v_matches", deref(res.Stats.VMatches))
		return Success{Result: res, States: trace}, nil
	}

	switch alignerr.Class(fallbackErr) {
	case alignerr.ErrEstimation:
		trace = append(trace, BothFailed)
		logger.Warn("grid fallback failed", "reason", fallbackErr)
		return EstimationFailure{Reason: primaryErr, Fallback: fallbackErr, States: trace}, nil
	case alignerr.ErrCollaborator:
		logger.Error("grid fallback collaborator failure", "error", fallbackErr)
		return CollaboratorFailure{Reason: fallbackErr, States: trace}, nil
	default:
		return nil, fallbackErr
	}
}

func (o *Orchestrator) fallbackUnavailable(old, new Input) string {
	switch {
	case !o.FallbackEnabled:
		return "disabled"
	case o.Detector == nil:
		return "no label detector configured"
	case len(old.Raw) == 0 || len(new.Raw) == 0:
		return "encoded image bytes not supplied"
	default:
		return ""
	}
}

func (o *Orchestrator) logPrimary(logger *slog.Logger, s alignment.Stats) {
	ratio := derefFloat(s.InlierRatio)
	logger.Info("sift alignment succeeded",
		"scale", derefFloat(s.Scale),
		"rotation_deg", derefFloat(s.RotationDeg),
		"inliers", deref(s.InlierCount),
		"inlier_ratio", ratio)
	if ratio < o.LowConfidenceWarn {
		logger.Warn("low alignment confidence",
			"inlier_ratio", ratio,
			"threshold", o.LowConfidenceWarn)
	}
}

func deref(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

func derefFloat(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}
