package pipeline

import (
	"context"
	"fmt"

	pimage "plan-overlay/internal/image"
	"plan-overlay/internal/overlay"
)

// Mode selects the overlay renderer.
type Mode string

const (
	ModeMerge Mode = "merge"
	ModeDiff  Mode = "diff"
)

// RenderOptions configures Compare. An empty Mode is merge, which also uses
// Diff.TintStrength.
type RenderOptions struct {
	Mode Mode
	Diff overlay.DiffParams
}

// Artifacts are the encoded PNG outputs of a comparison. Deletion and
// Addition are set in diff mode only.
type Artifacts struct {
	Outcome  Outcome
	Overlay  []byte
	Deletion []byte
	Addition []byte
}

// Compare aligns old onto new and renders the configured overlay. Each
// raster is encoded and released before the next one is produced.
//
// A failed alignment returns the Outcome in Artifacts together with
// Outcome.Err().
func (o *Orchestrator) Compare(ctx context.Context, old, new Input, r RenderOptions) (Artifacts, error) {
	outcome, err := o.Align(ctx, old, new)
	if err != nil {
		return Artifacts{}, err
	}
	art := Artifacts{Outcome: outcome}
	success, ok := outcome.(Success)
	if !ok {
		return art, outcome.Err()
	}
	pair := success.Result.Pair

	switch r.Mode {
	case ModeMerge, "":
		merged, err := overlay.Merge(pair.Old, pair.New, r.Diff.TintStrength)
		if err != nil {
			return art, err
		}
		if art.Overlay, err = pimage.EncodePNG(merged); err != nil {
			return art, fmt.Errorf("encode overlay: %w", err)
		}
	case ModeDiff:
		masks, err := overlay.Classify(pair.Old, pair.New, r.Diff)
		if err != nil {
			return art, err
		}
		if art.Overlay, err = pimage.EncodePNG(overlay.Render(pair.Old, pair.New, masks, r.Diff.TintStrength)); err != nil {
			return art, fmt.Errorf("encode overlay: %w", err)
		}
		if art.Deletion, err = pimage.EncodePNG(masks.Removed.ToGray()); err != nil {
			return art, fmt.Errorf("encode deletion mask: %w", err)
		}
		if art.Addition, err = pimage.EncodePNG(masks.Added.ToGray()); err != nil {
			return art, fmt.Errorf("encode addition mask: %w", err)
		}
	default:
		return art, fmt.Errorf("unknown render mode %q", r.Mode)
	}
	return art, nil
}
