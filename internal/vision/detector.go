// Package vision talks to the external label-detection service used by the
// grid fallback aligner.
//
// The service receives one drawing image plus an instruction and answers with
// grid bubble labels, their bounding boxes normalised to 0-1000 and the sheet
// edge each bubble sits on. Nothing it returns is trusted without geometric
// verification by the caller.
package vision

import (
	"context"
	"image"
)

// BBox is a bounding box in normalised 0-1000 coordinates.
type BBox struct {
	XMin float64 `json:"xmin"`
	YMin float64 `json:"ymin"`
	XMax float64 `json:"xmax"`
	YMax float64 `json:"ymax"`
}

// Detection is one grid bubble reported by the service.
type Detection struct {
	Label string `json:"label"`
	BBox  BBox   `json:"bbox"`
	Edge  string `json:"edge"`
}

// LabelDetector finds labelled grid bubbles in an image. Implementations
// return an ErrCollaborator-classed error when the service itself fails; an
// empty result means the service worked and found nothing.
type LabelDetector interface {
	DetectLabels(ctx context.Context, img image.Image, instruction string) ([]Detection, error)
}

// DetectorFunc adapts a function to LabelDetector.
type DetectorFunc func(ctx context.Context, img image.Image, instruction string) ([]Detection, error)

// DetectLabels calls f.
func (f DetectorFunc) DetectLabels(ctx context.Context, img image.Image, instruction string) ([]Detection, error) {
	return f(ctx, img, instruction)
}

// GridCalloutInstruction is the default request sent with each drawing.
const GridCalloutInstruction = `You are looking at a construction drawing.
Find every structural grid line callout: the small circular bubble containing a
grid label (such as "A", "B", "1", "2", "A.1") at the end of a grid line near
the sheet border.

Respond with JSON only, in this form:
{"labels": [{"label": "A", "bbox": {"xmin": 0, "ymin": 0, "xmax": 0, "ymax": 0}, "edge": "top"}]}

bbox is the bubble's bounding box with coordinates normalised to 0-1000 over
the whole image. edge is the sheet edge the bubble is on: top, bottom, left or
right. Return {"labels": []} if there are none.`
