// Package gridalign is the fallback aligner for drawings that defeat feature
// matching. It locates labelled grid bubbles ("callouts") in both revisions,
// confirms each one geometrically, pairs them by label and fits a separate
// scale and translation per axis.
package gridalign

import (
	"fmt"
	"math"
	"strings"

	"plan-overlay/internal/vision"
	"plan-overlay/pkg/geometry"
)

// Edge is the sheet edge a callout sits on.
type Edge string

const (
	EdgeTop    Edge = "top"
	EdgeBottom Edge = "bottom"
	EdgeLeft   Edge = "left"
	EdgeRight  Edge = "right"
)

// ParseEdge normalises an edge name.
func ParseEdge(s string) (Edge, error) {
	switch e := Edge(strings.ToLower(strings.TrimSpace(s))); e {
	case EdgeTop, EdgeBottom, EdgeLeft, EdgeRight:
		return e, nil
	default:
		return "", fmt.Errorf("unknown edge %q", s)
	}
}

// Orientation is the direction of the grid line a callout labels.
type Orientation string

const (
	Horizontal Orientation = "horizontal"
	Vertical   Orientation = "vertical"
)

// Orientation returns the direction of the grid line leaving a bubble on this
// edge: bubbles on the left or right edge label horizontal lines, bubbles on
// the top or bottom edge label vertical lines.
func (e Edge) Orientation() Orientation {
	if e == EdgeLeft || e == EdgeRight {
		return Horizontal
	}
	return Vertical
}

// GridCallout is a verified grid bubble in full-resolution pixel coordinates.
type GridCallout struct {
	Label        string
	BBox         geometry.RectInt
	Edge         Edge
	CircleCenter geometry.Point2D
	CircleRadius float64
	// Position is the grid line coordinate: y for horizontal lines, x for
	// vertical lines.
	Position  float64
	LineFound bool
}

// Orientation returns the orientation of the callout's grid line.
func (c GridCallout) Orientation() Orientation {
	return c.Edge.Orientation()
}

// candidate is an unverified detection mapped into pixel space.
type candidate struct {
	Label string
	BBox  geometry.RectInt
	Edge  Edge
}

// normalizedScale is the coordinate range of detector bounding boxes.
const normalizedScale = 1000.0

// denormalize maps detections with 0-1000 boxes onto a w x h image. Entries
// with an empty label, unknown edge or degenerate box are dropped.
func denormalize(dets []vision.Detection, w, h int) []candidate {
	out := make([]candidate, 0, len(dets))
	for _, d := range dets {
		label := strings.ToUpper(strings.TrimSpace(d.Label))
		if label == "" {
			continue
		}
		edge, err := ParseEdge(d.Edge)
		if err != nil {
			continue
		}
		x0 := clampNorm(d.BBox.XMin) / normalizedScale * float64(w)
		y0 := clampNorm(d.BBox.YMin) / normalizedScale * float64(h)
		x1 := clampNorm(d.BBox.XMax) / normalizedScale * float64(w)
		y1 := clampNorm(d.BBox.YMax) / normalizedScale * float64(h)

		box := geometry.RectInt{
			X:      int(math.Floor(x0)),
			Y:      int(math.Floor(y0)),
			Width:  int(math.Ceil(x1)) - int(math.Floor(x0)),
			Height: int(math.Ceil(y1)) - int(math.Floor(y0)),
		}.Clip(w, h)
		if box.Empty() {
			continue
		}
		out = append(out, candidate{Label: label, BBox: box, Edge: edge})
	}
	return out
}

func clampNorm(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(normalizedScale, v))
}
