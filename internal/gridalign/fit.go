package gridalign

import (
	"math"
	"sort"

	"plan-overlay/internal/alignerr"
	"plan-overlay/pkg/geometry"

	"gonum.org/v1/gonum/stat"
)

// GridMatch pairs the same grid line in the old and new revision.
type GridMatch struct {
	Label       string
	Orientation Orientation
	OldPosition float64
	NewPosition float64
}

type calloutKey struct {
	label       string
	orientation Orientation
}

// MatchCallouts joins old and new callouts on (label, orientation). A grid
// line labelled at both ends of the sheet contributes the mean of its
// positions. Matches are ordered by orientation then label.
func MatchCallouts(old, new []GridCallout) []GridMatch {
	oldPos := meanPositions(old)
	newPos := meanPositions(new)

	var matches []GridMatch
	for key, op := range oldPos {
		np, ok := newPos[key]
		if !ok {
			continue
		}
		matches = append(matches, GridMatch{
			Label:       key.label,
			Orientation: key.orientation,
			OldPosition: op,
			NewPosition: np,
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Orientation != matches[j].Orientation {
			return matches[i].Orientation < matches[j].Orientation
		}
		return matches[i].Label < matches[j].Label
	})
	return matches
}

func meanPositions(callouts []GridCallout) map[calloutKey]float64 {
	sum := make(map[calloutKey]float64)
	count := make(map[calloutKey]int)
	for _, c := range callouts {
		k := calloutKey{label: c.Label, orientation: c.Orientation()}
		sum[k] += c.Position
		count[k]++
	}
	for k := range sum {
		sum[k] /= float64(count[k])
	}
	return sum
}

// AxisFit maps one coordinate axis of the old image onto the new image as
// new = Scale*old + Translate.
//
// Each axis is fitted on its own and the result carries no rotation or shear:
// horizontal grid lines only constrain y and vertical grid lines only
// constrain x. This is valid for scans that are already close to axis-aligned
// and is not a substitute for a coupled 2D fit on rotated sheets.
type AxisFit struct {
	Scale     float64
	Translate float64
	Matches   int
}

// Aligned reports whether any correspondence constrained this axis.
func (f AxisFit) Aligned() bool {
	return f.Matches > 0
}

// FitAxis fits an AxisFit to position pairs. Two or more pairs give an
// ordinary least squares line; a single pair gives a pure translation; no
// pairs give the identity. Pairs that all share one old position cannot
// determine a scale and are fitted as a translation by the mean offset.
func FitAxis(oldPos, newPos []float64) AxisFit {
	n := min(len(oldPos), len(newPos))
	switch n {
	case 0:
		return AxisFit{Scale: 1}
	case 1:
		return AxisFit{Scale: 1, Translate: newPos[0] - oldPos[0], Matches: 1}
	}
	oldPos, newPos = oldPos[:n], newPos[:n]

	if stat.Variance(oldPos, nil) < 1e-9 {
		return AxisFit{Scale: 1, Translate: stat.Mean(newPos, nil) - stat.Mean(oldPos, nil), Matches: n}
	}

	alpha, beta := stat.LinearRegression(oldPos, newPos, nil, false)
	if math.IsNaN(alpha) || math.IsNaN(beta) {
		return AxisFit{Scale: 1, Translate: stat.Mean(newPos, nil) - stat.Mean(oldPos, nil), Matches: n}
	}
	return AxisFit{Scale: beta, Translate: alpha, Matches: n}
}

// FitMatches fits the x axis from vertical-line matches and the y axis from
// horizontal-line matches.
func FitMatches(matches []GridMatch) (x, y AxisFit) {
	var xo, xn, yo, yn []float64
	for _, m := range matches {
		if m.Orientation == Vertical {
			xo = append(xo, m.OldPosition)
			xn = append(xn, m.NewPosition)
		} else {
			yo = append(yo, m.OldPosition)
			yn = append(yn, m.NewPosition)
		}
	}
	return FitAxis(xo, xn), FitAxis(yo, yn)
}

// Transform combines two axis fits into an axis-aligned affine transform.
func Transform(x, y AxisFit) geometry.AffineTransform {
	return geometry.AxisAligned(x.Scale, x.Translate, y.Scale, y.Translate)
}

// fitTransform is Transform that rejects fits with no inverse, such as an
// axis whose callouts all land on one new position.
func fitTransform(x, y AxisFit) (geometry.AffineTransform, error) {
	t := Transform(x, y)
	if _, ok := t.Inverse(); !ok || !t.IsFinite() {
		return geometry.AffineTransform{}, alignerr.Estimation(
			"degenerate grid fit (x scale %.4g, y scale %.4g)", x.Scale, y.Scale)
	}
	return t, nil
}
