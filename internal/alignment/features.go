package alignment

import (
	"image"
	"image/color"
	"sort"

	"plan-overlay/internal/alignerr"
	"plan-overlay/pkg/geometry"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/floats"
)

// Descriptors holds one SIFT descriptor (128 values) per keypoint.
type Descriptors [][]float64

// Features are the keypoint locations and descriptors extracted from one image.
// Keypoints[i] is described by Descriptors[i].
type Features struct {
	Keypoints   []geometry.Point2D
	Descriptors Descriptors
}

// Match pairs descriptor QueryIdx of the first set with TrainIdx of the second.
type Match struct {
	QueryIdx int
	TrainIdx int
	Distance float64
}

// ExtractSIFTFeatures detects SIFT keypoints in a single-channel image and
// computes their descriptors. A border of excludeMargin*min(H,W) pixels is
// masked out on every side so that scanner frames and sheet edges never
// contribute features. At most nFeatures keypoints (strongest response first)
// are kept; nFeatures <= 0 keeps all.
func ExtractSIFTFeatures(gray gocv.Mat, nFeatures int, excludeMargin float64) (Features, error) {
	if gray.Empty() {
		return Features{}, alignerr.Input("empty image")
	}
	if gray.Channels() != 1 {
		return Features{}, alignerr.Input("feature extraction needs a single-channel image, got %d channels", gray.Channels())
	}

	mask := borderMask(gray.Rows(), gray.Cols(), excludeMargin)
	defer mask.Close()

	sift := gocv.NewSIFT()
	defer sift.Close()

	kps, desc := sift.DetectAndCompute(gray, mask)
	defer desc.Close()

	if len(kps) == 0 || desc.Empty() {
		return Features{}, nil
	}

	order := make([]int, len(kps))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return kps[order[a]].Response > kps[order[b]].Response
	})
	if nFeatures > 0 && len(order) > nFeatures {
		order = order[:nFeatures]
	}

	cols := desc.Cols()
	out := Features{
		Keypoints:   make([]geometry.Point2D, len(order)),
		Descriptors: make(Descriptors, len(order)),
	}
	for i, idx := range order {
		out.Keypoints[i] = geometry.Point2D{X: kps[idx].X, Y: kps[idx].Y}
		row := make([]float64, cols)
		for c := 0; c < cols; c++ {
			row[c] = float64(desc.GetFloatAt(idx, c))
		}
		out.Descriptors[i] = row
	}
	return out, nil
}

// borderMask returns an 8-bit mask that is 255 inside the interior and 0 on a
// border of margin*min(rows, cols) pixels.
func borderMask(rows, cols int, margin float64) gocv.Mat {
	mask := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8U)
	border := int(margin * float64(min(rows, cols)))
	if border < 0 {
		border = 0
	}
	if 2*border >= rows || 2*border >= cols {
		return mask
	}
	interior := image.Rect(border, border, cols-border, rows-border)
	gocv.Rectangle(&mask, interior, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	return mask
}

// MatchFeatures pairs each descriptor in desc1 with its nearest neighbour in
// desc2 (L2), keeping the pair only when nearest/second-nearest is below
// ratioThreshold. Matches are returned by ascending distance.
func MatchFeatures(desc1, desc2 Descriptors, ratioThreshold float64) ([]Match, error) {
	if len(desc1) == 0 || len(desc2) == 0 {
		return nil, alignerr.Input("cannot match empty descriptor sets (%d vs %d)", len(desc1), len(desc2))
	}
	dim := len(desc1[0])
	for _, set := range []Descriptors{desc1, desc2} {
		for _, d := range set {
			if len(d) != dim {
				return nil, alignerr.Input("descriptor length mismatch: %d vs %d", len(d), dim)
			}
		}
	}

	var matches []Match
	for qi, q := range desc1 {
		best, second := -1.0, -1.0
		bestIdx := -1
		for ti, d := range desc2 {
			dist := floats.Distance(q, d, 2)
			switch {
			case bestIdx < 0 || dist < best:
				second = best
				best, bestIdx = dist, ti
			case second < 0 || dist < second:
				second = dist
			}
		}
		// A lone candidate has no second neighbour to test against.
		if second <= 0 {
			continue
		}
		if best/second < ratioThreshold {
			matches = append(matches, Match{QueryIdx: qi, TrainIdx: bestIdx, Distance: best})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Distance < matches[j].Distance
	})
	return matches, nil
}
