package alignment

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"math/rand"

	"plan-overlay/internal/alignerr"
	pimage "plan-overlay/internal/image"
	"plan-overlay/pkg/geometry"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"
)

// EstimateParams configures the RANSAC similarity estimator.
type EstimateParams struct {
	ReprojThreshold float64 // Inlier distance in pixels
	MaxIters        int
	Confidence      float64 // Early-exit confidence in (0,1)
	ScaleMin        float64
	ScaleMax        float64
	RotationDegMin  float64
	RotationDegMax  float64
	RNG             *rand.Rand // Sampling source; nil uses a fixed seed
}

// Estimate is the result of a successful EstimateTransformation call.
type Estimate struct {
	Transform    geometry.AffineTransform
	InlierMask   []bool // One entry per match
	InlierCount  int
	TotalMatches int
}

// InlierRatio returns InlierCount / TotalMatches.
func (e Estimate) InlierRatio() float64 {
	if e.TotalMatches == 0 {
		return 0
	}
	return float64(e.InlierCount) / float64(e.TotalMatches)
}

// minCorrespondences is the smallest match set the estimator accepts, and the
// smallest inlier set it will return.
const minCorrespondences = 3

// EstimateTransformation fits a similarity transform (uniform scale, rotation,
// translation) mapping kp1 points onto kp2 points using RANSAC over two-point
// samples. Candidates whose decomposed scale or rotation fall outside the
// configured bounds are discarded before inlier counting, so the returned
// transform always satisfies them.
func EstimateTransformation(kp1, kp2 []geometry.Point2D, matches []Match, p EstimateParams) (Estimate, error) {
	if len(matches) < minCorrespondences {
		return Estimate{}, alignerr.Estimation("need at least %d matches, got %d", minCorrespondences, len(matches))
	}

	src := make([]geometry.Point2D, len(matches))
	dst := make([]geometry.Point2D, len(matches))
	for i, m := range matches {
		if m.QueryIdx < 0 || m.QueryIdx >= len(kp1) || m.TrainIdx < 0 || m.TrainIdx >= len(kp2) {
			return Estimate{}, alignerr.Input("match %d references keypoint out of range", i)
		}
		src[i] = kp1[m.QueryIdx]
		dst[i] = kp2[m.TrainIdx]
	}

	rng := p.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	n := len(src)
	iterations := max(p.MaxIters, 1)
	bestCount := 0
	var bestTransform geometry.AffineTransform

	for iter := 0; iter < iterations; iter++ {
		i0 := rng.Intn(n)
		i1 := rng.Intn(n - 1)
		if i1 >= i0 {
			i1++
		}

		transform, err := computeSimilarityFrom2(src[i0], src[i1], dst[i0], dst[i1])
		if err != nil {
			continue
		}
		if !withinBounds(transform, p) {
			continue
		}

		count := countInliers(transform, src, dst, p.ReprojThreshold, nil)
		if count > bestCount {
			bestCount = count
			bestTransform = transform
			iterations = min(iterations, adaptiveIterations(count, n, p.Confidence, iterations))
		}
	}

	if bestCount == 0 {
		return Estimate{}, alignerr.Estimation(
			"no candidate within scale [%.3f, %.3f] and rotation [%.1f°, %.1f°]",
			p.ScaleMin, p.ScaleMax, p.RotationDegMin, p.RotationDegMax)
	}
	if bestCount < minCorrespondences {
		return Estimate{}, alignerr.Estimation("only %d inliers of %d matches", bestCount, n)
	}

	mask := make([]bool, n)
	countInliers(bestTransform, src, dst, p.ReprojThreshold, mask)

	// Refit on the consensus set; keep the refit only if it stays admissible
	// and does not lose inliers.
	inlierSrc := make([]geometry.Point2D, 0, bestCount)
	inlierDst := make([]geometry.Point2D, 0, bestCount)
	for i, ok := range mask {
		if ok {
			inlierSrc = append(inlierSrc, src[i])
			inlierDst = append(inlierDst, dst[i])
		}
	}
	if refit, err := computeSimilarityLeastSquares(inlierSrc, inlierDst); err == nil && refit.IsFinite() && withinBounds(refit, p) {
		refitMask := make([]bool, n)
		if count := countInliers(refit, src, dst, p.ReprojThreshold, refitMask); count >= bestCount {
			bestTransform, bestCount, mask = refit, count, refitMask
		}
	}

	return Estimate{
		Transform:    bestTransform,
		InlierMask:   mask,
		InlierCount:  bestCount,
		TotalMatches: n,
	}, nil
}

// withinBounds reports whether the decomposed scale and rotation of t are admissible.
func withinBounds(t geometry.AffineTransform, p EstimateParams) bool {
	scale := t.ScaleFactor()
	rot := t.RotationDeg()
	return scale >= p.ScaleMin && scale <= p.ScaleMax &&
		rot >= p.RotationDegMin && rot <= p.RotationDegMax
}

// countInliers counts correspondences within threshold of t, optionally filling mask.
func countInliers(t geometry.AffineTransform, src, dst []geometry.Point2D, threshold float64, mask []bool) int {
	count := 0
	for i := range src {
		ok := t.Apply(src[i]).Distance(dst[i]) <= threshold
		if mask != nil {
			mask[i] = ok
		}
		if ok {
			count++
		}
	}
	return count
}

// adaptiveIterations returns the number of two-point samples needed to draw an
// all-inlier sample with the given confidence at the observed inlier ratio.
func adaptiveIterations(inliers, total int, confidence float64, current int) int {
	if confidence <= 0 || confidence >= 1 {
		return current
	}
	w := float64(inliers) / float64(total)
	good := w * w
	if good >= 1 {
		return 0
	}
	if good <= 0 {
		return current
	}
	k := math.Log(1-confidence) / math.Log(1-good)
	if math.IsNaN(k) || k > float64(current) {
		return current
	}
	return int(math.Ceil(k))
}

// computeSimilarityFrom2 computes a similarity transform from 2 point pairs.
func computeSimilarityFrom2(s0, s1, d0, d1 geometry.Point2D) (geometry.AffineTransform, error) {
	sx, sy := s1.X-s0.X, s1.Y-s0.Y
	dx, dy := d1.X-d0.X, d1.Y-d0.Y

	srcLen := math.Hypot(sx, sy)
	dstLen := math.Hypot(dx, dy)
	if srcLen < 1e-6 || dstLen < 1e-6 {
		return geometry.AffineTransform{}, fmt.Errorf("degenerate points")
	}

	scale := dstLen / srcLen
	theta := math.Atan2(dy, dx) - math.Atan2(sy, sx)
	t := geometry.Similarity(scale, theta, 0, 0)

	// d0 = sR * s0 + t  =>  t = d0 - sR * s0
	p := t.Apply(s0)
	return t.Offset(d0.X-p.X, d0.Y-p.Y), nil
}

// computeSimilarityLeastSquares fits x' = a·x - b·y + tx, y' = b·x + a·y + ty
// to all point pairs.
func computeSimilarityLeastSquares(src, dst []geometry.Point2D) (geometry.AffineTransform, error) {
	n := len(src)
	if n < 2 {
		return geometry.AffineTransform{}, fmt.Errorf("need at least 2 points")
	}

	A := mat.NewDense(n*2, 4, nil)
	B := mat.NewVecDense(n*2, nil)
	for i := 0; i < n; i++ {
		x, y := src[i].X, src[i].Y

		A.Set(i*2, 0, x)
		A.Set(i*2, 1, -y)
		A.Set(i*2, 2, 1)
		B.SetVec(i*2, dst[i].X)

		A.Set(i*2+1, 0, y)
		A.Set(i*2+1, 1, x)
		A.Set(i*2+1, 3, 1)
		B.SetVec(i*2+1, dst[i].Y)
	}

	var qr mat.QR
	qr.Factorize(A)

	var params mat.VecDense
	if err := qr.SolveVecTo(&params, false, B); err != nil {
		return geometry.AffineTransform{}, err
	}

	a, b := params.AtVec(0), params.AtVec(1)
	return geometry.AffineTransform{
		A: a, B: -b, TX: params.AtVec(2),
		C: b, D: a, TY: params.AtVec(3),
	}, nil
}

// WarpAffine applies an affine transform to a Mat, filling uncovered pixels with white.
func WarpAffine(src gocv.Mat, transform geometry.AffineTransform, width, height int) gocv.Mat {
	transformMat := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	defer transformMat.Close()
	transformMat.SetDoubleAt(0, 0, transform.A)
	transformMat.SetDoubleAt(0, 1, transform.B)
	transformMat.SetDoubleAt(0, 2, transform.TX)
	transformMat.SetDoubleAt(1, 0, transform.C)
	transformMat.SetDoubleAt(1, 1, transform.D)
	transformMat.SetDoubleAt(1, 2, transform.TY)

	dst := gocv.NewMat()
	gocv.WarpAffineWithParams(src, &dst, transformMat, image.Point{X: width, Y: height},
		gocv.InterpolationLinear, gocv.BorderConstant, color.RGBA{R: 255, G: 255, B: 255, A: 255})

	return dst
}

// ApplyTransformation warps img with transform onto a width x height canvas
// using bilinear interpolation and a white fill. The result always has exactly
// the requested dimensions.
func ApplyTransformation(img *image.RGBA, transform geometry.AffineTransform, width, height int) (*image.RGBA, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, alignerr.Input("empty image")
	}
	if width <= 0 || height <= 0 {
		return nil, alignerr.Input("invalid output size %dx%d", width, height)
	}
	if !transform.IsFinite() {
		return nil, alignerr.Input("transform has non-finite coefficients")
	}

	src, err := pimage.ToMat(img)
	if err != nil {
		return nil, alignerr.Input("convert image: %v", err)
	}
	warped := WarpAffine(src, transform, width, height)
	src.Close()
	defer warped.Close()

	out, err := pimage.FromMat(warped)
	if err != nil {
		return nil, fmt.Errorf("convert warped image: %w", err)
	}
	return out, nil
}

// ApplyMatrix is ApplyTransformation for a matrix given as row slices; the
// matrix must be 2x3.
func ApplyMatrix(img *image.RGBA, rows [][]float64, width, height int) (*image.RGBA, error) {
	transform, err := geometry.ParseMatrix(rows)
	if err != nil {
		return nil, alignerr.Input("%v", err)
	}
	return ApplyTransformation(img, transform, width, height)
}
