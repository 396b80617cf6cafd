package alignment

import (
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"

	"plan-overlay/internal/alignerr"
	pimage "plan-overlay/internal/image"
	"plan-overlay/pkg/geometry"

	"gocv.io/x/gocv"
)

func testEstimateParams(seed int64) EstimateParams {
	p := DefaultParams().Estimate
	p.RNG = rand.New(rand.NewSource(seed))
	return p
}

func correspondences(src []geometry.Point2D, t geometry.AffineTransform) ([]geometry.Point2D, []geometry.Point2D, []Match) {
	dst := make([]geometry.Point2D, len(src))
	matches := make([]Match, len(src))
	for i, p := range src {
		dst[i] = t.Apply(p)
		matches[i] = Match{QueryIdx: i, TrainIdx: i}
	}
	return src, dst, matches
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// texturedSheet draws random filled boxes on white, enough corners for SIFT.
func texturedSheet(w, h int, seed int64) *image.RGBA {
	img := pimage.NewWhite(w, h)
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < 90; i++ {
		x0, y0 := rng.Intn(w-40), rng.Intn(h-40)
		bw, bh := 8+rng.Intn(30), 8+rng.Intn(30)
		shade := uint8(rng.Intn(150))
		for y := y0; y < y0+bh; y++ {
			for x := x0; x < x0+bw; x++ {
				img.SetRGBA(x, y, color.RGBA{shade, shade, shade, 255})
			}
		}
	}
	return img
}

// shifted returns a white sheet of the same size with src moved by (dx, dy).
func shifted(src *image.RGBA, dx, dy int) *image.RGBA {
	b := src.Bounds()
	dst := pimage.NewWhite(b.Dx(), b.Dy())
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if sx, sy := x-dx, y-dy; sx >= 0 && sy >= 0 && sx < b.Dx() && sy < b.Dy() {
				dst.SetRGBA(x, y, src.RGBAAt(sx, sy))
			}
		}
	}
	return dst
}

func TestMatchFeaturesRatioTest(t *testing.T) {
	desc1 := Descriptors{{0, 0}, {10, 10}, {5, 5}}
	desc2 := Descriptors{{0, 0.1}, {10, 10.2}, {50, 50}}

	matches, err := MatchFeatures(desc1, desc2, 0.75)
	if err != nil {
		t.Fatalf("MatchFeatures failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d: %+v", len(matches), matches)
	}
	if matches[0].QueryIdx != 0 || matches[0].TrainIdx != 0 {
		t.Errorf("first match: got %+v", matches[0])
	}
	if matches[1].QueryIdx != 1 || matches[1].TrainIdx != 1 {
		t.Errorf("second match: got %+v", matches[1])
	}
	if matches[0].Distance > matches[1].Distance {
		t.Error("matches not sorted by ascending distance")
	}
}

func TestMatchFeaturesAmbiguousRejected(t *testing.T) {
	matches, err := MatchFeatures(Descriptors{{5, 5}}, Descriptors{{4, 5}, {6, 5}}, 0.75)
	if err != nil {
		t.Fatalf("MatchFeatures failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("equidistant neighbours should fail the ratio test, got %+v", matches)
	}
}

func TestMatchFeaturesEmpty(t *testing.T) {
	tests := []struct {
		name string
		d1   Descriptors
		d2   Descriptors
	}{
		{"first empty", nil, Descriptors{{1}}},
		{"second empty", Descriptors{{1}}, nil},
		{"dimension mismatch", Descriptors{{1, 2}}, Descriptors{{1}, {2}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := MatchFeatures(tt.d1, tt.d2, 0.75)
			if !errors.Is(err, alignerr.ErrInput) {
				t.Errorf("expected ErrInput, got %v", err)
			}
		})
	}
}

func TestEstimateTransformationTooFewMatches(t *testing.T) {
	kp := []geometry.Point2D{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 0, Y: 10}}
	for n := 0; n < 3; n++ {
		matches := make([]Match, n)
		for i := range matches {
			matches[i] = Match{QueryIdx: i, TrainIdx: i}
		}
		est, err := EstimateTransformation(kp, kp, matches, testEstimateParams(1))
		if !errors.Is(err, alignerr.ErrEstimation) {
			t.Errorf("n=%d: expected ErrEstimation, got %v", n, err)
		}
		if est.InlierMask != nil || est.Transform != (geometry.AffineTransform{}) {
			t.Errorf("n=%d: failure returned a transform: %+v", n, est)
		}
	}
}

func TestEstimateTransformationPureTranslation(t *testing.T) {
	src, dst, matches := correspondences(
		[]geometry.Point2D{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 0, Y: 100}},
		geometry.Translation(10, 5),
	)

	est, err := EstimateTransformation(src, dst, matches, testEstimateParams(1))
	if err != nil {
		t.Fatalf("EstimateTransformation failed: %v", err)
	}

	m := est.Transform
	if !near(m.A, 1, 1e-6) || !near(m.B, 0, 1e-6) || !near(m.C, 0, 1e-6) || !near(m.D, 1, 1e-6) {
		t.Errorf("linear part not identity: %+v", m)
	}
	if !near(m.TX, 10, 1e-6) || !near(m.TY, 5, 1e-6) {
		t.Errorf("translation: got (%f, %f), want (10, 5)", m.TX, m.TY)
	}
	if !near(m.ScaleFactor(), 1, 1e-6) || !near(m.RotationDeg(), 0, 1e-6) {
		t.Errorf("scale/rotation: got %f / %f", m.ScaleFactor(), m.RotationDeg())
	}
	if est.InlierCount != 3 || est.TotalMatches != 3 {
		t.Errorf("inliers: got %d/%d, want 3/3", est.InlierCount, est.TotalMatches)
	}
}

func TestEstimateTransformationRejectsOutliers(t *testing.T) {
	truth := geometry.Similarity(1.1, 3*math.Pi/180, -40, 25)
	var pts []geometry.Point2D
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			pts = append(pts, geometry.Point2D{X: float64(x*120 + 7), Y: float64(y*90 + 3)})
		}
	}
	src, dst, matches := correspondences(pts, truth)

	// Corrupt three correspondences.
	dst[2] = geometry.Point2D{X: 900, Y: 900}
	dst[7] = geometry.Point2D{X: -300, Y: 12}
	dst[11] = geometry.Point2D{X: 5, Y: 640}

	est, err := EstimateTransformation(src, dst, matches, testEstimateParams(7))
	if err != nil {
		t.Fatalf("EstimateTransformation failed: %v", err)
	}
	if est.InlierCount != len(pts)-3 {
		t.Errorf("inliers: got %d, want %d", est.InlierCount, len(pts)-3)
	}
	for _, i := range []int{2, 7, 11} {
		if est.InlierMask[i] {
			t.Errorf("outlier %d marked as inlier", i)
		}
	}
	if !near(est.Transform.ScaleFactor(), 1.1, 1e-6) || !near(est.Transform.RotationDeg(), 3, 1e-6) {
		t.Errorf("recovered scale/rotation: %f / %f", est.Transform.ScaleFactor(), est.Transform.RotationDeg())
	}
}

func TestEstimateTransformationOutOfBounds(t *testing.T) {
	tests := []struct {
		name  string
		truth geometry.AffineTransform
	}{
		{"scale too large", geometry.Similarity(2, 0, 0, 0)},
		{"scale too small", geometry.Similarity(0.5, 0, 0, 0)},
		{"rotation too large", geometry.Similarity(1, 30*math.Pi/180, 0, 0)},
	}
	pts := []geometry.Point2D{{X: 0, Y: 0}, {X: 100, Y: 0}, {X: 0, Y: 100}, {X: 80, Y: 60}}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, dst, matches := correspondences(pts, tt.truth)
			_, err := EstimateTransformation(src, dst, matches, testEstimateParams(1))
			if !errors.Is(err, alignerr.ErrEstimation) {
				t.Errorf("expected ErrEstimation, got %v", err)
			}
		})
	}
}

func TestEstimateTransformationDeterministic(t *testing.T) {
	truth := geometry.Similarity(0.95, -2*math.Pi/180, 12, -8)
	r := rand.New(rand.NewSource(99))
	var pts []geometry.Point2D
	for i := 0; i < 40; i++ {
		pts = append(pts, geometry.Point2D{X: r.Float64() * 1000, Y: r.Float64() * 800})
	}
	src, dst, matches := correspondences(pts, truth)
	for i := 0; i < len(dst); i += 3 {
		dst[i] = geometry.Point2D{X: r.Float64() * 1000, Y: r.Float64() * 800}
	}

	a, errA := EstimateTransformation(src, dst, matches, testEstimateParams(42))
	b, errB := EstimateTransformation(src, dst, matches, testEstimateParams(42))
	if errA != nil || errB != nil {
		t.Fatalf("EstimateTransformation failed: %v / %v", errA, errB)
	}
	if a.Transform != b.Transform || a.InlierCount != b.InlierCount {
		t.Errorf("same seed gave different results: %+v vs %+v", a, b)
	}
}

func TestEstimateTransformationBadIndex(t *testing.T) {
	kp := []geometry.Point2D{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}}
	matches := []Match{{0, 0, 0}, {1, 1, 0}, {2, 5, 0}}
	_, err := EstimateTransformation(kp, kp, matches, testEstimateParams(1))
	if !errors.Is(err, alignerr.ErrInput) {
		t.Errorf("expected ErrInput, got %v", err)
	}
}

func TestComputeCanvasTranslation(t *testing.T) {
	c, err := ComputeCanvas(geometry.Translation(-20, 30), 100, 50, 80, 80)
	if err != nil {
		t.Fatalf("ComputeCanvas failed: %v", err)
	}
	if c.OffsetX != 20 || c.OffsetY != 0 {
		t.Errorf("offset: got (%d, %d), want (20, 0)", c.OffsetX, c.OffsetY)
	}
	if c.Width != 100 || c.Height != 80 {
		t.Errorf("size: got %dx%d, want 100x80", c.Width, c.Height)
	}
	if c.Transform.TX != 0 || c.Transform.TY != 30 {
		t.Errorf("adjusted translation: got (%f, %f)", c.Transform.TX, c.Transform.TY)
	}
}

func TestComputeCanvasNeverShrinks(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		m := geometry.Similarity(
			0.5+r.Float64()*1.5,
			(r.Float64()-0.5)*math.Pi/2,
			(r.Float64()-0.5)*2000,
			(r.Float64()-0.5)*2000,
		)
		oldW, oldH := 1+r.Intn(1500), 1+r.Intn(1500)
		newW, newH := 1+r.Intn(1500), 1+r.Intn(1500)

		c, err := ComputeCanvas(m, oldW, oldH, newW, newH)
		if err != nil {
			t.Fatalf("ComputeCanvas failed: %v", err)
		}
		if c.Width < newW || c.Height < newH || c.OffsetX < 0 || c.OffsetY < 0 {
			t.Fatalf("canvas shrank: %+v for new %dx%d", c, newW, newH)
		}
		if c.OffsetX+newW > c.Width || c.OffsetY+newH > c.Height {
			t.Fatalf("new image cropped: %+v for new %dx%d", c, newW, newH)
		}
		for _, p := range geometry.RectCorners(float64(oldW), float64(oldH)) {
			q := c.Transform.Apply(p)
			if q.X < -1e-6 || q.Y < -1e-6 || q.X > float64(c.Width)+1e-6 || q.Y > float64(c.Height)+1e-6 {
				t.Fatalf("old corner %v maps outside canvas: %v in %dx%d", p, q, c.Width, c.Height)
			}
		}
	}
}

func TestApplyTransformationOutputShape(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 30, 20))
	for i := range src.Pix {
		src.Pix[i] = 255
	}
	src.SetRGBA(5, 5, color.RGBA{0, 0, 0, 255})

	sizes := [][2]int{{50, 40}, {10, 10}, {30, 20}, {1, 200}}
	for _, s := range sizes {
		out, err := ApplyTransformation(src, geometry.Identity(), s[0], s[1])
		if err != nil {
			t.Fatalf("ApplyTransformation %v failed: %v", s, err)
		}
		if out.Bounds().Dx() != s[0] || out.Bounds().Dy() != s[1] {
			t.Errorf("size: got %v, want %dx%d", out.Bounds(), s[0], s[1])
		}
	}

	out, err := ApplyTransformation(src, geometry.Identity(), 50, 40)
	if err != nil {
		t.Fatalf("ApplyTransformation failed: %v", err)
	}
	if got := out.RGBAAt(5, 5); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("identity moved a pixel: got %+v", got)
	}
	if got := out.RGBAAt(45, 35); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("fill: got %+v, want white", got)
	}
}

func TestApplyMatrixRejectsNon2x3(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	bad := [][][]float64{
		{{1, 0, 0}},
		{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		{{1, 0}, {0, 1}},
	}
	for _, m := range bad {
		if _, err := ApplyMatrix(src, m, 4, 4); !errors.Is(err, alignerr.ErrInput) {
			t.Errorf("matrix %v: expected ErrInput, got %v", m, err)
		}
	}
}

func TestSIFTAlignRejectsBadScale(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	p := DefaultParams()
	p.DownsampleScale = 0
	if _, err := SIFTAlign(img, img, p); !errors.Is(err, alignerr.ErrInput) {
		t.Errorf("expected ErrInput, got %v", err)
	}
}

func TestSIFTAlignLiftsDownsampledTranslation(t *testing.T) {
	const w, h, dx, dy = 480, 480, 24, 16
	old := texturedSheet(w, h, 5)
	new := shifted(old, dx, dy)

	p := DefaultParams()
	p.DownsampleScale = 0.5
	p.Estimate.RNG = rand.New(rand.NewSource(1))
	res, err := SIFTAlign(old, new, p)
	if err != nil {
		t.Fatalf("SIFTAlign failed: %v", err)
	}

	// The old sheet moves right and down, so the canvas keeps the new image
	// at the origin and the canvas transform is the full-resolution shift.
	if !near(res.Transform.TX, dx, 1) || !near(res.Transform.TY, dy, 1) {
		t.Errorf("translation: got (%.2f, %.2f), want (%d, %d)", res.Transform.TX, res.Transform.TY, dx, dy)
	}
	if !near(res.Transform.ScaleFactor(), 1, 0.01) || !near(res.Transform.RotationDeg(), 0, 0.5) {
		t.Errorf("expected pure translation, got scale %.4f rotation %.3f",
			res.Transform.ScaleFactor(), res.Transform.RotationDeg())
	}

	ob, nb := res.Pair.Old.Bounds(), res.Pair.New.Bounds()
	if ob != nb {
		t.Fatalf("pair sizes differ: old %v, new %v", ob, nb)
	}
	if nb.Dx() < w || nb.Dy() < h {
		t.Fatalf("canvas %v smaller than the new image", nb)
	}
	if nb.Dx() < w+dx-1 || nb.Dy() < h+dy-1 {
		t.Errorf("canvas %v does not hold the shifted old image", nb)
	}

	// Inside the overlap both layers show the same drawing.
	mismatched, total := 0, 0
	for y := dy + 8; y < h-8; y++ {
		for x := dx + 8; x < w-8; x++ {
			a, b := res.Pair.Old.RGBAAt(x, y).R, res.Pair.New.RGBAAt(x, y).R
			if math.Abs(float64(a)-float64(b)) > 60 {
				mismatched++
			}
			total++
		}
	}
	if frac := float64(mismatched) / float64(total); frac > 0.05 {
		t.Errorf("aligned layers disagree on %.1f%% of overlap pixels", frac*100)
	}
}

func TestExtractSIFTFeaturesRejectsColor(t *testing.T) {
	img := gocv.NewMatWithSize(32, 32, gocv.MatTypeCV8UC3)
	defer img.Close()
	if _, err := ExtractSIFTFeatures(img, 100, 0.03); !errors.Is(err, alignerr.ErrInput) {
		t.Errorf("expected ErrInput for a 3-channel image, got %v", err)
	}
}

func TestBorderMaskExcludesMargin(t *testing.T) {
	mask := borderMask(100, 200, 0.1)
	defer mask.Close()
	if mask.GetUCharAt(5, 50) != 0 {
		t.Error("border pixel should be masked")
	}
	if mask.GetUCharAt(50, 100) != 255 {
		t.Error("interior pixel should be unmasked")
	}
	if mask.GetUCharAt(50, 195) != 0 {
		t.Error("right border pixel should be masked")
	}
}
