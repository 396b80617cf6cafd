package alignment

import (
	"fmt"
	"image"
	"log/slog"
	"math"

	"plan-overlay/internal/alignerr"
	pimage "plan-overlay/internal/image"
	"plan-overlay/pkg/geometry"

	"gocv.io/x/gocv"
)

// Method names the path that produced an alignment.
type Method string

const (
	MethodSIFT Method = "sift"
	MethodGrid Method = "grid"
)

// Stats is the audit record of one successful alignment. Fields that the
// producing method does not measure are nil.
type Stats struct {
	Method      Method   `json:"method"`
	Scale       *float64 `json:"scale,omitempty"`
	RotationDeg *float64 `json:"rotation_deg,omitempty"`
	InlierCount *int     `json:"inlier_count,omitempty"`
	InlierRatio *float64 `json:"inlier_ratio,omitempty"`
	HMatches    *int     `json:"h_matches,omitempty"`
	VMatches    *int     `json:"v_matches,omitempty"`
}

// Ptr returns a pointer to v, for filling optional Stats fields.
func Ptr[T any](v T) *T {
	return &v
}

// Result is an aligned pair plus the transform that placed the old image and
// the statistics of the run.
type Result struct {
	Pair      AlignedPair
	Transform geometry.AffineTransform // Old image pixels to output pixels
	Stats     Stats
}

// Params configures SIFTAlign.
type Params struct {
	DownsampleScale float64 // Matching runs at this fraction of full resolution
	NFeatures       int
	ExcludeMargin   float64 // Border fraction of min(H,W) ignored by the detector
	RatioThreshold  float64
	Estimate        EstimateParams
	Logger          *slog.Logger
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		DownsampleScale: 0.5,
		NFeatures:       5000,
		ExcludeMargin:   0.03,
		RatioThreshold:  0.75,
		Estimate: EstimateParams{
			ReprojThreshold: 5.0,
			MaxIters:        2000,
			Confidence:      0.995,
			ScaleMin:        0.8,
			ScaleMax:        1.25,
			RotationDegMin:  -10,
			RotationDegMax:  10,
		},
	}
}

// SIFTAlign registers imgA (old) onto imgB (new). Features are matched on
// downsampled grayscale copies; the resulting similarity transform is lifted
// back to full resolution and both images are placed on a unified canvas.
//
// Insufficient features, matches or inliers yield an ErrEstimation error.
func SIFTAlign(imgA, imgB *image.RGBA, p Params) (Result, error) {
	if imgA == nil || imgB == nil || imgA.Bounds().Empty() || imgB.Bounds().Empty() {
		return Result{}, alignerr.Input("empty image")
	}
	if p.DownsampleScale <= 0 || p.DownsampleScale > 1 {
		return Result{}, alignerr.Input("downsample scale %.3f outside (0, 1]", p.DownsampleScale)
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	featA, err := extractDownsampled(imgA, p)
	if err != nil {
		return Result{}, fmt.Errorf("old image: %w", err)
	}
	featB, err := extractDownsampled(imgB, p)
	if err != nil {
		return Result{}, fmt.Errorf("new image: %w", err)
	}
	logger.Debug("sift features", "old", len(featA.Keypoints), "new", len(featB.Keypoints))

	if len(featA.Keypoints) == 0 || len(featB.Keypoints) == 0 {
		return Result{}, alignerr.Estimation("no features detected (old=%d, new=%d)",
			len(featA.Keypoints), len(featB.Keypoints))
	}

	matches, err := MatchFeatures(featA.Descriptors, featB.Descriptors, p.RatioThreshold)
	if err != nil {
		return Result{}, err
	}
	logger.Debug("ratio-test matches", "count", len(matches))

	est, err := EstimateTransformation(featA.Keypoints, featB.Keypoints, matches, p.Estimate)
	if err != nil {
		return Result{}, err
	}

	full := est.Transform
	full.TX /= p.DownsampleScale
	full.TY /= p.DownsampleScale

	pair, canvas, err := UnifyCanvas(imgA, imgB, full)
	if err != nil {
		return Result{}, err
	}

	stats := Stats{
		Method:      MethodSIFT,
		Scale:       Ptr(full.ScaleFactor()),
		RotationDeg: Ptr(full.RotationDeg()),
		InlierCount: Ptr(est.InlierCount),
		InlierRatio: Ptr(est.InlierRatio()),
	}
	logger.Debug("sift canvas",
		"width", canvas.Width, "height", canvas.Height,
		"offset_x", canvas.OffsetX, "offset_y", canvas.OffsetY)

	return Result{Pair: pair, Transform: canvas.Transform, Stats: stats}, nil
}

// extractDownsampled resizes img by the configured scale, converts it to
// grayscale and extracts features. Keypoints are in downsampled coordinates.
func extractDownsampled(img *image.RGBA, p Params) (Features, error) {
	gray, err := downsampleGray(img, p.DownsampleScale)
	if err != nil {
		return Features{}, err
	}
	defer gray.Close()
	return ExtractSIFTFeatures(gray, p.NFeatures, p.ExcludeMargin)
}

// downsampleGray returns a single-channel copy of img scaled by scale.
func downsampleGray(img *image.RGBA, scale float64) (gocv.Mat, error) {
	rgb, err := pimage.ToMat(img)
	if err != nil {
		return gocv.NewMat(), alignerr.Input("convert image: %v", err)
	}
	defer rgb.Close()

	gray := gocv.NewMat()
	gocv.CvtColor(rgb, &gray, gocv.ColorRGBToGray)
	if scale == 1 {
		return gray, nil
	}
	defer gray.Close()

	w := max(1, int(math.Round(float64(gray.Cols())*scale)))
	h := max(1, int(math.Round(float64(gray.Rows())*scale)))
	small := gocv.NewMat()
	gocv.Resize(gray, &small, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationArea)
	return small, nil
}
