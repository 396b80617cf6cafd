package gridalign

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"plan-overlay/internal/alignerr"
	"plan-overlay/internal/alignment"
	"plan-overlay/internal/vision"

	"github.com/disintegration/imaging"
	"gocv.io/x/gocv"
)

// LabelReader reads the label printed inside a bubble crop. An empty string
// with a nil error means nothing legible.
type LabelReader interface {
	ReadLabel(gray gocv.Mat) (string, error)
}

// Params configures GridAlign.
type Params struct {
	// DetectMaxDimension caps the longer side of the image sent to the
	// detector; 0 sends full resolution.
	DetectMaxDimension int
	CropPadding        int
	RadiusSlack        int
	LineSearchLength   int
	LineAngleTolDeg    float64
	Instruction        string
	// Reader, when set, must agree with the detector's label for a callout
	// to be kept.
	Reader LabelReader
	Logger *slog.Logger
}

// DefaultParams returns the production defaults.
func DefaultParams() Params {
	return Params{
		DetectMaxDimension: 2048,
		CropPadding:        50,
		RadiusSlack:        100,
		LineSearchLength:   300,
		LineAngleTolDeg:    20,
		Instruction:        vision.GridCalloutInstruction,
	}
}

// Input is one revision as both a decoded raster and its encoded bytes. The
// bytes are decoded again as grayscale for circle and line detection.
type Input struct {
	Image *image.RGBA
	Raw   []byte
}

// GridAlign aligns old onto new using grid callouts. The old image is warped
// onto a canvas the size of the new image; the new image is used unchanged.
//
// A nil detector is an ErrInput. Detector failures are returned immediately as
// ErrCollaborator. When no grid line pairs up on either axis, or the fitted
// axes collapse the sheet, the result is ErrEstimation. An axis with no
// pairs is left unaligned.
func GridAlign(ctx context.Context, old, new Input, detector vision.LabelDetector, p Params) (alignment.Result, error) {
	if old.Image == nil || new.Image == nil || old.Image.Bounds().Empty() || new.Image.Bounds().Empty() {
		return alignment.Result{}, alignerr.Input("empty image")
	}
	if len(old.Raw) == 0 || len(new.Raw) == 0 {
		return alignment.Result{}, alignerr.Input("grid alignment needs the encoded image bytes")
	}
	if detector == nil {
		return alignment.Result{}, alignerr.Input("no label detector configured")
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	oldCallouts, err := locateCallouts(ctx, old, detector, p, logger.With("image", "old"))
	if err != nil {
		return alignment.Result{}, err
	}
	newCallouts, err := locateCallouts(ctx, new, detector, p, logger.With("image", "new"))
	if err != nil {
		return alignment.Result{}, err
	}

	matches := MatchCallouts(oldCallouts, newCallouts)
	xFit, yFit := FitMatches(matches)
	logger.Info("grid matches",
		"h_matches", yFit.Matches,
		"v_matches", xFit.Matches,
		"x_scale", xFit.Scale, "x_translate", xFit.Translate,
		"y_scale", yFit.Scale, "y_translate", yFit.Translate)

	if !xFit.Aligned() && !yFit.Aligned() {
		return alignment.Result{}, alignerr.Estimation("no grid callouts matched (old=%d, new=%d)",
			len(oldCallouts), len(newCallouts))
	}
	if !xFit.Aligned() {
		logger.Warn("x axis left unaligned: no vertical grid line matched")
	}
	if !yFit.Aligned() {
		logger.Warn("y axis left unaligned: no horizontal grid line matched")
	}

	transform, err := fitTransform(xFit, yFit)
	if err != nil {
		return alignment.Result{}, err
	}
	nb := new.Image.Bounds()
	warped, err := alignment.ApplyTransformation(old.Image, transform, nb.Dx(), nb.Dy())
	if err != nil {
		return alignment.Result{}, err
	}

	return alignment.Result{
		Pair:      alignment.AlignedPair{Old: warped, New: new.Image},
		Transform: transform,
		Stats: alignment.Stats{
			Method:   alignment.MethodGrid,
			HMatches: alignment.Ptr(yFit.Matches),
			VMatches: alignment.Ptr(xFit.Matches),
		},
	}, nil
}

// locateCallouts runs detection on one image and keeps only callouts whose
// bubble is confirmed by circle detection.
func locateCallouts(ctx context.Context, in Input, detector vision.LabelDetector, p Params, logger *slog.Logger) ([]GridCallout, error) {
	b := in.Image.Bounds()
	w, h := b.Dx(), b.Dy()

	var sent image.Image = in.Image
	if p.DetectMaxDimension > 0 && max(w, h) > p.DetectMaxDimension {
		sent = imaging.Fit(in.Image, p.DetectMaxDimension, p.DetectMaxDimension, imaging.Lanczos)
	}

	dets, err := detector.DetectLabels(ctx, sent, p.Instruction)
	if err != nil {
		if alignerr.Class(err) == nil {
			err = alignerr.Collaborator("grid detect", err)
		}
		return nil, err
	}
	candidates := denormalize(dets, w, h)
	logger.Debug("grid detections", "reported", len(dets), "usable", len(candidates))
	if len(candidates) == 0 {
		return nil, nil
	}

	gray, err := gocv.IMDecode(in.Raw, gocv.IMReadGrayScale)
	if err != nil {
		return nil, alignerr.Input("decode image bytes: %v", err)
	}
	defer gray.Close()
	if gray.Empty() {
		return nil, alignerr.Input("image bytes decode to an empty image")
	}
	if gray.Cols() != w || gray.Rows() != h {
		return nil, alignerr.Input("encoded image is %dx%d, raster is %dx%d", gray.Cols(), gray.Rows(), w, h)
	}

	search := lineSearch{
		Length:      p.LineSearchLength,
		AngleTolDeg: p.LineAngleTolDeg,
		MinSegment:  max(10, p.LineSearchLength/4),
		HoughVotes:  max(10, p.LineSearchLength/6),
		MaxLineGap:  10,
	}

	var out []GridCallout
	for _, c := range candidates {
		circ, ok := findCircle(gray, c.BBox, p.CropPadding, p.RadiusSlack)
		if !ok {
			logger.Debug("callout discarded: no circle", "label", c.Label, "edge", c.Edge)
			continue
		}
		if p.Reader != nil && !confirmLabel(gray, circ, c.Label, p.Reader, logger) {
			continue
		}

		callout := GridCallout{
			Label:        c.Label,
			BBox:         c.BBox,
			Edge:         c.Edge,
			CircleCenter: circ.Center,
			CircleRadius: circ.Radius,
		}
		if pos, found := findGridLine(gray, circ, c.Edge, search); found {
			callout.Position = pos
			callout.LineFound = true
		} else if callout.Orientation() == Horizontal {
			callout.Position = circ.Center.Y
		} else {
			callout.Position = circ.Center.X
		}
		out = append(out, callout)
	}
	logger.Debug("grid callouts verified", "count", len(out))
	return out, nil
}

// confirmLabel OCRs the circle interior. Only a legible reading that differs
// from the detector's label rejects the callout.
func confirmLabel(gray gocv.Mat, c circle, label string, reader LabelReader, logger *slog.Logger) bool {
	inner := int(c.Radius * 0.8)
	rect := image.Rect(
		int(c.Center.X)-inner, int(c.Center.Y)-inner,
		int(c.Center.X)+inner, int(c.Center.Y)+inner,
	).Intersect(image.Rect(0, 0, gray.Cols(), gray.Rows()))
	if rect.Empty() {
		return true
	}

	region := gray.Region(rect)
	defer region.Close()

	text, err := reader.ReadLabel(region)
	if err != nil {
		logger.Debug("label OCR failed", "label", label, "error", err)
		return true
	}
	if text != "" && text != label {
		logger.Debug("callout discarded: OCR disagrees", "label", label, "ocr", text)
		return false
	}
	return true
}

// String summarises a callout for logs.
func (c GridCallout) String() string {
	return fmt.Sprintf("%s@%s(%.1f)", c.Label, c.Edge, c.Position)
}
