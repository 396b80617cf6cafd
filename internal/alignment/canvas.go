package alignment

import (
	"image"
	"math"

	"plan-overlay/internal/alignerr"
	pimage "plan-overlay/internal/image"
	"plan-overlay/pkg/geometry"
)

// Canvas is the shared output frame for an aligned pair. The new image sits at
// (OffsetX, OffsetY); Transform maps old-image pixels into the canvas.
type Canvas struct {
	Width     int
	Height    int
	OffsetX   int
	OffsetY   int
	Transform geometry.AffineTransform
}

// AlignedPair holds two rasters of identical dimensions in a common frame.
type AlignedPair struct {
	Old *image.RGBA
	New *image.RGBA
}

// Size returns the shared dimensions of the pair.
func (p AlignedPair) Size() (int, int) {
	b := p.New.Bounds()
	return b.Dx(), b.Dy()
}

// ComputeCanvas returns the smallest integer canvas holding both the new image
// and the old image mapped through m. The canvas only ever grows: Width and
// Height are at least the new image's, and both offsets are non-negative.
func ComputeCanvas(m geometry.AffineTransform, oldW, oldH, newW, newH int) (Canvas, error) {
	if oldW <= 0 || oldH <= 0 || newW <= 0 || newH <= 0 {
		return Canvas{}, alignerr.Input("invalid image sizes old=%dx%d new=%dx%d", oldW, oldH, newW, newH)
	}
	if !m.IsFinite() {
		return Canvas{}, alignerr.Input("transform has non-finite coefficients")
	}

	corners := geometry.RectCorners(float64(oldW), float64(oldH))
	warped := make([]geometry.Point2D, len(corners))
	for i, c := range corners {
		warped[i] = m.Apply(c)
	}
	box := geometry.BoundingBox(warped).Union(geometry.Rect{Width: float64(newW), Height: float64(newH)})

	offX := int(math.Ceil(math.Max(0, -box.X)))
	offY := int(math.Ceil(math.Max(0, -box.Y)))

	// Rounding the offset up can push content past ceil(max-min), so size the
	// canvas from the shifted far edge instead.
	w := int(math.Ceil(box.MaxX() + float64(offX)))
	h := int(math.Ceil(box.MaxY() + float64(offY)))

	return Canvas{
		Width:     max(w, newW+offX),
		Height:    max(h, newH+offY),
		OffsetX:   offX,
		OffsetY:   offY,
		Transform: m.Offset(float64(offX), float64(offY)),
	}, nil
}

// UnifyCanvas warps old onto the expanded canvas and pastes new, unmodified,
// at the canvas offset. Neither image is cropped.
func UnifyCanvas(old, new *image.RGBA, m geometry.AffineTransform) (AlignedPair, Canvas, error) {
	if old == nil || new == nil || old.Bounds().Empty() || new.Bounds().Empty() {
		return AlignedPair{}, Canvas{}, alignerr.Input("empty image")
	}
	ob, nb := old.Bounds(), new.Bounds()
	canvas, err := ComputeCanvas(m, ob.Dx(), ob.Dy(), nb.Dx(), nb.Dy())
	if err != nil {
		return AlignedPair{}, Canvas{}, err
	}

	alignedOld, err := ApplyTransformation(old, canvas.Transform, canvas.Width, canvas.Height)
	if err != nil {
		return AlignedPair{}, Canvas{}, err
	}
	alignedNew := pimage.Paste(new, canvas.Width, canvas.Height, canvas.OffsetX, canvas.OffsetY)

	return AlignedPair{Old: alignedOld, New: alignedNew}, canvas, nil
}
