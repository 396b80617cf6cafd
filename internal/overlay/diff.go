package overlay

import (
	"image"
	"image/color"

	"plan-overlay/internal/alignerr"
	pimage "plan-overlay/internal/image"
	"plan-overlay/pkg/colorutil"
)

// DiffParams configures Diff.
type DiffParams struct {
	// InkThreshold: gray values strictly below it are ink.
	InkThreshold int
	// DiffThreshold: a pixel is changed only if |a-b| exceeds it.
	DiffThreshold int
	// MorphKernelSize is the elliptical opening kernel; below 2 disables opening.
	MorphKernelSize int
	SkipMorph       bool
	// ShiftTolerance is the ink offset in pixels still counted as unchanged.
	ShiftTolerance int
	TintStrength   float64
}

// DefaultDiffParams returns the production defaults.
func DefaultDiffParams() DiffParams {
	return DiffParams{
		InkThreshold:    200,
		DiffThreshold:   40,
		MorphKernelSize: 3,
		ShiftTolerance:  3,
		TintStrength:    DefaultTintStrength,
	}
}

// ChangeMasks classifies pixels of an aligned pair. The three masks are
// pairwise disjoint.
type ChangeMasks struct {
	Removed   *pimage.Mask
	Added     *pimage.Mask
	Unchanged *pimage.Mask
}

// DiffResult is the output of Diff.
type DiffResult struct {
	Overlay  *image.RGBA
	Deletion *image.Gray // Removed pixels, black on white
	Addition *image.Gray // Added pixels, black on white
	Masks    ChangeMasks
}

// Classify computes the change masks for old (a) and new (b).
func Classify(old, new *image.RGBA, p DiffParams) (ChangeMasks, error) {
	if err := checkPair(old, new); err != nil {
		return ChangeMasks{}, err
	}
	if err := p.validate(); err != nil {
		return ChangeMasks{}, err
	}

	ga := pimage.Gray(old)
	gb := pimage.Gray(new)
	inkA := pimage.Threshold(ga, p.InkThreshold)
	inkB := pimage.Threshold(gb, p.InkThreshold)

	w, h := ga.Bounds().Dx(), ga.Bounds().Dy()
	changed := pimage.NewMask(w, h)
	for i := range ga.Pix {
		d := int(ga.Pix[i]) - int(gb.Pix[i])
		if d < 0 {
			d = -d
		}
		changed.Pix[i] = d > p.DiffThreshold
	}

	removed := inkA.AndNot(inkB).And(changed)
	added := inkB.AndNot(inkA).And(changed)

	if !p.SkipMorph && p.MorphKernelSize >= 2 {
		var err error
		if removed, err = open(removed, p.MorphKernelSize); err != nil {
			return ChangeMasks{}, err
		}
		if added, err = open(added, p.MorphKernelSize); err != nil {
			return ChangeMasks{}, err
		}
	}

	// Ink that moved by less than the shift tolerance exists in both images;
	// drop it from the opposite change mask.
	absorbed := pimage.NewMask(w, h)
	if p.ShiftTolerance > 0 {
		nearA, err := dilate(inkA, 2*p.ShiftTolerance+1)
		if err != nil {
			return ChangeMasks{}, err
		}
		nearB, err := dilate(inkB, 2*p.ShiftTolerance+1)
		if err != nil {
			return ChangeMasks{}, err
		}
		absorbed = removed.And(nearB).Or(added.And(nearA))
		removed = removed.AndNot(nearB)
		added = added.AndNot(nearA)
	}

	unchanged := inkA.And(inkB).Or(absorbed).AndNot(removed.Or(added))

	return ChangeMasks{Removed: removed, Added: added, Unchanged: unchanged}, nil
}

// Diff classifies the pair and renders removed pixels as red-tinted gray,
// added pixels as green-tinted gray, unchanged ink as gray and everything
// else as white.
func Diff(old, new *image.RGBA, p DiffParams) (DiffResult, error) {
	masks, err := Classify(old, new, p)
	if err != nil {
		return DiffResult{}, err
	}
	return DiffResult{
		Overlay:  Render(old, new, masks, p.TintStrength),
		Deletion: masks.Removed.ToGray(),
		Addition: masks.Added.ToGray(),
		Masks:    masks,
	}, nil
}

// Render draws the diff-mode overlay for precomputed masks.
func Render(old, new *image.RGBA, masks ChangeMasks, tintStrength float64) *image.RGBA {
	ga := pimage.Gray(old)
	gb := pimage.Gray(new)
	w, h := ga.Bounds().Dx(), ga.Bounds().Dy()

	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range ga.Pix {
		g := min(ga.Pix[i], gb.Pix[i])
		switch {
		case masks.Removed.Pix[i]:
			setRGBA(out, i, colorutil.Tint(ga.Pix[i], colorutil.Red, tintStrength))
		case masks.Added.Pix[i]:
			setRGBA(out, i, colorutil.Tint(gb.Pix[i], colorutil.Green, tintStrength))
		case masks.Unchanged.Pix[i]:
			setRGBA(out, i, color.RGBA{R: g, G: g, B: g, A: 255})
		default:
			setRGBA(out, i, colorutil.White)
		}
	}
	return out
}

func (p DiffParams) validate() error {
	switch {
	case p.InkThreshold < 0 || p.InkThreshold > 256:
		return alignerr.Input("ink threshold %d outside [0, 256]", p.InkThreshold)
	case p.DiffThreshold < 0 || p.DiffThreshold > 255:
		return alignerr.Input("diff threshold %d outside [0, 255]", p.DiffThreshold)
	case p.MorphKernelSize < 0:
		return alignerr.Input("negative morph kernel size %d", p.MorphKernelSize)
	case p.ShiftTolerance < 0:
		return alignerr.Input("negative shift tolerance %d", p.ShiftTolerance)
	case p.TintStrength < 0 || p.TintStrength > 1:
		return alignerr.Input("tint strength %.3f outside [0, 1]", p.TintStrength)
	}
	return nil
}
