// Package overlay renders change overlays from an aligned pair of drawings.
//
// Merge mode blends both images into one continuous tinted view: ink present
// only in the old image leans red, ink only in the new image leans green and
// shared ink stays neutral. Diff mode classifies every pixel as removed, added
// or unchanged and renders each class separately.
//
// Both renderers require the two rasters to have identical dimensions, which
// is what canvas unification guarantees.
package overlay

import (
	"image"
	"image/color"

	"plan-overlay/internal/alignerr"
	pimage "plan-overlay/internal/image"
	"plan-overlay/pkg/colorutil"
)

// DefaultTintStrength is the production merge-mode tint.
const DefaultTintStrength = 0.7

// Merge renders the merge-mode overlay of old (a) and new (b).
//
// With avg = (a+b)/2 per pixel:
//
//	R = b·t + avg·(1-t)
//	G = a·t + avg·(1-t)
//	B = min(a,b)·t + avg·(1-t)
//
// At t=0 the result is plain grayscale.
func Merge(old, new *image.RGBA, tintStrength float64) (*image.RGBA, error) {
	if err := checkPair(old, new); err != nil {
		return nil, err
	}
	if tintStrength < 0 || tintStrength > 1 {
		return nil, alignerr.Input("tint strength %.3f outside [0, 1]", tintStrength)
	}

	ga := pimage.Gray(old)
	gb := pimage.Gray(new)
	w, h := ga.Bounds().Dx(), ga.Bounds().Dy()

	t := tintStrength
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range ga.Pix {
		a := float64(ga.Pix[i])
		b := float64(gb.Pix[i])
		avg := (a + b) / 2
		base := avg * (1 - t)

		o := i * 4
		out.Pix[o+0] = colorutil.ClampByte(b*t + base)
		out.Pix[o+1] = colorutil.ClampByte(a*t + base)
		out.Pix[o+2] = colorutil.ClampByte(min(a, b)*t + base)
		out.Pix[o+3] = 255
	}
	return out, nil
}

func checkPair(old, new *image.RGBA) error {
	if old == nil || new == nil || old.Bounds().Empty() || new.Bounds().Empty() {
		return alignerr.Input("empty image")
	}
	if !pimage.SameSize(old, new) {
		return alignerr.Input("image sizes differ: %v vs %v", old.Bounds().Size(), new.Bounds().Size())
	}
	return nil
}

func setRGBA(img *image.RGBA, i int, c color.RGBA) {
	o := i * 4
	img.Pix[o+0] = c.R
	img.Pix[o+1] = c.G
	img.Pix[o+2] = c.B
	img.Pix[o+3] = c.A
}
