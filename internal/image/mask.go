package image

import (
	"image"
)

// Mask is a boolean per-pixel map with the same geometry as a raster.
type Mask struct {
	Width  int
	Height int
	Pix    []bool
}

// NewMask returns an all-false mask.
func NewMask(w, h int) *Mask {
	return &Mask{Width: w, Height: h, Pix: make([]bool, w*h)}
}

// At reports whether (x, y) is set.
func (m *Mask) At(x, y int) bool {
	return m.Pix[y*m.Width+x]
}

// Set sets (x, y) to v.
func (m *Mask) Set(x, y int, v bool) {
	m.Pix[y*m.Width+x] = v
}

// Count returns the number of set pixels.
func (m *Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}
	return n
}

// And returns m ∧ o.
func (m *Mask) And(o *Mask) *Mask {
	out := NewMask(m.Width, m.Height)
	for i, v := range m.Pix {
		out.Pix[i] = v && o.Pix[i]
	}
	return out
}

// AndNot returns m ∧ ¬o.
func (m *Mask) AndNot(o *Mask) *Mask {
	out := NewMask(m.Width, m.Height)
	for i, v := range m.Pix {
		out.Pix[i] = v && !o.Pix[i]
	}
	return out
}

// Or returns m ∨ o.
func (m *Mask) Or(o *Mask) *Mask {
	out := NewMask(m.Width, m.Height)
	for i, v := range m.Pix {
		out.Pix[i] = v || o.Pix[i]
	}
	return out
}

// Intersects reports whether any pixel is set in both masks.
func (m *Mask) Intersects(o *Mask) bool {
	for i, v := range m.Pix {
		if v && o.Pix[i] {
			return true
		}
	}
	return false
}

// ToGray renders the mask black-on-white: set pixels are 0, the rest 255.
func (m *Mask) ToGray() *image.Gray {
	g := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	for i, v := range m.Pix {
		if v {
			g.Pix[i] = 0
		} else {
			g.Pix[i] = 255
		}
	}
	return g
}

// Threshold returns the mask of pixels strictly darker than limit.
func Threshold(g *image.Gray, limit int) *Mask {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	m := NewMask(w, h)
	for y := 0; y < h; y++ {
		off := g.PixOffset(b.Min.X, b.Min.Y+y)
		row := g.Pix[off : off+w]
		for x, v := range row {
			m.Pix[y*w+x] = int(v) < limit
		}
	}
	return m
}
