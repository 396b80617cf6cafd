package image

import (
	"image"
	"image/color"
	"image/draw"

	"plan-overlay/pkg/colorutil"
)

// Composite places opaque layers onto a fixed-size canvas.
type Composite struct {
	Width     int
	Height    int
	Layers    []*CompositeLayer
	BackColor color.Color
}

// CompositeLayer is an image positioned on the composite canvas.
type CompositeLayer struct {
	Image   image.Image
	OffsetX int
	OffsetY int
}

// NewComposite creates a new Composite with the specified dimensions on a white background.
func NewComposite(width, height int) *Composite {
	return &Composite{
		Width:     width,
		Height:    height,
		BackColor: colorutil.White,
	}
}

// AddLayer adds a layer whose top-left corner sits at (offsetX, offsetY).
func (c *Composite) AddLayer(img image.Image, offsetX, offsetY int) {
	c.Layers = append(c.Layers, &CompositeLayer{
		Image:   img,
		OffsetX: offsetX,
		OffsetY: offsetY,
	})
}

// Render produces the final composited image. Layers are copied unmodified;
// parts falling outside the canvas are clipped.
func (c *Composite) Render() *image.RGBA {
	result := image.NewRGBA(image.Rect(0, 0, c.Width, c.Height))
	draw.Draw(result, result.Bounds(), &image.Uniform{C: c.BackColor}, image.Point{}, draw.Src)

	for _, cl := range c.Layers {
		if cl == nil || cl.Image == nil {
			continue
		}
		src := cl.Image.Bounds()
		dst := image.Rect(cl.OffsetX, cl.OffsetY, cl.OffsetX+src.Dx(), cl.OffsetY+src.Dy())
		draw.Draw(result, dst, cl.Image, src.Min, draw.Src)
	}

	return result
}

// Paste returns a white w x h canvas with img copied at (offsetX, offsetY).
func Paste(img image.Image, w, h, offsetX, offsetY int) *image.RGBA {
	c := NewComposite(w, h)
	c.AddLayer(img, offsetX, offsetY)
	return c.Render()
}
