package image

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// ToMat converts an RGB raster to a CV_8UC3 Mat in RGB channel order.
func ToMat(img *image.RGBA) (gocv.Mat, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return gocv.NewMat(), fmt.Errorf("empty image")
	}

	data := make([]byte, w*h*3)
	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		dst := data[y*w*3:]
		for x := 0; x < w; x++ {
			dst[x*3+0] = src[x*4+0]
			dst[x*3+1] = src[x*4+1]
			dst[x*3+2] = src[x*4+2]
		}
	}
	return gocv.NewMatFromBytes(h, w, gocv.MatTypeCV8UC3, data)
}

// FromMat converts a CV_8UC3 Mat in RGB channel order back to a raster.
func FromMat(mat gocv.Mat) (*image.RGBA, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	if mat.Type() != gocv.MatTypeCV8UC3 {
		return nil, fmt.Errorf("expected 8UC3 mat, got type %v", mat.Type())
	}
	data, err := continuousBytes(mat)
	if err != nil {
		return nil, err
	}

	h, w := mat.Rows(), mat.Cols()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i, j := 0, 0; i < len(data); i, j = i+3, j+4 {
		img.Pix[j+0] = data[i+0]
		img.Pix[j+1] = data[i+1]
		img.Pix[j+2] = data[i+2]
		img.Pix[j+3] = 255
	}
	return img, nil
}

// MaskToMat converts a mask to a CV_8UC1 Mat holding 0 or 255.
func MaskToMat(m *Mask) (gocv.Mat, error) {
	if m.Width == 0 || m.Height == 0 {
		return gocv.NewMat(), fmt.Errorf("empty mask")
	}
	data := make([]byte, len(m.Pix))
	for i, v := range m.Pix {
		if v {
			data[i] = 255
		}
	}
	return gocv.NewMatFromBytes(m.Height, m.Width, gocv.MatTypeCV8U, data)
}

// MaskFromMat converts a CV_8UC1 Mat to a mask; any non-zero pixel is set.
func MaskFromMat(mat gocv.Mat) (*Mask, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("empty mat")
	}
	data, err := continuousBytes(mat)
	if err != nil {
		return nil, err
	}
	m := NewMask(mat.Cols(), mat.Rows())
	for i, v := range data {
		m.Pix[i] = v != 0
	}
	return m, nil
}

func continuousBytes(mat gocv.Mat) ([]byte, error) {
	if !mat.IsContinuous() {
		c := mat.Clone()
		defer c.Close()
		return c.ToBytes(), nil
	}
	return mat.ToBytes(), nil
}
