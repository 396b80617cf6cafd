// Package image provides raster loading, encoding, Mat conversion and compositing.
//
// Every raster handled by the engine is an opaque 8-bit RGB image held in an
// *image.RGBA with alpha fixed at 255. Functions in this package never mutate
// their inputs; they return new images.
package image

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"plan-overlay/internal/alignerr"
	"plan-overlay/pkg/colorutil"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

// Decode decodes encoded image bytes into an opaque RGB raster. Transparent
// pixels are composited onto white, matching how drawings are printed.
func Decode(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, alignerr.Input("empty image buffer")
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, alignerr.Input("failed to decode image: %v", err)
	}
	if img.Bounds().Empty() {
		return nil, alignerr.Input("decoded image has no pixels")
	}
	return ToRGB(img), nil
}

// Load reads and decodes the image at path. The raw bytes are returned as well
// because the grid fallback re-decodes regions from them.
func Load(path string) (*image.RGBA, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open image: %w", err)
	}
	img, err := Decode(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, data, nil
}

// ToRGB returns an opaque, zero-origin RGBA copy of img on a white background.
func ToRGB(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := NewWhite(b.Dx(), b.Dy())
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}

// NewWhite returns a w x h raster filled with white.
func NewWhite(w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range dst.Pix {
		dst.Pix[i] = 255
	}
	return dst
}

// EncodePNG encodes img as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Gray converts an RGB raster to 8-bit luma.
func Gray(img *image.RGBA) *image.Gray {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		off := img.PixOffset(b.Min.X, b.Min.Y+y)
		src := img.Pix[off : off+w*4]
		row := dst.Pix[y*dst.Stride : y*dst.Stride+w]
		for x := 0; x < w; x++ {
			row[x] = colorutil.Luma(src[x*4], src[x*4+1], src[x*4+2])
		}
	}
	return dst
}

// SameSize reports whether two rasters have identical dimensions.
func SameSize(a, b image.Image) bool {
	return a.Bounds().Dx() == b.Bounds().Dx() && a.Bounds().Dy() == b.Bounds().Dy()
}

// SupportedFormats returns the list of supported image file extensions.
func SupportedFormats() []string {
	return []string{".tiff", ".tif", ".png", ".jpg", ".jpeg", ".gif", ".bmp"}
}

// IsSupportedFormat checks if the given path has a supported image format.
func IsSupportedFormat(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, format := range SupportedFormats() {
		if ext == format {
			return true
		}
	}
	return false
}
