// Package colorutil provides shared color utilities for overlay rendering.
package colorutil

import (
	"image/color"
	"math"
)

// Common overlay colors.
var (
	Black = color.RGBA{R: 0, G: 0, B: 0, A: 255}
	White = color.RGBA{R: 255, G: 255, B: 255, A: 255}
	Red   = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	Green = color.RGBA{R: 0, G: 255, B: 0, A: 255}
)

// Luma weights (ITU-R BT.601), the same weights OpenCV uses for RGB->GRAY.
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// Luma converts an RGB triple to an 8-bit grayscale intensity.
func Luma(r, g, b uint8) uint8 {
	return ClampByte(lumaR*float64(r) + lumaG*float64(g) + lumaB*float64(b))
}

// ClampByte rounds v to the nearest integer and clamps it to 0-255.
func ClampByte(v float64) uint8 {
	v = math.Round(v)
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}

// Tint blends a grayscale intensity toward a tint color by strength t in [0,1].
// t=0 returns the gray value unchanged on all channels.
func Tint(gray uint8, tint color.RGBA, t float64) color.RGBA {
	g := float64(gray) * (1 - t)
	return color.RGBA{
		R: ClampByte(g + float64(tint.R)*t),
		G: ClampByte(g + float64(tint.G)*t),
		B: ClampByte(g + float64(tint.B)*t),
		A: 255,
	}
}
