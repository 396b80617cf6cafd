package overlay

import (
	"fmt"
	"image"

	pimage "plan-overlay/internal/image"

	"gocv.io/x/gocv"
)

// open applies an elliptical morphological opening to m.
func open(m *pimage.Mask, size int) (*pimage.Mask, error) {
	return morph(m, size, func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat) {
		gocv.MorphologyEx(src, dst, gocv.MorphOpen, kernel)
	})
}

// dilate grows m with an elliptical kernel of the given size.
func dilate(m *pimage.Mask, size int) (*pimage.Mask, error) {
	return morph(m, size, func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat) {
		gocv.Dilate(src, dst, kernel)
	})
}

func morph(m *pimage.Mask, size int, op func(src gocv.Mat, dst *gocv.Mat, kernel gocv.Mat)) (*pimage.Mask, error) {
	if m.Count() == 0 {
		return pimage.NewMask(m.Width, m.Height), nil
	}
	src, err := pimage.MaskToMat(m)
	if err != nil {
		return nil, fmt.Errorf("mask to mat: %w", err)
	}
	defer src.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(size, size))
	defer kernel.Close()

	dst := gocv.NewMat()
	defer dst.Close()
	op(src, &dst, kernel)

	return pimage.MaskFromMat(dst)
}
