package config

import (
	"log/slog"
	"math/rand"

	"plan-overlay/internal/alignment"
	"plan-overlay/internal/gridalign"
	"plan-overlay/internal/overlay"
	"plan-overlay/internal/vision"
)

// AlignmentParams converts the [alignment] and [ransac] sections. The RANSAC
// source is seeded from alignment.seed.
func (c *Config) AlignmentParams(logger *slog.Logger) alignment.Params {
	return alignment.Params{
		DownsampleScale: c.Alignment.DownsampleScale,
		NFeatures:       c.Alignment.NFeatures,
		ExcludeMargin:   c.Alignment.ExcludeMargin,
		RatioThreshold:  c.Alignment.RatioThreshold,
		Estimate: alignment.EstimateParams{
			ReprojThreshold: c.RANSAC.ReprojThreshold,
			MaxIters:        c.RANSAC.MaxIters,
			Confidence:      c.RANSAC.Confidence,
			ScaleMin:        c.RANSAC.ScaleMin,
			ScaleMax:        c.RANSAC.ScaleMax,
			RotationDegMin:  c.RANSAC.RotationDegMin,
			RotationDegMax:  c.RANSAC.RotationDegMax,
			RNG:             rand.New(rand.NewSource(c.Alignment.Seed)),
		},
		Logger: logger,
	}
}

// DiffParams converts the [render] section.
func (c *Config) DiffParams() overlay.DiffParams {
	return overlay.DiffParams{
		InkThreshold:    c.Render.InkThreshold,
		DiffThreshold:   c.Render.DiffThreshold,
		MorphKernelSize: c.Render.MorphKernelSize,
		SkipMorph:       c.Render.SkipMorph,
		ShiftTolerance:  c.Render.ShiftTolerance,
		TintStrength:    c.Render.TintStrength,
	}
}

// GridParams converts the [grid] section. The OCR reader is supplied by the
// caller when grid.ocr_confirm is set.
func (c *Config) GridParams(reader gridalign.LabelReader, logger *slog.Logger) gridalign.Params {
	p := gridalign.DefaultParams()
	p.DetectMaxDimension = c.Grid.DetectMaxDimension
	p.CropPadding = c.Grid.CropPadding
	p.RadiusSlack = c.Grid.RadiusSlack
	p.LineSearchLength = c.Grid.LineSearchLength
	p.LineAngleTolDeg = c.Grid.LineAngleToleranceDeg
	p.Reader = reader
	p.Logger = logger
	return p
}

// VisionConfig converts the [vision] section.
func (c *Config) VisionConfig() vision.Config {
	return vision.Config{
		APIKey:         c.Vision.APIKey,
		BaseURL:        c.Vision.BaseURL,
		Model:          c.Vision.Model,
		Title:          "sheetdiff",
		TimeoutSeconds: c.Vision.TimeoutSeconds,
	}
}
