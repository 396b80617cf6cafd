package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAlignment(); err != nil {
		return err
	}
	if err := c.validateRANSAC(); err != nil {
		return err
	}
	if err := c.validateRender(); err != nil {
		return err
	}
	if err := c.validateGrid(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAlignment() error {
	a := c.Alignment
	if a.DownsampleScale <= 0 || a.DownsampleScale > 1 {
		return errors.New("alignment.downsample_scale must be in (0, 1]")
	}
	if a.NFeatures < 0 {
		return errors.New("alignment.n_features must be >= 0")
	}
	if a.ExcludeMargin < 0 || a.ExcludeMargin >= 0.5 {
		return errors.New("alignment.exclude_margin must be in [0, 0.5)")
	}
	if a.RatioThreshold <= 0 || a.RatioThreshold >= 1 {
		return errors.New("alignment.ratio_threshold must be in (0, 1)")
	}
	if a.LowConfidenceWarnThreshold < 0 || a.LowConfidenceWarnThreshold > 1 {
		return errors.New("alignment.low_confidence_warn_threshold must be in [0, 1]")
	}
	return nil
}

func (c *Config) validateRANSAC() error {
	r := c.RANSAC
	if r.ReprojThreshold <= 0 {
		return errors.New("ransac.reproj_threshold must be positive")
	}
	if r.MaxIters <= 0 {
		return errors.New("ransac.max_iters must be positive")
	}
	if r.Confidence <= 0 || r.Confidence >= 1 {
		return errors.New("ransac.confidence must be in (0, 1)")
	}
	if r.ScaleMin <= 0 || r.ScaleMin > r.ScaleMax {
		return fmt.Errorf("ransac.scale_min (%g) must be positive and <= ransac.scale_max (%g)", r.ScaleMin, r.ScaleMax)
	}
	if r.RotationDegMin > r.RotationDegMax {
		return fmt.Errorf("ransac.rotation_deg_min (%g) must be <= ransac.rotation_deg_max (%g)", r.RotationDegMin, r.RotationDegMax)
	}
	return nil
}

func (c *Config) validateRender() error {
	r := c.Render
	switch r.Mode {
	case ModeMerge, ModeDiff:
	default:
		return fmt.Errorf("render.mode must be %q or %q, got %q", ModeMerge, ModeDiff, r.Mode)
	}
	if r.TintStrength < 0 || r.TintStrength > 1 {
		return errors.New("render.tint_strength must be in [0, 1]")
	}
	if r.InkThreshold < 0 || r.InkThreshold > 255 {
		return errors.New("render.ink_threshold must be in [0, 255]")
	}
	if r.DiffThreshold < 0 || r.DiffThreshold > 255 {
		return errors.New("render.diff_threshold must be in [0, 255]")
	}
	if r.MorphKernelSize < 0 {
		return errors.New("render.morph_kernel_size must be >= 0")
	}
	if r.ShiftTolerance < 0 {
		return errors.New("render.shift_tolerance must be >= 0")
	}
	return nil
}

func (c *Config) validateGrid() error {
	g := c.Grid
	if g.DetectMaxDimension < 0 {
		return errors.New("grid.detect_max_dimension must be >= 0")
	}
	if g.CropPadding < 0 || g.RadiusSlack < 0 {
		return errors.New("grid.crop_padding and grid.radius_slack must be >= 0")
	}
	if g.LineSearchLength <= 0 {
		return errors.New("grid.line_search_length must be positive")
	}
	if g.LineAngleToleranceDeg < 0 || g.LineAngleToleranceDeg > 45 {
		return errors.New("grid.line_angle_tolerance_deg must be in [0, 45]")
	}
	if c.Vision.TimeoutSeconds < 0 {
		return errors.New("vision.timeout_seconds must be >= 0")
	}
	if c.Vision.RetryAttempts < 0 {
		return errors.New("vision.retry_attempts must be >= 0")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "auto", "console", "json":
	default:
		return fmt.Errorf("logging.format must be auto, console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
