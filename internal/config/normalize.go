package config

import (
	"os"
	"strings"
)

// Render modes.
const (
	ModeMerge = "merge"
	ModeDiff  = "diff"
)

func (c *Config) normalize() {
	c.Render.Mode = strings.ToLower(strings.TrimSpace(c.Render.Mode))
	if c.Render.Mode == "" {
		c.Render.Mode = ModeMerge
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Vision.BaseURL = strings.TrimSpace(c.Vision.BaseURL)
	c.Vision.Model = strings.TrimSpace(c.Vision.Model)

	if value, ok := os.LookupEnv("SHEETDIFF_VISION_API_KEY"); ok {
		c.Vision.APIKey = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("SHEETDIFF_VISION_BASE_URL"); ok && strings.TrimSpace(value) != "" {
		c.Vision.BaseURL = strings.TrimSpace(value)
	}
	if value, ok := os.LookupEnv("SHEETDIFF_VISION_MODEL"); ok && strings.TrimSpace(value) != "" {
		c.Vision.Model = strings.TrimSpace(value)
	}
}
