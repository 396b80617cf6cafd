package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Alignment contains the feature aligner settings.
type Alignment struct {
	DownsampleScale            float64 `toml:"downsample_scale"`
	NFeatures                  int     `toml:"n_features"`
	ExcludeMargin              float64 `toml:"exclude_margin"`
	RatioThreshold             float64 `toml:"ratio_threshold"`
	LowConfidenceWarnThreshold float64 `toml:"low_confidence_warn_threshold"`
	Seed                       int64   `toml:"seed"`
}

// RANSAC contains the robust estimator settings.
type RANSAC struct {
	ReprojThreshold float64 `toml:"reproj_threshold"`
	MaxIters        int     `toml:"max_iters"`
	Confidence      float64 `toml:"confidence"`
	ScaleMin        float64 `toml:"scale_min"`
	ScaleMax        float64 `toml:"scale_max"`
	RotationDegMin  float64 `toml:"rotation_deg_min"`
	RotationDegMax  float64 `toml:"rotation_deg_max"`
}

// Render contains overlay settings.
type Render struct {
	Mode            string  `toml:"mode"` // merge or diff
	TintStrength    float64 `toml:"tint_strength"`
	InkThreshold    int     `toml:"ink_threshold"`
	DiffThreshold   int     `toml:"diff_threshold"`
	MorphKernelSize int     `toml:"morph_kernel_size"`
	SkipMorph       bool    `toml:"skip_morph"`
	ShiftTolerance  int     `toml:"shift_tolerance"`
}

// Grid contains the grid-callout fallback settings.
type Grid struct {
	Enabled               bool    `toml:"enabled"`
	DetectMaxDimension    int     `toml:"detect_max_dimension"`
	CropPadding           int     `toml:"crop_padding"`
	RadiusSlack           int     `toml:"radius_slack"`
	LineSearchLength      int     `toml:"line_search_length"`
	LineAngleToleranceDeg float64 `toml:"line_angle_tolerance_deg"`
	OCRConfirm            bool    `toml:"ocr_confirm"`
}

// Vision contains the label-detection service connection settings.
type Vision struct {
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	RetryAttempts  int    `toml:"retry_attempts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // auto, console or json
}

// Config encapsulates all configuration values for sheetdiff.
//
// Configuration sections by subsystem:
//   - Alignment: downsampling, feature extraction and matching
//   - RANSAC: similarity estimation and its admissible scale/rotation
//   - Render: merge and diff overlay parameters
//   - Grid: the grid-callout fallback aligner
//   - Vision: the label-detection service used by the fallback
//   - Logging: log format and level
type Config struct {
	Alignment Alignment `toml:"alignment"`
	RANSAC    RANSAC    `toml:"ransac"`
	Render    Render    `toml:"render"`
	Grid      Grid      `toml:"grid"`
	Vision    Vision    `toml:"vision"`
	Logging   Logging   `toml:"logging"`
}

// Load locates, parses, and validates a configuration file. A missing file is
// not an error: defaults (plus environment overrides) are used.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		if _, err := os.Stat(expanded); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	projectPath, err := filepath.Abs("sheetdiff.toml")
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}
	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	return defaultPath, false, nil
}

// DefaultConfigPath returns the per-user configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/sheetdiff/config.toml")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	absolute, err := filepath.Abs(filepath.Clean(pathValue))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", pathValue, err)
	}
	return absolute, nil
}

// SampleConfig returns the annotated default configuration.
func SampleConfig() string {
	return sampleConfig
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
