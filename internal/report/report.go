// Package report provides the JSON audit record written next to comparison
// outputs.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"plan-overlay/internal/alignment"
	"plan-overlay/internal/pipeline"
)

// File is one comparison run as persisted to disk.
type File struct {
	Version int       `json:"version"`
	Created time.Time `json:"created"`
	Mode    string    `json:"mode"`

	// Image paths (relative to the report file)
	OldImagePath string `json:"old_image,omitempty"`
	NewImagePath string `json:"new_image,omitempty"`

	// Alignment result
	Aligned   bool             `json:"aligned"`
	Stats     *alignment.Stats `json:"stats,omitempty"`
	Transform *[2][3]float64   `json:"transform,omitempty"`
	States    []string         `json:"states"`
	Error     string           `json:"error,omitempty"`

	// Output paths (relative to the report file)
	Outputs []string `json:"outputs,omitempty"`
}

// New creates a report for the given render mode.
func New(mode string) *File {
	return &File{
		Version: 1,
		Created: time.Now().UTC(),
		Mode:    mode,
	}
}

// RecordOutcome copies the alignment result into the report.
func (f *File) RecordOutcome(o pipeline.Outcome) {
	if o == nil {
		return
	}
	f.States = f.States[:0]
	for _, s := range o.Trace() {
		f.States = append(f.States, s.String())
	}
	if success, ok := o.(pipeline.Success); ok {
		stats := success.Result.Stats
		m := success.Result.Transform.ToMatrix()
		f.Aligned = true
		f.Stats = &stats
		f.Transform = &m
		f.Error = ""
		return
	}
	f.Aligned = false
	f.Stats = nil
	f.Transform = nil
	if err := o.Err(); err != nil {
		f.Error = err.Error()
	}
}

// SetImages stores the input paths relative to the report location.
func (f *File) SetImages(reportPath, oldPath, newPath string) {
	f.OldImagePath = relativeTo(reportPath, oldPath)
	f.NewImagePath = relativeTo(reportPath, newPath)
}

// AddOutput records an output file relative to the report location.
func (f *File) AddOutput(reportPath, outputPath string) {
	f.Outputs = append(f.Outputs, relativeTo(reportPath, outputPath))
}

// ImagePaths returns the absolute input paths.
func (f *File) ImagePaths(reportPath string) (oldPath, newPath string) {
	return resolve(reportPath, f.OldImagePath), resolve(reportPath, f.NewImagePath)
}

// Load loads a report from path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var r File
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parse report %s: %w", path, err)
	}
	return &r, nil
}

// Save writes the report to path.
func (f *File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	return os.WriteFile(path, data, 0o644)
}

func relativeTo(reportPath, target string) string {
	if target == "" {
		return ""
	}
	absReport, err1 := filepath.Abs(reportPath)
	absTarget, err2 := filepath.Abs(target)
	if err1 != nil || err2 != nil {
		return target
	}
	rel, err := filepath.Rel(filepath.Dir(absReport), absTarget)
	if err != nil {
		return target
	}
	return rel
}

func resolve(reportPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(filepath.Dir(reportPath), p)
}
