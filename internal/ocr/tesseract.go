// Package ocr reads grid bubble labels with Tesseract.
package ocr

import (
	"fmt"
	"image"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"
	"gocv.io/x/gocv"
)

// GridLabelChars is the character set grid labels are drawn from.
const GridLabelChars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ.-"

// Engine provides OCR of short grid labels. A single Tesseract client is not
// safe for concurrent use, so calls are serialised.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
}

// NewEngine creates a new OCR engine.
func NewEngine() (*Engine, error) {
	client := gosseract.NewClient()

	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	if err := configure(client); err != nil {
		client.Close()
		return nil, err
	}

	return &Engine{client: client}, nil
}

type variableSetter interface {
	SetVariable(key gosseract.SettableVariable, value string) error
}

// Grid labels are not dictionary words.
var labelVariables = []struct {
	key   gosseract.SettableVariable
	value string
}{
	{"load_system_dawg", "false"},
	{"load_freq_dawg", "false"},
}

func configure(c variableSetter) error {
	for _, v := range labelVariables {
		if err := c.SetVariable(v.key, v.value); err != nil {
			return fmt.Errorf("failed to set OCR variable %s: %w", v.key, err)
		}
	}
	return nil
}

// Close releases OCR resources.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// ReadLabel recognises the label inside a single-channel bubble crop. The
// result is upper-cased with whitespace removed; an empty string means
// nothing legible was found.
func (e *Engine) ReadLabel(gray gocv.Mat) (string, error) {
	if gray.Empty() {
		return "", fmt.Errorf("empty image")
	}

	processed := preprocessLabel(gray)
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return "", fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.client.SetPageSegMode(gosseract.PSM_SINGLE_WORD); err != nil {
		return "", fmt.Errorf("failed to set PSM: %w", err)
	}
	if err := e.client.SetWhitelist(GridLabelChars); err != nil {
		return "", fmt.Errorf("failed to set whitelist: %w", err)
	}
	if err := e.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return "", fmt.Errorf("failed to set image: %w", err)
	}

	text, err := e.client.Text()
	if err != nil {
		return "", fmt.Errorf("OCR failed: %w", err)
	}
	return NormalizeLabel(text), nil
}

// NormalizeLabel upper-cases a label and strips all whitespace.
func NormalizeLabel(s string) string {
	return strings.ToUpper(strings.Join(strings.Fields(s), ""))
}

// preprocessLabel upscales small crops and binarises them dark-on-light.
func preprocessLabel(gray gocv.Mat) gocv.Mat {
	h, w := gray.Rows(), gray.Cols()

	// Tesseract wants glyphs well above 20px.
	var scaled gocv.Mat
	if minDim := min(h, w); minDim < 120 {
		scale := 120.0 / float64(minDim)
		scaled = gocv.NewMat()
		gocv.Resize(gray, &scaled, image.Point{}, scale, scale, gocv.InterpolationCubic)
	} else {
		scaled = gray.Clone()
	}
	defer scaled.Close()

	binary := gocv.NewMat()
	gocv.Threshold(scaled, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)

	// Light text on a dark fill: invert.
	if white := gocv.CountNonZero(binary); float64(white) < 0.5*float64(binary.Rows()*binary.Cols()) {
		gocv.BitwiseNot(binary, &binary)
	}
	return binary
}
