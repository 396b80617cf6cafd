package logging_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"plan-overlay/internal/logging"
)

func TestAutoFormatIsJSONWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "info", Format: "auto", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("aligned", "method", "sift")

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("expected a JSON record, got %q: %v", buf.String(), err)
	}
	if record["msg"] != "aligned" || record["method"] != "sift" {
		t.Errorf("unexpected record: %v", record)
	}
}

func TestConsoleFormatHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New(logging.Options{Level: "warn", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("low confidence", "inlier_ratio", 0.12)

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("info record should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "low confidence") || !strings.Contains(out, "inlier_ratio=0.12") {
		t.Errorf("unexpected console output: %q", out)
	}
}

func TestUnknownFormat(t *testing.T) {
	if _, err := logging.New(logging.Options{Format: "xml"}); err == nil {
		t.Fatal("expected an error for an unknown format")
	}
}
