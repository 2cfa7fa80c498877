package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestTextLoggerFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Warn, Text, &buf)
	l.Info("hidden")
	l.Warn("tuned", Float("freq_hz", 2.46e9), Err(nil))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info entry should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] tuned freq_hz=2.46e+09") {
		t.Fatalf("unexpected text entry: %q", out)
	}
	if strings.Contains(out, "error=") {
		t.Fatalf("nil error field should be skipped: %q", out)
	}
}

func TestJSONLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Debug, JSON, &buf).With(String("backend", "mock"))
	l.Error("capture failed", Int("channel", 1), Err(errors.New("boom")))

	var entry map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("entry is not JSON: %v (%q)", err, buf.String())
	}
	if entry["level"] != "ERROR" || entry["msg"] != "capture failed" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["backend"] != "mock" || entry["channel"] != float64(1) || entry["error"] != "boom" {
		t.Fatalf("fields missing: %v", entry)
	}
}

func TestParseLevelAndFormat(t *testing.T) {
	if lvl, err := ParseLevel("WARNING"); err != nil || lvl != Warn {
		t.Fatalf("ParseLevel(WARNING) = %v, %v", lvl, err)
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if f, err := ParseFormat("json"); err != nil || f != JSON {
		t.Fatalf("ParseFormat(json) = %v, %v", f, err)
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}
