package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestComponentAttributeAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := Component(newLogger(&buf, "warn", "json"), "router")
	l.Info("dropped")
	l.Warn("kept", "trip_id", "t1")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("not json: %v", err)
	}
	if rec["component"] != "router" || rec["trip_id"] != "t1" || rec["msg"] != "kept" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, "debug", "TEXT").Debug("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %q", buf.String())
	}
}
