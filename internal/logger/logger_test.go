package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "DEBUG", "text", false)

	Info("session evicted", KeyUserID, int64(42), KeyIdle, "11m")

	out := buf.String()
	if !strings.Contains(out, "[INFO] session evicted") {
		t.Errorf("unexpected output: %q", out)
	}
	if !strings.Contains(out, "user_id=42") {
		t.Errorf("missing user_id field: %q", out)
	}
	if !strings.Contains(out, "idle=11m") {
		t.Errorf("missing idle field: %q", out)
	}
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "json", false)

	Info("transfer complete", KeyUserID, int64(7), KeyBytes, int64(1024))

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if record["msg"] != "transfer complete" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["user_id"] != float64(7) {
		t.Errorf("user_id = %v", record["user_id"])
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "WARN", "text", false)

	Debug("should not appear")
	Info("should not appear either")
	Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("low-level records leaked through: %q", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn record missing: %q", out)
	}
}

func TestInvalidLevelIgnored(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter(&buf, "INFO", "text", false)

	SetLevel("NOISY") // no such level, must keep INFO
	Info("still here")

	if !strings.Contains(buf.String(), "still here") {
		t.Error("valid level was overwritten by an invalid one")
	}
}
