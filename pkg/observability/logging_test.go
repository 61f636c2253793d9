package observability

import (
	"bytes"
	"strings"
	"testing"
)

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelWarn, &buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	if strings.Contains(out, "debug message") || strings.Contains(out, "info message") {
		t.Errorf("lines below warn leaked through: %s", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("warn/error lines missing: %s", out)
	}
}

func TestLogger_SetLevelAffectsDerived(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelInfo, &buf)
	phased := logger.WithPhase("encode")

	logger.SetLevel(LevelError)
	phased.Info("should be filtered")
	if buf.Len() != 0 {
		t.Errorf("derived logger ignored SetLevel: %s", buf.String())
	}
}

func TestLogger_PhaseTag(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelInfo, &buf).WithPhase("hierarchy")

	logger.Info("bucket done", "blocks", 12)

	out := buf.String()
	if !strings.Contains(out, "phase=hierarchy") {
		t.Errorf("phase tag missing: %s", out)
	}
	if !strings.Contains(out, `msg="bucket done"`) {
		t.Errorf("quoted message missing: %s", out)
	}
	if !strings.Contains(out, "blocks=12") {
		t.Errorf("key/value pair missing: %s", out)
	}
}

func TestLogger_WithCarriesPairs(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelInfo, &buf).With("k1", 7)

	logger.Info("assigned", "rows", 100)

	out := buf.String()
	if !strings.Contains(out, "k1=7") {
		t.Errorf("persistent pair missing: %s", out)
	}
	if !strings.Contains(out, "rows=100") {
		t.Errorf("call-site pair missing: %s", out)
	}
}

func TestLogger_DanglingKey(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelInfo, &buf)

	logger.Info("oops", "orphan")
	if !strings.Contains(buf.String(), "orphan=(missing)") {
		t.Errorf("dangling key not marked: %s", buf.String())
	}
}

func TestLogger_Formatted(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelDebug, &buf)

	logger.Debugf("split %d clusters", 3)
	if !strings.Contains(buf.String(), `msg="split 3 clusters"`) {
		t.Errorf("formatted message missing: %s", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"Warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
