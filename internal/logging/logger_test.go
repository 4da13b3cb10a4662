package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoggerLevelsAndPrefix(t *testing.T) {
	defer SetLevel("info")

	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "recognizer").With("pass1")
	if log.Prefix() != "recognizer.pass1" {
		t.Errorf("Prefix = %q", log.Prefix())
	}

	SetLevel("warn")
	log.Info("hidden")
	log.Warn("shown", "word", 7)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info logged at warn level")
	}
	if !strings.Contains(out, "shown") || !strings.Contains(out, "word=7") || !strings.Contains(out, "stage=pass1") {
		t.Errorf("output = %q", out)
	}

	buf.Reset()
	SetLevel("bogus")
	log.Info("back to info")
	if !strings.Contains(buf.String(), "back to info") {
		t.Error("unknown level should fall back to info")
	}
}

func TestNilLoggerWith(t *testing.T) {
	var log *Logger
	log.With("x").Info("dropped")
}

func TestNestedWithJoinsStage(t *testing.T) {
	defer SetLevel("info")
	SetLevel("info")

	var buf bytes.Buffer
	log := NewLoggerTo(&buf, "recognizer").With("session").With("diacritics")
	if log.Prefix() != "recognizer.session.diacritics" {
		t.Errorf("Prefix = %q", log.Prefix())
	}
	log.Info("moved")

	out := buf.String()
	if n := strings.Count(out, "stage="); n != 1 {
		t.Errorf("stage attributes = %d, want 1: %q", n, out)
	}
	if !strings.Contains(out, "stage=session.diacritics") || strings.Count(out, "component=") != 1 {
		t.Errorf("output = %q", out)
	}
}
