package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "warn")

	log.Tracef("trace message")
	log.Debugf("debug message")
	log.Infof("info message")
	log.Warnf("warn message")
	log.Errorf("error message")

	out := buf.String()
	if strings.Contains(out, "info message") {
		t.Errorf("info should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "warn message") || !strings.Contains(out, "error message") {
		t.Errorf("warn and error should pass: %q", out)
	}
}

func TestInvalidLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "loud")

	log.Debugf("hidden")
	log.Infof("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug should be filtered at the default level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("info should pass at the default level: %q", out)
	}
}

func TestFormatIncludesLevelLabel(t *testing.T) {
	var buf bytes.Buffer
	log := NewConsoleLogger(&buf, "debug")

	log.Warnf("count=%d", 3)

	out := buf.String()
	if !strings.Contains(out, "WARN") || !strings.Contains(out, "count=3") {
		t.Errorf("unexpected format: %q", out)
	}
	// Non-TTY writers stay uncolored.
	if strings.Contains(out, "\x1b[") {
		t.Errorf("buffer output should not contain ANSI codes: %q", out)
	}
}

func TestNilWriterDiscards(t *testing.T) {
	log := NewConsoleLogger(nil, "trace")
	log.Errorf("goes nowhere") // must not panic
}

func TestNopImplementsLogger(t *testing.T) {
	var _ Logger = Nop{}
	var _ Logger = &ConsoleLogger{}
}
