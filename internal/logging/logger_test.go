package logging

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestNewLoggerDefaultsToStderr(t *testing.T) {
	logger := NewLogger(nil)
	if logger == nil {
		t.Fatal("NewLogger(nil) returned nil")
	}
	if logger.level != LevelInfo {
		t.Errorf("level = %v, want LevelInfo", logger.level)
	}
	if logger.logger.Writer() != os.Stderr {
		t.Errorf("output = %v, want os.Stderr", logger.logger.Writer())
	}
}

func TestLoggerRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelWarn, Output: &buf})

	logger.Debug("should not appear")
	logger.Info("should not appear either")
	logger.Warn("checkout rejected", "spi", "0xAAAA")

	out := buf.String()
	if strings.Contains(out, "should not appear") {
		t.Errorf("logger emitted below-threshold messages: %q", out)
	}
	if !strings.Contains(out, "checkout rejected") {
		t.Errorf("logger dropped at-threshold message: %q", out)
	}
	if !strings.Contains(out, "spi=0xAAAA") {
		t.Errorf("logger did not format key/value args: %q", out)
	}
}

func TestLoggerPrintfStyle(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	logger.Errorf("flush failed for segment %d", 3)

	if !strings.Contains(buf.String(), "flush failed for segment 3") {
		t.Errorf("Errorf did not format message: %q", buf.String())
	}
}

func TestDefaultAndSetDefault(t *testing.T) {
	var buf bytes.Buffer
	custom := NewLogger(&Config{Level: LevelDebug, Output: &buf})

	original := Default()
	t.Cleanup(func() { SetDefault(original) })

	SetDefault(custom)
	Info("hello from package-level helper")

	if !strings.Contains(buf.String(), "hello from package-level helper") {
		t.Errorf("package-level Info did not route through custom default logger: %q", buf.String())
	}
}
