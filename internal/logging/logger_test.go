package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   string
	}{
		{
			name:   "default config",
			config: nil,
			want:   "text",
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
			want: "json",
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
			want: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
			if logger.format != tt.want {
				t.Errorf("format = %q, want %q", logger.format, tt.want)
			}
		})
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Format: "json", Output: &buf})

	logger.Info("device attached", "bus", 1)

	output := buf.String()
	if !strings.Contains(output, `"msg":"device attached"`) {
		t.Errorf("expected msg field in json output, got: %s", output)
	}
	if !strings.Contains(output, `"bus":1`) {
		t.Errorf("expected bus field in json output, got: %s", output)
	}
}

func TestLoggerWithLocation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, NoColor: true})

	locLogger := logger.WithLocation(1, 5)
	locLogger.Info("test message")

	output := buf.String()
	if !strings.Contains(output, "bus=1") {
		t.Errorf("Expected bus=1 in output, got: %s", output)
	}
	if !strings.Contains(output, "address=5") {
		t.Errorf("Expected address=5 in output, got: %s", output)
	}

	// Fields carry forward into a further child logger.
	buf.Reset()
	transferLogger := locLogger.WithTransfer(7, "bulk-in")
	transferLogger.Info("rx completed")

	output = buf.String()
	if !strings.Contains(output, "bus=1") {
		t.Errorf("Expected bus=1 in transfer logger output, got: %s", output)
	}
	if !strings.Contains(output, "transfer=7") {
		t.Errorf("Expected transfer=7 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=bulk-in") {
		t.Errorf("Expected op=bulk-in in output, got: %s", output)
	}
}

func TestLoggerWithTransfer(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, NoColor: true})

	transferLogger := logger.WithTransfer(123, "control")
	transferLogger.Debug("submitting")

	output := buf.String()
	if !strings.Contains(output, "transfer=123") {
		t.Errorf("Expected transfer=123 in output, got: %s", output)
	}
	if !strings.Contains(output, "op=control") {
		t.Errorf("Expected op=control in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelDebug, Format: "text", Output: &buf, NoColor: true})

	testErr := errors.New("test error")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("operation failed")

	output := buf.String()
	if !strings.Contains(output, "error=test error") {
		t.Errorf("Expected error=test error in output, got: %s", output)
	}
}

func TestLoggerColorDefaultsOn(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&Config{Level: LevelInfo, Format: "text", Output: &buf})

	logger.Info("colored message")

	if !strings.Contains(buf.String(), "\033[") {
		t.Error("expected an ANSI escape sequence when NoColor is false")
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		NoColor: true,
	}

	SetDefault(NewLogger(config))

	// Test debug message (should appear since we set LevelDebug)
	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("Expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("Expected key=value, got: %s", output)
	}

	// Test info message
	buf.Reset()
	Info("info message")
	output = buf.String()
	if !strings.Contains(output, "info message") {
		t.Errorf("Expected info message, got: %s", output)
	}

	// Test warn message
	buf.Reset()
	Warn("warning message")
	output = buf.String()
	if !strings.Contains(output, "warning message") {
		t.Errorf("Expected warning message, got: %s", output)
	}

	// Test error message
	buf.Reset()
	Error("error message")
	output = buf.String()
	if !strings.Contains(output, "error message") {
		t.Errorf("Expected error message, got: %s", output)
	}
}
