// Package logging provides simple leveled logging for the device manager.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
)

// Logger wraps stdlib log with level support
type Logger struct {
	logger  *log.Logger
	output  io.Writer
	level   LogLevel
	format  string
	sync    bool
	noColor bool
	fields  []any
	mu      sync.Mutex
}

var (
	defaultLogger *Logger
	mu            sync.RWMutex
)

// LogLevel represents the available log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Config holds logging configuration
type Config struct {
	Level  LogLevel
	Output io.Writer

	// Format selects the line encoding: "text" (default) or "json".
	Format string

	// Sync fsyncs Output after every write, if Output supports it.
	Sync bool

	// NoColor disables the ANSI color wrapped around the level prefix in
	// text format.
	NoColor bool
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Output: os.Stderr,
		Format: "text",
	}
}

// NewLogger creates a new logger
func NewLogger(config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	output := config.Output
	if output == nil {
		output = os.Stderr
	}
	format := config.Format
	if format == "" {
		format = "text"
	}
	return &Logger{
		logger:  log.New(output, "", log.LstdFlags),
		output:  output,
		level:   config.Level,
		format:  format,
		sync:    config.Sync,
		noColor: config.NoColor,
	}
}

// Default returns the default logger, creating it if necessary
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = NewLogger(nil)
	}
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(logger *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = logger
}

// WithLocation returns a child logger that tags every message with the
// device's (bus, address), so callers need not repeat the location on
// every call.
func (l *Logger) WithLocation(bus, address uint8) *Logger {
	return l.withFields("bus", bus, "address", address)
}

// WithTransfer returns a child logger tagging every message with a
// transfer ID and the operation it belongs to (e.g. "bulk-in", "control").
func (l *Logger) WithTransfer(id uint64, op string) *Logger {
	return l.withFields("transfer", id, "op", op)
}

// WithError returns a child logger that attaches err to every message.
func (l *Logger) WithError(err error) *Logger {
	return l.withFields("error", err)
}

func (l *Logger) withFields(kv ...any) *Logger {
	l.mu.Lock()
	fields := make([]any, 0, len(l.fields)+len(kv))
	fields = append(fields, l.fields...)
	fields = append(fields, kv...)
	child := &Logger{
		logger:  l.logger,
		output:  l.output,
		level:   l.level,
		format:  l.format,
		sync:    l.sync,
		noColor: l.noColor,
		fields:  fields,
	}
	l.mu.Unlock()
	return child
}

// formatArgs converts key-value pairs to a string
func formatArgs(args []any) string {
	if len(args) == 0 {
		return ""
	}
	var result string
	for i := 0; i < len(args); i += 2 {
		if i+1 < len(args) {
			if result != "" {
				result += " "
			}
			result += fmt.Sprintf("%v=%v", args[i], args[i+1])
		}
	}
	if result != "" {
		return " " + result
	}
	return ""
}

// levelName renders a LogLevel the way the text-format prefix does, minus
// the brackets, for use as the json format's "level" value.
func levelName(level LogLevel) string {
	switch level {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// levelColor returns the ANSI color code for level's prefix.
func levelColor(level LogLevel) string {
	switch level {
	case LevelDebug:
		return "36" // cyan
	case LevelInfo:
		return "32" // green
	case LevelWarn:
		return "33" // yellow
	case LevelError:
		return "31" // red
	default:
		return "0"
	}
}

func formatJSON(level LogLevel, msg string, args []any) string {
	obj := map[string]any{"level": levelName(level), "msg": msg}
	for i := 0; i+1 < len(args); i += 2 {
		obj[fmt.Sprintf("%v", args[i])] = args[i+1]
	}
	b, err := json.Marshal(obj)
	if err != nil {
		return msg
	}
	return string(b)
}

func (l *Logger) log(level LogLevel, prefix string, msg string, args ...any) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	allArgs := make([]any, 0, len(l.fields)+len(args))
	allArgs = append(allArgs, l.fields...)
	allArgs = append(allArgs, args...)

	if l.format == "json" {
		l.logger.Print(formatJSON(level, msg, allArgs))
	} else {
		if !l.noColor {
			prefix = fmt.Sprintf("\033[%sm%s\033[0m", levelColor(level), prefix)
		}
		l.logger.Printf("%s %s%s", prefix, msg, formatArgs(allArgs))
	}

	if l.sync {
		if s, ok := l.output.(interface{ Sync() error }); ok {
			_ = s.Sync()
		}
	}
}

func (l *Logger) Debug(msg string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", msg, args...)
}

func (l *Logger) Info(msg string, args ...any) {
	l.log(LevelInfo, "[INFO]", msg, args...)
}

func (l *Logger) Warn(msg string, args ...any) {
	l.log(LevelWarn, "[WARN]", msg, args...)
}

func (l *Logger) Error(msg string, args ...any) {
	l.log(LevelError, "[ERROR]", msg, args...)
}

// Printf-style logging
func (l *Logger) Debugf(format string, args ...any) {
	l.log(LevelDebug, "[DEBUG]", fmt.Sprintf(format, args...))
}

func (l *Logger) Infof(format string, args ...any) {
	l.log(LevelInfo, "[INFO]", fmt.Sprintf(format, args...))
}

func (l *Logger) Warnf(format string, args ...any) {
	l.log(LevelWarn, "[WARN]", fmt.Sprintf(format, args...))
}

func (l *Logger) Errorf(format string, args ...any) {
	l.log(LevelError, "[ERROR]", fmt.Sprintf(format, args...))
}

// Printf for compatibility
func (l *Logger) Printf(format string, args ...any) {
	l.Infof(format, args...)
}

// Global convenience functions
func Debug(msg string, args ...any) {
	Default().Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Default().Info(msg, args...)
}

func Warn(msg string, args ...any) {
	Default().Warn(msg, args...)
}

func Error(msg string, args ...any) {
	Default().Error(msg, args...)
}
