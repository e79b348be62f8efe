// Package logger provides scoped, colored console logging.
package logger

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
)

// Logger writes timestamped, scope-prefixed log lines.
type Logger struct {
	scope string
}

// New creates a logger for the given scope, e.g. logger.New("QUEUE").
func New(scope string) *Logger {
	return &Logger{scope: scope}
}

func (l *Logger) printf(c *color.Color, level, format string, args ...any) {
	ts := time.Now().Format("2006-01-02 15:04:05")
	prefix := fmt.Sprintf("%s [%s] %s: ", ts, l.scope, level)
	c.Println(prefix + fmt.Sprintf(format, args...))
}

// Debug logs a debug message.
func (l *Logger) Debug(format string, args ...any) {
	l.printf(color.New(color.FgHiBlack), "DEBUG", format, args...)
}

// Info logs an informational message.
func (l *Logger) Info(format string, args ...any) {
	l.printf(color.New(color.FgCyan), "INFO", format, args...)
}

// Success logs a success message.
func (l *Logger) Success(format string, args ...any) {
	l.printf(color.New(color.FgGreen), "OK", format, args...)
}

// Warn logs a warning.
func (l *Logger) Warn(format string, args ...any) {
	l.printf(color.New(color.FgYellow), "WARN", format, args...)
}

// Error logs msg with err and returns the wrapped error so call sites can
// `return log.Error("...", err)`.
func (l *Logger) Error(msg string, err error) error {
	if err == nil {
		l.printf(color.New(color.FgRed), "ERROR", "%s", msg)
		return errors.New(msg)
	}
	l.printf(color.New(color.FgRed), "ERROR", "%s: %v", msg, err)
	return fmt.Errorf("%s: %w", msg, err)
}
